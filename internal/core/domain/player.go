package domain

// StartingPlanetDollars is the balance a new player is created with.
const StartingPlanetDollars int64 = 1000000

type Player struct {
	ID            string
	Name          string
	PlanetDollars int64
}

func (p Player) CanAfford(amount int64) bool {
	return p.PlanetDollars >= amount
}
