package domain

// StartingSharesAvailable is the share supply every seeded planet starts with.
const StartingSharesAvailable int64 = 100000000000

type Planet struct {
	ID              int64
	Name            string
	Value           int64
	SharesAvailable int64 // never negative, only decreases
}

// CostPerShare is floor(Value / SharesAvailable), derived from the current
// inventory. It is zero once the planet has no shares left.
func (p Planet) CostPerShare() int64 {
	if p.SharesAvailable <= 0 {
		return 0
	}
	return p.Value / p.SharesAvailable
}

func (p Planet) HasShares() bool {
	return p.SharesAvailable > 0
}
