package domain

import (
	"fmt"
	"time"
)

type PricePolicy string

const (
	// PriceAtMatch debits the cost-per-share observed when the match was made.
	PriceAtMatch PricePolicy = "match"
	// PriceAtCommit re-reads the planet inside the settlement transaction and
	// debits the cost computed from its current inventory.
	PriceAtCommit PricePolicy = "commit"
)

func ParsePricePolicy(s string) (PricePolicy, error) {
	switch p := PricePolicy(s); p {
	case PriceAtMatch, PriceAtCommit:
		return p, nil
	case "":
		return PriceAtMatch, nil
	}
	return "", fmt.Errorf("unknown price policy %q", s)
}

// Match pairs a seller planet with a buyer player at the price captured
// during selection.
type Match struct {
	Planet       Planet
	Player       Player
	CostPerShare int64
}

type Settlement struct {
	Match        Match
	Price        int64
	BalanceAfter int64
	CommittedAt  time.Time
}

type AuctionReport struct {
	Requested  int
	Purchased  int
	Failed     int
	NoMatch    int
	StaleMatch int
	Transient  int
	Fatal      int
	Elapsed    time.Duration
}

type AuctionStats struct {
	Runs      int64
	Requested int64
	Purchased int64
	Failed    int64
	LastRun   time.Time
}
