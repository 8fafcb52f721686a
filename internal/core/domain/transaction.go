package domain

import "time"

// Transaction is one ledger row. Rows are append-only; Timestamp is assigned
// by the store at commit.
type Transaction struct {
	PlanetID  int64
	PlayerID  string
	Amount    int64
	Timestamp time.Time
}

// Totals is an audit snapshot over all three tables.
type Totals struct {
	LedgerRows       int64
	LedgerAmount     int64
	SharesAvailable  int64
	PlanetDollars    int64
	NegativeShares   int64
	NegativeBalances int64
}
