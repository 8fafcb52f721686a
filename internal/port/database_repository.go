package port

import (
	"context"
	"time"

	"github.com/rl1809/planet-auction/internal/core/domain"
)

// AuctionStore is the relational store the auction runs against. Every error
// it returns wraps a *domain.StoreError.
type AuctionStore interface {
	// CreateSchema creates the database and tables; existing ones are left alone
	CreateSchema(ctx context.Context) error

	// InsertPlanets writes all planets in one transaction
	InsertPlanets(ctx context.Context, planets []domain.Planet) error

	// InsertPlayers writes all players in one transaction
	InsertPlayers(ctx context.Context, players []domain.Player) error

	// SamplePlanet returns one planet with shares left from a ~percent sample, or nil
	SamplePlanet(ctx context.Context, percent float64) (*domain.Planet, error)

	// SamplePlayer returns one player with at least minBalance from a ~percent sample, or nil
	SamplePlayer(ctx context.Context, percent float64, minBalance int64) (*domain.Player, error)

	// GetPlayer reads a player by ID, nil if missing
	GetPlayer(ctx context.Context, playerID string) (*domain.Player, error)

	// Totals aggregates the ledger, inventory and balances for auditing
	Totals(ctx context.Context) (domain.Totals, error)

	// RunInTransaction runs fn in one read-write transaction and commits it
	// unless fn fails. It does not retry; a commit conflict is returned as a
	// transient StoreError. The returned time is the commit timestamp.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx SettlementTx) error) (time.Time, error)

	Close() error
}

// SettlementTx is the view of the store inside RunInTransaction.
type SettlementTx interface {
	GetPlanet(ctx context.Context, planetID int64) (*domain.Planet, error)

	GetPlayer(ctx context.Context, playerID string) (*domain.Player, error)

	// DecrementShares takes one share from the planet, false if none are left
	DecrementShares(ctx context.Context, planetID int64) (bool, error)

	// DebitPlayer subtracts amount, false if the balance would go negative
	DebitPlayer(ctx context.Context, playerID string, amount int64) (bool, error)

	// AppendTransaction inserts a ledger row stamped with the commit time
	AppendTransaction(ctx context.Context, record domain.Transaction) error
}
