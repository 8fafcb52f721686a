package port

import (
	"context"

	"github.com/rl1809/planet-auction/internal/core/domain"
)

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency removes a key set by SetIdempotency
	ReleaseIdempotency(ctx context.Context, key string) error

	// RecordAuction adds a finished auction run to the cumulative statistics
	RecordAuction(ctx context.Context, report domain.AuctionReport) error

	// AuctionStats returns the cumulative statistics of all recorded runs
	AuctionStats(ctx context.Context) (domain.AuctionStats, error)
}
