package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/planet-auction/internal/core/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSetIdempotency_Success(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	// First call should succeed
	ok, err := adapter.SetIdempotency(ctx, "idempotency:purchase:req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected first call to succeed")
	}

	// Second call should fail (key exists)
	ok, err = adapter.SetIdempotency(ctx, "idempotency:purchase:req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second call to fail")
	}

	if ttl := client.TTL(ctx, "idempotency:purchase:req-1").Val(); ttl <= 0 || ttl > idempotencyKeyTTL {
		t.Errorf("expected ttl within %v, got %v", idempotencyKeyTTL, ttl)
	}
}

func TestReleaseIdempotency(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	key := "idempotency:purchase:req-3"

	if ok, err := adapter.SetIdempotency(ctx, key); err != nil || !ok {
		t.Fatalf("expected first call to succeed, got %v, %v", ok, err)
	}
	if err := adapter.ReleaseIdempotency(ctx, key); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if ok, err := adapter.SetIdempotency(ctx, key); err != nil || !ok {
		t.Errorf("expected the released key to be free, got %v, %v", ok, err)
	}

	// Releasing a missing key is not an error.
	if err := adapter.ReleaseIdempotency(ctx, "idempotency:purchase:missing"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSetIdempotency_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.SetIdempotency(ctx, "idempotency:purchase:req-2")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	// Only one should succeed
	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}

func TestAuctionStats_Empty(t *testing.T) {
	adapter := NewRedisAdapter(getRedisClient(t))

	stats, err := adapter.AuctionStats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats != (domain.AuctionStats{}) {
		t.Errorf("expected zero stats, got %+v", stats)
	}
}

func TestRecordAuction_Accumulates(t *testing.T) {
	adapter := NewRedisAdapter(getRedisClient(t))
	ctx := context.Background()

	reports := []domain.AuctionReport{
		{Requested: 10, Purchased: 7, Failed: 3},
		{Requested: 5, Purchased: 5},
	}
	for _, r := range reports {
		if err := adapter.RecordAuction(ctx, r); err != nil {
			t.Fatalf("RecordAuction failed: %v", err)
		}
	}

	stats, err := adapter.AuctionStats(ctx)
	if err != nil {
		t.Fatalf("AuctionStats failed: %v", err)
	}
	if stats.Runs != 2 {
		t.Errorf("expected 2 runs, got %d", stats.Runs)
	}
	if stats.Requested != 15 || stats.Purchased != 12 || stats.Failed != 3 {
		t.Errorf("unexpected totals: %+v", stats)
	}
	if stats.LastRun.IsZero() {
		t.Error("expected last run to be set")
	}
}

func TestRecordAuction_Concurrent(t *testing.T) {
	adapter := NewRedisAdapter(getRedisClient(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	runs := 20
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := adapter.RecordAuction(ctx, domain.AuctionReport{Requested: 2, Purchased: 1, Failed: 1}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	stats, err := adapter.AuctionStats(ctx)
	if err != nil {
		t.Fatalf("AuctionStats failed: %v", err)
	}
	if stats.Runs != int64(runs) || stats.Purchased != int64(runs) || stats.Requested != int64(2*runs) {
		t.Errorf("unexpected totals after concurrent runs: %+v", stats)
	}
}
