package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/rl1809/planet-auction/internal/adapter/storage"
	"github.com/rl1809/planet-auction/internal/core/domain"
	"github.com/rl1809/planet-auction/internal/core/retry"
	"github.com/rl1809/planet-auction/internal/port"
)

func newStore(t *testing.T, planets []domain.Planet, players []domain.Player) *storage.MemoryAdapter {
	t.Helper()
	store := storage.NewMemoryAdapter()
	ctx := context.Background()
	if err := store.InsertPlanets(ctx, planets); err != nil {
		t.Fatalf("insert planets: %v", err)
	}
	if err := store.InsertPlayers(ctx, players); err != nil {
		t.Fatalf("insert players: %v", err)
	}
	return store
}

// fullSample makes the memory store's sampling deterministic.
func fullSample(opts Options) Options {
	opts.SamplePercent = 100
	return opts
}

// flakyStore fails the first failures transactions with a transient error.
type flakyStore struct {
	*storage.MemoryAdapter
	failures int32
	attempts atomic.Int32
}

func (f *flakyStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx port.SettlementTx) error) (time.Time, error) {
	if f.attempts.Add(1) <= f.failures {
		return time.Time{}, domain.NewStoreError("commit", domain.KindTransient, errors.New("transaction aborted"))
	}
	return f.MemoryAdapter.RunInTransaction(ctx, fn)
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestRunAuction_SingleMatch(t *testing.T) {
	store := newStore(t,
		[]domain.Planet{{ID: 1, Name: "Mars", Value: 100, SharesAvailable: 10}},
		[]domain.Player{{ID: "p1", Name: "Alice", PlanetDollars: 1000}},
	)
	svc := NewAuctionService(store, fullSample(Options{}))

	report, err := svc.RunAuction(context.Background(), 1, true)
	if err != nil {
		t.Fatalf("RunAuction failed: %v", err)
	}

	if report.Requested != 1 || report.Purchased != 1 || report.Failed != 0 {
		t.Errorf("unexpected report: %+v", report)
	}

	planet, _ := store.Planet(1)
	if planet.SharesAvailable != 9 {
		t.Errorf("expected 9 shares, got %d", planet.SharesAvailable)
	}
	player, _ := store.GetPlayer(context.Background(), "p1")
	if player.PlanetDollars != 990 {
		t.Errorf("expected balance 990, got %d", player.PlanetDollars)
	}

	want := []domain.Transaction{{PlanetID: 1, PlayerID: "p1", Amount: 10}}
	if diff := cmp.Diff(want, store.Transactions(), cmpopts.IgnoreFields(domain.Transaction{}, "Timestamp")); diff != "" {
		t.Errorf("ledger mismatch (-want +got):\n%s", diff)
	}
}

func TestRunAuction_SoldOutPlanet(t *testing.T) {
	store := newStore(t,
		[]domain.Planet{{ID: 1, Name: "Pluto", Value: 100, SharesAvailable: 0}},
		[]domain.Player{{ID: "p1", Name: "Alice", PlanetDollars: 1000}},
	)
	svc := NewAuctionService(store, fullSample(Options{}))

	report, err := svc.RunAuction(context.Background(), 1, false)
	if err != nil {
		t.Fatalf("RunAuction failed: %v", err)
	}

	if report.Purchased != 0 || report.Failed != 1 || report.NoMatch != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	player, _ := store.GetPlayer(context.Background(), "p1")
	if player.PlanetDollars != 1000 {
		t.Errorf("expected balance unchanged, got %d", player.PlanetDollars)
	}
	if n := len(store.Transactions()); n != 0 {
		t.Errorf("expected empty ledger, got %d rows", n)
	}
}

func TestRunAuction_ZeroShares(t *testing.T) {
	svc := NewAuctionService(storage.NewMemoryAdapter(), Options{})

	report, err := svc.RunAuction(context.Background(), 0, false)
	if err != nil {
		t.Fatalf("RunAuction failed: %v", err)
	}
	if report.Requested != 0 || report.Purchased != 0 || report.Failed != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}
}

func TestRunAuction_NegativeShares(t *testing.T) {
	svc := NewAuctionService(storage.NewMemoryAdapter(), Options{})

	_, err := svc.RunAuction(context.Background(), -1, false)
	if !errors.Is(err, ErrInvalidShareCount) {
		t.Errorf("expected ErrInvalidShareCount, got: %v", err)
	}
}

func TestRunAuction_AboveMaxShares(t *testing.T) {
	svc := NewAuctionService(storage.NewMemoryAdapter(), Options{MaxShares: 10})

	if _, err := svc.RunAuction(context.Background(), 10, false); err != nil {
		t.Fatalf("expected the limit itself to run, got: %v", err)
	}
	_, err := svc.RunAuction(context.Background(), 1<<45, false)
	if !errors.Is(err, ErrInvalidShareCount) {
		t.Errorf("expected ErrInvalidShareCount, got: %v", err)
	}
}

func TestRunAuction_Concurrent(t *testing.T) {
	initialShares := int64(20)
	totalUnits := 50

	for _, maxInFlight := range []int{0, 4} {
		store := newStore(t,
			[]domain.Planet{{ID: 1, Name: "Jupiter", Value: 20, SharesAvailable: initialShares}},
			[]domain.Player{
				{ID: "p1", Name: "Alice", PlanetDollars: 1000},
				{ID: "p2", Name: "Bob", PlanetDollars: 1000},
				{ID: "p3", Name: "Carol", PlanetDollars: 1000},
			},
		)
		svc := NewAuctionService(store, fullSample(Options{MaxInFlight: maxInFlight}))
		ctx := context.Background()

		before, _ := store.Totals(ctx)
		report, err := svc.RunAuction(ctx, totalUnits, false)
		if err != nil {
			t.Fatalf("RunAuction failed: %v", err)
		}
		after, _ := store.Totals(ctx)

		if report.Requested != totalUnits {
			t.Errorf("expected %d attempts, got %d", totalUnits, report.Requested)
		}
		if report.Purchased != int(initialShares) {
			t.Errorf("expected %d purchases, got %d", initialShares, report.Purchased)
		}
		if report.Purchased+report.Failed != totalUnits {
			t.Errorf("purchased + failed = %d, want %d", report.Purchased+report.Failed, totalUnits)
		}
		if after.SharesAvailable != 0 || after.NegativeShares != 0 {
			t.Errorf("expected 0 shares and none negative, got %+v", after)
		}
		if after.LedgerRows != int64(report.Purchased) {
			t.Errorf("expected %d ledger rows, got %d", report.Purchased, after.LedgerRows)
		}
		if spent := before.PlanetDollars - after.PlanetDollars; spent != after.LedgerAmount {
			t.Errorf("dollars spent %d does not match ledger amount %d", spent, after.LedgerAmount)
		}
	}
}

func TestRunAuction_ContextCancelledAfterLaunch(t *testing.T) {
	store := newStore(t,
		[]domain.Planet{{ID: 1, Name: "Mars", Value: 100, SharesAvailable: 10}},
		[]domain.Player{{ID: "p1", Name: "Alice", PlanetDollars: 1000}},
	)
	svc := NewAuctionService(store, fullSample(Options{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := svc.RunAuction(ctx, 3, false)
	if err != nil {
		t.Fatalf("RunAuction failed: %v", err)
	}
	if report.Purchased != 3 {
		t.Errorf("expected launched units to finish, got %+v", report)
	}
}

func TestRunUnit_RetriesTransient(t *testing.T) {
	store := &flakyStore{
		MemoryAdapter: newStore(t,
			[]domain.Planet{{ID: 1, Name: "Mars", Value: 100, SharesAvailable: 10}},
			[]domain.Player{{ID: "p1", Name: "Alice", PlanetDollars: 1000}},
		),
		failures: 2,
	}
	svc := NewAuctionService(store, fullSample(Options{
		Retry: retry.Policy{FirstRetryDelay: time.Millisecond, DelayMultiplier: 2, MaxRetries: 2, Sleep: noSleep},
	}))

	st, err := svc.RunUnit(context.Background())
	if err != nil {
		t.Fatalf("expected success after retries, got: %v", err)
	}
	if st.Price != 10 || st.BalanceAfter != 990 {
		t.Errorf("unexpected settlement: %+v", st)
	}
	if got := store.attempts.Load(); got != 3 {
		t.Errorf("expected 3 transaction attempts, got %d", got)
	}
	if n := len(store.Transactions()); n != 1 {
		t.Errorf("expected exactly one ledger row, got %d", n)
	}
}

func TestRunAuction_TransientWithoutRetries(t *testing.T) {
	store := &flakyStore{
		MemoryAdapter: newStore(t,
			[]domain.Planet{{ID: 1, Name: "Mars", Value: 100, SharesAvailable: 10}},
			[]domain.Player{{ID: "p1", Name: "Alice", PlanetDollars: 1000}},
		),
		failures: 1,
	}
	svc := NewAuctionService(store, fullSample(Options{}))

	report, err := svc.RunAuction(context.Background(), 1, false)
	if err != nil {
		t.Fatalf("RunAuction failed: %v", err)
	}
	if report.Failed != 1 || report.Transient != 1 {
		t.Errorf("expected one transient failure, got %+v", report)
	}
	if got := store.attempts.Load(); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestRunUnit_NoMatchNotRetried(t *testing.T) {
	store := &flakyStore{MemoryAdapter: storage.NewMemoryAdapter()}
	svc := NewAuctionService(store, fullSample(Options{
		Retry: retry.Policy{MaxRetries: 5, Sleep: noSleep},
	}))

	_, err := svc.RunUnit(context.Background())
	if !errors.Is(err, ErrNoMatch) {
		t.Errorf("expected ErrNoMatch, got: %v", err)
	}
	if got := store.attempts.Load(); got != 0 {
		t.Errorf("expected no transaction, got %d", got)
	}
}

func TestReduceOutcomes(t *testing.T) {
	transient := domain.NewStoreError("commit", domain.KindTransient, errors.New("aborted"))
	fatal := domain.NewStoreError("commit", domain.KindFatal, errors.New("denied"))

	got := reduceOutcomes([]error{
		nil,
		nil,
		ErrNoMatch,
		ErrStaleMatch,
		ErrInvalidMatch,
		transient,
		fatal,
	})

	want := domain.AuctionReport{
		Requested:  7,
		Purchased:  2,
		Failed:     5,
		NoMatch:    1,
		StaleMatch: 2,
		Transient:  1,
		Fatal:      1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}
