package main

import (
	"context"
	"testing"

	"github.com/rl1809/planet-auction/internal/adapter/storage"
	"github.com/rl1809/planet-auction/internal/core/domain"
	"github.com/rl1809/planet-auction/internal/core/retry"
	"github.com/rl1809/planet-auction/internal/core/service"
)

func TestAudit_MemoryStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAdapter()
	seeds := service.NewSeedService(store, retry.Policy{})
	for _, name := range []string{"Mercury", "Venus", "Mars"} {
		if _, err := seeds.InsertPlanet(ctx, name, stressPlanetValue); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := seeds.BatchInsertPlayers(ctx, 1, 20); err != nil {
		t.Fatal(err)
	}

	before, err := store.Totals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	report, err := service.NewAuctionService(store, service.Options{SamplePercent: 100, MaxInFlight: 8}).RunAuction(ctx, 50, false)
	if err != nil {
		t.Fatal(err)
	}
	after, err := store.Totals(ctx)
	if err != nil {
		t.Fatal(err)
	}

	for _, c := range audit(before, after, report) {
		if !c.ok {
			t.Errorf("%s: expected %d, got %d", c.name, c.want, c.got)
		}
	}
	if report.Purchased == 0 {
		t.Error("expected some purchases")
	}
}

func TestAudit_DetectsMismatch(t *testing.T) {
	before := domain.Totals{SharesAvailable: 10, PlanetDollars: 100}
	after := domain.Totals{SharesAvailable: 9, PlanetDollars: 90, LedgerRows: 1, LedgerAmount: 5}
	report := domain.AuctionReport{Requested: 1, Purchased: 1}

	failed := map[string]bool{}
	for _, c := range audit(before, after, report) {
		if !c.ok {
			failed[c.name] = true
		}
	}
	if len(failed) != 1 || !failed["dollars spent match the ledger"] {
		t.Errorf("expected only the ledger check to fail, got %v", failed)
	}
}
