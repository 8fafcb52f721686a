// Command stress_test runs one auction against the configured store and
// audits the three tables before and after it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/planet-auction/internal/adapter/storage"
	"github.com/rl1809/planet-auction/internal/config"
	"github.com/rl1809/planet-auction/internal/core/domain"
	"github.com/rl1809/planet-auction/internal/core/service"
)

const stressPlanetValue = 5_000_000_000_000

type check struct {
	name string
	ok   bool
	got  int64
	want int64
}

func main() {
	shares := flag.Int("shares", 500, "number of concurrent purchases")
	seedPlanets := flag.Int("seed-planets", 0, "planets to insert before the run")
	seedPlayers := flag.Int("seed-players", 0, "players to insert before the run")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	config.SetupLogging(cfg.LogLevel)

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	seeds := service.NewSeedService(store, cfg.RetryPolicy())
	if *seedPlanets > 0 || *seedPlayers > 0 || cfg.Store == config.StoreMemory {
		if err := seeds.CreateDatabase(ctx); err != nil {
			log.Fatalf("failed to create schema: %v", err)
		}
	}
	for i := 0; i < *seedPlanets; i++ {
		if _, err := seeds.InsertPlanet(ctx, fmt.Sprintf("Stress-%d", i), stressPlanetValue); err != nil {
			log.Fatalf("failed to seed planet: %v", err)
		}
	}
	if *seedPlayers > 0 {
		if _, err := seeds.BatchInsertPlayers(ctx, 1, *seedPlayers); err != nil {
			log.Fatalf("failed to seed players: %v", err)
		}
	}

	before, err := store.Totals(ctx)
	if err != nil {
		log.Fatalf("failed to read totals: %v", err)
	}

	auctions := service.NewAuctionService(store, service.Options{
		SamplePercent: cfg.SamplePercent,
		PricePolicy:   cfg.Policy(),
		Retry:         cfg.RetryPolicy(),
		MaxInFlight:   cfg.MaxInFlight,
		MaxShares:     cfg.MaxShares,
	})
	report, err := auctions.RunAuction(ctx, *shares, false)
	if err != nil {
		log.Fatalf("auction failed: %v", err)
	}

	after, err := store.Totals(ctx)
	if err != nil {
		log.Fatalf("failed to read totals: %v", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Store:            %s\n", cfg.Store)
	fmt.Printf("Requested:        %d\n", report.Requested)
	fmt.Printf("Purchased:        %d\n", report.Purchased)
	fmt.Printf("No match:         %d\n", report.NoMatch)
	fmt.Printf("Stale match:      %d\n", report.StaleMatch)
	fmt.Printf("Transient:        %d\n", report.Transient)
	fmt.Printf("Fatal:            %d\n", report.Fatal)
	fmt.Printf("Ledger amount:    %s\n", humanize.Comma(after.LedgerAmount-before.LedgerAmount))
	fmt.Printf("Duration:         %v\n", report.Elapsed)
	fmt.Println("==========================================")

	failed := false
	for _, c := range audit(before, after, report) {
		if c.ok {
			fmt.Printf("PASS: %s\n", c.name)
		} else {
			failed = true
			fmt.Printf("FAIL: %s: expected %d, got %d\n", c.name, c.want, c.got)
		}
	}
	if failed {
		os.Exit(1)
	}
}

// audit assumes nothing else writes to the store during the run.
func audit(before, after domain.Totals, report domain.AuctionReport) []check {
	purchased := int64(report.Purchased)
	spent := before.PlanetDollars - after.PlanetDollars
	ledger := after.LedgerAmount - before.LedgerAmount

	checks := []check{
		{name: "every attempt reported", got: int64(report.Purchased + report.Failed), want: int64(report.Requested)},
		{name: "one ledger row per purchase", got: after.LedgerRows - before.LedgerRows, want: purchased},
		{name: "one share sold per purchase", got: before.SharesAvailable - after.SharesAvailable, want: purchased},
		{name: "dollars spent match the ledger", got: spent, want: ledger},
		{name: "no negative shares", got: after.NegativeShares, want: 0},
		{name: "no negative balances", got: after.NegativeBalances, want: 0},
	}
	for i := range checks {
		checks[i].ok = checks[i].got == checks[i].want
	}
	return checks
}
