package storage

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/uuid"

	"github.com/rl1809/planet-auction/internal/core/domain"
	"github.com/rl1809/planet-auction/internal/port"
)

// The checks below run against every store. They only touch rows they insert
// themselves, so they can share a database with other data.

var errAbort = errors.New("abort")

func seedRows(t *testing.T, store port.AuctionStore, shares, dollars int64) (domain.Planet, domain.Player) {
	t.Helper()
	ctx := context.Background()

	planet := domain.Planet{
		ID:              rand.Int63n(1<<31-1) + 1,
		Name:            "Test-" + uuid.NewString()[:8],
		Value:           100,
		SharesAvailable: shares,
	}
	player := domain.Player{
		ID:            uuid.NewString(),
		Name:          "Player-" + uuid.NewString()[:8],
		PlanetDollars: dollars,
	}
	if err := store.InsertPlanets(ctx, []domain.Planet{planet}); err != nil {
		t.Fatalf("InsertPlanets failed: %v", err)
	}
	if err := store.InsertPlayers(ctx, []domain.Player{player}); err != nil {
		t.Fatalf("InsertPlayers failed: %v", err)
	}
	return planet, player
}

func readRows(t *testing.T, store port.AuctionStore, planetID int64, playerID string) (*domain.Planet, *domain.Player) {
	t.Helper()
	var planet *domain.Planet
	var player *domain.Player
	_, err := store.RunInTransaction(context.Background(), func(ctx context.Context, tx port.SettlementTx) error {
		var err error
		if planet, err = tx.GetPlanet(ctx, planetID); err != nil {
			return err
		}
		player, err = tx.GetPlayer(ctx, playerID)
		return err
	})
	if err != nil {
		t.Fatalf("read rows failed: %v", err)
	}
	return planet, player
}

func runStoreSuite(t *testing.T, store port.AuctionStore) {
	t.Run("CreateSchemaIdempotent", func(t *testing.T) {
		ctx := context.Background()
		if err := store.CreateSchema(ctx); err != nil {
			t.Fatalf("first CreateSchema failed: %v", err)
		}
		if err := store.CreateSchema(ctx); err != nil {
			t.Fatalf("second CreateSchema failed: %v", err)
		}
	})

	t.Run("Settlement", func(t *testing.T) {
		ctx := context.Background()
		planet, player := seedRows(t, store, 10, 1000)
		before, err := store.Totals(ctx)
		if err != nil {
			t.Fatalf("Totals failed: %v", err)
		}

		committedAt, err := store.RunInTransaction(ctx, func(ctx context.Context, tx port.SettlementTx) error {
			if ok, err := tx.DecrementShares(ctx, planet.ID); err != nil || !ok {
				t.Fatalf("DecrementShares = %v, %v", ok, err)
			}
			if ok, err := tx.DebitPlayer(ctx, player.ID, 10); err != nil || !ok {
				t.Fatalf("DebitPlayer = %v, %v", ok, err)
			}
			return tx.AppendTransaction(ctx, domain.Transaction{PlanetID: planet.ID, PlayerID: player.ID, Amount: 10})
		})
		if err != nil {
			t.Fatalf("RunInTransaction failed: %v", err)
		}
		if committedAt.IsZero() {
			t.Error("expected a commit timestamp")
		}

		gotPlanet, gotPlayer := readRows(t, store, planet.ID, player.ID)
		if gotPlanet.SharesAvailable != 9 {
			t.Errorf("expected 9 shares, got %d", gotPlanet.SharesAvailable)
		}
		if gotPlayer.PlanetDollars != 990 {
			t.Errorf("expected balance 990, got %d", gotPlayer.PlanetDollars)
		}

		after, err := store.Totals(ctx)
		if err != nil {
			t.Fatalf("Totals failed: %v", err)
		}
		if after.LedgerRows-before.LedgerRows < 1 {
			t.Errorf("expected the ledger to grow, rows %d -> %d", before.LedgerRows, after.LedgerRows)
		}
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		ctx := context.Background()
		planet, player := seedRows(t, store, 5, 500)

		_, err := store.RunInTransaction(ctx, func(ctx context.Context, tx port.SettlementTx) error {
			if _, err := tx.DecrementShares(ctx, planet.ID); err != nil {
				return err
			}
			if _, err := tx.DebitPlayer(ctx, player.ID, 20); err != nil {
				return err
			}
			return errAbort
		})
		if !errors.Is(err, errAbort) {
			t.Fatalf("expected errAbort, got %v", err)
		}

		gotPlanet, gotPlayer := readRows(t, store, planet.ID, player.ID)
		if gotPlanet.SharesAvailable != 5 || gotPlayer.PlanetDollars != 500 {
			t.Errorf("expected rows unchanged, got shares %d balance %d",
				gotPlanet.SharesAvailable, gotPlayer.PlanetDollars)
		}
	})

	t.Run("ConditionalUpdates", func(t *testing.T) {
		ctx := context.Background()
		planet, player := seedRows(t, store, 0, 5)

		_, err := store.RunInTransaction(ctx, func(ctx context.Context, tx port.SettlementTx) error {
			ok, err := tx.DecrementShares(ctx, planet.ID)
			if err != nil {
				return err
			}
			if ok {
				t.Error("expected decrement of a sold out planet to fail")
			}
			ok, err = tx.DebitPlayer(ctx, player.ID, 6)
			if err != nil {
				return err
			}
			if ok {
				t.Error("expected debit beyond the balance to fail")
			}
			ok, err = tx.DebitPlayer(ctx, player.ID, 0)
			if err != nil {
				return err
			}
			if !ok {
				t.Error("expected a zero debit to match the row")
			}
			return errAbort
		})
		if !errors.Is(err, errAbort) {
			t.Fatalf("expected errAbort, got %v", err)
		}
	})

	t.Run("MissingRows", func(t *testing.T) {
		ctx := context.Background()
		player, err := store.GetPlayer(ctx, "missing-"+uuid.NewString())
		if err != nil {
			t.Fatalf("GetPlayer failed: %v", err)
		}
		if player != nil {
			t.Errorf("expected nil player, got %+v", player)
		}

		gotPlanet, _ := readRows(t, store, -1, "missing")
		if gotPlanet != nil {
			t.Errorf("expected nil planet, got %+v", gotPlanet)
		}
	})

	t.Run("SampleFullPercent", func(t *testing.T) {
		ctx := context.Background()
		seedRows(t, store, 3, 2000)

		planet, err := store.SamplePlanet(ctx, 100)
		if err != nil {
			t.Fatalf("SamplePlanet failed: %v", err)
		}
		if planet == nil || planet.SharesAvailable <= 0 {
			t.Fatalf("expected a planet with shares, got %+v", planet)
		}

		player, err := store.SamplePlayer(ctx, 100, 1500)
		if err != nil {
			t.Fatalf("SamplePlayer failed: %v", err)
		}
		if player == nil || player.PlanetDollars < 1500 {
			t.Fatalf("expected a player with at least 1500, got %+v", player)
		}
	})
}
