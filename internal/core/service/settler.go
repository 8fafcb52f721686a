package service

import (
	"context"
	"fmt"

	"github.com/rl1809/planet-auction/internal/core/domain"
	"github.com/rl1809/planet-auction/internal/port"
)

// Settler applies a match: one share off the planet, the price off the
// player, one ledger row. All three happen in one store transaction.
type Settler struct {
	store  port.AuctionStore
	policy domain.PricePolicy
}

func NewSettler(store port.AuctionStore, policy domain.PricePolicy) *Settler {
	if policy == "" {
		policy = domain.PriceAtMatch
	}
	return &Settler{store: store, policy: policy}
}

func (s *Settler) Settle(ctx context.Context, m domain.Match) (domain.Settlement, error) {
	if m.Planet.ID == 0 || m.Player.ID == "" {
		return domain.Settlement{}, ErrInvalidMatch
	}

	var settlement domain.Settlement
	committedAt, err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx port.SettlementTx) error {
		price := m.CostPerShare
		balance := m.Player.PlanetDollars

		if s.policy == domain.PriceAtCommit {
			planet, err := tx.GetPlanet(ctx, m.Planet.ID)
			if err != nil {
				return fmt.Errorf("read planet: %w", err)
			}
			if planet == nil || !planet.HasShares() {
				return fmt.Errorf("%w: planet %d has no shares left", ErrStaleMatch, m.Planet.ID)
			}
			price = planet.CostPerShare()

			player, err := tx.GetPlayer(ctx, m.Player.ID)
			if err != nil {
				return fmt.Errorf("read player: %w", err)
			}
			if player == nil {
				return fmt.Errorf("%w: player %s is gone", ErrStaleMatch, m.Player.ID)
			}
			balance = player.PlanetDollars
		}

		ok, err := tx.DecrementShares(ctx, m.Planet.ID)
		if err != nil {
			return fmt.Errorf("decrement shares: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: planet %d sold out", ErrStaleMatch, m.Planet.ID)
		}

		ok, err = tx.DebitPlayer(ctx, m.Player.ID, price)
		if err != nil {
			return fmt.Errorf("debit player: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: player %s cannot pay %d", ErrStaleMatch, m.Player.ID, price)
		}

		err = tx.AppendTransaction(ctx, domain.Transaction{
			PlanetID: m.Planet.ID,
			PlayerID: m.Player.ID,
			Amount:   price,
		})
		if err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}

		settlement = domain.Settlement{
			Match:        m,
			Price:        price,
			BalanceAfter: balance - price,
		}
		return nil
	})
	if err != nil {
		return domain.Settlement{}, err
	}

	settlement.CommittedAt = committedAt
	return settlement, nil
}
