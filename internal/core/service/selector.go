package service

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/rl1809/planet-auction/internal/core/domain"
	"github.com/rl1809/planet-auction/internal/port"
)

// DefaultSamplePercent is the share of rows each sampling query looks at.
const DefaultSamplePercent = 10.0

// InsufficientFundsError is returned when a known player cannot pay the
// current price of the sampled planet.
type InsufficientFundsError struct {
	Balance int64
	Planet  string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s Planet Dollars is not enough to purchase a share of %s",
		humanize.Comma(e.Balance), e.Planet)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Selector picks buyer/seller pairs from a sample of the store instead of a
// full scan. Finding nothing is a normal outcome reported as ErrNoMatch.
type Selector struct {
	store         port.AuctionStore
	samplePercent float64
}

func NewSelector(store port.AuctionStore, samplePercent float64) *Selector {
	if samplePercent <= 0 || samplePercent > 100 {
		samplePercent = DefaultSamplePercent
	}
	return &Selector{store: store, samplePercent: samplePercent}
}

// Select samples a planet with shares left, then a player able to pay its
// current cost-per-share.
func (s *Selector) Select(ctx context.Context) (domain.Match, error) {
	planet, err := s.store.SamplePlanet(ctx, s.samplePercent)
	if err != nil {
		return domain.Match{}, fmt.Errorf("sample planet: %w", err)
	}
	if planet == nil {
		return domain.Match{}, fmt.Errorf("%w: no planet with shares in sample", ErrNoMatch)
	}

	cost := planet.CostPerShare()
	player, err := s.store.SamplePlayer(ctx, s.samplePercent, cost)
	if err != nil {
		return domain.Match{}, fmt.Errorf("sample player: %w", err)
	}
	if player == nil {
		return domain.Match{Planet: *planet, CostPerShare: cost},
			fmt.Errorf("%w: no player able to pay %d in sample", ErrNoMatch, cost)
	}

	return domain.Match{Planet: *planet, Player: *player, CostPerShare: cost}, nil
}

// SelectFor samples a planet for a specific player.
func (s *Selector) SelectFor(ctx context.Context, playerID string) (domain.Match, error) {
	planet, err := s.store.SamplePlanet(ctx, s.samplePercent)
	if err != nil {
		return domain.Match{}, fmt.Errorf("sample planet: %w", err)
	}
	if planet == nil {
		return domain.Match{}, ErrNoPlanetAvailable
	}

	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return domain.Match{}, fmt.Errorf("get player: %w", err)
	}
	if player == nil {
		return domain.Match{}, ErrPlayerNotFound
	}

	cost := planet.CostPerShare()
	if !player.CanAfford(cost) {
		return domain.Match{}, &InsufficientFundsError{Balance: player.PlanetDollars, Planet: planet.Name}
	}

	return domain.Match{Planet: *planet, Player: *player, CostPerShare: cost}, nil
}
