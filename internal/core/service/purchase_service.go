package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/planet-auction/internal/core/domain"
	"github.com/rl1809/planet-auction/internal/port"
)

var ErrDuplicateRequest = errors.New("duplicate request")

const idempotencyKeyPrefix = "idempotency:purchase:"

// PurchaseRequest names an existing player by PlayerID. Without one, a new
// player called PlayerName is registered; an empty name is generated.
type PurchaseRequest struct {
	RequestID  string
	PlayerID   string
	PlayerName string
}

type PurchaseResult struct {
	Player     domain.Player
	Registered bool
	Settlement domain.Settlement
	Status     string
}

// PurchaseService is the single-player purchase flow behind the HTTP and gRPC
// handlers: register the player on first visit, then buy one share.
type PurchaseService struct {
	auction *AuctionService
	seeds   *SeedService
	cache   port.CacheRepository // optional
}

func NewPurchaseService(auction *AuctionService, seeds *SeedService, cache port.CacheRepository) *PurchaseService {
	return &PurchaseService{auction: auction, seeds: seeds, cache: cache}
}

// Purchase may return a result alongside an error: when the player was
// registered but the purchase itself failed, the result carries the player.
// A request id is released again when the purchase fails, so the client can
// retry with it.
func (s *PurchaseService) Purchase(ctx context.Context, req PurchaseRequest) (PurchaseResult, error) {
	if s.cache == nil || req.RequestID == "" {
		return s.purchase(ctx, req)
	}

	key := idempotencyKeyPrefix + req.RequestID
	ok, err := s.cache.SetIdempotency(ctx, key)
	if err != nil {
		return PurchaseResult{}, fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return PurchaseResult{}, ErrDuplicateRequest
	}

	result, err := s.purchase(ctx, req)
	if err != nil {
		if rerr := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), key); rerr != nil {
			log.WithError(rerr).WithField("request_id", req.RequestID).Warn("failed to release request id")
		}
	}
	return result, err
}

func (s *PurchaseService) purchase(ctx context.Context, req PurchaseRequest) (PurchaseResult, error) {
	var result PurchaseResult
	playerID := req.PlayerID
	if playerID == "" {
		player, err := s.seeds.RegisterPlayer(ctx, req.PlayerName)
		if err != nil {
			return PurchaseResult{}, err
		}
		result.Player = player
		result.Registered = true
		playerID = player.ID
	}

	st, err := s.auction.Purchase(ctx, playerID)
	if err != nil {
		result.Player.ID = playerID
		return result, err
	}

	result.Player = st.Match.Player
	result.Player.PlanetDollars = st.BalanceAfter
	result.Settlement = st
	result.Status = fmt.Sprintf("1 Share of %s sold to %s for %s Planet Dollars. %s now has %s Planet Dollars.",
		st.Match.Planet.Name, st.Match.Player.Name, humanize.Comma(st.Price),
		st.Match.Player.Name, humanize.Comma(st.BalanceAfter))
	return result, nil
}

// StatusMessage renders a purchase failure the way the web page shows it.
func StatusMessage(err error) string {
	var funds *InsufficientFundsError
	switch {
	case errors.As(err, &funds):
		return funds.Error()
	case errors.Is(err, ErrNoPlanetAvailable):
		return "Failed to acquire a valid Planet share. Please retry."
	case errors.Is(err, ErrPlayerNotFound):
		return "Unknown player."
	case errors.Is(err, ErrDuplicateRequest):
		return "duplicate request"
	case errors.Is(err, ErrStaleMatch), errors.Is(err, ErrInvalidMatch):
		return "The share was sold before your purchase completed. Please retry."
	default:
		return "internal error"
	}
}
