package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/rl1809/planet-auction/internal/core/domain"
	"github.com/rl1809/planet-auction/internal/core/retry"
	"github.com/rl1809/planet-auction/internal/port"
)

var (
	ErrNoMatch           = errors.New("no eligible planet or player in sample")
	ErrStaleMatch        = errors.New("match no longer valid")
	ErrInvalidMatch      = errors.New("planet id or player id is invalid")
	ErrNoPlanetAvailable = errors.New("failed to acquire a valid planet share")
	ErrInsufficientFunds = errors.New("insufficient planet dollars")
	ErrPlayerNotFound    = errors.New("player not found")
	ErrInvalidShareCount = errors.New("invalid number of shares")
)

const tracerName = "github.com/rl1809/planet-auction/internal/core/service"

type Options struct {
	SamplePercent float64
	PricePolicy   domain.PricePolicy
	// Retry wraps every unit. Its ShouldRetry defaults to domain.IsTransient.
	Retry retry.Policy
	// MaxInFlight bounds concurrently running units; 0 runs all at once.
	MaxInFlight int
	// MaxShares caps one RunAuction call; 0 means no cap.
	MaxShares int
}

// AuctionService runs settlement units: a sampled match applied by the
// settler, retried as a whole on transient store failures.
type AuctionService struct {
	selector    *Selector
	settler     *Settler
	retry       retry.Policy
	maxInFlight int
	maxShares   int
	tracer      trace.Tracer
}

func NewAuctionService(store port.AuctionStore, opts Options) *AuctionService {
	policy := opts.Retry
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = domain.IsTransient
	}
	if policy.OnRetry == nil {
		policy.OnRetry = func(err error, retry int, delay time.Duration) {
			log.WithError(err).WithFields(log.Fields{"retry": retry, "delay": delay}).Debug("retrying auction unit")
		}
	}

	return &AuctionService{
		selector:    NewSelector(store, opts.SamplePercent),
		settler:     NewSettler(store, opts.PricePolicy),
		retry:       policy,
		maxInFlight: opts.MaxInFlight,
		maxShares:   opts.MaxShares,
		tracer:      otel.Tracer(tracerName),
	}
}

// RunUnit selects one match and settles it.
func (s *AuctionService) RunUnit(ctx context.Context) (domain.Settlement, error) {
	return retry.Do(ctx, s.retry, func(ctx context.Context) (domain.Settlement, error) {
		m, err := s.selector.Select(ctx)
		if err != nil {
			return domain.Settlement{}, err
		}
		return s.settle(ctx, m)
	})
}

// Purchase buys one share of a sampled planet for the given player.
func (s *AuctionService) Purchase(ctx context.Context, playerID string) (domain.Settlement, error) {
	ctx, span := s.tracer.Start(ctx, "auction.purchase", trace.WithAttributes(attribute.String("player.id", playerID)))
	defer span.End()

	st, err := retry.Do(ctx, s.retry, func(ctx context.Context) (domain.Settlement, error) {
		m, err := s.selector.SelectFor(ctx, playerID)
		if err != nil {
			return domain.Settlement{}, err
		}
		return s.settle(ctx, m)
	})
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
	}
	return st, err
}

func (s *AuctionService) settle(ctx context.Context, m domain.Match) (domain.Settlement, error) {
	ctx, span := s.tracer.Start(ctx, "auction.settle", trace.WithAttributes(
		attribute.Int64("planet.id", m.Planet.ID),
		attribute.String("player.id", m.Player.ID),
		attribute.Int64("cost_per_share", m.CostPerShare),
	))
	defer span.End()

	st, err := s.settler.Settle(ctx, m)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	return st, err
}

// RunAuction launches shares units concurrently and waits for all of them.
// Units are not cancelled by ctx once launched; each reports into its own
// slot and the report is reduced after the join.
func (s *AuctionService) RunAuction(ctx context.Context, shares int, verbose bool) (domain.AuctionReport, error) {
	if shares < 0 {
		return domain.AuctionReport{}, fmt.Errorf("%w: %d is negative", ErrInvalidShareCount, shares)
	}
	if s.maxShares > 0 && shares > s.maxShares {
		return domain.AuctionReport{}, fmt.Errorf("%w: %d is above the limit of %d", ErrInvalidShareCount, shares, s.maxShares)
	}

	start := time.Now()
	unitCtx := context.WithoutCancel(ctx)
	outcomes := make([]error, shares)

	var sem *semaphore.Weighted
	if s.maxInFlight > 0 {
		sem = semaphore.NewWeighted(int64(s.maxInFlight))
	}

	var wg sync.WaitGroup
	for i := 0; i < shares; i++ {
		if sem != nil {
			// unitCtx is never cancelled, so Acquire only returns once a slot frees.
			_ = sem.Acquire(unitCtx, 1)
		}
		wg.Add(1)
		go func(unit int) {
			defer wg.Done()
			if sem != nil {
				defer sem.Release(1)
			}
			outcomes[unit] = s.runLoggedUnit(unitCtx, unit, verbose)
		}(i)
	}
	wg.Wait()

	report := reduceOutcomes(outcomes)
	report.Elapsed = time.Since(start)
	return report, nil
}

func (s *AuctionService) runLoggedUnit(ctx context.Context, unit int, verbose bool) error {
	ctx, span := s.tracer.Start(ctx, "auction.unit", trace.WithAttributes(attribute.Int("unit", unit)))
	defer span.End()

	st, err := s.RunUnit(ctx)
	logger := log.WithField("unit", unit)
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		if errors.Is(err, ErrNoMatch) || errors.Is(err, ErrStaleMatch) || errors.Is(err, ErrInvalidMatch) {
			if verbose {
				logger.WithError(err).Info("unit found no valid match")
			}
		} else {
			logger.WithError(err).Warn("auction unit failed")
		}
		return err
	}

	if verbose {
		m := st.Match
		logger.WithFields(log.Fields{
			"planet":           m.Planet.Name,
			"shares_available": humanize.Comma(m.Planet.SharesAvailable),
			"cost_per_share":   humanize.Comma(st.Price),
		}).Infof("1 share of %s sold to %s for %s Planet Dollars; %s now has %s Planet Dollars",
			m.Planet.Name, m.Player.Name, humanize.Comma(st.Price), m.Player.Name, humanize.Comma(st.BalanceAfter))
	}
	return nil
}

func reduceOutcomes(outcomes []error) domain.AuctionReport {
	report := domain.AuctionReport{Requested: len(outcomes)}
	for _, err := range outcomes {
		switch {
		case err == nil:
			continue
		case errors.Is(err, ErrNoMatch):
			report.NoMatch++
		case errors.Is(err, ErrStaleMatch), errors.Is(err, ErrInvalidMatch):
			report.StaleMatch++
		case domain.IsTransient(err):
			report.Transient++
		default:
			report.Fatal++
		}
		report.Failed++
	}
	report.Purchased = report.Requested - report.Failed
	return report
}
