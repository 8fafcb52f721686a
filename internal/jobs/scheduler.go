// Package jobs runs auction rounds on a cron schedule.
package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/planet-auction/internal/core/domain"
	"github.com/rl1809/planet-auction/internal/port"
)

type AuctionRunner interface {
	RunAuction(ctx context.Context, shares int, verbose bool) (domain.AuctionReport, error)
}

type Scheduler struct {
	cron   *cron.Cron
	runner AuctionRunner
	cache  port.CacheRepository // optional
	shares int
}

// NewScheduler builds a scheduler that skips a tick while the previous round
// is still running.
func NewScheduler(runner AuctionRunner, cache port.CacheRepository, shares int) *Scheduler {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	return &Scheduler{
		cron:   c,
		runner: runner,
		cache:  cache,
		shares: shares,
	}
}

// Start registers the round under schedule and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			log.WithError(err).Error("[CRON] scheduled auction failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	s.cron.Start()
	log.WithFields(log.Fields{"schedule": schedule, "shares": s.shares}).Info("auction scheduler started")
	return nil
}

// RunOnce runs one round and records it in the cache.
func (s *Scheduler) RunOnce(ctx context.Context) (domain.AuctionReport, error) {
	report, err := s.runner.RunAuction(ctx, s.shares, false)
	if err != nil {
		return report, err
	}

	log.WithFields(log.Fields{
		"requested": report.Requested,
		"purchased": report.Purchased,
		"failed":    report.Failed,
		"elapsed":   report.Elapsed,
	}).Info("[CRON] auction round finished")

	if s.cache != nil {
		if err := s.cache.RecordAuction(ctx, report); err != nil {
			return report, fmt.Errorf("record auction: %w", err)
		}
	}
	return report, nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("auction scheduler stopped")
}
