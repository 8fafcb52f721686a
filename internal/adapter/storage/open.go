package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/planet-auction/internal/config"
	"github.com/rl1809/planet-auction/internal/port"
)

var ErrMissingCoordinates = errors.New("spanner project, instance and database are required")

// Open connects the store selected by cfg.Store.
func Open(ctx context.Context, cfg *config.Config) (port.AuctionStore, error) {
	log.WithField("store", cfg.Store).Debug("opening auction store")

	switch cfg.Store {
	case config.StoreSpanner:
		if !cfg.SpannerConfigured() {
			return nil, ErrMissingCoordinates
		}
		store, err := OpenSpanner(ctx, SpannerDatabase{
			Project:  cfg.SpannerProject,
			Instance: cfg.SpannerInstance,
			Database: cfg.SpannerDatabase,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorePostgres:
		store, err := OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreMySQL:
		store, err := OpenMySQL(cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreMemory:
		return NewMemoryAdapter(), nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// OpenCache returns a nil cache when Redis is disabled.
func OpenCache(ctx context.Context, cfg *config.Config) (port.CacheRepository, func() error, error) {
	if !cfg.RedisEnabled {
		return nil, func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisAdapter(client), client.Close, nil
}
