package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/planet-auction/internal/core/domain"
)

const (
	auctionStatsKey   = "auction:stats"
	idempotencyKeyTTL = 24 * time.Hour
)

// recordAuctionScript adds one run to the stats hash atomically.
var recordAuctionScript = redis.NewScript(`
local key = KEYS[1]

redis.call('HINCRBY', key, 'runs', 1)
redis.call('HINCRBY', key, 'requested', tonumber(ARGV[1]))
redis.call('HINCRBY', key, 'purchased', tonumber(ARGV[2]))
redis.call('HINCRBY', key, 'failed', tonumber(ARGV[3]))
redis.call('HSET', key, 'last_run_unix', ARGV[4])

return 1
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisAdapter) RecordAuction(ctx context.Context, report domain.AuctionReport) error {
	return recordAuctionScript.Run(ctx, r.client, []string{auctionStatsKey},
		report.Requested, report.Purchased, report.Failed, time.Now().Unix(),
	).Err()
}

func (r *RedisAdapter) AuctionStats(ctx context.Context) (domain.AuctionStats, error) {
	fields, err := r.client.HGetAll(ctx, auctionStatsKey).Result()
	if err != nil {
		return domain.AuctionStats{}, err
	}

	var stats domain.AuctionStats
	stats.Runs, _ = strconv.ParseInt(fields["runs"], 10, 64)
	stats.Requested, _ = strconv.ParseInt(fields["requested"], 10, 64)
	stats.Purchased, _ = strconv.ParseInt(fields["purchased"], 10, 64)
	stats.Failed, _ = strconv.ParseInt(fields["failed"], 10, 64)
	if unix, err := strconv.ParseInt(fields["last_run_unix"], 10, 64); err == nil && unix > 0 {
		stats.LastRun = time.Unix(unix, 0)
	}
	return stats, nil
}
