package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore wraps a redis client holding per-targeting-group serving counters.
type RedisStore struct {
	Client *redis.Client
}

// CTRCounts holds the raw counters a click-through rate is derived from.
type CTRCounts struct {
	Impressions int64
	Clicks      int64
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(ctx context.Context, addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
	}

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

func impressionKey(targetingGroupID string) string {
	return fmt.Sprintf("ctr:tg:%s:imp", targetingGroupID)
}

func clickKey(targetingGroupID string) string {
	return fmt.Sprintf("ctr:tg:%s:click", targetingGroupID)
}

// IncrementImpression increments the impression counter of a targeting group.
func (r *RedisStore) IncrementImpression(ctx context.Context, targetingGroupID string) error {
	return r.Client.Incr(ctx, impressionKey(targetingGroupID)).Err()
}

// IncrementClick increments the click counter of a targeting group.
func (r *RedisStore) IncrementClick(ctx context.Context, targetingGroupID string) error {
	return r.Client.Incr(ctx, clickKey(targetingGroupID)).Err()
}

// GetCTRCounts reads the counters for every id in a single pipeline. Groups
// without counters are reported as zero.
func (r *RedisStore) GetCTRCounts(ctx context.Context, targetingGroupIDs []string) (map[string]CTRCounts, error) {
	result := make(map[string]CTRCounts, len(targetingGroupIDs))
	if len(targetingGroupIDs) == 0 {
		return result, nil
	}

	pipe := r.Client.Pipeline()
	impCmds := make(map[string]*redis.StringCmd, len(targetingGroupIDs))
	clickCmds := make(map[string]*redis.StringCmd, len(targetingGroupIDs))
	for _, id := range targetingGroupIDs {
		impCmds[id] = pipe.Get(ctx, impressionKey(id))
		clickCmds[id] = pipe.Get(ctx, clickKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("ctr pipeline exec failed: %w", err)
	}

	for _, id := range targetingGroupIDs {
		imps, err := impCmds[id].Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("read impressions for %s: %w", id, err)
		}
		clicks, err := clickCmds[id].Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("read clicks for %s: %w", id, err)
		}
		result[id] = CTRCounts{Impressions: imps, Clicks: clicks}
	}
	return result, nil
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis store is not configured")
	}
	return r.Client.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
