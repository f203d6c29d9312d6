package db

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return s, &RedisStore{Client: redis.NewClient(&redis.Options{Addr: s.Addr()})}
}

func TestRedisStore_Counters(t *testing.T) {
	ms, store := setupTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.IncrementImpression(ctx, "G1"); err != nil {
			t.Fatalf("increment impression: %v", err)
		}
	}
	if err := store.IncrementClick(ctx, "G1"); err != nil {
		t.Fatalf("increment click: %v", err)
	}

	if v, _ := ms.Get("ctr:tg:G1:imp"); v != "3" {
		t.Errorf("expected 3 impressions in redis, got %q", v)
	}

	counts, err := store.GetCTRCounts(ctx, []string{"G1", "G2"})
	if err != nil {
		t.Fatalf("GetCTRCounts: %v", err)
	}
	if counts["G1"] != (CTRCounts{Impressions: 3, Clicks: 1}) {
		t.Errorf("unexpected G1 counts %+v", counts["G1"])
	}
	if counts["G2"] != (CTRCounts{}) {
		t.Errorf("expected zero counts for G2, got %+v", counts["G2"])
	}
}

func TestRedisStore_GetCTRCountsEmpty(t *testing.T) {
	_, store := setupTestRedis(t)
	counts, err := store.GetCTRCounts(context.Background(), nil)
	if err != nil || len(counts) != 0 {
		t.Errorf("expected empty result, got %v, %v", counts, err)
	}
}

func TestRedisStore_Ping(t *testing.T) {
	_, store := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
	var nilStore *RedisStore
	if err := nilStore.Ping(context.Background()); err == nil {
		t.Errorf("expected error for nil store")
	}
}
