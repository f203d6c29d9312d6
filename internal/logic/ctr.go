package logic

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/db"
	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/observability"
)

// Default CTR smoothing settings used when a caller passes non-positive values.
const (
	DefaultCTRSmoothingWeight = 100.0
	DefaultCTR                = 0.01
)

// SmoothedCTR blends observed clicks and impressions with a prior of
// defaultCTR worth weight impressions, so young groups are not ranked on a
// handful of events.
func SmoothedCTR(counts db.CTRCounts, weight, defaultCTR float64) float64 {
	if weight <= 0 {
		weight = DefaultCTRSmoothingWeight
	}
	if defaultCTR < 0 {
		defaultCTR = DefaultCTR
	}
	clicks := float64(counts.Clicks)
	if clicks < 0 {
		clicks = 0
	}
	imps := float64(counts.Impressions)
	if imps < 0 {
		imps = 0
	}
	return (clicks + defaultCTR*weight) / (imps + weight)
}

// RefreshCTR recomputes click-through rates from the Redis counters and writes
// them into the catalog. Groups that have never served keep their stored CTR.
// It returns the number of groups updated.
func RefreshCTR(ctx context.Context, store *db.RedisStore, catalog *models.InMemoryCatalog, weight, defaultCTR float64, metrics observability.MetricsRegistry, logger *zap.Logger) (int, error) {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil || store.Client == nil {
		metrics.IncrementCTRRefreshes("error")
		return 0, ErrNilRedisStore
	}

	groups := catalog.GetAllTargetingGroups()
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.TargetingGroupID)
	}

	counts, err := store.GetCTRCounts(ctx, ids)
	if err != nil {
		metrics.IncrementCTRRefreshes("error")
		return 0, fmt.Errorf("read ctr counters: %w", err)
	}

	rates := make(map[string]float64)
	for id, c := range counts {
		if c.Impressions <= 0 {
			continue
		}
		rates[id] = SmoothedCTR(c, weight, defaultCTR)
	}

	if err := catalog.UpdateClickThroughRates(rates); err != nil {
		metrics.IncrementCTRRefreshes("error")
		return 0, fmt.Errorf("update click-through rates: %w", err)
	}

	metrics.IncrementCTRRefreshes("success")
	logger.Debug("refreshed click-through rates",
		zap.Int("groups", len(groups)),
		zap.Int("updated", len(rates)))
	return len(rates), nil
}
