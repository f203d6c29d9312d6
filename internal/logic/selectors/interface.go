package selectors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/analytics"
	"github.com/patrickwarner/adselection/internal/config"
	logic "github.com/patrickwarner/adselection/internal/logic"
	"github.com/patrickwarner/adselection/internal/logic/workerpool"
	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/observability"
)

// ErrUnknownPolicy is returned by New for an unrecognised policy name.
var ErrUnknownPolicy = errors.New("unknown selection policy")

// Selector picks the advertisement to show a customer in a marketplace. An
// empty advertisement with a nil error means nothing was eligible.
type Selector interface {
	SelectAdvertisement(ctx context.Context, customerID, marketplaceID string) (models.GeneratedAdvertisement, error)
}

// TraceableSelector additionally records the intermediate candidate sets.
type TraceableSelector interface {
	Selector
	SelectAdvertisementWithTrace(ctx context.Context, customerID, marketplaceID string, trace *logic.SelectionTrace) (models.GeneratedAdvertisement, error)
}

// ImpressionTracker counts serves of a targeting group. *db.RedisStore
// implements it.
type ImpressionTracker interface {
	IncrementImpression(ctx context.Context, targetingGroupID string) error
}

// Options holds the optional collaborators shared by every policy.
type Options struct {
	Logger      *zap.Logger
	Metrics     observability.MetricsRegistry
	Recorder    analytics.SelectionRecorder
	Tracker     ImpressionTracker
	Parallelism int
	// Seed seeds the random policy. Zero seeds from the clock.
	Seed int64
}

// New builds the selector for policy. An empty policy selects best_ctr.
func New(policy string, contents models.ContentDAO, groups models.TargetingGroupDAO, executor workerpool.Executor, opts Options) (TraceableSelector, error) {
	var (
		sel TraceableSelector
		e   *engine
	)
	switch policy {
	case config.PolicyBestCTR, "":
		s := NewBestCTRSelector(contents, groups, executor)
		sel, e = s, &s.engine
	case config.PolicyRandom:
		s := NewRandomSelector(contents, groups, executor)
		if opts.Seed != 0 {
			s.SetRand(rand.New(rand.NewSource(opts.Seed)))
		}
		sel, e = s, &s.engine
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}

	if opts.Logger != nil {
		e.SetLogger(opts.Logger)
	}
	if opts.Metrics != nil {
		e.SetMetrics(opts.Metrics)
	}
	e.SetRecorder(opts.Recorder)
	e.SetImpressionTracker(opts.Tracker)
	e.SetParallelism(opts.Parallelism)
	return sel, nil
}

func newSeededRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
