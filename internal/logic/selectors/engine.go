package selectors

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patrickwarner/adselection/internal/analytics"
	logic "github.com/patrickwarner/adselection/internal/logic"
	"github.com/patrickwarner/adselection/internal/logic/workerpool"
	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/observability"
)

// Selection outcomes used for metrics, logs and analytics.
const (
	OutcomeSelected     = "selected"
	OutcomeInvalidInput = "invalid_input"
	OutcomeNoContent    = "no_content"
	OutcomeNoEligible   = "no_eligible"
	OutcomeError        = "error"
)

var tracer = observability.Tracer("adselection/selectors")

// candidate is the eligibility summary of one advertisement content.
type candidate struct {
	content        models.AdvertisementContent
	eligible       bool
	bestCTR        float64
	bestGroupID    string
	totalGroups    int
	eligibleGroups int
}

// engine holds the pipeline shared by every policy: fetch contents, fetch
// their targeting groups, evaluate eligibility, then hand the eligible set to
// pick.
type engine struct {
	policy      string
	contents    models.ContentDAO
	groups      models.TargetingGroupDAO
	executor    workerpool.Executor
	logger      *zap.Logger
	metrics     observability.MetricsRegistry
	recorder    analytics.SelectionRecorder
	tracker     ImpressionTracker
	parallelism int
	pick        func(eligible []candidate) candidate
}

func newEngine(policy string, contents models.ContentDAO, groups models.TargetingGroupDAO, executor workerpool.Executor) engine {
	if executor == nil {
		executor = workerpool.Inline{}
	}
	return engine{
		policy:      policy,
		contents:    contents,
		groups:      groups,
		executor:    executor,
		logger:      zap.NewNop(),
		metrics:     observability.NewNoOpRegistry(),
		parallelism: 1,
	}
}

// SetLogger configures the logger for this selector.
func (e *engine) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e.logger = logger
}

// SetMetrics configures the metrics registry for this selector.
func (e *engine) SetMetrics(metrics observability.MetricsRegistry) {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	e.metrics = metrics
}

// SetRecorder configures where selection decisions are recorded.
// Recording is optional and its failures never fail a selection.
func (e *engine) SetRecorder(recorder analytics.SelectionRecorder) {
	e.recorder = recorder
}

// SetImpressionTracker configures impression counting for the winning
// targeting group. Tracking is optional.
func (e *engine) SetImpressionTracker(tracker ImpressionTracker) {
	e.tracker = tracker
}

// SetParallelism sets how many contents are evaluated at once within a
// single call. Values below 1 mean sequential evaluation.
func (e *engine) SetParallelism(n int) {
	if n < 1 {
		n = 1
	}
	e.parallelism = n
}

// Policy returns the policy name used in metrics and logs.
func (e *engine) Policy() string {
	return e.policy
}

// run performs one selection. trace may be nil.
func (e *engine) run(ctx context.Context, customerID, marketplaceID string, trace *logic.SelectionTrace) (models.GeneratedAdvertisement, error) {
	start := time.Now()
	selectionID := uuid.NewString()
	if trace != nil {
		trace.SelectionID = selectionID
	}

	ctx, span := tracer.Start(ctx, "selectors.SelectAdvertisement")
	defer span.End()
	span.SetAttributes(
		attribute.String("selection.id", selectionID),
		attribute.String("selection.policy", e.policy),
		attribute.String("marketplace.id", marketplaceID),
	)

	logger := observability.LoggerFromContext(ctx, e.logger).With(
		zap.String("selection_id", selectionID),
		zap.String("policy", e.policy),
		zap.String("customer_id", customerID),
		zap.String("marketplace_id", marketplaceID),
	)

	ev := analytics.SelectionEvent{
		Timestamp:     start,
		SelectionID:   selectionID,
		CustomerID:    customerID,
		MarketplaceID: marketplaceID,
		Policy:        e.policy,
	}
	finish := func(outcome string) {
		span.SetAttributes(attribute.String("selection.outcome", outcome))
		e.metrics.IncrementSelections(e.policy, outcome)
		e.metrics.RecordSelectionLatency(e.policy, time.Since(start))
		if outcome == OutcomeInvalidInput {
			return
		}
		ev.Outcome = outcome
		ev.LatencyMicros = time.Since(start).Microseconds()
		e.record(ctx, logger, ev)
	}

	if marketplaceID == "" {
		logger.Warn("marketplace id is empty, returning empty advertisement")
		finish(OutcomeInvalidInput)
		return models.EmptyAdvertisement(), nil
	}

	contents, err := e.contents.GetContents(ctx, marketplaceID)
	if err != nil {
		err = fmt.Errorf("get contents for marketplace %s: %w", marketplaceID, err)
		e.fail(span, logger, err)
		finish(OutcomeError)
		return models.EmptyAdvertisement(), err
	}
	ev.Candidates = len(contents)
	trace.AddStep("start", contentIDs(contents))

	if len(contents) == 0 {
		logger.Warn("no advertisement content for marketplace")
		finish(OutcomeNoContent)
		return models.EmptyAdvertisement(), nil
	}

	evaluator := logic.NewTargetingEvaluator(models.RequestContext{
		CustomerID:    customerID,
		MarketplaceID: marketplaceID,
	}, e.executor)
	evaluator.SetMetrics(e.metrics)

	candidates, err := e.evaluateAll(ctx, evaluator, contents, logger)
	if err != nil {
		e.fail(span, logger, err)
		finish(OutcomeError)
		return models.EmptyAdvertisement(), err
	}

	var eligible []candidate
	details := make(map[string]string, len(candidates))
	for _, c := range candidates {
		details[c.content.ContentID] = describe(c)
		if c.eligible {
			eligible = append(eligible, c)
		}
	}
	ev.Eligible = len(eligible)
	trace.AddStepWithDetails("targeting", candidateIDs(eligible), details)

	if len(eligible) == 0 {
		logger.Warn("no eligible advertisement content",
			zap.Int("contents", len(contents)))
		finish(OutcomeNoEligible)
		return models.EmptyAdvertisement(), nil
	}

	winner := e.pick(eligible)
	trace.AddStepWithDetails("select", []string{winner.content.ContentID}, map[string]string{
		"targeting_group_id": winner.bestGroupID,
		"click_through_rate": strconv.FormatFloat(winner.bestCTR, 'f', -1, 64),
	})

	ev.ContentID = winner.content.ContentID
	ev.TargetingGroupID = winner.bestGroupID
	ev.ClickThroughRate = winner.bestCTR
	span.SetAttributes(
		attribute.String("content.id", winner.content.ContentID),
		attribute.String("targeting_group.id", winner.bestGroupID),
		attribute.Float64("targeting_group.ctr", winner.bestCTR),
	)

	if e.tracker != nil {
		if err := e.tracker.IncrementImpression(ctx, winner.bestGroupID); err != nil {
			logger.Warn("failed to track impression",
				zap.String("targeting_group_id", winner.bestGroupID),
				zap.Error(err))
		}
	}

	logger.Debug("advertisement selected",
		zap.String("content_id", winner.content.ContentID),
		zap.String("targeting_group_id", winner.bestGroupID),
		zap.Float64("click_through_rate", winner.bestCTR),
		zap.Int("eligible", len(eligible)))
	finish(OutcomeSelected)
	return models.NewGeneratedAdvertisement(winner.content), nil
}

// evaluateAll returns one candidate per content, in content order. Groups are
// fetched per content as it is evaluated, so a DAO error on a later content
// surfaces after earlier contents have already been evaluated.
func (e *engine) evaluateAll(ctx context.Context, evaluator *logic.TargetingEvaluator, contents []models.AdvertisementContent, logger *zap.Logger) ([]candidate, error) {
	candidates := make([]candidate, len(contents))

	if e.parallelism <= 1 || len(contents) == 1 {
		for i, content := range contents {
			c, err := e.evaluateContent(ctx, evaluator, content, logger)
			if err != nil {
				return nil, err
			}
			candidates[i] = c
		}
		return candidates, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, content := range contents {
		g.Go(func() error {
			c, err := e.evaluateContent(gctx, evaluator, content, logger)
			if err != nil {
				return err
			}
			candidates[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return candidates, nil
}

// evaluateContent evaluates every targeting group of content and keeps the
// highest CTR among the groups that evaluate TRUE. Equal CTRs keep the first
// group.
func (e *engine) evaluateContent(ctx context.Context, evaluator *logic.TargetingEvaluator, content models.AdvertisementContent, logger *zap.Logger) (candidate, error) {
	c := candidate{content: content}

	groups, err := e.groups.GetTargetingGroups(ctx, content.ContentID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			logger.Debug("no targeting groups for content", zap.String("content_id", content.ContentID))
			return c, nil
		}
		return c, fmt.Errorf("get targeting groups for content %s: %w", content.ContentID, err)
	}
	c.totalGroups = len(groups)

	for _, group := range groups {
		result, err := evaluator.Evaluate(ctx, group)
		if err != nil {
			return c, err
		}
		if !result.IsTrue() {
			continue
		}
		c.eligibleGroups++
		if !c.eligible || group.ClickThroughRate > c.bestCTR {
			c.eligible = true
			c.bestCTR = group.ClickThroughRate
			c.bestGroupID = group.TargetingGroupID
		}
	}

	logger.Debug("content evaluated",
		zap.String("content_id", content.ContentID),
		zap.Int("targeting_groups", c.totalGroups),
		zap.Int("eligible_groups", c.eligibleGroups),
		zap.Bool("eligible", c.eligible))
	return c, nil
}

func (e *engine) fail(span oteltrace.Span, logger *zap.Logger, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	fields := []zap.Field{zap.Error(err)}
	var predErr *logic.PredicateEvaluationError
	switch {
	case errors.As(err, &predErr):
		fields = append(fields,
			zap.String("content_id", predErr.ContentID),
			zap.String("targeting_group_id", predErr.TargetingGroupID),
			zap.String("predicate", predErr.Predicate))
		logger.Error("targeting predicate failed", fields...)
	case errors.Is(err, workerpool.ErrPoolClosed):
		logger.Error("worker pool unavailable", fields...)
	default:
		logger.Error("advertisement selection failed", fields...)
	}
}

func (e *engine) record(ctx context.Context, logger *zap.Logger, ev analytics.SelectionEvent) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordSelection(context.WithoutCancel(ctx), ev); err != nil && !errors.Is(err, analytics.ErrUnavailable) {
		logger.Warn("failed to record selection", zap.Error(err))
	}
}

func describe(c candidate) string {
	switch {
	case c.totalGroups == 0:
		return "no targeting groups"
	case !c.eligible:
		return fmt.Sprintf("0/%d groups eligible", c.totalGroups)
	default:
		return fmt.Sprintf("%d/%d groups eligible, best %s ctr=%s", c.eligibleGroups, c.totalGroups,
			c.bestGroupID, strconv.FormatFloat(c.bestCTR, 'f', -1, 64))
	}
}

func contentIDs(contents []models.AdvertisementContent) []string {
	ids := make([]string, len(contents))
	for i, c := range contents {
		ids[i] = c.ContentID
	}
	return ids
}

func candidateIDs(candidates []candidate) []string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.content.ContentID
	}
	return ids
}
