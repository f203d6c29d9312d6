package logic

import (
	"context"
	"errors"
	"fmt"

	"github.com/patrickwarner/adselection/internal/logic/workerpool"
	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/observability"
)

// TargetingEvaluator decides whether a targeting group is satisfied for one
// RequestContext. Predicates of a group are dispatched independently to the
// shared executor and combined with AND over "is TRUE".
//
// A TargetingEvaluator is bound to a single selection call and may be used
// from several goroutines at once.
type TargetingEvaluator struct {
	requestContext models.RequestContext
	executor       workerpool.Executor
	metrics        observability.MetricsRegistry
}

// NewTargetingEvaluator creates an evaluator bound to rc. A nil executor
// evaluates predicates inline.
func NewTargetingEvaluator(rc models.RequestContext, executor workerpool.Executor) *TargetingEvaluator {
	if executor == nil {
		executor = workerpool.Inline{}
	}
	return &TargetingEvaluator{
		requestContext: rc,
		executor:       executor,
		metrics:        observability.NewNoOpRegistry(),
	}
}

// SetMetrics configures the metrics registry.
func (e *TargetingEvaluator) SetMetrics(metrics observability.MetricsRegistry) {
	if metrics != nil {
		e.metrics = metrics
	}
}

// RequestContext returns the context predicates are evaluated against.
func (e *TargetingEvaluator) RequestContext() models.RequestContext {
	return e.requestContext
}

type predicateOutcome struct {
	result  models.PredicateResult
	err     error
	skipped bool
}

// Evaluate returns PredicateTrue when every predicate of group evaluates to
// TRUE, and PredicateFalse when any evaluates to FALSE or INDETERMINATE. An
// empty predicate list is TRUE.
//
// The first non-TRUE outcome cancels predicates that have not started yet.
// Evaluate still waits for every dispatched task before returning. A
// predicate error or panic fails the whole group with a
// *PredicateEvaluationError; a refused submission or a pool that terminates
// mid-evaluation fails it with workerpool.ErrPoolClosed.
func (e *TargetingEvaluator) Evaluate(ctx context.Context, group models.TargetingGroup) (models.PredicateResult, error) {
	predicates := group.Predicates
	if len(predicates) == 0 {
		e.metrics.IncrementGroupEvaluations(models.PredicateTrue.String())
		return models.PredicateTrue, nil
	}

	evalCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// buffered so abandoned tasks never block a worker
	outcomes := make(chan predicateOutcome, len(predicates))
	dispatched := 0
	for i, p := range predicates {
		task := func() {
			outcomes <- e.evaluatePredicate(evalCtx, group, i, p)
		}
		if err := e.executor.Submit(evalCtx, task); err != nil {
			return models.PredicateIndeterminate, fmt.Errorf("dispatch predicate %d of targeting group %s: %w",
				i, group.TargetingGroupID, err)
		}
		dispatched++
	}

	combined := models.PredicateTrue
	var firstErr error
	for received := 0; received < dispatched; received++ {
		var out predicateOutcome
		select {
		case out = <-outcomes:
		case <-e.executor.Done():
			// Workers are gone; anything not already delivered never will be.
			select {
			case out = <-outcomes:
			default:
				return models.PredicateIndeterminate, fmt.Errorf("targeting group %s: %d of %d predicates unfinished: %w",
					group.TargetingGroupID, dispatched-received, dispatched, workerpool.ErrPoolClosed)
			}
		}

		switch {
		case out.skipped:
		case out.err != nil:
			if firstErr == nil {
				firstErr = out.err
			}
			cancel()
		case !out.result.IsTrue():
			combined = models.PredicateFalse
			cancel()
		}
	}

	if firstErr != nil {
		e.metrics.IncrementPredicateFailures()
		return models.PredicateIndeterminate, firstErr
	}
	if err := ctx.Err(); err != nil {
		return models.PredicateIndeterminate, fmt.Errorf("targeting group %s: %w", group.TargetingGroupID, err)
	}
	e.metrics.IncrementGroupEvaluations(combined.String())
	return combined, nil
}

// evaluatePredicate runs one predicate, converting panics into errors.
// Work interrupted by cancellation is reported as skipped; other errors are
// faults even when they arrive after cancellation.
func (e *TargetingEvaluator) evaluatePredicate(ctx context.Context, group models.TargetingGroup, index int, p models.TargetingPredicate) (out predicateOutcome) {
	if ctx.Err() != nil {
		out.skipped = true
		return out
	}
	if p == nil {
		out.result = models.PredicateIndeterminate
		return out
	}

	defer func() {
		if r := recover(); r != nil {
			out = predicateOutcome{err: e.wrap(group, index, p, fmt.Errorf("%w: %v", ErrPredicatePanic, r))}
		}
	}()

	result, err := p.Evaluate(ctx, e.requestContext)
	if err != nil {
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			out.skipped = true
			return out
		}
		out.err = e.wrap(group, index, p, err)
		return out
	}
	out.result = result
	return out
}

func (e *TargetingEvaluator) wrap(group models.TargetingGroup, index int, p models.TargetingPredicate, err error) error {
	return &PredicateEvaluationError{
		TargetingGroupID: group.TargetingGroupID,
		ContentID:        group.ContentID,
		PredicateIndex:   index,
		Predicate:        models.PredicateName(p),
		Err:              err,
	}
}
