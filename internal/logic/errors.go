package logic

import (
	"errors"
	"fmt"
)

// ErrNilRedisStore is returned when a RedisStore pointer is nil or uninitialized.
var ErrNilRedisStore = errors.New("redis store is nil")

// ErrPredicatePanic marks a predicate that panicked during evaluation.
var ErrPredicatePanic = errors.New("targeting predicate panicked")

// PredicateEvaluationError reports a predicate that faulted while a targeting
// group was being evaluated. It is never folded into a FALSE result.
type PredicateEvaluationError struct {
	TargetingGroupID string
	ContentID        string
	PredicateIndex   int
	Predicate        string
	Err              error
}

func (e *PredicateEvaluationError) Error() string {
	return fmt.Sprintf("evaluate predicate %d (%s) of targeting group %s for content %s: %v",
		e.PredicateIndex, e.Predicate, e.TargetingGroupID, e.ContentID, e.Err)
}

func (e *PredicateEvaluationError) Unwrap() error {
	return e.Err
}
