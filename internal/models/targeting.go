package models

import (
	"context"
	"fmt"
)

// RequestContext holds the caller-supplied identity of a selection request.
// One RequestContext is built per selection call and shared read-only by
// every predicate evaluation made for that call.
type RequestContext struct {
	CustomerID    string `json:"customer_id"`
	MarketplaceID string `json:"marketplace_id"`
}

// PredicateResult is the tri-state outcome of a targeting predicate.
// The zero value is PredicateIndeterminate so an unset result never counts
// as satisfied.
type PredicateResult int

const (
	PredicateIndeterminate PredicateResult = iota
	PredicateTrue
	PredicateFalse
)

// IsTrue reports whether the result satisfies targeting. Only PredicateTrue does.
func (r PredicateResult) IsTrue() bool {
	return r == PredicateTrue
}

func (r PredicateResult) String() string {
	switch r {
	case PredicateTrue:
		return "TRUE"
	case PredicateFalse:
		return "FALSE"
	case PredicateIndeterminate:
		return "INDETERMINATE"
	default:
		return fmt.Sprintf("PredicateResult(%d)", int(r))
	}
}

// TargetingPredicate is a single eligibility check evaluated against a
// RequestContext. Implementations must be safe for concurrent use and must
// not mutate shared state. A returned error (or a panic) is a fault, not a
// FALSE result.
type TargetingPredicate interface {
	Evaluate(ctx context.Context, rc RequestContext) (PredicateResult, error)
}

// PredicateFunc adapts an ordinary function to TargetingPredicate.
type PredicateFunc func(ctx context.Context, rc RequestContext) (PredicateResult, error)

// Evaluate calls f(ctx, rc).
func (f PredicateFunc) Evaluate(ctx context.Context, rc RequestContext) (PredicateResult, error) {
	return f(ctx, rc)
}

// NamedPredicate is implemented by predicates that can identify themselves
// in logs and errors.
type NamedPredicate interface {
	TargetingPredicate
	Name() string
}

// PredicateName returns a printable identifier for p.
func PredicateName(p TargetingPredicate) string {
	if p == nil {
		return "<nil>"
	}
	if n, ok := p.(NamedPredicate); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", p)
}

// TargetingGroup bundles the predicates that must all hold for its content to
// be eligible, together with the group's click-through rate. A group with no
// predicates is always satisfied.
type TargetingGroup struct {
	TargetingGroupID string               `json:"targeting_group_id"`
	ContentID        string               `json:"content_id"`
	ClickThroughRate float64              `json:"click_through_rate"`
	Predicates       []TargetingPredicate `json:"-"`
	// PredicateNames mirrors Predicates for groups loaded from storage.
	PredicateNames []string `json:"predicates,omitempty"`
}
