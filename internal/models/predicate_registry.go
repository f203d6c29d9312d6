package models

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownPredicate is returned when a predicate name has no registration.
var ErrUnknownPredicate = errors.New("unknown targeting predicate")

// PredicateRegistry maps the predicate names stored alongside targeting groups
// to the TargetingPredicate implementations supplied by the host process.
type PredicateRegistry struct {
	mu         sync.RWMutex
	predicates map[string]TargetingPredicate
}

// NewPredicateRegistry returns a registry preloaded with the constant
// predicates "always", "never" and "indeterminate".
func NewPredicateRegistry() *PredicateRegistry {
	r := &PredicateRegistry{predicates: make(map[string]TargetingPredicate)}
	r.predicates["always"] = Constant(PredicateTrue)
	r.predicates["never"] = Constant(PredicateFalse)
	r.predicates["indeterminate"] = Constant(PredicateIndeterminate)
	return r
}

// Register adds or replaces the predicate stored under name.
func (r *PredicateRegistry) Register(name string, p TargetingPredicate) error {
	if name == "" {
		return errors.New("predicate name must not be empty")
	}
	if p == nil {
		return fmt.Errorf("predicate %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predicates[name] = named{name: name, TargetingPredicate: p}
	return nil
}

// Lookup returns the predicate registered under name.
func (r *PredicateRegistry) Lookup(name string) (TargetingPredicate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.predicates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPredicate, name)
	}
	return p, nil
}

// Resolve maps names to predicates in order. Unknown names resolve to an
// INDETERMINATE predicate so the owning group can never be satisfied; their
// names are returned in missing.
func (r *PredicateRegistry) Resolve(names []string) (predicates []TargetingPredicate, missing []string) {
	predicates = make([]TargetingPredicate, 0, len(names))
	for _, name := range names {
		p, err := r.Lookup(name)
		if err != nil {
			missing = append(missing, name)
			p = unresolved{name: name}
		}
		predicates = append(predicates, p)
	}
	return predicates, missing
}

// Constant returns a predicate that always evaluates to result.
func Constant(result PredicateResult) TargetingPredicate {
	return constant{result: result}
}

type constant struct {
	result PredicateResult
}

func (c constant) Evaluate(context.Context, RequestContext) (PredicateResult, error) {
	return c.result, nil
}

func (c constant) Name() string {
	return "constant:" + c.result.String()
}

type named struct {
	TargetingPredicate
	name string
}

func (n named) Name() string {
	return n.name
}

type unresolved struct {
	name string
}

func (u unresolved) Evaluate(context.Context, RequestContext) (PredicateResult, error) {
	return PredicateIndeterminate, nil
}

func (u unresolved) Name() string {
	return "unresolved:" + u.name
}
