package models

import (
	"context"
	"errors"
	"testing"
)

func TestPredicateRegistry_Builtins(t *testing.T) {
	r := NewPredicateRegistry()
	tests := map[string]PredicateResult{
		"always":        PredicateTrue,
		"never":         PredicateFalse,
		"indeterminate": PredicateIndeterminate,
	}
	for name, want := range tests {
		p, err := r.Lookup(name)
		if err != nil {
			t.Fatalf("lookup %s: %v", name, err)
		}
		got, err := p.Evaluate(context.Background(), RequestContext{})
		if err != nil || got != want {
			t.Errorf("%s: expected %v, got %v (%v)", name, want, got, err)
		}
	}
}

func TestPredicateRegistry_RegisterAndResolve(t *testing.T) {
	r := NewPredicateRegistry()
	prime := PredicateFunc(func(_ context.Context, rc RequestContext) (PredicateResult, error) {
		if rc.CustomerID == "prime" {
			return PredicateTrue, nil
		}
		return PredicateFalse, nil
	})
	if err := r.Register("prime_member", prime); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("", prime); err == nil {
		t.Errorf("expected error for empty name")
	}
	if err := r.Register("nil", nil); err == nil {
		t.Errorf("expected error for nil predicate")
	}

	preds, missing := r.Resolve([]string{"prime_member", "geo_us", "always"})
	if len(preds) != 3 {
		t.Fatalf("expected 3 predicates, got %d", len(preds))
	}
	if len(missing) != 1 || missing[0] != "geo_us" {
		t.Errorf("expected geo_us to be missing, got %v", missing)
	}
	if PredicateName(preds[0]) != "prime_member" {
		t.Errorf("expected registered name, got %q", PredicateName(preds[0]))
	}
	res, _ := preds[1].Evaluate(context.Background(), RequestContext{})
	if res != PredicateIndeterminate {
		t.Errorf("unresolved predicate should be INDETERMINATE, got %v", res)
	}

	_, err := r.Lookup("geo_us")
	if !errors.Is(err, ErrUnknownPredicate) {
		t.Errorf("expected ErrUnknownPredicate, got %v", err)
	}
}

func TestPredicateName(t *testing.T) {
	if PredicateName(nil) != "<nil>" {
		t.Errorf("unexpected nil name")
	}
	if PredicateName(Constant(PredicateTrue)) != "constant:TRUE" {
		t.Errorf("unexpected constant name %q", PredicateName(Constant(PredicateTrue)))
	}
}
