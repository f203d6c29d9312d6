package selectors

import (
	"context"

	"github.com/patrickwarner/adselection/internal/config"
	logic "github.com/patrickwarner/adselection/internal/logic"
	"github.com/patrickwarner/adselection/internal/logic/workerpool"
	"github.com/patrickwarner/adselection/internal/models"
)

// BestCTRSelector is the default Selector. It returns the eligible content
// whose best eligible targeting group has the highest click-through rate.
// Ties keep the content that the ContentDAO returned first, so the result is
// deterministic for a given catalog.
type BestCTRSelector struct {
	engine
}

var _ TraceableSelector = (*BestCTRSelector)(nil)

// NewBestCTRSelector constructs a BestCTRSelector. A nil executor evaluates
// predicates inline.
func NewBestCTRSelector(contents models.ContentDAO, groups models.TargetingGroupDAO, executor workerpool.Executor) *BestCTRSelector {
	s := &BestCTRSelector{engine: newEngine(config.PolicyBestCTR, contents, groups, executor)}
	s.pick = pickBestCTR
	return s
}

// SelectAdvertisement chooses the advertisement for a customer in a marketplace.
func (s *BestCTRSelector) SelectAdvertisement(ctx context.Context, customerID, marketplaceID string) (models.GeneratedAdvertisement, error) {
	return s.run(ctx, customerID, marketplaceID, nil)
}

// SelectAdvertisementWithTrace behaves like SelectAdvertisement but records
// intermediate candidate lists in trace.
func (s *BestCTRSelector) SelectAdvertisementWithTrace(ctx context.Context, customerID, marketplaceID string, trace *logic.SelectionTrace) (models.GeneratedAdvertisement, error) {
	return s.run(ctx, customerID, marketplaceID, trace)
}

func pickBestCTR(eligible []candidate) candidate {
	best := eligible[0]
	for _, c := range eligible[1:] {
		if c.bestCTR > best.bestCTR {
			best = c
		}
	}
	return best
}
