package selectors

import (
	"context"
	"math/rand"
	"sync"

	"github.com/patrickwarner/adselection/internal/config"
	logic "github.com/patrickwarner/adselection/internal/logic"
	"github.com/patrickwarner/adselection/internal/logic/workerpool"
	"github.com/patrickwarner/adselection/internal/models"
)

// RandomSelector returns a uniformly random content among the eligible ones.
// Click-through rates only decide which targeting group is credited with the
// impression.
type RandomSelector struct {
	engine

	mu  sync.Mutex // guards rng, which is not safe for concurrent use
	rng *rand.Rand
}

var _ TraceableSelector = (*RandomSelector)(nil)

// NewRandomSelector constructs a RandomSelector seeded from the clock.
func NewRandomSelector(contents models.ContentDAO, groups models.TargetingGroupDAO, executor workerpool.Executor) *RandomSelector {
	s := &RandomSelector{
		engine: newEngine(config.PolicyRandom, contents, groups, executor),
		rng:    newSeededRand(),
	}
	s.pick = s.pickRandom
	return s
}

// SetRand replaces the random source. Tests use a fixed seed for a
// reproducible pick.
func (s *RandomSelector) SetRand(r *rand.Rand) {
	if r == nil {
		return
	}
	s.mu.Lock()
	s.rng = r
	s.mu.Unlock()
}

// SelectAdvertisement picks a random eligible advertisement.
func (s *RandomSelector) SelectAdvertisement(ctx context.Context, customerID, marketplaceID string) (models.GeneratedAdvertisement, error) {
	return s.run(ctx, customerID, marketplaceID, nil)
}

// SelectAdvertisementWithTrace behaves like SelectAdvertisement but records
// intermediate candidate lists in trace.
func (s *RandomSelector) SelectAdvertisementWithTrace(ctx context.Context, customerID, marketplaceID string, trace *logic.SelectionTrace) (models.GeneratedAdvertisement, error) {
	return s.run(ctx, customerID, marketplaceID, trace)
}

func (s *RandomSelector) pickRandom(eligible []candidate) candidate {
	s.mu.Lock()
	i := s.rng.Intn(len(eligible))
	s.mu.Unlock()
	return eligible[i]
}
