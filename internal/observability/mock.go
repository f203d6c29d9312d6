package observability

import (
	"sync"
	"time"
)

var _ MetricsRegistry = (*MockMetricsRegistry)(nil)

// MockMetricsRegistry records counter increments in memory so tests can
// assert on them. Safe for concurrent use.
type MockMetricsRegistry struct {
	mu                sync.Mutex
	Selections        map[string]int // "policy/outcome" -> count
	GroupEvaluations  map[string]int
	PredicateFailures int
	PoolRejections    int
	CatalogReloads    map[string]int
	CTRRefreshes      map[string]int
}

// NewMockMetricsRegistry creates an empty MockMetricsRegistry.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{
		Selections:       make(map[string]int),
		GroupEvaluations: make(map[string]int),
		CatalogReloads:   make(map[string]int),
		CTRRefreshes:     make(map[string]int),
	}
}

func (m *MockMetricsRegistry) IncrementSelections(policy, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Selections[policy+"/"+outcome]++
}

func (m *MockMetricsRegistry) RecordSelectionLatency(policy string, duration time.Duration) {}

func (m *MockMetricsRegistry) IncrementGroupEvaluations(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GroupEvaluations[result]++
}

func (m *MockMetricsRegistry) IncrementPredicateFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PredicateFailures++
}

func (m *MockMetricsRegistry) IncrementPoolRejections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PoolRejections++
}

func (m *MockMetricsRegistry) SetPoolQueueDepth(depth int)         {}
func (m *MockMetricsRegistry) SetCatalogSize(contents, groups int) {}

func (m *MockMetricsRegistry) IncrementCatalogReloads(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CatalogReloads[outcome]++
}

func (m *MockMetricsRegistry) IncrementCTRRefreshes(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CTRRefreshes[outcome]++
}

func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string) {}

// SelectionCount returns the recorded count for a policy/outcome pair.
func (m *MockMetricsRegistry) SelectionCount(policy, outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Selections[policy+"/"+outcome]
}
