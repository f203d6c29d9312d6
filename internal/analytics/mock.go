package analytics

import (
	"context"
	"sync"
)

var _ SelectionRecorder = (*MockAnalytics)(nil)

// MockAnalytics keeps recorded selection events in memory for tests.
type MockAnalytics struct {
	mu     sync.Mutex
	Events []SelectionEvent
	Err    error
}

// NewMockAnalytics creates a new mock analytics instance
func NewMockAnalytics() *MockAnalytics {
	return &MockAnalytics{}
}

// RecordSelection stores ev and returns the configured Err.
func (m *MockAnalytics) RecordSelection(_ context.Context, ev SelectionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, ev)
	return m.Err
}

// Recorded returns a copy of the events recorded so far.
func (m *MockAnalytics) Recorded() []SelectionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SelectionEvent, len(m.Events))
	copy(out, m.Events)
	return out
}
