package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics.
// Components receive it by injection instead of touching the Prometheus globals.
type MetricsRegistry interface {
	// Selection metrics
	IncrementSelections(policy, outcome string)
	RecordSelectionLatency(policy string, duration time.Duration)

	// Targeting evaluation metrics
	IncrementGroupEvaluations(result string)
	IncrementPredicateFailures()

	// Worker pool metrics
	IncrementPoolRejections()
	SetPoolQueueDepth(depth int)

	// Catalog metrics
	SetCatalogSize(contents, groups int)
	IncrementCatalogReloads(outcome string)
	IncrementCTRRefreshes(outcome string)

	// Ops endpoint metrics
	IncrementRequests(endpoint, method, status string)
}

// PrometheusRegistry implements MetricsRegistry using the package-level Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementSelections(policy, outcome string) {
	SelectionCount.WithLabelValues(policy, outcome).Inc()
}

func (r *PrometheusRegistry) RecordSelectionLatency(policy string, duration time.Duration) {
	SelectionLatency.WithLabelValues(policy).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementGroupEvaluations(result string) {
	GroupEvaluationCount.WithLabelValues(result).Inc()
}

func (r *PrometheusRegistry) IncrementPredicateFailures() {
	PredicateFailureCount.Inc()
}

func (r *PrometheusRegistry) IncrementPoolRejections() {
	PoolRejectionCount.Inc()
}

func (r *PrometheusRegistry) SetPoolQueueDepth(depth int) {
	PoolQueueDepth.Set(float64(depth))
}

func (r *PrometheusRegistry) SetCatalogSize(contents, groups int) {
	CatalogSize.WithLabelValues("content").Set(float64(contents))
	CatalogSize.WithLabelValues("targeting_group").Set(float64(groups))
}

func (r *PrometheusRegistry) IncrementCatalogReloads(outcome string) {
	CatalogReloadCount.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) IncrementCTRRefreshes(outcome string) {
	CTRRefreshCount.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementSelections(policy, outcome string)                   {}
func (r *NoOpRegistry) RecordSelectionLatency(policy string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementGroupEvaluations(result string)                      {}
func (r *NoOpRegistry) IncrementPredicateFailures()                                  {}
func (r *NoOpRegistry) IncrementPoolRejections()                                     {}
func (r *NoOpRegistry) SetPoolQueueDepth(depth int)                                  {}
func (r *NoOpRegistry) SetCatalogSize(contents, groups int)                          {}
func (r *NoOpRegistry) IncrementCatalogReloads(outcome string)                       {}
func (r *NoOpRegistry) IncrementCTRRefreshes(outcome string)                         {}
func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)            {}
