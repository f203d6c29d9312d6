package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// selection calls by policy and outcome (selected, invalid_input, no_content, no_eligible, error)
	SelectionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adselection_selections_total",
			Help: "Total advertisement selection calls",
		},
		[]string{"policy", "outcome"},
	)

	// end-to-end selection latency in seconds per policy
	SelectionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adselection_selection_duration_seconds",
			Help:    "Histogram of selection latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"policy"},
	)

	// targeting group evaluations labelled by combined result
	GroupEvaluationCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adselection_group_evaluations_total",
			Help: "Total targeting group evaluations",
		},
		[]string{"result"},
	)

	// predicates that returned an error or panicked
	PredicateFailureCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adselection_predicate_failures_total",
			Help: "Total targeting predicate evaluation faults",
		},
	)

	// submissions refused by the worker pool
	PoolRejectionCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adselection_pool_rejections_total",
			Help: "Total tasks rejected by the predicate worker pool",
		},
	)

	// tasks waiting in the worker pool queue
	PoolQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adselection_pool_queue_depth",
			Help: "Number of predicate evaluations waiting for a worker",
		},
	)

	// catalog size by entity kind
	CatalogSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adselection_catalog_entities",
			Help: "Number of catalog entities currently loaded",
		},
		[]string{"kind"},
	)

	// catalog reloads labelled by outcome
	CatalogReloadCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adselection_catalog_reloads_total",
			Help: "Total catalog reload attempts",
		},
		[]string{"outcome"},
	)

	// CTR refresh passes labelled by outcome
	CTRRefreshCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adselection_ctr_refreshes_total",
			Help: "Total click-through-rate refresh passes",
		},
		[]string{"outcome"},
	)

	// ops endpoint requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adselection_ops_requests_total",
			Help: "Total operational API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		SelectionCount,
		SelectionLatency,
		GroupEvaluationCount,
		PredicateFailureCount,
		PoolRejectionCount,
		PoolQueueDepth,
		CatalogSize,
		CatalogReloadCount,
		CTRRefreshCount,
		RequestCount,
	)
}
