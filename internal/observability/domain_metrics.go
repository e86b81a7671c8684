package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	workflowRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlcrew_workflow_runs_total",
			Help: "Total number of workflow runs by outcome.",
		},
		[]string{"outcome"},
	)
	workflowStageDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlcrew_workflow_stage_duration_ms",
			Help:    "Workflow stage duration in milliseconds.",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"stage"},
	)
	workflowRevisions = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlcrew_workflow_revisions",
			Help:    "Number of drafts produced by finished workflow runs.",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
		},
	)
	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlcrew_gateway_calls_total",
			Help: "Total number of model gateway calls by provider and status.",
		},
		[]string{"provider", "status"},
	)
	gatewayLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlcrew_gateway_latency_ms",
			Help:    "Model gateway call latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000},
		},
		[]string{"provider"},
	)
	schemaCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlcrew_schema_cache_lookups_total",
			Help: "Total number of schema description cache lookups by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		workflowRunsTotal,
		workflowStageDurationMs,
		workflowRevisions,
		gatewayCallsTotal,
		gatewayLatencyMs,
		schemaCacheLookupsTotal,
	)
}

// ObserveRun records a finished run. outcome is "accepted", "revision_cap" or "failed";
// revisions are only recorded for runs that reached a terminal state.
func ObserveRun(outcome string, revisions int) {
	workflowRunsTotal.WithLabelValues(outcome).Inc()
	if outcome != "failed" && revisions > 0 {
		workflowRevisions.Observe(float64(revisions))
	}
}

func ObserveStage(stage string, elapsed time.Duration) {
	workflowStageDurationMs.WithLabelValues(stage).Observe(float64(elapsed.Milliseconds()))
}

func ObserveGatewayCall(provider, status string, elapsed time.Duration) {
	gatewayCallsTotal.WithLabelValues(provider, status).Inc()
	gatewayLatencyMs.WithLabelValues(provider).Observe(float64(elapsed.Milliseconds()))
}

func ObserveSchemaCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	schemaCacheLookupsTotal.WithLabelValues(result).Inc()
}
