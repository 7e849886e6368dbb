package executor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nickyhof/CommitQuery/db"
)

const namespace = "commitquery"

const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
)

var (
	queriesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queries_total",
		Help:      "Number of queries by outcome. Rejected queries never reached the engine.",
	}, []string{"outcome"})

	viewRefreshCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "view_refreshes_triggered_total",
		Help:      "Number of materialized view refreshes queries had to wait for.",
	})

	projectCacheReloadCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "project_cache_reloads_total",
		Help:      "Number of times the project set was loaded from the registry.",
	})

	queryDurationHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_duration_ms",
		Help:      "Time from submission until the query result was available, refreshes included.",
		Buckets:   []float64{5, 25, 100, 250, 1000, 5000, 15000, 60000},
	})
)

func observeQuery(result *db.QueryResult, elapsed time.Duration) {
	outcome := outcomeSucceeded
	if result.IsFailed() {
		outcome = outcomeFailed
	}
	queriesCounter.WithLabelValues(outcome).Inc()
	queryDurationHistogram.Observe(float64(elapsed.Milliseconds()))
}
