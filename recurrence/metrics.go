package recurrence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	materializeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recurrence_materialize_duration_seconds",
		Help:    "Time to expand and persist one window",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
	})

	instancesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recurrence_instances_written_total",
		Help: "Instance rows upserted by materialization",
	})

	expansionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recurrence_expansion_failures_total",
		Help: "Materializations that failed during expansion",
	})

	reconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recurrence_reconcile_total",
		Help: "Rule-change reconciliations by outcome",
	}, []string{"outcome"})

	completionWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recurrence_completion_writes_total",
		Help: "Completion log writes by operation",
	}, []string{"op"})
)
