package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes engine counters. A single instance is shared by all
// engines in a process; registration happens once via promauto.
type Metrics struct {
	PhasesExecuted    *prometheus.CounterVec
	RevisionLoops     prometheus.Counter
	DegradedDelivery  prometheus.Counter
	GateFailures      prometheus.Counter
	Violations        *prometheus.CounterVec
	CheckpointsRaised *prometheus.CounterVec
}

// NewMetrics registers engine metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PhasesExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "briefmill",
			Subsystem: "engine",
			Name:      "phases_executed_total",
			Help:      "Phase executions by path, phase code, and terminal status.",
		}, []string{"path", "phase", "status"}),
		RevisionLoops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "briefmill",
			Subsystem: "engine",
			Name:      "revision_loops_total",
			Help:      "Revision loop iterations run by the quality gate.",
		}),
		DegradedDelivery: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "briefmill",
			Subsystem: "engine",
			Name:      "degraded_deliveries_total",
			Help:      "Workflows that exhausted the revision loop and shipped degraded.",
		}),
		GateFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "briefmill",
			Subsystem: "engine",
			Name:      "citation_gate_failures_total",
			Help:      "Citation hard-stop gate failures.",
		}),
		Violations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "briefmill",
			Subsystem: "engine",
			Name:      "violations_total",
			Help:      "Protocol violations recorded, by severity.",
		}, []string{"severity"}),
		CheckpointsRaised: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "briefmill",
			Subsystem: "engine",
			Name:      "checkpoints_raised_total",
			Help:      "Checkpoint instances created, by code.",
		}, []string{"code"}),
	}
}
