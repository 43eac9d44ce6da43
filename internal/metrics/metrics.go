// Package metrics exposes Prometheus instrumentation for rule evaluations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EvaluationsTotal counts finished evaluations.
	// Labels: mode (SIMPLE, COMPOUND), verdict (PASS, FAIL, CANNOT_DETERMINE)
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rulecheck",
			Subsystem: "engine",
			Name:      "evaluations_total",
			Help:      "Total number of completed rule evaluations by mode and verdict",
		},
		[]string{"mode", "verdict"},
	)

	// EvaluationErrorsTotal counts evaluations that ended in an infrastructure fault.
	// Labels: kind (evidence_not_found, store_unavailable, template_missing, oracle_unavailable, oracle_timeout, other)
	EvaluationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rulecheck",
			Subsystem: "engine",
			Name:      "evaluation_errors_total",
			Help:      "Total number of evaluations that failed with an infrastructure error",
		},
		[]string{"kind"},
	)

	// DowngradesTotal counts decisions coerced to CANNOT_DETERMINE.
	// Labels: stage (interpreter, reducer)
	DowngradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rulecheck",
			Subsystem: "engine",
			Name:      "downgrades_total",
			Help:      "Total number of decisions downgraded to CANNOT_DETERMINE",
		},
		[]string{"stage"},
	)

	// OracleDuration tracks oracle call latency.
	// Labels: provider, outcome (ok, timeout, unavailable)
	OracleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rulecheck",
			Subsystem: "oracle",
			Name:      "request_duration_seconds",
			Help:      "Duration of reasoning oracle calls in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"provider", "outcome"},
	)

	// OracleTokensTotal counts tokens reported by the oracle.
	// Labels: provider
	OracleTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rulecheck",
			Subsystem: "oracle",
			Name:      "tokens_total",
			Help:      "Total number of tokens consumed by oracle calls",
		},
		[]string{"provider"},
	)

	// ProcedureChecksTotal counts procedure check-rule evaluations.
	// Labels: outcome (passed, failed, error)
	ProcedureChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rulecheck",
			Subsystem: "procedure",
			Name:      "checks_total",
			Help:      "Total number of procedure check-rule evaluations by outcome",
		},
		[]string{"outcome"},
	)
)
