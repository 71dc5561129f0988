// Package metrics provides Prometheus instruments for the turn pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "macrs"

var (
	// TurnsTotal counts completed turns.
	// Labels: act (ask, recommend, chitchat), result (success, error)
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "turns_total",
			Help:      "Total number of processed turns",
		},
		[]string{"act", "result"},
	)

	// PhaseDuration tracks time spent in each turn phase.
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "phase_duration_seconds",
			Help:      "Duration of turn phases in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	// ResponderResults counts responder invocations by outcome.
	// Labels: agent, outcome (candidate, abstain, error, timeout, panic, invalid)
	ResponderResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "responder_results_total",
			Help:      "Total number of responder invocations by outcome",
		},
		[]string{"agent", "outcome"},
	)

	// PlannerSelections counts planner decisions.
	// Labels: source (collaborator, fallback, sufficiency, default), act
	PlannerSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "selections_total",
			Help:      "Total number of planner selections by source",
		},
		[]string{"source", "act"},
	)

	// ReflectionEvents counts reflection outcomes.
	// Labels: level (information, strategy), outcome (applied, noop, error)
	ReflectionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reflection",
			Name:      "events_total",
			Help:      "Total number of reflection phases by outcome",
		},
		[]string{"level", "outcome"},
	)

	// CorrectiveEvictions counts corrective experiences dropped by the FIFO bound.
	CorrectiveEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reflection",
			Name:      "corrective_evictions_total",
			Help:      "Total number of corrective experiences evicted",
		},
	)

	// ScheduledJobRuns counts background job runs.
	// Labels: job, result (success, error)
	ScheduledJobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job runs by result",
		},
		[]string{"job", "result"},
	)

	// ConversationsPurged counts sessions removed by the retention sweep.
	ConversationsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "conversations_purged_total",
			Help:      "Total number of idle conversations purged",
		},
	)

	// RetrievalDuration tracks hybrid search latency.
	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "search_duration_seconds",
			Help:      "Duration of hybrid searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// RetrievalResults tracks the number of ranked results returned.
	RetrievalResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "results",
			Help:      "Number of results returned by hybrid search",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)
)

// ObservePhase records the duration of a phase that started at start.
func ObservePhase(phase string, start time.Time) {
	PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

// RecordSearch records a completed search.
func RecordSearch(start time.Time, results int) {
	RetrievalDuration.Observe(time.Since(start).Seconds())
	RetrievalResults.Observe(float64(results))
}
