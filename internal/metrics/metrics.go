package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels incidents that completed the full workflow.
	OutcomeSuccess = "success"
	// OutcomeError labels incidents halted by a step failure.
	OutcomeError = "error"
)

var (
	incidentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "incidents_total",
			Help:      "Total incidents raised, partitioned by severity and category.",
		},
		[]string{"severity", "category"},
	)

	signalsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "signals_rejected_total",
			Help:      "Signals rejected before classification due to validation errors.",
		},
	)

	signalsSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "signals_suppressed_total",
			Help:      "Duplicate signals suppressed inside the dedup window.",
		},
	)

	escalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "escalations_total",
			Help:      "Tier transitions performed by the escalation checker.",
		},
		[]string{"to_tier"},
	)

	manualInterventionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "manual_intervention_total",
			Help:      "Incidents flagged for manual handling after tier-4 budget exhaustion.",
		},
	)

	workflowTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "workflow_runs_total",
			Help:      "Workflow executions, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	workflowDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentinel",
			Name:      "workflow_seconds",
			Help:      "End-to-end workflow latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)
)

// Register attaches sentinel collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		incidentsTotal,
		signalsRejectedTotal,
		signalsSuppressedTotal,
		escalationsTotal,
		manualInterventionTotal,
		workflowTotal,
		workflowDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIncident counts a newly classified incident.
func ObserveIncident(severity, category string) {
	incidentsTotal.WithLabelValues(severity, category).Inc()
}

// ObserveRejected counts a signal rejected at validation.
func ObserveRejected() {
	signalsRejectedTotal.Inc()
}

// ObserveSuppressed counts a signal suppressed by dedup.
func ObserveSuppressed() {
	signalsSuppressedTotal.Inc()
}

// ObserveEscalation counts a tier transition.
func ObserveEscalation(toTier int) {
	escalationsTotal.WithLabelValues(strconv.Itoa(toTier)).Inc()
}

// ObserveManualIntervention counts a tier-4 exhaustion flag.
func ObserveManualIntervention() {
	manualInterventionTotal.Inc()
}

// ObserveWorkflow records a workflow run duration and outcome label.
func ObserveWorkflow(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	workflowTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	workflowDurationSeconds.Observe(duration.Seconds())
}
