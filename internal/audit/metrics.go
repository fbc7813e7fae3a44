package audit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/router"
)

var (
	// droppedTotal counts events that never reached the sinks.
	// Labels: reason (buffer_full, closed)
	droppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "audit",
			Name:      "dropped_total",
			Help:      "Total number of audit events dropped before reaching the sinks",
		},
		[]string{"reason"},
	)

	// sinkErrorsTotal counts failed sink writes.
	// Labels: sink (log, memory, metrics, nats)
	sinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "audit",
			Name:      "sink_errors_total",
			Help:      "Total number of failed audit sink writes",
		},
		[]string{"sink"},
	)
)

// MetricsSink turns audit events into the rollout-health series dashboards
// read: error rate and fallback rate per operation and path.
type MetricsSink struct {
	calls     *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewMetricsSink registers its collectors with reg. A nil reg uses the default registerer.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &MetricsSink{
		// Labels: operation, path (new, legacy), outcome (success, error)
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bridge",
				Subsystem: "audit",
				Name:      "calls_total",
				Help:      "Total number of routed calls by operation, final path and outcome",
			},
			[]string{"operation", "path", "outcome"},
		),
		// Labels: operation, outcome (success, error)
		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bridge",
				Subsystem: "audit",
				Name:      "fallbacks_total",
				Help:      "Total number of calls that fell back from the new path to the legacy path",
			},
			[]string{"operation", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "bridge",
				Subsystem: "audit",
				Name:      "call_duration_seconds",
				Help:      "Routed call duration including any fallback",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation", "path"},
		),
	}
}

// Name implements Sink.
func (s *MetricsSink) Name() string { return "metrics" }

// Write implements Sink.
func (s *MetricsSink) Write(_ context.Context, ev router.AuditEvent) error {
	path := ev.Path.String()
	outcome := ev.Outcome()

	s.calls.WithLabelValues(ev.Operation, path, outcome).Inc()
	if ev.FellBack {
		s.fallbacks.WithLabelValues(ev.Operation, outcome).Inc()
	}
	s.duration.WithLabelValues(ev.Operation, path).
		Observe((time.Duration(ev.DurationMs) * time.Millisecond).Seconds())
	return nil
}
