package router

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/router"

type executorMetrics struct {
	calls     metric.Int64Counter
	fallbacks metric.Int64Counter
	duration  metric.Float64Histogram
}

func newExecutorMetrics(meter metric.Meter, logger *zap.Logger) *executorMetrics {
	m := &executorMetrics{}
	var err error

	m.calls, err = meter.Int64Counter(
		"bridge.router.calls",
		metric.WithDescription("Routed calls labeled by operation, final path and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		logger.Warn("failed to create router calls counter", zap.Error(err))
	}

	m.fallbacks, err = meter.Int64Counter(
		"bridge.router.fallbacks",
		metric.WithDescription("Calls that failed on the new path and were retried on the legacy path"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		logger.Warn("failed to create router fallbacks counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"bridge.router.duration_seconds",
		metric.WithDescription("End-to-end routed call duration including any fallback"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		logger.Warn("failed to create router duration histogram", zap.Error(err))
	}

	return m
}

func (m *executorMetrics) record(ctx context.Context, event AuditEvent, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("operation", event.Operation),
		attribute.String("path", event.Path.String()),
		attribute.String("outcome", event.Outcome()),
	)
	if m.calls != nil {
		m.calls.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if event.FellBack && m.fallbacks != nil {
		m.fallbacks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", event.Operation),
			attribute.String("outcome", event.Outcome()),
		))
	}
}
