package http

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/http"

// HTTPMetrics records request counts, latency and in-flight requests.
type HTTPMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the instruments on meter, or on the global meter when nil.
// Instrument errors are logged and leave that instrument unrecorded.
func NewHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &HTTPMetrics{}
	var err error

	m.requests, err = meter.Int64Counter(
		"bridge.http.requests",
		metric.WithDescription("HTTP requests labeled by method, route and status"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create http requests counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"bridge.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration labeled by method, route and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		logger.Warn("failed to create http duration histogram", zap.Error(err))
	}

	m.inFlight, err = meter.Int64UpDownCounter(
		"bridge.http.active_requests",
		metric.WithDescription("HTTP requests currently being served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create http in-flight counter", zap.Error(err))
	}
	return m
}

// Middleware records one measurement per request. Routes are labeled by
// their registered template, so record ids never become label values.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)
			if err != nil {
				// Resolve the status the error handler will write.
				c.Error(err)
			}

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routeLabel(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return nil
		}
	}
}

func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
