package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry records spans and metrics in memory. It never touches the
// otel globals.
type TestTelemetry struct {
	*Telemetry

	Spans   *tracetest.SpanRecorder
	Metrics *sdkmetric.ManualReader
}

// NewTestTelemetry returns enabled in-memory telemetry.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	return &TestTelemetry{
		Telemetry: &Telemetry{
			cfg:            cfg,
			tracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
			meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		},
		Spans:   spans,
		Metrics: reader,
	}
}

// SpanByName returns the first ended span called name.
func (t *TestTelemetry) SpanByName(name string) sdktrace.ReadOnlySpan {
	for _, s := range t.Spans.Ended() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// SpanAttribute returns a span attribute value, or nil when absent.
func (t *TestTelemetry) SpanAttribute(tb testing.TB, span, key string) interface{} {
	tb.Helper()
	s := t.SpanByName(span)
	if s == nil {
		tb.Fatalf("span %q not recorded", span)
	}
	for _, kv := range s.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.AsInterface()
		}
	}
	return nil
}

// Counter sums the int64 sum data points of metric name whose attributes
// include every pair in match.
func (t *TestTelemetry) Counter(tb testing.TB, name string, match ...attribute.KeyValue) int64 {
	tb.Helper()
	var rm metricdata.ResourceMetrics
	if err := t.Metrics.Collect(context.Background(), &rm); err != nil {
		tb.Fatalf("collect metrics: %v", err)
	}

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				tb.Fatalf("metric %q is %T, not an int64 sum", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				if hasAll(dp.Attributes, match) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func hasAll(set attribute.Set, match []attribute.KeyValue) bool {
	for _, kv := range match {
		v, ok := set.Value(kv.Key)
		if !ok || v != kv.Value {
			return false
		}
	}
	return true
}
