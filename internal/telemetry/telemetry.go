package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Telemetry owns the tracer and meter providers. Exporter setup failures
// degrade to the global no-op providers instead of failing startup.
type Telemetry struct {
	cfg *Config

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	degraded       []error
}

// Option overrides exporters, mainly for tests.
type Option func(*options)

type options struct {
	spans   sdktrace.SpanExporter
	metrics sdkmetric.Exporter
	logger  *zap.Logger
	global  bool
}

// WithSpanExporter replaces the OTLP trace exporter.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.spans = exp }
}

// WithMetricExporter replaces the OTLP metric exporter.
func WithMetricExporter(exp sdkmetric.Exporter) Option {
	return func(o *options) { o.metrics = exp }
}

// WithLogger logs degraded providers.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithoutGlobals keeps the providers out of the otel globals.
func WithoutGlobals() Option {
	return func(o *options) { o.global = false }
}

// New builds providers when cfg is enabled and installs them as the otel
// globals along with the W3C trace context propagator.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	o := options{logger: zap.NewNop(), global: true}
	for _, opt := range opts {
		opt(&o)
	}

	t := &Telemetry{cfg: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)

	tp, err := newTracerProvider(ctx, cfg, res, o.spans)
	if err != nil {
		t.degrade(o.logger, err)
	} else {
		t.tracerProvider = tp
	}

	mp, err := newMeterProvider(ctx, cfg, res, o.metrics)
	if err != nil {
		t.degrade(o.logger, err)
	} else {
		t.meterProvider = mp
	}

	if o.global {
		if t.tracerProvider != nil {
			otel.SetTracerProvider(t.tracerProvider)
		}
		if t.meterProvider != nil {
			otel.SetMeterProvider(t.meterProvider)
		}
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}
	return t, nil
}

func (t *Telemetry) degrade(logger *zap.Logger, err error) {
	t.degraded = append(t.degraded, err)
	logger.Warn("telemetry: provider unavailable, continuing without it", zap.Error(err))
}

// Tracer returns a tracer from the owned provider or the global one.
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a meter from the owned provider or the global one.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// Enabled reports whether at least one provider is exporting.
func (t *Telemetry) Enabled() bool {
	return t != nil && (t.tracerProvider != nil || t.meterProvider != nil)
}

// Degraded returns the provider setup errors.
func (t *Telemetry) Degraded() []error {
	if t == nil {
		return nil
	}
	return append([]error(nil), t.degraded...)
}

// Shutdown flushes and stops the providers, bounded by the configured
// timeout when ctx has no deadline.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
