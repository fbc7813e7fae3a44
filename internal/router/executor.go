package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/logging"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/rollout"
)

// PolicyReader returns the current rollout state of an operation.
// *rollout.Policy satisfies it.
type PolicyReader interface {
	Get(operation string) rollout.State
}

// Executor holds the collaborators shared by every routed call. It is safe
// for concurrent use and keeps no per-call state.
type Executor struct {
	policy   PolicyReader
	gate     Gate
	guard    Guard
	recorder Recorder
	logger   *zap.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	metrics  *executorMetrics

	fallbackTimeout time.Duration
	now             func() time.Time
	newID           func() string
}

// Option configures an Executor.
type Option func(*Executor)

// WithGate replaces the default BucketGate.
func WithGate(g Gate) Option {
	return func(ex *Executor) { ex.gate = g }
}

// WithGuard replaces the default CapabilityGuard.
func WithGuard(g Guard) Option {
	return func(ex *Executor) { ex.guard = g }
}

// WithRecorder sets the audit recorder. The default discards events.
func WithRecorder(r Recorder) Option {
	return func(ex *Executor) { ex.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ex *Executor) { ex.logger = l }
}

// WithTracer sets the tracer used for call spans.
func WithTracer(t trace.Tracer) Option {
	return func(ex *Executor) { ex.tracer = t }
}

// WithMeter sets the meter used for call metrics.
func WithMeter(m metric.Meter) Option {
	return func(ex *Executor) { ex.meter = m }
}

// WithFallbackTimeout caps the legacy attempt after a failed new-path call.
// The cap never extends the caller's deadline. Zero means no cap.
func WithFallbackTimeout(d time.Duration) Option {
	return func(ex *Executor) { ex.fallbackTimeout = d }
}

// WithClock overrides time.Now for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(ex *Executor) { ex.now = now }
}

// WithIDGenerator overrides the audit event id source.
func WithIDGenerator(newID func() string) Option {
	return func(ex *Executor) { ex.newID = newID }
}

// NewExecutor creates an Executor reading rollout states from policy.
func NewExecutor(policy PolicyReader, opts ...Option) *Executor {
	ex := &Executor{
		policy:   policy,
		gate:     BucketGate{},
		guard:    CapabilityGuard{},
		recorder: nopRecorder{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(ex)
	}
	if ex.logger == nil {
		ex.logger = zap.NewNop()
	}
	if ex.recorder == nil {
		ex.recorder = nopRecorder{}
	}
	if ex.tracer == nil {
		ex.tracer = otel.Tracer(instrumentationName)
	}
	if ex.meter == nil {
		ex.meter = otel.Meter(instrumentationName)
	}
	ex.metrics = newExecutorMetrics(ex.meter, ex.logger)
	return ex
}

// Call is one routed invocation.
type Call[Req, Out any] struct {
	Operation Operation
	Routing   RoutingContext

	// Fields lists the fields a mutating call intends to change.
	Fields FieldSet

	Request Req

	// New may be nil while an operation has no new implementation yet.
	New    Handler[Req, Out]
	Legacy Handler[Req, Out]
}

// Outcome is the final result of a routed call.
type Outcome[T any] struct {
	// Path is the implementation that produced Value or Err.
	Path  Path
	Value T
	Err   *Error

	// FellBack records that the new path failed and the legacy path was attempted.
	FellBack bool
}

// Result returns the value and the classified error as a plain error.
func (o Outcome[T]) Result() (T, error) {
	if o.Err != nil {
		return o.Value, o.Err
	}
	return o.Value, nil
}

// Execute runs call through the guard, the gate, the chosen implementation and
// at most one fallback, then records exactly one audit event.
func Execute[Req, Out any](ctx context.Context, ex *Executor, call Call[Req, Out]) Outcome[Out] {
	start := ex.now()
	op := call.Operation

	ctx, span := ex.tracer.Start(ctx, "router."+op.Name, trace.WithAttributes(
		attribute.String("router.operation", op.Name),
		attribute.Bool("router.mutates", op.Mutates),
	))
	defer span.End()

	path := ex.choosePath(ctx, call.Operation, call.Routing, call.Fields, call.New != nil)
	outcome := attempt(ctx, call, path)

	if ex.shouldFallBack(ctx, op, outcome.Path, outcome.Err, call.Legacy != nil) {
		fbCtx := ctx
		if ex.fallbackTimeout > 0 {
			var cancel context.CancelFunc
			fbCtx, cancel = context.WithTimeout(ctx, ex.fallbackTimeout)
			defer cancel()
		}

		primary := outcome.Err
		outcome = attempt(fbCtx, call, LegacyPath)
		outcome.FellBack = true
		if outcome.Err != nil {
			fellBack := *outcome.Err
			fellBack.FellBack = true
			outcome.Err = &fellBack
		}

		span.AddEvent("router.fallback", trace.WithAttributes(
			attribute.String("router.primary_error_kind", primary.Kind.String()),
		))
		ex.logger.Warn("router: new path failed, fell back to legacy",
			append(logging.ContextFields(ctx),
				zap.String("operation", op.Name),
				zap.String("primary_kind", primary.Kind.String()),
				zap.NamedError("primary_error", primary),
				zap.Bool("fallback_success", outcome.Err == nil))...)
	}

	ex.finish(ctx, span, op, outcome.Path, outcome.FellBack, outcome.Err, start)
	return outcome
}

// attempt runs one path and classifies its failure.
func attempt[Req, Out any](ctx context.Context, call Call[Req, Out], path Path) Outcome[Out] {
	handler := call.Legacy
	if path == NewPath {
		handler = call.New
	}

	value, err := invoke(ctx, handler, path, call.Request)
	if err != nil {
		var zero Out
		return Outcome[Out]{Path: path, Value: zero, Err: Classify(err)}
	}
	return Outcome[Out]{Path: path, Value: value}
}

// invoke calls h, converting a panic into an unclassified error so the call
// is still audited.
func invoke[Req, Out any](ctx context.Context, h Handler[Req, Out], path Path, req Req) (out Out, err error) {
	if h == nil {
		return out, fmt.Errorf("%w: %s", ErrNoImplementation, path)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("router: %s implementation panicked: %v", path, p)
		}
	}()
	return h(ctx, path, req)
}

func (ex *Executor) choosePath(ctx context.Context, op Operation, rc RoutingContext, fields FieldSet, hasNew bool) Path {
	if !hasNew {
		return LegacyPath
	}
	if !ex.guard.IsEligibleForNewPath(op, fields) {
		if ce := ex.logger.Check(zap.DebugLevel, "router: capability guard forced legacy path"); ce != nil {
			logFields := append(logging.ContextFields(ctx), zap.String("operation", op.Name))
			if u, ok := ex.guard.(interface {
				Unsupported(Operation, FieldSet) []string
			}); ok {
				logFields = append(logFields, zap.Strings("unsupported_fields", u.Unsupported(op, fields)))
			}
			ce.Write(logFields...)
		}
		return LegacyPath
	}
	return ex.gate.Decide(op, rc, ex.policy.Get(op.Name))
}

func (ex *Executor) shouldFallBack(ctx context.Context, op Operation, path Path, err *Error, hasLegacy bool) bool {
	if err == nil || path != NewPath || err.Kind.Terminal() || !hasLegacy {
		return false
	}
	if ctx.Err() != nil {
		ex.logger.Warn("router: caller context done, skipping fallback",
			append(logging.ContextFields(ctx),
				zap.String("operation", op.Name),
				zap.String("kind", err.Kind.String()),
				zap.Error(ctx.Err()))...)
		return false
	}
	return true
}

func (ex *Executor) finish(ctx context.Context, span trace.Span, op Operation, path Path, fellBack bool, err *Error, start time.Time) {
	end := ex.now()
	elapsed := end.Sub(start)

	event := AuditEvent{
		ID:          ex.newID(),
		Operation:   op.Name,
		Path:        path,
		Success:     err == nil,
		FellBack:    fellBack,
		TimestampMs: end.UnixMilli(),
		DurationMs:  elapsed.Milliseconds(),
	}

	span.SetAttributes(
		attribute.String("router.path", path.String()),
		attribute.Bool("router.fell_back", fellBack),
	)
	if err != nil {
		event.ErrorKind = err.Kind.String()
		span.SetAttributes(attribute.String("router.error_kind", event.ErrorKind))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Message)

		ex.logger.Info("router: call failed",
			append(logging.ContextFields(ctx),
				zap.String("operation", op.Name),
				zap.String("path", path.String()),
				zap.Bool("fell_back", fellBack),
				zap.String("kind", event.ErrorKind),
				zap.Error(err))...)
	} else if ce := ex.logger.Check(zap.DebugLevel, "router: call completed"); ce != nil {
		ce.Write(append(logging.ContextFields(ctx),
			zap.String("operation", op.Name),
			zap.String("path", path.String()),
			zap.Bool("fell_back", fellBack),
			zap.Duration("duration", elapsed))...)
	}

	ex.metrics.record(ctx, event, elapsed)
	safeRecord(ex.recorder, event, ex.logger)
}
