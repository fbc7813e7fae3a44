package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"syscall"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug for wire-level detail.
const TraceLevel = zapcore.Level(-2)

// ParseLevel parses a level name, accepting "trace".
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "trace" {
		return TraceLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel, err
	}
	return lvl, nil
}

// Logger is a context-aware zap logger.
type Logger struct {
	zap *zap.Logger
}

// NewLogger builds a logger from cfg. provider may be nil, which disables
// OTEL output even when configured.
func NewLogger(cfg *Config, provider log.LoggerProvider) (*Logger, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}

	core, err := buildCore(cfg, provider)
	if err != nil {
		return nil, err
	}

	var opts []zap.Option
	if cfg.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	if cfg.Stacktrace != 0 {
		opts = append(opts, zap.AddStacktrace(cfg.Stacktrace))
	}
	z := zap.New(core, opts...)

	if len(cfg.Fields) > 0 {
		keys := make([]string, 0, len(cfg.Fields))
		for k := range cfg.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]zap.Field, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, zap.String(k, cfg.Fields[k]))
		}
		z = z.With(fields...)
	}
	return &Logger{zap: z}, nil
}

// Wrap adapts an existing zap logger.
func Wrap(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{zap: z}
}

// Nop returns a logger that discards everything.
func Nop() *Logger { return &Logger{zap: zap.NewNop()} }

func buildCore(cfg *Config, provider log.LoggerProvider) (zapcore.Core, error) {
	var cores []zapcore.Core

	if cfg.Output.Stdout {
		enc, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stdout), cfg.Level))
	}
	if cfg.Output.OTEL && provider != nil {
		cores = append(cores, otelzap.NewCore("bridge", otelzap.WithLoggerProvider(provider)))
	}
	if len(cores) == 0 {
		return nil, errors.New("logging: no output available")
	}

	return newSampledCore(zapcore.NewTee(cores...), cfg.Sampling), nil
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = encodeLevel
	if format == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}

func (l *Logger) log(ctx context.Context, lvl zapcore.Level, msg string, fields []zap.Field) {
	if ce := l.zap.Check(lvl, msg); ce != nil {
		ce.Write(append(ContextFields(ctx), fields...)...)
	}
}

func (l *Logger) Trace(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, TraceLevel, msg, fields)
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

// With returns a child logger carrying fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

// Named returns a child logger with a name segment appended.
func (l *Logger) Named(name string) *Logger {
	return &Logger{zap: l.zap.Named(name)}
}

// Enabled reports whether lvl would be logged.
func (l *Logger) Enabled(lvl zapcore.Level) bool {
	return l.zap.Core().Enabled(lvl)
}

// Underlying returns the wrapped zap logger for components that take one.
func (l *Logger) Underlying() *zap.Logger { return l.zap }

// Sync flushes buffered entries. EINVAL and ENOTTY from syncing a terminal
// stdout are ignored.
func (l *Logger) Sync() error {
	err := l.zap.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}

// newSampledCore samples each configured level independently. Error and
// above, and levels without an entry, pass through unsampled.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled || len(cfg.Levels) == 0 {
		return core
	}

	cores := []zapcore.Core{&levelFilter{Core: core, allow: func(lvl zapcore.Level) bool {
		if lvl >= zapcore.ErrorLevel {
			return true
		}
		_, sampled := cfg.Levels[lvl]
		return !sampled
	}}}

	for lvl, s := range cfg.Levels {
		if lvl >= zapcore.ErrorLevel {
			continue
		}
		target := lvl
		only := &levelFilter{Core: core, allow: func(l zapcore.Level) bool { return l == target }}
		cores = append(cores, zapcore.NewSamplerWithOptions(only, cfg.Tick.Duration(), s.Initial, s.Thereafter))
	}
	return zapcore.NewTee(cores...)
}

type levelFilter struct {
	zapcore.Core
	allow func(zapcore.Level) bool
}

func (c *levelFilter) Enabled(lvl zapcore.Level) bool {
	return c.allow(lvl) && c.Core.Enabled(lvl)
}

func (c *levelFilter) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.allow(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilter) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilter{Core: c.Core.With(fields), allow: c.allow}
}
