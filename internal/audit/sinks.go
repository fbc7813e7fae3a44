package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/router"
)

// LogSink writes each event as one structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging at info level.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Write implements Sink.
func (s *LogSink) Write(_ context.Context, ev router.AuditEvent) error {
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("operation", ev.Operation),
		zap.String("path", ev.Path.String()),
		zap.Bool("success", ev.Success),
		zap.Bool("fell_back", ev.FellBack),
		zap.Time("at", time.UnixMilli(ev.TimestampMs).UTC()),
		zap.Int64("duration_ms", ev.DurationMs),
	}
	if ev.ErrorKind != "" {
		fields = append(fields, zap.String("error_kind", ev.ErrorKind))
	}
	s.logger.Info("routed call", fields...)
	return nil
}

// MemorySink keeps the most recent events in memory for
// GET /api/v1/audit/recent.
type MemorySink struct {
	mu     sync.Mutex
	limit  int
	events []router.AuditEvent
}

// NewMemorySink keeps at most limit events, oldest first out. Zero means unbounded.
func NewMemorySink(limit int) *MemorySink {
	return &MemorySink{limit: limit}
}

// Name implements Sink.
func (s *MemorySink) Name() string { return "memory" }

// Write implements Sink.
func (s *MemorySink) Write(_ context.Context, ev router.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if s.limit > 0 && len(s.events) > s.limit {
		s.events = append(s.events[:0:0], s.events[len(s.events)-s.limit:]...)
	}
	return nil
}

// Events returns a copy of the stored events.
func (s *MemorySink) Events() []router.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]router.AuditEvent(nil), s.events...)
}

// Len returns the number of stored events.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
