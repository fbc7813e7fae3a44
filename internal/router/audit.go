package router

import (
	"go.uber.org/zap"
)

// AuditEvent summarizes one routed call after its final outcome is known.
type AuditEvent struct {
	ID          string `json:"id"`
	Operation   string `json:"operation"`
	Path        Path   `json:"path"`
	Success     bool   `json:"success"`
	FellBack    bool   `json:"fell_back"`
	ErrorKind   string `json:"error_kind,omitempty"`
	TimestampMs int64  `json:"timestamp_ms"`
	DurationMs  int64  `json:"duration_ms"`
}

// Outcome returns "success" or "error" for metric labels and subjects.
func (e AuditEvent) Outcome() string {
	if e.Success {
		return "success"
	}
	return "error"
}

// Recorder receives audit events. Record must not block the caller for long
// and its failures never fail the call.
type Recorder interface {
	Record(event AuditEvent)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(event AuditEvent)

// Record calls f.
func (f RecorderFunc) Record(event AuditEvent) { f(event) }

type nopRecorder struct{}

func (nopRecorder) Record(AuditEvent) {}

// safeRecord hands event to r, swallowing panics.
func safeRecord(r Recorder, event AuditEvent, logger *zap.Logger) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("router: audit recorder panicked",
				zap.String("operation", event.Operation),
				zap.Any("panic", p))
		}
	}()
	r.Record(event)
}
