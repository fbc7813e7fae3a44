// Package audit delivers router audit events to their sinks.
//
// The Recorder is fire-and-forget: Record enqueues into a bounded buffer and
// returns immediately. A single worker drains the buffer and writes each event
// to every sink in order. A full buffer drops the event, and a failing sink is
// logged and counted. Neither ever reaches the routed call.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/router"
)

const (
	// DefaultBufferSize is used when Config.BufferSize is zero.
	DefaultBufferSize = 1024

	// DefaultWriteTimeout bounds a single sink write.
	DefaultWriteTimeout = 2 * time.Second
)

// ErrClosed is returned by Close when the recorder was already closed.
var ErrClosed = errors.New("audit: recorder closed")

// Sink is an append-only audit destination.
type Sink interface {
	Name() string
	Write(ctx context.Context, event router.AuditEvent) error
}

// Config controls buffering.
type Config struct {
	BufferSize   int
	WriteTimeout time.Duration
}

// Recorder implements router.Recorder over a set of sinks.
type Recorder struct {
	sinks        []Sink
	logger       *zap.Logger
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	events chan router.AuditEvent
	done   chan struct{}

	dropped atomic.Uint64
	written atomic.Uint64
}

var _ router.Recorder = (*Recorder)(nil)

// NewRecorder starts a recorder writing to sinks. Call Close to drain it.
func NewRecorder(cfg Config, logger *zap.Logger, sinks ...Sink) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{
		sinks:        sinks,
		logger:       logger,
		writeTimeout: cfg.WriteTimeout,
		events:       make(chan router.AuditEvent, cfg.BufferSize),
		done:         make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues event without blocking.
func (r *Recorder) Record(event router.AuditEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(event, "closed")
		return
	}
	select {
	case r.events <- event:
	default:
		r.drop(event, "buffer_full")
	}
}

func (r *Recorder) drop(event router.AuditEvent, reason string) {
	r.dropped.Add(1)
	droppedTotal.WithLabelValues(reason).Inc()
	r.logger.Debug("audit: event dropped",
		zap.String("operation", event.Operation),
		zap.String("reason", reason))
}

// Dropped returns the number of events that never reached the sinks.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns the number of events handed to every sink.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Close stops accepting events and waits for the buffer to drain or ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit: drain: %w", ctx.Err())
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for event := range r.events {
		for _, sink := range r.sinks {
			r.write(sink, event)
		}
		r.written.Add(1)
	}
}

func (r *Recorder) write(sink Sink, event router.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			sinkErrorsTotal.WithLabelValues(sink.Name()).Inc()
			r.logger.Error("audit: sink panicked",
				zap.String("sink", sink.Name()),
				zap.Any("panic", p))
		}
	}()

	if err := sink.Write(ctx, event); err != nil {
		sinkErrorsTotal.WithLabelValues(sink.Name()).Inc()
		r.logger.Warn("audit: sink write failed",
			zap.String("sink", sink.Name()),
			zap.String("operation", event.Operation),
			zap.Error(err))
	}
}
