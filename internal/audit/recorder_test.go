package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/router"
)

func event(op string, success bool) router.AuditEvent {
	return router.AuditEvent{
		ID:          "evt-" + op,
		Operation:   op,
		Path:        router.NewPath,
		Success:     success,
		TimestampMs: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		DurationMs:  12,
	}
}

type errSink struct{}

func (errSink) Name() string { return "broken" }
func (errSink) Write(context.Context, router.AuditEvent) error {
	return errors.New("disk full")
}

type panicSink struct{}

func (panicSink) Name() string { return "panicky" }
func (panicSink) Write(context.Context, router.AuditEvent) error {
	panic("nil writer")
}

// blockingSink signals when it receives an event and waits for release.
type blockingSink struct {
	received chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (s *blockingSink) Name() string { return "blocking" }
func (s *blockingSink) Write(ctx context.Context, ev router.AuditEvent) error {
	s.once.Do(func() { close(s.received) })
	<-s.release
	return nil
}

func TestRecorder_FansOutToSinks(t *testing.T) {
	defer goleak.VerifyNone(t)

	first := NewMemorySink(0)
	second := NewMemorySink(0)
	rec := NewRecorder(Config{BufferSize: 16}, zap.NewNop(), first, second)

	rec.Record(event("getRecord", true))
	rec.Record(event("updateRecord", false))
	require.NoError(t, rec.Close(context.Background()))

	for _, sink := range []*MemorySink{first, second} {
		events := sink.Events()
		require.Len(t, events, 2)
		assert.Equal(t, "getRecord", events[0].Operation)
		assert.Equal(t, "updateRecord", events[1].Operation)
	}
	assert.Equal(t, uint64(2), rec.Written())
	assert.Equal(t, uint64(0), rec.Dropped())
}

func TestRecorder_SinkFailuresAreIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)

	core, logs := observer.New(zapcore.WarnLevel)
	mem := NewMemorySink(0)
	rec := NewRecorder(Config{}, zap.New(core), errSink{}, panicSink{}, mem)

	rec.Record(event("closeRecord", true))
	require.NoError(t, rec.Close(context.Background()))

	assert.Equal(t, 1, mem.Len(), "a failing sink must not starve later sinks")
	assert.Equal(t, 1, logs.FilterMessage("audit: sink write failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("audit: sink panicked").Len())
}

func TestRecorder_DropsWhenBufferFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &blockingSink{received: make(chan struct{}), release: make(chan struct{})}
	rec := NewRecorder(Config{BufferSize: 1}, zap.NewNop(), sink)

	rec.Record(event("a", true))
	select {
	case <-sink.received:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first event")
	}

	start := time.Now()
	rec.Record(event("b", true)) // fills the buffer
	rec.Record(event("c", true)) // dropped
	assert.Less(t, time.Since(start), time.Second, "Record must not block")
	assert.Equal(t, uint64(1), rec.Dropped())

	close(sink.release)
	require.NoError(t, rec.Close(context.Background()))
	assert.Equal(t, uint64(2), rec.Written())
}

func TestRecorder_RecordAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := NewRecorder(Config{}, zap.NewNop())
	require.NoError(t, rec.Close(context.Background()))

	rec.Record(event("late", true))
	assert.Equal(t, uint64(1), rec.Dropped())
	assert.ErrorIs(t, rec.Close(context.Background()), ErrClosed)
}

func TestRecorder_CloseHonorsContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &blockingSink{received: make(chan struct{}), release: make(chan struct{})}
	rec := NewRecorder(Config{}, zap.NewNop(), sink)
	rec.Record(event("slow", true))
	<-sink.received

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := rec.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(sink.release)
	<-rec.done
}

func TestRecorder_WithExecutor(t *testing.T) {
	mem := NewMemorySink(0)
	rec := NewRecorder(Config{}, zap.NewNop(), mem)
	ex := router.NewExecutor(staticPolicy{}, router.WithRecorder(rec))

	for i := 0; i < 5; i++ {
		router.Execute(context.Background(), ex, router.Call[int, int]{
			Operation: router.Operation{Name: "getRecord"},
			Request:   i,
			Legacy: func(ctx context.Context, path router.Path, req int) (int, error) {
				return req * 2, nil
			},
		})
	}
	require.NoError(t, rec.Close(context.Background()))

	events := mem.Events()
	require.Len(t, events, 5)
	for _, ev := range events {
		assert.Equal(t, router.LegacyPath, ev.Path)
		assert.True(t, ev.Success)
	}
}

func TestMemorySink_Limit(t *testing.T) {
	sink := NewMemorySink(2)
	for _, op := range []string{"a", "b", "c"} {
		require.NoError(t, sink.Write(context.Background(), event(op, true)))
	}
	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].Operation)
	assert.Equal(t, "c", events[1].Operation)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	ev := event("updateRecord", false)
	ev.FellBack = true
	ev.ErrorKind = "transient"
	require.NoError(t, sink.Write(context.Background(), ev))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "updateRecord", fields["operation"])
	assert.Equal(t, "new", fields["path"])
	assert.Equal(t, true, fields["fell_back"])
	assert.Equal(t, "transient", fields["error_kind"])
}
