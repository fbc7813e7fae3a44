package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func fieldMap(fields []zap.Field) map[string]interface{} {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return enc.Fields
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_Trace(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	m := fieldMap(ContextFields(ctx))
	assert.Equal(t, span.SpanContext().TraceID().String(), m["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), m["span_id"])
	assert.Equal(t, true, m["trace_sampled"])
}

func TestContextFields_Routing(t *testing.T) {
	ctx := WithRouting(context.Background(), "U024BE7LH", "C02T4")
	ctx = WithRequestID(ctx, "req-1")

	m := fieldMap(ContextFields(ctx))
	assert.Equal(t, map[string]interface{}{
		"routing.caller":  "U024BE7LH",
		"routing.channel": "C02T4",
		"request.id":      "req-1",
	}, m)
}

func TestWithRouting(t *testing.T) {
	t.Run("channel only", func(t *testing.T) {
		ctx := WithRouting(context.Background(), "", "C1")
		r, ok := RoutingFromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, Routing{ChannelID: "C1"}, r)
		assert.NotContains(t, fieldMap(ContextFields(ctx)), "routing.caller")
	})

	t.Run("nothing supplied", func(t *testing.T) {
		ctx := WithRouting(context.Background(), "", "")
		_, ok := RoutingFromContext(ctx)
		assert.False(t, ok)
	})

	t.Run("identities outside the log charset are kept", func(t *testing.T) {
		ctx := WithRouting(context.Background(), "alice@example.com", "team alpha")
		r, ok := RoutingFromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, Routing{CallerID: "alice@example.com", ChannelID: "team alpha"}, r)

		m := fieldMap(ContextFields(ctx))
		assert.Equal(t, `"alice@example.com"`, m["routing.caller"])
		assert.Equal(t, `"team alpha"`, m["routing.channel"])
	})

	t.Run("control characters are escaped in logs only", func(t *testing.T) {
		ctx := WithRouting(context.Background(), "bad value\n", "")
		r, _ := RoutingFromContext(ctx)
		assert.Equal(t, "bad value\n", r.CallerID)
		assert.Equal(t, `"bad value\n"`, fieldMap(ContextFields(ctx))["routing.caller"])
	})

	t.Run("oversized id is truncated and not logged", func(t *testing.T) {
		ctx := WithRouting(context.Background(), strings.Repeat("a", maxRoutingIDLen+10), "C1")
		r, _ := RoutingFromContext(ctx)
		assert.Len(t, r.CallerID, maxRoutingIDLen)
		assert.Equal(t, "C1", r.ChannelID)
		assert.NotContains(t, fieldMap(ContextFields(ctx)), "routing.caller")
	})
}

func TestWithRequestID_Invalid(t *testing.T) {
	assert.Panics(t, func() { WithRequestID(context.Background(), "") })
	assert.Panics(t, func() { WithRequestID(context.Background(), "has space") })
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "stored")
	tl.AssertLogged(t, zapcore.InfoLevel, "stored")
}
