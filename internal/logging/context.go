package logging

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	maxIDLen = 128

	// maxRoutingIDLen caps routing identities. Longer values are truncated,
	// which keeps them stable for bucketing.
	maxRoutingIDLen = 512
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

type routingKey struct{}
type requestKey struct{}
type loggerKey struct{}

// Routing is the caller identity a call was routed for.
type Routing struct {
	CallerID  string
	ChannelID string
}

// ContextFields returns the correlation fields carried by ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if r, ok := RoutingFromContext(ctx); ok {
		if id, ok := loggableID(r.CallerID); ok {
			fields = append(fields, zap.String("routing.caller", id))
		}
		if id, ok := loggableID(r.ChannelID); ok {
			fields = append(fields, zap.String("routing.channel", id))
		}
	}

	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

// loggableID returns id as written to log fields. Ids outside the plain
// character set are quoted with non-ASCII and control characters escaped;
// oversized ones are omitted.
func loggableID(id string) (string, bool) {
	if id == "" || len(id) > maxIDLen {
		return "", false
	}
	if idPattern.MatchString(id) {
		return id, true
	}
	return strconv.QuoteToASCII(id), true
}

// WithRouting attaches the routing identity exactly as supplied, truncated
// to maxRoutingIDLen bytes. Log fields are sanitized separately.
func WithRouting(ctx context.Context, callerID, channelID string) context.Context {
	r := Routing{
		CallerID:  truncateID(callerID),
		ChannelID: truncateID(channelID),
	}
	if r == (Routing{}) {
		return ctx
	}
	return context.WithValue(ctx, routingKey{}, r)
}

func truncateID(id string) string {
	if len(id) > maxRoutingIDLen {
		return id[:maxRoutingIDLen]
	}
	return id
}

// RoutingFromContext returns the routing identity, if any.
func RoutingFromContext(ctx context.Context) (Routing, bool) {
	r, ok := ctx.Value(routingKey{}).(Routing)
	return r, ok
}

// WithRequestID attaches a request id. It panics on an invalid id, which
// only a programming error can produce.
func WithRequestID(ctx context.Context, id string) context.Context {
	if err := validID(id); err != nil {
		panic(fmt.Sprintf("logging: request id: %v", err))
	}
	return context.WithValue(ctx, requestKey{}, id)
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestKey{}).(string)
	return id
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the stored logger or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok && l != nil {
		return l
	}
	return Nop()
}

// ValidID reports whether id is acceptable as a request id.
func ValidID(id string) bool { return validID(id) == nil }

func validID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("empty")
	case len(id) > maxIDLen:
		return fmt.Errorf("exceeds %d bytes", maxIDLen)
	case !idPattern.MatchString(id):
		return fmt.Errorf("invalid characters in %q", id)
	}
	return nil
}
