package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/router"
)

// DefaultSubjectPrefix is the NATS subject root for audit events.
const DefaultSubjectPrefix = "bridge.audit"

// NATSSink publishes each event as JSON to:
//
//	{prefix}.{operation}.{outcome}
//
// so consumers can subscribe to "bridge.audit.*.error" for failures only.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSSink creates a sink publishing on nc. An empty prefix uses DefaultSubjectPrefix.
func NewNATSSink(nc *nats.Conn, prefix string) (*NATSSink, error) {
	if nc == nil {
		return nil, errors.New("audit: nats connection is required")
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{nc: nc, prefix: strings.TrimSuffix(prefix, ".")}, nil
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("bridge-audit"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("audit: connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Name implements Sink.
func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject event is published on.
func (s *NATSSink) Subject(ev router.AuditEvent) string {
	return fmt.Sprintf("%s.%s.%s", s.prefix, subjectToken(ev.Operation), ev.Outcome())
}

// Write implements Sink.
func (s *NATSSink) Write(ctx context.Context, ev router.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if err := s.nc.Publish(s.Subject(ev), data); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// subjectToken makes name safe as a single subject token.
func subjectToken(name string) string {
	if name == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, name)
}
