// Package telemetry sets up OpenTelemetry tracing and metrics for the bridge.
// When disabled, components fall back to the otel global no-op providers.
package telemetry

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/config"
)

// Config controls OTLP export.
type Config struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string

	// Insecure disables TLS. Only allowed for loopback endpoints.
	Insecure      bool
	TLSSkipVerify bool

	// SampleRate is the parent-based trace ratio in [0, 1].
	SampleRate      float64
	ExportInterval  time.Duration
	ShutdownTimeout time.Duration
}

// NewDefaultConfig returns disabled telemetry pointing at a local collector.
func NewDefaultConfig() *Config {
	return &Config{
		Endpoint:        "localhost:4317",
		ServiceName:     "bridge",
		ServiceVersion:  "dev",
		Insecure:        true,
		SampleRate:      1,
		ExportInterval:  15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// FromObservability maps the observability config section.
func FromObservability(o config.ObservabilityConfig, version string) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = o.EnableTelemetry
	if o.Endpoint != "" {
		cfg.Endpoint = o.Endpoint
	}
	if o.ServiceName != "" {
		cfg.ServiceName = o.ServiceName
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Insecure = o.Insecure
	return cfg
}

// Validate reports configuration errors. A disabled config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return errors.New("service name is required when telemetry is enabled")
	}
	if c.Insecure && !isLoopback(c.Endpoint) {
		return fmt.Errorf("insecure export to non-loopback endpoint %q is not allowed", c.Endpoint)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate must be between 0 and 1, got %v", c.SampleRate)
	}
	if c.ExportInterval <= 0 {
		return errors.New("export interval must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	return nil
}

func isLoopback(endpoint string) bool {
	host := endpoint
	if h, _, err := net.SplitHostPort(endpoint); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
