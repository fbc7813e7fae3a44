// Package config loads bridge configuration.
//
// Values come from, lowest precedence first: Defaults, an optional YAML
// file, then BRIDGE_* environment variables. Legacy table API credentials
// additionally fall back to the SERVICENOW_* variables used by existing
// deployments when neither the file nor BRIDGE_LEGACY_* sets them.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config is the complete bridge configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Rollout       RolloutConfig       `koanf:"rollout"`
	Legacy        LegacyConfig        `koanf:"legacy"`
	Repository    RepositoryConfig    `koanf:"repository"`
	Audit         AuditConfig         `koanf:"audit"`
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// LoggingConfig selects level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig controls OpenTelemetry export.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	Endpoint        string `koanf:"endpoint"`
	ServiceName     string `koanf:"service_name"`
	Insecure        bool   `koanf:"insecure"`
}

// RolloutConfig locates the policy and controls refresh.
type RolloutConfig struct {
	// PolicyFile is YAML, JSON or TOML with an "operations" section. Optional.
	PolicyFile      string   `koanf:"policy_file"`
	RefreshInterval Duration `koanf:"refresh_interval"`
	Watch           bool     `koanf:"watch"`
	FallbackTimeout Duration `koanf:"fallback_timeout"`

	// Defaults apply beneath the policy file, keyed by operation name.
	Defaults map[string]interface{} `koanf:"defaults"`
}

// LegacyConfig is the table API instance.
type LegacyConfig struct {
	// Environment selects SERVICENOW_<ENV>_* fallback variables.
	Environment string   `koanf:"environment"`
	URL         string   `koanf:"url"`
	Username    string   `koanf:"username"`
	Password    Secret   `koanf:"password"`
	VerifySSL   bool     `koanf:"verify_ssl"`
	Timeout     Duration `koanf:"timeout"`
	RateLimit   float64  `koanf:"rate_limit"`
	Burst       int      `koanf:"burst"`
}

// RepositoryConfig is the new record repository. An empty URL disables the new path.
type RepositoryConfig struct {
	URL          string   `koanf:"url"`
	TokenURL     string   `koanf:"token_url"`
	ClientID     string   `koanf:"client_id"`
	ClientSecret Secret   `koanf:"client_secret"`
	Scopes       []string `koanf:"scopes"`
	Timeout      Duration `koanf:"timeout"`
}

// Enabled reports whether a repository is configured.
func (r RepositoryConfig) Enabled() bool { return r.URL != "" }

// AuditConfig controls the audit recorder and its sinks.
type AuditConfig struct {
	BufferSize   int      `koanf:"buffer_size"`
	WriteTimeout Duration `koanf:"write_timeout"`
	LogEvents    bool     `koanf:"log_events"`
	NATSURL      string   `koanf:"nats_url"`
	NATSSubject  string   `koanf:"nats_subject"`
	// RecentEvents is how many events GET /api/v1/audit/recent keeps. Zero disables it.
	RecentEvents int `koanf:"recent_events"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Observability: ObservabilityConfig{
			ServiceName: "bridge",
			Endpoint:    "localhost:4317",
			Insecure:    true,
		},
		Rollout: RolloutConfig{
			RefreshInterval: Duration(30 * time.Second),
			Watch:           true,
		},
		Legacy: LegacyConfig{
			VerifySSL: true,
			Timeout:   Duration(30 * time.Second),
		},
		Repository: RepositoryConfig{
			Timeout: Duration(15 * time.Second),
		},
		Audit: AuditConfig{
			BufferSize:   1024,
			WriteTimeout: Duration(2 * time.Second),
			LogEvents:    true,
			NATSSubject:  "bridge.audit",
			RecentEvents: 200,
		},
	}
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Observability.EnableTelemetry {
		if c.Observability.ServiceName == "" {
			return errors.New("service name required when telemetry is enabled")
		}
		if c.Observability.Endpoint == "" {
			return errors.New("otlp endpoint required when telemetry is enabled")
		}
	}
	if c.Rollout.RefreshInterval < 0 {
		return errors.New("rollout refresh interval must not be negative")
	}
	if c.Legacy.URL == "" {
		return errors.New("legacy url is required")
	}
	if err := validURL(c.Legacy.URL); err != nil {
		return fmt.Errorf("legacy url: %w", err)
	}
	if c.Legacy.Username == "" || !c.Legacy.Password.IsSet() {
		return errors.New("legacy username and password are required")
	}
	if c.Legacy.RateLimit < 0 || c.Legacy.Burst < 0 {
		return errors.New("legacy rate limit and burst must not be negative")
	}
	if c.Repository.Enabled() {
		if err := validURL(c.Repository.URL); err != nil {
			return fmt.Errorf("repository url: %w", err)
		}
		if c.Repository.TokenURL != "" && (c.Repository.ClientID == "" || !c.Repository.ClientSecret.IsSet()) {
			return errors.New("repository client_id and client_secret are required with token_url")
		}
	}
	if c.Audit.BufferSize < 1 {
		return fmt.Errorf("audit buffer size must be positive, got %d", c.Audit.BufferSize)
	}
	if c.Audit.RecentEvents < 0 {
		return fmt.Errorf("audit recent_events cannot be negative, got %d", c.Audit.RecentEvents)
	}
	return nil
}

func validURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
