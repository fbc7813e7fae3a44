package logging

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/config"
)

const maxPatternLen = 200

// Config controls logger construction.
type Config struct {
	Level      zapcore.Level     `koanf:"level"`
	Format     string            `koanf:"format"`
	Output     OutputConfig      `koanf:"output"`
	Sampling   SamplingConfig    `koanf:"sampling"`
	Caller     bool              `koanf:"caller"`
	Stacktrace zapcore.Level     `koanf:"stacktrace"`
	Fields     map[string]string `koanf:"fields"`
	Redaction  RedactionConfig   `koanf:"redaction"`
}

// OutputConfig selects log destinations.
type OutputConfig struct {
	Stdout bool `koanf:"stdout"`
	OTEL   bool `koanf:"otel"`
}

// SamplingConfig limits log volume per level within each tick.
type SamplingConfig struct {
	Enabled bool                            `koanf:"enabled"`
	Tick    config.Duration                 `koanf:"tick"`
	Levels  map[zapcore.Level]LevelSampling `koanf:"levels"`
}

// LevelSampling keeps the first Initial entries per tick, then every
// Thereafter-th. Thereafter 0 drops the rest.
type LevelSampling struct {
	Initial    int `koanf:"initial"`
	Thereafter int `koanf:"thereafter"`
}

// RedactionConfig lists keys and value patterns masked on stdout.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Fields   []string `koanf:"fields"`
	Patterns []string `koanf:"patterns"`
}

// NewDefaultConfig returns production defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: OutputConfig{Stdout: true},
		Sampling: SamplingConfig{
			Enabled: true,
			Tick:    config.Duration(time.Second),
			Levels:  DefaultSampling(),
		},
		Caller:     true,
		Stacktrace: zapcore.ErrorLevel,
		Fields:     map[string]string{"service": "bridge"},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "client_secret",
				"authorization", "bearer", "credential",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)basic\s+[a-z0-9+/=]{8,}`,
			},
		},
	}
}

// DefaultSampling returns the per-level defaults.
func DefaultSampling() map[zapcore.Level]LevelSampling {
	return map[zapcore.Level]LevelSampling{
		TraceLevel:         {Initial: 1},
		zapcore.DebugLevel: {Initial: 10},
		zapcore.InfoLevel:  {Initial: 100, Thereafter: 10},
		zapcore.WarnLevel:  {Initial: 100, Thereafter: 100},
	}
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.OTEL {
		return errors.New("at least one output must be enabled (stdout or otel)")
	}
	if c.Sampling.Enabled && c.Sampling.Tick.Duration() <= 0 {
		return errors.New("sampling tick must be > 0 when sampling is enabled")
	}
	for lvl, s := range c.Sampling.Levels {
		if s.Initial < 0 || s.Thereafter < 0 {
			return fmt.Errorf("sampling for %s must not be negative", lvl)
		}
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > maxPatternLen {
				return fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
			}
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("invalid redaction pattern %q: %w", p, err)
			}
		}
	}
	for k, v := range c.Fields {
		if k == "" {
			return errors.New("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
	}
	return nil
}
