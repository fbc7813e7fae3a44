package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

// clearLegacyEnv blanks the SERVICENOW variables a developer machine may carry.
func clearLegacyEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.Contains(key, "SERVICENOW") || strings.HasPrefix(key, EnvPrefix) {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

const minimalYAML = `
legacy:
  url: https://acme.service-now.com
  username: svc_bridge
  password: hunter2
`

func TestLoad_Defaults(t *testing.T) {
	clearLegacyEnv(t)
	cfg, err := Load(writeConfig(t, minimalYAML, 0o600))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 30*time.Second, cfg.Rollout.RefreshInterval.Duration())
	assert.True(t, cfg.Legacy.VerifySSL)
	assert.Equal(t, 30*time.Second, cfg.Legacy.Timeout.Duration())
	assert.Equal(t, "hunter2", cfg.Legacy.Password.Value())
	assert.False(t, cfg.Repository.Enabled())
	assert.Equal(t, 1024, cfg.Audit.BufferSize)
	assert.Equal(t, "bridge.audit", cfg.Audit.NATSSubject)
	assert.Equal(t, 200, cfg.Audit.RecentEvents)
}

func TestLoad_FileAndEnv(t *testing.T) {
	clearLegacyEnv(t)
	path := writeConfig(t, minimalYAML+`
server:
  http_port: 9000
rollout:
  policy_file: /etc/bridge/policy.yaml
  fallback_timeout: 5s
  defaults:
    getRecord: on
    createRecord: 25
repository:
  url: https://records.internal
  token_url: https://auth.internal/oauth/token
  client_id: bridge
  client_secret: abc
  scopes: [records.read, records.write]
`, 0o600)

	t.Setenv("BRIDGE_SERVER_HTTP_PORT", "9100")
	t.Setenv("BRIDGE_LEGACY_VERIFY_SSL", "false")
	t.Setenv("BRIDGE_AUDIT_NATS_URL", "nats://127.0.0.1:4222")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "env overrides file")
	assert.False(t, cfg.Legacy.VerifySSL)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Audit.NATSURL)
	assert.Equal(t, "/etc/bridge/policy.yaml", cfg.Rollout.PolicyFile)
	assert.Equal(t, 5*time.Second, cfg.Rollout.FallbackTimeout.Duration())
	assert.Len(t, cfg.Rollout.Defaults, 2)
	assert.True(t, cfg.Repository.Enabled())
	assert.Equal(t, []string{"records.read", "records.write"}, cfg.Repository.Scopes)
	assert.Equal(t, "abc", cfg.Repository.ClientSecret.Value())
}

func TestLoad_LegacyEnvironmentFallback(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("BRIDGE_LEGACY_ENVIRONMENT", "uat")
	t.Setenv("SERVICENOW_UAT_URL", "https://acme-uat.service-now.com/")
	t.Setenv("UAT_SERVICENOW_USERNAME", "uat_user")
	t.Setenv("SERVICENOW_PASSWORD", "shared")
	t.Setenv("SERVICENOW_TIMEOUT", "45")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://acme-uat.service-now.com", cfg.Legacy.URL)
	assert.Equal(t, "uat_user", cfg.Legacy.Username)
	assert.Equal(t, "shared", cfg.Legacy.Password.Value())
	assert.Equal(t, 45*time.Second, cfg.Legacy.Timeout.Duration())
}

func TestLoad_Errors(t *testing.T) {
	clearLegacyEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "legacy: [", 0o600))
	assert.ErrorContains(t, err, "failed to parse")

	_, err = Load("")
	assert.ErrorContains(t, err, "legacy url is required")

	_, err = Load(writeConfig(t, minimalYAML+"server:\n  http_port: 70000\n", 0o600))
	assert.ErrorContains(t, err, "invalid server port")

	if runtime.GOOS != "windows" {
		_, err = Load(writeConfig(t, minimalYAML, 0o666))
		assert.ErrorContains(t, err, "insecure config file permissions")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		c := Defaults()
		c.Legacy.URL = "https://acme.service-now.com"
		c.Legacy.Username = "u"
		c.Legacy.Password = "p"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"shutdown", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown timeout"},
		{"format", func(c *Config) { c.Logging.Format = "text" }, "logging format"},
		{"telemetry without endpoint", func(c *Config) {
			c.Observability.EnableTelemetry = true
			c.Observability.Endpoint = ""
		}, "otlp endpoint"},
		{"legacy scheme", func(c *Config) { c.Legacy.URL = "ftp://acme" }, "unsupported scheme"},
		{"legacy password", func(c *Config) { c.Legacy.Password = "" }, "username and password"},
		{"repository url", func(c *Config) { c.Repository.URL = "records" }, "repository url"},
		{"repository secret", func(c *Config) {
			c.Repository.URL = "https://records.internal"
			c.Repository.TokenURL = "https://auth.internal/token"
			c.Repository.ClientID = "bridge"
		}, "client_secret"},
		{"audit buffer", func(c *Config) { c.Audit.BufferSize = 0 }, "audit buffer"},
		{"audit recent events", func(c *Config) { c.Audit.RecentEvents = -1 }, "recent_events"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestApplyLegacyEnvironment(t *testing.T) {
	env := map[string]string{
		"PROD_SERVICENOW_URL":      "https://acme.service-now.com/",
		"SERVICENOW_PROD_URL":      "https://shadowed.service-now.com",
		"SERVICENOW_PROD_USERNAME": "prod_user",
		"SERVICENOW_USERNAME":      "shadowed",
		"SERVICENOW_PASSWORD":      "pw",
		"SERVICENOW_VERIFY_SSL":    "FALSE",
		"SERVICENOW_PROD_TIMEOUT":  "60",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	t.Run("lookup order", func(t *testing.T) {
		cfg := Defaults().Legacy
		cfg.Environment = "prod"
		require.NoError(t, applyLegacyEnvironment(&cfg, koanf.New("."), lookup))
		assert.Equal(t, "https://acme.service-now.com", cfg.URL)
		assert.Equal(t, "prod_user", cfg.Username)
		assert.Equal(t, "pw", cfg.Password.Value())
		assert.False(t, cfg.VerifySSL)
		assert.Equal(t, time.Minute, cfg.Timeout.Duration())
	})

	t.Run("configured values win", func(t *testing.T) {
		k := koanf.New(".")
		require.NoError(t, k.Set("legacy.timeout", "5s"))
		require.NoError(t, k.Set("legacy.verify_ssl", true))
		cfg := Defaults().Legacy
		cfg.Environment = "prod"
		cfg.URL = "https://explicit.service-now.com"
		cfg.Timeout = Duration(5 * time.Second)
		require.NoError(t, applyLegacyEnvironment(&cfg, k, lookup))
		assert.Equal(t, "https://explicit.service-now.com", cfg.URL)
		assert.True(t, cfg.VerifySSL)
		assert.Equal(t, 5*time.Second, cfg.Timeout.Duration())
	})

	t.Run("invalid timeout", func(t *testing.T) {
		env["SERVICENOW_PROD_TIMEOUT"] = "soon"
		defer func() { env["SERVICENOW_PROD_TIMEOUT"] = "60" }()
		cfg := Defaults().Legacy
		cfg.Environment = "prod"
		assert.ErrorContains(t, applyLegacyEnvironment(&cfg, koanf.New("."), lookup), "invalid legacy timeout")
	})
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.NoError(t, d.UnmarshalText([]byte("30")))
	assert.Equal(t, 30*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("-5")))
	assert.Error(t, d.UnmarshalText([]byte("later")))

	b, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `"2s"`, string(b))
}

func TestSecret(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())
	assert.Empty(t, Secret("").String())

	b, err := json.Marshal(struct {
		Password Secret `json:"password"`
	}{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"password":"[REDACTED]"}`, string(b))
}
