package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/v2"
)

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

func legacyPrefixes(environment string) []string {
	env := strings.ToUpper(strings.TrimSpace(environment))
	if env == "" {
		return []string{"SERVICENOW"}
	}
	return []string{env + "_SERVICENOW", "SERVICENOW_" + env, "SERVICENOW"}
}

// lookupLegacy returns the first non-empty <prefix>_<suffix> value.
func lookupLegacy(prefixes []string, suffix string, lookup LookupFunc) string {
	for _, p := range prefixes {
		if v, ok := lookup(p + "_" + suffix); ok && v != "" {
			return v
		}
	}
	return ""
}

// applyLegacyEnvironment fills legacy settings that neither the file nor
// BRIDGE_LEGACY_* provided, the way existing deployments set them:
// <ENV>_SERVICENOW_*, then SERVICENOW_<ENV>_*, then SERVICENOW_*. Only
// VERIFY_SSL=false disables verification; a bare TIMEOUT is seconds.
func applyLegacyEnvironment(dst *LegacyConfig, k *koanf.Koanf, lookup LookupFunc) error {
	prefixes := legacyPrefixes(dst.Environment)

	if dst.URL == "" {
		dst.URL = strings.TrimRight(lookupLegacy(prefixes, "URL", lookup), "/")
	}
	if dst.Username == "" {
		dst.Username = lookupLegacy(prefixes, "USERNAME", lookup)
	}
	if !dst.Password.IsSet() {
		dst.Password = Secret(lookupLegacy(prefixes, "PASSWORD", lookup))
	}
	if !k.Exists("legacy.verify_ssl") {
		if v := lookupLegacy(prefixes, "VERIFY_SSL", lookup); v != "" {
			dst.VerifySSL = !strings.EqualFold(v, "false")
		}
	}
	if !k.Exists("legacy.timeout") {
		if raw := lookupLegacy(prefixes, "TIMEOUT", lookup); raw != "" {
			if err := dst.Timeout.UnmarshalText([]byte(raw)); err != nil {
				return fmt.Errorf("invalid legacy timeout %q: %w", raw, err)
			}
		}
	}
	return nil
}
