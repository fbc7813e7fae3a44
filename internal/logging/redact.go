package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/config"
)

const redacted = "[REDACTED]"

// Secret logs a config.Secret as its redacted length only.
func Secret(key string, val config.Secret) zap.Field {
	return RedactedString(key, val.Value())
}

// RedactedString logs a value as its length only.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// RedactingEncoder masks sensitive keys (case-insensitive, substring match)
// and string values matching any pattern.
type RedactingEncoder struct {
	zapcore.Encoder
	keys     []string
	patterns []*regexp.Regexp
}

// NewRedactingEncoder wraps base. A disabled config returns a pass-through wrapper.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	e := &RedactingEncoder{Encoder: base}
	if !cfg.Enabled {
		return e, nil
	}
	for _, k := range cfg.Fields {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			e.keys = append(e.keys, k)
		}
	}
	for _, p := range cfg.Patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		e.patterns = append(e.patterns, re)
	}
	return e, nil
}

func (e *RedactingEncoder) sensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range e.keys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func (e *RedactingEncoder) AddString(key, val string) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	for _, re := range e.patterns {
		if re.MatchString(val) {
			e.Encoder.AddString(key, "[REDACTED:pattern]")
			return
		}
	}
	e.Encoder.AddString(key, val)
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddBinary(key, val)
}

func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), keys: e.keys, patterns: e.patterns}
}

// EncodeEntry applies redaction to per-entry fields. The embedded JSON
// encoder would otherwise add them to a clone of itself, bypassing the
// Add* overrides above.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	return e.Encoder.EncodeEntry(ent, e.scrub(fields))
}

func (e *RedactingEncoder) scrub(fields []zapcore.Field) []zapcore.Field {
	if len(e.keys) == 0 && len(e.patterns) == 0 {
		return fields
	}
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = f
		if e.sensitive(f.Key) {
			out[i] = zap.String(f.Key, redacted)
			continue
		}
		if f.Type == zapcore.StringType {
			for _, re := range e.patterns {
				if re.MatchString(f.String) {
					out[i] = zap.String(f.Key, "[REDACTED:pattern]")
					break
				}
			}
		}
	}
	return out
}
