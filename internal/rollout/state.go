// Package rollout holds the per-operation migration state consulted by the router.
//
// A State says how much traffic of one operation goes to the new implementation:
// none (off), a hash-bucketed percentage, all of it (on), or none because an
// operator pulled the kill switch (forced_legacy). States are grouped into an
// immutable Snapshot, and a Policy publishes the current Snapshot to concurrent
// readers through a single atomic pointer swap.
package rollout

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Mode is the kind of rollout state.
type Mode int

const (
	// ModeOff routes every call to the legacy implementation.
	ModeOff Mode = iota
	// ModePercentage routes identities whose bucket is below the percentage to the new implementation.
	ModePercentage
	// ModeOn routes every call to the new implementation.
	ModeOn
	// ModeForcedLegacy is the manual kill switch. It overrides any percentage.
	ModeForcedLegacy
)

// String returns the configuration keyword for the mode.
func (m Mode) String() string {
	switch m {
	case ModePercentage:
		return "percentage"
	case ModeOn:
		return "on"
	case ModeForcedLegacy:
		return "forced_legacy"
	default:
		return "off"
	}
}

// State is the rollout state of a single operation. The zero value is Off.
type State struct {
	mode    Mode
	percent int
}

// Off returns the fully-off state.
func Off() State { return State{mode: ModeOff} }

// On returns the fully-on state.
func On() State { return State{mode: ModeOn, percent: 100} }

// ForcedLegacy returns the kill-switch state.
func ForcedLegacy() State { return State{mode: ModeForcedLegacy} }

// Percentage returns a percentage-bucketed state. p is clamped to [0, 100].
func Percentage(p int) State {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return State{mode: ModePercentage, percent: p}
}

// Mode returns the state's mode.
func (s State) Mode() Mode { return s.mode }

// Percent returns the share of buckets routed to the new path.
// It is 100 for On and 0 for Off and ForcedLegacy.
func (s State) Percent() int {
	switch s.mode {
	case ModeOn:
		return 100
	case ModePercentage:
		return s.percent
	default:
		return 0
	}
}

// String returns the state in the same form ParseState accepts.
func (s State) String() string {
	if s.mode == ModePercentage {
		return strconv.Itoa(s.percent)
	}
	return s.mode.String()
}

// MarshalJSON encodes percentages as numbers and every other state as its keyword.
func (s State) MarshalJSON() ([]byte, error) {
	if s.mode == ModePercentage {
		return json.Marshal(s.percent)
	}
	return json.Marshal(s.mode.String())
}

// UnmarshalJSON accepts anything ParseState accepts.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseState(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so states can be read from env vars.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState converts a policy-source value into a State.
//
// Accepted values:
//   - "off", "on", "forced_legacy" (also "forced-legacy"), case-insensitive
//   - an integer percentage 0..100, as a number or a string (an optional "%" suffix is allowed)
//   - booleans, mapping true to on and false to off
func ParseState(v interface{}) (State, error) {
	switch val := v.(type) {
	case State:
		return val, nil
	case bool:
		if val {
			return On(), nil
		}
		return Off(), nil
	case int:
		return percentageFromInt(int64(val))
	case int64:
		return percentageFromInt(val)
	case int32:
		return percentageFromInt(int64(val))
	case uint64:
		if val > 100 {
			return State{}, fmt.Errorf("rollout: percentage %d out of range 0..100", val)
		}
		return Percentage(int(val)), nil
	case float64:
		if val != math.Trunc(val) {
			return State{}, fmt.Errorf("rollout: percentage %v must be a whole number", val)
		}
		return percentageFromInt(int64(val))
	case string:
		return parseKeyword(val)
	case nil:
		return State{}, fmt.Errorf("rollout: empty state")
	default:
		return State{}, fmt.Errorf("rollout: unsupported state value %v (%T)", v, v)
	}
}

func parseKeyword(raw string) (State, error) {
	keyword := strings.ToLower(strings.TrimSpace(raw))
	switch keyword {
	case "off":
		return Off(), nil
	case "on":
		return On(), nil
	case "forced_legacy", "forced-legacy":
		return ForcedLegacy(), nil
	case "":
		return State{}, fmt.Errorf("rollout: empty state")
	}

	n, err := strconv.ParseInt(strings.TrimSuffix(keyword, "%"), 10, 64)
	if err != nil {
		return State{}, fmt.Errorf("rollout: unknown state %q (want off, on, forced_legacy or 0..100)", raw)
	}
	return percentageFromInt(n)
}

func percentageFromInt(n int64) (State, error) {
	if n < 0 || n > 100 {
		return State{}, fmt.Errorf("rollout: percentage %d out of range 0..100", n)
	}
	return Percentage(int(n)), nil
}
