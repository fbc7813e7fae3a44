package rollout

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
)

// Snapshot is an immutable mapping from operation name to State.
type Snapshot struct {
	states map[string]State
}

// NewSnapshot copies states into a new Snapshot.
func NewSnapshot(states map[string]State) Snapshot {
	copied := make(map[string]State, len(states))
	for name, st := range states {
		copied[name] = st
	}
	return Snapshot{states: copied}
}

// ParseSnapshot builds a Snapshot from raw policy-source values.
// Every invalid entry is reported; a partially valid document yields no snapshot.
func ParseSnapshot(raw map[string]interface{}) (Snapshot, error) {
	states := make(map[string]State, len(raw))
	var errs []error
	for name, value := range raw {
		if name == "" {
			errs = append(errs, errors.New("rollout: empty operation name"))
			continue
		}
		st, err := ParseState(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("operation %q: %w", name, err))
			continue
		}
		states[name] = st
	}
	if len(errs) > 0 {
		return Snapshot{}, errors.Join(errs...)
	}
	return Snapshot{states: states}, nil
}

// State returns the state recorded for name.
func (s Snapshot) State(name string) (State, bool) {
	st, ok := s.states[name]
	return st, ok
}

// Len returns the number of operations with an explicit state.
func (s Snapshot) Len() int { return len(s.states) }

// Names returns the operation names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.states))
	for name := range s.states {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// States returns a copy of the underlying mapping.
func (s Snapshot) States() map[string]State {
	copied := make(map[string]State, len(s.states))
	for name, st := range s.states {
		copied[name] = st
	}
	return copied
}

// Merge returns a new Snapshot where entries of other override entries of s.
func (s Snapshot) Merge(other Snapshot) Snapshot {
	merged := s.States()
	for name, st := range other.states {
		merged[name] = st
	}
	return Snapshot{states: merged}
}

// Policy publishes the current Snapshot to concurrent readers.
//
// Get never blocks and never performs I/O. Replace swaps the whole snapshot with
// one atomic store, so readers see either the old or the new snapshot, never a mix.
type Policy struct {
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

// NewPolicy creates a Policy serving initial.
func NewPolicy(initial Snapshot) *Policy {
	p := &Policy{}
	p.current.Store(&initial)
	return p
}

// Get returns the state for operation. Unknown operations are Off.
func (p *Policy) Get(operation string) State {
	snap := p.current.Load()
	if snap == nil {
		return Off()
	}
	st, ok := snap.states[operation]
	if !ok {
		return Off()
	}
	return st
}

// Replace atomically installs snap as the current snapshot.
func (p *Policy) Replace(snap Snapshot) {
	p.current.Store(&snap)
	p.version.Add(1)
	policyVersion.Set(float64(p.version.Load()))
}

// Snapshot returns the snapshot currently being served.
func (p *Policy) Snapshot() Snapshot {
	snap := p.current.Load()
	if snap == nil {
		return Snapshot{}
	}
	return *snap
}

// Version counts successful Replace calls.
func (p *Policy) Version() uint64 {
	return p.version.Load()
}
