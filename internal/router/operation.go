package router

import "sort"

// FieldSet is a set of canonical field names.
type FieldSet map[string]struct{}

// Fields builds a FieldSet from names.
func Fields(names ...string) FieldSet {
	set := make(FieldSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// Has reports whether name is in the set.
func (s FieldSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Len returns the number of fields.
func (s FieldSet) Len() int { return len(s) }

// Names returns the fields in sorted order.
func (s FieldSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Operation describes one routed operation. Operations are built once at
// startup and never modified.
type Operation struct {
	// Name keys the rollout policy.
	Name string

	// Mutates marks operations that change backend state.
	Mutates bool

	// SupportedFieldsNew lists the fields the new implementation handles
	// correctly. Nil means no restriction.
	SupportedFieldsNew FieldSet
}

// Restricted reports whether the operation limits which fields may reach the new path.
func (o Operation) Restricted() bool {
	return o.Mutates && o.SupportedFieldsNew != nil
}
