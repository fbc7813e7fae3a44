package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilityGuard(t *testing.T) {
	guard := CapabilityGuard{}

	read := Operation{Name: "getRecord"}
	parity := Operation{Name: "addWorkNote", Mutates: true}
	restricted := Operation{Name: "updateRecord", Mutates: true, SupportedFieldsNew: Fields("title", "priority")}
	empty := Operation{Name: "closeRecord", Mutates: true, SupportedFieldsNew: Fields()}

	tests := []struct {
		name      string
		op        Operation
		requested FieldSet
		want      bool
	}{
		{"read ignores fields", read, Fields("anything"), true},
		{"full parity mutation", parity, Fields("work_notes", "custom"), true},
		{"subset", restricted, Fields("title"), true},
		{"exact set", restricted, Fields("title", "priority"), true},
		{"no fields", restricted, nil, true},
		{"unsupported field", restricted, Fields("title", "customField"), false},
		{"only unsupported", restricted, Fields("customField"), false},
		{"empty capability set rejects any field", empty, Fields("closeCode"), false},
		{"empty capability set allows no fields", empty, Fields(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, guard.IsEligibleForNewPath(tt.op, tt.requested))
		})
	}
}

func TestCapabilityGuard_Unsupported(t *testing.T) {
	guard := CapabilityGuard{}
	op := Operation{Name: "updateRecord", Mutates: true, SupportedFieldsNew: Fields("title", "priority")}

	assert.Equal(t, []string{"customField", "u_region"},
		guard.Unsupported(op, Fields("u_region", "title", "customField")))
	assert.Empty(t, guard.Unsupported(op, Fields("title")))
	assert.Nil(t, guard.Unsupported(Operation{Name: "getRecord"}, Fields("x")))
}

func TestFieldSet(t *testing.T) {
	set := Fields("b", "a", "b")
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Has("a"))
	assert.False(t, set.Has("c"))
	assert.Equal(t, []string{"a", "b"}, set.Names())

	var nilSet FieldSet
	assert.False(t, nilSet.Has("a"))
	assert.Empty(t, nilSet.Names())
}
