package ticket

import "github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/router"

// Routed ticket operations. The capability sets list the fields the record
// repository writes correctly today; anything else stays on the table API.
var (
	OpGetRecord = router.Operation{Name: "getRecord"}

	OpSearchRecords = router.Operation{Name: "searchRecords"}

	OpCreateRecord = router.Operation{
		Name:    "createRecord",
		Mutates: true,
		SupportedFieldsNew: router.Fields(
			FieldTitle, FieldDescription, FieldPriority, FieldCategory, FieldAssignmentGroup,
		),
	}

	OpUpdateRecord = router.Operation{
		Name:    "updateRecord",
		Mutates: true,
		SupportedFieldsNew: router.Fields(
			FieldTitle, FieldDescription, FieldPriority, FieldState, FieldAssignedTo, FieldAssignmentGroup,
		),
	}

	OpCloseRecord = router.Operation{
		Name:               "closeRecord",
		Mutates:            true,
		SupportedFieldsNew: router.Fields(FieldCloseCode, FieldCloseNotes),
	}

	// Work notes have full parity.
	OpAddWorkNote = router.Operation{Name: "addWorkNote", Mutates: true}
)

var registry = func() map[string]router.Operation {
	ops := []router.Operation{
		OpGetRecord, OpSearchRecords, OpCreateRecord, OpUpdateRecord, OpCloseRecord, OpAddWorkNote,
	}
	m := make(map[string]router.Operation, len(ops))
	for _, op := range ops {
		m[op.Name] = op
	}
	return m
}()

// Operations returns every routed ticket operation.
func Operations() []router.Operation {
	return []router.Operation{
		OpGetRecord, OpSearchRecords, OpCreateRecord, OpUpdateRecord, OpCloseRecord, OpAddWorkNote,
	}
}

// LookupOperation finds an operation by name.
func LookupOperation(name string) (router.Operation, bool) {
	op, ok := registry[name]
	return op, ok
}
