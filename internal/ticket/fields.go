package ticket

import "github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/router"

// Canonical field names accepted in writes, queries and projections.
const (
	FieldTitle           = "title"
	FieldDescription     = "description"
	FieldState           = "state"
	FieldPriority        = "priority"
	FieldCategory        = "category"
	FieldAssignedTo      = "assigned_to"
	FieldAssignmentGroup = "assignment_group"
	FieldCloseCode       = "close_code"
	FieldCloseNotes      = "close_notes"
	FieldWorkNotes       = "work_notes"
	FieldNumber          = "number"
)

// legacyColumns maps canonical names that differ from the table API column.
var legacyColumns = map[string]string{
	FieldTitle: "short_description",
}

// storeFields maps canonical names to repository field names.
var storeFields = map[string]string{
	FieldTitle:           "shortDescription",
	FieldDescription:     "description",
	FieldState:           "state",
	FieldPriority:        "priority",
	FieldCategory:        "category",
	FieldAssignedTo:      "assignedTo",
	FieldAssignmentGroup: "assignmentGroup",
	FieldCloseCode:       "closeCode",
	FieldCloseNotes:      "closeNotes",
	FieldWorkNotes:       "workNotes",
	FieldNumber:          "number",
}

// LegacyColumn returns the table API column for a canonical field.
// Custom columns (u_*) and unknown names pass through unchanged.
func LegacyColumn(field string) string {
	if col, ok := legacyColumns[field]; ok {
		return col
	}
	return field
}

// StoreField returns the repository field for a canonical field.
func StoreField(field string) string {
	if name, ok := storeFields[field]; ok {
		return name
	}
	return field
}

func translateKeys(values map[string]any, rename func(string) string) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[rename(k)] = v
	}
	return out
}

func translateNames(names []string, rename func(string) string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = rename(n)
	}
	return out
}

func fieldSetOf(values map[string]any) router.FieldSet {
	set := make(router.FieldSet, len(values))
	for k := range values {
		set[k] = struct{}{}
	}
	return set
}
