// Package ticket is the ticketing facade in front of the migration router.
//
// Callers work with one canonical Record shape and canonical field names.
// Each operation runs through router.Execute against the legacy table API
// and, where configured, the new record repository; the RecordAdapter
// normalizes both backends so callers cannot tell which one answered.
package ticket

import "time"

// Reference points at a user, group or other record.
type Reference struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Choice is an enumerated value with its human label.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// Record is the canonical ticket shape returned by every operation.
type Record struct {
	ID              string     `json:"id"`
	Number          string     `json:"number,omitempty"`
	Table           string     `json:"table"`
	Title           string     `json:"title,omitempty"`
	Description     string     `json:"description,omitempty"`
	State           *Choice    `json:"state,omitempty"`
	Priority        *Choice    `json:"priority,omitempty"`
	Category        string     `json:"category,omitempty"`
	AssignedTo      *Reference `json:"assigned_to,omitempty"`
	AssignmentGroup *Reference `json:"assignment_group,omitempty"`
	OpenedAt        *time.Time `json:"opened_at,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	CloseCode       string     `json:"close_code,omitempty"`
	CloseNotes      string     `json:"close_notes,omitempty"`
}
