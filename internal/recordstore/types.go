package recordstore

import "time"

// Ref points at another repository entity.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Choice is an enumerated field with its label.
type Choice struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// Record is a repository record.
type Record struct {
	ID               string     `json:"id"`
	Number           string     `json:"number"`
	Table            string     `json:"table"`
	ShortDescription string     `json:"shortDescription"`
	Description      string     `json:"description,omitempty"`
	State            *Choice    `json:"state,omitempty"`
	Priority         *Choice    `json:"priority,omitempty"`
	Category         string     `json:"category,omitempty"`
	AssignedTo       *Ref       `json:"assignedTo,omitempty"`
	AssignmentGroup  *Ref       `json:"assignmentGroup,omitempty"`
	OpenedAt         time.Time  `json:"openedAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	ClosedAt         *time.Time `json:"closedAt,omitempty"`
	CloseCode        string     `json:"closeCode,omitempty"`
	CloseNotes       string     `json:"closeNotes,omitempty"`
}

// SearchRequest filters records by repository field name.
type SearchRequest struct {
	Filters map[string]string `json:"filters,omitempty"`
	Limit   int               `json:"limit,omitempty"`
	Fields  []string          `json:"fields,omitempty"`
}

// Page is one page of search results.
type Page struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
}

// CloseRequest resolves a record.
type CloseRequest struct {
	CloseCode  string `json:"closeCode"`
	CloseNotes string `json:"closeNotes"`
}

// NoteRequest appends a note.
type NoteRequest struct {
	Body       string `json:"body"`
	Visibility string `json:"visibility"`
}
