package ticket

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/recordstore"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/router"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/tableapi"
)

// legacyTimeLayout is the table API's value format; values are always UTC.
const legacyTimeLayout = "2006-01-02 15:04:05"

// LegacyRow is a table API row together with the table it came from.
type LegacyRow struct {
	Table string
	Row   tableapi.Row
}

// RecordAdapter normalizes both backends into Record. It is pure and total:
// unknown columns are dropped and unparseable values become empty fields.
type RecordAdapter struct{}

// FromLegacy maps a table API row. Columns may be plain strings or
// {"value", "display_value"} objects.
func (RecordAdapter) FromLegacy(lr LegacyRow) Record {
	row := lr.Row
	id, _ := legacyField(row, "sys_id")
	number, _ := legacyField(row, "number")
	title, _ := legacyField(row, "short_description")
	description, _ := legacyField(row, "description")
	category, _ := legacyField(row, "category")
	closeCode, _ := legacyField(row, "close_code")
	closeNotes, _ := legacyField(row, "close_notes")

	return Record{
		ID:              id,
		Number:          number,
		Table:           lr.Table,
		Title:           title,
		Description:     description,
		State:           legacyChoice(row, "state"),
		Priority:        legacyChoice(row, "priority"),
		Category:        category,
		AssignedTo:      legacyReference(row, "assigned_to"),
		AssignmentGroup: legacyReference(row, "assignment_group"),
		OpenedAt:        legacyTime(row, "opened_at"),
		UpdatedAt:       legacyTime(row, "sys_updated_on"),
		ClosedAt:        legacyTime(row, "closed_at"),
		CloseCode:       closeCode,
		CloseNotes:      closeNotes,
	}
}

// FromStore maps a repository record.
func (RecordAdapter) FromStore(rec recordstore.Record) Record {
	out := Record{
		ID:          rec.ID,
		Number:      rec.Number,
		Table:       rec.Table,
		Title:       rec.ShortDescription,
		Description: rec.Description,
		Category:    rec.Category,
		CloseCode:   rec.CloseCode,
		CloseNotes:  rec.CloseNotes,
		OpenedAt:    utcPtr(rec.OpenedAt),
		UpdatedAt:   utcPtr(rec.UpdatedAt),
	}
	if rec.ClosedAt != nil {
		out.ClosedAt = utcPtr(*rec.ClosedAt)
	}
	if rec.State != nil && rec.State.Code != "" {
		out.State = &Choice{Value: rec.State.Code, Label: labelOr(rec.State.Label, rec.State.Code)}
	}
	if rec.Priority != nil && rec.Priority.Code != "" {
		out.Priority = &Choice{Value: rec.Priority.Code, Label: labelOr(rec.Priority.Label, rec.Priority.Code)}
	}
	if rec.AssignedTo != nil && rec.AssignedTo.ID != "" {
		out.AssignedTo = &Reference{ID: rec.AssignedTo.ID, Name: rec.AssignedTo.Name}
	}
	if rec.AssignmentGroup != nil && rec.AssignmentGroup.ID != "" {
		out.AssignmentGroup = &Reference{ID: rec.AssignmentGroup.ID, Name: rec.AssignmentGroup.Name}
	}
	return out
}

// Legacy returns the adapter for single table API rows.
func (a RecordAdapter) Legacy() router.Adapter[LegacyRow, Record] {
	return router.AdapterFunc[LegacyRow, Record](func(_ router.Path, lr LegacyRow) Record {
		return a.FromLegacy(lr)
	})
}

// Store returns the adapter for single repository records.
func (a RecordAdapter) Store() router.Adapter[recordstore.Record, Record] {
	return router.AdapterFunc[recordstore.Record, Record](func(_ router.Path, rec recordstore.Record) Record {
		return a.FromStore(rec)
	})
}

// LegacyList returns the adapter for table API query results.
func (a RecordAdapter) LegacyList() router.Adapter[[]LegacyRow, []Record] {
	return router.AdapterFunc[[]LegacyRow, []Record](func(_ router.Path, rows []LegacyRow) []Record {
		out := make([]Record, len(rows))
		for i, lr := range rows {
			out[i] = a.FromLegacy(lr)
		}
		return out
	})
}

// StoreList returns the adapter for repository search pages.
func (a RecordAdapter) StoreList() router.Adapter[recordstore.Page, []Record] {
	return router.AdapterFunc[recordstore.Page, []Record](func(_ router.Path, page recordstore.Page) []Record {
		out := make([]Record, len(page.Records))
		for i, rec := range page.Records {
			out[i] = a.FromStore(rec)
		}
		return out
	})
}

// legacyField returns a column's value and display value.
func legacyField(row tableapi.Row, column string) (value, display string) {
	switch v := row[column].(type) {
	case string:
		return v, v
	case map[string]any:
		value = scalar(v["value"])
		display = scalar(v["display_value"])
		if display == "" {
			display = value
		}
		return value, display
	case nil:
		return "", ""
	default:
		s := scalar(v)
		return s, s
	}
}

func scalar(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(s)
	}
}

func legacyChoice(row tableapi.Row, column string) *Choice {
	value, display := legacyField(row, column)
	if value == "" {
		return nil
	}
	return &Choice{Value: value, Label: display}
}

func legacyReference(row tableapi.Row, column string) *Reference {
	value, display := legacyField(row, column)
	if value == "" {
		return nil
	}
	ref := &Reference{ID: value}
	if display != value {
		ref.Name = display
	}
	return ref
}

func legacyTime(row tableapi.Row, column string) *time.Time {
	value, _ := legacyField(row, column)
	if value == "" {
		return nil
	}
	t, err := time.ParseInLocation(legacyTimeLayout, value, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

func utcPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func labelOr(label, fallback string) string {
	if label != "" {
		return label
	}
	return fallback
}
