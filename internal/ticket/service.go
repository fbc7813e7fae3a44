package ticket

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/recordstore"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/router"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/tableapi"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 1000

	// legacyClosedState is the table API state value for Closed.
	legacyClosedState = "7"
)

// LegacyBackend is the table API surface the service uses. *tableapi.Client satisfies it.
type LegacyBackend interface {
	GetRecord(ctx context.Context, table, sysID string, fields []string) (tableapi.Row, error)
	QueryTable(ctx context.Context, table, query string, limit int, fields []string) ([]tableapi.Row, error)
	InsertRecord(ctx context.Context, table string, values map[string]any) (tableapi.Row, error)
	PatchRecord(ctx context.Context, table, sysID string, values map[string]any) (tableapi.Row, error)
	PostWorkNote(ctx context.Context, table, sysID, note string) (tableapi.Row, error)
}

// StoreBackend is the repository surface the service uses. *recordstore.Client satisfies it.
type StoreBackend interface {
	Get(ctx context.Context, table, id string) (recordstore.Record, error)
	Search(ctx context.Context, table string, req recordstore.SearchRequest) (recordstore.Page, error)
	Create(ctx context.Context, table string, fields map[string]any) (recordstore.Record, error)
	Update(ctx context.Context, table, id string, fields map[string]any) (recordstore.Record, error)
	Close(ctx context.Context, table, id string, req recordstore.CloseRequest) (recordstore.Record, error)
	AddNote(ctx context.Context, table, id, note string) (recordstore.Record, error)
}

var (
	_ LegacyBackend = (*tableapi.Client)(nil)
	_ StoreBackend  = (*recordstore.Client)(nil)
)

// GetRequest fetches one record.
type GetRequest struct {
	Table  string
	ID     string
	Fields []string
}

// Query searches one table by canonical field equality.
type Query struct {
	Table   string
	Filters map[string]string
	Limit   int
	Fields  []string
}

// CreateRequest inserts a record from canonical field values.
type CreateRequest struct {
	Table  string
	Values map[string]any
}

// UpdateRequest changes canonical field values of one record.
type UpdateRequest struct {
	Table  string
	ID     string
	Values map[string]any
}

// CloseRequest resolves one record.
type CloseRequest struct {
	Table      string
	ID         string
	CloseCode  string
	CloseNotes string
}

// WorkNoteRequest appends a work note.
type WorkNoteRequest struct {
	Table string
	ID    string
	Note  string
}

// Service exposes the routed ticket operations.
type Service struct {
	executor *router.Executor
	legacy   LegacyBackend
	store    StoreBackend
	adapter  RecordAdapter
	logger   *zap.Logger
}

// NewService builds the facade. store may be nil, in which case every call
// uses the legacy backend.
func NewService(executor *router.Executor, legacy LegacyBackend, store StoreBackend, logger *zap.Logger) (*Service, error) {
	if executor == nil {
		return nil, errors.New("ticket: executor is required")
	}
	if legacy == nil {
		return nil, errors.New("ticket: legacy backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		executor: executor,
		legacy:   legacy,
		store:    store,
		logger:   logger,
	}, nil
}

func invalid(format string, args ...any) *router.Error {
	return &router.Error{
		Kind:    router.KindValidation,
		Message: fmt.Sprintf(format, args...),
		Cause:   router.ErrValidation,
	}
}

func requireRecord(table, id string) error {
	if table == "" {
		return invalid("table is required")
	}
	if id == "" {
		return invalid("record id is required")
	}
	return nil
}

// Get fetches one record.
func (s *Service) Get(ctx context.Context, rc router.RoutingContext, req GetRequest) (Record, error) {
	if err := requireRecord(req.Table, req.ID); err != nil {
		return Record{}, err
	}

	call := router.Call[GetRequest, Record]{
		Operation: OpGetRecord,
		Routing:   rc,
		Request:   req,
		Legacy: router.Bind[GetRequest, LegacyRow, Record](
			router.ImplementationFunc[GetRequest, LegacyRow](func(ctx context.Context, r GetRequest) (LegacyRow, error) {
				row, err := s.legacy.GetRecord(ctx, r.Table, r.ID, translateNames(r.Fields, LegacyColumn))
				return LegacyRow{Table: r.Table, Row: row}, err
			}),
			s.adapter.Legacy()),
	}
	if s.store != nil {
		call.New = router.Bind[GetRequest, recordstore.Record, Record](
			router.ImplementationFunc[GetRequest, recordstore.Record](func(ctx context.Context, r GetRequest) (recordstore.Record, error) {
				rec, err := s.store.Get(ctx, r.Table, r.ID)
				return withTable(rec, r.Table), err
			}),
			s.adapter.Store())
	}
	return router.Execute(ctx, s.executor, call).Result()
}

// Search returns records whose canonical fields equal the filters.
func (s *Service) Search(ctx context.Context, rc router.RoutingContext, q Query) ([]Record, error) {
	if q.Table == "" {
		return nil, invalid("table is required")
	}
	if q.Limit < 0 || q.Limit > maxSearchLimit {
		return nil, invalid("limit must be between 0 and %d", maxSearchLimit)
	}
	if q.Limit == 0 {
		q.Limit = defaultSearchLimit
	}
	encoded, err := encodeLegacyQuery(q.Filters)
	if err != nil {
		return nil, err
	}

	call := router.Call[Query, []Record]{
		Operation: OpSearchRecords,
		Routing:   rc,
		Request:   q,
		Legacy: router.Bind[Query, []LegacyRow, []Record](
			router.ImplementationFunc[Query, []LegacyRow](func(ctx context.Context, q Query) ([]LegacyRow, error) {
				rows, err := s.legacy.QueryTable(ctx, q.Table, encoded, q.Limit, translateNames(q.Fields, LegacyColumn))
				if err != nil {
					return nil, err
				}
				out := make([]LegacyRow, len(rows))
				for i, row := range rows {
					out[i] = LegacyRow{Table: q.Table, Row: row}
				}
				return out, nil
			}),
			s.adapter.LegacyList()),
	}
	if s.store != nil {
		call.New = router.Bind[Query, recordstore.Page, []Record](
			router.ImplementationFunc[Query, recordstore.Page](func(ctx context.Context, q Query) (recordstore.Page, error) {
				filters := make(map[string]string, len(q.Filters))
				for k, v := range q.Filters {
					filters[StoreField(k)] = v
				}
				page, err := s.store.Search(ctx, q.Table, recordstore.SearchRequest{
					Filters: filters,
					Limit:   q.Limit,
					Fields:  translateNames(q.Fields, StoreField),
				})
				for i := range page.Records {
					page.Records[i] = withTable(page.Records[i], q.Table)
				}
				return page, err
			}),
			s.adapter.StoreList())
	}
	return router.Execute(ctx, s.executor, call).Result()
}

// Create inserts a record. Fields outside the repository's capability set
// keep the call on the legacy backend.
func (s *Service) Create(ctx context.Context, rc router.RoutingContext, req CreateRequest) (Record, error) {
	if req.Table == "" {
		return Record{}, invalid("table is required")
	}
	if len(req.Values) == 0 {
		return Record{}, invalid("at least one field is required")
	}

	call := router.Call[CreateRequest, Record]{
		Operation: OpCreateRecord,
		Routing:   rc,
		Fields:    fieldSetOf(req.Values),
		Request:   req,
		Legacy: router.Bind[CreateRequest, LegacyRow, Record](
			router.ImplementationFunc[CreateRequest, LegacyRow](func(ctx context.Context, r CreateRequest) (LegacyRow, error) {
				row, err := s.legacy.InsertRecord(ctx, r.Table, translateKeys(r.Values, LegacyColumn))
				return LegacyRow{Table: r.Table, Row: row}, err
			}),
			s.adapter.Legacy()),
	}
	if s.store != nil {
		call.New = router.Bind[CreateRequest, recordstore.Record, Record](
			router.ImplementationFunc[CreateRequest, recordstore.Record](func(ctx context.Context, r CreateRequest) (recordstore.Record, error) {
				rec, err := s.store.Create(ctx, r.Table, translateKeys(r.Values, StoreField))
				return withTable(rec, r.Table), err
			}),
			s.adapter.Store())
	}
	return router.Execute(ctx, s.executor, call).Result()
}

// Update changes fields of one record.
func (s *Service) Update(ctx context.Context, rc router.RoutingContext, req UpdateRequest) (Record, error) {
	if err := requireRecord(req.Table, req.ID); err != nil {
		return Record{}, err
	}
	if len(req.Values) == 0 {
		return Record{}, invalid("at least one field is required")
	}

	call := router.Call[UpdateRequest, Record]{
		Operation: OpUpdateRecord,
		Routing:   rc,
		Fields:    fieldSetOf(req.Values),
		Request:   req,
		Legacy: router.Bind[UpdateRequest, LegacyRow, Record](
			router.ImplementationFunc[UpdateRequest, LegacyRow](func(ctx context.Context, r UpdateRequest) (LegacyRow, error) {
				row, err := s.legacy.PatchRecord(ctx, r.Table, r.ID, translateKeys(r.Values, LegacyColumn))
				return LegacyRow{Table: r.Table, Row: row}, err
			}),
			s.adapter.Legacy()),
	}
	if s.store != nil {
		call.New = router.Bind[UpdateRequest, recordstore.Record, Record](
			router.ImplementationFunc[UpdateRequest, recordstore.Record](func(ctx context.Context, r UpdateRequest) (recordstore.Record, error) {
				rec, err := s.store.Update(ctx, r.Table, r.ID, translateKeys(r.Values, StoreField))
				return withTable(rec, r.Table), err
			}),
			s.adapter.Store())
	}
	return router.Execute(ctx, s.executor, call).Result()
}

// Close resolves one record with a close code and notes.
func (s *Service) Close(ctx context.Context, rc router.RoutingContext, req CloseRequest) (Record, error) {
	if err := requireRecord(req.Table, req.ID); err != nil {
		return Record{}, err
	}
	if req.CloseCode == "" {
		return Record{}, invalid("close code is required")
	}

	call := router.Call[CloseRequest, Record]{
		Operation: OpCloseRecord,
		Routing:   rc,
		Fields:    router.Fields(FieldCloseCode, FieldCloseNotes),
		Request:   req,
		Legacy: router.Bind[CloseRequest, LegacyRow, Record](
			router.ImplementationFunc[CloseRequest, LegacyRow](func(ctx context.Context, r CloseRequest) (LegacyRow, error) {
				row, err := s.legacy.PatchRecord(ctx, r.Table, r.ID, map[string]any{
					"state":       legacyClosedState,
					"close_code":  r.CloseCode,
					"close_notes": r.CloseNotes,
				})
				return LegacyRow{Table: r.Table, Row: row}, err
			}),
			s.adapter.Legacy()),
	}
	if s.store != nil {
		call.New = router.Bind[CloseRequest, recordstore.Record, Record](
			router.ImplementationFunc[CloseRequest, recordstore.Record](func(ctx context.Context, r CloseRequest) (recordstore.Record, error) {
				rec, err := s.store.Close(ctx, r.Table, r.ID, recordstore.CloseRequest{
					CloseCode:  r.CloseCode,
					CloseNotes: r.CloseNotes,
				})
				return withTable(rec, r.Table), err
			}),
			s.adapter.Store())
	}
	return router.Execute(ctx, s.executor, call).Result()
}

// AddWorkNote appends an internal work note.
func (s *Service) AddWorkNote(ctx context.Context, rc router.RoutingContext, req WorkNoteRequest) (Record, error) {
	if err := requireRecord(req.Table, req.ID); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(req.Note) == "" {
		return Record{}, invalid("note is required")
	}

	call := router.Call[WorkNoteRequest, Record]{
		Operation: OpAddWorkNote,
		Routing:   rc,
		Fields:    router.Fields(FieldWorkNotes),
		Request:   req,
		Legacy: router.Bind[WorkNoteRequest, LegacyRow, Record](
			router.ImplementationFunc[WorkNoteRequest, LegacyRow](func(ctx context.Context, r WorkNoteRequest) (LegacyRow, error) {
				row, err := s.legacy.PostWorkNote(ctx, r.Table, r.ID, r.Note)
				return LegacyRow{Table: r.Table, Row: row}, err
			}),
			s.adapter.Legacy()),
	}
	if s.store != nil {
		call.New = router.Bind[WorkNoteRequest, recordstore.Record, Record](
			router.ImplementationFunc[WorkNoteRequest, recordstore.Record](func(ctx context.Context, r WorkNoteRequest) (recordstore.Record, error) {
				rec, err := s.store.AddNote(ctx, r.Table, r.ID, r.Note)
				return withTable(rec, r.Table), err
			}),
			s.adapter.Store())
	}
	return router.Execute(ctx, s.executor, call).Result()
}

func withTable(rec recordstore.Record, table string) recordstore.Record {
	if rec.Table == "" {
		rec.Table = table
	}
	return rec
}

// encodeLegacyQuery builds a table API encoded query ("a=1^b=2") in key order.
func encodeLegacyQuery(filters map[string]string) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		if k == "" || strings.ContainsAny(k, "^=") {
			return "", invalid("invalid filter field %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := filters[k]
		if strings.Contains(v, "^") {
			return "", invalid("filter %q: value must not contain '^'", k)
		}
		parts = append(parts, LegacyColumn(k)+"="+v)
	}
	return strings.Join(parts, "^"), nil
}
