package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/rollout"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/router"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/ticket"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status        string     `json:"status"`
	PolicyVersion uint64     `json:"policy_version"`
	LastRefresh   *time.Time `json:"last_refresh,omitempty"`
	RefreshError  string     `json:"refresh_error,omitempty"`
}

// PolicyResponse is the response body for GET /api/v1/rollout.
type PolicyResponse struct {
	Version    uint64                   `json:"version"`
	Operations map[string]rollout.State `json:"operations"`
}

// BucketResponse is the response body for GET /api/v1/rollout/bucket.
type BucketResponse struct {
	Identity  string        `json:"identity"`
	Operation string        `json:"operation"`
	Bucket    int           `json:"bucket"`
	State     rollout.State `json:"state"`
	Path      router.Path   `json:"path"`
}

// AuditResponse is the response body for GET /api/v1/audit/recent.
type AuditResponse struct {
	Events []router.AuditEvent `json:"events"`
}

// ValuesRequest is the body for create and update.
type ValuesRequest struct {
	Values map[string]any `json:"values"`
}

// CloseBody is the body for POST .../close.
type CloseBody struct {
	CloseCode  string `json:"close_code"`
	CloseNotes string `json:"close_notes"`
}

// WorkNoteBody is the body for POST .../work_notes.
type WorkNoteBody struct {
	Note string `json:"note"`
}

// Query parameters with a meaning of their own; every other search
// parameter is an equality filter.
const (
	paramLimit  = "limit"
	paramFields = "fields"
)

// handleHealth stays 200 while a stale policy keeps serving; a failed
// refresh is reported, not fatal.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", PolicyVersion: s.deps.Policy.Version()}
	if s.deps.Refresher != nil {
		last, err := s.deps.Refresher.Status()
		if !last.IsZero() {
			resp.LastRefresh = &last
		}
		if err != nil {
			resp.RefreshError = err.Error()
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePolicy(c echo.Context) error {
	return c.JSON(http.StatusOK, s.policyResponse())
}

func (s *Server) policyResponse() PolicyResponse {
	version := s.deps.Policy.Version()
	return PolicyResponse{Version: version, Operations: s.deps.Policy.Snapshot().States()}
}

func (s *Server) handleRefresh(c echo.Context) error {
	if s.deps.Refresher == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "policy refresh is not configured")
	}
	if err := s.deps.Refresher.Refresh(c.Request().Context()); err != nil {
		s.logger.Warn("manual policy refresh failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "policy refresh failed: "+err.Error())
	}
	return c.JSON(http.StatusOK, s.policyResponse())
}

// handleBucket explains where an identity lands for one operation.
func (s *Server) handleBucket(c echo.Context) error {
	name := c.QueryParam("operation")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "operation is required")
	}
	op, ok := ticket.LookupOperation(name)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown operation "+strconv.Quote(name))
	}

	rc := routingFrom(c)
	if identity := c.QueryParam("identity"); identity != "" {
		rc = router.RoutingContext{CallerID: identity}
	}

	state := s.deps.Policy.Get(op.Name)
	return c.JSON(http.StatusOK, BucketResponse{
		Identity:  rc.Identity(),
		Operation: op.Name,
		Bucket:    router.Bucket(rc.Identity()),
		State:     state,
		Path:      router.BucketGate{}.Decide(op, rc, state),
	})
}

// handleRecentAudit returns the newest events, oldest first. limit keeps only
// the last n.
func (s *Server) handleRecentAudit(c echo.Context) error {
	if s.deps.Audit == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "audit history is not configured")
	}
	events := s.deps.Audit.Events()
	if raw := c.QueryParam(paramLimit); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		if n < len(events) {
			events = events[len(events)-n:]
		}
	}
	if events == nil {
		events = []router.AuditEvent{}
	}
	return c.JSON(http.StatusOK, AuditResponse{Events: events})
}

func (s *Server) handleGet(c echo.Context) error {
	rec, err := s.deps.Tickets.Get(c.Request().Context(), routingFrom(c), ticket.GetRequest{
		Table:  c.Param("table"),
		ID:     c.Param("id"),
		Fields: splitList(c.QueryParam(paramFields)),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleSearch(c echo.Context) error {
	q := ticket.Query{
		Table:   c.Param("table"),
		Filters: map[string]string{},
		Fields:  splitList(c.QueryParam(paramFields)),
	}
	if raw := c.QueryParam(paramLimit); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
		}
		q.Limit = n
	}
	for key, values := range c.QueryParams() {
		if key == paramLimit || key == paramFields || len(values) == 0 {
			continue
		}
		q.Filters[key] = values[0]
	}

	recs, err := s.deps.Tickets.Search(c.Request().Context(), routingFrom(c), q)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []ticket.Record{}
	}
	return c.JSON(http.StatusOK, recs)
}

func (s *Server) handleCreate(c echo.Context) error {
	var body ValuesRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := s.deps.Tickets.Create(c.Request().Context(), routingFrom(c), ticket.CreateRequest{
		Table:  c.Param("table"),
		Values: body.Values,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleUpdate(c echo.Context) error {
	var body ValuesRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := s.deps.Tickets.Update(c.Request().Context(), routingFrom(c), ticket.UpdateRequest{
		Table:  c.Param("table"),
		ID:     c.Param("id"),
		Values: body.Values,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleClose(c echo.Context) error {
	var body CloseBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := s.deps.Tickets.Close(c.Request().Context(), routingFrom(c), ticket.CloseRequest{
		Table:      c.Param("table"),
		ID:         c.Param("id"),
		CloseCode:  body.CloseCode,
		CloseNotes: body.CloseNotes,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleWorkNote(c echo.Context) error {
	var body WorkNoteBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := s.deps.Tickets.AddWorkNote(c.Request().Context(), routingFrom(c), ticket.WorkNoteRequest{
		Table: c.Param("table"),
		ID:    c.Param("id"),
		Note:  body.Note,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
