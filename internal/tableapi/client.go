// Package tableapi is the legacy ticketing backend: a thin REST client for
// the platform's table API (/api/now/table/{table}).
//
// Every request asks for sysparm_display_value=all, so reference and choice
// columns come back as {"value": ..., "display_value": ...} objects.
package tableapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 20 // requests per second
	defaultBurst     = 5
	defaultLimit     = 10

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 10 * 1024 * 1024
)

// ErrMissingResult is returned when a response has no "result" member.
var ErrMissingResult = errors.New("tableapi: response missing 'result'")

// Row is one table record as returned by the API.
type Row map[string]any

// Credentials identify one platform instance.
type Credentials struct {
	URL       string
	Username  string
	Password  string
	VerifySSL bool
	Timeout   time.Duration
}

// InstanceName returns the first label of the instance host, e.g. "acme" for
// https://acme.service-now.com.
func (c Credentials) InstanceName() string {
	host := c.URL
	if u, err := url.Parse(c.URL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	name, _, _ := strings.Cut(host, ".")
	return name
}

// Config configures a Client.
type Config struct {
	Credentials Credentials

	// RateLimit is requests per second. Zero uses the default.
	RateLimit float64
	Burst     int

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tableapi: %s %s failed (%d): %s", e.Method, e.Path, e.Status, e.Detail)
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int { return e.Status }

// Client talks to the table API with basic auth.
type Client struct {
	creds      Credentials
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	creds := cfg.Credentials
	if creds.URL == "" {
		return nil, errors.New("tableapi: instance URL is required")
	}
	if _, err := url.ParseRequestURI(creds.URL); err != nil {
		return nil, fmt.Errorf("tableapi: invalid instance URL: %w", err)
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, errors.New("tableapi: username and password are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := creds.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if !creds.VerifySSL {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for sandbox instances
		}
		httpClient = &http.Client{Timeout: timeout, Transport: transport}
	}

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	return &Client{
		creds:      creds,
		baseURL:    strings.TrimRight(creds.URL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(limit), burst),
		logger:     logger,
	}, nil
}

// InstanceName returns the instance label.
func (c *Client) InstanceName() string { return c.creds.InstanceName() }

// GetRecord fetches one record by sys_id. fields limits the returned columns.
func (c *Client) GetRecord(ctx context.Context, table, sysID string, fields []string) (Row, error) {
	params := url.Values{}
	if len(fields) > 0 {
		params.Set("sysparm_fields", strings.Join(fields, ","))
	}
	var row Row
	if err := c.doResult(ctx, http.MethodGet, recordPath(table, sysID), params, nil, &row); err != nil {
		return nil, err
	}
	return row, nil
}

// QueryTable runs an encoded query. A non-positive limit uses 10.
func (c *Client) QueryTable(ctx context.Context, table, query string, limit int, fields []string) ([]Row, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	params := url.Values{}
	params.Set("sysparm_query", query)
	params.Set("sysparm_limit", strconv.Itoa(limit))
	if len(fields) > 0 {
		params.Set("sysparm_fields", strings.Join(fields, ","))
	}

	var envelope struct {
		Result []Row `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, tablePath(table), params, nil, &envelope); err != nil {
		return nil, err
	}
	if envelope.Result == nil {
		return []Row{}, nil
	}
	return envelope.Result, nil
}

// InsertRecord creates a record and returns it as stored.
func (c *Client) InsertRecord(ctx context.Context, table string, values map[string]any) (Row, error) {
	var row Row
	if err := c.doResult(ctx, http.MethodPost, tablePath(table), nil, values, &row); err != nil {
		return nil, err
	}
	return row, nil
}

// PatchRecord updates the given columns of a record.
func (c *Client) PatchRecord(ctx context.Context, table, sysID string, values map[string]any) (Row, error) {
	var row Row
	if err := c.doResult(ctx, http.MethodPatch, recordPath(table, sysID), nil, values, &row); err != nil {
		return nil, err
	}
	return row, nil
}

// PostWorkNote appends a work note to a record.
func (c *Client) PostWorkNote(ctx context.Context, table, sysID, note string) (Row, error) {
	return c.PatchRecord(ctx, table, sysID, map[string]any{"work_notes": note})
}

func tablePath(table string) string {
	return "/api/now/table/" + url.PathEscape(table)
}

func recordPath(table, sysID string) string {
	return tablePath(table) + "/" + url.PathEscape(sysID)
}

// doResult decodes the "result" member of a single-record response into out.
func (c *Client) doResult(ctx context.Context, method, path string, params url.Values, body any, out *Row) error {
	var envelope struct {
		Result *Row `json:"result"`
	}
	if err := c.do(ctx, method, path, params, body, &envelope); err != nil {
		return err
	}
	if envelope.Result == nil {
		return ErrMissingResult
	}
	*out = *envelope.Result
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return limiterError(ctx, err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("sysparm_display_value", "all")
	endpoint := c.baseURL + path + "?" + params.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("tableapi: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("tableapi: create request: %w", err)
	}
	req.SetBasicAuth(c.creds.Username, c.creds.Password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("tableapi request",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("instance", c.InstanceName()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tableapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("tableapi: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &StatusError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Detail: errorDetail(data),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("tableapi: decode response: %w", err)
	}
	return nil
}

// limiterError keeps the context error in the chain. A wait refused because
// it would outlast the deadline counts as an exceeded deadline.
func limiterError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("tableapi: rate limiter: %w", ctxErr)
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("tableapi: rate limiter: %w: %v", context.DeadlineExceeded, err)
	}
	return fmt.Errorf("tableapi: rate limiter: %w", err)
}

// errorDetail extracts the platform's error message, falling back to the raw body.
func errorDetail(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		if payload.Error.Detail != "" {
			return payload.Error.Message + ": " + payload.Error.Detail
		}
		return payload.Error.Message
	}
	return strings.TrimSpace(string(body))
}
