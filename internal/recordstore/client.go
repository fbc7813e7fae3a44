// Package recordstore is the new ticketing backend: a structured record
// repository with camelCase JSON, {id, name} references and RFC 3339 times,
// authenticated with OAuth2 client credentials.
package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/router"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseSize = 10 * 1024 * 1024
)

// Config configures the repository client.
type Config struct {
	BaseURL string

	// TokenURL enables OAuth2 client credentials. Empty sends unauthenticated requests.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	Timeout time.Duration

	// HTTPClient is the base transport for token and API calls, mainly for tests.
	HTTPClient *http.Client
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("recordstore: base URL is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("recordstore: invalid base URL: %w", err)
	}
	if c.TokenURL != "" && (c.ClientID == "" || c.ClientSecret == "") {
		return errors.New("recordstore: client id and secret are required with a token URL")
	}
	return nil
}

// APIError is a non-2xx repository response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("recordstore: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("recordstore: %d: %s", e.Status, e.Message)
}

// StatusCode returns the HTTP status.
func (e *APIError) StatusCode() int { return e.Status }

// Client calls the repository API. The authenticated HTTP client is built on
// first use and shared by every call afterwards.
type Client struct {
	cfg     Config
	baseURL string
	http    *router.Lazy[*http.Client]
	logger  *zap.Logger
}

// New validates cfg. No network call is made until the first request.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logger,
	}
	c.http = router.NewLazy(c.buildHTTPClient)
	return c, nil
}

// buildHTTPClient fetches the first token under the caller's context so
// credential problems and a slow token endpoint surface on the call that
// triggered initialization, within its deadline.
func (c *Client) buildHTTPClient(ctx context.Context) (*http.Client, error) {
	base := c.cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: c.cfg.Timeout}
	}
	if c.cfg.TokenURL == "" {
		return base, nil
	}

	cc := clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.cfg.TokenURL,
		Scopes:       c.cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	first, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, base))
	if err != nil {
		return nil, tokenError(ctx, err)
	}

	// Refreshes outlive the triggering request, so they get their own context.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	ts := oauth2.ReuseTokenSource(first, cc.TokenSource(tokenCtx))

	client := oauth2.NewClient(tokenCtx, ts)
	client.Timeout = c.cfg.Timeout
	c.logger.Debug("recordstore: authenticated client initialized", zap.String("token_url", c.cfg.TokenURL))
	return client, nil
}

// tokenError maps token endpoint failures. Rejected credentials become an
// auth-class APIError; other endpoint statuses keep their code, and an
// expired caller context is returned as such.
func tokenError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("recordstore: fetch token: %w", ctxErr)
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		msg := re.ErrorDescription
		if msg == "" {
			msg = re.ErrorCode
		}
		if msg == "" {
			msg = strings.TrimSpace(string(re.Body))
		}
		return &APIError{Status: tokenStatus(re), Code: "token", Message: msg}
	}
	return fmt.Errorf("recordstore: fetch token: %w", err)
}

// tokenStatus reports 400 and 401 from the token endpoint as 401, since both
// mean the client credentials were refused.
func tokenStatus(re *oauth2.RetrieveError) int {
	if re.Response == nil {
		return http.StatusUnauthorized
	}
	switch code := re.Response.StatusCode; code {
	case http.StatusBadRequest, http.StatusUnauthorized:
		return http.StatusUnauthorized
	default:
		return code
	}
}

func (c *Client) tablePath(table string, parts ...string) string {
	p := "/v2/tables/" + url.PathEscape(table) + "/records"
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// Get fetches one record.
func (c *Client) Get(ctx context.Context, table, id string) (Record, error) {
	var rec Record
	err := c.do(ctx, http.MethodGet, c.tablePath(table, id), nil, &rec)
	return rec, err
}

// Search returns records matching req.
func (c *Client) Search(ctx context.Context, table string, req SearchRequest) (Page, error) {
	var page Page
	if err := c.do(ctx, http.MethodPost, c.tablePath(table, "search"), req, &page); err != nil {
		return Page{}, err
	}
	if page.Records == nil {
		page.Records = []Record{}
	}
	return page, nil
}

// Create inserts a record from repository-named fields.
func (c *Client) Create(ctx context.Context, table string, fields map[string]any) (Record, error) {
	var rec Record
	err := c.do(ctx, http.MethodPost, c.tablePath(table), fields, &rec)
	return rec, err
}

// Update patches repository-named fields.
func (c *Client) Update(ctx context.Context, table, id string, fields map[string]any) (Record, error) {
	var rec Record
	err := c.do(ctx, http.MethodPatch, c.tablePath(table, id), fields, &rec)
	return rec, err
}

// Close resolves a record.
func (c *Client) Close(ctx context.Context, table, id string, req CloseRequest) (Record, error) {
	var rec Record
	err := c.do(ctx, http.MethodPost, c.tablePath(table, id, "close"), req, &rec)
	return rec, err
}

// AddNote appends an internal work note.
func (c *Client) AddNote(ctx context.Context, table, id, note string) (Record, error) {
	var rec Record
	err := c.do(ctx, http.MethodPost, c.tablePath(table, id, "notes"), NoteRequest{Body: note, Visibility: "internal"}, &rec)
	return rec, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	httpClient, err := c.http.Get(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("recordstore: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("recordstore: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return tokenError(ctx, err)
		}
		return fmt.Errorf("recordstore: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("recordstore: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("recordstore: decode response: %w", err)
	}
	return nil
}
