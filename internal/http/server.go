// Package http provides the bridge HTTP API: routed ticket operations,
// rollout policy inspection, recent audit events, health and Prometheus
// metrics.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/audit"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/logging"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/rollout"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/router"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/ticket"
)

// Routing headers. Values are bucketed exactly as sent.
const (
	HeaderCallerID  = "X-Caller-ID"
	HeaderChannelID = "X-Channel-ID"
)

// Tickets is the routed ticket facade the API serves.
type Tickets interface {
	Get(ctx context.Context, rc router.RoutingContext, req ticket.GetRequest) (ticket.Record, error)
	Search(ctx context.Context, rc router.RoutingContext, q ticket.Query) ([]ticket.Record, error)
	Create(ctx context.Context, rc router.RoutingContext, req ticket.CreateRequest) (ticket.Record, error)
	Update(ctx context.Context, rc router.RoutingContext, req ticket.UpdateRequest) (ticket.Record, error)
	Close(ctx context.Context, rc router.RoutingContext, req ticket.CloseRequest) (ticket.Record, error)
	AddWorkNote(ctx context.Context, rc router.RoutingContext, req ticket.WorkNoteRequest) (ticket.Record, error)
}

var _ Tickets = (*ticket.Service)(nil)

// PolicyView is the read side of the rollout policy.
type PolicyView interface {
	Get(operation string) rollout.State
	Snapshot() rollout.Snapshot
	Version() uint64
}

// Refresher reloads the rollout policy on demand.
type Refresher interface {
	Refresh(ctx context.Context) error
	Status() (lastSuccess time.Time, lastErr error)
}

// AuditLog lists recently recorded audit events, oldest first.
type AuditLog interface {
	Events() []router.AuditEvent
}

var (
	_ PolicyView = (*rollout.Policy)(nil)
	_ Refresher  = (*rollout.Refresher)(nil)
	_ AuditLog   = (*audit.MemorySink)(nil)
)

// Deps are the services behind the API. Tickets and Policy are required.
type Deps struct {
	Tickets   Tickets
	Policy    PolicyView
	Refresher Refresher
	// Audit backs /api/v1/audit/recent. Nil makes the route answer 503.
	Audit AuditLog

	// Gatherer backs /metrics. Defaults to the Prometheus default registry.
	Gatherer prometheus.Gatherer
	// Meter records HTTP metrics. Defaults to the global meter.
	Meter metric.Meter
}

// Server provides the bridge HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Tickets == nil {
		return nil, fmt.Errorf("tickets service cannot be nil")
	}
	if deps.Policy == nil {
		return nil, fmt.Errorf("rollout policy cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}
	e.HTTPErrorHandler = s.handleError

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			if logging.ValidID(id) {
				req := c.Request()
				c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
			}
		},
	}))
	e.Use(routingContext)
	e.Use(s.requestLog)
	e.Use(NewHTTPMetrics(deps.Meter, logger).Middleware())

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")

	v1.GET("/rollout", s.handlePolicy)
	v1.POST("/rollout/refresh", s.handleRefresh)
	v1.GET("/rollout/bucket", s.handleBucket)
	v1.GET("/audit/recent", s.handleRecentAudit)

	records := v1.Group("/tables/:table/records")
	records.GET("", s.handleSearch)
	records.POST("", s.handleCreate)
	records.GET("/:id", s.handleGet)
	records.PATCH("/:id", s.handleUpdate)
	records.POST("/:id/close", s.handleClose)
	records.POST("/:id/work_notes", s.handleWorkNote)
}

// routingContext copies the routing headers into the request context.
func routingContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := logging.WithRouting(req.Context(), req.Header.Get(HeaderCallerID), req.Header.Get(HeaderChannelID))
		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		fields := append(logging.ContextFields(c.Request().Context()),
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		s.logger.Info("http request", fields...)
		return nil
	}
}

// routingFrom returns the routing identity the request carries.
func routingFrom(c echo.Context) router.RoutingContext {
	r, _ := logging.RoutingFromContext(c.Request().Context())
	return router.RoutingContext{CallerID: r.CallerID, ChannelID: r.ChannelID}
}

// ServeHTTP serves one request; used by tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
