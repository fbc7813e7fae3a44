package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/audit"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/config"
	bridgehttp "github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/http"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/logging"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/recordstore"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/rollout"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/router"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/tableapi"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/telemetry"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/ticket"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the bridge HTTP server.

Configuration is read from the optional --config YAML file and BRIDGE_*
environment variables (BRIDGE_SERVER_HTTP_PORT, BRIDGE_LEGACY_URL, ...).
Legacy credentials also fall back to SERVICENOW_URL, SERVICENOW_USERNAME and
SERVICENOW_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("BRIDGE_CONFIG"), "path to the YAML config file")
	return cmd
}

// run starts the bridge and blocks until ctx is cancelled.
//
// Startup order:
//  1. Logger and telemetry
//  2. Rollout policy and its refresher
//  3. Audit recorder and sinks
//  4. Backend clients and the routed ticket service
//  5. HTTP server
func run(ctx context.Context, cfg *config.Config) error {
	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()
	zl := logger.Underlying()

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version), telemetry.WithLogger(zl))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			zl.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	logger.Info(ctx, "starting bridge",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("legacy_instance", cfg.Legacy.URL),
		zap.Bool("repository_enabled", cfg.Repository.Enabled()),
		zap.Bool("telemetry_enabled", tel.Enabled()))

	policy, refresher, err := initRollout(ctx, cfg.Rollout, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize rollout policy: %w", err)
	}

	recorder, recent, closeAudit, err := initAudit(cfg.Audit, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize audit: %w", err)
	}
	defer closeAudit()

	executor := router.NewExecutor(policy,
		router.WithRecorder(recorder),
		router.WithLogger(zl.Named("router")),
		router.WithTracer(tel.Tracer("bridge/router")),
		router.WithMeter(tel.Meter("bridge/router")),
		router.WithFallbackTimeout(cfg.Rollout.FallbackTimeout.Duration()),
	)

	tickets, err := initTickets(cfg, executor, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize ticket service: %w", err)
	}

	deps := bridgehttp.Deps{
		Tickets:   tickets,
		Policy:    policy,
		Refresher: refresher,
		Gatherer:  prometheus.DefaultGatherer,
		Meter:     tel.Meter("bridge/http"),
	}
	if recent != nil {
		deps.Audit = recent
	}
	srv, err := bridgehttp.NewServer(deps, zl.Named("http"), &bridgehttp.Config{Host: cfg.Server.Host, Port: cfg.Server.Port})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return refresher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info(ctx, "bridge stopped")
	return err
}

func initLogger(cfg *config.Config) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	lvl, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	lc.Level = lvl
	lc.Format = cfg.Logging.Format
	lc.Output.OTEL = cfg.Observability.EnableTelemetry
	lc.Fields["version"] = version
	return logging.NewLogger(lc, global.GetLoggerProvider())
}

// initRollout loads the first snapshot synchronously so the server never
// routes from an empty policy when the file is readable at startup.
func initRollout(ctx context.Context, cfg config.RolloutConfig, logger *zap.Logger) (*rollout.Policy, *rollout.Refresher, error) {
	defaults, err := rollout.NewStaticSource(cfg.Defaults)
	if err != nil {
		return nil, nil, fmt.Errorf("rollout defaults: %w", err)
	}

	layers := []rollout.Source{defaults}
	rc := rollout.RefresherConfig{Interval: cfg.RefreshInterval.Duration()}
	if cfg.PolicyFile != "" {
		layers = append(layers, rollout.NewFileSource(cfg.PolicyFile))
		if cfg.Watch {
			rc.WatchPath = cfg.PolicyFile
		}
	} else {
		rc.Interval = 0
	}

	policy := rollout.NewPolicy(rollout.NewSnapshot(nil))
	refresher, err := rollout.NewRefresher(policy, rollout.NewLayeredSource(layers...), rc, logger.Named("rollout"))
	if err != nil {
		return nil, nil, err
	}
	if err := refresher.Refresh(ctx); err != nil {
		logger.Warn("initial rollout policy load failed; every operation stays on legacy until a refresh succeeds",
			zap.Error(err))
	}
	return policy, refresher, nil
}

func initAudit(cfg config.AuditConfig, logger *zap.Logger) (*audit.Recorder, *audit.MemorySink, func(), error) {
	sinks := []audit.Sink{audit.NewMetricsSink(prometheus.DefaultRegisterer)}
	if cfg.LogEvents {
		sinks = append(sinks, audit.NewLogSink(logger.Named("audit")))
	}
	var recent *audit.MemorySink
	if cfg.RecentEvents > 0 {
		recent = audit.NewMemorySink(cfg.RecentEvents)
		sinks = append(sinks, recent)
	}

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		var err error
		nc, err = audit.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return nil, nil, nil, err
		}
		sink, err := audit.NewNATSSink(nc, cfg.NATSSubject)
		if err != nil {
			nc.Close()
			return nil, nil, nil, err
		}
		sinks = append(sinks, sink)
		logger.Info("audit events published to NATS", zap.String("subject_prefix", cfg.NATSSubject))
	}

	recorder := audit.NewRecorder(audit.Config{
		BufferSize:   cfg.BufferSize,
		WriteTimeout: cfg.WriteTimeout.Duration(),
	}, logger.Named("audit"), sinks...)

	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := recorder.Close(ctx); err != nil {
			logger.Warn("audit recorder did not drain", zap.Error(err), zap.Uint64("dropped", recorder.Dropped()))
		}
		if nc != nil {
			if err := nc.Drain(); err != nil {
				nc.Close()
			}
		}
	}
	return recorder, recent, closeFn, nil
}

func initTickets(cfg *config.Config, executor *router.Executor, logger *zap.Logger) (*ticket.Service, error) {
	legacy, err := tableapi.NewClient(tableapi.Config{
		Credentials: tableapi.Credentials{
			URL:       cfg.Legacy.URL,
			Username:  cfg.Legacy.Username,
			Password:  cfg.Legacy.Password.Value(),
			VerifySSL: cfg.Legacy.VerifySSL,
			Timeout:   cfg.Legacy.Timeout.Duration(),
		},
		RateLimit: cfg.Legacy.RateLimit,
		Burst:     cfg.Legacy.Burst,
	}, logger.Named("tableapi"))
	if err != nil {
		return nil, err
	}

	// A nil interface, not a typed nil, keeps the service legacy-only.
	var store ticket.StoreBackend
	if cfg.Repository.Enabled() {
		client, err := recordstore.New(recordstore.Config{
			BaseURL:      cfg.Repository.URL,
			TokenURL:     cfg.Repository.TokenURL,
			ClientID:     cfg.Repository.ClientID,
			ClientSecret: cfg.Repository.ClientSecret.Value(),
			Scopes:       cfg.Repository.Scopes,
			Timeout:      cfg.Repository.Timeout.Duration(),
		}, logger.Named("recordstore"))
		if err != nil {
			return nil, err
		}
		store = client
	}

	return ticket.NewService(executor, legacy, store, logger.Named("ticket"))
}
