// outboxd is the standalone outbox dispatcher binary.
//
// It polls a transactional outbox table for pending events and dispatch
// jobs and delivers them, in per-key order, to a downstream batch API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.outboxrelay.dev/internal/common/health"
	"go.outboxrelay.dev/internal/common/lifecycle"
	"go.outboxrelay.dev/internal/common/metrics"
	"go.outboxrelay.dev/internal/config"
	"go.outboxrelay.dev/internal/notify"
	"go.outboxrelay.dev/internal/outbox"
	"go.outboxrelay.dev/internal/standby"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	app, cleanup, err := lifecycle.Initialize(context.Background(), lifecycle.AppOptions{
		NeedsOutboxDatabase: true,
	})
	if err != nil {
		// Configuration failures happen before logging is configured; fall
		// back to a default handler so the error is still visible.
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := app.Config

	logLevel := slog.LevelInfo
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("starting outbox dispatcher",
		"version", version,
		"build_time", buildTime,
		"database_type", cfg.Database.Type)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthChecker := health.NewChecker()

	notifier, err := newNotifier(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize notifier", "error", err)
		os.Exit(1)
	}
	if closer, ok := notifier.(interface{ Close() error }); ok {
		app.AddCleanup(closer.Close)
	}

	apiClient := outbox.NewBatchApiClient(&outbox.APIClientConfig{
		BaseURL:                    cfg.API.BaseURL,
		AuthToken:                  cfg.API.AuthToken,
		ConnectionTimeout:          cfg.API.ConnectionTimeout,
		RequestTimeout:             cfg.API.RequestTimeout,
		RateLimitPerSecond:         cfg.API.RateLimitPerSecond,
		RateLimitBurst:             cfg.API.RateLimitBurst,
		CircuitBreakerEnabled:      cfg.API.CircuitBreakerEnabled,
		CircuitBreakerMinRequests:  cfg.API.CircuitBreakerMinRequests,
		CircuitBreakerFailureRatio: cfg.API.CircuitBreakerFailureRatio,
		CircuitBreakerOpenTimeout:  cfg.API.CircuitBreakerOpenTimeout,
	})

	processorConfig := &outbox.ProcessorConfig{
		Enabled:                   cfg.Outbox.Enabled,
		PollInterval:              cfg.Outbox.PollInterval,
		PollBatchSize:             cfg.Outbox.PollBatchSize,
		APIBatchSize:              cfg.Outbox.APIBatchSize,
		BatchLinger:               cfg.Outbox.BatchLinger,
		GlobalBufferSize:          cfg.Outbox.GlobalBufferSize,
		MaxConcurrentGroups:       cfg.Outbox.MaxConcurrentGroups,
		MaxInFlight:               cfg.Outbox.MaxInFlight,
		MaxRetries:                cfg.Outbox.MaxRetries,
		RecoveryInterval:          cfg.Outbox.RecoveryInterval,
		ProcessingTimeoutSeconds:  cfg.Outbox.ProcessingTimeoutSeconds,
		GroupIdleEvictionInterval: cfg.Outbox.GroupIdleEvictionInterval,
	}

	processor := outbox.NewProcessor(app.OutboxRepo, apiClient, processorConfig).WithNotifier(notifier)

	standbySvc, err := setupStandby(ctx, cfg, app, notifier)
	if err != nil {
		slog.Error("failed to initialize leader election", "error", err)
		os.Exit(1)
	}
	if standbySvc != nil {
		processor.WithStandby(standbySvc)
		if err := standbySvc.Start(); err != nil {
			slog.Error("failed to start leader election", "error", err)
			os.Exit(1)
		}
	}

	healthChecker.AddReadinessCheck(health.OutboxProcessorCheck(func() health.OutboxProcessorStats {
		stats := processor.GetStats()
		return health.OutboxProcessorStats{
			Healthy:               stats.Healthy,
			ActiveMessageGroups:   stats.ActiveMessageGroups,
			InFlightPermits:       stats.InFlightPermits,
			TotalInFlightCapacity: stats.TotalInFlightCapacity,
			BufferedItems:         stats.BufferedItems,
		}
	}))

	processor.Start()

	slog.Info("outbox dispatcher started",
		"apiBaseURL", cfg.API.BaseURL,
		"pollInterval", processorConfig.PollInterval,
		"batchSize", processorConfig.PollBatchSize,
		"leaderElection", cfg.Standby.Enabled)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/q/health", healthChecker.HandleHealth)
	r.Get("/q/health/live", healthChecker.HandleLive)
	r.Get("/q/health/ready", healthChecker.HandleReady)

	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/q/metrics", promhttp.Handler())

	r.Get("/outbox/status", func(w http.ResponseWriter, req *http.Request) {
		stats := processor.GetStats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"enabled":%v,"apiBaseURL":"%s","pollInterval":"%s","batchSize":%d,"activeMessageGroups":%d,"bufferedItems":%d}`,
			processorConfig.Enabled,
			cfg.API.BaseURL,
			processorConfig.PollInterval,
			processorConfig.PollBatchSize,
			stats.ActiveMessageGroups,
			stats.BufferedItems)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("HTTP server starting", "port", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	shutdown := lifecycle.NewManager()
	shutdown.SetShutdownTimeout(30 * time.Second)

	shutdown.RegisterHTTPShutdown("http", server.Shutdown)

	shutdown.RegisterWorkerShutdown("processor", func(ctx context.Context) error {
		processor.Stop()
		return nil
	})

	if standbySvc != nil {
		shutdown.RegisterLeaderShutdown("standby", func(ctx context.Context) error {
			standbySvc.Stop()
			return nil
		})
	}

	if err := shutdown.Run(); err != nil {
		slog.Error("graceful shutdown timed out", "error", err)
	}

	slog.Info("outbox dispatcher stopped")
}

// newNotifier builds the operational notification backend selected by
// cfg.Notify.Type, defaulting to a no-op when unset.
func newNotifier(ctx context.Context, cfg *config.Config) (notify.Service, error) {
	switch cfg.Notify.Type {
	case "nats":
		svc, err := notify.NewNATSService(&notify.NATSConfig{
			URL:     cfg.Notify.NATS.URL,
			Subject: cfg.Notify.NATS.Subject,
			Enabled: true,
		})
		if err != nil {
			return nil, fmt.Errorf("notify: nats: %w", err)
		}
		return svc, nil

	case "sqs":
		svc, err := notify.NewSQSService(ctx, &notify.SQSConfig{
			Region:   cfg.Notify.SQS.Region,
			QueueURL: cfg.Notify.SQS.QueueURL,
			Enabled:  true,
		})
		if err != nil {
			return nil, fmt.Errorf("notify: sqs: %w", err)
		}
		return svc, nil

	default:
		return notify.NewNoOpService(), nil
	}
}

// setupStandby wires the distributed lock provider selected by
// cfg.Standby.LockProvider and returns nil when standby mode is disabled,
// leaving the processor in its default always-primary mode.
func setupStandby(ctx context.Context, cfg *config.Config, app *lifecycle.App, notifier notify.Service) (*standby.Service, error) {
	if !cfg.Standby.Enabled {
		return nil, nil
	}

	svc := standby.NewService(&standby.Config{
		Enabled:         true,
		InstanceID:      cfg.Standby.InstanceID,
		LockKey:         cfg.Standby.LockKey,
		LockTTL:         cfg.Standby.LockTTL,
		RefreshInterval: cfg.Standby.RefreshInterval,
	}, &standby.Callbacks{
		OnBecomePrimary: func() {
			metrics.OutboxLeaderElectionState.Set(1)
			notifier.NotifySystemEvent("leader_election", "instance became primary")
		},
		OnBecomeStandby: func() {
			metrics.OutboxLeaderElectionState.Set(0)
		},
	})

	var (
		provider standby.LockProvider
		err      error
	)
	switch cfg.Standby.LockProvider {
	case "redis":
		provider, err = standby.NewRedisLockProvider(cfg.Standby.LockProviderURL)
	case "mongo":
		if app.DB == nil {
			return nil, fmt.Errorf("standby: mongo lock provider requires database.type=mongodb")
		}
		provider, err = standby.NewMongoLockProvider(ctx, app.DB)
	default:
		provider = standby.NewNoOpLockProvider(cfg.Standby.InstanceID)
	}
	if err != nil {
		return nil, fmt.Errorf("standby: %s: %w", cfg.Standby.LockProvider, err)
	}

	svc.SetLockProvider(provider)
	return svc, nil
}
