// Package app wires the broker's composition root: configuration, database
// and Redis connections, global migrations, the authenticated HTTP API, and
// the background maintenance runner. Run is the single entry point called
// from cmd/brokkrd.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/colliery-io/brokkr-sub000/internal/audit"
	"github.com/colliery-io/brokkr-sub000/internal/auth"
	"github.com/colliery-io/brokkr-sub000/internal/config"
	"github.com/colliery-io/brokkr-sub000/internal/eventbus"
	"github.com/colliery-io/brokkr-sub000/internal/httpserver"
	"github.com/colliery-io/brokkr-sub000/internal/maintenance"
	"github.com/colliery-io/brokkr-sub000/internal/platform"
	"github.com/colliery-io/brokkr-sub000/internal/seed"
	"github.com/colliery-io/brokkr-sub000/internal/sealedbytes"
	"github.com/colliery-io/brokkr-sub000/internal/telemetry"
	"github.com/colliery-io/brokkr-sub000/pkg/agent"
	"github.com/colliery-io/brokkr-sub000/pkg/deploymenthealth"
	"github.com/colliery-io/brokkr-sub000/pkg/deploymentobject"
	"github.com/colliery-io/brokkr-sub000/pkg/diagnostic"
	"github.com/colliery-io/brokkr-sub000/pkg/generator"
	"github.com/colliery-io/brokkr-sub000/pkg/stack"
	"github.com/colliery-io/brokkr-sub000/pkg/template"
	"github.com/colliery-io/brokkr-sub000/pkg/tenant"
	"github.com/colliery-io/brokkr-sub000/pkg/webhook"
	"github.com/colliery-io/brokkr-sub000/pkg/workorder"
)

// Run starts the broker in the mode named by cfg.Mode ("api", "worker",
// "all", or "seed") and blocks until ctx is cancelled or a fatal error
// occurs; in "seed" mode it returns once seeding is done.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	logger.Info("starting brokkr", "mode", cfg.Mode)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	if err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsGlobalDir); err != nil {
		return fmt.Errorf("running global migrations: %w", err)
	}

	sealer, err := loadSealer(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing secret sealer: %w", err)
	}

	if cfg.ConfigWatcherEnabled && cfg.ConfigPath != "" {
		rc := config.NewReloadableConfig(cfg, cfg.ConfigPath, logger)
		watcher := config.NewWatcher(rc, time.Duration(cfg.ConfigWatcherDebounceSeconds)*time.Second, logger, func(changes []config.Change) {
			telemetry.ConfigReloadsTotal.WithLabelValues("success").Inc()
			logger.Info("configuration reload applied", "changed_keys", len(changes))
		})
		go func() {
			if err := watcher.Run(ctx); err != nil {
				telemetry.ConfigReloadsTotal.WithLabelValues("error").Inc()
				logger.Error("config watcher stopped", "error", err)
			}
		}()
	}

	provisioner := &tenant.Provisioner{
		DB:            db,
		DatabaseURL:   cfg.DatabaseURL,
		MigrationsDir: cfg.MigrationsTenantDir,
		Logger:        logger,
	}

	bus := eventbus.New(rdb, logger)

	auditWriter := audit.NewWriter(db, bus, logger, audit.Config{
		BufferSize: cfg.AuditBufferSize,
		FlushBatch: cfg.AuditFlushBatch,
		FlushEvery: time.Duration(cfg.AuditFlushSeconds) * time.Second,
	})
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, sealer, auditWriter)
	case "worker":
		runner := maintenance.NewRunner(db, provisioner, sealer, logger, cfg)
		runner.Run(ctx)
		return nil
	case "all":
		errCh := make(chan error, 1)
		go func() {
			errCh <- runAPI(ctx, cfg, logger, db, rdb, sealer, auditWriter)
		}()
		runner := maintenance.NewRunner(db, provisioner, sealer, logger, cfg)
		runner.Run(ctx)
		return <-errCh
	case "seed":
		return seed.Run(ctx, db, cfg.DatabaseURL, cfg.MigrationsTenantDir, logger)
	default:
		return fmt.Errorf("unknown mode %q: expected api, worker, all, or seed", cfg.Mode)
	}
}

// loadSealer builds the sealer used to encrypt webhook subscription URLs and
// auth headers at rest. If no key is configured, an ephemeral one is
// generated: fine for development, but webhook secrets sealed under it
// become unreadable across restarts.
func loadSealer(cfg *config.Config, logger *slog.Logger) (*sealedbytes.Sealer, error) {
	if cfg.WebhookEncryptionKey != "" {
		return sealedbytes.NewSealerFromHex(cfg.WebhookEncryptionKey)
	}

	key, err := sealedbytes.GenerateKey()
	if err != nil {
		return nil, err
	}
	logger.Warn("no webhook encryption key configured, generated an ephemeral one; sealed secrets will not survive a restart")
	return sealedbytes.NewSealerFromHex(key)
}

// runAPI builds the HTTP server, mounts every domain handler, and serves
// until ctx is cancelled, shutting down gracefully.
func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, sealer *sealedbytes.Sealer, auditWriter *audit.Writer) error {
	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	pakAuth := &auth.PAKAuthenticator{Pool: db}

	var sessionMgr *auth.SessionManager
	if cfg.SessionSigningSecret != "" {
		sm, err := auth.NewSessionManager(cfg.SessionSigningSecret, time.Duration(cfg.SessionMaxAgeMinutes)*time.Minute)
		if err != nil {
			return fmt.Errorf("initializing session manager: %w", err)
		}
		sessionMgr = sm
	} else if cfg.DevMode {
		sm, err := auth.NewSessionManager(auth.GenerateDevSecret(), time.Duration(cfg.SessionMaxAgeMinutes)*time.Minute)
		if err != nil {
			return fmt.Errorf("initializing dev session manager: %w", err)
		}
		sessionMgr = sm
		logger.Warn("no session signing secret configured, generated an ephemeral dev secret; admin sessions will not survive a restart")
	}

	srv := httpserver.NewServer(ctx, cfg, logger, db, rdb, metricsReg, pakAuth, sessionMgr)
	mountRoutes(srv.APIRouter, logger, auditWriter, sealer)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down http server")
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// mountRoutes attaches every domain package's routes to the authenticated,
// tenant-scoped /api/v1 sub-router.
func mountRoutes(r chi.Router, logger *slog.Logger, auditWriter *audit.Writer, sealer *sealedbytes.Sealer) {
	agentHandler := agent.NewHandler(logger, auditWriter)
	generatorHandler := generator.NewHandler(logger, auditWriter)
	stackHandler := stack.NewHandler(logger, auditWriter)
	templateHandler := template.NewHandler(logger, auditWriter)
	deploymentObjectHandler := deploymentobject.NewHandler(logger, auditWriter)
	workorderHandler := workorder.NewHandler(logger, auditWriter)
	webhookHandler := webhook.NewHandler(logger, auditWriter, sealer)
	diagnosticHandler := diagnostic.NewHandler(logger, auditWriter)
	healthHandler := deploymenthealth.NewHandler(logger)

	r.Mount("/agents", agentHandler.Routes())
	r.Mount("/generators", generatorHandler.Routes())
	r.Mount("/templates", templateHandler.Routes())
	r.Mount("/work-orders", workorderHandler.Routes())
	r.Mount("/webhooks", webhookHandler.Routes())
	r.Mount("/audit-log", audit.NewHandler(logger).Routes())
	r.Mount("/diagnostics", diagnosticHandler.Routes())

	r.Mount("/stacks", stackHandler.Routes())
	r.Mount("/stacks/{id}/deployment-objects", deploymentObjectHandler.StackRoutes())
	r.Post("/stacks/{id}/instantiate-template", templateHandler.InstantiateHandler())

	r.Mount("/deployment-objects/{id}", deploymentObjectHandler.ItemRoutes())
	r.Post("/deployment-objects/{id}/diagnostics", diagnosticHandler.CreateForDeploymentObjectHandler())
	r.Get("/deployment-objects/{id}/health", healthHandler.ListForDeploymentObjectHandler())
}
