// Package maintenance runs the broker's periodic, per-tenant background
// sweeps: work-order retry/stale-claim reclaim, webhook delivery and
// retention cleanup, and diagnostic expiry and cleanup. Each sweep is its
// own ticker loop over every provisioned tenant schema, in the style of
// the teacher's escalation engine.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colliery-io/brokkr-sub000/internal/config"
	"github.com/colliery-io/brokkr-sub000/internal/sealedbytes"
	"github.com/colliery-io/brokkr-sub000/pkg/diagnostic"
	"github.com/colliery-io/brokkr-sub000/pkg/tenant"
	"github.com/colliery-io/brokkr-sub000/pkg/webhook"
	"github.com/colliery-io/brokkr-sub000/pkg/workorder"
)

// Runner owns the set of background sweep loops. Each sweep runs on its
// own ticker so a slow tenant in one sweep never delays another.
type Runner struct {
	pool        *pgxpool.Pool
	provisioner *tenant.Provisioner
	sealer      *sealedbytes.Sealer
	logger      *slog.Logger
	cfg         *config.Config
}

// NewRunner creates a maintenance Runner.
func NewRunner(pool *pgxpool.Pool, provisioner *tenant.Provisioner, sealer *sealedbytes.Sealer, logger *slog.Logger, cfg *config.Config) *Runner {
	return &Runner{pool: pool, provisioner: provisioner, sealer: sealer, logger: logger, cfg: cfg}
}

// Run starts every sweep loop and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	go r.loop(ctx, "workorder-sweep", time.Duration(r.cfg.WorkOrderSweepIntervalSeconds)*time.Second, r.sweepWorkOrders)
	go r.loop(ctx, "webhook-delivery", time.Duration(r.cfg.WebhookDeliveryIntervalSeconds)*time.Second, r.sweepWebhookDeliveries)
	go r.loop(ctx, "webhook-cleanup", time.Duration(r.cfg.WebhookCleanupIntervalSeconds)*time.Second, r.sweepWebhookCleanup)
	go r.loop(ctx, "diagnostic-cleanup", time.Duration(r.cfg.DiagnosticCleanupIntervalSeconds)*time.Second, r.sweepDiagnostics)
	<-ctx.Done()
	r.logger.Info("maintenance runner stopped")
}

// loop ticks fn at interval until ctx is cancelled, logging (but not
// propagating) per-tick errors so one bad tick never kills the others.
func (r *Runner) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	r.logger.Info("maintenance sweep started", "sweep", name, "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				r.logger.Error("maintenance sweep tick", "sweep", name, "error", err)
			}
		}
	}
}

// forEachTenant acquires a schema-scoped connection for every provisioned
// tenant and invokes fn, logging per-tenant failures without aborting the
// rest of the sweep.
func (r *Runner) forEachTenant(ctx context.Context, sweep string, fn func(ctx context.Context, conn *pgxpool.Conn) error) error {
	slugs, err := r.provisioner.ListSlugs(ctx)
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}

	for _, slug := range slugs {
		if err := r.runOnTenant(ctx, slug, fn); err != nil {
			r.logger.Error("maintenance sweep on tenant", "sweep", sweep, "tenant", slug, "error", err)
		}
	}
	return nil
}

func (r *Runner) runOnTenant(ctx context.Context, slug string, fn func(ctx context.Context, conn *pgxpool.Conn) error) error {
	conn, err := tenant.AcquireConn(ctx, r.pool, tenant.SchemaName(slug))
	if err != nil {
		return err
	}
	defer conn.Release()
	return fn(ctx, conn)
}

func (r *Runner) sweepWorkOrders(ctx context.Context) error {
	return r.forEachTenant(ctx, "workorder-sweep", func(ctx context.Context, conn *pgxpool.Conn) error {
		svc := workorder.NewService(conn, r.logger)
		retried, err := svc.ProcessRetryPending(ctx)
		if err != nil {
			return fmt.Errorf("processing retry-pending work orders: %w", err)
		}
		reclaimed, err := svc.ProcessStaleClaims(ctx)
		if err != nil {
			return fmt.Errorf("processing stale work order claims: %w", err)
		}
		if retried > 0 || reclaimed > 0 {
			r.logger.Debug("work order sweep", "retried", retried, "reclaimed", reclaimed)
		}
		return nil
	})
}

func (r *Runner) sweepWebhookDeliveries(ctx context.Context) error {
	return r.forEachTenant(ctx, "webhook-delivery", func(ctx context.Context, conn *pgxpool.Conn) error {
		dispatcher := webhook.NewDispatcher(conn, r.sealer, r.logger)
		attempted, err := dispatcher.RunDeliveries(ctx, r.cfg.WebhookDeliveryBatchSize)
		if err != nil {
			return fmt.Errorf("running webhook deliveries: %w", err)
		}
		if attempted > 0 {
			r.logger.Debug("webhook delivery sweep", "attempted", attempted)
		}
		return nil
	})
}

func (r *Runner) sweepWebhookCleanup(ctx context.Context) error {
	return r.forEachTenant(ctx, "webhook-cleanup", func(ctx context.Context, conn *pgxpool.Conn) error {
		dispatcher := webhook.NewDispatcher(conn, r.sealer, r.logger)
		removed, err := dispatcher.RunCleanup(ctx, r.cfg.WebhookRetentionDays)
		if err != nil {
			return fmt.Errorf("cleaning up webhook deliveries: %w", err)
		}
		if removed > 0 {
			r.logger.Debug("webhook cleanup sweep", "removed", removed)
		}
		return nil
	})
}

func (r *Runner) sweepDiagnostics(ctx context.Context) error {
	return r.forEachTenant(ctx, "diagnostic-cleanup", func(ctx context.Context, conn *pgxpool.Conn) error {
		svc := diagnostic.NewService(conn, r.logger)
		expired, err := svc.ExpirePending(ctx)
		if err != nil {
			return fmt.Errorf("expiring diagnostics: %w", err)
		}
		removed, err := svc.RunCleanup(ctx, time.Duration(r.cfg.DiagnosticMaxAgeHours)*time.Hour)
		if err != nil {
			return fmt.Errorf("cleaning up diagnostics: %w", err)
		}
		if expired > 0 || removed > 0 {
			r.logger.Debug("diagnostic sweep", "expired", expired, "removed", removed)
		}
		return nil
	})
}
