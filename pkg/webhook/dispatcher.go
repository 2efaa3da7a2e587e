package webhook

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/colliery-io/brokkr-sub000/internal/db"
	"github.com/colliery-io/brokkr-sub000/internal/sealedbytes"
	"github.com/colliery-io/brokkr-sub000/internal/telemetry"
)

const deliveryTimeout = 30 * time.Second

// Dispatcher drives the delivery worker and retention sweep for one
// tenant's due webhook deliveries. It runs outside any single request's
// lifetime, so it is handed a raw Store rather than going through Service.
type Dispatcher struct {
	store  *Store
	sealer *sealedbytes.Sealer
	client *http.Client
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher scoped to one tenant connection.
func NewDispatcher(dbtx db.DBTX, sealer *sealedbytes.Sealer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  NewStore(dbtx),
		sealer: sealer,
		client: &http.Client{Timeout: deliveryTimeout},
		logger: logger,
	}
}

// RunDeliveries attempts up to batchSize due deliveries, returning how many
// were attempted. A delivery's outcome is recorded before moving to the
// next, so a crash mid-batch never double-delivers beyond one in flight.
func (d *Dispatcher) RunDeliveries(ctx context.Context, batchSize int) (int, error) {
	due, err := d.store.DueDeliveries(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetching due webhook deliveries: %w", err)
	}

	for _, delivery := range due {
		d.attempt(ctx, delivery)
	}
	return len(due), nil
}

func (d *Dispatcher) attempt(ctx context.Context, delivery DueDelivery) {
	sub := delivery.Subscription
	start := time.Now()

	url, err := d.sealer.OpenString(sub.URLEncrypted)
	if err != nil {
		d.logger.Error("unsealing webhook url", "subscription_id", sub.ID, "error", err)
		d.fail(ctx, delivery, fmt.Sprintf("unsealing url: %v", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(delivery.Payload))
	if err != nil {
		d.fail(ctx, delivery, fmt.Sprintf("building request: %v", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Brokkr-Event-Type", delivery.EventType)

	if sub.AuthHeaderEncrypted != nil {
		authHeader, err := d.sealer.OpenString(*sub.AuthHeaderEncrypted)
		if err != nil {
			d.logger.Error("unsealing webhook auth header", "subscription_id", sub.ID, "error", err)
			d.fail(ctx, delivery, fmt.Sprintf("unsealing auth header: %v", err))
			return
		}
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := d.client.Do(req)
	telemetry.WebhookDeliveryDuration.WithLabelValues(delivery.EventType).Observe(time.Since(start).Seconds())
	if err != nil {
		d.fail(ctx, delivery, fmt.Sprintf("request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.succeed(ctx, delivery)
		return
	}
	d.fail(ctx, delivery, fmt.Sprintf("unexpected status %d", resp.StatusCode))
}

func (d *Dispatcher) succeed(ctx context.Context, delivery DueDelivery) {
	if err := d.store.MarkSuccess(ctx, delivery.ID); err != nil {
		d.logger.Error("marking webhook delivery success", "delivery_id", delivery.ID, "error", err)
		return
	}
	telemetry.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
}

func (d *Dispatcher) fail(ctx context.Context, delivery DueDelivery, reason string) {
	if err := d.store.MarkFailure(ctx, delivery.ID, delivery.Attempts, delivery.Subscription.MaxRetries, reason); err != nil {
		d.logger.Error("marking webhook delivery failure", "delivery_id", delivery.ID, "error", err)
		return
	}
	outcome := "retry"
	if delivery.Attempts+1 >= delivery.Subscription.MaxRetries {
		outcome = "dead"
	}
	telemetry.WebhookDeliveriesTotal.WithLabelValues(outcome).Inc()
	d.logger.Warn("webhook delivery failed", "delivery_id", delivery.ID, "subscription_id", delivery.Subscription.ID, "reason", reason, "outcome", outcome)
}

// RunCleanup deletes terminal (success/dead) deliveries older than
// retentionDays, returning the number removed.
func (d *Dispatcher) RunCleanup(ctx context.Context, retentionDays int) (int64, error) {
	n, err := d.store.CleanupOlderThan(ctx, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("cleaning up webhook deliveries: %w", err)
	}
	return n, nil
}
