package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/colliery-io/brokkr-sub000/internal/brokerr"
	"github.com/colliery-io/brokkr-sub000/internal/db"
)

// Store provides database operations for webhook subscriptions and
// deliveries, scoped to one tenant schema.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a webhook Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const subscriptionColumns = `id, name, url_encrypted, auth_header_encrypted, event_types, enabled, target_labels, max_retries, created_at, updated_at`

// SubscriptionRow represents a row from the webhook_subscriptions table.
type SubscriptionRow struct {
	ID                   uuid.UUID
	Name                 string
	URLEncrypted         string
	AuthHeaderEncrypted  *string
	EventTypes           []string
	Enabled              bool
	TargetLabels         []string
	MaxRetries           int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func scanSubscription(row pgx.Row) (SubscriptionRow, error) {
	var s SubscriptionRow
	err := row.Scan(&s.ID, &s.Name, &s.URLEncrypted, &s.AuthHeaderEncrypted, &s.EventTypes,
		&s.Enabled, &s.TargetLabels, &s.MaxRetries, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func scanSubscriptions(rows pgx.Rows) ([]SubscriptionRow, error) {
	defer rows.Close()
	var items []SubscriptionRow
	for rows.Next() {
		var s SubscriptionRow
		if err := rows.Scan(&s.ID, &s.Name, &s.URLEncrypted, &s.AuthHeaderEncrypted, &s.EventTypes,
			&s.Enabled, &s.TargetLabels, &s.MaxRetries, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning webhook subscription row: %w", err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webhook subscription rows: %w", err)
	}
	return items, nil
}

// CreateSubscription inserts a new subscription. urlEncrypted and
// authHeaderEncrypted must already be sealed by the caller.
func (s *Store) CreateSubscription(ctx context.Context, name, urlEncrypted string, authHeaderEncrypted *string, eventTypes []string, targetLabels []string, maxRetries int) (SubscriptionRow, error) {
	query := `INSERT INTO webhook_subscriptions (name, url_encrypted, auth_header_encrypted, event_types, target_labels, max_retries)
	VALUES ($1, $2, $3, $4, $5, $6) RETURNING ` + subscriptionColumns
	return scanSubscription(s.dbtx.QueryRow(ctx, query, name, urlEncrypted, authHeaderEncrypted, eventTypes, targetLabels, maxRetries))
}

// GetSubscription returns a single subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (SubscriptionRow, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE id = $1`
	row, err := scanSubscription(s.dbtx.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return SubscriptionRow{}, brokerr.New(brokerr.KindNotFound, "webhook subscription not found")
		}
		return SubscriptionRow{}, fmt.Errorf("getting webhook subscription: %w", err)
	}
	return row, nil
}

// ListSubscriptions returns every subscription.
func (s *Store) ListSubscriptions(ctx context.Context) ([]SubscriptionRow, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions ORDER BY created_at`
	rows, err := s.dbtx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing webhook subscriptions: %w", err)
	}
	return scanSubscriptions(rows)
}

// ListEnabledMatching returns every enabled subscription whose event_types
// includes a pattern matching eventType.
func (s *Store) ListEnabledMatching(ctx context.Context, eventType string) ([]SubscriptionRow, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE enabled`
	rows, err := s.dbtx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing enabled webhook subscriptions: %w", err)
	}
	all, err := scanSubscriptions(rows)
	if err != nil {
		return nil, err
	}

	matched := make([]SubscriptionRow, 0, len(all))
	for _, sub := range all {
		if MatchesPattern(sub.EventTypes, eventType) {
			matched = append(matched, sub)
		}
	}
	return matched, nil
}

// SetEnabled toggles a subscription's enabled flag.
func (s *Store) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE webhook_subscriptions SET enabled = $2, updated_at = now() WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("updating webhook subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes a subscription and its deliveries (cascade).
func (s *Store) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting webhook subscription: %w", err)
	}
	return nil
}

const deliveryColumns = `id, subscription_id, event_type, payload, status, attempts, next_attempt_at, last_attempt_at, last_error, completed_at, created_at`

// DeliveryRow represents a row from the webhook_deliveries table.
type DeliveryRow struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	EventType      string
	Payload        json.RawMessage
	Status         string
	Attempts       int
	NextAttemptAt  time.Time
	LastAttemptAt  *time.Time
	LastError      *string
	CompletedAt    *time.Time
	CreatedAt      time.Time
}

// DueDelivery pairs a due delivery with the subscription it targets, so the
// dispatcher never needs a second round trip to learn the destination or
// retry budget.
type DueDelivery struct {
	DeliveryRow
	Subscription SubscriptionRow
}

func scanDelivery(row pgx.Row) (DeliveryRow, error) {
	var d DeliveryRow
	err := row.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.Payload, &d.Status, &d.Attempts,
		&d.NextAttemptAt, &d.LastAttemptAt, &d.LastError, &d.CompletedAt, &d.CreatedAt)
	return d, err
}

func scanDeliveries(rows pgx.Rows) ([]DeliveryRow, error) {
	defer rows.Close()
	var items []DeliveryRow
	for rows.Next() {
		var d DeliveryRow
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.Payload, &d.Status, &d.Attempts,
			&d.NextAttemptAt, &d.LastAttemptAt, &d.LastError, &d.CompletedAt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning webhook delivery row: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webhook delivery rows: %w", err)
	}
	return items, nil
}

// QueueForEvent inserts one pending delivery per subscription matching
// eventType whose target_labels is null (§4.5 deliver-vs-skip rule: a
// non-null target_labels means some other principal consumes it, not the
// broker). Call within the same transaction as the event's source-of-truth
// write so a delivery is never queued for an event that rolls back.
func (s *Store) QueueForEvent(ctx context.Context, eventType string, payload json.RawMessage) (int, error) {
	subs, err := s.ListEnabledMatching(ctx, eventType)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, sub := range subs {
		if sub.TargetLabels != nil {
			continue
		}
		_, err := s.dbtx.Exec(ctx, `INSERT INTO webhook_deliveries (subscription_id, event_type, payload) VALUES ($1, $2, $3)`,
			sub.ID, eventType, payload)
		if err != nil {
			return queued, fmt.Errorf("queuing webhook delivery: %w", err)
		}
		queued++
	}
	return queued, nil
}

// DueDeliveries returns up to limit pending deliveries whose next_attempt_at
// has elapsed, oldest first, each paired with its subscription.
func (s *Store) DueDeliveries(ctx context.Context, limit int) ([]DueDelivery, error) {
	deliveryCols := prefixed(deliveryColumns, "d")
	subCols := prefixed(subscriptionColumns, "s")
	query := `SELECT ` + deliveryCols + `, ` + subCols + `
	FROM webhook_deliveries d JOIN webhook_subscriptions s ON s.id = d.subscription_id
	WHERE d.status = 'pending' AND d.next_attempt_at <= now()
	ORDER BY d.next_attempt_at ASC LIMIT $1`
	rows, err := s.dbtx.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing due webhook deliveries: %w", err)
	}
	defer rows.Close()

	var items []DueDelivery
	for rows.Next() {
		var d DeliveryRow
		var sub SubscriptionRow
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.Payload, &d.Status, &d.Attempts,
			&d.NextAttemptAt, &d.LastAttemptAt, &d.LastError, &d.CompletedAt, &d.CreatedAt,
			&sub.ID, &sub.Name, &sub.URLEncrypted, &sub.AuthHeaderEncrypted, &sub.EventTypes,
			&sub.Enabled, &sub.TargetLabels, &sub.MaxRetries, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning due webhook delivery row: %w", err)
		}
		items = append(items, DueDelivery{DeliveryRow: d, Subscription: sub})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating due webhook delivery rows: %w", err)
	}
	return items, nil
}

// prefixed qualifies each column in a comma-separated list with alias,
// matching the convention used by pkg/workorder's store for joined queries.
func prefixed(columns, alias string) string {
	parts := strings.Split(columns, ", ")
	for i, c := range parts {
		parts[i] = alias + "." + c
	}
	return strings.Join(parts, ", ")
}

// MarkSuccess records a successful delivery attempt.
func (s *Store) MarkSuccess(ctx context.Context, id uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE webhook_deliveries
	SET status = 'success', attempts = attempts + 1, completed_at = now(), last_attempt_at = now(), next_attempt_at = NULL
	WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking webhook delivery success: %w", err)
	}
	return nil
}

// MarkFailure records a failed delivery attempt, either scheduling a retry
// with exponential backoff or marking the delivery dead once maxRetries is
// reached (§4.5).
func (s *Store) MarkFailure(ctx context.Context, id uuid.UUID, attempts, maxRetries int, lastError string) error {
	n := attempts + 1
	if n >= maxRetries {
		_, err := s.dbtx.Exec(ctx, `UPDATE webhook_deliveries
		SET status = 'dead', attempts = $2, last_attempt_at = now(), last_error = $3, next_attempt_at = NULL
		WHERE id = $1`, id, n, lastError)
		if err != nil {
			return fmt.Errorf("marking webhook delivery dead: %w", err)
		}
		return nil
	}

	backoffSeconds := 1 << uint(n)
	_, err := s.dbtx.Exec(ctx, `UPDATE webhook_deliveries
	SET status = 'pending', attempts = $2, last_attempt_at = now(), last_error = $3,
	    next_attempt_at = now() + ($4 || ' seconds')::interval
	WHERE id = $1`, id, n, lastError, backoffSeconds)
	if err != nil {
		return fmt.Errorf("scheduling webhook delivery retry: %w", err)
	}
	return nil
}

// CleanupOlderThan deletes success/dead deliveries older than retentionDays.
func (s *Store) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM webhook_deliveries
	WHERE status IN ('success', 'dead') AND created_at < now() - ($1 || ' days')::interval`, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("cleaning up webhook deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}
