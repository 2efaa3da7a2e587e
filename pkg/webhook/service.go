package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/colliery-io/brokkr-sub000/internal/brokerr"
	"github.com/colliery-io/brokkr-sub000/internal/db"
	"github.com/colliery-io/brokkr-sub000/internal/sealedbytes"
)

// Service encapsulates webhook subscription management for one tenant.
// Dispatch and cleanup live in Dispatcher, which runs outside any one
// request's tenant scope.
type Service struct {
	store  *Store
	sealer *sealedbytes.Sealer
	logger *slog.Logger
}

// NewService creates a webhook Service.
func NewService(dbtx db.DBTX, sealer *sealedbytes.Sealer, logger *slog.Logger) *Service {
	return &Service{store: NewStore(dbtx), sealer: sealer, logger: logger}
}

// Subscription is the wire representation of a webhook subscription. The
// URL and auth header are never returned once sealed; HasAuthHeader tells
// the caller one is configured without exposing it.
type Subscription struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	EventTypes    []string  `json:"event_types"`
	Enabled       bool      `json:"enabled"`
	TargetLabels  []string  `json:"target_labels,omitempty"`
	MaxRetries    int       `json:"max_retries"`
	HasAuthHeader bool      `json:"has_auth_header"`
}

// CreateSubscriptionRequest is the JSON body for creating a subscription.
type CreateSubscriptionRequest struct {
	Name         string   `json:"name" validate:"required"`
	URL          string   `json:"url" validate:"required,url"`
	AuthHeader   string   `json:"auth_header"`
	EventTypes   []string `json:"event_types" validate:"required,min=1"`
	TargetLabels []string `json:"target_labels"`
	MaxRetries   int      `json:"max_retries"`
}

func toSubscription(row SubscriptionRow) Subscription {
	return Subscription{
		ID:            row.ID,
		Name:          row.Name,
		EventTypes:    row.EventTypes,
		Enabled:       row.Enabled,
		TargetLabels:  row.TargetLabels,
		MaxRetries:    row.MaxRetries,
		HasAuthHeader: row.AuthHeaderEncrypted != nil,
	}
}

// CreateSubscription seals the URL and optional auth header before storing
// them, per §9's requirement that webhook secrets never land in the
// database in the clear.
func (s *Service) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (Subscription, error) {
	if req.MaxRetries <= 0 {
		req.MaxRetries = 5
	}

	urlEncrypted, err := s.sealer.SealString(req.URL)
	if err != nil {
		return Subscription{}, fmt.Errorf("sealing webhook url: %w", err)
	}

	var authHeaderEncrypted *string
	if req.AuthHeader != "" {
		sealed, err := s.sealer.SealString(req.AuthHeader)
		if err != nil {
			return Subscription{}, fmt.Errorf("sealing webhook auth header: %w", err)
		}
		authHeaderEncrypted = &sealed
	}

	row, err := s.store.CreateSubscription(ctx, req.Name, urlEncrypted, authHeaderEncrypted, req.EventTypes, req.TargetLabels, req.MaxRetries)
	if err != nil {
		return Subscription{}, fmt.Errorf("creating webhook subscription: %w", err)
	}
	return toSubscription(row), nil
}

// Get returns a single subscription.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Subscription, error) {
	row, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return Subscription{}, err
	}
	return toSubscription(row), nil
}

// List returns every subscription.
func (s *Service) List(ctx context.Context) ([]Subscription, error) {
	rows, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing webhook subscriptions: %w", err)
	}
	items := make([]Subscription, 0, len(rows))
	for _, row := range rows {
		items = append(items, toSubscription(row))
	}
	return items, nil
}

// SetEnabled enables or disables a subscription.
func (s *Service) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	if _, err := s.store.GetSubscription(ctx, id); err != nil {
		return err
	}
	return s.store.SetEnabled(ctx, id, enabled)
}

// Delete removes a subscription and its delivery history.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.store.GetSubscription(ctx, id); err != nil {
		return err
	}
	return s.store.DeleteSubscription(ctx, id)
}

// Emit queues one pending delivery per subscription matching eventType,
// skipping subscriptions the broker itself does not dispatch (§4.5). Call
// it within the same transaction as the event's source-of-truth write.
func Emit(ctx context.Context, dbtx db.DBTX, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook event payload: %w", err)
	}
	_, err = NewStore(dbtx).QueueForEvent(ctx, eventType, raw)
	return err
}

// ErrNotDispatchable describes a targeted (non-broker) subscription being
// asked to dispatch directly. No function in this package returns it;
// QueueForEvent skips such subscriptions instead.
var ErrNotDispatchable = brokerr.New(brokerr.KindInvalid, "subscription has target_labels set; it is consumed by another principal, not the broker")
