// Package eventbus fans broker events out over Redis pub/sub, the way the
// teacher's escalation engine publishes acknowledgment and escalation
// events. The audit writer is its only publisher ("audit."+action) and no
// package in this module subscribes; webhook deliveries are queued by
// webhook.Emit without going through this bus.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/colliery-io/brokkr-sub000/internal/telemetry"
)

// channelPrefix namespaces broker events in the shared Redis keyspace.
const channelPrefix = "brokkr:event:"

// Event names for broker domain events. Subscribe matches channel names
// exactly and has no wildcard form. No code publishes these names on the
// bus.
const (
	EventWorkOrderCompleted      = "workorder.completed"
	EventWorkOrderFailed         = "workorder.failed"
	EventDeploymentObjectCreated = "deploymentobject.created"
	EventAgentHeartbeat          = "agent.heartbeat"
	EventDiagnosticCompleted     = "diagnostic.completed"
)

// Event is one occurrence published to the bus.
type Event struct {
	Type      string          `json:"type"`
	TenantID  uuid.UUID       `json:"tenant_id"`
	EntityID  uuid.UUID       `json:"entity_id"`
	Payload   json.RawMessage `json:"payload"`
	PublishedAt time.Time     `json:"published_at"`
}

// Bus publishes and subscribes to broker events over Redis.
type Bus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New creates a Bus backed by an existing Redis client.
func New(rdb *redis.Client, logger *slog.Logger) *Bus {
	return &Bus{rdb: rdb, logger: logger}
}

// Publish serializes and publishes an event. Publish failures are logged
// and swallowed: the event bus is a best-effort fan-out, never the
// system of record (that's Postgres and the audit log).
func (b *Bus) Publish(ctx context.Context, eventType string, tenantID, entityID uuid.UUID, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("eventbus: marshaling payload", "event_type", eventType, "error", err)
		return
	}

	evt := Event{
		Type:        eventType,
		TenantID:    tenantID,
		EntityID:    entityID,
		Payload:     raw,
		PublishedAt: time.Now().UTC(),
	}

	body, err := json.Marshal(evt)
	if err != nil {
		b.logger.Error("eventbus: marshaling envelope", "event_type", eventType, "error", err)
		return
	}

	if err := b.rdb.Publish(ctx, channelPrefix+eventType, body).Err(); err != nil {
		b.logger.Warn("eventbus: publish failed", "event_type", eventType, "error", err)
		return
	}

	telemetry.EventBusPublishedTotal.WithLabelValues(eventType).Inc()
}

// Subscribe returns a channel of decoded events for the given event types.
// The returned func must be called to stop the subscription and release
// the underlying Redis connection.
func (b *Bus) Subscribe(ctx context.Context, eventTypes ...string) (<-chan Event, func(), error) {
	channels := make([]string, len(eventTypes))
	for i, t := range eventTypes {
		channels[i] = channelPrefix + t
	}

	pubsub := b.rdb.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("eventbus: subscribing: %w", err)
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.logger.Error("eventbus: decoding message", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = pubsub.Close() }, nil
}
