package eventbus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, stop, err := bus.Subscribe(ctx, EventWorkOrderCompleted)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer stop()

	tenantID := uuid.New()
	workOrderID := uuid.New()
	bus.Publish(ctx, EventWorkOrderCompleted, tenantID, workOrderID, map[string]string{"status": "SUCCESS"})

	select {
	case evt := <-events:
		if evt.Type != EventWorkOrderCompleted {
			t.Errorf("Type = %q, want %q", evt.Type, EventWorkOrderCompleted)
		}
		if evt.EntityID != workOrderID {
			t.Errorf("EntityID = %v, want %v", evt.EntityID, workOrderID)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for published event")
	}
}

func TestSubscribeIgnoresOtherEventTypes(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	events, stop, err := bus.Subscribe(ctx, EventAgentHeartbeat)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer stop()

	bus.Publish(ctx, EventWorkOrderFailed, uuid.New(), uuid.New(), nil)

	select {
	case evt := <-events:
		t.Fatalf("expected no event, got %v", evt)
	case <-time.After(200 * time.Millisecond):
	}
}
