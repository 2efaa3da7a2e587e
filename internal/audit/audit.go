// Package audit provides an async, buffered writer for the per-tenant
// audit log described in §4.7: mutating API handlers append one entry per
// call, batched and flushed off the request path so audit writes never add
// latency to the operation they describe. Not every mutation is logged:
// label, annotation, target, heartbeat and work-order release calls write
// no entry, and neither do the maintenance sweeps.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colliery-io/brokkr-sub000/internal/auth"
	"github.com/colliery-io/brokkr-sub000/internal/eventbus"
	"github.com/colliery-io/brokkr-sub000/internal/telemetry"
	"github.com/colliery-io/brokkr-sub000/pkg/tenant"
)

// Entry represents a single audit log entry to be written.
type Entry struct {
	TenantSchema string
	TenantID     uuid.UUID // zero if unknown; only used for event bus fan-out
	ActorID      pgtype.UUID // agent or admin principal, if authenticated
	ActorKind    string      // "agent", "admin", "system"
	Action       string      // e.g. "workorder.claim", "stack.create"
	EntityType   string      // e.g. "work_order", "stack", "deployment_object"
	EntityID     uuid.UUID
	Detail       json.RawMessage
	IPAddress    *netip.Addr
	UserAgent    *string
}

// Writer is an async, buffered audit log writer. Entries are sent to an
// internal channel and flushed by a background goroutine in batches. Each
// written entry is also best-effort fanned out over the event bus, under
// the wildcard-equivalent "audit.<action>" event type, for live tailing.
type Writer struct {
	pool       *pgxpool.Pool
	bus        *eventbus.Bus
	logger     *slog.Logger
	entries    chan Entry
	flushBatch int
	flushEvery time.Duration
	wg         sync.WaitGroup
}

// Config controls the writer's buffering behavior.
type Config struct {
	BufferSize int
	FlushBatch int
	FlushEvery time.Duration
}

// NewWriter creates an audit Writer. Call Start to begin processing entries.
// bus may be nil to disable event bus fan-out.
func NewWriter(pool *pgxpool.Pool, bus *eventbus.Bus, logger *slog.Logger, cfg Config) *Writer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.FlushBatch <= 0 {
		cfg.FlushBatch = 100
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = time.Second
	}
	return &Writer{
		pool:       pool,
		bus:        bus,
		logger:     logger,
		entries:    make(chan Entry, cfg.BufferSize),
		flushBatch: cfg.FlushBatch,
		flushEvery: cfg.FlushEvery,
	}
}

// Start launches the background goroutine that flushes audit entries to the
// database and returns immediately. Close stops the writer and waits for
// that goroutine to finish.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an audit entry for async writing. It never blocks the
// caller; if the buffer is full the entry is dropped and a warning logged.
func (w *Writer) Log(entry Entry) {
	select {
	case w.entries <- entry:
	default:
		telemetry.AuditEventsDroppedTotal.Inc()
		w.logger.Warn("audit log buffer full, dropping entry",
			"action", entry.Action, "entity_type", entry.EntityType)
	}
}

// LogFromRequest extracts tenant, actor, IP, and user agent from the
// request context, then enqueues the entry.
func (w *Writer) LogFromRequest(r *http.Request, action, entityType string, entityID uuid.UUID, detail json.RawMessage) {
	entry := Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
	}

	if ti := tenant.FromContext(r.Context()); ti != nil {
		entry.TenantSchema = ti.Schema
		entry.TenantID = ti.ID
	}

	if id := auth.FromContext(r.Context()); id != nil {
		entry.ActorKind = id.Kind.String()
		if id.PrincipalID != uuid.Nil {
			entry.ActorID = pgtype.UUID{Bytes: id.PrincipalID, Valid: true}
		}
	}

	ip := clientIP(r)
	if ip.IsValid() {
		entry.IPAddress = &ip
	}

	ua := r.Header.Get("User-Agent")
	if ua != "" {
		entry.UserAgent = &ua
	}

	w.Log(entry)
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	batch := make([]Entry, 0, w.flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= w.flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush writes a batch of entries to the database, grouped by tenant schema.
func (w *Writer) flush(entries []Entry) {
	bySchema := make(map[string][]Entry)
	for _, e := range entries {
		bySchema[e.TenantSchema] = append(bySchema[e.TenantSchema], e)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for schema, schemaEntries := range bySchema {
		if schema == "" {
			w.logger.Warn("audit entry without tenant schema, skipping", "count", len(schemaEntries))
			continue
		}

		conn, err := w.pool.Acquire(ctx)
		if err != nil {
			w.logger.Error("acquiring connection for audit flush", "error", err, "schema", schema)
			continue
		}

		if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
			w.logger.Error("setting search_path for audit flush", "error", err, "schema", schema)
			conn.Release()
			continue
		}

		for _, e := range schemaEntries {
			_, err := conn.Exec(ctx, `
				INSERT INTO audit_log (id, actor_id, actor_kind, action, entity_type, entity_id, detail, ip_address, user_agent, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
				uuid.New(), e.ActorID, e.ActorKind, e.Action, e.EntityType, e.EntityID, e.Detail, ipOrNil(e.IPAddress), e.UserAgent,
			)
			if err != nil {
				w.logger.Error("writing audit log entry", "error", err,
					"action", e.Action, "entity_type", e.EntityType, "schema", schema)
				continue
			}
			telemetry.AuditEventsWrittenTotal.Inc()

			if w.bus != nil && e.TenantID != uuid.Nil {
				w.bus.Publish(ctx, "audit."+e.Action, e.TenantID, e.EntityID, e)
			}
		}

		conn.Release()
	}
}

func ipOrNil(ip *netip.Addr) *string {
	if ip == nil {
		return nil
	}
	s := ip.String()
	return &s
}

// clientIP extracts the client IP address from the request, preferring
// X-Forwarded-For and X-Real-IP headers over RemoteAddr.
func clientIP(r *http.Request) netip.Addr {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if addr, err := netip.ParseAddr(strings.TrimSpace(parts[0])); err == nil {
			return addr
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, _ := netip.ParseAddr(host)
	return addr
}
