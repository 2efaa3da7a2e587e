package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Resolver identifies the tenant for the current request.
type Resolver interface {
	Resolve(r *http.Request) (slug string, err error)
}

// HeaderResolver resolves the tenant from the X-Tenant-Slug header.
// Intended for development and testing; production deployments resolve the
// tenant from the authenticated agent/admin principal instead (see
// internal/httpserver's authContextResolver, which reads the slug from the
// auth Identity).
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (string, error) {
	slug := r.Header.Get("X-Tenant-Slug")
	if slug == "" {
		return "", fmt.Errorf("missing X-Tenant-Slug header")
	}
	return slug, nil
}

// Middleware resolves the tenant, acquires a database connection, sets the
// PostgreSQL search_path to the tenant's schema, and stores both the tenant
// info and the scoped connection in the request context. The connection is
// released after the downstream handler returns.
func Middleware(pool *pgxpool.Pool, resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slug, err := resolver.Resolve(r)
			if err != nil {
				respondUnauthorized(w, "tenant resolution failed")
				return
			}

			var tenantID uuid.UUID
			var name string
			err = pool.QueryRow(r.Context(),
				"SELECT id, name FROM public.tenants WHERE slug = $1", slug,
			).Scan(&tenantID, &name)
			if err != nil {
				logger.Warn("tenant not found", "slug", slug, "error", err)
				respondUnauthorized(w, "unknown tenant")
				return
			}

			schema := SchemaName(slug)

			conn, err := pool.Acquire(r.Context())
			if err != nil {
				logger.Error("acquiring database connection", "error", err)
				respondError(w, http.StatusServiceUnavailable, "unavailable", "database connection unavailable")
				return
			}
			defer conn.Release()

			searchPath := schema + ", public"
			if _, err := conn.Exec(r.Context(), "SELECT set_config('search_path', $1, false)", searchPath); err != nil {
				logger.Error("setting search_path", "schema", schema, "error", err)
				respondError(w, http.StatusInternalServerError, "internal", "database configuration error")
				return
			}

			info := &Info{
				ID:     tenantID,
				Name:   name,
				Slug:   slug,
				Schema: schema,
			}

			ctx := NewContext(r.Context(), info)
			ctx = NewConnContext(ctx, conn)

			logger.Debug("tenant resolved", "tenant_id", tenantID, "slug", slug, "schema", schema)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AcquireConn acquires a pool connection with search_path set to schema, for
// callers outside the request/response cycle (e.g. internal/maintenance's
// periodic sweeps) that need the same tenant-scoping Middleware gives HTTP
// handlers.
func AcquireConn(ctx context.Context, pool *pgxpool.Pool, schema string) (*pgxpool.Conn, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring database connection: %w", err)
	}

	searchPath := schema + ", public"
	if _, err := conn.Exec(ctx, "SELECT set_config('search_path', $1, false)", searchPath); err != nil {
		conn.Release()
		return nil, fmt.Errorf("setting search_path to %s: %w", schema, err)
	}
	return conn, nil
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	respondError(w, http.StatusUnauthorized, "unauthorized", message)
}

func respondError(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q,"message":%q}`, errStr, message)
}
