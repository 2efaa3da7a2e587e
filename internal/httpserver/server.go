package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/colliery-io/brokkr-sub000/internal/auth"
	"github.com/colliery-io/brokkr-sub000/internal/config"
	"github.com/colliery-io/brokkr-sub000/internal/version"
	"github.com/colliery-io/brokkr-sub000/pkg/tenant"
)

// Server holds the HTTP server dependencies.
type Server struct {
	Router    *chi.Mux
	APIRouter chi.Router // authenticated, tenant-scoped /api/v1 sub-router
	Logger    *slog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *prometheus.Registry
	startedAt time.Time
}

// NewServer creates an HTTP server with middleware and health/metrics
// endpoints. sessionMgr may be nil when local admin login is disabled. If
// cfg names an OIDC issuer, NewServer performs OIDC discovery against it
// (a network call) and mounts the Authorization Code flow alongside local
// login. Domain handlers should be mounted on APIRouter after calling
// NewServer.
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, pakAuth *auth.PAKAuthenticator, sessionMgr *auth.SessionManager) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Metrics:   metricsReg,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Tenant-Slug"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (unauthenticated)
	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Get("/status", s.HandleStatus)

	// Prometheus metrics (unauthenticated)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	// Optional local admin login, supplementing PAK bearer auth.
	if sessionMgr != nil {
		var rateLimiter *auth.RateLimiter
		if rdb != nil {
			rateLimiter = auth.NewRateLimiter(rdb, 10, 15*time.Minute)
		}
		loginHandler := auth.NewLoginHandler(sessionMgr, db, logger, cfg.OIDCIssuerURL != "", rateLimiter)
		s.Router.Post("/auth/login", loginHandler.HandleLogin)
		s.Router.Get("/auth/config", loginHandler.HandleAuthConfig)

		// Optional OIDC Authorization Code flow for admin SSO.
		if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" && cfg.OIDCClientSecret != "" {
			oidcAuth, err := auth.NewOIDCAuthenticator(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
			if err != nil {
				logger.Error("oidc discovery failed, admin SSO disabled", "error", err)
			} else {
				oauth2Cfg := &oauth2.Config{
					ClientID:     cfg.OIDCClientID,
					ClientSecret: cfg.OIDCClientSecret,
					RedirectURL:  cfg.OIDCRedirectURL,
					Scopes:       []string{"openid", "email", "profile"},
					Endpoint: oauth2.Endpoint{
						AuthURL:  cfg.OIDCIssuerURL + "/authorize",
						TokenURL: cfg.OIDCIssuerURL + "/oauth/token",
					},
				}
				oidcFlow := auth.NewOIDCFlowHandler(oauth2Cfg, oidcAuth, sessionMgr, db, rdb, logger)
				s.Router.Get("/auth/oidc/login", oidcFlow.HandleLogin)
				s.Router.Get("/auth/oidc/callback", oidcFlow.HandleCallback)
				logger.Info("admin OIDC SSO enabled", "issuer", cfg.OIDCIssuerURL)
			}
		}
		s.Router.Get("/auth/me", loginHandler.HandleMe)
		s.Router.Post("/auth/logout", loginHandler.HandleLogout)
	}

	// Authenticated, tenant-scoped API routes.
	s.Router.Route("/api/v1", func(r chi.Router) {
		// 1. Authenticate: session token → PAK → dev header fallback.
		r.Use(auth.Middleware(pakAuth, sessionMgr, db, logger, cfg.DevMode))

		// 2. Resolve tenant and set search_path from the authenticated identity.
		r.Use(tenant.Middleware(db, &authContextResolver{}, logger))

		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			t := tenant.FromContext(r.Context())
			id := auth.FromContext(r.Context())
			Respond(w, http.StatusOK, map[string]string{
				"tenant": t.Slug,
				"schema": t.Schema,
				"kind":   id.Kind.String(),
				"method": string(id.Method),
			})
		})

		s.APIRouter = r
	})

	return s
}

// authContextResolver reads the tenant slug from the auth Identity stored in
// the request context by the auth middleware. This connects authentication to
// tenant resolution without creating an import cycle between auth and tenant.
type authContextResolver struct{}

func (authContextResolver) Resolve(r *http.Request) (string, error) {
	id := auth.FromContext(r.Context())
	if id != nil && id.TenantSlug != "" {
		return id.TenantSlug, nil
	}
	return "", fmt.Errorf("no authenticated tenant")
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "database not ready")
		return
	}

	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("readiness check: redis ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "redis not ready")
		return
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusResponse is the JSON shape returned by HandleStatus.
type statusResponse struct {
	Status          string  `json:"status"`
	Version         string  `json:"version"`
	CommitSHA       string  `json:"commit_sha"`
	Uptime          string  `json:"uptime"`
	UptimeSeconds   int64   `json:"uptime_seconds"`
	Database        string  `json:"database"`
	DatabaseLatency float64 `json:"database_latency_ms"`
	Redis           string  `json:"redis"`
	RedisLatency    float64 `json:"redis_latency_ms"`
}

// HandleStatus returns system health information: DB/Redis connectivity and
// uptime. It is intentionally unauthenticated and outside /api/v1 so it
// carries no tenant context.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uptime := time.Since(s.startedAt)

	resp := statusResponse{
		Version:       version.Version,
		CommitSHA:     version.Commit,
		Uptime:        uptime.Truncate(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
	}

	dbStart := time.Now()
	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("status check: database ping failed", "error", err)
		resp.Database = "error"
	} else {
		resp.Database = "ok"
	}
	resp.DatabaseLatency = math.Round(float64(time.Since(dbStart).Microseconds())/10) / 100

	redisStart := time.Now()
	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("status check: redis ping failed", "error", err)
		resp.Redis = "error"
	} else {
		resp.Redis = "ok"
	}
	resp.RedisLatency = math.Round(float64(time.Since(redisStart).Microseconds())/10) / 100

	if resp.Database == "ok" && resp.Redis == "ok" {
		resp.Status = "ok"
	} else {
		resp.Status = "degraded"
	}

	Respond(w, http.StatusOK, resp)
}
