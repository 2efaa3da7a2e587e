package auth

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	TenantSlug string `json:"tenant_slug"`
	Password   string `json:"password"`
}

// LoginResponse is the JSON response for a successful login.
type LoginResponse struct {
	Token string `json:"token"`
}

// AuthConfigResponse tells the admin console which auth methods are
// available.
type AuthConfigResponse struct {
	OIDCEnabled  bool   `json:"oidc_enabled"`
	OIDCName     string `json:"oidc_name"`
	LocalEnabled bool   `json:"local_enabled"`
}

// LoginHandler handles the optional local bcrypt admin login, supplementing
// the PAK bearer scheme for browser-based administration.
type LoginHandler struct {
	sessionMgr  *SessionManager
	pool        *pgxpool.Pool
	logger      *slog.Logger
	oidcEnabled bool
	rateLimiter *RateLimiter
}

// NewLoginHandler creates a new login handler. rateLimiter may be nil to
// disable per-IP failed-attempt throttling.
func NewLoginHandler(sm *SessionManager, pool *pgxpool.Pool, logger *slog.Logger, oidcEnabled bool, rateLimiter *RateLimiter) *LoginHandler {
	return &LoginHandler{
		sessionMgr:  sm,
		pool:        pool,
		logger:      logger,
		oidcEnabled: oidcEnabled,
		rateLimiter: rateLimiter,
	}
}

// HandleLogin authenticates the tenant's local admin password and returns a
// session JWT. The password hash lives on public.tenants, one admin
// password per tenant — there is no per-user table in this system.
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if h.rateLimiter != nil {
		result, err := h.rateLimiter.Check(r.Context(), ip)
		if err != nil {
			h.logger.Error("login: rate limit check failed", "error", err)
		} else if !result.Allowed {
			respondErr(w, http.StatusTooManyRequests, "too_many_requests", "too many failed login attempts, try again later")
			return
		}
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	if req.TenantSlug == "" || req.Password == "" {
		respondErr(w, http.StatusBadRequest, "bad_request", "tenant_slug and password are required")
		return
	}

	var passwordHash *string
	err := h.pool.QueryRow(r.Context(),
		"SELECT admin_password_hash FROM public.tenants WHERE slug = $1", req.TenantSlug,
	).Scan(&passwordHash)
	if err != nil {
		h.logger.Warn("login: tenant lookup failed", "tenant_slug", req.TenantSlug, "error", err)
		h.recordFailure(r, ip)
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid tenant or password")
		return
	}

	if passwordHash == nil || *passwordHash == "" {
		respondErr(w, http.StatusUnauthorized, "unauthorized", "local admin login is disabled for this tenant")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*passwordHash), []byte(req.Password)); err != nil {
		h.recordFailure(r, ip)
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid tenant or password")
		return
	}

	if h.rateLimiter != nil {
		if err := h.rateLimiter.Reset(r.Context(), ip); err != nil {
			h.logger.Warn("login: resetting rate limit failed", "error", err)
		}
	}

	token, err := h.sessionMgr.IssueToken(SessionClaims{
		Email:      "admin@" + req.TenantSlug,
		TenantSlug: req.TenantSlug,
		Method:     "local",
	})
	if err != nil {
		h.logger.Error("login: issuing token", "error", err)
		respondErr(w, http.StatusInternalServerError, "internal", "failed to issue token")
		return
	}

	respondJSON(w, http.StatusOK, LoginResponse{Token: token})
}

// HandleAuthConfig returns the available authentication methods.
func (h *LoginHandler) HandleAuthConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, AuthConfigResponse{
		OIDCEnabled:  h.oidcEnabled,
		OIDCName:     "Sign in with SSO",
		LocalEnabled: true,
	})
}

// HandleMe returns the current session's claims.
func (h *LoginHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) < 8 {
		respondErr(w, http.StatusUnauthorized, "unauthorized", "no token provided")
		return
	}

	claims, err := h.sessionMgr.ValidateToken(stripBearer(authHeader))
	if err != nil {
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"email":       claims.Email,
		"tenant_slug": claims.TenantSlug,
		"method":      claims.Method,
	})
}

// HandleLogout is a no-op endpoint; sessions are stateless JWTs with no
// server-side revocation list.
func (h *LoginHandler) HandleLogout(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *LoginHandler) recordFailure(r *http.Request, ip string) {
	if h.rateLimiter == nil {
		return
	}
	if err := h.rateLimiter.Record(r.Context(), ip); err != nil {
		h.logger.Warn("login: recording rate limit failure", "error", err)
	}
}

// clientIP extracts the caller's address, preferring a forwarded-for header
// over the raw connection address since the server normally sits behind a
// reverse proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
