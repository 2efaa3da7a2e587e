package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DevHeaderTenant is the header read by the dev-mode fallback. It must never
// be honored outside DevMode.
const DevHeaderTenant = "X-Tenant-Slug"

// Middleware authenticates the caller and stores the resolved Identity in
// the request context.
//
// Authentication precedence:
//  1. Authorization: Bearer <token> → session JWT (admin browser login) if
//     it parses as one, else a pre-authentication key (PAK) resolved to
//     {admin, agent(id), generator(id)}
//  2. X-Tenant-Slug: <slug>         → dev-mode fallback, devMode only
//
// If none succeed, the request is rejected with 401.
func Middleware(pakAuth *PAKAuthenticator, sessionMgr *SessionManager, pool *pgxpool.Pool, logger *slog.Logger, devMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identity *Identity

			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				token := stripBearer(authHeader)

				if sessionMgr != nil {
					if claims, err := sessionMgr.ValidateToken(token); err == nil {
						method := MethodLocal
						if claims.Method == string(MethodOIDC) {
							method = MethodOIDC
						}
						identity = &Identity{
							Kind:       KindAdmin,
							TenantSlug: claims.TenantSlug,
							Email:      claims.Email,
							Method:     method,
						}
						logger.Debug("authenticated via admin session", "email", claims.Email, "tenant_slug", claims.TenantSlug)
					}
				}

				if identity == nil {
					result, err := pakAuth.Authenticate(r.Context(), token)
					if err != nil {
						logger.Warn("PAK authentication failed", "error", err)
						respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid pre-authentication key")
						return
					}
					identity = &Identity{
						Kind:        result.Kind,
						PrincipalID: result.PrincipalID,
						TenantSlug:  result.TenantSlug,
						Method:      MethodPAK,
					}
					logger.Debug("authenticated via PAK", "kind", result.Kind.String(), "tenant_slug", result.TenantSlug)
				}
			}

			if devMode && identity == nil {
				if slug := r.Header.Get(DevHeaderTenant); slug != "" {
					identity = &Identity{
						Kind:       KindAdmin,
						TenantSlug: slug,
						Email:      "dev@localhost",
						Method:     MethodDev,
					}
					logger.Debug("dev-mode authentication", "tenant_slug", slug)
				}
			}

			if identity == nil {
				respondErr(w, http.StatusUnauthorized, "unauthorized", "no valid authentication provided")
				return
			}

			ctx := NewContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func stripBearer(header string) string {
	const prefix1, prefix2 = "Bearer ", "bearer "
	if len(header) > len(prefix1) && header[:len(prefix1)] == prefix1 {
		return header[len(prefix1):]
	}
	if len(header) > len(prefix2) && header[:len(prefix2)] == prefix2 {
		return header[len(prefix2):]
	}
	return header
}

func respondErr(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errStr,
		"message": message,
	})
}
