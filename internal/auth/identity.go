// Package auth resolves the caller of an API request to an Identity: an
// agent authenticated by its pre-authentication key (PAK), an admin
// authenticated via OIDC SSO or a local bcrypt-hashed password, or (in
// local development only) a dev header fallback.
package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// Kind is the polymorphic principal variant a PAK resolves to: admin,
// agent(id), or generator(id).
type Kind int

const (
	// KindNone is the zero value; never attached to a resolved Identity.
	KindNone Kind = iota
	KindAdmin
	KindAgent
	KindGenerator
)

func (k Kind) String() string {
	switch k {
	case KindAdmin:
		return "admin"
	case KindAgent:
		return "agent"
	case KindGenerator:
		return "generator"
	default:
		return "none"
	}
}

// ParseKind parses the kind column stored in public.pak_credentials.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "admin":
		return KindAdmin, nil
	case "agent":
		return KindAgent, nil
	case "generator":
		return KindGenerator, nil
	default:
		return KindNone, fmt.Errorf("unknown principal kind %q", s)
	}
}

// Method records which credential type authenticated the request, for
// audit logging and debugging.
type Method string

const (
	// MethodPAK is the only required authentication path: a bearer
	// pre-authentication key resolved to {kind, id?}.
	MethodPAK   Method = "pak"
	MethodOIDC  Method = "oidc"
	MethodLocal Method = "local_admin"
	MethodDev   Method = "dev"
)

// Identity is the resolved caller of an authenticated request: the tagged
// {kind, id?} variant described for principal resolution, carried
// explicitly through every inner operation rather than read from ambient
// state.
type Identity struct {
	Kind Kind
	// PrincipalID is the agent or generator ID. Zero (uuid.Nil) for admin,
	// which carries no entity identity of its own.
	PrincipalID uuid.UUID
	TenantSlug  string
	Email       string // admin only, set when authenticated via OIDC or local login
	Method      Method
}

// IsAdminOrSelf reports whether this identity may act on behalf of the
// given agent/generator ID: true for admin, or for the exact matching
// principal.
func (id *Identity) IsAdminOrSelf(principalID uuid.UUID) bool {
	if id == nil {
		return false
	}
	return id.Kind == KindAdmin || id.PrincipalID == principalID
}

type contextKey string

const identityKey contextKey = "auth_identity"

// NewContext stores an Identity in the context.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the Identity from the context, or nil if unset.
func FromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(identityKey).(*Identity)
	return v
}

// RequireKind returns a middleware that rejects requests whose resolved
// Identity is not one of the given kinds.
func RequireKind(kinds ...Kind) func(http.Handler) http.Handler {
	allowed := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil || !allowed[id.Kind] {
				respondUnauthorized(w, "insufficient authentication")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized","message":"` + message + `"}`))
}
