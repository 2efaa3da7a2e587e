package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMiddleware_NoAuth(t *testing.T) {
	mw := Middleware(&PAKAuthenticator{}, nil, nil, testLogger(), false)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["error"] != "unauthorized" {
		t.Errorf("error = %q, want %q", resp["error"], "unauthorized")
	}
}

func TestMiddleware_DevHeaderDisabledByDefault(t *testing.T) {
	mw := Middleware(&PAKAuthenticator{}, nil, nil, testLogger(), false)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Tenant-Slug", "acme")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d; dev header must not authenticate outside devMode", w.Code, http.StatusUnauthorized)
	}
}

func TestMiddleware_DevHeaderWhenEnabled(t *testing.T) {
	mw := Middleware(&PAKAuthenticator{}, nil, nil, testLogger(), true)

	var gotIdentity *Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Tenant-Slug", "acme")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	if gotIdentity == nil {
		t.Fatal("expected identity in context")
	}
	if gotIdentity.TenantSlug != "acme" {
		t.Errorf("TenantSlug = %q, want %q", gotIdentity.TenantSlug, "acme")
	}
	if gotIdentity.Kind != KindAdmin {
		t.Errorf("Kind = %v, want %v", gotIdentity.Kind, KindAdmin)
	}
	if gotIdentity.Method != MethodDev {
		t.Errorf("Method = %q, want %q", gotIdentity.Method, MethodDev)
	}
}

func TestMiddleware_SessionTokenTakesPrecedenceOverPAK(t *testing.T) {
	sm, err := NewSessionManager("a-test-signing-secret-that-is-32-bytes!!", time.Hour)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}

	token, err := sm.IssueToken(SessionClaims{Email: "admin@acme", TenantSlug: "acme", Method: "local"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	mw := Middleware(&PAKAuthenticator{}, sm, nil, testLogger(), false)

	var gotIdentity *Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotIdentity == nil || gotIdentity.Kind != KindAdmin || gotIdentity.TenantSlug != "acme" {
		t.Fatalf("unexpected identity: %+v", gotIdentity)
	}
}
