package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestHashPAK(t *testing.T) {
	h1 := HashPAK("test-key-123")
	h2 := HashPAK("test-key-123")
	if h1 != h2 {
		t.Fatalf("same key produced different hashes: %q vs %q", h1, h2)
	}

	h3 := HashPAK("different-key")
	if h1 == h3 {
		t.Fatal("different keys produced the same hash")
	}

	if len(h1) != 64 {
		t.Fatalf("hash length = %d, want 64", len(h1))
	}
}

func TestGeneratePAK(t *testing.T) {
	raw, hash, prefix := GeneratePAK()
	if raw == "" || hash == "" || prefix == "" {
		t.Fatal("expected non-empty raw, hash, and prefix")
	}
	if HashPAK(raw) != hash {
		t.Fatal("hash does not match HashPAK(raw)")
	}
	if len(prefix) != 12 {
		t.Fatalf("prefix length = %d, want 12", len(prefix))
	}

	raw2, _, _ := GeneratePAK()
	if raw == raw2 {
		t.Fatal("two generated keys are identical")
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"admin", KindAdmin, false},
		{"agent", KindAgent, false},
		{"generator", KindGenerator, false},
		{"bogus", KindNone, true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()

	if id := FromContext(ctx); id != nil {
		t.Fatalf("expected nil, got %+v", id)
	}

	agentID := uuid.New()
	identity := &Identity{
		Kind:        KindAgent,
		PrincipalID: agentID,
		TenantSlug:  "acme",
		Method:      MethodPAK,
	}
	ctx = NewContext(ctx, identity)

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("expected identity, got nil")
	}
	if got.PrincipalID != agentID {
		t.Errorf("PrincipalID = %v, want %v", got.PrincipalID, agentID)
	}
	if got.TenantSlug != "acme" {
		t.Errorf("TenantSlug = %q, want %q", got.TenantSlug, "acme")
	}
}

func TestIsAdminOrSelf(t *testing.T) {
	agentID := uuid.New()
	other := uuid.New()

	admin := &Identity{Kind: KindAdmin}
	if !admin.IsAdminOrSelf(agentID) {
		t.Error("admin should be authorized for any principal")
	}

	self := &Identity{Kind: KindAgent, PrincipalID: agentID}
	if !self.IsAdminOrSelf(agentID) {
		t.Error("matching principal should be authorized for itself")
	}
	if self.IsAdminOrSelf(other) {
		t.Error("non-matching principal should not be authorized")
	}

	var nilIdentity *Identity
	if nilIdentity.IsAdminOrSelf(agentID) {
		t.Error("nil identity should never be authorized")
	}
}
