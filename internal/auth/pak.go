package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PAKPrefix marks a raw pre-authentication key visually so it's obviously a
// broker credential when it leaks into a log line.
const PAKPrefix = "brk_"

// GeneratePAK creates a random pre-authentication key, its SHA-256 hash for
// storage, and a short display prefix.
func GeneratePAK() (raw, hash, displayPrefix string) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	raw = fmt.Sprintf("%s%x", PAKPrefix, b)
	h := sha256.Sum256([]byte(raw))
	hash = hex.EncodeToString(h[:])
	displayPrefix = raw[:12]
	return
}

// HashPAK hashes a raw key for lookup comparison.
func HashPAK(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// PAKAuthenticator resolves a bearer pre-authentication key to the
// polymorphic principal it was issued to: admin, agent(id), or
// generator(id). Every PAK is recorded in the global index table
// public.pak_credentials, so lookup never needs to know the tenant ahead of
// time. pkg/agent and pkg/generator insert their rows at issuance; no code
// in this module mints admin PAKs.
type PAKAuthenticator struct {
	Pool *pgxpool.Pool
}

// PAKResult holds the resolved identity data from a PAK lookup.
type PAKResult struct {
	Kind        Kind
	PrincipalID uuid.UUID // zero for admin
	TenantSlug  string
}

// Authenticate hashes rawKey and looks it up in public.pak_credentials.
func (a *PAKAuthenticator) Authenticate(ctx context.Context, rawKey string) (*PAKResult, error) {
	if rawKey == "" {
		return nil, fmt.Errorf("empty pre-authentication key")
	}

	hash := HashPAK(rawKey)

	var kindStr, tenantSlug string
	var principalID *uuid.UUID
	err := a.Pool.QueryRow(ctx,
		`SELECT kind, principal_id, tenant_slug FROM public.pak_credentials WHERE key_hash = $1`,
		hash,
	).Scan(&kindStr, &principalID, &tenantSlug)
	if err != nil {
		return nil, fmt.Errorf("looking up pre-authentication key: %w", err)
	}

	kind, err := ParseKind(kindStr)
	if err != nil {
		return nil, err
	}

	result := &PAKResult{Kind: kind, TenantSlug: tenantSlug}
	if principalID != nil {
		result.PrincipalID = *principalID
	}

	go func() {
		_, _ = a.Pool.Exec(context.Background(),
			`UPDATE public.pak_credentials SET last_used_at = now() WHERE key_hash = $1`, hash)
	}()

	return result, nil
}
