// Package auth implements the Auth Broker (C7 in spec.md §4.7), grounded
// on internal/security/auth.go's TokenResolver/Identity shape: the IdP-
// token verification path is kept almost directly (go-oidc verifier,
// claim extraction, upsert-then-cache), while the OAuth 2.0 authorization
// server (authorize/token endpoints) is new, since the teacher only
// verifies externally-issued tokens and never issues its own.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/dgraph-io/ristretto/v2"

	"github.com/quillmind/memoryd/internal/errs"
	"github.com/quillmind/memoryd/internal/store"
)

// Identity is the resolved caller identity the RPC dispatcher attaches to
// every tool call.
type Identity struct {
	UserID string
	Email  string
	Scope  string
}

// Broker maps bearer tokens to Identity, accepting both an IdP-issued
// token (verified via OIDC) and an access token this system issued via its
// own OAuth authorization-code flow.
type Broker struct {
	verifier *oidc.IDTokenVerifier
	store    store.Store
	sessions *ristretto.Cache[string, Identity]
	ttl      time.Duration
}

// NewBroker constructs a Broker. verifier may be nil if no OIDC issuer is
// configured, in which case only OAuth access tokens are accepted.
func NewBroker(st store.Store, verifier *oidc.IDTokenVerifier, sessionTTL time.Duration) (*Broker, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, Identity]{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Broker{verifier: verifier, store: st, sessions: cache, ttl: sessionTTL}, nil
}

// NewOIDCVerifier performs one-time OIDC provider discovery, mirroring
// internal/security/auth.go's NewTokenResolver. Returns (nil, nil) if no
// issuer is configured.
func NewOIDCVerifier(ctx context.Context, issuer string) (*oidc.IDTokenVerifier, error) {
	if issuer == "" {
		return nil, nil
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, err
	}
	return provider.Verifier(&oidc.Config{SkipClientIDCheck: true}), nil
}

var errMissingIdentity = errors.New("token missing identity claims")

// Authenticate resolves a bearer token (without the "Bearer " prefix) into
// an Identity. A token that looks like a JWT (when an OIDC verifier is
// configured) is checked on the IdP-token path only; any other token is
// looked up on the OAuth access-token path.
func (b *Broker) Authenticate(ctx context.Context, bearerToken string) (*Identity, error) {
	bearerToken = strings.TrimSpace(bearerToken)
	if bearerToken == "" {
		return nil, &errs.UnauthorizedError{Message: "missing bearer token"}
	}

	if id, ok := b.sessions.Get(bearerToken); ok {
		idCopy := id
		return &idCopy, nil
	}

	if b.verifier != nil && strings.Count(bearerToken, ".") >= 2 {
		identity, err := b.resolveOIDC(ctx, bearerToken)
		if err == nil {
			b.sessions.SetWithTTL(bearerToken, *identity, 1, b.ttl)
			return identity, nil
		}
		// A JWT-shaped token that fails verification is treated as
		// unauthorized; it is not retried on the OAuth-token path.
		return nil, &errs.UnauthorizedError{Message: "invalid identity token"}
	}

	return b.resolveOAuthToken(ctx, bearerToken)
}

func (b *Broker) resolveOIDC(ctx context.Context, bearerToken string) (*Identity, error) {
	idToken, err := b.verifier.Verify(ctx, bearerToken)
	if err != nil {
		return nil, err
	}
	var claims struct {
		Sub               string `json:"sub"`
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, err
	}
	userID := claims.PreferredUsername
	if userID == "" {
		userID = claims.Sub
	}
	if userID == "" {
		return nil, errMissingIdentity
	}

	if _, err := b.store.UpsertUser(ctx, userID, claims.Email); err != nil {
		return nil, err
	}
	return &Identity{UserID: userID, Email: claims.Email}, nil
}

// StaticAuthenticator always resolves to the same Identity, regardless of
// the bearer token presented. It implements the legacy single-user stdio
// mode spec.md §6 permits: a single operator-configured user id, never
// read from "whatever the environment happens to have" at request time
// (that's the anti-pattern spec.md §9 calls out for multi-tenant mode;
// here it's an explicit, named opt-in).
type StaticAuthenticator struct {
	UserID string
}

// NewStaticAuthenticator constructs a StaticAuthenticator for legacy
// single-user stdio mode.
func NewStaticAuthenticator(userID string) *StaticAuthenticator {
	return &StaticAuthenticator{UserID: userID}
}

func (s *StaticAuthenticator) Authenticate(_ context.Context, _ string) (*Identity, error) {
	return &Identity{UserID: s.UserID}, nil
}

func (b *Broker) resolveOAuthToken(ctx context.Context, token string) (*Identity, error) {
	hash := HashToken(token)
	at, err := b.store.GetAccessTokenByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if at == nil {
		return nil, &errs.UnauthorizedError{Message: "unknown access token"}
	}
	if at.Revoked {
		return nil, &errs.UnauthorizedError{Message: "access token revoked"}
	}
	if time.Now().After(at.ExpiresAt) {
		return nil, &errs.UnauthorizedError{Message: "access token expired"}
	}
	identity := &Identity{UserID: at.UserID, Scope: at.Scope}
	b.sessions.SetWithTTL(token, *identity, 1, b.ttl)
	return identity, nil
}
