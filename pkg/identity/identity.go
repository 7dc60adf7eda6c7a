// Package identity resolves an external credential — a Keycloak access token
// — to a chat participant and role. It has no side effects beyond validating
// the token against the realm's JWKS.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/codeedexprojects/rigsdock-chat/pkg/chat"
)

// Realm role names mapped onto chat roles.
const (
	realmRoleAdmin  = "marketplace-admin"
	realmRoleVendor = "vendor"
)

// realmAccess is the nested roles structure in Keycloak tokens.
type realmAccess struct {
	Roles []string `json:"roles"`
}

// tokenClaims extends jwt.RegisteredClaims with the Keycloak fields the
// binder reads.
type tokenClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string      `json:"preferred_username"`
	RealmAccessField  realmAccess `json:"realm_access"`
}

// Binder validates bearer tokens and binds them to (participant id, role).
type Binder struct {
	keyFn  jwt.Keyfunc
	issuer string
	jwks   *keyfunc.JWKS
}

// NewBinder builds a binder around an arbitrary key function. Used directly
// in tests and by deployments that manage their own keys.
func NewBinder(keyFn jwt.Keyfunc, issuer string) *Binder {
	return &Binder{keyFn: keyFn, issuer: issuer}
}

// NewKeycloakBinder fetches and caches the realm's JWKS, retrying while
// Keycloak is still starting. If issuerOverride is non-empty it is used as
// the expected issuer instead of deriving it from keycloakURL (needed when
// the browser-facing URL differs from the internal service URL).
func NewKeycloakBinder(keycloakURL, realm, issuerOverride string) (*Binder, error) {
	jwksURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", keycloakURL, realm)
	issuer := fmt.Sprintf("%s/realms/%s", keycloakURL, realm)
	if issuerOverride != "" {
		issuer = issuerOverride
	}

	slog.Info("Initializing Keycloak JWKS binder", "jwks_url", jwksURL)

	var jwks *keyfunc.JWKS
	var err error
	for attempt := 1; attempt <= 30; attempt++ {
		jwks, err = keyfunc.Get(jwksURL, keyfunc.Options{
			Ctx:                 context.Background(),
			RefreshInterval:     5 * time.Minute,
			RefreshRateLimit:    1 * time.Minute,
			RefreshUnknownKID:   true,
			RefreshErrorHandler: func(err error) { slog.Error("JWKS refresh error", "error", err) },
		})
		if err == nil {
			break
		}
		slog.Info("Waiting for Keycloak JWKS", "attempt", attempt, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch Keycloak JWKS after retries: %w", err)
	}

	return &Binder{keyFn: jwks.Keyfunc, issuer: issuer, jwks: jwks}, nil
}

// Bind validates the token and returns the participant it identifies.
// Exactly one role is required: a token carrying both the admin and the
// vendor realm role, or neither, fails with chat.ErrAuth.
func (b *Binder) Bind(token string) (chat.Participant, error) {
	claims := &tokenClaims{}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if b.issuer != "" {
		opts = append(opts, jwt.WithIssuer(b.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, b.keyFn, opts...)
	if err != nil {
		return chat.Participant{}, fmt.Errorf("%w: %v", chat.ErrAuth, err)
	}
	if !parsed.Valid {
		return chat.Participant{}, fmt.Errorf("%w: token is not valid", chat.ErrAuth)
	}
	if claims.PreferredUsername == "" {
		return chat.Participant{}, fmt.Errorf("%w: token has no preferred_username", chat.ErrAuth)
	}

	role, err := roleFrom(claims.RealmAccessField.Roles)
	if err != nil {
		return chat.Participant{}, err
	}

	return chat.Participant{ID: claims.PreferredUsername, Role: role}, nil
}

// Close shuts down the JWKS background refresh goroutine.
func (b *Binder) Close() {
	if b.jwks != nil {
		b.jwks.EndBackground()
	}
}

func roleFrom(realmRoles []string) (chat.Role, error) {
	var isAdmin, isVendor bool
	for _, r := range realmRoles {
		switch r {
		case realmRoleAdmin:
			isAdmin = true
		case realmRoleVendor:
			isVendor = true
		}
	}
	switch {
	case isAdmin && isVendor:
		return "", fmt.Errorf("%w: token carries both admin and vendor roles", chat.ErrAuth)
	case isAdmin:
		return chat.RoleAdmin, nil
	case isVendor:
		return chat.RoleVendor, nil
	default:
		return "", fmt.Errorf("%w: token carries no recognized role", chat.ErrAuth)
	}
}
