// Package auth implements the gateway's Authenticator (C8): it resolves
// app-key, signed bearer token, platform-identity-token, and session-token
// credentials into a Principal, per spec §4.1.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/session"
	"github.com/wayfarerhq/gandalf/internal/storage"
)

// providerHeaderNames are the per-provider override-key headers accepted on
// any authenticated path (spec §4.1: "user-<provider>-key").
var providerHeaderNames = map[string]string{
	"openai":     "user-openai-key",
	"anthropic":  "user-anthropic-key",
	"xai":        "user-xai-key",
	"replicate":  "user-replicate-key",
	"elevenlabs": "user-elevenlabs-key",
}

// PlatformIssuer configures one trusted platform-identity-token issuer
// (e.g. Sign-in-with-Apple) with its published key set and the bundle ids
// allowed as audience (spec §4.1 step 3, §6 "optional per-bundle
// platform-identity allow-list").
type PlatformIssuer struct {
	JWKSURL          string
	AllowedAudiences []string
	HTTPClient       *http.Client
}

type issuerConfig struct {
	jwks      *jwksCache
	audiences map[string]struct{}
}

// Authenticator implements the credential precedence chain of spec §4.1.
type Authenticator struct {
	operatorKey   string
	signingSecret []byte
	issuers       map[string]issuerConfig

	sessions *session.Store
	users    storage.UserStore
}

// New constructs an Authenticator. operatorKey and signingSecret may be
// empty independently, but authenticating via the corresponding credential
// then fails with ErrAuthMisconfigured rather than silently rejecting.
func New(operatorKey string, signingSecret []byte, issuers map[string]PlatformIssuer, sessions *session.Store, users storage.UserStore) *Authenticator {
	cfg := make(map[string]issuerConfig, len(issuers))
	for iss, pi := range issuers {
		auds := make(map[string]struct{}, len(pi.AllowedAudiences))
		for _, a := range pi.AllowedAudiences {
			auds[a] = struct{}{}
		}
		cfg[iss] = issuerConfig{
			jwks:      newJWKSCache(pi.JWKSURL, pi.HTTPClient),
			audiences: auds,
		}
	}
	return &Authenticator{
		operatorKey:   operatorKey,
		signingSecret: signingSecret,
		issuers:       cfg,
		sessions:      sessions,
		users:         users,
	}
}

// bearerClaims is the shape of a signed bearer token issued by a caller's
// own auth system (spec §4.1 step 2: "user id is taken from the `id` or
// subject field").
type bearerClaims struct {
	ID string `json:"id,omitempty"`
	jwt.RegisteredClaims
}

func (c bearerClaims) userID() string {
	if c.ID != "" {
		return c.ID
	}
	return c.Subject
}

// Authenticate resolves a request's credentials to a Principal following
// the spec §4.1 precedence chain: app-key, then Authorization: Bearer,
// then platform-identity-token, then session-token. Per-provider override
// keys are attached regardless of which credential matched.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*gateway.Principal, error) {
	var principal *gateway.Principal
	var err error

	switch {
	case r.Header.Get("app-key") != "":
		principal, err = a.authenticateAppKey(r)
	case r.Header.Get("Authorization") != "":
		principal, err = a.authenticateBearer(r)
	case r.Header.Get("platform-identity-token") != "":
		principal, err = a.authenticatePlatformIdentity(ctx, r)
	case r.Header.Get("session-token") != "":
		principal, err = a.authenticateSession(r)
	default:
		return nil, gateway.ErrAuthRequired
	}
	if err != nil {
		return nil, err
	}

	if ch := r.Header.Get("model-channel"); ch != "" {
		principal.Channel = gateway.Channel(ch)
	}
	if principal.Channel == "" {
		principal.Channel = gateway.StableChannel
	}
	if headerKeys := extractProviderKeys(r); headerKeys != nil {
		merged := make(map[string]string, len(principal.ProviderKeys)+len(headerKeys))
		for p, k := range principal.ProviderKeys {
			merged[p] = k
		}
		for p, k := range headerKeys {
			merged[p] = k
		}
		principal.ProviderKeys = merged
	}

	return principal, nil
}

func extractProviderKeys(r *http.Request) map[string]string {
	var keys map[string]string
	for provider, header := range providerHeaderNames {
		if v := r.Header.Get(header); v != "" {
			if keys == nil {
				keys = make(map[string]string, len(providerHeaderNames))
			}
			keys[provider] = v
		}
	}
	return keys
}

// authenticateAppKey implements spec §4.1 step 1: constant-time compare
// against the configured operator secret.
func (a *Authenticator) authenticateAppKey(r *http.Request) (*gateway.Principal, error) {
	if a.operatorKey == "" {
		return nil, gateway.ErrAuthMisconfigured
	}
	got := r.Header.Get("app-key")
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.operatorKey)) != 1 {
		return nil, gateway.ErrAuthInvalid
	}
	return &gateway.Principal{Kind: gateway.PrincipalApp, UserID: "app"}, nil
}

// authenticateBearer implements spec §4.1 step 2.
func (a *Authenticator) authenticateBearer(r *http.Request) (*gateway.Principal, error) {
	if len(a.signingSecret) == 0 {
		return nil, gateway.ErrAuthMisconfigured
	}
	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, gateway.ErrAuthInvalid
	}

	var claims bearerClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.signingSecret, nil
	})
	if err != nil {
		return nil, gateway.ErrAuthInvalid
	}

	userID := claims.userID()
	if userID == "" {
		return nil, gateway.ErrAuthInvalid
	}
	return &gateway.Principal{Kind: gateway.PrincipalUser, UserID: userID}, nil
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}

// authenticatePlatformIdentity implements spec §4.1 step 3: verify a
// platform-published identity assertion and upsert the corresponding user
// row.
func (a *Authenticator) authenticatePlatformIdentity(ctx context.Context, r *http.Request) (*gateway.Principal, error) {
	user, _, err := a.ExchangePlatformIdentity(ctx, r.Header.Get("platform-identity-token"))
	if err != nil {
		return nil, err
	}
	return &gateway.Principal{Kind: gateway.PrincipalPlatformUser, UserID: user.ID, Email: user.Email}, nil
}

// ExchangePlatformIdentity verifies a platform-published identity token
// (e.g. Sign-in-with-Apple's identityToken) against the matching
// registered issuer's key set and audience allow-list, then upserts the
// corresponding user row. Shared by the platform-identity-token precedence
// step (authenticatePlatformIdentity) and the explicit POST /auth/apple
// exchange endpoint. isNewUser reports whether this call created the row.
func (a *Authenticator) ExchangePlatformIdentity(ctx context.Context, raw string) (user *gateway.PlatformUser, isNewUser bool, err error) {
	var unverified jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &unverified); err != nil {
		return nil, false, gateway.ErrAuthInvalid
	}
	cfg, ok := a.issuers[unverified.Issuer]
	if !ok {
		return nil, false, gateway.ErrAuthUnauthorizedApp
	}

	var claims jwt.MapClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing key id")
		}
		return cfg.jwks.key(kid)
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithIssuer(unverified.Issuer))
	if err != nil || !token.Valid {
		return nil, false, gateway.ErrAuthInvalid
	}

	if !audienceAllowed(claims, cfg.audiences) {
		return nil, false, gateway.ErrAuthUnauthorizedApp
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return nil, false, gateway.ErrAuthInvalid
	}
	email, _ := claims["email"].(string)

	u, err := a.users.GetOrCreateBySubject(ctx, subject, email)
	if err != nil {
		return nil, false, fmt.Errorf("auth: resolve platform user: %w", err)
	}

	return u, u.LoginCount == 1, nil
}

func audienceAllowed(claims jwt.MapClaims, allowed map[string]struct{}) bool {
	if len(allowed) == 0 {
		return true
	}
	aud, err := claims.GetAudience()
	if err != nil {
		return false
	}
	for _, a := range aud {
		if _, ok := allowed[a]; ok {
			return true
		}
	}
	return false
}

// authenticateSession implements spec §4.1 step 4.
func (a *Authenticator) authenticateSession(r *http.Request) (*gateway.Principal, error) {
	token := r.Header.Get("session-token")
	s, ok := a.sessions.Lookup(token)
	if !ok {
		return nil, gateway.ErrAuthInvalid
	}
	return &gateway.Principal{Kind: s.PrincipalKind, UserID: s.PrincipalID, Channel: s.Channel, ProviderKeys: s.ProviderKeys}, nil
}

