package server

import (
	"net/http"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/session"
)

// validateResponse is the common shape of a freshly minted session
// (spec §6 /validate).
type validateResponse struct {
	SessionToken string              `json:"sessionToken"`
	ExpiresIn    int64               `json:"expiresIn"`
	UserID       string              `json:"userId"`
	UserType     gateway.PrincipalKind `json:"userType"`
	Channel      gateway.Channel     `json:"channel"`
}

// handleValidate authenticates the request via the normal precedence
// chain (app-key or bearer) and mints a session token carrying the
// resolved principal and any per-provider override keys (spec §4.1 step
// 4, §4.2).
func (s *server) handleValidate(w http.ResponseWriter, r *http.Request) {
	principal, err := s.deps.Auth.Authenticate(r.Context(), r)
	if err != nil {
		writeError(w, err)
		return
	}

	sess := s.deps.Sessions.Create(principal.UserID, principal.Kind, principal.Channel, principal.ProviderKeys)
	writeJSON(w, http.StatusOK, validateResponse{
		SessionToken: sess.Token,
		ExpiresIn:    int64(session.TTL.Seconds()),
		UserID:       sess.PrincipalID,
		UserType:     sess.PrincipalKind,
		Channel:      sess.Channel,
	})
}

// handleValidateRefresh extends a session's TTL without rotating its
// token (spec §4.2).
func (s *server) handleValidateRefresh(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("session-token")
	if !s.deps.Sessions.Refresh(token) {
		writeError(w, gateway.ErrAuthInvalid)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"expiresIn": int64(session.TTL.Seconds()),
	})
}

// handleValidateRevoke removes a session unconditionally.
func (s *server) handleValidateRevoke(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("session-token")
	s.deps.Sessions.Revoke(token)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// appleAuthRequest is the POST /auth/apple body.
type appleAuthRequest struct {
	IdentityToken string `json:"identityToken"`
	AppID         string `json:"appId,omitempty"`
}

type appleAuthUser struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	IsNewUser bool   `json:"isNewUser"`
}

type appleAuthResponse struct {
	SessionToken string            `json:"sessionToken"`
	ExpiresIn    int64             `json:"expiresIn"`
	User         appleAuthUser     `json:"user"`
	APIKeys      map[string]string `json:"apiKeys"`
}

// handleAuthApple exchanges a platform identity token for a session
// (spec §4.1 step 3, §6 /auth/apple). The bundle-id allow-list (if
// configured) is enforced inside ExchangePlatformIdentity; appId is
// accepted but not independently checked here, matching the issuer/
// audience pairing already carried by the token itself.
func (s *server) handleAuthApple(w http.ResponseWriter, r *http.Request) {
	var body appleAuthRequest
	if err := decodeJSON(r, &body); err != nil || body.IdentityToken == "" {
		writeError(w, gateway.ErrValidationFailed)
		return
	}

	user, isNew, err := s.deps.Auth.ExchangePlatformIdentity(r.Context(), body.IdentityToken)
	if err != nil {
		writeError(w, err)
		return
	}

	sess := s.deps.Sessions.Create(user.ID, gateway.PrincipalPlatformUser, gateway.StableChannel, nil)
	writeJSON(w, http.StatusOK, appleAuthResponse{
		SessionToken: sess.Token,
		ExpiresIn:    int64(session.TTL.Seconds()),
		User: appleAuthUser{
			ID:        user.ID,
			Email:     user.Email,
			IsNewUser: isNew,
		},
		APIKeys: s.deps.DefaultProviderKeys,
	})
}
