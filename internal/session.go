package gateway

import "time"

// Session is a short-lived opaque-token record (spec §3, §4.2).
type Session struct {
	Token         string
	PrincipalID   string
	PrincipalKind PrincipalKind
	Channel       Channel
	ProviderKeys  map[string]string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the session has expired as of now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionStats summarizes the session store's population.
type SessionStats struct {
	Total   int
	Active  int
	Expired int
}
