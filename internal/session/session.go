// Package session implements the session store (C7): short-lived opaque
// tokens mapping to a principal plus any attached provider keys (spec §3,
// §4.2).
//
// The hot lookup path is an otter-backed cache, combined with a canonical
// map (needed for Stats(), which otter's v2 API does not expose cheaply)
// guarded by a RWMutex. Entry mutation (refresh) is additionally guarded
// per-entry so concurrent refresh/lookup/evict on the same token is a
// single critical section, per spec §5.
package session

import (
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/gatewayid"
)

// TTL is the fixed session lifetime from creation or last refresh (spec §4.2).
const TTL = 15 * time.Minute

// ReaperInterval is how often the background sweep runs (spec §4.2).
const ReaperInterval = 5 * time.Minute

type entry struct {
	mu sync.Mutex
	s  gateway.Session
}

// Store is the process-wide session singleton (spec §9: encapsulated as a
// value owned by the application context, not a package-level variable).
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	hot     *otter.Cache[string, *entry]
}

// New creates an empty session store.
func New(maxHotEntries int) (*Store, error) {
	c, err := otter.New[string, *entry](&otter.Options[string, *entry]{
		MaximumSize: maxHotEntries,
	})
	if err != nil {
		return nil, err
	}
	return &Store{entries: make(map[string]*entry), hot: c}, nil
}

// Create mints a new session for the given principal and returns its token.
func (s *Store) Create(principalID string, kind gateway.PrincipalKind, channel gateway.Channel, providerKeys map[string]string) *gateway.Session {
	now := time.Now()
	e := &entry{s: gateway.Session{
		Token:         gatewayid.NewSessionToken(),
		PrincipalID:   principalID,
		PrincipalKind: kind,
		Channel:       channel,
		ProviderKeys:  providerKeys,
		CreatedAt:     now,
		ExpiresAt:     now.Add(TTL),
	}}

	s.mu.Lock()
	s.entries[e.s.Token] = e
	s.mu.Unlock()
	s.hot.Set(e.s.Token, e)

	cp := e.s
	return &cp
}

// find locates the entry for token, checking the hot cache first.
func (s *Store) find(token string) *entry {
	if e, ok := s.hot.GetIfPresent(token); ok {
		return e
	}
	s.mu.RLock()
	e, ok := s.entries[token]
	s.mu.RUnlock()
	if ok {
		s.hot.Set(token, e)
	}
	return e
}

func (s *Store) evict(token string) {
	s.mu.Lock()
	delete(s.entries, token)
	s.mu.Unlock()
	s.hot.Invalidate(token)
}

// Lookup returns the session for token, or ok=false if absent or expired.
// An expired entry is evicted as part of the same critical section.
func (s *Store) Lookup(token string) (*gateway.Session, bool) {
	e := s.find(token)
	if e == nil {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.Expired(time.Now()) {
		s.evict(token)
		return nil, false
	}
	cp := e.s
	return &cp, true
}

// Refresh extends a session's expiration by TTL without rotating the token
// (spec §4.2: "refresh extends expiration but does not rotate the token").
// Returns false if the token is absent or already expired.
func (s *Store) Refresh(token string) bool {
	e := s.find(token)
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	if e.s.Expired(now) {
		s.evict(token)
		return false
	}
	e.s.ExpiresAt = now.Add(TTL)
	return true
}

// Revoke removes a session unconditionally.
func (s *Store) Revoke(token string) {
	s.evict(token)
}

// Stats reports the population breakdown.
func (s *Store) Stats() gateway.SessionStats {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := gateway.SessionStats{Total: len(s.entries)}
	for _, e := range s.entries {
		e.mu.Lock()
		expired := e.s.Expired(now)
		e.mu.Unlock()
		if expired {
			stats.Expired++
		} else {
			stats.Active++
		}
	}
	return stats
}

// Reap removes every entry whose expiration is in the past, returning the
// count removed (invoked by the periodic reaper worker, spec §4.2).
func (s *Store) Reap(now time.Time) int {
	s.mu.RLock()
	var stale []string
	for token, e := range s.entries {
		e.mu.Lock()
		expired := e.s.Expired(now)
		e.mu.Unlock()
		if expired {
			stale = append(stale, token)
		}
	}
	s.mu.RUnlock()

	for _, token := range stale {
		s.evict(token)
	}
	return len(stale)
}
