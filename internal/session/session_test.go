package session

import (
	"testing"
	"time"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

func TestCreateLookup_RoundTrips(t *testing.T) {
	t.Parallel()

	s, err := New(1024)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	created := s.Create("user-1", gateway.PrincipalUser, gateway.StableChannel, map[string]string{"openai": "sk-1"})

	got, ok := s.Lookup(created.Token)
	if !ok {
		t.Fatal("Lookup returned not-found for a freshly created session")
	}
	if got.PrincipalID != "user-1" || got.Channel != gateway.StableChannel || got.ProviderKeys["openai"] != "sk-1" {
		t.Errorf("Lookup returned %+v, want fields matching Create", got)
	}
}

func TestLookup_UnknownTokenNotFound(t *testing.T) {
	t.Parallel()

	s, _ := New(1024)
	if _, ok := s.Lookup("does-not-exist"); ok {
		t.Fatal("Lookup found a token that was never created")
	}
}

func TestRefresh_ExtendsExpiryWithoutRotatingToken(t *testing.T) {
	t.Parallel()

	s, _ := New(1024)
	created := s.Create("user-1", gateway.PrincipalUser, gateway.StableChannel, nil)
	before, _ := s.Lookup(created.Token)

	time.Sleep(2 * time.Millisecond)
	if ok := s.Refresh(created.Token); !ok {
		t.Fatal("Refresh failed for a live session")
	}

	after, ok := s.Lookup(created.Token)
	if !ok {
		t.Fatal("session vanished after Refresh")
	}
	if after.Token != before.Token {
		t.Error("Refresh rotated the token, want same token")
	}
	if !after.ExpiresAt.After(before.ExpiresAt) {
		t.Errorf("ExpiresAt after refresh = %v, want strictly after %v", after.ExpiresAt, before.ExpiresAt)
	}
}

func TestRefresh_UnknownTokenReturnsFalse(t *testing.T) {
	t.Parallel()

	s, _ := New(1024)
	if s.Refresh("does-not-exist") {
		t.Fatal("Refresh succeeded for an unknown token")
	}
}

func TestRevoke_ThenLookupNotFound(t *testing.T) {
	t.Parallel()

	s, _ := New(1024)
	created := s.Create("user-1", gateway.PrincipalUser, gateway.StableChannel, nil)
	s.Revoke(created.Token)

	if _, ok := s.Lookup(created.Token); ok {
		t.Fatal("Lookup found a revoked session")
	}
}

func TestLookup_ExpiredSessionEvictedOnAccess(t *testing.T) {
	t.Parallel()

	s, _ := New(1024)
	created := s.Create("user-1", gateway.PrincipalUser, gateway.StableChannel, nil)

	s.mu.Lock()
	e := s.entries[created.Token]
	s.mu.Unlock()
	e.mu.Lock()
	e.s.ExpiresAt = time.Now().Add(-time.Second)
	e.mu.Unlock()

	if _, ok := s.Lookup(created.Token); ok {
		t.Fatal("Lookup returned an expired session")
	}

	s.mu.RLock()
	_, stillThere := s.entries[created.Token]
	s.mu.RUnlock()
	if stillThere {
		t.Error("expired session was not evicted from the canonical map")
	}
}

func TestReap_RemovesOnlyExpired(t *testing.T) {
	t.Parallel()

	s, _ := New(1024)
	live := s.Create("user-1", gateway.PrincipalUser, gateway.StableChannel, nil)
	stale := s.Create("user-2", gateway.PrincipalUser, gateway.StableChannel, nil)

	s.mu.Lock()
	e := s.entries[stale.Token]
	s.mu.Unlock()
	e.mu.Lock()
	e.s.ExpiresAt = time.Now().Add(-time.Minute)
	e.mu.Unlock()

	removed := s.Reap(time.Now())
	if removed != 1 {
		t.Fatalf("Reap removed %d, want 1", removed)
	}
	if _, ok := s.Lookup(live.Token); !ok {
		t.Error("Reap evicted a live session")
	}
	if _, ok := s.Lookup(stale.Token); ok {
		t.Error("Reap left a stale session in place")
	}
}

func TestStats_CountsActiveAndExpired(t *testing.T) {
	t.Parallel()

	s, _ := New(1024)
	s.Create("user-1", gateway.PrincipalUser, gateway.StableChannel, nil)
	stale := s.Create("user-2", gateway.PrincipalUser, gateway.StableChannel, nil)

	s.mu.Lock()
	e := s.entries[stale.Token]
	s.mu.Unlock()
	e.mu.Lock()
	e.s.ExpiresAt = time.Now().Add(-time.Minute)
	e.mu.Unlock()

	stats := s.Stats()
	if stats.Total != 2 || stats.Active != 1 || stats.Expired != 1 {
		t.Errorf("Stats = %+v, want {Total:2 Active:1 Expired:1}", stats)
	}
}
