package testutil

import (
	"context"
	"sync"
	"time"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu     sync.RWMutex
	users  map[string]*gateway.PlatformUser
	usage  []gateway.UsageLogEntry
	images map[string]*gateway.HostedImage
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		users:  make(map[string]*gateway.PlatformUser),
		images: make(map[string]*gateway.HostedImage),
	}
}

// --- UserStore ---

// GetOrCreateBySubject upserts a user row by subject, matching the real
// store's login-count/last-seen bookkeeping.
func (s *FakeStore) GetOrCreateBySubject(_ context.Context, subject, email string) (*gateway.PlatformUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	u, ok := s.users[subject]
	if !ok {
		u = &gateway.PlatformUser{ID: subject, Email: email, Active: true, FirstSeen: now}
		s.users[subject] = u
	}
	u.LoginCount++
	u.LastSeen = now
	return u, nil
}

// --- UsageStore ---

// InsertUsage appends entries to the in-memory log.
func (s *FakeStore) InsertUsage(_ context.Context, entries []gateway.UsageLogEntry) error {
	s.mu.Lock()
	s.usage = append(s.usage, entries...)
	s.mu.Unlock()
	return nil
}

// QueryUsage returns entries matching filter, newest first.
func (s *FakeStore) QueryUsage(_ context.Context, filter gateway.UsageFilter) ([]gateway.UsageLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []gateway.UsageLogEntry
	for i := len(s.usage) - 1; i >= 0; i-- {
		e := s.usage[i]
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.Provider != "" && e.Provider != filter.Provider {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// CountUsage returns the number of entries matching filter.
func (s *FakeStore) CountUsage(ctx context.Context, filter gateway.UsageFilter) (int64, error) {
	entries, err := s.QueryUsage(ctx, filter)
	return int64(len(entries)), err
}

// SumCostCents totals estimated cost for userID since the given instant.
func (s *FakeStore) SumCostCents(_ context.Context, userID string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, e := range s.usage {
		if e.UserID == userID && !e.Timestamp.Before(since) {
			total += e.EstimatedCostCents
		}
	}
	return total, nil
}

// Execute is unsupported on the fake store; tests that exercise analytics
// SQL should use a real sqlite-backed store instead.
func (s *FakeStore) Execute(context.Context, string, ...any) ([]map[string]any, error) {
	return nil, gateway.ErrNotFound
}

// --- ImageStore ---

func (s *FakeStore) InsertImage(_ context.Context, img *gateway.HostedImage) error {
	s.mu.Lock()
	s.images[img.ID] = img
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) GetImage(_ context.Context, id string) (*gateway.HostedImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return img, nil
}

func (s *FakeStore) ListImagesByUser(_ context.Context, userID string, limit int) ([]*gateway.HostedImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*gateway.HostedImage
	for _, img := range s.images {
		if img.UserID == userID {
			out = append(out, img)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *FakeStore) CountImagesByUser(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, img := range s.images {
		if img.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *FakeStore) DeleteImage(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.images, id)
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) DeleteImagesOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, img := range s.images {
		if img.CreatedAt.Before(cutoff) {
			delete(s.images, id)
			n++
		}
	}
	return n, nil
}

func (s *FakeStore) Close() error { return nil }
