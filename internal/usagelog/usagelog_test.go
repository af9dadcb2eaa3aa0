package usagelog

import (
	"context"
	"sync"
	"testing"
	"time"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

type fakeStore struct {
	mu      sync.Mutex
	batches [][]gateway.UsageLogEntry
}

func (s *fakeStore) InsertUsage(_ context.Context, entries []gateway.UsageLogEntry) error {
	s.mu.Lock()
	s.batches = append(s.batches, entries)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) totalEntries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestLogger_BatchOnSize(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	logger := New(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		logger.Run(ctx)
		close(done)
	}()

	for i := range batchSize {
		logger.Log(gateway.UsageLogEntry{ID: string(rune('a' + i%26))})
	}

	deadline := time.After(2 * time.Second)
	for {
		if store.totalEntries() >= batchSize {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("batch not flushed; got %d entries", store.totalEntries())
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	cancel()
	<-done
}

func TestLogger_FlushOnTimeout(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	logger := &Logger{
		ch:    make(chan gateway.UsageLogEntry, chanSize),
		store: store,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		logger.Run(ctx)
		close(done)
	}()

	logger.Log(gateway.UsageLogEntry{ID: "test-1"})
	logger.Log(gateway.UsageLogEntry{ID: "test-2"})

	deadline := time.After(flushEvery + 5*time.Second)
	for {
		if store.totalEntries() >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timeout flush not triggered; got %d entries", store.totalEntries())
		default:
			time.Sleep(100 * time.Millisecond)
		}
	}

	cancel()
	<-done
}

func TestLogger_DropOnFull(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	logger := &Logger{
		ch:    make(chan gateway.UsageLogEntry, 2),
		store: store,
	}

	logger.Log(gateway.UsageLogEntry{ID: "1"})
	logger.Log(gateway.UsageLogEntry{ID: "2"})
	logger.Log(gateway.UsageLogEntry{ID: "3"})

	if len(logger.ch) != 2 {
		t.Errorf("channel len = %d, want 2", len(logger.ch))
	}
}

func TestLogger_DrainOnShutdown(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	logger := New(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		logger.Run(ctx)
		close(done)
	}()

	logger.Log(gateway.UsageLogEntry{ID: "drain-1"})
	logger.Log(gateway.UsageLogEntry{ID: "drain-2"})

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if store.totalEntries() < 2 {
		t.Errorf("expected at least 2 drained entries, got %d", store.totalEntries())
	}
}
