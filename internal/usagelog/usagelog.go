// Package usagelog buffers per-request usage entries and batch-flushes them
// to durable storage (C4, spec §4.8). The request pipeline must never block
// the response path on a database write, so Log only ever enqueues.
package usagelog

import (
	"context"
	"log/slog"
	"time"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

const (
	chanSize   = 1000
	batchSize  = 100
	flushEvery = 10 * time.Second
	drainTime  = 30 * time.Second
)

// Store is the persistence interface consumed by Logger.
type Store interface {
	InsertUsage(ctx context.Context, entries []gateway.UsageLogEntry) error
}

// Logger buffers usage log entries and flushes them to store in batches of
// batchSize or every flushEvery, whichever comes first. Entries are dropped
// if the channel is full, trading durability for back-pressure isolation: a
// slow or unavailable store must never stall request handling.
type Logger struct {
	ch    chan gateway.UsageLogEntry
	store Store
}

// New creates a Logger backed by store.
func New(store Store) *Logger {
	return &Logger{
		ch:    make(chan gateway.UsageLogEntry, chanSize),
		store: store,
	}
}

// Name returns the worker identifier.
func (l *Logger) Name() string { return "usage_log" }

// Log enqueues entry. It implements internal/app.UsageLogger. It never
// blocks; an entry is dropped if the buffer is full.
func (l *Logger) Log(entry gateway.UsageLogEntry) {
	select {
	case l.ch <- entry:
	default:
		slog.Warn("usage log entry dropped, channel full", slog.String("endpoint", entry.Endpoint))
	}
}

// Run processes entries until ctx is cancelled, then drains what remains.
// It satisfies internal/worker.Worker.
func (l *Logger) Run(ctx context.Context) error {
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	buf := make([]gateway.UsageLogEntry, 0, batchSize)

	for {
		select {
		case e := <-l.ch:
			buf = append(buf, e)
			if len(buf) >= batchSize {
				l.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				l.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			l.drain(buf)
			return nil
		}
	}
}

// drain flushes whatever is left in buf plus anything still queued on the
// channel, bounded by drainTime so shutdown cannot hang indefinitely.
func (l *Logger) drain(buf []gateway.UsageLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTime)
	defer cancel()

	for {
		select {
		case e := <-l.ch:
			buf = append(buf, e)
			if len(buf) >= batchSize {
				l.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			if len(buf) > 0 {
				l.flush(ctx, buf)
			}
			return
		}
	}
}

func (l *Logger) flush(ctx context.Context, buf []gateway.UsageLogEntry) {
	batch := make([]gateway.UsageLogEntry, len(buf))
	copy(batch, buf)

	if err := l.store.InsertUsage(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "usage log flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}
