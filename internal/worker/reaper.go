package worker

import (
	"context"
	"log/slog"
	"time"
)

const reapInterval = 5 * time.Minute

// SessionStore is the subset of internal/session.Store the reaper sweeps.
type SessionStore interface {
	Reap(now time.Time) int
}

// RateLimitRegistry is the subset of internal/ratelimit.Registry the
// reaper sweeps.
type RateLimitRegistry interface {
	EvictStale(now time.Time) int
}

// AgentTracker is the subset of internal/tower.Sandbox the reaper sweeps.
type AgentTracker interface {
	EvictIdle(maxIdle time.Duration) int
}

// ImageCuller is the subset of internal/images.Registry the reaper sweeps.
type ImageCuller interface {
	CullOlderThan(ctx context.Context, maxAge time.Duration) (int64, error)
}

// agentIdleMax matches the 7-day idle window noted for agent spend tracking.
const agentIdleMax = 7 * 24 * time.Hour

// ReaperWorker periodically evicts expired or idle in-memory state and
// culls aged hosted images. Any of its four targets may be nil, in which
// case that sweep is skipped -- a deployment without the tower feature
// enabled, for instance, has no AgentTracker to pass in.
//
// Grounded on the teacher's quota_sync.go ticker-driven periodic-sweep
// shape (now removed, see DESIGN.md), generalized from a single quota
// resync to four independent, differently-typed sweeps.
type ReaperWorker struct {
	sessions    SessionStore
	rateLimit   RateLimitRegistry
	agents      AgentTracker
	images      ImageCuller
	imageMaxAge time.Duration
}

// NewReaperWorker creates a ReaperWorker. imageMaxAge configures the
// hosted-image age cull; it is ignored if images is nil.
func NewReaperWorker(sessions SessionStore, rateLimit RateLimitRegistry, agents AgentTracker, images ImageCuller, imageMaxAge time.Duration) *ReaperWorker {
	return &ReaperWorker{sessions: sessions, rateLimit: rateLimit, agents: agents, images: images, imageMaxAge: imageMaxAge}
}

// Name returns the worker identifier.
func (w *ReaperWorker) Name() string { return "reaper" }

// Run sweeps all configured targets immediately, then every reapInterval
// until ctx is cancelled.
func (w *ReaperWorker) Run(ctx context.Context) error {
	w.sweep(ctx)

	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *ReaperWorker) sweep(ctx context.Context) {
	now := time.Now()

	if w.sessions != nil {
		if n := w.sessions.Reap(now); n > 0 {
			slog.Info("reaped expired sessions", "count", n)
		}
	}
	if w.rateLimit != nil {
		if n := w.rateLimit.EvictStale(now); n > 0 {
			slog.Info("evicted stale rate limiters", "count", n)
		}
	}
	if w.agents != nil {
		if n := w.agents.EvictIdle(agentIdleMax); n > 0 {
			slog.Info("evicted idle agent spend records", "count", n)
		}
	}
	if w.images != nil {
		n, err := w.images.CullOlderThan(ctx, w.imageMaxAge)
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "hosted image cull failed", slog.String("error", err.Error()))
		} else if n > 0 {
			slog.Info("culled aged hosted images", "count", n)
		}
	}
}
