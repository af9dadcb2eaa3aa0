package analytics

import (
	"context"
	"time"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/costcap"
)

// SumStore is the subset needed for CostStatus -- the same shape as
// internal/costcap.UsageStore, so both C6 enforcement and the C12
// cost-status view read cost totals the same way.
type SumStore interface {
	SumCostCents(ctx context.Context, userID string, since time.Time) (int64, error)
}

// CostSummary is the /analytics/costs response: total cost plus
// per-provider and per-model breakdowns only (no request/app/endpoint
// detail -- that belongs to /analytics/stats).
type CostSummary struct {
	TotalCostUSD float64
	ByProvider   []gateway.UsageBreakdown
	ByModel      []gateway.UsageBreakdown
}

// Costs computes CostSummary over filter (for /analytics/costs).
func (s *Service) Costs(ctx context.Context, filter gateway.UsageFilter) (CostSummary, error) {
	entries, err := s.store.QueryUsage(ctx, filter)
	if err != nil {
		return CostSummary{}, err
	}
	stats := aggregate(entries)
	return CostSummary{
		TotalCostUSD: stats.TotalCostUSD,
		ByProvider:   stats.ByProvider,
		ByModel:      stats.ByModel,
	}, nil
}

// CostStatusEntry reports one ceiling period's current standing.
type CostStatusEntry struct {
	Period       string
	LimitUSD     float64
	CurrentUSD   float64
	RemainingUSD float64
	ResetAt      time.Time
}

// CostStatus reports userID's current spend against each configured
// ceiling window (for /analytics/cost-status). Returns an empty slice if
// CostStatus was built without a SumStore.
func (s *Service) CostStatus(ctx context.Context, userID string, ceilings costcap.Ceilings, now time.Time) ([]CostStatusEntry, error) {
	if s.sums == nil || userID == "" {
		return nil, nil
	}

	windows := costcap.Windows(now, ceilings)
	out := make([]CostStatusEntry, 0, len(windows))
	for _, w := range windows {
		if w.LimitUSD <= 0 {
			continue
		}
		cents, err := s.sums.SumCostCents(ctx, userID, w.Since)
		if err != nil {
			return nil, err
		}
		currentUSD := float64(cents) / 100
		remaining := w.LimitUSD - currentUSD
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, CostStatusEntry{
			Period:       w.Period,
			LimitUSD:     w.LimitUSD,
			CurrentUSD:   currentUSD,
			RemainingUSD: remaining,
			ResetAt:      w.Reset,
		})
	}
	return out, nil
}
