package analytics

import (
	"context"
	"time"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

// Apps returns the per-app breakdown only (for /analytics/apps).
func (s *Service) Apps(ctx context.Context, filter gateway.UsageFilter) ([]gateway.UsageBreakdown, error) {
	entries, err := s.store.QueryUsage(ctx, filter)
	if err != nil {
		return nil, err
	}
	return aggregate(entries).ByApp, nil
}

// DashboardView bundles a top-level summary for an at-a-glance operator
// view: overall stats plus the last hour's request/error/cost counts.
type DashboardView struct {
	Stats       gateway.UsageStats
	LastHour    TimeseriesPoint
	GeneratedAt time.Time
}

// Dashboard computes DashboardView over filter (for /analytics/dashboard).
func (s *Service) Dashboard(ctx context.Context, filter gateway.UsageFilter) (DashboardView, error) {
	entries, err := s.store.QueryUsage(ctx, filter)
	if err != nil {
		return DashboardView{}, err
	}
	stats := aggregate(entries)

	now := time.Now()
	since := now.Add(-time.Hour)
	lastHour := TimeseriesPoint{Bucket: since}
	for _, e := range entries {
		if e.Timestamp.Before(since) {
			continue
		}
		lastHour.RequestCount++
		lastHour.CostUSD += float64(e.EstimatedCostCents) / 100
		if e.StatusCode >= 400 {
			lastHour.ErrorCount++
		}
	}

	return DashboardView{Stats: stats, LastHour: lastHour, GeneratedAt: now}, nil
}

// HealthView is the /analytics/health response: whether the usage store is
// reachable and how many entries it returned for a trivial recent query.
type HealthView struct {
	OK               bool
	RecentEntryCount int
	Error            string
}

// Health probes the usage store with a narrow recent-window query.
func (s *Service) Health(ctx context.Context) HealthView {
	entries, err := s.store.QueryUsage(ctx, gateway.UsageFilter{
		Start: time.Now().Add(-time.Minute),
		Limit: 1,
	})
	if err != nil {
		return HealthView{OK: false, Error: err.Error()}
	}
	return HealthView{OK: true, RecentEntryCount: len(entries)}
}
