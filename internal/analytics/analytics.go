// Package analytics implements the read-only aggregation surface over the
// usage log (C12): per-provider/model/app/endpoint breakdowns, cost
// summaries, a dashboard rollup, a time-bucketed series, and a cost-status
// view against the configured spend ceilings.
//
// Grounded on internal/worker/usage_rollup.go's group-by-key aggregation
// pattern (now deleted as a separate worker -- these endpoints compute
// aggregations on demand from a filtered query rather than maintaining a
// materialized rollup table, since spec §4.8 describes analytics as
// "read-only aggregation queries", not a precomputed store) and
// internal/storage/sqlite/usage.go's QueryUsage contract.
package analytics

import (
	"context"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

// Store is the subset of internal/storage.UsageStore the analytics
// surface reads from.
type Store interface {
	QueryUsage(ctx context.Context, filter gateway.UsageFilter) ([]gateway.UsageLogEntry, error)
}

// Service answers the /analytics/* endpoints.
type Service struct {
	store Store
	sums  SumStore // nil disables CostStatus
}

// New builds a Service. sums may be nil, which disables CostStatus.
func New(store Store, sums SumStore) *Service {
	return &Service{store: store, sums: sums}
}

// Usage returns the raw, filtered usage log entries (for /analytics/usage).
func (s *Service) Usage(ctx context.Context, filter gateway.UsageFilter) ([]gateway.UsageLogEntry, error) {
	return s.store.QueryUsage(ctx, filter)
}

// Stats computes the full breakdown (for /analytics/stats): total request
// count and cost, grouped by provider, model, app, and endpoint.
func (s *Service) Stats(ctx context.Context, filter gateway.UsageFilter) (gateway.UsageStats, error) {
	entries, err := s.store.QueryUsage(ctx, filter)
	if err != nil {
		return gateway.UsageStats{}, err
	}
	return aggregate(entries), nil
}

func aggregate(entries []gateway.UsageLogEntry) gateway.UsageStats {
	byProvider := make(map[string]*gateway.UsageBreakdown)
	byModel := make(map[string]*gateway.UsageBreakdown)
	byApp := make(map[string]*gateway.UsageBreakdown)
	byEndpoint := make(map[string]*gateway.UsageBreakdown)

	var stats gateway.UsageStats
	for _, e := range entries {
		stats.TotalRequests++
		costUSD := float64(e.EstimatedCostCents) / 100
		stats.TotalCostUSD += costUSD

		bump(byProvider, e.Provider, costUSD)
		bump(byModel, e.Model, costUSD)
		bump(byApp, appKey(e.AppID), costUSD)
		bump(byEndpoint, e.Endpoint, costUSD)
	}

	stats.ByProvider = flatten(byProvider)
	stats.ByModel = flatten(byModel)
	stats.ByApp = flatten(byApp)
	stats.ByEndpoint = flatten(byEndpoint)
	return stats
}

func appKey(appID string) string {
	if appID == "" {
		return "unspecified"
	}
	return appID
}

func bump(m map[string]*gateway.UsageBreakdown, key string, costUSD float64) {
	b, ok := m[key]
	if !ok {
		b = &gateway.UsageBreakdown{Key: key}
		m[key] = b
	}
	b.RequestCount++
	b.CostUSD += costUSD
}

func flatten(m map[string]*gateway.UsageBreakdown) []gateway.UsageBreakdown {
	out := make([]gateway.UsageBreakdown, 0, len(m))
	for _, b := range m {
		out = append(out, *b)
	}
	return out
}
