package gateway

import "time"

// UsageLogEntry is one immutable record per completed request (spec §3, §4.8).
// EstimatedCostCents is whole cents (×100 scaling applied consistently before
// storage); it is zero for non-2xx responses.
type UsageLogEntry struct {
	ID                 string
	Timestamp          time.Time
	UserID             string
	AppID              string
	Endpoint           string
	Method             string
	Provider           string
	Model              string
	InputTokens        int
	OutputTokens       int
	EstimatedCostCents int64
	DurationMs         int64
	StatusCode         int
	Error              string
}

// UsageFilter selects a subset of the usage log for querying (spec §4.8).
type UsageFilter struct {
	AppID    string
	UserID   string
	Provider string
	Endpoint string
	Start    time.Time
	End      time.Time
	Limit    int
	Offset   int
}

// UsageBreakdown is one row of a grouped aggregation (by provider, model,
// app, or endpoint).
type UsageBreakdown struct {
	Key          string
	RequestCount int64
	CostUSD      float64
}

// UsageStats is the aggregation response for the analytics surface (spec §4.8, §6).
type UsageStats struct {
	TotalRequests int64
	TotalCostUSD  float64
	ByProvider    []UsageBreakdown
	ByModel       []UsageBreakdown
	ByApp         []UsageBreakdown
	ByEndpoint    []UsageBreakdown
}
