package analytics

import (
	"context"
	"slices"
	"time"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

// TimeseriesPoint is one bucket of the /analytics/timeseries response.
type TimeseriesPoint struct {
	Bucket       time.Time
	RequestCount int64
	CostUSD      float64
	ErrorCount   int64
}

// Timeseries buckets filter's matching entries into fixed-width windows,
// truncating each entry's timestamp to the bucket boundary -- the same
// "Truncate(time.Hour)"-style bucketing the teacher used to build hourly
// rollups, generalized to an arbitrary bucket width and computed directly
// from the query result instead of a materialized rollup table.
func (s *Service) Timeseries(ctx context.Context, filter gateway.UsageFilter, bucket time.Duration) ([]TimeseriesPoint, error) {
	if bucket <= 0 {
		bucket = time.Hour
	}
	entries, err := s.store.QueryUsage(ctx, filter)
	if err != nil {
		return nil, err
	}

	points := make(map[int64]*TimeseriesPoint)
	for _, e := range entries {
		t := e.Timestamp.UTC().Truncate(bucket)
		key := t.Unix()
		p, ok := points[key]
		if !ok {
			p = &TimeseriesPoint{Bucket: t}
			points[key] = p
		}
		p.RequestCount++
		p.CostUSD += float64(e.EstimatedCostCents) / 100
		if e.StatusCode >= 400 {
			p.ErrorCount++
		}
	}

	out := make([]TimeseriesPoint, 0, len(points))
	for _, p := range points {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b TimeseriesPoint) int { return a.Bucket.Compare(b.Bucket) })
	return out, nil
}
