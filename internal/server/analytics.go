package server

import (
	"net/http"
	"strconv"
	"time"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

// parseUsageFilter builds a gateway.UsageFilter from query parameters
// shared by every /v1/analytics/* endpoint (spec §4.8, §6).
func parseUsageFilter(r *http.Request) gateway.UsageFilter {
	q := r.URL.Query()
	f := gateway.UsageFilter{
		AppID:    q.Get("app_id"),
		UserID:   q.Get("user_id"),
		Provider: q.Get("provider"),
		Endpoint: q.Get("endpoint"),
	}
	if v, err := time.Parse(time.RFC3339, q.Get("start")); err == nil {
		f.Start = v
	}
	if v, err := time.Parse(time.RFC3339, q.Get("end")); err == nil {
		f.End = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		f.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		f.Offset = v
	}
	return f
}

func (s *server) handleAnalyticsUsage(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Analytics.Usage(r.Context(), parseUsageFilter(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"usage": entries})
}

func (s *server) handleAnalyticsCosts(w http.ResponseWriter, r *http.Request) {
	costs, err := s.deps.Analytics.Costs(r.Context(), parseUsageFilter(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, costs)
}

func (s *server) handleAnalyticsApps(w http.ResponseWriter, r *http.Request) {
	apps, err := s.deps.Analytics.Apps(r.Context(), parseUsageFilter(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"apps": apps})
}

func (s *server) handleAnalyticsStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Analytics.Stats(r.Context(), parseUsageFilter(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleAnalyticsDashboard(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Analytics.Dashboard(r.Context(), parseUsageFilter(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *server) handleAnalyticsTimeseries(w http.ResponseWriter, r *http.Request) {
	bucket := time.Hour
	if v, err := time.ParseDuration(r.URL.Query().Get("bucket")); err == nil && v > 0 {
		bucket = v
	}
	points, err := s.deps.Analytics.Timeseries(r.Context(), parseUsageFilter(r), bucket)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": points})
}

func (s *server) handleAnalyticsHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Analytics.Health(r.Context()))
}

func (s *server) handleAnalyticsCostStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, gateway.ErrValidationFailed)
		return
	}
	status, err := s.deps.Analytics.CostStatus(r.Context(), userID, s.deps.Ceilings, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"costStatus": status})
}
