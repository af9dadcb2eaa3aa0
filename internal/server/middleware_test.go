package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/costcap"
	"github.com/wayfarerhq/gandalf/internal/ratelimit"
)

func TestSecurityHeaders_SetOnEveryResponse(t *testing.T) {
	t.Parallel()
	h := newHarness(t).handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options: nosniff")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options: DENY")
	}
}

func TestRecovery_PanicReturns500(t *testing.T) {
	t.Parallel()
	hn := newHarness(t)
	srv := &server{deps: hn.deps}

	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	srv.recovery(panicking).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestRequestID_ClientSuppliedPassedThrough(t *testing.T) {
	t.Parallel()
	h := newHarness(t).handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Request-Id", "client-supplied-id.123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "client-supplied-id.123" {
		t.Errorf("X-Request-Id = %q, want client-supplied-id.123", got)
	}
}

func TestRequestID_InvalidClientValueReplaced(t *testing.T) {
	t.Parallel()
	h := newHarness(t).handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Request-Id", "has a space/slash")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got == "has a space/slash" || got == "" {
		t.Errorf("X-Request-Id = %q, want a freshly generated id", got)
	}
}

func TestRequestID_MissingGeneratesOne(t *testing.T) {
	t.Parallel()
	h := newHarness(t).handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("expected a generated X-Request-Id")
	}
}

func TestAuthenticate_MissingCredentialsRejected(t *testing.T) {
	t.Parallel()
	hn := newHarness(t).withAnalytics()

	rec := httptest.NewRecorder()
	hn.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/analytics/usage", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestOptionalAuthenticate_FallsBackToAnonymous(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for anonymous forward request", rec.Code)
	}
}

func TestRateLimit_RejectsOverCeiling(t *testing.T) {
	t.Parallel()
	h := newHarness(t).withRateLimit()
	handler := h.handler()

	body := `{"messages":[{"role":"user","content":"hi"}]}`
	var lastCode int
	for i := 0; i < ratelimit.Ceiling+1; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newJSONRequest(http.MethodPost, "/v1/chat", body))
		lastCode = rec.Code
		if lastCode == http.StatusTooManyRequests {
			break
		}
	}
	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("final status = %d, want 429 after exceeding the window ceiling", lastCode)
	}
}

func TestRateLimit_CostCapRejectsOverCeiling(t *testing.T) {
	t.Parallel()
	hn := newHarness(t)
	hn.deps.CostCap = costcap.New(hn.store, costcap.Ceilings{DailyUSD: 1})
	hn.deps.Ceilings = costcap.Ceilings{DailyUSD: 1}

	if err := hn.store.InsertUsage(context.Background(), []gateway.UsageLogEntry{
		{ID: "seed-1", Timestamp: time.Now(), UserID: "app", EstimatedCostCents: 200},
	}); err != nil {
		t.Fatalf("seed usage: %v", err)
	}

	rec := httptest.NewRecorder()
	hn.handler().ServeHTTP(rec, newJSONRequest(http.MethodPost, "/v1/chat", `{"messages":[{"role":"user","content":"hi"}]}`))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 (spend_cap_exceeded), body: %s", rec.Code, rec.Body.String())
	}
}

func TestRequireAppKey_NonAppPrincipalRejected(t *testing.T) {
	t.Parallel()
	hn := newHarness(t).withAnalytics()

	req := httptest.NewRequest(http.MethodGet, "/v1/analytics/usage", nil)
	req.Header.Set("session-token", "not-a-real-session")
	rec := httptest.NewRecorder()
	hn.handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireTowerKey_MissingHeaderRejected(t *testing.T) {
	t.Parallel()
	hn := newHarness(t).withTower(map[string]gateway.AgentProfile{
		"agent-1": {Name: "agent-1", Secret: "s"},
	})

	rec := httptest.NewRecorder()
	hn.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tower/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

