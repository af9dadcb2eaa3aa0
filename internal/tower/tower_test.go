package tower

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/catalog"
	"github.com/wayfarerhq/gandalf/internal/pricing"
	"github.com/wayfarerhq/gandalf/internal/provider"
)

type fakeChatProvider struct {
	name string
	resp *gateway.ChatResponse
	err  error
}

func (f *fakeChatProvider) Name() string { return f.name }
func (f *fakeChatProvider) ChatCompletion(_ context.Context, _ *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	return f.resp, f.err
}
func (f *fakeChatProvider) ChatCompletionStream(context.Context, *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	return nil, errors.New("not used in these tests")
}
func (f *fakeChatProvider) HealthCheck(context.Context) error { return nil }

func testSandbox(t *testing.T, chatProv *fakeChatProvider, profiles map[string]gateway.AgentProfile) *Sandbox {
	t.Helper()
	reg := provider.NewRegistry()
	reg.Register(chatProv.name, chatProv)
	cat := catalog.New(map[gateway.Channel]map[gateway.ModelKind]gateway.ModelConfig{
		gateway.StableChannel: {
			gateway.ModelKind("chat"): {Provider: chatProv.name, Model: "claude-3-5-sonnet"},
		},
	})
	priceTable := pricing.New(map[string]pricing.Rate{
		"anthropic/claude-3-5-sonnet": {PerInputTokenUSD: 0.000003, PerOutputTokenUSD: 0.000015},
	})
	return New(profiles, cat, reg, priceTable)
}

func lucidProfile() gateway.AgentProfile {
	return gateway.AgentProfile{
		Name:   "lucid",
		Secret: "lucid-secret",
		Capabilities: gateway.AgentCapabilities{
			Allow: []string{"claude_api"},
		},
		Limits: gateway.AgentLimits{
			DailySpendUSD:  1.0,
			RequestsPerHour: 100,
			RequestsPerDay:  1000,
		},
	}
}

func TestAuthenticate_MatchAndMismatch(t *testing.T) {
	t.Parallel()
	s := testSandbox(t, &fakeChatProvider{name: "anthropic"}, map[string]gateway.AgentProfile{
		"lucid": lucidProfile(),
	})

	if _, ok := s.Authenticate("wrong-secret"); ok {
		t.Fatal("expected no match for wrong secret")
	}
	if _, ok := s.Authenticate(""); ok {
		t.Fatal("expected no match for empty key")
	}
	profile, ok := s.Authenticate("lucid-secret")
	if !ok || profile.Name != "lucid" {
		t.Fatalf("expected match for lucid, got %+v ok=%v", profile, ok)
	}
}

func TestDispatch_CapabilityDenied(t *testing.T) {
	t.Parallel()
	s := testSandbox(t, &fakeChatProvider{name: "anthropic"}, nil)
	profile := lucidProfile()

	_, err := s.Dispatch(context.Background(), profile, Request{Capability: "file_write"})
	if !errors.Is(err, gateway.ErrCapabilityDenied) {
		t.Fatalf("expected ErrCapabilityDenied, got %v", err)
	}
}

func TestDispatch_StubCapability(t *testing.T) {
	t.Parallel()
	profile := lucidProfile()
	profile.Capabilities.Allow = append(profile.Capabilities.Allow, "web_search")
	s := testSandbox(t, &fakeChatProvider{name: "anthropic"}, nil)

	res, err := s.Dispatch(context.Background(), profile, Request{Capability: "web_search"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "not_implemented" {
		t.Errorf("status = %q, want not_implemented", res.Status)
	}
	if res.CostEstimate != 0 || res.TokensUsed != 0 {
		t.Errorf("stub capability should not record cost/tokens, got %+v", res)
	}
}

func TestDispatch_ClaudeAPISuccess(t *testing.T) {
	t.Parallel()
	chatProv := &fakeChatProvider{
		name: "anthropic",
		resp: &gateway.ChatResponse{
			Model: "claude-3-5-sonnet",
			Usage: &gateway.Usage{PromptTokens: 100, CompletionTokens: 50},
		},
	}
	s := testSandbox(t, chatProv, nil)
	profile := lucidProfile()

	payload, _ := json.Marshal(map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	res, err := s.Dispatch(context.Background(), profile, Request{Capability: "claude_api", Payload: payload})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "ok" {
		t.Errorf("status = %q, want ok", res.Status)
	}
	if res.TokensUsed != 150 {
		t.Errorf("tokens used = %d, want 150", res.TokensUsed)
	}
	if res.CostEstimate <= 0 {
		t.Errorf("expected positive cost estimate, got %v", res.CostEstimate)
	}
	if res.DailySpendTotal != res.CostEstimate {
		t.Errorf("daily spend total = %v, want %v", res.DailySpendTotal, res.CostEstimate)
	}

	audit := s.Audit("lucid", 0)
	if len(audit.Entries) != 1 || !audit.Entries[0].Success {
		t.Fatalf("expected one successful audit entry, got %+v", audit.Entries)
	}
}

func TestDispatch_SpendCapExceeded(t *testing.T) {
	t.Parallel()
	chatProv := &fakeChatProvider{
		name: "anthropic",
		resp: &gateway.ChatResponse{Usage: &gateway.Usage{PromptTokens: 1, CompletionTokens: 1}},
	}
	s := testSandbox(t, chatProv, nil)
	profile := lucidProfile()
	profile.Limits.DailySpendUSD = 0.000001 // already exhausted after one request

	payload, _ := json.Marshal(map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})

	if _, err := s.Dispatch(context.Background(), profile, Request{Capability: "claude_api", Payload: payload}); err != nil {
		t.Fatalf("first request should not be gated by projection: %v", err)
	}

	_, err := s.Dispatch(context.Background(), profile, Request{Capability: "claude_api", Payload: payload})
	if !errors.Is(err, gateway.ErrSpendCapExceeded) {
		t.Fatalf("expected ErrSpendCapExceeded on second request, got %v", err)
	}
}

func TestDispatch_RateLimited(t *testing.T) {
	t.Parallel()
	s := testSandbox(t, &fakeChatProvider{name: "anthropic"}, nil)
	profile := lucidProfile()
	profile.Capabilities.Allow = append(profile.Capabilities.Allow, "web_search")
	profile.Limits.RequestsPerHour = 1

	if _, err := s.Dispatch(context.Background(), profile, Request{Capability: "web_search"}); err != nil {
		t.Fatalf("unexpected error on first request: %v", err)
	}
	_, err := s.Dispatch(context.Background(), profile, Request{Capability: "web_search"})
	if !errors.Is(err, gateway.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestDispatch_AdminBypassesRateAndSpend(t *testing.T) {
	t.Parallel()
	chatProv := &fakeChatProvider{
		name: "anthropic",
		resp: &gateway.ChatResponse{Usage: &gateway.Usage{PromptTokens: 1, CompletionTokens: 1}},
	}
	s := testSandbox(t, chatProv, nil)
	admin := gateway.AgentProfile{
		Name:    "admin",
		Secret:  "admin-secret",
		IsAdmin: true,
		Capabilities: gateway.AgentCapabilities{
			Allow: []string{"*"},
		},
		Limits: gateway.AgentLimits{RequestsPerHour: 1, DailySpendUSD: 0.000001},
	}

	payload, _ := json.Marshal(map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	for i := 0; i < 3; i++ {
		if _, err := s.Dispatch(context.Background(), admin, Request{Capability: "claude_api", Payload: payload}); err != nil {
			t.Fatalf("admin request %d unexpectedly failed: %v", i, err)
		}
	}
}

func TestTracker_CheckRate_WindowReset(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	limits := gateway.AgentLimits{RequestsPerHour: 1, RequestsPerDay: 100}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if rr := tr.CheckRate("a", limits, now); !rr.Allowed {
		t.Fatal("first request should be allowed")
	}
	if rr := tr.CheckRate("a", limits, now); rr.Allowed {
		t.Fatal("second request within the same hour should be denied")
	}
	later := now.Add(time.Hour + time.Second)
	if rr := tr.CheckRate("a", limits, later); !rr.Allowed {
		t.Fatal("request after the hourly window rolls over should be allowed")
	}
}

func TestAuditLog_BoundedCapacity(t *testing.T) {
	t.Parallel()
	log := NewAuditLog(3)
	for i := 0; i < 5; i++ {
		log.Append(gateway.AuditEntry{ID: string(rune('a' + i)), Timestamp: time.Now()})
	}
	entries := log.Filter("", time.Time{}, 0)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries retained, got %d", len(entries))
	}
	// Newest-first: the last appended entry should be first.
	if entries[0].ID != string(rune('a'+4)) {
		t.Errorf("expected newest entry first, got %q", entries[0].ID)
	}
}
