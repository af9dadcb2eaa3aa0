package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/analytics"
	"github.com/wayfarerhq/gandalf/internal/app"
	"github.com/wayfarerhq/gandalf/internal/auth"
	"github.com/wayfarerhq/gandalf/internal/catalog"
	"github.com/wayfarerhq/gandalf/internal/costcap"
	"github.com/wayfarerhq/gandalf/internal/images"
	"github.com/wayfarerhq/gandalf/internal/pricing"
	"github.com/wayfarerhq/gandalf/internal/provider"
	"github.com/wayfarerhq/gandalf/internal/ratelimit"
	"github.com/wayfarerhq/gandalf/internal/session"
	"github.com/wayfarerhq/gandalf/internal/testutil"
	"github.com/wayfarerhq/gandalf/internal/tower"
)

const testOperatorKey = "test-operator-key"

// testHarness bundles a fully wired server.Deps -- real components backed
// by testutil.FakeStore and an in-memory provider registry -- plus the
// pieces tests commonly need to reach into.
type testHarness struct {
	deps     Deps
	store    *testutil.FakeStore
	provider *testutil.FakeFullProvider
	sessions *session.Store
}

// newHarness builds a Deps with one fully-capable provider ("testprov")
// registered under every model kind in the stable channel. Callers chain
// the with* methods to add optional dependencies before calling handler().
func newHarness(t *testing.T) *testHarness {
	t.Helper()

	store := testutil.NewFakeStore()
	sessions, err := session.New(1024)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}

	a := auth.New(testOperatorKey, []byte("signing-secret"), nil, sessions, store)

	fp := &testutil.FakeFullProvider{ProviderName: "testprov"}
	providers := provider.NewRegistry()
	providers.Register("testprov", fp)

	table := map[gateway.Channel]map[gateway.ModelKind]gateway.ModelConfig{
		gateway.StableChannel: {
			app.DefaultChatKind:     {Provider: "testprov", Model: "test-chat-1"},
			app.DefaultImageKind:    {Provider: "testprov", Model: "test-image-1"},
			app.DefaultMusicKind:    {Provider: "testprov", Model: "test-music-1"},
			app.DefaultVoiceKind:    {Provider: "testprov", Model: "test-voice-1"},
			app.DefaultRealtimeKind: {Provider: "testprov", Model: "test-realtime-1"},
		},
	}
	cat := catalog.New(table)
	priceTable := pricing.New(nil)
	pipeline := app.NewPipeline(cat, providers, priceTable, nil, nil, nil, nil)

	deps := Deps{
		Pipeline: pipeline,
		Auth:     a,
		Sessions: sessions,
		Catalog:  cat,
		Users:    store,
	}

	return &testHarness{deps: deps, store: store, provider: fp, sessions: sessions}
}

// withAnalytics wires an analytics.Service over the harness's store.
func (h *testHarness) withAnalytics() *testHarness {
	h.deps.Analytics = analytics.New(h.store, h.store)
	h.deps.Ceilings = costcap.DefaultCeilings
	return h
}

// withTower wires a tower.Sandbox with the given agent profiles.
func (h *testHarness) withTower(profiles map[string]gateway.AgentProfile) *testHarness {
	providers := provider.NewRegistry()
	providers.Register("testprov", h.provider)
	priceTable := pricing.New(nil)
	cat := catalog.New(map[gateway.Channel]map[gateway.ModelKind]gateway.ModelConfig{
		gateway.StableChannel: {"chat": {Provider: "testprov", Model: "test-chat-1"}},
	})
	h.deps.Tower = tower.New(profiles, cat, providers, priceTable)
	return h
}

// withRateLimit wires a fresh ratelimit.Registry.
func (h *testHarness) withRateLimit() *testHarness {
	h.deps.RateLimiter = ratelimit.NewRegistry()
	return h
}

// withCostCap wires a costcap.Checker over the harness's store.
func (h *testHarness) withCostCap(ceilings costcap.Ceilings) *testHarness {
	h.deps.CostCap = costcap.New(h.store, ceilings)
	h.deps.Ceilings = ceilings
	return h
}

// withImages wires a hosted-image registry backed by a fake HTTP transport
// that serves canned bytes for any URL, so Persist never touches the network.
func (h *testHarness) withImages(t *testing.T) *testHarness {
	t.Helper()
	client := &http.Client{Transport: fakeImageTransport{}}
	h.deps.Images = images.New(h.store, client, t.TempDir(), "/hosted")
	return h
}

type fakeImageTransport struct{}

func (fakeImageTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "image/png")
	rec.WriteHeader(http.StatusOK)
	rec.Write([]byte("fake-png-bytes"))
	return rec.Result(), nil
}

func (h *testHarness) handler() http.Handler {
	return New(h.deps)
}

// newJSONRequest builds a request carrying the app-key header (the
// operator-level credential every harness is wired to accept) and a JSON
// body, or no body when bodyJSON is empty.
func newJSONRequest(method, path, bodyJSON string) *http.Request {
	var r *http.Request
	if bodyJSON == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(bodyJSON))
		r.Header.Set("Content-Type", "application/json")
	}
	r.Header.Set("app-key", testOperatorKey)
	return r
}
