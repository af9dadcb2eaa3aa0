package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

func TestEphemeral_ReturnsRealtimeSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.handler().ServeHTTP(rec, newJSONRequest(http.MethodGet, "/v1/ephemeral", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}

	var sess gateway.RealtimeSession
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.ClientSecret == "" {
		t.Error("expected a non-empty client secret")
	}
}

func TestEphemeral_UnknownKindRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.handler().ServeHTTP(rec, newJSONRequest(http.MethodGet, "/v1/ephemeral?kind=nonexistent", ""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (kind_not_found), body: %s", rec.Code, rec.Body.String())
	}
}
