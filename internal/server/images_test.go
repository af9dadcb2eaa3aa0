package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

func TestCreateImage_WithoutRegistryReturnsUpstreamURLs(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.handler().ServeHTTP(rec, newJSONRequest(http.MethodPost, "/v1/images", `{"prompt":"a cat"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}

	var resp imageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.URLs) != 1 || resp.URLs[0] != "https://upstream.example/out.png" {
		t.Errorf("urls = %v, want upstream URL passthrough", resp.URLs)
	}
}

func TestCreateImage_EmptyPromptRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.handler().ServeHTTP(rec, newJSONRequest(http.MethodPost, "/v1/images", `{"prompt":""}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateImage_WithRegistryHostsOutputForAuthenticatedCaller(t *testing.T) {
	t.Parallel()
	h := newHarness(t).withImages(t)

	rec := httptest.NewRecorder()
	h.handler().ServeHTTP(rec, newJSONRequest(http.MethodPost, "/v1/images", `{"prompt":"a cat"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}

	var resp imageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.URLs) != 1 || resp.URLs[0] == "https://upstream.example/out.png" {
		t.Errorf("expected a hosted URL, got %v", resp.URLs)
	}
}

func TestCreateImage_AnonymousCallerNeverHosted(t *testing.T) {
	t.Parallel()
	h := newHarness(t).withImages(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/images", strings.NewReader(`{"prompt":"a cat"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}

	var resp imageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.URLs) != 1 || resp.URLs[0] != "https://upstream.example/out.png" {
		t.Errorf("anonymous caller should get the raw upstream URL, got %v", resp.URLs)
	}
}

func TestGetImage_ReturnsPredictionSnapshot(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.provider.GetImageFn = func(ctx context.Context, predictionID string) (*gateway.ImagePrediction, error) {
		return &gateway.ImagePrediction{ID: predictionID, Status: "processing"}, nil
	}

	rec := httptest.NewRecorder()
	h.handler().ServeHTTP(rec, newJSONRequest(http.MethodGet, "/v1/images/pred-123", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}

	var resp imageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != "pred-123" || resp.Status != "processing" {
		t.Errorf("unexpected response: %+v", resp)
	}
}
