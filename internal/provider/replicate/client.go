// Package replicate implements the gateway.ImageProvider adapter for the
// Replicate API (spec §4.7).
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/rs/dnscache"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/provider"
)

const (
	defaultBaseURL  = "https://api.replicate.com/v1"
	providerName    = "replicate"
	pollInterval    = time.Second
	pollTimeout     = 60 * time.Second
	versionHashLen  = 30
	versionCacheCap = 1024
)

// Client is a Replicate provider adapter that implements
// gateway.ImageProvider.
type Client struct {
	baseURL string
	http    *http.Client
	// versions caches owner/name -> pinned version id lookups (spec §4.7:
	// "resolved to a pinned version id via a lookup call, cached in memory").
	versions *otter.Cache[string, string]
}

// New creates a Replicate Client with a tuned http.Client and an in-memory
// model-reference resolution cache. apiKey is the server-default credential;
// a per-request override can be attached to ctx via provider.WithAPIKey.
func New(apiKey, baseURL string, resolver *dnscache.Resolver) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	t := provider.NewTransport(resolver, true)
	auth := &provider.AuthTransport{Base: t, Header: "Authorization", Format: "Bearer %s", DefaultKey: apiKey}

	versions, err := otter.New[string, string](&otter.Options[string, string]{
		MaximumSize: versionCacheCap,
	})
	if err != nil {
		// otter.New only fails on invalid Options; MaximumSize > 0 never does.
		panic(fmt.Sprintf("replicate: create version cache: %v", err))
	}

	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{Transport: auth},
		versions: versions,
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// isVersionHash reports whether ref looks like a pinned version hash
// rather than a canonical owner/name model reference (spec §4.7: "a
// version hash (no slash, ≥30 chars) is used directly").
func isVersionHash(ref string) bool {
	return !strings.Contains(ref, "/") && len(ref) >= versionHashLen
}

// resolveVersion returns the pinned version id for a model reference,
// resolving owner/name references via the API and caching the result.
func (c *Client) resolveVersion(ctx context.Context, ref string) (string, error) {
	if isVersionHash(ref) {
		return ref, nil
	}
	if v, ok := c.versions.GetIfPresent(ref); ok {
		return v, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models/"+ref, nil)
	if err != nil {
		return "", fmt.Errorf("replicate: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("replicate: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", provider.ParseAPIError(providerName, resp)
	}

	var model struct {
		LatestVersion struct {
			ID string `json:"id"`
		} `json:"latest_version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&model); err != nil {
		return "", fmt.Errorf("replicate: decode model: %w", err)
	}
	if model.LatestVersion.ID == "" {
		return "", fmt.Errorf("replicate: model %q has no latest_version", ref)
	}

	c.versions.Set(ref, model.LatestVersion.ID)
	return model.LatestVersion.ID, nil
}

// CreateImage creates a prediction for req.Model, waiting up to one
// request round trip via Prefer: wait and, if still not terminal,
// polling every second for up to 60s before returning the last snapshot
// (spec §4.7).
func (c *Client) CreateImage(ctx context.Context, req *gateway.ImageRequest) (*gateway.ImagePrediction, error) {
	version, err := c.resolveVersion(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	input := map[string]any{"prompt": req.Prompt}
	if req.Width > 0 {
		input["width"] = req.Width
	}
	if req.Height > 0 {
		input["height"] = req.Height
	}
	if req.NumOutputs > 0 {
		input["num_outputs"] = req.NumOutputs
	}

	body, err := json.Marshal(map[string]any{
		"version": version,
		"input":   input,
	})
	if err != nil {
		return nil, fmt.Errorf("replicate: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("replicate: create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Prefer", "wait")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("replicate: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	pred, err := decodePrediction(resp.Body)
	if err != nil {
		return nil, err
	}
	if pred.Terminal() {
		return pred, nil
	}
	return c.pollUntilTerminal(ctx, pred)
}

// GetImage fetches the current snapshot of a prediction by id, polling
// until terminal or until the poll budget is exhausted.
func (c *Client) GetImage(ctx context.Context, predictionID string) (*gateway.ImagePrediction, error) {
	pred, err := c.fetchPrediction(ctx, predictionID)
	if err != nil {
		return nil, err
	}
	if pred.Terminal() {
		return pred, nil
	}
	return c.pollUntilTerminal(ctx, pred)
}

// pollUntilTerminal polls /v1/predictions/{id} every pollInterval for up
// to pollTimeout, returning the last snapshot if the prediction never
// reaches a terminal status in that window (spec §4.7).
func (c *Client) pollUntilTerminal(ctx context.Context, last *gateway.ImagePrediction) (*gateway.ImagePrediction, error) {
	deadline := time.Now().Add(pollTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return last, nil
			}
			pred, err := c.fetchPrediction(ctx, last.ID)
			if err != nil {
				return last, err
			}
			last = pred
			if pred.Terminal() {
				return pred, nil
			}
		}
	}
}

func (c *Client) fetchPrediction(ctx context.Context, id string) (*gateway.ImagePrediction, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/predictions/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("replicate: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("replicate: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerName, resp)
	}
	return decodePrediction(resp.Body)
}

func decodePrediction(r io.Reader) (*gateway.ImagePrediction, error) {
	var raw struct {
		ID     string          `json:"id"`
		Status string          `json:"status"`
		Output json.RawMessage `json:"output"`
		Error  any             `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("replicate: decode prediction: %w", err)
	}

	pred := &gateway.ImagePrediction{ID: raw.ID, Status: raw.Status}
	if raw.Error != nil {
		if s, ok := raw.Error.(string); ok {
			pred.Error = s
		} else {
			b, _ := json.Marshal(raw.Error)
			pred.Error = string(b)
		}
	}

	// Output is either a single string URL or an array of string URLs
	// depending on the model.
	if len(raw.Output) > 0 {
		var many []string
		if err := json.Unmarshal(raw.Output, &many); err == nil {
			pred.Output = many
		} else {
			var one string
			if err := json.Unmarshal(raw.Output, &one); err == nil && one != "" {
				pred.Output = []string{one}
			}
		}
	}
	return pred, nil
}

// setHeaders applies common headers to an outbound request. Authentication
// is handled by the client's AuthTransport.
func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
}

// HealthCheck verifies connectivity by fetching the account endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/account", nil)
	if err != nil {
		return fmt.Errorf("replicate: health check: %w", err)
	}
	c.setHeaders(httpReq)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("replicate: health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return provider.ParseAPIError(providerName, resp)
	}
	return nil
}
