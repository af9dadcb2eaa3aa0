// Package elevenlabs implements the gateway.MusicProvider and
// gateway.VoiceProvider adapters for the ElevenLabs API (spec §4.7).
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/dnscache"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/provider"
)

const (
	defaultBaseURL      = "https://api.elevenlabs.io/v1"
	providerName        = "elevenlabs"
	defaultOutputFormat = "mp3_44100_128"
)

// Client is an ElevenLabs provider adapter that implements
// gateway.MusicProvider and gateway.VoiceProvider.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates an ElevenLabs Client with a tuned http.Client. apiKey is the
// server-default credential; a per-request override can be attached to ctx
// via provider.WithAPIKey.
func New(apiKey, baseURL string, resolver *dnscache.Resolver) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	auth := &provider.AuthTransport{
		Base:       provider.NewTransport(resolver, true),
		Header:     "xi-api-key",
		DefaultKey: apiKey,
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Transport: auth},
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// CreateMusic requests music generation. The response may carry the
// audio inline (base64) or as a URL to fetch, plus a generation id and
// status (spec §4.7).
func (c *Client) CreateMusic(ctx context.Context, req *gateway.MusicRequest) (*gateway.MusicResult, error) {
	body, err := json.Marshal(map[string]any{
		"prompt":          req.Prompt,
		"model_id":        req.Model,
		"music_length_ms": req.Duration * 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/music", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	var out gateway.MusicResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode response: %w", err)
	}
	return &out, nil
}

// Synthesize sends a non-streaming text-to-speech request and returns the
// raw audio buffer (spec §4.7: "TTS returns a raw audio byte buffer").
func (c *Client) Synthesize(ctx context.Context, req *gateway.VoiceRequest) (*gateway.VoiceResult, error) {
	resp, err := c.ttsRequest(ctx, req, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read response: %w", err)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	return &gateway.VoiceResult{Audio: audio, ContentType: ct}, nil
}

// SynthesizeStream sends a streaming text-to-speech request and returns
// the response body for the caller to copy through as it arrives.
func (c *Client) SynthesizeStream(ctx context.Context, req *gateway.VoiceRequest) (io.ReadCloser, error) {
	resp, err := c.ttsRequest(ctx, req, "/stream")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ttsRequest builds and issues the synthesis HTTP request. suffix is
// "/stream" for the streaming endpoint, "" for the buffered one. The
// caller is responsible for closing the returned response's body.
func (c *Client) ttsRequest(ctx context.Context, req *gateway.VoiceRequest, suffix string) (*http.Response, error) {
	body, err := json.Marshal(map[string]any{
		"text":     req.Text,
		"model_id": req.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s%s?output_format=%s", c.baseURL, req.Voice, suffix, defaultOutputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(providerName, resp)
	}
	return resp, nil
}

// setHeaders applies common headers to an outbound request. Authentication
// is handled by the client's AuthTransport.
func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
}

// HealthCheck verifies connectivity by listing available voices.
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/voices", nil)
	if err != nil {
		return fmt.Errorf("elevenlabs: health check: %w", err)
	}
	c.setHeaders(httpReq)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("elevenlabs: health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return provider.ParseAPIError(providerName, resp)
	}
	return nil
}
