// Package xai implements the gateway.Provider adapter for xAI's Grok models.
//
// xAI's chat completions API is OpenAI-compatible (spec: "OpenAI-style
// (OpenAI, xAI): body passes through mostly verbatim"), so the adapter
// wraps the openai.Client and only overrides what differs: base URL and
// provider name.
package xai

import (
	"github.com/rs/dnscache"

	"github.com/wayfarerhq/gandalf/internal/provider/openai"
)

const (
	defaultBaseURL = "https://api.x.ai/v1"
	providerName   = "xai"
)

// Client is an xAI provider adapter that implements gateway.Provider by
// delegating request construction and SSE handling to openai.Client.
type Client struct {
	*openai.Client
}

// New creates an xAI Client. If baseURL is empty it defaults to
// "https://api.x.ai/v1".
func New(apiKey, baseURL string, resolver *dnscache.Resolver) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{Client: openai.New(apiKey, baseURL, resolver)}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }
