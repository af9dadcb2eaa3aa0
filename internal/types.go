// Package gateway defines domain types and interfaces for the gateway.
// This package has no project imports -- it is the dependency root.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// Provider is the interface that all upstream provider adapters implement
// for chat-style completions. Image, music, voice, and realtime capabilities
// are narrower interfaces below, implemented by the providers that support
// them (checked via type assertion at dispatch time).
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "anthropic").
	Name() string
	// ChatCompletion sends a non-streaming chat completion request.
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// ChatCompletionStream sends a streaming chat completion request.
	ChatCompletionStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	// HealthCheck verifies connectivity to the provider.
	HealthCheck(ctx context.Context) error
}

// ImageProvider generates images from a prompt (Replicate).
type ImageProvider interface {
	CreateImage(ctx context.Context, req *ImageRequest) (*ImagePrediction, error)
	GetImage(ctx context.Context, predictionID string) (*ImagePrediction, error)
}

// MusicProvider generates music/audio from a prompt (ElevenLabs).
type MusicProvider interface {
	CreateMusic(ctx context.Context, req *MusicRequest) (*MusicResult, error)
}

// VoiceProvider synthesizes speech from text (ElevenLabs).
type VoiceProvider interface {
	Synthesize(ctx context.Context, req *VoiceRequest) (*VoiceResult, error)
	SynthesizeStream(ctx context.Context, req *VoiceRequest) (io.ReadCloser, error)
}

// RealtimeProvider mints ephemeral realtime session tokens (OpenAI).
type RealtimeProvider interface {
	CreateEphemeralSession(ctx context.Context, model string) (*RealtimeSession, error)
}

// NativeProxy is an optional interface a provider can implement to support
// raw HTTP passthrough for clients speaking the provider's native wire
// format. Checked via type assertion.
type NativeProxy interface {
	ProxyRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, path string) error
}

// ChatRequest represents an OpenAI-compatible chat completion request.
type ChatRequest struct {
	Model            string          `json:"model"`
	Messages         []Message       `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	N                int             `json:"n,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	StreamOptions    *StreamOptions  `json:"stream_options,omitempty"`
	Stop             json.RawMessage `json:"stop,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	Seed             *int            `json:"seed,omitempty"`
	User             string          `json:"user,omitempty"`
	Tools            json.RawMessage `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	ResponseFormat   json.RawMessage `json:"response_format,omitempty"`
}

// StreamOptions controls streaming behavior.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// ChatResponse represents an OpenAI-compatible chat completion response.
// This is the normalized shape every adapter produces, per spec §4.7.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk represents a single chunk in a streaming response.
type StreamChunk struct {
	Data  []byte // raw SSE data line, forwarded as-is when possible
	Usage *Usage // non-nil on final chunk
	Done  bool
	Err   error
}

// ImageRequest is a normalized image-generation request (spec §6 /images).
type ImageRequest struct {
	Prompt     string
	Model      string // Replicate model reference or pinned version hash
	Width      int
	Height     int
	NumOutputs int
	Wait       bool
}

// ImagePrediction is a normalized Replicate-style prediction snapshot.
type ImagePrediction struct {
	ID     string   `json:"id"`
	Status string   `json:"status"` // starting|processing|succeeded|failed|canceled
	Output []string `json:"output,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Terminal reports whether the prediction has reached a terminal status.
func (p *ImagePrediction) Terminal() bool {
	switch p.Status {
	case "succeeded", "failed", "canceled":
		return true
	default:
		return false
	}
}

// MusicRequest is a normalized music-generation request (spec §6 /music).
type MusicRequest struct {
	Prompt   string
	Model    string
	Duration int // seconds
}

// MusicResult is the normalized ElevenLabs music generation result.
type MusicResult struct {
	GenerationID string `json:"generation_id"`
	Status       string `json:"status"`
	AudioURL     string `json:"audio_url,omitempty"`
	AudioBase64  string `json:"audio_base64,omitempty"`
}

// VoiceRequest is a normalized TTS request (spec §6 /voice).
type VoiceRequest struct {
	Text    string
	Voice   string
	Model   string
	Stream  bool
}

// VoiceResult is a non-streaming TTS result: raw audio bytes plus content type.
type VoiceResult struct {
	Audio       []byte
	ContentType string
}

// RealtimeSession is an ephemeral realtime session descriptor (spec §6 /ephemeral).
type RealtimeSession struct {
	ClientSecret string `json:"client_secret"`
	ExpiresAt    int64  `json:"expires_at"`
	Model        string `json:"model"`
}
