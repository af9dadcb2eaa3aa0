package testutil

import (
	"context"
	"io"
	"strings"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

// FakeFullProvider is a configurable gateway.Provider that also implements
// the narrower Image/Music/Voice/Realtime interfaces, for exercising the
// server package's forward endpoints without a real upstream.
type FakeFullProvider struct {
	ProviderName string

	ChatFn   func(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error)
	StreamFn func(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error)
	HealthFn func(ctx context.Context) error

	CreateImageFn func(ctx context.Context, req *gateway.ImageRequest) (*gateway.ImagePrediction, error)
	GetImageFn    func(ctx context.Context, predictionID string) (*gateway.ImagePrediction, error)

	CreateMusicFn func(ctx context.Context, req *gateway.MusicRequest) (*gateway.MusicResult, error)

	SynthesizeFn       func(ctx context.Context, req *gateway.VoiceRequest) (*gateway.VoiceResult, error)
	SynthesizeStreamFn func(ctx context.Context, req *gateway.VoiceRequest) (io.ReadCloser, error)

	CreateEphemeralSessionFn func(ctx context.Context, model string) (*gateway.RealtimeSession, error)
}

func (f *FakeFullProvider) Name() string { return f.ProviderName }

func (f *FakeFullProvider) ChatCompletion(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	if f.ChatFn != nil {
		return f.ChatFn(ctx, req)
	}
	return &gateway.ChatResponse{
		ID:      "chatcmpl-fake",
		Object:  "chat.completion",
		Model:   req.Model,
		Choices: []gateway.Choice{{Message: gateway.Message{Role: "assistant", Content: []byte(`"hi"`)}, FinishReason: "stop"}},
		Usage:   &gateway.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}, nil
}

func (f *FakeFullProvider) ChatCompletionStream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	if f.StreamFn != nil {
		return f.StreamFn(ctx, req)
	}
	return FakeStreamChan(gateway.StreamChunk{Data: []byte(`{"delta":"hi"}`)}), nil
}

func (f *FakeFullProvider) HealthCheck(ctx context.Context) error {
	if f.HealthFn != nil {
		return f.HealthFn(ctx)
	}
	return nil
}

func (f *FakeFullProvider) CreateImage(ctx context.Context, req *gateway.ImageRequest) (*gateway.ImagePrediction, error) {
	if f.CreateImageFn != nil {
		return f.CreateImageFn(ctx, req)
	}
	return &gateway.ImagePrediction{ID: "pred-fake", Status: "succeeded", Output: []string{"https://upstream.example/out.png"}}, nil
}

func (f *FakeFullProvider) GetImage(ctx context.Context, predictionID string) (*gateway.ImagePrediction, error) {
	if f.GetImageFn != nil {
		return f.GetImageFn(ctx, predictionID)
	}
	return &gateway.ImagePrediction{ID: predictionID, Status: "succeeded", Output: []string{"https://upstream.example/out.png"}}, nil
}

func (f *FakeFullProvider) CreateMusic(ctx context.Context, req *gateway.MusicRequest) (*gateway.MusicResult, error) {
	if f.CreateMusicFn != nil {
		return f.CreateMusicFn(ctx, req)
	}
	return &gateway.MusicResult{GenerationID: "gen-fake", Status: "succeeded", AudioURL: "https://upstream.example/out.mp3"}, nil
}

func (f *FakeFullProvider) Synthesize(ctx context.Context, req *gateway.VoiceRequest) (*gateway.VoiceResult, error) {
	if f.SynthesizeFn != nil {
		return f.SynthesizeFn(ctx, req)
	}
	return &gateway.VoiceResult{Audio: []byte("fake-audio"), ContentType: "audio/mpeg"}, nil
}

func (f *FakeFullProvider) SynthesizeStream(ctx context.Context, req *gateway.VoiceRequest) (io.ReadCloser, error) {
	if f.SynthesizeStreamFn != nil {
		return f.SynthesizeStreamFn(ctx, req)
	}
	return io.NopCloser(strings.NewReader("fake-audio-stream")), nil
}

func (f *FakeFullProvider) CreateEphemeralSession(ctx context.Context, model string) (*gateway.RealtimeSession, error) {
	if f.CreateEphemeralSessionFn != nil {
		return f.CreateEphemeralSessionFn(ctx, model)
	}
	return &gateway.RealtimeSession{ClientSecret: "secret-fake", ExpiresAt: 1700000000, Model: model}, nil
}
