// Package app implements the request pipeline (C10): validate (at the
// server layer) → resolve model → select provider key → dispatch to
// adapter → compute cost → log usage → respond. Single-target dispatch
// only: server-side provider failover is explicitly out of scope, so a
// circuit-breaker trip or provider error is returned to the caller
// immediately rather than retried against an alternate provider.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/catalog"
	"github.com/wayfarerhq/gandalf/internal/circuitbreaker"
	"github.com/wayfarerhq/gandalf/internal/gatewayid"
	"github.com/wayfarerhq/gandalf/internal/pricing"
	"github.com/wayfarerhq/gandalf/internal/provider"
	"github.com/wayfarerhq/gandalf/internal/tokencount"
)

// Default model kinds used when a request body omits "kind" (spec §6).
const (
	DefaultChatKind     gateway.ModelKind = "chat"
	DefaultImageKind    gateway.ModelKind = "image"
	DefaultMusicKind    gateway.ModelKind = "music"
	DefaultVoiceKind    gateway.ModelKind = "voice"
	DefaultRealtimeKind gateway.ModelKind = "realtime"
)

// Per-adapter timeouts (spec §4.7).
const (
	chatTimeout  = 30 * time.Second
	imageTimeout = 120 * time.Second
)

// UsageLogger records one entry per completed request (C4). Log must not
// block the response path; implementations buffer and flush asynchronously.
type UsageLogger interface {
	Log(entry gateway.UsageLogEntry)
}

// Pipeline wires together the model resolver, provider registry, pricing
// table, usage logger and circuit breakers into the normalized request
// flow shared by every forward endpoint.
type Pipeline struct {
	catalog     *catalog.Catalog
	providers   *provider.Registry
	pricing     *pricing.Table
	usage       UsageLogger
	breakers    *circuitbreaker.Registry // nil disables circuit breaking
	tracer      trace.Tracer             // nil disables tracing
	defaultKeys map[string]string        // provider name -> server-default key
	tokens      *tokencount.Counter      // coarse-tokenizer fallback when a provider omits usage
}

// NewPipeline returns a Pipeline wired to the given components. Pass a nil
// breakers registry to disable circuit breaking, and a nil tracer to
// disable tracing.
func NewPipeline(cat *catalog.Catalog, providers *provider.Registry, priceTable *pricing.Table, usage UsageLogger, breakers *circuitbreaker.Registry, tracer trace.Tracer, defaultKeys map[string]string) *Pipeline {
	if defaultKeys == nil {
		defaultKeys = map[string]string{}
	}
	return &Pipeline{
		catalog:     cat,
		providers:   providers,
		pricing:     priceTable,
		usage:       usage,
		breakers:    breakers,
		tracer:      tracer,
		defaultKeys: defaultKeys,
		tokens:      tokencount.NewCounter(),
	}
}

// ChatCompletion resolves kind, dispatches to the adapter, and logs usage.
func (p *Pipeline) ChatCompletion(ctx context.Context, kind gateway.ModelKind, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	principal := gateway.PrincipalFromContext(ctx)
	cfg, key, prov, err := p.dispatchPrep(principal, kind)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()
	callCtx = provider.WithAPIKey(callCtx, key)
	if p.tracer != nil {
		var span trace.Span
		callCtx, span = p.tracer.Start(callCtx, "pipeline.ChatCompletion",
			trace.WithAttributes(attribute.String("provider", cfg.Provider), attribute.String("model", cfg.Model)))
		defer span.End()
	}

	req.Model = cfg.Model
	start := time.Now()
	resp, callErr := prov.ChatCompletion(callCtx, req)

	entry := p.baseEntry(principal, "/chat", "POST", cfg, start)
	if callErr != nil {
		p.recordError(cfg.Provider, callErr)
		p.failEntry(&entry, callErr)
		p.logUsage(entry)
		return nil, classifyProviderErr(callErr)
	}
	p.recordSuccess(cfg.Provider)
	entry.StatusCode = 200
	inTok, outTok := p.chatTokens(req, resp)
	entry.InputTokens = inTok
	entry.OutputTokens = outTok
	entry.EstimatedCostCents = p.pricing.ChatCost(cfg.Provider, cfg.Model, inTok, outTok)
	p.logUsage(entry)
	return resp, nil
}

// chatTokens returns the token counts to bill for a completed chat request:
// the adapter's own usage block when present, otherwise the coarse
// ~4-chars/token estimate over the request messages and response choices
// (spec §4.6 step 5 -- a provider that omits usage must not bill as free).
func (p *Pipeline) chatTokens(req *gateway.ChatRequest, resp *gateway.ChatResponse) (int, int) {
	if resp.Usage != nil {
		return resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	return p.tokens.EstimateRequest(req.Model, req.Messages), p.estimateChoices(req.Model, resp.Choices)
}

func (p *Pipeline) estimateChoices(model string, choices []gateway.Choice) int {
	total := 0
	for _, c := range choices {
		total += p.tokens.CountText(model, string(c.Message.Content))
	}
	return total
}

// ChatCompletionStream resolves kind and relays the adapter's stream to the
// caller, logging usage exactly once when the stream finishes (spec §4.6:
// "MUST log exactly once per request, even when multiple response
// finalizers fire").
func (p *Pipeline) ChatCompletionStream(ctx context.Context, kind gateway.ModelKind, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	principal := gateway.PrincipalFromContext(ctx)
	cfg, key, prov, err := p.dispatchPrep(principal, kind)
	if err != nil {
		return nil, err
	}

	callCtx := provider.WithAPIKey(ctx, key)
	req.Model = cfg.Model
	start := time.Now()
	upstream, callErr := prov.ChatCompletionStream(callCtx, req)
	if callErr != nil {
		p.recordError(cfg.Provider, callErr)
		entry := p.baseEntry(principal, "/chat", "POST", cfg, start)
		p.failEntry(&entry, callErr)
		p.logUsage(entry)
		return nil, classifyProviderErr(callErr)
	}

	out := make(chan gateway.StreamChunk, 8)
	go p.relayChatStream(principal, cfg, req, start, upstream, out)
	return out, nil
}

// relayChatStream forwards upstream chunks to out and logs usage once,
// whether the stream ends with a Done sentinel, an error chunk, or the
// upstream channel simply closing.
func (p *Pipeline) relayChatStream(principal *gateway.Principal, cfg gateway.ModelConfig, req *gateway.ChatRequest, start time.Time, upstream <-chan gateway.StreamChunk, out chan<- gateway.StreamChunk) {
	defer close(out)

	var logged int32
	var lastUsage *gateway.Usage
	var outputBytes int
	finish := func(streamErr error) {
		if !atomic.CompareAndSwapInt32(&logged, 0, 1) {
			return
		}
		entry := p.baseEntry(principal, "/chat", "POST", cfg, start)
		if streamErr != nil {
			p.recordError(cfg.Provider, streamErr)
			p.failEntry(&entry, streamErr)
		} else {
			p.recordSuccess(cfg.Provider)
			entry.StatusCode = 200
			inTok, outTok := p.streamTokens(req, lastUsage, outputBytes)
			entry.InputTokens = inTok
			entry.OutputTokens = outTok
			entry.EstimatedCostCents = p.pricing.ChatCost(cfg.Provider, cfg.Model, inTok, outTok)
		}
		p.logUsage(entry)
	}

	for chunk := range upstream {
		if chunk.Usage != nil {
			lastUsage = chunk.Usage
		}
		outputBytes += len(chunk.Data)
		out <- chunk
		if chunk.Err != nil {
			finish(chunk.Err)
			return
		}
		if chunk.Done {
			finish(nil)
			return
		}
	}
	finish(nil)
}

// streamTokens mirrors chatTokens for the streaming path: the adapter's
// final usage chunk when one arrived, otherwise the coarse estimate over
// the request messages and the accumulated raw SSE byte count standing in
// for response text (spec §4.6 step 5).
func (p *Pipeline) streamTokens(req *gateway.ChatRequest, lastUsage *gateway.Usage, outputBytes int) (int, int) {
	if lastUsage != nil {
		return lastUsage.PromptTokens, lastUsage.CompletionTokens
	}
	return p.tokens.EstimateRequest(req.Model, req.Messages), p.tokens.CountBytes(outputBytes)
}

// CreateImage resolves kind, dispatches to the image adapter, and logs usage.
func (p *Pipeline) CreateImage(ctx context.Context, kind gateway.ModelKind, req *gateway.ImageRequest) (*gateway.ImagePrediction, error) {
	principal := gateway.PrincipalFromContext(ctx)
	cfg, key, prov, err := p.dispatchPrep(principal, kind)
	if err != nil {
		return nil, err
	}
	imgProv, ok := prov.(gateway.ImageProvider)
	if !ok {
		return nil, fmt.Errorf("%w: provider %q does not support image generation", gateway.ErrProviderError, cfg.Provider)
	}

	callCtx, cancel := context.WithTimeout(ctx, imageTimeout)
	defer cancel()
	callCtx = provider.WithAPIKey(callCtx, key)
	req.Model = cfg.Model

	start := time.Now()
	pred, callErr := imgProv.CreateImage(callCtx, req)

	entry := p.baseEntry(principal, "/images", "POST", cfg, start)
	if callErr != nil {
		p.recordError(cfg.Provider, callErr)
		p.failEntry(&entry, callErr)
		p.logUsage(entry)
		return nil, classifyProviderErr(callErr)
	}
	p.recordSuccess(cfg.Provider)
	entry.StatusCode = 200
	if pred.Status == "succeeded" {
		entry.EstimatedCostCents = p.pricing.ImageCost(cfg.Provider, cfg.Model, len(pred.Output))
	}
	p.logUsage(entry)
	return pred, nil
}

// GetImage fetches a prediction snapshot for an earlier CreateImage call.
// Not a billable event; no usage entry is logged.
func (p *Pipeline) GetImage(ctx context.Context, kind gateway.ModelKind, predictionID string) (*gateway.ImagePrediction, error) {
	principal := gateway.PrincipalFromContext(ctx)
	cfg, key, prov, err := p.dispatchPrep(principal, kind)
	if err != nil {
		return nil, err
	}
	imgProv, ok := prov.(gateway.ImageProvider)
	if !ok {
		return nil, fmt.Errorf("%w: provider %q does not support image generation", gateway.ErrProviderError, cfg.Provider)
	}
	callCtx := provider.WithAPIKey(ctx, key)
	pred, err := imgProv.GetImage(callCtx, predictionID)
	if err != nil {
		return nil, classifyProviderErr(err)
	}
	return pred, nil
}

// CreateMusic resolves kind, dispatches to the music adapter, and logs usage.
func (p *Pipeline) CreateMusic(ctx context.Context, kind gateway.ModelKind, req *gateway.MusicRequest) (*gateway.MusicResult, error) {
	principal := gateway.PrincipalFromContext(ctx)
	cfg, key, prov, err := p.dispatchPrep(principal, kind)
	if err != nil {
		return nil, err
	}
	musicProv, ok := prov.(gateway.MusicProvider)
	if !ok {
		return nil, fmt.Errorf("%w: provider %q does not support music generation", gateway.ErrProviderError, cfg.Provider)
	}

	callCtx := provider.WithAPIKey(ctx, key)
	req.Model = cfg.Model

	start := time.Now()
	res, callErr := musicProv.CreateMusic(callCtx, req)

	entry := p.baseEntry(principal, "/music", "POST", cfg, start)
	if callErr != nil {
		p.recordError(cfg.Provider, callErr)
		p.failEntry(&entry, callErr)
		p.logUsage(entry)
		return nil, classifyProviderErr(callErr)
	}
	p.recordSuccess(cfg.Provider)
	entry.StatusCode = 200
	entry.EstimatedCostCents = p.pricing.AudioCost(cfg.Provider, cfg.Model, req.Duration)
	p.logUsage(entry)
	return res, nil
}

// Synthesize resolves kind, dispatches to the voice adapter for a
// non-streaming TTS request, and logs usage.
func (p *Pipeline) Synthesize(ctx context.Context, kind gateway.ModelKind, req *gateway.VoiceRequest) (*gateway.VoiceResult, error) {
	principal := gateway.PrincipalFromContext(ctx)
	cfg, key, prov, err := p.dispatchPrep(principal, kind)
	if err != nil {
		return nil, err
	}
	voiceProv, ok := prov.(gateway.VoiceProvider)
	if !ok {
		return nil, fmt.Errorf("%w: provider %q does not support voice synthesis", gateway.ErrProviderError, cfg.Provider)
	}

	callCtx := provider.WithAPIKey(ctx, key)
	req.Model = cfg.Model

	start := time.Now()
	res, callErr := voiceProv.Synthesize(callCtx, req)

	entry := p.baseEntry(principal, "/voice", "POST", cfg, start)
	if callErr != nil {
		p.recordError(cfg.Provider, callErr)
		p.failEntry(&entry, callErr)
		p.logUsage(entry)
		return nil, classifyProviderErr(callErr)
	}
	p.recordSuccess(cfg.Provider)
	entry.StatusCode = 200
	entry.EstimatedCostCents = p.pricing.CharacterCost(cfg.Provider, cfg.Model, len(req.Text))
	p.logUsage(entry)
	return res, nil
}

// loggingReadCloser defers one usage-log write to Close, matching spec
// §4.6's "usage is logged on stream finish" for streaming voice.
type loggingReadCloser struct {
	io.ReadCloser
	once   sync.Once
	finish func()
}

func (l *loggingReadCloser) Close() error {
	err := l.ReadCloser.Close()
	l.once.Do(l.finish)
	return err
}

// SynthesizeStream resolves kind and dispatches to the voice adapter's
// streaming TTS call. The returned ReadCloser pipes provider bytes
// directly to the caller; usage is logged once Close is called.
func (p *Pipeline) SynthesizeStream(ctx context.Context, kind gateway.ModelKind, req *gateway.VoiceRequest) (io.ReadCloser, error) {
	principal := gateway.PrincipalFromContext(ctx)
	cfg, key, prov, err := p.dispatchPrep(principal, kind)
	if err != nil {
		return nil, err
	}
	voiceProv, ok := prov.(gateway.VoiceProvider)
	if !ok {
		return nil, fmt.Errorf("%w: provider %q does not support voice synthesis", gateway.ErrProviderError, cfg.Provider)
	}

	callCtx := provider.WithAPIKey(ctx, key)
	req.Model = cfg.Model

	start := time.Now()
	body, callErr := voiceProv.SynthesizeStream(callCtx, req)
	if callErr != nil {
		p.recordError(cfg.Provider, callErr)
		entry := p.baseEntry(principal, "/voice", "POST", cfg, start)
		p.failEntry(&entry, callErr)
		p.logUsage(entry)
		return nil, classifyProviderErr(callErr)
	}
	p.recordSuccess(cfg.Provider)

	cost := p.pricing.CharacterCost(cfg.Provider, cfg.Model, len(req.Text))
	return &loggingReadCloser{
		ReadCloser: body,
		finish: func() {
			entry := p.baseEntry(principal, "/voice", "POST", cfg, start)
			entry.StatusCode = 200
			entry.EstimatedCostCents = cost
			p.logUsage(entry)
		},
	}, nil
}

// CreateEphemeralSession resolves kind and mints a realtime client token.
func (p *Pipeline) CreateEphemeralSession(ctx context.Context, kind gateway.ModelKind) (*gateway.RealtimeSession, error) {
	principal := gateway.PrincipalFromContext(ctx)
	cfg, key, prov, err := p.dispatchPrep(principal, kind)
	if err != nil {
		return nil, err
	}
	rtProv, ok := prov.(gateway.RealtimeProvider)
	if !ok {
		return nil, fmt.Errorf("%w: provider %q does not support realtime sessions", gateway.ErrProviderError, cfg.Provider)
	}

	callCtx := provider.WithAPIKey(ctx, key)
	start := time.Now()
	sess, callErr := rtProv.CreateEphemeralSession(callCtx, cfg.Model)

	entry := p.baseEntry(principal, "/ephemeral", "GET", cfg, start)
	if callErr != nil {
		p.recordError(cfg.Provider, callErr)
		p.failEntry(&entry, callErr)
		p.logUsage(entry)
		return nil, classifyProviderErr(callErr)
	}
	p.recordSuccess(cfg.Provider)
	entry.StatusCode = 200
	p.logUsage(entry)
	return sess, nil
}

// dispatchPrep resolves kind, selects the provider key, checks the circuit
// breaker, and fetches the registered adapter -- the portion of the
// pipeline shared by every forward endpoint (spec §4.6 steps 2-4).
func (p *Pipeline) dispatchPrep(principal *gateway.Principal, kind gateway.ModelKind) (gateway.ModelConfig, string, gateway.Provider, error) {
	cfg, err := p.catalog.Resolve(kind, channelOf(principal))
	if err != nil {
		return gateway.ModelConfig{}, "", nil, err
	}
	key, err := p.selectKey(principal, cfg.Provider)
	if err != nil {
		return gateway.ModelConfig{}, "", nil, err
	}
	if !p.breakerAllows(cfg.Provider) {
		return gateway.ModelConfig{}, "", nil, fmt.Errorf("%w: circuit breaker open for %s", gateway.ErrProviderError, cfg.Provider)
	}
	prov, err := p.providers.Get(cfg.Provider)
	if err != nil {
		return gateway.ModelConfig{}, "", nil, fmt.Errorf("%w: %w", gateway.ErrProviderError, err)
	}
	return cfg, key, prov, nil
}

// selectKey returns the principal-attached override key for provider if
// present, else the server-default key (spec §4.1, §4.6 step 3).
func (p *Pipeline) selectKey(principal *gateway.Principal, providerName string) (string, error) {
	if principal != nil {
		if k, ok := principal.ProviderKey(providerName); ok && k != "" {
			return k, nil
		}
	}
	if k, ok := p.defaultKeys[providerName]; ok && k != "" {
		return k, nil
	}
	return "", gateway.ErrNoAPIKey
}

func (p *Pipeline) breakerAllows(providerName string) bool {
	if p.breakers == nil {
		return true
	}
	cb := p.breakers.Get(providerName)
	return cb == nil || cb.Allow()
}

func (p *Pipeline) recordSuccess(providerName string) {
	if p.breakers != nil {
		p.breakers.GetOrCreate(providerName).RecordSuccess()
	}
}

func (p *Pipeline) recordError(providerName string, err error) {
	if p.breakers != nil {
		if weight := circuitbreaker.ClassifyError(err); weight > 0 {
			p.breakers.GetOrCreate(providerName).RecordError(weight)
		}
	}
}

func (p *Pipeline) logUsage(entry gateway.UsageLogEntry) {
	if p.usage != nil {
		p.usage.Log(entry)
	}
}

// baseEntry builds the common fields of a usage-log entry for one dispatch.
func (p *Pipeline) baseEntry(principal *gateway.Principal, endpoint, method string, cfg gateway.ModelConfig, start time.Time) gateway.UsageLogEntry {
	entry := gateway.UsageLogEntry{
		ID:         gatewayid.New(),
		Timestamp:  start,
		Endpoint:   endpoint,
		Method:     method,
		Provider:   cfg.Provider,
		Model:      cfg.Model,
		DurationMs: time.Since(start).Milliseconds(),
	}
	entry.UserID = userIDOf(principal)
	return entry
}

// failEntry fills in the status and error fields of an entry after a
// failed dispatch.
func (p *Pipeline) failEntry(entry *gateway.UsageLogEntry, err error) {
	entry.StatusCode = statusFor(err)
	entry.Error = err.Error()
}

func channelOf(principal *gateway.Principal) gateway.Channel {
	if principal == nil || principal.Channel == "" {
		return gateway.StableChannel
	}
	return principal.Channel
}

func userIDOf(principal *gateway.Principal) string {
	if principal == nil {
		return ""
	}
	return principal.UserID
}

// httpStatusError is an interface for errors that carry an HTTP status code.
type httpStatusError interface {
	HTTPStatus() int
}

// statusFor returns the HTTP status to record in the usage log for a
// dispatch error: the upstream status when the adapter error carries one,
// 504 for a context deadline, 500 otherwise.
func statusFor(err error) int {
	var he httpStatusError
	if errors.As(err, &he) {
		return he.HTTPStatus()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return 504
	}
	return 500
}

// classifyProviderErr maps an adapter error onto the gateway's sentinel
// taxonomy (spec §7): a deadline exceeded becomes provider_timeout,
// everything else becomes provider_error (upstream non-2xx, the pipeline
// converts to 500 with the upstream status echoed in the error payload).
func classifyProviderErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", gateway.ErrProviderTimeout, err)
	}
	return fmt.Errorf("%w: %w", gateway.ErrProviderError, err)
}
