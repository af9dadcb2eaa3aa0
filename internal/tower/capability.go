package tower

import (
	"context"
	"encoding/json"
	"fmt"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

// stubCapabilities are accepted by capability checks but return a
// not_implemented envelope without incurring cost (spec §4.9 step 5).
var stubCapabilities = map[string]bool{
	"claude_code": true,
	"image_gen":   true,
	"web_search":  true,
	"web_fetch":   true,
	"file_read":   true,
	"file_write":  true,
}

// claudeAPIPayload is the expected POST body shape for the claude_api
// capability: a chat completion request addressed to the gateway's
// configured Anthropic model.
type claudeAPIPayload struct {
	Messages  []gateway.Message `json:"messages"`
	MaxTokens *int              `json:"max_tokens,omitempty"`
}

// invoke runs the capability handler for req and returns the handler's
// result along with the cost (USD) and token count to record. A stub
// capability returns zero cost and zero tokens.
func (s *Sandbox) invoke(ctx context.Context, profile gateway.AgentProfile, req Request) (Result, float64, int, error) {
	if stubCapabilities[req.Capability] {
		return s.invokeStub(req)
	}
	if req.Capability == "claude_api" {
		return s.invokeClaudeAPI(ctx, profile, req)
	}
	return Result{}, 0, 0, fmt.Errorf("%w: capability %q", gateway.ErrCapabilityDenied, req.Capability)
}

func (s *Sandbox) invokeStub(req Request) (Result, float64, int, error) {
	body, _ := json.Marshal(map[string]string{"capability": req.Capability})
	return Result{Status: "not_implemented", Result: body}, 0, 0, nil
}

func (s *Sandbox) invokeClaudeAPI(ctx context.Context, profile gateway.AgentProfile, req Request) (Result, float64, int, error) {
	var payload claudeAPIPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return Result{}, 0, 0, fmt.Errorf("%w: %w", gateway.ErrValidationFailed, err)
	}
	if len(payload.Messages) == 0 {
		return Result{}, 0, 0, fmt.Errorf("%w: messages required", gateway.ErrValidationFailed)
	}

	cfg, err := s.catalog.Resolve(gateway.ModelKind("chat"), gateway.StableChannel)
	if err != nil {
		return Result{}, 0, 0, err
	}
	prov, err := s.providers.Get(cfg.Provider)
	if err != nil {
		return Result{}, 0, 0, fmt.Errorf("%w: %w", gateway.ErrProviderError, err)
	}

	chatReq := &gateway.ChatRequest{
		Model:     cfg.Model,
		Messages:  payload.Messages,
		MaxTokens: payload.MaxTokens,
	}
	if profile.Limits.MaxTokensPerRequest > 0 {
		capped := profile.Limits.MaxTokensPerRequest
		if chatReq.MaxTokens == nil || *chatReq.MaxTokens > capped {
			chatReq.MaxTokens = &capped
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()
	resp, err := prov.ChatCompletion(callCtx, chatReq)
	if err != nil {
		return Result{}, 0, 0, fmt.Errorf("%w: %w", gateway.ErrProviderError, err)
	}

	tokens := 0
	var costUSD float64
	if resp.Usage != nil {
		tokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
		costUSD = float64(s.pricing.ChatCost(cfg.Provider, cfg.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)) / 100
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return Result{}, 0, 0, fmt.Errorf("%w: %w", gateway.ErrInternal, err)
	}
	return Result{Status: "ok", Result: body, TokensUsed: tokens, CostEstimate: costUSD}, costUSD, tokens, nil
}
