package gateway

// PrincipalKind identifies how a request's caller was authenticated.
type PrincipalKind string

const (
	PrincipalApp          PrincipalKind = "app"
	PrincipalUser         PrincipalKind = "user"
	PrincipalPlatformUser PrincipalKind = "platform_user"
	PrincipalAnonymous    PrincipalKind = "anonymous"
	PrincipalAgent        PrincipalKind = "agent"
)

// Principal is the authenticated identity attached to a request's context.
type Principal struct {
	Kind   PrincipalKind
	UserID string // "app" for app-shared; stable subject for user/platform_user; "anonymous"; agent name for agent
	Email  string // platform-verified users only

	// Channel is the routing channel selected for this request
	// (model-channel header, default "stable").
	Channel Channel

	// ProviderKeys holds per-provider override keys supplied via
	// user-<provider>-key headers or attached to a session.
	ProviderKeys map[string]string
}

// ProviderKey looks up the override key for provider, returning ok=false
// when none was supplied.
func (p *Principal) ProviderKey(provider string) (string, bool) {
	if p == nil || p.ProviderKeys == nil {
		return "", false
	}
	k, ok := p.ProviderKeys[provider]
	return k, ok
}

// Channel is the coarse routing axis selecting one column of the model catalog.
type Channel string

// StableChannel is the always-present fallback channel.
const StableChannel Channel = "stable"

// ModelKind is the client-visible routing token, e.g. "chat.default".
type ModelKind string

// ModelConfig is a resolved (provider, model) pair.
type ModelConfig struct {
	Provider string
	Model    string
}
