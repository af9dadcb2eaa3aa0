package provider

import (
	"context"
	"fmt"
	"net/http"
)

type ctxKeyAPIKey struct{}

// WithAPIKey attaches a per-request provider API key override to ctx. An
// AuthTransport consults this ahead of its configured default key, which is
// how the request pipeline implements "principal-attached key else
// server-default key" (spec §4.1, §4.6 step 3) without baking a single
// fixed credential into each adapter at construction time.
func WithAPIKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyAPIKey{}, key)
}

// APIKeyFromContext returns the override key attached by WithAPIKey, if any.
func APIKeyFromContext(ctx context.Context) (string, bool) {
	k, ok := ctx.Value(ctxKeyAPIKey{}).(string)
	return k, ok
}

// AuthTransport sets a single authentication header on every outbound
// request: the context's override key if present, else DefaultKey. Format,
// when non-empty, is a one-verb template the key is rendered into (e.g.
// "Bearer %s"); an empty Format uses the raw key as the header value.
type AuthTransport struct {
	Base       http.RoundTripper
	Header     string
	Format     string
	DefaultKey string
}

// RoundTrip implements http.RoundTripper.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	key := t.DefaultKey
	if k, ok := APIKeyFromContext(req.Context()); ok {
		key = k
	}
	value := key
	if t.Format != "" {
		value = fmt.Sprintf(t.Format, key)
	}

	req = req.Clone(req.Context())
	req.Header.Set(t.Header, value)

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
