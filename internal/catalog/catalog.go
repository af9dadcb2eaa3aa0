// Package catalog implements the model resolver (C2): a static table
// mapping (channel, kind) to a concrete (provider, model) pair, with
// fallback to the "stable" channel.
//
// Grounded on the teacher's internal/app/router.go caching shape, but
// restructured: the teacher resolved routes from a database behind a TTL
// cache; this catalog is a read-mostly immutable map loaded once at
// startup, since the spec's catalog has no per-tenant routing concept.
package catalog

import (
	"sync"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

// Catalog resolves a (channel, kind) pair to a provider/model. It is loaded
// once at startup and is safe for concurrent read access; Reload replaces
// the table wholesale under a write lock (exposed for hot-reload, but
// unused in steady-state operation per spec §4.5).
type Catalog struct {
	mu    sync.RWMutex
	table map[gateway.Channel]map[gateway.ModelKind]gateway.ModelConfig
}

// New builds a Catalog from a nested map of channel -> kind -> ModelConfig.
func New(table map[gateway.Channel]map[gateway.ModelKind]gateway.ModelConfig) *Catalog {
	if table == nil {
		table = map[gateway.Channel]map[gateway.ModelKind]gateway.ModelConfig{}
	}
	return &Catalog{table: table}
}

// Resolve returns the ModelConfig for (channel, kind), falling back to the
// stable channel when the requested channel has no entry for kind (spec §4.5).
func (c *Catalog) Resolve(kind gateway.ModelKind, channel gateway.Channel) (gateway.ModelConfig, error) {
	if channel == "" {
		channel = gateway.StableChannel
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if col, ok := c.table[channel]; ok {
		if cfg, ok := col[kind]; ok {
			return cfg, nil
		}
	}
	if channel != gateway.StableChannel {
		if col, ok := c.table[gateway.StableChannel]; ok {
			if cfg, ok := col[kind]; ok {
				return cfg, nil
			}
		}
	}
	return gateway.ModelConfig{}, gateway.ErrKindNotFound
}

// Models returns a flat, de-duplicated listing of every model configured
// across all channels, for the /v1/models endpoint.
func (c *Catalog) Models() []gateway.ModelConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[gateway.ModelConfig]struct{})
	var out []gateway.ModelConfig
	for _, col := range c.table {
		for _, cfg := range col {
			if _, ok := seen[cfg]; ok {
				continue
			}
			seen[cfg] = struct{}{}
			out = append(out, cfg)
		}
	}
	return out
}

// Reload atomically replaces the catalog table. Exposed for hot-reload but
// not invoked in steady-state operation (spec §4.5).
func (c *Catalog) Reload(table map[gateway.Channel]map[gateway.ModelKind]gateway.ModelConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table = table
}
