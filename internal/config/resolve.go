package config

import (
	"fmt"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/auth"
	"github.com/wayfarerhq/gandalf/internal/catalog"
	"github.com/wayfarerhq/gandalf/internal/costcap"
)

// BuildCatalog converts the Models section into a catalog.Catalog. An
// unknown channel name is accepted as-is (gateway.Channel is just a
// string); "stable" must be present or Resolve's fallback never succeeds.
func (c *Config) BuildCatalog() *catalog.Catalog {
	table := make(map[gateway.Channel]map[gateway.ModelKind]gateway.ModelConfig, len(c.Models))
	for channel, kinds := range c.Models {
		entries := make(map[gateway.ModelKind]gateway.ModelConfig, len(kinds))
		for kind, route := range kinds {
			entries[gateway.ModelKind(kind)] = gateway.ModelConfig{Provider: route.Provider, Model: route.Model}
		}
		table[gateway.Channel(channel)] = entries
	}
	return catalog.New(table)
}

// BuildCeilings converts the Costs section into a costcap.Ceilings value.
func (c *Config) BuildCeilings() costcap.Ceilings {
	return costcap.Ceilings{
		DailyUSD:   c.Costs.DailyUSD,
		WeeklyUSD:  c.Costs.WeeklyUSD,
		MonthlyUSD: c.Costs.MonthlyUSD,
	}
}

// BuildTowerProfiles converts the Tower section into the agent-profile map
// tower.New expects, keyed by agent name.
func (c *Config) BuildTowerProfiles() map[string]gateway.AgentProfile {
	profiles := make(map[string]gateway.AgentProfile, len(c.Tower.Agents))
	for _, a := range c.Tower.Agents {
		profiles[a.Name] = gateway.AgentProfile{
			Name:    a.Name,
			Secret:  a.Secret,
			IsAdmin: a.IsAdmin,
			Capabilities: gateway.AgentCapabilities{
				Allow: a.Capabilities.Allow,
				Deny:  a.Capabilities.Deny,
			},
			Limits: gateway.AgentLimits{
				DailySpendUSD:        a.Limits.DailySpendUSD,
				RequestsPerHour:      a.Limits.RequestsPerHour,
				RequestsPerDay:       a.Limits.RequestsPerDay,
				MaxTokensPerRequest:  a.Limits.MaxTokensPerRequest,
				MaxConcurrentSession: a.Limits.MaxConcurrentSession,
			},
		}
	}
	return profiles
}

// BuildPlatformIssuers converts the Platforms section into the issuer map
// auth.New expects, keyed by issuer URL.
func (c *Config) BuildPlatformIssuers() map[string]auth.PlatformIssuer {
	if len(c.Platforms) == 0 {
		return nil
	}
	issuers := make(map[string]auth.PlatformIssuer, len(c.Platforms))
	for issuer, p := range c.Platforms {
		issuers[issuer] = auth.PlatformIssuer{JWKSURL: p.JWKSURL, AllowedAudiences: p.AllowedAudiences}
	}
	return issuers
}

// DefaultProviderKeys returns the map of provider name to server-owned API
// key, used as app.NewPipeline's defaultKeys fallback for callers who
// supply none of their own (spec §4.1).
func (c *Config) DefaultProviderKeys() map[string]string {
	keys := make(map[string]string, len(c.Providers))
	for _, p := range c.Providers {
		if key := p.ResolvedAPIKey(); key != "" {
			keys[p.Name] = key
		}
	}
	return keys
}

// Validate checks the minimal set of fields the gateway cannot start
// without: an operator key, a signing secret, and at least one route (of
// any kind) in the stable channel.
func (c *Config) Validate() error {
	if c.Auth.OperatorKey == "" {
		return fmt.Errorf("config: auth.operator_key is required")
	}
	if c.Auth.SigningSecret == "" {
		return fmt.Errorf("config: auth.signing_secret is required")
	}
	stable, ok := c.Models["stable"]
	if !ok || len(stable) == 0 {
		return fmt.Errorf("config: models.stable must define at least one route")
	}
	return nil
}
