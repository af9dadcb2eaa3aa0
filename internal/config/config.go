// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Database  DatabaseConfig            `yaml:"database"`
	Auth      AuthConfig                `yaml:"auth"`
	Session   SessionConfig             `yaml:"session"`
	Costs     CostConfig                `yaml:"costs"`
	Images    ImagesConfig              `yaml:"images"`
	Telemetry TelemetryConfig           `yaml:"telemetry"`
	Providers []ProviderEntry           `yaml:"providers"`
	Models    map[string]ChannelEntries `yaml:"models"`
	Tower     TowerConfig               `yaml:"tower"`
	Platforms map[string]PlatformEntry  `yaml:"platforms"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the durable SQLite store settings (usage log, users,
// hosted-image rows).
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds the operator credential and session-signing secret.
type AuthConfig struct {
	OperatorKey   string `yaml:"operator_key"`
	SigningSecret string `yaml:"signing_secret"`
}

// SessionConfig sizes the session store's hot in-memory cache. Session
// lifetime itself is fixed (session.TTL), not configurable.
type SessionConfig struct {
	MaxHotEntries int `yaml:"max_hot_entries"`
}

// CostConfig holds the daily/weekly/monthly spend ceilings (spec §4.4).
type CostConfig struct {
	DailyUSD   float64 `yaml:"daily_usd"`
	WeeklyUSD  float64 `yaml:"weekly_usd"`
	MonthlyUSD float64 `yaml:"monthly_usd"`
}

// ImagesConfig configures the hosted-image registry (spec §4.10).
type ImagesConfig struct {
	Enabled    bool          `yaml:"enabled"`
	BaseDir    string        `yaml:"base_dir"`
	URLPrefix  string        `yaml:"url_prefix"`
	MaxPerUser int           `yaml:"max_per_user"`
	MaxAge     time.Duration `yaml:"max_age"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// ProviderEntry is a provider definition in the config file: the default
// (server-owned) key a request falls back to when the caller supplies
// none of its own (spec §4.1's ProviderKey precedence).
type ProviderEntry struct {
	Name      string     `yaml:"name"`
	Type      string     `yaml:"type"` // "anthropic", "openai", "xai", "replicate", "elevenlabs"
	BaseURL   string     `yaml:"base_url"`
	APIKey    string     `yaml:"api_key"`
	MaxRPS    int        `yaml:"max_rps"`
	TimeoutMs int        `yaml:"timeout_ms"`
	Hosting   string     `yaml:"hosting"` // "", "azure", "vertex", "bedrock"
	Region    string     `yaml:"region"`  // cloud region for hosted variants
	Project   string     `yaml:"project"` // GCP project ID for Vertex AI
	Auth      *AuthEntry `yaml:"auth"`     // explicit auth; inferred from api_key when absent
}

// ResolvedType returns Type if set, otherwise falls back to Name (a
// provider entry named "anthropic" with no explicit type is assumed to be
// the Anthropic adapter).
func (p ProviderEntry) ResolvedType() string {
	if p.Type != "" {
		return p.Type
	}
	return p.Name
}

// AuthEntry configures provider authentication explicitly, overriding the
// inference ResolvedAuthType would otherwise apply.
type AuthEntry struct {
	Type   string `yaml:"type"`    // "api_key", "gcp_oauth", "aws_sigv4"
	APIKey string `yaml:"api_key"` // explicit key (overrides top-level api_key)
}

// TimeoutOrDefault returns TimeoutMs as a duration, or 30s when TimeoutMs <= 0.
func (p ProviderEntry) TimeoutOrDefault() time.Duration {
	if p.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// ResolvedAuthType returns the auth type, inferring from hosting when Auth
// is absent: "gcp_oauth" for vertex, "aws_sigv4" for bedrock, "api_key"
// otherwise.
func (p ProviderEntry) ResolvedAuthType() string {
	if p.Auth != nil && p.Auth.Type != "" {
		return p.Auth.Type
	}
	switch p.Hosting {
	case "vertex":
		return "gcp_oauth"
	case "bedrock":
		return "aws_sigv4"
	default:
		return "api_key"
	}
}

// ResolvedAPIKey returns the API key, preferring Auth.APIKey over the
// top-level APIKey.
func (p ProviderEntry) ResolvedAPIKey() string {
	if p.Auth != nil && p.Auth.APIKey != "" {
		return p.Auth.APIKey
	}
	return p.APIKey
}

// ChannelEntries maps a model kind ("chat", "image", "music", "voice",
// "realtime", or a caller-defined kind) to its (provider, model) target
// within one channel.
type ChannelEntries map[string]ModelRouteEntry

// ModelRouteEntry is one catalog entry in the config file.
type ModelRouteEntry struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// TowerConfig defines the tower agent sandbox's fixed agent roster
// (spec §4.9). There is no dynamic agent registration; agents are
// provisioned by redeploying with an updated config.
type TowerConfig struct {
	Agents []AgentEntry `yaml:"agents"`
}

// AgentEntry is one tower agent definition.
type AgentEntry struct {
	Name         string             `yaml:"name"`
	Secret       string             `yaml:"secret"`
	IsAdmin      bool               `yaml:"is_admin"`
	Capabilities AgentCapsEntry     `yaml:"capabilities"`
	Limits       AgentLimitsEntry   `yaml:"limits"`
}

// AgentCapsEntry configures the allow/deny capability lists.
type AgentCapsEntry struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// AgentLimitsEntry configures per-agent spend and rate ceilings.
type AgentLimitsEntry struct {
	DailySpendUSD        float64 `yaml:"daily_spend_usd"`
	RequestsPerHour      int     `yaml:"requests_per_hour"`
	RequestsPerDay       int     `yaml:"requests_per_day"`
	MaxTokensPerRequest  int     `yaml:"max_tokens_per_request"`
	MaxConcurrentSession int     `yaml:"max_concurrent_session"`
}

// PlatformEntry configures one trusted platform-identity issuer (e.g.
// Sign in with Apple), keyed by issuer URL in Config.Platforms.
type PlatformEntry struct {
	JWKSURL          string   `yaml:"jwks_url"`
	AllowedAudiences []string `yaml:"allowed_audiences"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} and ${VAR:-default} patterns with environment
// variable values, falling back to the literal default when the variable
// is unset.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		inner := string(match[2 : len(match)-1])
		name, def, hasDefault := inner, "", false
		if idx := indexDefault(inner); idx >= 0 {
			name, def, hasDefault = inner[:idx], inner[idx+3:], true
		}
		if val, ok := os.LookupEnv(name); ok {
			return []byte(val)
		}
		if hasDefault {
			return []byte(def)
		}
		return match
	})
}

// indexDefault finds the ":-" separator introducing a default value, or -1.
func indexDefault(s string) int {
	for i := 0; i+2 <= len(s); i++ {
		if s[i] == ':' && i+1 < len(s) && s[i+1] == '-' {
			return i
		}
	}
	return -1
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "gandalf.db",
		},
		Session: SessionConfig{
			MaxHotEntries: 10_000,
		},
		Costs: CostConfig{
			DailyUSD:   10,
			WeeklyUSD:  50,
			MonthlyUSD: 200,
		},
		Images: ImagesConfig{
			BaseDir:    "images",
			URLPrefix:  "/hosted",
			MaxPerUser: 100,
			MaxAge:     30 * 24 * time.Hour,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
