package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  addr: ":9090"
  read_timeout: 10s
database:
  dsn: ":memory:"
auth:
  operator_key: op-key-1
  signing_secret: sign-secret-1
providers:
  - name: anthropic
    base_url: https://api.anthropic.com
    api_key: sk-test
models:
  stable:
    chat:
      provider: anthropic
      model: claude-3-5-sonnet
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Database.DSN != ":memory:" {
		t.Errorf("dsn = %q, want %q", cfg.Database.DSN, ":memory:")
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Name != "anthropic" {
		t.Fatalf("providers = %+v, want one entry named anthropic", cfg.Providers)
	}
	route, ok := cfg.Models["stable"]["chat"]
	if !ok || route.Provider != "anthropic" || route.Model != "claude-3-5-sonnet" {
		t.Errorf("models.stable.chat = %+v, want anthropic/claude-3-5-sonnet", route)
	}
}

func TestExpandEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv.
	t.Setenv("TEST_API_KEY", "sk-secret-123")

	result := expandEnv([]byte("key: ${TEST_API_KEY}"))
	if string(result) != "key: sk-secret-123" {
		t.Errorf("expandEnv = %q, want %q", string(result), "key: sk-secret-123")
	}

	withDefault := expandEnv([]byte("key: ${MISSING_VAR:-fallback}"))
	if string(withDefault) != "key: fallback" {
		t.Errorf("expandEnv default = %q, want %q", string(withDefault), "key: fallback")
	}

	unsetNoDefault := expandEnv([]byte("key: ${MISSING_VAR}"))
	if string(unsetNoDefault) != "key: ${MISSING_VAR}" {
		t.Errorf("expandEnv unset = %q, want literal passthrough", string(unsetNoDefault))
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Database.DSN != "gandalf.db" {
		t.Errorf("default dsn = %q, want %q", cfg.Database.DSN, "gandalf.db")
	}
	if cfg.Costs.DailyUSD != 10 || cfg.Costs.WeeklyUSD != 50 || cfg.Costs.MonthlyUSD != 200 {
		t.Errorf("default costs = %+v, want 10/50/200", cfg.Costs)
	}
	if cfg.Session.MaxHotEntries != 10_000 {
		t.Errorf("default max_hot_entries = %d, want 10000", cfg.Session.MaxHotEntries)
	}
}

func TestProviderResolvedAuthType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		p    ProviderEntry
		want string
	}{
		{"default", ProviderEntry{}, "api_key"},
		{"vertex infers gcp_oauth", ProviderEntry{Hosting: "vertex"}, "gcp_oauth"},
		{"bedrock infers aws_sigv4", ProviderEntry{Hosting: "bedrock"}, "aws_sigv4"},
		{"explicit override wins", ProviderEntry{Hosting: "vertex", Auth: &AuthEntry{Type: "api_key"}}, "api_key"},
	}
	for _, tc := range cases {
		if got := tc.p.ResolvedAuthType(); got != tc.want {
			t.Errorf("%s: ResolvedAuthType() = %q, want %q", tc.name, got, tc.want)
		}
	}
}
