package gateway

import "time"

// AgentCapabilities is an allow/deny pair governing which capabilities an
// agent profile may invoke (spec §3, §9: "represent capability sets as
// (allow-set, deny-set) with a dedicated predicate").
type AgentCapabilities struct {
	Allow []string
	Deny  []string
}

// HasCapability reports whether capability is granted. Deny always wins;
// "*" in Allow grants anything not explicitly denied.
func HasCapability(c AgentCapabilities, capability string) bool {
	for _, d := range c.Deny {
		if d == capability {
			return false
		}
	}
	for _, a := range c.Allow {
		if a == "*" || a == capability {
			return true
		}
	}
	return false
}

// AgentLimits bounds an agent profile's resource consumption.
type AgentLimits struct {
	DailySpendUSD        float64
	RequestsPerHour      int
	RequestsPerDay       int
	MaxTokensPerRequest  int
	MaxConcurrentSession int
}

// AgentProfile configures one tower agent (spec §3, §4.9).
type AgentProfile struct {
	Name         string
	Secret       string // agent-key, compared constant-time
	IsAdmin      bool
	Capabilities AgentCapabilities
	Limits       AgentLimits
}

// AgentSpend is the in-memory, per-agent tracking record (spec §3, §4.9).
type AgentSpend struct {
	SpendToday     float64
	RequestsToday  int
	RequestsHour   int
	LastActive     time.Time
	HourlyReset    time.Time
	DailyReset     time.Time
}

// Remaining returns the daily spend remaining against cap (never negative).
func (s *AgentSpend) Remaining(dailyCapUSD float64) float64 {
	r := dailyCapUSD - s.SpendToday
	if r < 0 {
		return 0
	}
	return r
}

// AuditEntry is one tower request record kept in a fixed-capacity ring
// buffer, newest first (spec §3, §4.9).
type AuditEntry struct {
	ID         string
	Timestamp  time.Time
	Agent      string
	Capability string
	Summary    string
	CostUSD    float64
	DurationMs int64
	Success    bool
	Error      string
	SessionID  string
	Tokens     int
}
