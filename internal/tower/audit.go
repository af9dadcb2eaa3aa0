package tower

import (
	"sync"
	"time"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

// auditCapacity bounds the ring buffer (spec §4.9: "cap 1000, newest-first").
const auditCapacity = 1000

// AuditLog is a fixed-capacity, newest-first ring buffer of tower
// invocations. Oldest entries are silently evicted once full (spec §5:
// "bounded; unshift + truncate under a short lock").
type AuditLog struct {
	mu      sync.Mutex
	entries []gateway.AuditEntry
	cap     int
}

// NewAuditLog returns an AuditLog bounded at capacity entries.
func NewAuditLog(capacity int) *AuditLog {
	if capacity <= 0 {
		capacity = auditCapacity
	}
	return &AuditLog{cap: capacity}
}

// Append inserts entry at the front, evicting the oldest entry if full.
func (a *AuditLog) Append(entry gateway.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append([]gateway.AuditEntry{entry}, a.entries...)
	if len(a.entries) > a.cap {
		a.entries = a.entries[:a.cap]
	}
}

// Filter selects entries matching agent (empty matches all) within
// [since, now], newest-first, capped at limit (0 means no cap).
func (a *AuditLog) Filter(agent string, since time.Time, limit int) []gateway.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []gateway.AuditEntry
	for _, e := range a.entries {
		if agent != "" && e.Agent != agent {
			continue
		}
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Summary aggregates request count, failure count, total cost, and total
// tokens for entries matching agent (empty matches all) since the cutoff.
type Summary struct {
	Requests int
	Failures int
	CostUSD  float64
	Tokens   int
}

// SummarySince computes a Summary over entries for agent (empty: all
// agents) no older than since -- backs the tower audit endpoint's
// one-hour and today-so-far aggregates.
func (a *AuditLog) SummarySince(agent string, since time.Time) Summary {
	var s Summary
	for _, e := range a.Filter(agent, since, 0) {
		s.Requests++
		if !e.Success {
			s.Failures++
		}
		s.CostUSD += e.CostUSD
		s.Tokens += e.Tokens
	}
	return s
}
