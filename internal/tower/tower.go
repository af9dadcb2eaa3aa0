// Package tower implements the agent sandbox (C11): a capability-scoped
// parallel pipeline for automated callers bearing an agent-key, with
// allow/deny capability checks, per-agent hourly/daily request ceilings,
// a daily spend ceiling with soft-cap tolerance, and a bounded audit ring
// buffer (spec §4.9).
//
// Grounded on internal/ratelimit's fixed-window counter shape (generalized
// in spend.go to the three independently-reset counters an agent tracks)
// and internal/auth's constant-time secret comparison idiom (here compared
// against a set of per-agent secrets rather than one operator secret).
package tower

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/catalog"
	"github.com/wayfarerhq/gandalf/internal/gatewayid"
	"github.com/wayfarerhq/gandalf/internal/pricing"
	"github.com/wayfarerhq/gandalf/internal/provider"
)

// softCapFactor is the tolerance applied to the daily spend ceiling before
// an already-spending agent's request is rejected as over-budget (spec
// §4.9: "requests whose projected cost exceeds cap x 1.10").
const softCapFactor = 1.10

const chatTimeout = 30 * time.Second

// Request is one tower capability invocation (the POST /tower/request body).
type Request struct {
	Capability string
	Payload    []byte
	SessionID  string
}

// Result is the tower response envelope, also folded into the audit entry.
type Result struct {
	Status              string
	Result              []byte
	TokensUsed          int
	CostEstimate        float64
	DailySpendTotal     float64
	DailySpendRemaining float64
}

// Sandbox dispatches capability requests on behalf of registered agents.
type Sandbox struct {
	profiles  map[string]gateway.AgentProfile
	tracker   *Tracker
	audit     *AuditLog
	catalog   *catalog.Catalog
	providers *provider.Registry
	pricing   *pricing.Table
}

// New builds a Sandbox from a static set of agent profiles keyed by name.
func New(profiles map[string]gateway.AgentProfile, cat *catalog.Catalog, providers *provider.Registry, priceTable *pricing.Table) *Sandbox {
	if profiles == nil {
		profiles = map[string]gateway.AgentProfile{}
	}
	return &Sandbox{
		profiles:  profiles,
		tracker:   NewTracker(),
		audit:     NewAuditLog(0),
		catalog:   cat,
		providers: providers,
		pricing:   priceTable,
	}
}

// Authenticate compares key against every registered agent secret in
// constant time and returns the matching profile (spec §4.9: "agent-key
// header compared constant-time against per-agent secrets").
func (s *Sandbox) Authenticate(key string) (gateway.AgentProfile, bool) {
	if key == "" {
		return gateway.AgentProfile{}, false
	}
	var match gateway.AgentProfile
	found := false
	for _, p := range s.profiles {
		if subtle.ConstantTimeCompare([]byte(key), []byte(p.Secret)) == 1 {
			match, found = p, true
		}
	}
	return match, found
}

// Dispatch runs the full per-request lifecycle (spec §4.9 steps 2-7) for an
// already-authenticated agent: rate check, capability check, affordability
// check, handler dispatch, spend recording, and audit append.
func (s *Sandbox) Dispatch(ctx context.Context, profile gateway.AgentProfile, req Request) (Result, error) {
	now := time.Now()

	if !profile.IsAdmin {
		if rr := s.tracker.CheckRate(profile.Name, profile.Limits, now); !rr.Allowed {
			return Result{}, fmt.Errorf("%w: resetInSeconds=%d", gateway.ErrRateLimited, rr.ResetInSeconds)
		}
	}

	if !gateway.HasCapability(profile.Capabilities, req.Capability) {
		return Result{}, fmt.Errorf("%w: capability %q", gateway.ErrCapabilityDenied, req.Capability)
	}

	spend := s.tracker.Spend(profile.Name, now)
	if !profile.IsAdmin && profile.Limits.DailySpendUSD > 0 && spend.SpendToday >= profile.Limits.DailySpendUSD {
		return Result{}, gateway.ErrSpendCapExceeded
	}

	start := time.Now()
	res, costUSD, tokens, handlerErr := s.invoke(ctx, profile, Request{
		Capability: req.Capability,
		Payload:    req.Payload,
		SessionID:  req.SessionID,
	})
	duration := time.Since(start)

	// Soft-cap: a non-zero-spend agent whose *actual* cost for this
	// request alone (not added to SpendToday) exceeds cap x 1.10 has the
	// result rejected; the first request of the day is never gated by this
	// check.
	if handlerErr == nil && !profile.IsAdmin && profile.Limits.DailySpendUSD > 0 &&
		spend.SpendToday > 0 && costUSD > profile.Limits.DailySpendUSD*softCapFactor {
		handlerErr = gateway.ErrSpendCapExceeded
	}

	entry := gateway.AuditEntry{
		ID:         gatewayid.New(),
		Timestamp:  start,
		Agent:      profile.Name,
		Capability: req.Capability,
		DurationMs: duration.Milliseconds(),
		SessionID:  req.SessionID,
		Tokens:     tokens,
		CostUSD:    costUSD,
		Success:    handlerErr == nil,
	}
	if handlerErr != nil {
		entry.Error = handlerErr.Error()
		entry.Summary = fmt.Sprintf("%s: %v", req.Capability, handlerErr)
		s.audit.Append(entry)
		return Result{}, handlerErr
	}
	entry.Summary = fmt.Sprintf("%s ok", req.Capability)
	s.audit.Append(entry)

	total, remaining := s.tracker.RecordSpend(profile.Name, costUSD, profile.Limits.DailySpendUSD, now)
	res.DailySpendTotal = total
	res.DailySpendRemaining = remaining
	return res, nil
}

// StatusView is the per-agent snapshot returned by GET /tower/status.
type StatusView struct {
	Agent               string
	RequestsToday       int
	RequestsThisHour    int
	SpendToday          float64
	DailySpendRemaining float64
	LastActive          time.Time
}

// Status returns the current tracking snapshot for agent.
func (s *Sandbox) Status(profile gateway.AgentProfile) StatusView {
	spend := s.tracker.Spend(profile.Name, time.Now())
	return StatusView{
		Agent:               profile.Name,
		RequestsToday:       spend.RequestsToday,
		RequestsThisHour:    spend.RequestsHour,
		SpendToday:          spend.SpendToday,
		DailySpendRemaining: spend.Remaining(profile.Limits.DailySpendUSD),
		LastActive:          spend.LastActive,
	}
}

// AuditView is the response payload for GET /tower/audit: matching entries
// plus a one-hour summary and a today-so-far summary.
type AuditView struct {
	Entries  []gateway.AuditEntry
	LastHour Summary
	Today    Summary
}

// Audit returns entries for agent (admins may pass "" to see every agent's
// entries; non-admins are restricted by the caller to their own name
// before calling this), capped at limit (0 for no cap).
func (s *Sandbox) Audit(agent string, limit int) AuditView {
	now := time.Now()
	return AuditView{
		Entries:  s.audit.Filter(agent, time.Time{}, limit),
		LastHour: s.audit.SummarySince(agent, now.Add(-time.Hour)),
		Today:    s.audit.SummarySince(agent, dailyStart(now)),
	}
}

func dailyStart(now time.Time) time.Time {
	loc := now.Location()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}

// EvictIdle removes tracking records for agents idle longer than maxIdle
// (spec table: "AgentSpend ... idle > 7 days sweep").
func (s *Sandbox) EvictIdle(maxIdle time.Duration) int {
	return s.tracker.EvictIdle(time.Now(), maxIdle)
}
