package tower

import (
	"sync"
	"time"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

// RateResult reports the outcome of a CheckRate call.
type RateResult struct {
	Allowed        bool
	ResetInSeconds int64
}

// record is one agent's tracking state, mutated under its own lock so
// window rollover and counter updates form a single critical section
// (spec §5: "per-agent atomic update; window rollover reads wall clock,
// applied inside the same critical section").
type record struct {
	mu sync.Mutex
	gateway.AgentSpend
}

// Tracker holds one record per agent name. Grounded on
// internal/ratelimit.Registry's two-level locking shape (RWMutex over the
// map, a private mutex per entry), extended from one fixed window to the
// three independently-reset counters an agent profile tracks: hourly
// request count, daily request count, and daily spend.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*record
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]*record)}
}

func (t *Tracker) getOrCreate(agent string) *record {
	t.mu.RLock()
	r, ok := t.records[agent]
	t.mu.RUnlock()
	if ok {
		return r
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.records[agent]; ok {
		return r
	}
	r = &record{}
	t.records[agent] = r
	return r
}

// dailyReset returns the next midnight after now, in now's location --
// matching internal/costcap's day-window boundary so a tower agent's daily
// spend reset and the server-wide cost-cap reset agree.
func dailyReset(now time.Time) time.Time {
	loc := now.Location()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return start.Add(24 * time.Hour)
}

// CheckRate applies the spec §4.9 step 2 algorithm against an agent's
// hourly and daily request ceilings -- counters distinct from the C5
// per-principal rate limiter.
func (t *Tracker) CheckRate(agent string, limits gateway.AgentLimits, now time.Time) RateResult {
	r := t.getOrCreate(agent)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.HourlyReset.IsZero() || !now.Before(r.HourlyReset) {
		r.RequestsHour = 0
		r.HourlyReset = now.Add(time.Hour)
	}
	if r.DailyReset.IsZero() || !now.Before(r.DailyReset) {
		r.RequestsToday = 0
		r.SpendToday = 0
		r.DailyReset = dailyReset(now)
	}

	r.RequestsHour++
	r.RequestsToday++
	r.LastActive = now

	if limits.RequestsPerHour > 0 && r.RequestsHour > limits.RequestsPerHour {
		return resetResult(r.HourlyReset, now)
	}
	if limits.RequestsPerDay > 0 && r.RequestsToday > limits.RequestsPerDay {
		return resetResult(r.DailyReset, now)
	}
	return RateResult{Allowed: true}
}

func resetResult(reset, now time.Time) RateResult {
	secs := int64(reset.Sub(now).Seconds())
	if secs < 0 {
		secs = 0
	}
	return RateResult{Allowed: false, ResetInSeconds: secs}
}

// Spend returns a snapshot of agent's current tracking record, rolling the
// daily window first if it has elapsed. Reading Spend never advances the
// hourly/request counters -- only CheckRate and RecordSpend do.
func (t *Tracker) Spend(agent string, now time.Time) gateway.AgentSpend {
	r := t.getOrCreate(agent)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DailyReset.IsZero() || !now.Before(r.DailyReset) {
		r.RequestsToday = 0
		r.SpendToday = 0
		r.DailyReset = dailyReset(now)
	}
	return r.AgentSpend
}

// RecordSpend adds costUSD to agent's today accumulator and returns the new
// total and the amount remaining against dailyCapUSD.
func (t *Tracker) RecordSpend(agent string, costUSD, dailyCapUSD float64, now time.Time) (total, remaining float64) {
	r := t.getOrCreate(agent)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DailyReset.IsZero() || !now.Before(r.DailyReset) {
		r.RequestsToday = 0
		r.SpendToday = 0
		r.DailyReset = dailyReset(now)
	}
	r.SpendToday += costUSD
	r.LastActive = now
	return r.SpendToday, r.Remaining(dailyCapUSD)
}

// EvictIdle removes tracking records untouched for longer than maxIdle.
//
// Snapshots agent names and record pointers under a single RLock, then
// reads LastActive per-record under that record's own mutex -- it must not
// call getOrCreate/idleSince here, which would re-acquire t.mu.RLock while
// already holding it, racing a concurrent getOrCreate's t.mu.Lock into a
// deadlock.
func (t *Tracker) EvictIdle(now time.Time, maxIdle time.Duration) int {
	t.mu.RLock()
	records := make(map[string]*record, len(t.records))
	for agent, r := range t.records {
		records[agent] = r
	}
	t.mu.RUnlock()

	var stale []string
	for agent, r := range records {
		r.mu.Lock()
		idle := r.LastActive.IsZero() || now.Sub(r.LastActive) > maxIdle
		r.mu.Unlock()
		if idle {
			stale = append(stale, agent)
		}
	}

	if len(stale) == 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := 0
	for _, agent := range stale {
		if r, ok := t.records[agent]; ok {
			r.mu.Lock()
			idle := r.LastActive.IsZero() || now.Sub(r.LastActive) > maxIdle
			r.mu.Unlock()
			if idle {
				delete(t.records, agent)
				evicted++
			}
		}
	}
	return evicted
}
