package gateway

import "time"

// RateWindow is a per-principal fixed-window rate-limit record (spec §3, §4.3).
type RateWindow struct {
	Count int
	Reset time.Time
}

// AnonymousPrincipalID is the shared id used for un-rate-limited anonymous
// callers so they fall into a single shared window (spec §4.3).
const AnonymousPrincipalID = "anonymous"
