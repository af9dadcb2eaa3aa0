package gateway

import "time"

// PlatformUser is a user row created on first platform-identity-token
// exchange (spec §3: "Platform-verified user").
type PlatformUser struct {
	ID         string // stable subject from the platform identity token
	Email      string
	Active     bool
	LoginCount int
	FirstSeen  time.Time
	LastSeen   time.Time
}
