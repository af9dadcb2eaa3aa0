package gateway

import "time"

// HostedImage is a registry row for a locally-persisted copy of an upstream
// generated image (spec §3, §4.10).
type HostedImage struct {
	ID           string
	UserID       string
	PredictionID string
	Path         string
	SizeBytes    int64
	ContentType  string
	CreatedAt    time.Time
	AccessedAt   *time.Time
	ExpiresAt    *time.Time
}
