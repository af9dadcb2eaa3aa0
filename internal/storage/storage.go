// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"
	"time"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

// UserStore manages platform-verified user rows (spec §3, §4.1 step 3).
type UserStore interface {
	// GetOrCreateBySubject looks up a user by the platform identity
	// token's stable subject, creating a row on first sight. Every call
	// increments LoginCount and bumps LastSeen.
	GetOrCreateBySubject(ctx context.Context, subject, email string) (*gateway.PlatformUser, error)
}

// UsageStore manages the append-only usage log (C4, spec §4.8).
type UsageStore interface {
	InsertUsage(ctx context.Context, entries []gateway.UsageLogEntry) error
	QueryUsage(ctx context.Context, filter gateway.UsageFilter) ([]gateway.UsageLogEntry, error)
	CountUsage(ctx context.Context, filter gateway.UsageFilter) (int64, error)
	// SumCostCents satisfies internal/costcap.UsageStore: total estimated
	// cost in cents for userID since the given instant.
	SumCostCents(ctx context.Context, userID string, since time.Time) (int64, error)
	// Execute runs a read-only analytics query (spec §4.8, §7 safety);
	// rows are returned as a slice of column-name-keyed maps.
	Execute(ctx context.Context, query string, args ...any) ([]map[string]any, error)
}

// ImageStore manages the hosted-image registry (C13, spec §4.10).
type ImageStore interface {
	InsertImage(ctx context.Context, img *gateway.HostedImage) error
	GetImage(ctx context.Context, id string) (*gateway.HostedImage, error)
	ListImagesByUser(ctx context.Context, userID string, limit int) ([]*gateway.HostedImage, error)
	CountImagesByUser(ctx context.Context, userID string) (int64, error)
	DeleteImage(ctx context.Context, id string) error
	DeleteImagesOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store combines all storage interfaces backing the gateway.
type Store interface {
	UserStore
	UsageStore
	ImageStore
	Close() error
}
