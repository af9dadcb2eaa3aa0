// Package images implements the hosted-image registry (C13, spec §4.10):
// after a successful Replicate image generation, download the output
// bytes, persist them under a per-user path, register the row, and return
// a stable local URL. A download failure falls back to the upstream URL.
//
// Grounded on internal/storage/sqlite's hosted_images table contract
// (already implemented) for persistence and internal/worker/usage_rollup.go
// (now deleted) for the periodic-sweep shape the age-based cull worker
// reuses.
package images

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/gatewayid"
)

// maxDownloadBytes bounds a single output image download.
const maxDownloadBytes = 32 << 20 // 32 MiB

// Store is the persistence interface consumed by Registry.
type Store interface {
	InsertImage(ctx context.Context, img *gateway.HostedImage) error
	ListImagesByUser(ctx context.Context, userID string, limit int) ([]*gateway.HostedImage, error)
	CountImagesByUser(ctx context.Context, userID string) (int64, error)
	DeleteImage(ctx context.Context, id string) error
	DeleteImagesOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Outcome is the per-URL result of a Persist call.
type Outcome struct {
	// URL is either a stable local URL (Hosted true) or the original
	// upstream URL, returned unmodified on download failure.
	URL    string
	Hosted bool
	Error  string
}

// Registry downloads generated image bytes, persists them to baseDir, and
// serves them back under urlPrefix. MaxPerUser configures the retention
// ceiling enforced after every successful persist (0 disables it).
type Registry struct {
	store      Store
	httpClient *http.Client
	baseDir    string
	urlPrefix  string
	MaxPerUser int
}

// New builds a Registry. httpClient may be nil, in which case
// http.DefaultClient is used.
func New(store Store, httpClient *http.Client, baseDir, urlPrefix string) *Registry {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Registry{store: store, httpClient: httpClient, baseDir: baseDir, urlPrefix: urlPrefix}
}

// Persist downloads each of upstreamURLs and registers a hosted copy for
// userID/predictionID, returning one Outcome per input URL in order. A
// per-URL download or write failure degrades that single Outcome to the
// upstream URL rather than failing the whole call.
func (r *Registry) Persist(ctx context.Context, userID, predictionID string, upstreamURLs []string) []Outcome {
	out := make([]Outcome, len(upstreamURLs))
	for i, u := range upstreamURLs {
		out[i] = r.persistOne(ctx, userID, predictionID, u)
	}
	if r.MaxPerUser > 0 {
		r.enforceCeiling(ctx, userID)
	}
	return out
}

func (r *Registry) persistOne(ctx context.Context, userID, predictionID, upstreamURL string) Outcome {
	body, contentType, err := r.download(ctx, upstreamURL)
	if err != nil {
		slog.Warn("hosted image download failed, falling back to upstream URL",
			slog.String("user_id", userID), slog.String("error", err.Error()))
		return Outcome{URL: upstreamURL, Hosted: false, Error: err.Error()}
	}

	id := gatewayid.New()
	relPath := filepath.Join(userID, id+extensionFor(contentType))
	fullPath := filepath.Join(r.baseDir, relPath)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return Outcome{URL: upstreamURL, Hosted: false, Error: err.Error()}
	}
	if err := os.WriteFile(fullPath, body, 0o644); err != nil {
		return Outcome{URL: upstreamURL, Hosted: false, Error: err.Error()}
	}

	img := &gateway.HostedImage{
		ID:           id,
		UserID:       userID,
		PredictionID: predictionID,
		Path:         relPath,
		SizeBytes:    int64(len(body)),
		ContentType:  contentType,
		CreatedAt:    time.Now(),
	}
	if err := r.store.InsertImage(ctx, img); err != nil {
		slog.Error("hosted image registry insert failed", slog.String("error", err.Error()))
		return Outcome{URL: upstreamURL, Hosted: false, Error: err.Error()}
	}

	return Outcome{URL: path.Join(r.urlPrefix, relPath), Hosted: true}
}

func (r *Registry) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return body, contentType, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	default:
		return ""
	}
}

// enforceCeiling deletes the oldest images beyond MaxPerUser for userID.
// ListImagesByUser returns newest-first, so anything past index
// MaxPerUser-1 is the excess.
func (r *Registry) enforceCeiling(ctx context.Context, userID string) {
	count, err := r.store.CountImagesByUser(ctx, userID)
	if err != nil || count <= int64(r.MaxPerUser) {
		return
	}

	images, err := r.store.ListImagesByUser(ctx, userID, int(count))
	if err != nil {
		slog.Error("hosted image retention list failed", slog.String("error", err.Error()))
		return
	}
	for _, img := range images[r.MaxPerUser:] {
		if err := r.store.DeleteImage(ctx, img.ID); err != nil {
			slog.Error("hosted image retention delete failed",
				slog.String("id", img.ID), slog.String("error", err.Error()))
		}
	}
}

// Name returns the worker identifier for the age-based cull sweep.
func (r *Registry) Name() string { return "image_cull" }

// CullOlderThan deletes registry rows older than time.Now().Add(-maxAge)
// and returns how many were deleted. The image files on disk are not
// removed. internal/worker's reaper calls it on its periodic sweep.
func (r *Registry) CullOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	return r.store.DeleteImagesOlderThan(ctx, cutoff)
}
