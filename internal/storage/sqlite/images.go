package sqlite

import (
	"context"
	"database/sql"
	"time"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

// InsertImage records a locally-persisted copy of an upstream generated
// image (spec §4.10).
func (s *Store) InsertImage(ctx context.Context, img *gateway.HostedImage) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO hosted_images
		 (id, user_id, prediction_id, path, size_bytes, content_type, created_at, accessed_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.UserID, img.PredictionID, img.Path, img.SizeBytes, img.ContentType,
		timeToStr(img.CreatedAt), nullTimeToStr(img.AccessedAt), nullTimeToStr(img.ExpiresAt),
	)
	return err
}

// GetImage retrieves a hosted image by id.
func (s *Store) GetImage(ctx context.Context, id string) (*gateway.HostedImage, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, user_id, prediction_id, path, size_bytes, content_type, created_at, accessed_at, expires_at
		 FROM hosted_images WHERE id = ?`, id)
	return scanImage(row)
}

// ListImagesByUser returns a user's hosted images, most recent first.
func (s *Store) ListImagesByUser(ctx context.Context, userID string, limit int) ([]*gateway.HostedImage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, user_id, prediction_id, path, size_bytes, content_type, created_at, accessed_at, expires_at
		 FROM hosted_images WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*gateway.HostedImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

// CountImagesByUser returns the per-user image count, used to enforce the
// retention ceiling (spec §4.10).
func (s *Store) CountImagesByUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM hosted_images WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// DeleteImage removes a hosted image row.
func (s *Store) DeleteImage(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM hosted_images WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "hosted image")
}

// DeleteImagesOlderThan removes rows created before cutoff, returning the
// count removed (spec §4.10's age-based cull).
func (s *Store) DeleteImagesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.write.ExecContext(ctx,
		`DELETE FROM hosted_images WHERE created_at < ?`, timeToStr(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanImage(s scanner) (*gateway.HostedImage, error) {
	var img gateway.HostedImage
	var createdAt string
	var accessedAt, expiresAt sql.NullString
	if err := s.Scan(&img.ID, &img.UserID, &img.PredictionID, &img.Path, &img.SizeBytes,
		&img.ContentType, &createdAt, &accessedAt, &expiresAt); err != nil {
		return nil, notFoundErr(err)
	}
	img.CreatedAt = parseTime(createdAt)
	img.AccessedAt = parseNullTime(accessedAt)
	img.ExpiresAt = parseNullTime(expiresAt)
	return &img, nil
}
