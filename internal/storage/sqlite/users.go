package sqlite

import (
	"context"
	"time"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

// GetOrCreateBySubject looks up a platform-verified user by subject,
// creating the row on first sight (spec §4.1 step 3). Every call bumps
// login_count and last_seen, matching the original's "incrementing a
// login counter and updating last-seen" on every successful exchange.
func (s *Store) GetOrCreateBySubject(ctx context.Context, subject, email string) (*gateway.PlatformUser, error) {
	now := timeToStr(time.Now())

	_, err := s.write.ExecContext(ctx,
		`INSERT INTO users (id, email, active, login_count, first_seen, last_seen)
		 VALUES (?, ?, 1, 1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   login_count = login_count + 1,
		   last_seen   = excluded.last_seen,
		   email       = CASE WHEN excluded.email != '' THEN excluded.email ELSE users.email END`,
		subject, email, now, now,
	)
	if err != nil {
		return nil, err
	}

	row := s.read.QueryRowContext(ctx,
		`SELECT id, email, active, login_count, first_seen, last_seen FROM users WHERE id = ?`, subject)

	var u gateway.PlatformUser
	var active int
	var firstSeen, lastSeen string
	if err := row.Scan(&u.ID, &u.Email, &active, &u.LoginCount, &firstSeen, &lastSeen); err != nil {
		return nil, notFoundErr(err)
	}
	u.Active = active != 0
	u.FirstSeen = parseTime(firstSeen)
	u.LastSeen = parseTime(lastSeen)
	return &u, nil
}
