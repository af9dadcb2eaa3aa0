package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

// InsertUsage batch-inserts usage log entries in a single multi-row
// transaction (spec §4.8: "flushed to durable storage atomically").
func (s *Store) InsertUsage(ctx context.Context, entries []gateway.UsageLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	const cols = 14
	placeholders := make([]string, len(entries))
	args := make([]any, 0, len(entries)*cols)

	for i, e := range entries {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			e.ID, timeToStr(e.Timestamp), e.UserID, e.AppID, e.Endpoint, e.Method,
			e.Provider, e.Model, e.InputTokens, e.OutputTokens,
			e.EstimatedCostCents, e.DurationMs, e.StatusCode, e.Error,
		)
	}

	query := `INSERT INTO usage_log
		(id, ts, user_id, app_id, endpoint, method, provider, model,
		 input_tokens, output_tokens, cost_cents, duration_ms, status_code, error)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// QueryUsage returns entries matching filter, ordered by timestamp
// descending (spec §4.8).
func (s *Store) QueryUsage(ctx context.Context, filter gateway.UsageFilter) ([]gateway.UsageLogEntry, error) {
	where, args := usageWhere(filter)

	query := `SELECT id, ts, user_id, app_id, endpoint, method, provider, model,
		input_tokens, output_tokens, cost_cents, duration_ms, status_code, error
		FROM usage_log` + where + ` ORDER BY ts DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.UsageLogEntry
	for rows.Next() {
		var e gateway.UsageLogEntry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.UserID, &e.AppID, &e.Endpoint, &e.Method,
			&e.Provider, &e.Model, &e.InputTokens, &e.OutputTokens,
			&e.EstimatedCostCents, &e.DurationMs, &e.StatusCode, &e.Error); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountUsage returns the number of entries matching filter.
func (s *Store) CountUsage(ctx context.Context, filter gateway.UsageFilter) (int64, error) {
	where, args := usageWhere(filter)
	var n int64
	err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage_log`+where, args...).Scan(&n)
	return n, err
}

// SumCostCents satisfies internal/costcap.UsageStore.
func (s *Store) SumCostCents(ctx context.Context, userID string, since time.Time) (int64, error) {
	var total int64
	err := s.read.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_cents), 0) FROM usage_log WHERE user_id = ? AND ts >= ?`,
		userID, timeToStr(since),
	).Scan(&total)
	return total, err
}

func usageWhere(filter gateway.UsageFilter) (string, []any) {
	var clauses []string
	var args []any

	if filter.AppID != "" {
		clauses = append(clauses, "app_id = ?")
		args = append(args, filter.AppID)
	}
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Provider != "" {
		clauses = append(clauses, "provider = ?")
		args = append(args, filter.Provider)
	}
	if filter.Endpoint != "" {
		clauses = append(clauses, "endpoint = ?")
		args = append(args, filter.Endpoint)
	}
	if !filter.Start.IsZero() {
		clauses = append(clauses, "ts >= ?")
		args = append(args, timeToStr(filter.Start))
	}
	if !filter.End.IsZero() {
		clauses = append(clauses, "ts <= ?")
		args = append(args, timeToStr(filter.End))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Execute runs a read-only analytics query (spec §4.8, §7 safety). Callers
// are responsible for validating query is a safe SELECT/WITH statement
// before reaching this method (internal/analytics/safesql).
func (s *Store) Execute(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan analytics row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
