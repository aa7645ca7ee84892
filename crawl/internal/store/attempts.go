package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/pagewatch/crawl/internal/records"
	"github.com/hazyhaar/pagewatch/dbopen"
)

const attemptColumns = `id, url, label, job_id, status, record_count, payload, summary, error, created_at`

// Summary is the human-readable line stored with each attempt.
func Summary(n int) string {
	if n == 0 {
		return "No data found"
	}
	return fmt.Sprintf("Found %d items", n)
}

// AppendAttempt inserts a history entry. ID, RecordCount, Summary and a
// zero CreatedAt are filled in. Failed attempts always store an empty
// payload.
func (s *Store) AppendAttempt(ctx context.Context, a *Attempt) error {
	if a.ID == "" {
		a.ID = s.newID()
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().UnixMilli()
	}
	if a.Status == StatusFailed {
		a.Records = []records.Record{}
	}
	payload, err := records.Encode(a.Records)
	if err != nil {
		return wrap("append attempt", err)
	}
	a.RecordCount = len(a.Records)
	if a.Summary == "" {
		a.Summary = Summary(a.RecordCount)
	}

	_, err = dbopen.Exec(ctx, s.DB,
		`INSERT INTO attempts (id, url, label, job_id, status, record_count, payload, summary, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.URL, a.Label, a.JobID, string(a.Status), a.RecordCount, payload, a.Summary, a.Error, a.CreatedAt)
	return wrap("append attempt", err)
}

// LatestForURL returns the most recently inserted attempt for url, whatever
// its status or trigger, or nil when there is none.
func (s *Store) LatestForURL(ctx context.Context, url string) (*Attempt, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE url = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, url)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("latest attempt", err)
	}
	return a, nil
}

// ListAttempts returns the newest attempts first. limit <= 0 means 10.
func (s *Store) ListAttempts(ctx context.Context, limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM attempts ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
}

// ListAttemptsForURL returns the newest attempts for url first.
func (s *Store) ListAttemptsForURL(ctx context.Context, url string, limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE url = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, url, limit)
}

func (s *Store) queryAttempts(ctx context.Context, query string, args ...any) ([]*Attempt, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list attempts", err)
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, wrap("list attempts", err)
		}
		out = append(out, a)
	}
	return out, wrap("list attempts", rows.Err())
}

func scanAttempt(sc scanner) (*Attempt, error) {
	var (
		a       Attempt
		status  string
		payload string
	)
	if err := sc.Scan(&a.ID, &a.URL, &a.Label, &a.JobID, &status, &a.RecordCount,
		&payload, &a.Summary, &a.Error, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Status = Status(status)
	rs, err := records.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", a.ID, err)
	}
	a.Records = rs
	return &a, nil
}
