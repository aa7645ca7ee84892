package store

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"

	"github.com/hazyhaar/pagewatch/crawl/internal/schedule"
	"github.com/hazyhaar/pagewatch/dbopen"
)

const jobColumns = `id, url, recipient, label, interval_value, interval_unit, mode,
	active, last_run, next_run, created_at, claimed_until`

// CreateJob deactivates every active job for (url, recipient) and inserts
// j, in one transaction. It returns how many jobs were deactivated.
// j.ID is assigned when empty.
func (s *Store) CreateJob(ctx context.Context, j *Job) (int64, error) {
	if j.ID == "" {
		j.ID = s.newID()
	}
	if j.Mode == "" {
		j.Mode = schedule.Continuous
	}
	j.Active = true

	var deactivated int64
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET active = 0 WHERE url = ? AND recipient = ? AND active = 1`,
			j.URL, j.Recipient)
		if err != nil {
			return err
		}
		deactivated, _ = res.RowsAffected()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO jobs (id, url, recipient, label, interval_value, interval_unit, mode,
			active, last_run, next_run, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
			j.ID, j.URL, j.Recipient, j.Label, j.Interval.Value, string(j.Interval.Unit), string(j.Mode),
			j.LastRun, j.NextRun, j.CreatedAt)
		return err
	})
	if err != nil {
		return 0, wrap("create job", err)
	}
	return deactivated, nil
}

// GetJob returns the job with id, or nil when it does not exist.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, wrap("get job", err)
}

// ClaimDue marks every due, unclaimed job as claimed until now+lease and
// returns them ordered by next_run. A job whose claim expired (the worker
// died mid-run) is due again.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, lease time.Duration) ([]*Job, error) {
	nowMs := now.UnixMilli()
	var jobs []*Job
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		jobs = nil
		rows, err := tx.QueryContext(ctx,
			`UPDATE jobs SET claimed_until = ?
			WHERE active = 1 AND next_run <= ?
			  AND (claimed_until IS NULL OR claimed_until <= ?)
			RETURNING `+jobColumns,
			now.Add(lease).UnixMilli(), nowMs, nowMs)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return err
			}
			jobs = append(jobs, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrap("claim due", err)
	}
	sortByNextRun(jobs)
	return jobs, nil
}

// ListDue returns active jobs with next_run <= now without claiming them.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]*Job, error) {
	return s.queryJobs(ctx, "list due",
		`SELECT `+jobColumns+` FROM jobs WHERE active = 1 AND next_run <= ? ORDER BY next_run ASC`,
		now.UnixMilli())
}

// ListActive returns active jobs, soonest first.
func (s *Store) ListActive(ctx context.Context) ([]*Job, error) {
	return s.queryJobs(ctx, "list active",
		`SELECT `+jobColumns+` FROM jobs WHERE active = 1 ORDER BY next_run ASC`)
}

// ListJobs returns every job, newest first.
func (s *Store) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.queryJobs(ctx, "list jobs",
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC`)
}

// AdvanceAfterRun stores the completion outcome and releases the claim.
// An outcome never re-activates a job: if an operator paused it while it
// ran, it stays paused.
func (s *Store) AdvanceAfterRun(ctx context.Context, id string, out schedule.Outcome) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE jobs SET last_run = ?, next_run = ?,
		active = CASE WHEN ? THEN active ELSE 0 END,
		claimed_until = NULL
		WHERE id = ?`,
		out.LastRun.UnixMilli(), out.NextRun.UnixMilli(), out.Active, id)
	return wrap("advance job", err)
}

// SetActive pauses or resumes a job without touching next_run. Resuming
// deactivates any other active job for the same (url, recipient) in the same
// transaction. Returns the updated job, or nil when id does not exist.
func (s *Store) SetActive(ctx context.Context, id string, active bool) (*Job, error) {
	var out *Job
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		j, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if active {
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs SET active = 0 WHERE url = ? AND recipient = ? AND active = 1 AND id <> ?`,
				j.URL, j.Recipient, id); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET active = ? WHERE id = ?`, active, id); err != nil {
			return err
		}
		j.Active = active
		out = j
		return nil
	})
	if err != nil {
		return nil, wrap("set active", err)
	}
	return out, nil
}

// StopAll deactivates every active job in one statement.
func (s *Store) StopAll(ctx context.Context) (int64, error) {
	res, err := dbopen.Exec(ctx, s.DB, `UPDATE jobs SET active = 0 WHERE active = 1`)
	if err != nil {
		return 0, wrap("stop all", err)
	}
	n, err := res.RowsAffected()
	return n, wrap("stop all", err)
}

func (s *Store) queryJobs(ctx context.Context, op, query string, args ...any) ([]*Job, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, wrap(op, rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*Job, error) {
	var (
		j            Job
		unit, mode   string
		active       int
		lastRun      sql.NullInt64
		claimedUntil sql.NullInt64
	)
	err := sc.Scan(&j.ID, &j.URL, &j.Recipient, &j.Label, &j.Interval.Value, &unit, &mode,
		&active, &lastRun, &j.NextRun, &j.CreatedAt, &claimedUntil)
	if err != nil {
		return nil, err
	}
	j.Interval.Unit = schedule.Unit(unit)
	j.Mode = schedule.Mode(mode)
	j.Active = active != 0
	if lastRun.Valid {
		v := lastRun.Int64
		j.LastRun = &v
	}
	if claimedUntil.Valid {
		v := claimedUntil.Int64
		j.ClaimedUntil = &v
	}
	return &j, nil
}

func sortByNextRun(jobs []*Job) {
	slices.SortStableFunc(jobs, func(a, b *Job) int { return cmp.Compare(a.NextRun, b.NextRun) })
}
