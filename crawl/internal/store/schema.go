package store

import "database/sql"

// Schema is the jobs and history schema. Timestamps are Unix milliseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id              TEXT PRIMARY KEY,
    url             TEXT NOT NULL,
    recipient       TEXT NOT NULL,
    label           TEXT NOT NULL DEFAULT '',
    interval_value  INTEGER NOT NULL,
    interval_unit   TEXT NOT NULL DEFAULT 'days',
    mode            TEXT NOT NULL DEFAULT 'continuous',
    active          INTEGER NOT NULL DEFAULT 1,
    last_run        INTEGER,
    next_run        INTEGER NOT NULL,
    created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(active, next_run);

CREATE TABLE IF NOT EXISTS attempts (
    id            TEXT PRIMARY KEY,
    url           TEXT NOT NULL,
    label         TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    record_count  INTEGER NOT NULL DEFAULT 0,
    payload       TEXT NOT NULL DEFAULT '[]',
    summary       TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_url_time ON attempts(url, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_attempts_time ON attempts(created_at DESC);
`

// Migration001ActivePair enforces one active job per (url, recipient).
// Fails on databases that already violate it; ApplySchema deactivates the
// older duplicates first.
const Migration001ActivePair = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_active_pair ON jobs(url, recipient) WHERE active = 1;
`

// Migration002ClaimedUntil adds the in-progress lease column.
const Migration002ClaimedUntil = `
ALTER TABLE jobs ADD COLUMN claimed_until INTEGER;
`

// Migration003AttemptJobID links scheduled attempts to their job.
const Migration003AttemptJobID = `
ALTER TABLE attempts ADD COLUMN job_id TEXT NOT NULL DEFAULT '';
`

// Migration004AttemptError keeps the failure text of failed attempts.
const Migration004AttemptError = `
ALTER TABLE attempts ADD COLUMN error TEXT NOT NULL DEFAULT '';
`

const dedupActivePairs = `
UPDATE jobs SET active = 0
WHERE active = 1 AND EXISTS (
    SELECT 1 FROM jobs newer
    WHERE newer.url = jobs.url AND newer.recipient = jobs.recipient
      AND newer.active = 1
      AND (newer.created_at > jobs.created_at
           OR (newer.created_at = jobs.created_at AND newer.rowid > jobs.rowid))
);
`

// ApplySchema creates all tables and indexes and applies column migrations.
// Safe to run on every start.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return err
	}
	applyColumnMigration(db, "jobs", "claimed_until", Migration002ClaimedUntil)
	applyColumnMigration(db, "attempts", "job_id", Migration003AttemptJobID)
	applyColumnMigration(db, "attempts", "error", Migration004AttemptError)
	if _, err := db.Exec(dedupActivePairs); err != nil {
		return err
	}
	_, err := db.Exec(Migration001ActivePair)
	return err
}

// applyColumnMigration adds a column if it doesn't exist (idempotent).
func applyColumnMigration(db *sql.DB, table, column, ddl string) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&count)
	if err != nil || count > 0 {
		return
	}
	db.Exec(ddl)
}
