package store

import (
	"time"

	"github.com/hazyhaar/pagewatch/crawl/internal/records"
	"github.com/hazyhaar/pagewatch/crawl/internal/schedule"
)

// Job is a schedule definition plus its run state. Timestamps are Unix ms.
type Job struct {
	ID           string            `json:"id"`
	URL          string            `json:"url"`
	Recipient    string            `json:"recipient"`
	Label        string            `json:"label"`
	Interval     schedule.Interval `json:"interval"`
	Mode         schedule.Mode     `json:"mode"`
	Active       bool              `json:"active"`
	LastRun      *int64            `json:"last_run,omitempty"`
	NextRun      int64             `json:"next_run"`
	CreatedAt    int64             `json:"created_at"`
	ClaimedUntil *int64            `json:"claimed_until,omitempty"`
}

// State derives the schedule state from Active and Mode.
func (j *Job) State() schedule.State {
	return schedule.StateOf(j.Active, j.Mode)
}

// NextRunTime returns NextRun as a time.Time.
func (j *Job) NextRunTime() time.Time {
	return time.UnixMilli(j.NextRun)
}

// Status of an attempt.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusFailed           Status = "failed"
	StatusScheduledSuccess Status = "scheduled_success"
)

// Attempt is one immutable history entry.
type Attempt struct {
	ID          string           `json:"id"`
	URL         string           `json:"url"`
	Label       string           `json:"label"`
	JobID       string           `json:"job_id,omitempty"`
	Status      Status           `json:"status"`
	RecordCount int              `json:"record_count"`
	Records     []records.Record `json:"data"`
	Summary     string           `json:"summary"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   int64            `json:"created_at"`
}

// CreatedTime returns CreatedAt as a time.Time in loc.
func (a *Attempt) CreatedTime(loc *time.Location) time.Time {
	return time.UnixMilli(a.CreatedAt).In(loc)
}
