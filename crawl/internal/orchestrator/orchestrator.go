// Package orchestrator runs due crawl jobs: claim, extract, compare with
// history, record, notify, and advance the schedule.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/pagewatch/crawl/internal/extract"
	"github.com/hazyhaar/pagewatch/crawl/internal/records"
	"github.com/hazyhaar/pagewatch/crawl/internal/schedule"
	"github.com/hazyhaar/pagewatch/crawl/internal/store"
	"github.com/hazyhaar/pagewatch/observability"
)

// ErrExtractorPanic marks an attempt whose extractor panicked.
var ErrExtractorPanic = errors.New("orchestrator: extractor panicked")

// JobStore is the part of store.Store the orchestrator drives.
type JobStore interface {
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration) ([]*store.Job, error)
	AdvanceAfterRun(ctx context.Context, id string, out schedule.Outcome) error
}

// HistoryStore is the attempt log.
type HistoryStore interface {
	AppendAttempt(ctx context.Context, a *store.Attempt) error
	LatestForURL(ctx context.Context, url string) (*store.Attempt, error)
}

// Notifier delivers the outcome of a run. It reports delivery and never fails.
type Notifier interface {
	Notify(ctx context.Context, recipient string, recs []records.Record, duplicate bool) bool
	NotifyManual(ctx context.Context, recipient string, recs []records.Record, duplicate bool) bool
}

// Config configures an Orchestrator.
type Config struct {
	// Workers bounds concurrent job processing within one poll. Default: 4.
	Workers int
	// Lease is how long a claimed job stays invisible to other polls.
	// Default: 15 minutes.
	Lease time.Duration
	// Location defines "today" for duplicate detection. Default: time.Local.
	Location *time.Location
	// Now is the clock. Default: time.Now.
	Now    func() time.Time
	Logger *slog.Logger
	// Events records crawl_completed events. Optional.
	Events *observability.EventLogger
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Lease <= 0 {
		c.Lease = 15 * time.Minute
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Orchestrator processes due jobs.
type Orchestrator struct {
	jobs      JobStore
	history   HistoryStore
	extractor extract.Extractor
	notifier  Notifier
	cfg       Config
}

// New creates an Orchestrator.
func New(jobs JobStore, history HistoryStore, ex extract.Extractor, n Notifier, cfg Config) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{jobs: jobs, history: history, extractor: ex, notifier: n, cfg: cfg}
}

// Poll claims every due job and processes them on a bounded pool. Per-job
// failures, including panics, are logged and never stop the other jobs.
func (o *Orchestrator) Poll(ctx context.Context) {
	due, err := o.jobs.ClaimDue(ctx, o.cfg.Now(), o.cfg.Lease)
	if err != nil {
		o.cfg.Logger.ErrorContext(ctx, "orchestrator: claim due jobs", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}
	o.cfg.Logger.DebugContext(ctx, "orchestrator: claimed", "jobs", len(due))

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for _, j := range due {
		g.Go(func() error {
			o.safeProcess(ctx, j)
			return nil
		})
	}
	g.Wait()
}

// safeProcess isolates one job. A panic outside the extractor leaves the
// lease to expire, like a store failure.
func (o *Orchestrator) safeProcess(ctx context.Context, j *store.Job) {
	defer func() {
		if r := recover(); r != nil {
			o.cfg.Logger.ErrorContext(ctx, "orchestrator: job panicked",
				"job_id", j.ID,
				"url", j.URL,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	if err := o.processJob(ctx, j); err != nil {
		o.cfg.Logger.ErrorContext(ctx, "orchestrator: job aborted",
			"job_id", j.ID,
			"url", j.URL,
			"error", err)
	}
}

// processJob runs one claimed job. An extraction failure is recorded and the
// schedule still advances; a store failure aborts and leaves the lease to
// expire so the job is picked up again.
func (o *Orchestrator) processJob(ctx context.Context, j *store.Job) error {
	started := o.cfg.Now()

	recs, status, extractErr := o.runExtraction(ctx, j.URL, store.StatusScheduledSuccess)

	var duplicate bool
	if extractErr == nil {
		duplicate = o.checkDuplicate(ctx, j.URL, recs)
	}

	attempt := &store.Attempt{
		URL:       j.URL,
		Label:     o.label(j),
		JobID:     j.ID,
		Status:    status,
		Records:   recs,
		CreatedAt: o.cfg.Now().UnixMilli(),
	}
	if extractErr != nil {
		attempt.Error = extractErr.Error()
	}
	if err := o.history.AppendAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}

	delivered := false
	if extractErr == nil {
		delivered = o.notifier.Notify(ctx, j.Recipient, recs, duplicate)
	}

	out := schedule.AfterRun(j.Mode, j.Interval, started, j.NextRunTime())
	if err := o.jobs.AdvanceAfterRun(ctx, j.ID, out); err != nil {
		return fmt.Errorf("advance schedule: %w", err)
	}

	o.cfg.Events.LogEvent(ctx, observability.BusinessEvent{
		EventType:  observability.EventCrawlCompleted,
		EntityType: "job",
		EntityID:   j.ID,
		Actor:      "scheduler",
		Success:    extractErr == nil,
		Details: map[string]any{
			"url":        j.URL,
			"status":     string(status),
			"records":    len(recs),
			"duplicate":  duplicate,
			"delivered":  delivered,
			"attempt_id": attempt.ID,
		},
	})

	attrs := []any{
		"job_id", j.ID,
		"url", j.URL,
		"status", string(status),
		"records", len(recs),
		"duplicate", duplicate,
		"delivered", delivered,
		"active", out.Active,
		"next_run", out.NextRun.UnixMilli(),
		"duration_ms", o.cfg.Now().Sub(started).Milliseconds(),
	}
	if extractErr != nil {
		o.cfg.Logger.WarnContext(ctx, "orchestrator: job failed", append(attrs, "error", extractErr)...)
	} else {
		o.cfg.Logger.InfoContext(ctx, "orchestrator: job completed", attrs...)
	}
	return nil
}

// runExtraction calls the extractor once (retries live in the extractor
// itself) and maps the result to an attempt status. On failure the record
// list is empty, never nil. A panicking extractor is a failed attempt
// wrapping ErrExtractorPanic.
func (o *Orchestrator) runExtraction(ctx context.Context, url string, success store.Status) (recs []records.Record, status store.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.cfg.Logger.ErrorContext(ctx, "orchestrator: extractor panicked",
				"url", url,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			recs, status, err = []records.Record{}, store.StatusFailed, fmt.Errorf("%w: %v", ErrExtractorPanic, r)
		}
	}()

	recs, err = o.extractor.Extract(ctx, url)
	if err != nil {
		return []records.Record{}, store.StatusFailed, err
	}
	if recs == nil {
		recs = []records.Record{}
	}
	return recs, success, nil
}

func (o *Orchestrator) label(j *store.Job) string {
	if j.Label != "" {
		return j.Label
	}
	return o.extractor.Label()
}

// checkDuplicate is IsDuplicate for the run paths. A history that cannot be
// read or decoded counts as no baseline, so the run is still recorded and
// notified as an update.
func (o *Orchestrator) checkDuplicate(ctx context.Context, url string, recs []records.Record) bool {
	dup, err := o.IsDuplicate(ctx, url, recs)
	if err != nil {
		o.cfg.Logger.WarnContext(ctx, "orchestrator: duplicate check failed, treating as new",
			"url", url,
			"error", err)
		return false
	}
	return dup
}

// IsDuplicate reports whether recs equal the latest attempt for url, provided
// that attempt was made earlier on the same local day. The latest attempt is
// taken regardless of its status or trigger.
func (o *Orchestrator) IsDuplicate(ctx context.Context, url string, recs []records.Record) (bool, error) {
	last, err := o.history.LatestForURL(ctx, url)
	if err != nil {
		return false, err
	}
	if last == nil {
		return false, nil
	}
	if !sameDay(last.CreatedTime(o.cfg.Location), o.cfg.Now().In(o.cfg.Location)) {
		return false, nil
	}
	return records.Equal(recs, last.Records), nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
