// Package crawl is the pagewatch service: scheduled page crawls with change
// detection and operator notification, plus the admin operations that
// manage schedules and read history.
package crawl

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/pagewatch/crawl/internal/extract"
	"github.com/hazyhaar/pagewatch/crawl/internal/notify"
	"github.com/hazyhaar/pagewatch/crawl/internal/orchestrator"
	"github.com/hazyhaar/pagewatch/crawl/internal/records"
	"github.com/hazyhaar/pagewatch/crawl/internal/schedule"
	"github.com/hazyhaar/pagewatch/crawl/internal/store"
	"github.com/hazyhaar/pagewatch/horosafe"
	"github.com/hazyhaar/pagewatch/idgen"
	"github.com/hazyhaar/pagewatch/kit"
	"github.com/hazyhaar/pagewatch/observability"
)

type (
	Job          = store.Job
	Attempt      = store.Attempt
	Record       = records.Record
	ManualResult = orchestrator.ManualResult
	Event        = observability.BusinessEvent
)

// Service wires the stores, the extractor, the notifier and the poll driver.
type Service struct {
	db       *sql.DB
	store    *store.Store
	events   *observability.EventLogger
	orch     *orchestrator.Orchestrator
	driver   *orchestrator.Driver
	channels []string
	config   *Config
	logger   *slog.Logger

	extractor    extract.Extractor
	notifier     orchestrator.Notifier
	closers      []io.Closer
	urlValidator horosafe.URLValidator
	now          func() time.Time
	newID        idgen.Generator
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithURLValidator overrides URL validation (default: horosafe.ValidateURL,
// or horosafe.ValidateURLShape when fetch.allow_private is set).
func WithURLValidator(fn horosafe.URLValidator) ServiceOption {
	return func(svc *Service) { svc.urlValidator = fn }
}

// WithClock overrides time.Now for scheduling and duplicate detection.
func WithClock(now func() time.Time) ServiceOption {
	return func(svc *Service) { svc.now = now }
}

// WithIDGenerator sets the generator for job and attempt IDs.
func WithIDGenerator(gen idgen.Generator) ServiceOption {
	return func(svc *Service) { svc.newID = gen }
}

// WithExtractor replaces the configured extraction strategy.
func WithExtractor(ex extract.Extractor) ServiceOption {
	return func(svc *Service) { svc.extractor = ex }
}

// WithNotifier replaces the configured notification chain.
func WithNotifier(n orchestrator.Notifier) ServiceOption {
	return func(svc *Service) { svc.notifier = n }
}

// New creates a Service on db. The schema (store.ApplySchema and
// observability.Init) must already be applied; cmd/pagewatch does it through
// dbopen migrations.
func New(db *sql.DB, cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	svc := &Service{
		db:           db,
		config:       cfg,
		logger:       logger,
		urlValidator: horosafe.ValidateURL,
		now:          time.Now,
		newID:        idgen.Default,
	}
	if cfg.Fetch.AllowPrivate {
		svc.urlValidator = horosafe.ValidateURLShape
	}
	for _, o := range opts {
		o(svc)
	}

	svc.store = store.NewStore(db, store.WithIDGenerator(svc.newID))
	svc.events = observability.NewEventLogger(db,
		observability.WithEventClock(svc.now),
		observability.WithEventSlog(logger))

	if svc.extractor == nil {
		ex, closer, err := svc.buildExtractor()
		if err != nil {
			return nil, err
		}
		svc.extractor = ex
		if closer != nil {
			svc.closers = append(svc.closers, closer)
		}
	}
	if svc.notifier == nil {
		d := notify.FromConfig(cfg.Notify, notify.WithLogger(logger), notify.WithClock(svc.now))
		svc.channels = d.Channels()
		svc.notifier = d
	}

	svc.orch = orchestrator.New(svc.store, svc.store, svc.extractor, svc.notifier, orchestrator.Config{
		Workers:  cfg.Scheduler.Workers,
		Lease:    cfg.Scheduler.Lease,
		Location: cfg.Location(),
		Now:      svc.now,
		Logger:   logger,
		Events:   svc.events,
	})
	svc.driver = orchestrator.NewDriver(svc.orch, cfg.Scheduler.PollInterval, logger)
	return svc, nil
}

// buildExtractor assembles fetcher and strategy from config. The AI strategy
// is always wrapped in the rate-limit retry decorator; the selector strategy
// never is.
func (svc *Service) buildExtractor() (extract.Extractor, io.Closer, error) {
	cfg := svc.config
	var (
		fetcher extract.Fetcher
		closer  io.Closer
	)
	if cfg.Fetch.Browser {
		bf := extract.NewBrowserFetcher(extract.BrowserConfig{
			RemoteURL:    cfg.Fetch.BrowserURL,
			NavTimeout:   cfg.Fetch.Timeout,
			URLValidator: svc.urlValidator,
			Logger:       svc.logger,
		})
		fetcher, closer = bf, bf
	} else {
		fetcher = extract.NewHTTPFetcher(extract.HTTPConfig{
			Timeout:      cfg.Fetch.Timeout,
			MaxBytes:     cfg.Fetch.MaxBytes,
			UserAgent:    cfg.Fetch.UserAgent,
			URLValidator: svc.urlValidator,
		})
	}

	switch cfg.Extractor.Strategy {
	case StrategyAI:
		if cfg.AI.APIKey == "" {
			return nil, nil, fmt.Errorf("%w: ai strategy: %v", ErrInvalidInput, extract.ErrNoAPIKey)
		}
		ai := extract.NewAI(fetcher, extract.AIConfig{
			BaseURL:   cfg.AI.BaseURL,
			APIKey:    cfg.AI.APIKey,
			Model:     cfg.AI.Model,
			Topic:     cfg.AI.Topic,
			CharLimit: cfg.AI.CharLimit,
			Timeout:   cfg.AI.Timeout,
			Language:  cfg.AI.Language,
		})
		return extract.WithRetry(ai, extract.RetryConfig{
			PreDelay:    cfg.AI.PreDelay,
			MaxRetries:  cfg.AI.MaxRetries,
			BaseBackoff: cfg.AI.BaseBackoff,
			Logger:      svc.logger,
		}), closer, nil
	default:
		return extract.NewSelector(fetcher, cfg.Extractor.Profiles), closer, nil
	}
}

// Start launches the poll driver and prunes old events. Non-blocking and
// idempotent.
func (svc *Service) Start(ctx context.Context) {
	if n, err := svc.events.Cleanup(ctx, svc.config.EventRetentionDays); err != nil {
		svc.logger.Warn("crawl: event cleanup", "error", err)
	} else if n > 0 {
		svc.logger.Info("crawl: pruned events", "deleted", n)
	}
	svc.driver.Start(ctx)
	svc.logger.Info("crawl: started",
		"strategy", svc.config.Extractor.Strategy,
		"label", svc.extractor.Label(),
		"channels", strings.Join(svc.channels, ","))
}

// Stop halts the driver and waits for the in-flight poll.
func (svc *Service) Stop() { svc.driver.Stop() }

// Close stops the driver and releases the fetcher.
func (svc *Service) Close() error {
	svc.Stop()
	var first error
	for _, c := range svc.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	svc.logger.Info("crawl: closed")
	return first
}

// Running reports whether the poll driver is active.
func (svc *Service) Running() bool { return svc.driver.Running() }

// Poll runs one poll cycle synchronously.
func (svc *Service) Poll(ctx context.Context) { svc.orch.Poll(ctx) }

// ScheduleRequest creates a schedule.
type ScheduleRequest struct {
	URL       string `json:"url"`
	Email     string `json:"email"`
	Frequency int    `json:"frequency"`
	Unit      string `json:"unit"`
	// IsContinuous defaults to true.
	IsContinuous *bool  `json:"is_continuous,omitempty"`
	Label        string `json:"label,omitempty"`
}

// ScheduleResult is returned by CreateSchedule.
type ScheduleResult struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	ScheduleID  string `json:"schedule_id"`
	Deactivated int64  `json:"deactivated"`
	Job         *Job   `json:"job"`
}

// CreateSchedule validates req and stores a new active job, deactivating any
// active job for the same (url, email). The first run is one interval from now.
func (svc *Service) CreateSchedule(ctx context.Context, req ScheduleRequest) (*ScheduleResult, error) {
	url, err := svc.checkURL(req.URL)
	if err != nil {
		return nil, err
	}
	email, err := validateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	unitName := req.Unit
	if unitName == "" {
		unitName = string(schedule.Days)
	}
	unit, err := schedule.ParseUnit(unitName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	iv := schedule.Interval{Value: req.Frequency, Unit: unit}
	if err := iv.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	continuous := req.IsContinuous == nil || *req.IsContinuous
	label := strings.TrimSpace(req.Label)
	if label == "" {
		label = svc.extractor.Label()
	}

	now := svc.now()
	j := &Job{
		URL:       url,
		Recipient: email,
		Label:     label,
		Interval:  iv,
		Mode:      schedule.ModeOf(continuous),
		NextRun:   schedule.FirstRun(now, iv).UnixMilli(),
		CreatedAt: now.UnixMilli(),
	}
	deactivated, err := svc.store.CreateJob(ctx, j)
	if err != nil {
		return nil, err
	}

	svc.events.LogEvent(ctx, Event{
		EventType:  observability.EventScheduleCreated,
		EntityType: "job",
		EntityID:   j.ID,
		Actor:      actor(ctx),
		Success:    true,
		Details: map[string]any{
			"url":         j.URL,
			"interval":    iv.String(),
			"mode":        string(j.Mode),
			"deactivated": deactivated,
		},
	})
	svc.logger.Info("crawl: schedule created",
		"job_id", j.ID,
		"url", j.URL,
		"interval", iv.String(),
		"mode", string(j.Mode),
		"deactivated", deactivated)

	return &ScheduleResult{
		Status:      "success",
		Message:     "Task scheduled successfully",
		ScheduleID:  j.ID,
		Deactivated: deactivated,
		Job:         j,
	}, nil
}

// ListSchedules returns active jobs, or every job when all is set, ordered
// by next_run.
func (svc *Service) ListSchedules(ctx context.Context, all bool) ([]*Job, error) {
	var (
		jobs []*Job
		err  error
	)
	if all {
		jobs, err = svc.store.ListJobs(ctx)
	} else {
		jobs, err = svc.store.ListActive(ctx)
	}
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*Job{}
	}
	return jobs, nil
}

// GetSchedule returns one job.
func (svc *Service) GetSchedule(ctx context.Context, id string) (*Job, error) {
	j, err := svc.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, fmt.Errorf("%w: schedule %s", ErrNotFound, id)
	}
	return j, nil
}

// SetActive pauses or resumes a job. next_run is left as is, so a resumed
// job whose next_run has passed runs on the next poll.
func (svc *Service) SetActive(ctx context.Context, id string, active bool) (*Job, error) {
	j, err := svc.store.SetActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, fmt.Errorf("%w: schedule %s", ErrNotFound, id)
	}
	evt := observability.EventSchedulePaused
	if active {
		evt = observability.EventScheduleResumed
	}
	svc.events.LogEvent(ctx, Event{
		EventType:  evt,
		EntityType: "job",
		EntityID:   id,
		Actor:      actor(ctx),
		Success:    true,
	})
	svc.logger.Info("crawl: schedule toggled", "job_id", id, "active", active)
	return j, nil
}

// StopAll deactivates every active job and returns how many were stopped.
func (svc *Service) StopAll(ctx context.Context) (int64, error) {
	n, err := svc.store.StopAll(ctx)
	if err != nil {
		return 0, err
	}
	svc.events.LogEvent(ctx, Event{
		EventType:  observability.EventSchedulesStopped,
		EntityType: "job",
		Actor:      actor(ctx),
		Success:    true,
		Details:    map[string]any{"count": n},
	})
	svc.logger.Info("crawl: stopped all schedules", "count", n)
	return n, nil
}

// History returns the newest attempts first, optionally for one URL.
// limit <= 0 means 10.
func (svc *Service) History(ctx context.Context, url string, limit int) ([]*Attempt, error) {
	var (
		list []*Attempt
		err  error
	)
	if url != "" {
		if url, err = horosafe.NormalizeURL(url); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		list, err = svc.store.ListAttemptsForURL(ctx, url, limit)
	} else {
		list, err = svc.store.ListAttempts(ctx, limit)
	}
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*Attempt{}
	}
	return list, nil
}

// Events returns recent admin and crawl events, newest first.
func (svc *Service) Events(ctx context.Context, limit int) ([]Event, error) {
	return svc.events.Recent(ctx, limit)
}

// ExtractRequest triggers a one-off extraction.
type ExtractRequest struct {
	URL   string `json:"url"`
	Email string `json:"email,omitempty"`
}

// ExtractNow extracts req.URL immediately and records the attempt. The
// result is returned alongside an extraction error so callers can show
// the recorded failure.
func (svc *Service) ExtractNow(ctx context.Context, req ExtractRequest) (*ManualResult, error) {
	url, err := svc.checkURL(req.URL)
	if err != nil {
		return nil, err
	}
	email := ""
	if strings.TrimSpace(req.Email) != "" {
		if email, err = validateEmail(req.Email); err != nil {
			return nil, err
		}
	}
	return svc.orch.ExtractNow(ctx, url, email)
}

// checkURL normalizes and validates a target URL.
func (svc *Service) checkURL(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	if len(raw) > maxURLLen {
		return "", fmt.Errorf("%w: url exceeds %d characters", ErrInvalidInput, maxURLLen)
	}
	url, err := horosafe.NormalizeURL(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := svc.urlValidator(url); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return url, nil
}

func actor(ctx context.Context) string {
	if a := kit.GetActor(ctx); a != "" {
		return a
	}
	return kit.GetTransport(ctx)
}
