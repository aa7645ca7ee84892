package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pagewatch/crawl/internal/extract"
	"github.com/hazyhaar/pagewatch/crawl/internal/records"
	"github.com/hazyhaar/pagewatch/crawl/internal/schedule"
	"github.com/hazyhaar/pagewatch/crawl/internal/store"
	"github.com/hazyhaar/pagewatch/dbopen"
	"github.com/hazyhaar/pagewatch/idgen"
	"github.com/hazyhaar/pagewatch/observability"
)

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type notifyCall struct {
	recipient string
	recs      []records.Record
	duplicate bool
	manual    bool
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (f *fakeNotifier) Notify(_ context.Context, recipient string, recs []records.Record, duplicate bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifyCall{recipient, recs, duplicate, false})
	return true
}

func (f *fakeNotifier) NotifyManual(_ context.Context, recipient string, recs []records.Record, duplicate bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifyCall{recipient, recs, duplicate, true})
	return true
}

// scripted returns results per URL in order; the last one repeats.
type scripted struct {
	mu      sync.Mutex
	results map[string][]func() ([]records.Record, error)
	calls   map[string]int
}

func newScripted() *scripted {
	return &scripted{results: map[string][]func() ([]records.Record, error){}, calls: map[string]int{}}
}

func (s *scripted) on(url string, fns ...func() ([]records.Record, error)) *scripted {
	s.results[url] = append(s.results[url], fns...)
	return s
}

func (s *scripted) Label() string { return "Auto-CSS" }

func (s *scripted) Extract(_ context.Context, url string) ([]records.Record, error) {
	s.mu.Lock()
	fns := s.results[url]
	i := s.calls[url]
	s.calls[url]++
	s.mu.Unlock()
	if len(fns) == 0 {
		return nil, extract.ErrNoData
	}
	if i >= len(fns) {
		i = len(fns) - 1
	}
	return fns[i]()
}

func returns(rs ...records.Record) func() ([]records.Record, error) {
	return func() ([]records.Record, error) { return rs, nil }
}

func fails(err error) func() ([]records.Record, error) {
	return func() ([]records.Record, error) { return nil, err }
}

type harness struct {
	db       *sql.DB
	store    *store.Store
	clock    *clock
	notifier *fakeNotifier
	orch     *Orchestrator
}

func newHarness(t *testing.T, ex extract.Extractor) *harness {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithMigration(store.ApplySchema), dbopen.WithMigration(observability.Init))
	st := store.NewStore(db, store.WithIDGenerator(idgen.Sequence("id")))
	c := &clock{now: t0}
	n := &fakeNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := New(st, st, ex, n, Config{
		Workers:  2,
		Location: time.UTC,
		Now:      c.Now,
		Logger:   logger,
		Events:   observability.NewEventLogger(db, observability.WithEventClock(c.Now), observability.WithEventSlog(logger)),
	})
	return &harness{db: db, store: st, clock: c, notifier: n, orch: o}
}

func (h *harness) addJob(t *testing.T, url string, iv schedule.Interval, mode schedule.Mode) *store.Job {
	t.Helper()
	j := &store.Job{
		URL:       url,
		Recipient: "ops@example.org",
		Interval:  iv,
		Mode:      mode,
		NextRun:   h.clock.Now().UnixMilli(),
		CreatedAt: h.clock.Now().Add(-iv.Duration()).UnixMilli(),
	}
	if _, err := h.store.CreateJob(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	return j
}

func (h *harness) job(t *testing.T, id string) *store.Job {
	t.Helper()
	j, err := h.store.GetJob(context.Background(), id)
	if err != nil || j == nil {
		t.Fatalf("GetJob(%s): %v, %v", id, j, err)
	}
	return j
}

var oneDay = schedule.Interval{Value: 1, Unit: schedule.Days}

func TestPoll_FirstRunPersistsAndNotifies(t *testing.T) {
	// WHAT: A due continuous job with no history records scheduled_success,
	// sends the update template and moves next_run by one day.
	ex := newScripted().on("https://example.org",
		returns(records.Record{"title": "A", "date": "2024-01-01", "link": "https://x"}))
	h := newHarness(t, ex)
	j := h.addJob(t, "https://example.org", oneDay, schedule.Continuous)

	h.orch.Poll(context.Background())

	a, err := h.store.LatestForURL(context.Background(), "https://example.org")
	if err != nil || a == nil {
		t.Fatalf("latest attempt: %v, %v", a, err)
	}
	if a.Status != store.StatusScheduledSuccess {
		t.Errorf("status = %q, want %q", a.Status, store.StatusScheduledSuccess)
	}
	if a.RecordCount != 1 || a.JobID != j.ID || a.Label != "Auto-CSS" {
		t.Errorf("attempt = %+v", a)
	}
	if len(h.notifier.calls) != 1 {
		t.Fatalf("notify calls = %d, want 1", len(h.notifier.calls))
	}
	call := h.notifier.calls[0]
	if call.duplicate || len(call.recs) != 1 || call.recipient != "ops@example.org" {
		t.Errorf("notify call = %+v", call)
	}
	got := h.job(t, j.ID)
	if want := t0.Add(24 * time.Hour).UnixMilli(); got.NextRun != want {
		t.Errorf("next_run = %d, want %d", got.NextRun, want)
	}
	if got.LastRun == nil || *got.LastRun != t0.UnixMilli() {
		t.Errorf("last_run = %v, want %d", got.LastRun, t0.UnixMilli())
	}
	if !got.Active || got.ClaimedUntil != nil {
		t.Errorf("active=%v claimed_until=%v", got.Active, got.ClaimedUntil)
	}
}

func TestPoll_SecondRunSameDayIsDuplicate(t *testing.T) {
	// WHAT: A same-day rerun returning the same records in another key order
	// uses the no-change template even though records were found.
	ex := newScripted().on("https://example.org",
		returns(records.Record{"title": "A", "date": "2024-01-01", "link": "https://x"}),
		returns(records.Record{"link": "https://x", "date": "2024-01-01", "title": "A"}))
	h := newHarness(t, ex)
	j := h.addJob(t, "https://example.org", schedule.Interval{Value: 30, Unit: schedule.Minutes}, schedule.Continuous)

	h.orch.Poll(context.Background())
	h.clock.Advance(30 * time.Minute)
	h.orch.Poll(context.Background())

	if len(h.notifier.calls) != 2 {
		t.Fatalf("notify calls = %d, want 2", len(h.notifier.calls))
	}
	second := h.notifier.calls[1]
	if !second.duplicate {
		t.Error("second run not flagged duplicate")
	}
	if len(second.recs) != 1 {
		t.Errorf("duplicate run records = %d, want 1", len(second.recs))
	}
	attempts, _ := h.store.ListAttemptsForURL(context.Background(), j.URL, 10)
	if len(attempts) != 2 || attempts[0].RecordCount != 1 {
		t.Errorf("attempts = %d", len(attempts))
	}
}

func TestPoll_ContinuousAdvancesByIntervalOnSuccessAndFailure(t *testing.T) {
	// WHAT: next_run grows by exactly one interval per run whatever the outcome.
	// WHY: A failing page must not be retried in a tight loop nor stall.
	ex := newScripted().on("https://a.example",
		returns(records.Record{"title": "1"}),
		fails(extract.ErrNetwork),
		returns(records.Record{"title": "2"}),
		fails(extract.ErrNoData))
	h := newHarness(t, ex)
	iv := schedule.Interval{Value: 10, Unit: schedule.Minutes}
	j := h.addJob(t, "https://a.example", iv, schedule.Continuous)

	prev := h.job(t, j.ID).NextRun
	for i := 0; i < 4; i++ {
		h.orch.Poll(context.Background())
		got := h.job(t, j.ID)
		if got.NextRun != prev+iv.Duration().Milliseconds() {
			t.Fatalf("run %d: next_run = %d, want %d", i, got.NextRun, prev+iv.Duration().Milliseconds())
		}
		if !got.Active {
			t.Fatalf("run %d: continuous job deactivated", i)
		}
		prev = got.NextRun
		h.clock.Advance(iv.Duration())
	}
}

func TestPoll_FailureRecordedWithEmptyPayload(t *testing.T) {
	// WHAT: A failed extraction is visible in history as failed with no records.
	// WHY: Operators observe failures without reading logs.
	ex := newScripted().on("https://down.example", fails(errors.New("dial tcp: connection refused")))
	h := newHarness(t, ex)
	h.addJob(t, "https://down.example", oneDay, schedule.Continuous)

	h.orch.Poll(context.Background())

	a, _ := h.store.LatestForURL(context.Background(), "https://down.example")
	if a == nil {
		t.Fatal("no attempt recorded")
	}
	if a.Status != store.StatusFailed || a.RecordCount != 0 || len(a.Records) != 0 {
		t.Errorf("attempt = %+v", a)
	}
	if a.Error == "" {
		t.Error("error text not stored")
	}
	if len(h.notifier.calls) != 0 {
		t.Errorf("notified on failure: %d calls", len(h.notifier.calls))
	}
}

func TestPoll_OneShotRunsOnce(t *testing.T) {
	// WHAT: A one-shot job is processed once, then inactive and never reclaimed.
	ex := newScripted().on("https://once.example", returns(records.Record{"title": "x"}))
	h := newHarness(t, ex)
	j := h.addJob(t, "https://once.example", oneDay, schedule.OneShot)
	before := h.job(t, j.ID).NextRun

	for i := 0; i < 3; i++ {
		h.orch.Poll(context.Background())
		h.clock.Advance(48 * time.Hour)
	}

	if n := ex.calls["https://once.example"]; n != 1 {
		t.Fatalf("extract calls = %d, want 1", n)
	}
	got := h.job(t, j.ID)
	if got.Active || got.State() != schedule.Inactive {
		t.Errorf("state = %q, want inactive", got.State())
	}
	if got.NextRun != before {
		t.Errorf("next_run changed: %d -> %d", before, got.NextRun)
	}
}

func TestPoll_OneJobFailureDoesNotAffectOthers(t *testing.T) {
	// WHAT: A panicking extractor for one job leaves the others processed.
	ex := newScripted().
		on("https://boom.example", func() ([]records.Record, error) { panic("selector exploded") }).
		on("https://ok1.example", returns(records.Record{"title": "1"})).
		on("https://ok2.example", fails(extract.ErrNetwork))
	h := newHarness(t, ex)
	h.addJob(t, "https://boom.example", oneDay, schedule.Continuous)
	ok1 := h.addJob(t, "https://ok1.example", oneDay, schedule.Continuous)
	ok2 := h.addJob(t, "https://ok2.example", oneDay, schedule.Continuous)

	h.orch.Poll(context.Background())

	for _, j := range []*store.Job{ok1, ok2} {
		if got := h.job(t, j.ID); got.LastRun == nil {
			t.Errorf("job %s not processed", j.URL)
		}
	}
}

func TestPoll_PanicRecordedAsFailedAttempt(t *testing.T) {
	// WHAT: A panicking extractor leaves a failed attempt carrying the panic
	// text and the schedule advances as for any extraction failure.
	// WHY: Otherwise the job stays leased, is re-run after every lease
	// expiry and history never shows why.
	ex := newScripted().on("https://boom.example", func() ([]records.Record, error) { panic("selector exploded") })
	h := newHarness(t, ex)
	j := h.addJob(t, "https://boom.example", oneDay, schedule.Continuous)

	h.orch.Poll(context.Background())

	a, err := h.store.LatestForURL(context.Background(), j.URL)
	if err != nil || a == nil {
		t.Fatalf("latest attempt: %v, %v", a, err)
	}
	if a.Status != store.StatusFailed || a.JobID != j.ID {
		t.Errorf("attempt = %+v", a)
	}
	if !strings.Contains(a.Error, "selector exploded") {
		t.Errorf("error = %q, want the panic text", a.Error)
	}
	got := h.job(t, j.ID)
	if want := t0.Add(24 * time.Hour).UnixMilli(); got.NextRun != want {
		t.Errorf("next_run = %d, want %d", got.NextRun, want)
	}
	if got.ClaimedUntil != nil {
		t.Errorf("claimed_until = %d, want released", *got.ClaimedUntil)
	}
	if len(h.notifier.calls) != 0 {
		t.Errorf("notified on panic: %d calls", len(h.notifier.calls))
	}
}

func TestExtractNow_PanicIsFailedAttempt(t *testing.T) {
	ex := newScripted().on("https://boom.example", func() ([]records.Record, error) { panic("nil selection") })
	h := newHarness(t, ex)

	res, err := h.orch.ExtractNow(context.Background(), "https://boom.example", "me@example.org")
	if !errors.Is(err, ErrExtractorPanic) {
		t.Fatalf("err = %v, want ErrExtractorPanic", err)
	}
	if res == nil || res.Attempt.Status != store.StatusFailed {
		t.Fatalf("result = %+v", res)
	}
}

var errStoreDown = errors.New("store down")

// failingHistory fails AppendAttempt for one URL while failing is set.
type failingHistory struct {
	HistoryStore
	url     string
	failing bool
}

func (f *failingHistory) AppendAttempt(ctx context.Context, a *store.Attempt) error {
	if f.failing && a.URL == f.url {
		return errStoreDown
	}
	return f.HistoryStore.AppendAttempt(ctx, a)
}

// failingJobs fails AdvanceAfterRun for one job while failing is set.
type failingJobs struct {
	JobStore
	id      string
	failing bool
}

func (f *failingJobs) AdvanceAfterRun(ctx context.Context, id string, out schedule.Outcome) error {
	if f.failing && id == f.id {
		return errStoreDown
	}
	return f.JobStore.AdvanceAfterRun(ctx, id, out)
}

func TestPoll_StoreFailureAbortsOnlyThatJob(t *testing.T) {
	// WHAT: A store failure while recording or advancing one job aborts that
	// job only. Its next_run is untouched, it stays claimed, and it is
	// picked up again once the lease expires.
	// WHY: A transient database error must neither lose the run nor stall
	// the other jobs of the same poll.
	ex := newScripted().
		on("https://hist.example", returns(records.Record{"title": "h"})).
		on("https://adv.example", returns(records.Record{"title": "a"})).
		on("https://ok.example", returns(records.Record{"title": "o"}))
	h := newHarness(t, ex)
	histJob := h.addJob(t, "https://hist.example", oneDay, schedule.Continuous)
	advJob := h.addJob(t, "https://adv.example", oneDay, schedule.Continuous)
	okJob := h.addJob(t, "https://ok.example", oneDay, schedule.Continuous)

	hist := &failingHistory{HistoryStore: h.store, url: histJob.URL, failing: true}
	jobs := &failingJobs{JobStore: h.store, id: advJob.ID, failing: true}
	h.orch = New(jobs, hist, ex, h.notifier, h.orch.cfg)

	h.orch.Poll(context.Background())

	dayLater := t0.Add(24 * time.Hour).UnixMilli()
	if got := h.job(t, okJob.ID); got.NextRun != dayLater || got.LastRun == nil {
		t.Errorf("sibling job: next_run=%d last_run=%v, want %d and set", got.NextRun, got.LastRun, dayLater)
	}
	if a, _ := h.store.LatestForURL(context.Background(), okJob.URL); a == nil {
		t.Error("sibling job: no attempt recorded")
	}
	for _, j := range []*store.Job{histJob, advJob} {
		got := h.job(t, j.ID)
		if got.NextRun != t0.UnixMilli() {
			t.Errorf("%s: next_run = %d, want unchanged %d", j.URL, got.NextRun, t0.UnixMilli())
		}
		if got.ClaimedUntil == nil {
			t.Errorf("%s: lease released after a store failure", j.URL)
		}
	}
	if a, _ := h.store.LatestForURL(context.Background(), histJob.URL); a != nil {
		t.Errorf("failed append still stored an attempt: %+v", a)
	}

	// Within the lease nothing is reclaimed.
	h.orch.Poll(context.Background())
	if n := ex.calls[histJob.URL]; n != 1 {
		t.Fatalf("reclaimed inside the lease: %d calls", n)
	}

	hist.failing, jobs.failing = false, false
	h.clock.Advance(16 * time.Minute)
	h.orch.Poll(context.Background())

	for _, j := range []*store.Job{histJob, advJob} {
		got := h.job(t, j.ID)
		if got.NextRun <= t0.UnixMilli() || got.ClaimedUntil != nil {
			t.Errorf("%s after lease: next_run=%d claimed_until=%v", j.URL, got.NextRun, got.ClaimedUntil)
		}
		if n := ex.calls[j.URL]; n != 2 {
			t.Errorf("%s: extract calls = %d, want 2", j.URL, n)
		}
	}
	if n := ex.calls[okJob.URL]; n != 1 {
		t.Errorf("sibling re-run: %d calls, want 1", n)
	}
}

func TestPoll_UndecodableHistoryIsNotDuplicate(t *testing.T) {
	// WHAT: A stored payload that cannot be decoded counts as no baseline.
	// The run is recorded, notified as an update and the schedule advances.
	// WHY: Failing the comparison would abort the job before recording and
	// repeat that on every lease expiry.
	ex := newScripted().on("https://c.example", returns(records.Record{"title": "A"}))
	h := newHarness(t, ex)
	iv := schedule.Interval{Value: 30, Unit: schedule.Minutes}
	j := h.addJob(t, "https://c.example", iv, schedule.Continuous)

	h.orch.Poll(context.Background())
	if _, err := h.db.Exec(`UPDATE attempts SET payload = '{bad'`); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(iv.Duration())
	h.orch.Poll(context.Background())

	if len(h.notifier.calls) != 2 {
		t.Fatalf("notify calls = %d, want 2", len(h.notifier.calls))
	}
	if h.notifier.calls[1].duplicate {
		t.Error("run after an undecodable baseline flagged duplicate")
	}
	if want := t0.Add(2 * iv.Duration()).UnixMilli(); h.job(t, j.ID).NextRun != want {
		t.Errorf("next_run = %d, want %d", h.job(t, j.ID).NextRun, want)
	}
	if a, err := h.store.LatestForURL(context.Background(), j.URL); err != nil || a == nil || a.Status != store.StatusScheduledSuccess {
		t.Errorf("latest attempt = %+v, %v", a, err)
	}

	if _, err := h.db.Exec(`UPDATE attempts SET payload = '{bad'`); err != nil {
		t.Fatal(err)
	}
	res, err := h.orch.ExtractNow(context.Background(), j.URL, "me@example.org")
	if err != nil {
		t.Fatalf("manual extract: %v", err)
	}
	if res.Duplicate {
		t.Error("manual run after an undecodable baseline flagged duplicate")
	}
}

func TestPoll_NotDueJobsUntouched(t *testing.T) {
	ex := newScripted().on("https://later.example", returns(records.Record{"title": "x"}))
	h := newHarness(t, ex)
	j := &store.Job{
		URL: "https://later.example", Recipient: "r@example.org",
		Interval: oneDay, Mode: schedule.Continuous,
		NextRun: t0.Add(time.Hour).UnixMilli(), CreatedAt: t0.UnixMilli(),
	}
	h.store.CreateJob(context.Background(), j)

	h.orch.Poll(context.Background())

	if n := ex.calls["https://later.example"]; n != 0 {
		t.Fatalf("extract calls = %d, want 0", n)
	}
}

func TestPoll_PausedDuringRunStaysPaused(t *testing.T) {
	// WHAT: Pausing a job while its extraction runs is not undone by completion.
	var h *harness
	var jobID string
	ex := newScripted().on("https://slow.example", func() ([]records.Record, error) {
		if _, err := h.store.SetActive(context.Background(), jobID, false); err != nil {
			t.Errorf("SetActive: %v", err)
		}
		return []records.Record{{"title": "x"}}, nil
	})
	h = newHarness(t, ex)
	jobID = h.addJob(t, "https://slow.example", oneDay, schedule.Continuous).ID

	h.orch.Poll(context.Background())

	if h.job(t, jobID).Active {
		t.Fatal("paused job re-activated by completion")
	}
}

func TestIsDuplicate(t *testing.T) {
	base := []records.Record{{"title": "A", "date": "2024-01-01"}, {"title": "B", "link": "https://b"}}
	tests := []struct {
		name    string
		prior   []records.Record
		priorAt time.Time
		recs    []records.Record
		want    bool
	}{
		{"no history", nil, time.Time{}, base, false},
		{"same set reordered", base, t0.Add(-time.Hour),
			[]records.Record{{"link": "https://b", "title": "B"}, {"date": "2024-01-01", "title": "A"}}, true},
		{"field differs", base, t0.Add(-time.Hour),
			[]records.Record{{"title": "A", "date": "2024-01-02"}, {"title": "B", "link": "https://b"}}, false},
		{"identical but yesterday", base, t0.Add(-24 * time.Hour), base, false},
		{"both empty same day", []records.Record{}, t0.Add(-time.Minute), []records.Record{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, newScripted())
			if tt.prior != nil {
				err := h.store.AppendAttempt(context.Background(), &store.Attempt{
					URL: "https://d.example", Status: store.StatusSuccess,
					Records: tt.prior, CreatedAt: tt.priorAt.UnixMilli(),
				})
				if err != nil {
					t.Fatal(err)
				}
			}
			got, err := h.orch.IsDuplicate(context.Background(), "https://d.example", tt.recs)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("IsDuplicate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsDuplicate_LocalDay(t *testing.T) {
	// WHAT: "Today" follows the configured location, not UTC.
	// WHY: 23:30 and 00:30 UTC are the same day in UTC-05:00.
	loc := time.FixedZone("UTC-5", -5*3600)
	h := newHarness(t, newScripted())
	h.orch.cfg.Location = loc
	h.clock.now = time.Date(2024, 1, 2, 0, 30, 0, 0, time.UTC)

	recs := []records.Record{{"title": "A"}}
	h.store.AppendAttempt(context.Background(), &store.Attempt{
		URL: "https://tz.example", Status: store.StatusSuccess, Records: recs,
		CreatedAt: time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC).UnixMilli(),
	})

	got, err := h.orch.IsDuplicate(context.Background(), "https://tz.example", recs)
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Fatal("same local day not detected")
	}
}

func TestExtractNow_SharesBaselineWithSchedule(t *testing.T) {
	// WHAT: A manual extraction after a scheduled run on the same day is a
	// repeated check and uses the manual template.
	ex := newScripted().on("https://m.example", returns(records.Record{"title": "A"}))
	h := newHarness(t, ex)
	h.addJob(t, "https://m.example", oneDay, schedule.Continuous)
	h.orch.Poll(context.Background())
	h.clock.Advance(time.Hour)

	res, err := h.orch.ExtractNow(context.Background(), "https://m.example", "me@example.org")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Duplicate || !res.Notified || !res.Delivered {
		t.Errorf("result = %+v", res)
	}
	if res.Attempt.Status != store.StatusSuccess || res.Attempt.JobID != "" {
		t.Errorf("attempt = %+v", res.Attempt)
	}
	last := h.notifier.calls[len(h.notifier.calls)-1]
	if !last.manual || !last.duplicate || last.recipient != "me@example.org" {
		t.Errorf("notify call = %+v", last)
	}
}

func TestExtractNow_FailureRecorded(t *testing.T) {
	ex := newScripted().on("https://bad.example", fails(extract.ErrFormat))
	h := newHarness(t, ex)

	res, err := h.orch.ExtractNow(context.Background(), "https://bad.example", "")
	if !errors.Is(err, records.ErrFormat) {
		t.Fatalf("err = %v, want ErrFormat", err)
	}
	if res == nil || res.Attempt.Status != store.StatusFailed {
		t.Fatalf("result = %+v", res)
	}
	if len(h.notifier.calls) != 0 {
		t.Error("notified on failure")
	}
}

func TestExtractNow_NoRecipientNoNotify(t *testing.T) {
	ex := newScripted().on("https://q.example", returns(records.Record{"title": "A"}))
	h := newHarness(t, ex)

	res, err := h.orch.ExtractNow(context.Background(), "https://q.example", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Notified || len(h.notifier.calls) != 0 {
		t.Errorf("notified without recipient: %+v", res)
	}
}
