package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/pagewatch/idgen"
)

// Event types recorded by pagewatch.
const (
	EventScheduleCreated  = "schedule_created"
	EventSchedulePaused   = "schedule_paused"
	EventScheduleResumed  = "schedule_resumed"
	EventSchedulesStopped = "schedules_stopped"
	EventCrawlCompleted   = "crawl_completed"
	EventManualExtract    = "manual_extract"
)

// BusinessEvent is one domain-level event.
type BusinessEvent struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Actor      string         `json:"actor"`
	Details    map[string]any `json:"details,omitempty"`
	Success    bool           `json:"success"`
	CreatedAt  int64          `json:"created_at"`
}

// EventLogger writes business events. A nil *EventLogger is valid and
// records nothing.
type EventLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithEventClock overrides time.Now.
func WithEventClock(now func() time.Time) EventLoggerOption {
	return func(l *EventLogger) { l.now = now }
}

// WithEventSlog sets the logger used to report write failures.
func WithEventSlog(logger *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = logger }
}

// NewEventLogger creates an EventLogger on a database where Init has run.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records an event. Failures are logged and swallowed: a broken
// event table must never fail a crawl or an admin call.
func (l *EventLogger) LogEvent(ctx context.Context, ev BusinessEvent) {
	if l == nil {
		return
	}
	details := "{}"
	if len(ev.Details) > 0 {
		if b, err := json.Marshal(ev.Details); err == nil {
			details = string(b)
		}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO events (id, event_type, entity_type, entity_id, actor, details, success, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		l.newID(), ev.EventType, ev.EntityType, ev.EntityID, ev.Actor, details, ev.Success,
		l.now().UnixMilli())
	if err != nil {
		l.logger.Error("observability: event log failed", "error", err, "event_type", ev.EventType)
	}
}

// Recent returns the newest events first. limit <= 0 means 50.
func (l *EventLogger) Recent(ctx context.Context, limit int) ([]BusinessEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_type, entity_type, entity_id, actor, details, success, created_at
		FROM events ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: recent events: %w", err)
	}
	defer rows.Close()

	var out []BusinessEvent
	for rows.Next() {
		var (
			ev      BusinessEvent
			details string
		)
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.EntityType, &ev.EntityID, &ev.Actor,
			&details, &ev.Success, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		if details != "" && details != "{}" {
			json.Unmarshal([]byte(details), &ev.Details)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Cleanup deletes events older than days. Zero or negative keeps everything.
func (l *EventLogger) Cleanup(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := l.now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
	res, err := l.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup: %w", err)
	}
	return res.RowsAffected()
}
