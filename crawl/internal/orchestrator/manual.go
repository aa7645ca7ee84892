package orchestrator

import (
	"context"
	"fmt"

	"github.com/hazyhaar/pagewatch/crawl/internal/records"
	"github.com/hazyhaar/pagewatch/crawl/internal/store"
	"github.com/hazyhaar/pagewatch/kit"
	"github.com/hazyhaar/pagewatch/observability"
)

// ManualResult is the outcome of an operator-triggered extraction.
type ManualResult struct {
	Attempt   *store.Attempt   `json:"attempt"`
	Records   []records.Record `json:"data"`
	Duplicate bool             `json:"duplicate"`
	Notified  bool             `json:"notified"`
	Delivered bool             `json:"delivered"`
}

// ExtractNow runs the extractor once for url outside any schedule. The
// attempt is recorded under the same url key as scheduled runs, so both
// triggers share one duplicate baseline. When recipient is non-empty the
// result is sent with the manual templates. An extraction failure is
// recorded and returned.
func (o *Orchestrator) ExtractNow(ctx context.Context, url, recipient string) (*ManualResult, error) {
	recs, status, extractErr := o.runExtraction(ctx, url, store.StatusSuccess)

	res := &ManualResult{Records: recs}
	if extractErr == nil {
		res.Duplicate = o.checkDuplicate(ctx, url, recs)
	}

	res.Attempt = &store.Attempt{
		URL:       url,
		Label:     o.extractor.Label(),
		Status:    status,
		Records:   recs,
		CreatedAt: o.cfg.Now().UnixMilli(),
	}
	if extractErr != nil {
		res.Attempt.Error = extractErr.Error()
	}
	if err := o.history.AppendAttempt(ctx, res.Attempt); err != nil {
		return nil, fmt.Errorf("append attempt: %w", err)
	}

	if extractErr == nil && recipient != "" {
		res.Notified = true
		res.Delivered = o.notifier.NotifyManual(ctx, recipient, recs, res.Duplicate)
	}

	o.cfg.Events.LogEvent(ctx, observability.BusinessEvent{
		EventType:  observability.EventManualExtract,
		EntityType: "attempt",
		EntityID:   res.Attempt.ID,
		Actor:      actorFrom(ctx),
		Success:    extractErr == nil,
		Details: map[string]any{
			"url":       url,
			"records":   len(recs),
			"duplicate": res.Duplicate,
			"delivered": res.Delivered,
		},
	})

	if extractErr != nil {
		o.cfg.Logger.WarnContext(ctx, "orchestrator: manual extract failed", "url", url, "error", extractErr)
		return res, extractErr
	}
	o.cfg.Logger.InfoContext(ctx, "orchestrator: manual extract",
		"url", url,
		"records", len(recs),
		"duplicate", res.Duplicate,
		"delivered", res.Delivered)
	return res, nil
}

func actorFrom(ctx context.Context) string {
	if a := kit.GetActor(ctx); a != "" {
		return a
	}
	return "operator"
}
