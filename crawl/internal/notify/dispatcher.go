package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/pagewatch/crawl/internal/records"
)

// Config selects which channels a Dispatcher chains. Webhook is used when
// its URL is set and SMTP when credentials are set; simulate always closes
// the chain.
type Config struct {
	Webhook WebhookConfig `yaml:"webhook"`
	SMTP    SMTPConfig    `yaml:"smtp"`
}

// Dispatcher renders messages and delivers them through a fallback chain.
type Dispatcher struct {
	channels []Channel
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithClock sets the time source used for message timestamps.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// NewDispatcher chains channels in the given order.
func NewDispatcher(channels []Channel, opts ...Option) *Dispatcher {
	d := &Dispatcher{channels: channels, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(d)
	}
	return d
}

// FromConfig builds the webhook → smtp → simulate chain. A channel whose
// config is invalid is left out with a warning rather than failing startup.
func FromConfig(cfg Config, opts ...Option) *Dispatcher {
	d := NewDispatcher(nil, opts...)

	if cfg.Webhook.URL != "" {
		if w, err := NewWebhook(cfg.Webhook); err != nil {
			d.logger.Warn("notify: webhook channel disabled", "error", err)
		} else {
			d.channels = append(d.channels, w)
		}
	}
	if cfg.SMTP.Enabled() {
		if s, err := NewSMTP(cfg.SMTP); err != nil {
			d.logger.Warn("notify: smtp channel disabled", "error", err)
		} else {
			d.channels = append(d.channels, s)
		}
	}
	d.channels = append(d.channels, &Simulate{Logger: d.logger})
	return d
}

// Channels returns the chain names in order.
func (d *Dispatcher) Channels() []string {
	names := make([]string, len(d.channels))
	for i, c := range d.channels {
		names[i] = c.Name()
	}
	return names
}

// Notify reports the result of a scheduled run.
func (d *Dispatcher) Notify(ctx context.Context, recipient string, recs []records.Record, duplicate bool) bool {
	return d.send(ctx, ScheduledKind(recs, duplicate), recipient, recs)
}

// NotifyManual reports the result of an operator-triggered extraction.
func (d *Dispatcher) NotifyManual(ctx context.Context, recipient string, recs []records.Record, duplicate bool) bool {
	return d.send(ctx, ManualKind(recs, duplicate), recipient, recs)
}

func (d *Dispatcher) send(ctx context.Context, kind Kind, recipient string, recs []records.Record) bool {
	msg, err := Compose(kind, recipient, recs, d.now())
	if err != nil {
		d.logger.ErrorContext(ctx, "notify: compose failed", "recipient", recipient, "error", err)
		return false
	}
	return d.Deliver(ctx, msg)
}

// Deliver tries each channel once, in order, and stops at the first success.
// It returns false when every channel failed; the failure is logged, never
// returned.
func (d *Dispatcher) Deliver(ctx context.Context, msg *Message) bool {
	for _, c := range d.channels {
		err := c.Send(ctx, msg)
		if err == nil {
			d.logger.InfoContext(ctx, "notify: delivered",
				"channel", c.Name(),
				"recipient", msg.Recipient,
				"kind", string(msg.Kind))
			return true
		}
		d.logger.WarnContext(ctx, "notify: channel failed, trying next",
			"channel", c.Name(),
			"recipient", msg.Recipient,
			"error", err)
	}
	d.logger.ErrorContext(ctx, "notify: all channels failed",
		"recipient", msg.Recipient,
		"kind", string(msg.Kind),
		"error", ErrNotDelivered)
	return false
}
