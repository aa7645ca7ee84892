package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/pagewatch/crawl/internal/records"
)

// RetryConfig configures Retrying.
type RetryConfig struct {
	// PreDelay is waited once before the first call.
	PreDelay time.Duration
	// MaxRetries is the number of retries after the first call. Default: 3.
	// Negative disables retries.
	MaxRetries int
	// BaseBackoff is the wait before retry i: BaseBackoff * 2^i. Default: 2s.
	BaseBackoff time.Duration
	// Sleep waits for d or until ctx is done. Default: a timer select.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

func (c *RetryConfig) defaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Retrying wraps an Extractor with a courtesy delay and exponential backoff
// on failures wrapping ErrRateLimit. Any other failure is returned
// immediately.
type Retrying struct {
	inner Extractor
	cfg   RetryConfig
}

// WithRetry wraps inner.
func WithRetry(inner Extractor, cfg RetryConfig) *Retrying {
	cfg.defaults()
	return &Retrying{inner: inner, cfg: cfg}
}

func (r *Retrying) Label() string { return r.inner.Label() }

func (r *Retrying) Extract(ctx context.Context, url string) ([]records.Record, error) {
	if r.cfg.PreDelay > 0 {
		if err := r.cfg.Sleep(ctx, r.cfg.PreDelay); err != nil {
			return nil, err
		}
	}

	for attempt := 0; ; attempt++ {
		rs, err := r.inner.Extract(ctx, url)
		if err == nil {
			return rs, nil
		}
		if !IsRateLimit(err) || ctx.Err() != nil {
			return nil, err
		}
		if attempt >= r.cfg.MaxRetries {
			return nil, fmt.Errorf("extract: gave up after %d attempts: %w", attempt+1, err)
		}

		wait := r.cfg.BaseBackoff * (1 << uint(attempt))
		r.cfg.Logger.WarnContext(ctx, "extract: rate limited, backing off",
			"url", url,
			"attempt", attempt+1,
			"max_retries", r.cfg.MaxRetries,
			"backoff_ms", wait.Milliseconds(),
			"error", err)
		if err := r.cfg.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
