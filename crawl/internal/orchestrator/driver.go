package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Poller is what the Driver ticks.
type Poller interface {
	Poll(ctx context.Context)
}

// Driver calls Poll on a fixed interval from one goroutine. Polls never
// overlap: a slow poll delays the next tick.
type Driver struct {
	poller   Poller
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDriver creates a Driver. interval <= 0 means 3 seconds.
func NewDriver(p Poller, interval time.Duration, logger *slog.Logger) *Driver {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{poller: p, interval: interval, logger: logger}
}

// Start launches the loop and polls once immediately. Calling Start on a
// running Driver does nothing.
func (d *Driver) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(ctx, d.done)
	d.logger.Info("orchestrator: driver started", "interval", d.interval.String())
}

// Stop cancels the loop and waits for an in-flight poll to return.
func (d *Driver) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	d.logger.Info("orchestrator: driver stopped")
}

// Running reports whether the loop is active.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

func (d *Driver) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.poller.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.poller.Poll(ctx)
		}
	}
}
