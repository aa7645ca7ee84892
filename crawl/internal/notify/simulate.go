package notify

import (
	"context"
	"log/slog"
)

// Simulate logs the message instead of sending it. It always succeeds and
// ends every chain, so a deployment without credentials still reports
// delivered.
type Simulate struct {
	Logger *slog.Logger
}

func (s *Simulate) Name() string { return "simulate" }

func (s *Simulate) Send(ctx context.Context, msg *Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notify: simulated delivery",
		"recipient", msg.Recipient,
		"kind", string(msg.Kind),
		"subject", msg.Subject,
		"records", len(msg.Records))
	return nil
}
