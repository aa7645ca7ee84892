package notify

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotDelivered is logged when every channel in the chain failed.
var ErrNotDelivered = errors.New("notify: message not delivered")

// Channel delivers a rendered message. An error means the message did not
// leave; the Dispatcher then tries the next channel.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// SendError is returned by a channel whose transport failed.
type SendError struct {
	Channel string
	Cause   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("notify: send via %s failed: %v", e.Channel, e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }
