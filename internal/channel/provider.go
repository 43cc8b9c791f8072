// Package channel abstracts the realtime transport a subscription is kept
// alive on: something that can open a named channel, report lifecycle status
// for it, and close it again.
package channel

import "context"

type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

// StatusFunc receives lifecycle events for an open channel. It may be invoked
// multiple times for the same underlying fault.
type StatusFunc func(status Status)

// Handle is an opaque reference to one open channel. At most one live handle
// per subscription exists at a time; ownership stays with whoever opened it.
type Handle interface {
	Topic() string
}

type Provider interface {
	// Open establishes a subscription to topic and reports lifecycle events
	// through onStatus. An error return is equivalent to a later
	// StatusChannelError: the channel never became usable.
	Open(ctx context.Context, topic string, onStatus StatusFunc) (Handle, error)

	// Close releases the channel behind handle. It is idempotent and
	// best-effort; closing an already-closed handle is not an error.
	Close(handle Handle) error
}
