// Package bus is the agent's only channel to the control plane: a key/value
// store with list-queues and pub/sub channels. The concrete implementation is
// Redis; everything above this package talks to the Bus interface so tests
// can substitute an in-memory fake.
package bus

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is returned by LPop when the queue holds no message.
var ErrEmpty = errors.New("bus: queue is empty")

// Bus is the narrow contract the engines consume: list-queue pop/push for the
// downstream and upstream paths, pub/sub for the interactive instruction
// channel.
type Bus interface {
	// LPop removes and returns the left-most element of the named list, or
	// ErrEmpty when the list has no elements.
	LPop(ctx context.Context, queue string) (string, error)

	// RPush appends a message to the right end of the named list.
	RPush(ctx context.Context, queue string, message string) error

	// Publish sends a message to every subscriber of the named channel.
	Publish(ctx context.Context, channel string, message string) error

	// Subscribe opens a subscription on the named channel. The caller owns
	// the returned Subscription and must Close it.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Close releases the underlying connection pool.
	Close() error
}

// Subscription is one open pub/sub channel subscription.
type Subscription interface {
	// Receive waits up to timeout for the next payload. Subscription
	// confirmations and other non-message frames are skipped internally;
	// a timeout with nothing to deliver returns ErrEmpty.
	Receive(ctx context.Context, timeout time.Duration) (string, error)

	Close() error
}
