package hypervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	libvirt "github.com/digitalocean/go-libvirt"
)

// LifecycleEventType mirrors libvirt's VIR_DOMAIN_EVENT_* lifecycle codes.
type LifecycleEventType int32

const (
	EventDefined LifecycleEventType = iota
	EventUndefined
	EventStarted
	EventSuspended
	EventResumed
	EventStopped
	EventShutdown
	EventPMSuspended
	EventCrashed
)

// LifecycleEvent is one asynchronous domain notification from the daemon.
type LifecycleEvent struct {
	Domain Domain
	Type   LifecycleEventType
	Detail int32
}

// Handler receives lifecycle events on the event loop's goroutine. Handlers
// must not block; long work belongs on the handler's own goroutine.
type Handler func(ctx context.Context, ev LifecycleEvent)

// EventLoop owns the single event stream from the daemon. The main goroutine
// must wait for Running before registering handlers: subscribing before the
// daemon's internal timer is up fails with a well-known libvirt error.
type EventLoop struct {
	conn *LibvirtConnection

	mu       sync.Mutex
	handlers []Handler

	running atomic.Bool
	done    chan struct{}
}

// NewEventLoop binds an event loop to conn. Run must be called on a
// dedicated goroutine.
func NewEventLoop(conn *LibvirtConnection) *EventLoop {
	return &EventLoop{
		conn: conn,
		done: make(chan struct{}),
	}
}

// Register adds a handler for subsequent events. Call only after WaitRunning
// has returned.
func (e *EventLoop) Register(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

// Deregister drops every handler; in-flight dispatches complete first.
func (e *EventLoop) Deregister() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = nil
}

// Running reports whether the event stream is established.
func (e *EventLoop) Running() bool {
	return e.running.Load()
}

// WaitRunning polls Running until it reports true or timeout elapses.
func (e *EventLoop) WaitRunning(ctx context.Context, timeout time.Duration) error {
	deadline := time.After(timeout)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		if e.running.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("event loop not running after %s", timeout)
		case <-tick.C:
		}
	}
}

// Run subscribes to the daemon's lifecycle event stream and dispatches until
// ctx is cancelled or the stream closes.
func (e *EventLoop) Run(ctx context.Context) error {
	defer close(e.done)

	events, err := e.conn.Raw().LifecycleEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to lifecycle events: %w", err)
	}

	e.running.Store(true)
	defer e.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-events:
			if !ok {
				return nil
			}
			e.dispatch(ctx, msg)
		}
	}
}

// Done is closed once Run has returned.
func (e *EventLoop) Done() <-chan struct{} {
	return e.done
}

func (e *EventLoop) dispatch(ctx context.Context, msg libvirt.DomainEventLifecycleMsg) {
	ev := LifecycleEvent{
		Domain: &libvirtDomain{l: e.conn.Raw(), d: msg.Dom},
		Type:   LifecycleEventType(msg.Event),
		Detail: msg.Detail,
	}

	e.mu.Lock()
	handlers := make([]Handler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.Unlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}
