// Package lifecycle translates asynchronous hypervisor callbacks into
// guest_event emissions: state transitions on lifecycle events, definition
// refreshes on define events.
package lifecycle

import (
	"context"

	"github.com/jimv/vmagent/pkg/emitter"
	"github.com/jimv/vmagent/pkg/guest"
	"github.com/jimv/vmagent/pkg/guestagent"
	"github.com/jimv/vmagent/pkg/hypervisor"
	"github.com/jimv/vmagent/pkg/log"
	"github.com/jimv/vmagent/pkg/metrics"
)

// Engine owns the handler registered with the event loop.
type Engine struct {
	loop   *hypervisor.EventLoop
	events *emitter.GuestEventEmitter
	agent  *guestagent.Channel
}

// NewEngine wires an engine to the event loop.
func NewEngine(loop *hypervisor.EventLoop, events *emitter.GuestEventEmitter, agent *guestagent.Channel) *Engine {
	return &Engine{loop: loop, events: events, agent: agent}
}

// Register subscribes the engine's handler. Call only after the event loop
// reports running.
func (e *Engine) Register() {
	e.loop.Register(e.handle)
}

// Deregister drops every handler on the loop.
func (e *Engine) Deregister() {
	e.loop.Deregister()
}

func (e *Engine) handle(ctx context.Context, ev hypervisor.LifecycleEvent) {
	metrics.LifecycleEvents.Inc()

	switch ev.Type {
	case hypervisor.EventDefined:
		e.emitUpdate(ctx, ev.Domain)
	case hypervisor.EventUndefined:
		// The domain is gone; there is no state left to read.
	default:
		e.emitState(ctx, ev.Domain)
	}
}

// emitState reads the domain's current state and publishes it.
func (e *Engine) emitState(ctx context.Context, dom hypervisor.Domain) {
	state, err := guest.State(ctx, e.agent, dom)
	if err != nil {
		log.WithGuestID(dom.UUIDString()).Warn().Err(err).Msg("failed to read domain state")
		return
	}

	log.WithGuestID(dom.UUIDString()).Info().
		Str("state", string(state)).Msg("domain state changed")
	e.events.State(ctx, state, dom.UUIDString())
}

// emitUpdate re-fetches the definition, secrets included, and publishes it.
func (e *Engine) emitUpdate(ctx context.Context, dom hypervisor.Domain) {
	xml, err := dom.XMLDesc(ctx, hypervisor.XMLSecure)
	if err != nil {
		log.WithGuestID(dom.UUIDString()).Warn().Err(err).Msg("failed to fetch definition")
		return
	}
	if xml == "" {
		return
	}

	e.events.Update(ctx, dom.UUIDString(), xml)
}
