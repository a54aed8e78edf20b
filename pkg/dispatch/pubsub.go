package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jimv/vmagent/pkg/bus"
	"github.com/jimv/vmagent/pkg/emitter"
	"github.com/jimv/vmagent/pkg/guest"
	"github.com/jimv/vmagent/pkg/log"
	"github.com/jimv/vmagent/pkg/metrics"
)

// receiveTimeout bounds each blocking read so cancellation is noticed.
const receiveTimeout = time.Second

// pongMessage answers keep-alive pings on the same channel.
const pongMessage = `{"action":"pong"}`

// PubSubConsumer subscribes to the instruction channel and dispatches the
// interactive guest operations.
type PubSubConsumer struct {
	bus       bus.Bus
	channel   string
	env       *guest.Env
	ops       map[string]guest.Operation
	responses *emitter.ResponseEmitter
	logEmit   *emitter.LogEmitter
	hostname  string
	debug     bool
}

// NewPubSubConsumer wires a consumer for channel.
func NewPubSubConsumer(b bus.Bus, channel string, env *guest.Env, responses *emitter.ResponseEmitter,
	logEmit *emitter.LogEmitter, hostname string, debug bool) *PubSubConsumer {

	return &PubSubConsumer{
		bus:       b,
		channel:   channel,
		env:       env,
		ops:       guest.ChannelOps(),
		responses: responses,
		logEmit:   logEmit,
		hostname:  hostname,
		debug:     debug,
	}
}

// Run subscribes and consumes until ctx is cancelled.
func (c *PubSubConsumer) Run(ctx context.Context) error {
	logger := log.WithComponent("pubsub-consumer")

	sub, err := c.bus.Subscribe(ctx, c.channel)
	if err != nil {
		return err
	}
	defer sub.Close()

	logger.Info().Str("channel", c.channel).Msg("instruction consumer started")

	for ctx.Err() == nil {
		payload, err := sub.Receive(ctx, receiveTimeout)
		if errors.Is(err, bus.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error().Err(err).Msg("failed to receive instruction")
			continue
		}

		c.handle(ctx, payload)
	}

	logger.Info().Msg("instruction consumer stopped")
	return nil
}

// handle processes one channel payload: keep-alive first, then dispatch.
func (c *PubSubConsumer) handle(ctx context.Context, payload string) {
	// The ping/pong pair only keeps the subscription warm; it must be
	// answered before any dispatch work and must cause nothing else.
	var probe struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal([]byte(payload), &probe); err != nil {
		log.Logger.Error().Err(err).Msg("undecodable channel payload")
		c.logEmit.Error(ctx, "undecodable channel payload: "+err.Error())
		return
	}

	switch probe.Action {
	case "pong":
		return
	case "ping":
		if err := c.bus.Publish(ctx, c.channel, pongMessage); err != nil {
			log.Logger.Error().Err(err).Msg("failed to answer ping")
		}
		return
	}

	msg, ok := decodeInstruction(ctx, c.logEmit, payload)
	if !ok {
		return
	}
	if msg.Action == "" || msg.UUID == "" {
		return
	}

	mapping, err := refreshGuestMapping(ctx, c.env.Conn)
	if err != nil {
		log.Logger.Error().Err(err).Msg("failed to refresh guest mapping")
		return
	}

	dom, ok := mapping[msg.UUID]
	if !ok {
		// The control plane broadcasts; most instructions belong to some
		// other host and are dropped without a response.
		if c.debug {
			log.WithGuestID(msg.UUID).Debug().
				Str("host", c.hostname).Msg("uuid not on this host")
		}
		return
	}

	op, ok := c.ops[msg.Action]
	if !ok {
		log.Logger.Error().Str("action", msg.Action).Msg("unsupported action")
		c.logEmit.Error(ctx, "unsupported action: "+msg.Action)
		return
	}

	timer := metrics.NewTimer()
	res := op(ctx, c.env, dom, msg)
	timer.ObserveDurationVec(metrics.DispatchDuration, msg.Action)

	respond(ctx, c.responses, c.logEmit, msg, res)
}
