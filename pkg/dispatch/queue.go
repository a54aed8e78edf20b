package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c9s/goprocinfo/linux"

	"github.com/jimv/vmagent/pkg/bus"
	"github.com/jimv/vmagent/pkg/emitter"
	"github.com/jimv/vmagent/pkg/guest"
	"github.com/jimv/vmagent/pkg/log"
	"github.com/jimv/vmagent/pkg/metrics"
)

// loadAvgPath is where the 5-minute load average comes from.
const loadAvgPath = "/proc/loadavg"

// QueueConsumer pops the heavy create-family instructions off the downstream
// queue, one per iteration, pacing itself by host load.
type QueueConsumer struct {
	bus       bus.Bus
	queue     string
	env       *guest.Env
	ops       map[string]guest.Operation
	responses *emitter.ResponseEmitter
	logEmit   *emitter.LogEmitter

	// hostCPUCount bounds the admission-control threshold.
	hostCPUCount int

	// loadAvg and sleep are swapped out by tests.
	loadAvg func() (float64, error)
	sleep   func(context.Context, time.Duration)
}

// NewQueueConsumer wires a consumer for queue. env.Scene must be set; the
// consumer owns dirty-scene cleanup between iterations.
func NewQueueConsumer(b bus.Bus, queue string, env *guest.Env, responses *emitter.ResponseEmitter,
	logEmit *emitter.LogEmitter, hostCPUCount int) *QueueConsumer {

	return &QueueConsumer{
		bus:          b,
		queue:        queue,
		env:          env,
		ops:          guest.QueueOps(),
		responses:    responses,
		logEmit:      logEmit,
		hostCPUCount: hostCPUCount,
		loadAvg:      readLoadAvg,
		sleep:        sleepCtx,
	}
}

// Run consumes until ctx is cancelled.
func (c *QueueConsumer) Run(ctx context.Context) {
	logger := log.WithComponent("queue-consumer")
	logger.Info().Str("queue", c.queue).Msg("queue consumer started")

	for ctx.Err() == nil {
		c.iterate(ctx)
	}

	logger.Info().Msg("queue consumer stopped")
}

// iterate is one admission-controlled pop-and-dispatch cycle.
func (c *QueueConsumer) iterate(ctx context.Context) {
	// A crash between image copy and domain definition last cycle left an
	// orphaned image; remove it before taking new work.
	if err := c.env.Scene.Cleanup(ctx); err != nil {
		log.Logger.Warn().Err(err).Msg("failed to clear dirty scene")
		c.logEmit.Warn(ctx, "failed to clear dirty scene: "+err.Error())
	}

	load, err := c.loadAvg()
	if err != nil {
		log.Logger.Warn().Err(err).Msg("failed to read load average")
		load = 0
	}

	// The pause grows with load; +1 keeps an idle host from spinning.
	c.sleep(ctx, time.Duration(load*10+1)*time.Second)
	if ctx.Err() != nil {
		return
	}

	// Admission control: a loaded host takes no new guests this cycle.
	if load > float64(c.hostCPUCount)*0.6 {
		metrics.AdmissionSkips.Inc()
		return
	}

	payload, err := c.bus.LPop(ctx, c.queue)
	if errors.Is(err, bus.ErrEmpty) {
		return
	}
	if err != nil {
		log.Logger.Error().Err(err).Msg("failed to pop downstream queue")
		return
	}

	msg, ok := decodeInstruction(ctx, c.logEmit, payload)
	if !ok {
		return
	}

	op, ok := c.ops[msg.Action]
	if !ok {
		log.Logger.Debug().Str("action", msg.Action).Msg("action not handled on the queue path")
		return
	}

	timer := metrics.NewTimer()
	res := op(ctx, c.env, nil, msg)
	timer.ObserveDurationVec(metrics.DispatchDuration, msg.Action)

	respond(ctx, c.responses, c.logEmit, msg, res)
}

func readLoadAvg() (float64, error) {
	la, err := linux.ReadLoadAvg(loadAvgPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", loadAvgPath, err)
	}
	return la.Last5Min, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
