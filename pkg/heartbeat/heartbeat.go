// Package heartbeat is the host liveness beacon: a fixed-interval host_event
// emission carrying the node identity.
package heartbeat

import (
	"context"
	"time"

	"github.com/jimv/vmagent/pkg/emitter"
	"github.com/jimv/vmagent/pkg/log"
)

// interval between beacons.
const interval = 2 * time.Second

// Engine emits the beacon until cancelled.
type Engine struct {
	events *emitter.HostEventEmitter
	nodeID uint64
}

// NewEngine wires a heartbeat for nodeID.
func NewEngine(events *emitter.HostEventEmitter, nodeID uint64) *Engine {
	return &Engine{events: events, nodeID: nodeID}
}

// Run sleeps, beats, repeats.
func (e *Engine) Run(ctx context.Context) {
	logger := log.WithComponent("heartbeat")
	logger.Info().Uint64("node_id", e.nodeID).Msg("heartbeat started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("heartbeat stopped")
			return
		case <-ticker.C:
			e.events.Heartbeat(ctx, e.nodeID)
		}
	}
}
