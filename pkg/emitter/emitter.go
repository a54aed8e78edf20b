// Package emitter frames and publishes the agent's structured events onto the
// upstream queue: logs, guest/host events, command responses, and performance
// samples. Each typed emitter is a thin façade over one shared Emit primitive.
package emitter

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/jimv/vmagent/pkg/bus"
	"github.com/jimv/vmagent/pkg/log"
	"github.com/jimv/vmagent/pkg/metrics"
	"github.com/jimv/vmagent/pkg/types"
)

// backpressureDelay is how long Emit sleeps after a bus failure. The pause is
// deliberate: during an outage every engine keeps producing, and without it
// the retry loops would amplify the log volume the moment the bus returns.
const backpressureDelay = 5 * time.Second

// DeriveNodeID maps a hostname to a stable integer identity without central
// assignment: the MD5 of the hostname, read as one hexadecimal number,
// printed in decimal, truncated to its first 16 digits.
func DeriveNodeID(hostname string) uint64 {
	sum := md5.Sum([]byte(hostname))

	n := new(big.Int).SetBytes(sum[:])
	dec := n.String()
	if len(dec) > 16 {
		dec = dec[:16]
	}

	id, err := strconv.ParseUint(dec, 10, 64)
	if err != nil {
		// Unreachable: 16 decimal digits always fit in a uint64.
		return 0
	}
	return id
}

// Emitter owns the upstream queue name and the host identity stamped onto
// every message.
type Emitter struct {
	bus      bus.Bus
	queue    string
	hostname string
	nodeID   uint64

	// now is swapped out by tests.
	now func() time.Time
	// sleep is swapped out by tests to skip the backpressure delay.
	sleep func(time.Duration)
}

// New builds an Emitter publishing to queue with the given host identity.
func New(b bus.Bus, queue string, hostname string, nodeID uint64) *Emitter {
	return &Emitter{
		bus:      b,
		queue:    queue,
		hostname: hostname,
		nodeID:   nodeID,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Emit serializes the envelope and pushes it to the right end of the upstream
// queue. A bus failure is logged and absorbed after the backpressure pause;
// the caller never retries.
func (e *Emitter) Emit(ctx context.Context, kind types.EmitKind, typ string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s message: %w", kind, typ, err)
	}

	envelope, err := json.Marshal(types.UpstreamMessage{
		Kind:       kind,
		Type:       typ,
		TimestampS: e.now().Unix(),
		Host:       e.hostname,
		NodeID:     e.nodeID,
		Message:    payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s envelope: %w", kind, typ, err)
	}

	if err := e.bus.RPush(ctx, e.queue, string(envelope)); err != nil {
		log.Logger.Error().Err(err).Str("kind", string(kind)).Str("type", typ).
			Msg("failed to emit upstream message")
		metrics.BusErrors.Inc()
		e.sleep(backpressureDelay)
		return nil
	}

	metrics.EmittedMessages.WithLabelValues(string(kind)).Inc()
	return nil
}
