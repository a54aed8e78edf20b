// Package dispatch is the command engine: a queue consumer for the heavy
// create-family actions and a pub/sub consumer for interactive guest
// operations. Both translate each operation's Result into the response
// emission addressed back to the instruction.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/jimv/vmagent/pkg/emitter"
	"github.com/jimv/vmagent/pkg/guest"
	"github.com/jimv/vmagent/pkg/hypervisor"
	"github.com/jimv/vmagent/pkg/log"
	"github.com/jimv/vmagent/pkg/metrics"
	"github.com/jimv/vmagent/pkg/types"
)

// respond turns a Result into exactly one success or failure emission
// carrying the instruction's addressing and passback parameters.
func respond(ctx context.Context, responses *emitter.ResponseEmitter, logEmit *emitter.LogEmitter,
	msg *types.DownstreamInstruction, res guest.Result) {

	if res.Err != nil {
		logEmit.Error(ctx, res.Err.Error())
		metrics.DispatchFailures.WithLabelValues(msg.Action).Inc()
		responses.Failure(ctx, msg.Object, msg.Action, msg.UUID, res.Data, msg.PassbackParameters)
		return
	}

	metrics.DispatchedInstructions.WithLabelValues(msg.Action).Inc()
	responses.Success(ctx, msg.Object, msg.Action, msg.UUID, res.Data, msg.PassbackParameters)
}

// decodeInstruction parses one wire payload, logging and dropping garbage.
func decodeInstruction(ctx context.Context, logEmit *emitter.LogEmitter, payload string) (*types.DownstreamInstruction, bool) {
	var msg types.DownstreamInstruction
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		log.Logger.Error().Err(err).Msg("undecodable instruction")
		logEmit.Error(ctx, "undecodable instruction: "+err.Error())
		return nil, false
	}
	return &msg, true
}

// refreshGuestMapping rebuilds the uuid -> domain map from scratch. Called at
// the top of each dispatch; never shared across goroutines.
func refreshGuestMapping(ctx context.Context, conn hypervisor.Connection) (map[string]hypervisor.Domain, error) {
	domains, err := conn.ListAllDomains(ctx)
	if err != nil {
		return nil, err
	}

	mapping := make(map[string]hypervisor.Domain, len(domains))
	for _, d := range domains {
		mapping[d.UUIDString()] = d
	}
	return mapping, nil
}
