package guest

import (
	"context"

	"github.com/jimv/vmagent/pkg/guestagent"
	"github.com/jimv/vmagent/pkg/hypervisor"
	"github.com/jimv/vmagent/pkg/types"
)

// State maps the hypervisor's domain state onto the agent's vocabulary. A
// domain the hypervisor calls running is only "running" once its guest agent
// answers a ping; before that it is still "booting".
func State(ctx context.Context, agent *guestagent.Channel, dom hypervisor.Domain) (types.GuestState, error) {
	info, err := dom.Info(ctx)
	if err != nil {
		return types.GuestStateNoState, err
	}

	switch info.State {
	case hypervisor.StateRunning:
		if agent.Ping(ctx, dom) {
			return types.GuestStateRunning, nil
		}
		return types.GuestStateBooting, nil
	case hypervisor.StateBlocked:
		return types.GuestStateBlocked, nil
	case hypervisor.StatePaused:
		return types.GuestStatePaused, nil
	case hypervisor.StateShutdown:
		return types.GuestStateShutdown, nil
	case hypervisor.StateShutoff:
		return types.GuestStateShutoff, nil
	case hypervisor.StateCrashed:
		return types.GuestStateCrashed, nil
	case hypervisor.StatePMSuspended:
		return types.GuestStatePMSuspended, nil
	default:
		return types.GuestStateNoState, nil
	}
}
