package guest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jimv/vmagent/pkg/hypervisor"
	"github.com/jimv/vmagent/pkg/types"
)

// UpdateSSHKey rewrites /root/.ssh/authorized_keys inside a running guest
// through the agent channel: the first key truncates the file (>), the rest
// append (>>).
func UpdateSSHKey(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	active, err := dom.IsActive(ctx)
	if err != nil {
		return Fail(err)
	}
	if !active {
		return Failf("cannot update ssh keys of %s while it is shut off", msg.UUID)
	}

	if _, err := env.Agent.Exec(ctx, dom, "mkdir", []string{"-p", "/root/.ssh"}, false); err != nil {
		return Fail(err)
	}

	var results []json.RawMessage

	for i, key := range msg.SSHKeys {
		redirect := ">"
		if i > 0 {
			redirect = ">>"
		}

		shellCmd := fmt.Sprintf(`echo "%s" %s /root/.ssh/authorized_keys`, key, redirect)
		pid, err := env.Agent.Exec(ctx, dom, "/bin/sh", []string{"-c", shellCmd}, true)
		if err != nil {
			return Fail(err)
		}

		status, err := env.Agent.ExecStatus(ctx, dom, pid)
		if err != nil {
			return Fail(err)
		}

		if len(status.OutData) > 0 {
			results = append(results, json.RawMessage(status.OutData))
		}
	}

	return OK(map[string]interface{}{"results": results})
}
