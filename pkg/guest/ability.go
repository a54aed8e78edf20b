package guest

import (
	"context"

	"github.com/jimv/vmagent/pkg/domainxml"
	"github.com/jimv/vmagent/pkg/hypervisor"
	"github.com/jimv/vmagent/pkg/types"
)

// AdjustAbility resizes a shutoff guest's vcpu and memory allocation by
// patching its definition and redefining it. A running guest is rejected;
// the control plane shuts it down first.
func AdjustAbility(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	active, err := dom.IsActive(ctx)
	if err != nil {
		return Fail(err)
	}
	if active {
		return Failf("cannot adjust ability of %s while it is running", msg.UUID)
	}

	xml, err := dom.XMLDesc(ctx, 0)
	if err != nil {
		return Fail(err)
	}

	root, err := domainxml.Parse(xml)
	if err != nil {
		return Fail(err)
	}

	if err := domainxml.PatchAbility(root, msg.CPU, msg.MemoryGiB); err != nil {
		return Fail(err)
	}

	patched, err := root.String()
	if err != nil {
		return Fail(err)
	}

	if _, err := env.Conn.DefineXML(ctx, patched); err != nil {
		return Fail(err)
	}
	return OK(nil)
}
