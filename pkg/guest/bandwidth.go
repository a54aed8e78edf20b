package guest

import (
	"context"

	"github.com/jimv/vmagent/pkg/domainxml"
	"github.com/jimv/vmagent/pkg/hypervisor"
	"github.com/jimv/vmagent/pkg/types"
)

// AllocateBandwidth caps the guest's first interface to the instructed rate
// in both directions. The instruction carries bits per second; libvirt takes
// kilobytes per second.
func AllocateBandwidth(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	if msg.BandwidthBitsPerSec <= 0 {
		return Failf("allocate_bandwidth for %s carries no bandwidth", msg.UUID)
	}

	kilobytes := uint64(msg.BandwidthBitsPerSec / 1000 / 8)

	xml, err := dom.XMLDesc(ctx, 0)
	if err != nil {
		return Fail(err)
	}
	root, err := domainxml.Parse(xml)
	if err != nil {
		return Fail(err)
	}

	interfaces := domainxml.Interfaces(root)
	if len(interfaces) == 0 || interfaces[0].MAC == "" {
		return Failf("definition of %s has no interface to throttle", msg.UUID)
	}
	mac := interfaces[0].MAC

	params, err := dom.InterfaceParameters(ctx, mac)
	if err != nil {
		return Fail(err)
	}
	if params == nil {
		params = make(map[string]uint64)
	}
	params["inbound.average"] = kilobytes
	params["outbound.average"] = kilobytes

	if err := dom.SetInterfaceParameters(ctx, mac, params, hypervisor.AffectConfig); err != nil {
		return Fail(err)
	}

	active, err := dom.IsActive(ctx)
	if err != nil {
		return Fail(err)
	}
	if active {
		if err := dom.SetInterfaceParameters(ctx, mac, params, hypervisor.AffectLive); err != nil {
			return Fail(err)
		}
	}

	return OK(nil)
}
