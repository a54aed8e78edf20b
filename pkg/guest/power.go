package guest

import (
	"context"

	"github.com/jimv/vmagent/pkg/hypervisor"
	"github.com/jimv/vmagent/pkg/types"
)

// Reboot asks the guest OS to restart.
func Reboot(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	if err := dom.Reboot(ctx); err != nil {
		return Fail(err)
	}
	return OK(nil)
}

// ForceReboot power-cycles the domain and re-applies disk throttling, which
// does not survive the qemu process.
func ForceReboot(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	if err := dom.Destroy(ctx); err != nil {
		return Fail(err)
	}
	if err := dom.Create(ctx); err != nil {
		return Fail(err)
	}
	if err := applyQuota(ctx, dom, msg.Disks); err != nil {
		return Fail(err)
	}
	return OK(nil)
}

// Shutdown asks the guest OS to power off.
func Shutdown(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	if err := dom.Shutdown(ctx); err != nil {
		return Fail(err)
	}
	return OK(nil)
}

// ForceShutdown pulls the plug.
func ForceShutdown(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	if err := dom.Destroy(ctx); err != nil {
		return Fail(err)
	}
	return OK(nil)
}

// Boot starts an inactive domain, applying any initialization operates to
// its disks first and re-throttling after.
func Boot(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	active, err := dom.IsActive(ctx)
	if err != nil {
		return Fail(err)
	}
	if active {
		return OK(nil)
	}

	if err := applyInitializeOperates(ctx, env, dom, msg); err != nil {
		return Fail(err)
	}

	if err := dom.Create(ctx); err != nil {
		return Fail(err)
	}
	if err := applyQuota(ctx, dom, msg.Disks); err != nil {
		return Fail(err)
	}
	return OK(nil)
}

// Suspend pauses the domain's vcpus.
func Suspend(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	if err := dom.Suspend(ctx); err != nil {
		return Fail(err)
	}
	return OK(nil)
}

// Resume unpauses the domain's vcpus.
func Resume(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	if err := dom.Resume(ctx); err != nil {
		return Fail(err)
	}
	return OK(nil)
}

// ResetPassword sets an OS account password through the guest agent.
func ResetPassword(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	if err := dom.SetUserPassword(ctx, msg.User, msg.Password); err != nil {
		return Fail(err)
	}
	return OK(nil)
}
