// Package guest implements the lifecycle operations: one handler per action
// name, each a transactional sequence against the hypervisor. Handlers
// return an explicit Result; the dispatch engine translates it into the
// response emission addressed back to the instruction.
package guest

import (
	"context"
	"fmt"
	"time"

	"github.com/jimv/vmagent/pkg/bus"
	"github.com/jimv/vmagent/pkg/emitter"
	"github.com/jimv/vmagent/pkg/guestagent"
	"github.com/jimv/vmagent/pkg/guestfs"
	"github.com/jimv/vmagent/pkg/hypervisor"
	"github.com/jimv/vmagent/pkg/sshclient"
	"github.com/jimv/vmagent/pkg/storage"
	"github.com/jimv/vmagent/pkg/types"
)

// Env bundles everything an operation may touch. The supervisor constructs
// one Env per dispatch engine; each engine owns its Scene.
type Env struct {
	Conn    hypervisor.Connection
	Storage storage.Selector
	Bus     bus.Bus

	// CreatingGuestQueue receives in-flight create records for the external
	// janitor.
	CreatingGuestQueue string

	Events *emitter.GuestEventEmitter
	Log    *emitter.LogEmitter

	Agent     *guestagent.Channel
	Inspector guestfs.Inspector
	SSHDial   sshclient.Dialer

	// Scene tracks partial create state for next-cycle cleanup. Only the
	// queue consumer sets it.
	Scene *Scene

	// now is swapped out by tests.
	now func() time.Time
}

func (e *Env) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// Result is the outcome of one operation. Err == nil means success; Data
// rides along on the response either way.
type Result struct {
	Data map[string]interface{}
	Err  error
}

// OK builds a success Result.
func OK(data map[string]interface{}) Result {
	return Result{Data: data}
}

// Fail builds a failure Result.
func Fail(err error) Result {
	return Result{Err: err}
}

// Failf builds a failure Result from a format string.
func Failf(format string, args ...interface{}) Result {
	return Result{Err: fmt.Errorf(format, args...)}
}

// Operation handles one action. dom is nil for queue-discipline actions,
// which address guests that may not be defined yet.
type Operation func(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result

// QueueOps maps the heavy, queue-popped actions.
func QueueOps() map[string]Operation {
	return map[string]Operation{
		"create_guest": Create,
		"create_disk":  CreateDisk,
		"resize_disk":  ResizeDiskOffline,
		"delete_disk":  DeleteDisk,
	}
}

// ChannelOps maps the interactive, pub/sub-dispatched actions. Every one of
// these receives the guest's domain handle.
func ChannelOps() map[string]Operation {
	return map[string]Operation{
		"reboot":             Reboot,
		"force_reboot":       ForceReboot,
		"shutdown":           Shutdown,
		"force_shutdown":     ForceShutdown,
		"boot":               Boot,
		"suspend":            Suspend,
		"resume":             Resume,
		"delete_guest":       Delete,
		"reset_password":     ResetPassword,
		"attach_disk":        AttachDisk,
		"detach_disk":        DetachDisk,
		"resize_disk":        ResizeDiskOnline,
		"quota":              Quota,
		"migrate":            Migrate,
		"create_snapshot":    CreateSnapshot,
		"delete_snapshot":    DeleteSnapshot,
		"revert_snapshot":    RevertSnapshot,
		"convert_snapshot":   ConvertSnapshot,
		"update_ssh_key":     UpdateSSHKey,
		"allocate_bandwidth": AllocateBandwidth,
		"adjust_ability":     AdjustAbility,
	}
}
