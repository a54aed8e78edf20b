package guest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jimv/vmagent/pkg/hypervisor"
	"github.com/jimv/vmagent/pkg/types"
)

// deviceFlags scopes a device change to the persistent config, plus the live
// domain when it is running.
func deviceFlags(ctx context.Context, dom hypervisor.Domain) (hypervisor.DeviceModifyFlags, error) {
	flags := hypervisor.AffectConfig
	active, err := dom.IsActive(ctx)
	if err != nil {
		return 0, err
	}
	if active {
		flags |= hypervisor.AffectLive
	}
	return flags, nil
}

// AttachDisk attaches the device described by the instruction's xml and
// re-applies disk throttling, which the new qemu block device lacks.
func AttachDisk(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	if msg.XML == "" {
		return Failf("attach_disk for %s carries no xml", msg.UUID)
	}

	flags, err := deviceFlags(ctx, dom)
	if err != nil {
		return Fail(err)
	}

	if err := dom.AttachDeviceFlags(ctx, msg.XML, flags); err != nil {
		return Fail(err)
	}
	if err := applyQuota(ctx, dom, msg.Disks); err != nil {
		return Fail(err)
	}
	return OK(nil)
}

// DetachDisk detaches the device described by the instruction's xml.
func DetachDisk(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	if msg.XML == "" {
		return Failf("detach_disk for %s carries no xml", msg.UUID)
	}

	flags, err := deviceFlags(ctx, dom)
	if err != nil {
		return Fail(err)
	}

	if err := dom.DetachDeviceFlags(ctx, msg.XML, flags); err != nil {
		return Fail(err)
	}
	return OK(nil)
}

// ResizeDiskOnline grows an attached block device of a defined guest.
func ResizeDiskOnline(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	if msg.DeviceNode == "" || msg.SizeGiB <= 0 {
		return Failf("resize_disk for %s needs device_node and size", msg.UUID)
	}

	// Size arrives in GiB; the hypervisor takes KiB.
	if err := dom.BlockResize(ctx, msg.DeviceNode, uint64(msg.SizeGiB)*1024*1024); err != nil {
		return Fail(err)
	}
	return OK(nil)
}

// Quota applies per-disk I/O throttling to a running guest.
func Quota(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	if err := applyQuota(ctx, dom, msg.Disks); err != nil {
		return Fail(err)
	}
	return OK(nil)
}

// applyQuota throttles each disk through the monitor channel, one
// block_set_io_throttle call per device.
func applyQuota(ctx context.Context, dom hypervisor.Domain, disks []types.Disk) error {
	for _, disk := range disks {
		cmd, err := json.Marshal(map[string]interface{}{
			"execute": "block_set_io_throttle",
			"arguments": map[string]interface{}{
				"device":          disk.DeviceName(),
				"iops":            disk.IOPS,
				"iops_rd":         disk.IOPSRead,
				"iops_wr":         disk.IOPSWrite,
				"iops_max":        disk.IOPSMax,
				"iops_max_length": disk.IOPSMaxLen,
				"bps":             disk.BPS,
				"bps_rd":          disk.BPSRead,
				"bps_wr":          disk.BPSWrite,
				"bps_max":         disk.BPSMax,
				"bps_max_length":  disk.BPSMaxLength,
			},
		})
		if err != nil {
			return err
		}

		if _, err := dom.MonitorCommand(ctx, string(cmd)); err != nil {
			return fmt.Errorf("failed to throttle %s: %w", disk.DeviceName(), err)
		}
	}
	return nil
}

// CreateDisk builds an empty data disk; a queue-discipline action addressed
// to a bare storage path, not a defined guest.
func CreateDisk(ctx context.Context, env *Env, _ hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	backend, err := env.Storage.ForDescriptor(msg.Storage)
	if err != nil {
		return Fail(err)
	}
	if err := backend.Make(ctx, msg.ImagePath, msg.SizeGiB); err != nil {
		return Fail(err)
	}
	return OK(nil)
}

// ResizeDiskOffline grows a data disk image that is not attached anywhere.
func ResizeDiskOffline(ctx context.Context, env *Env, _ hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	backend, err := env.Storage.ForDescriptor(msg.Storage)
	if err != nil {
		return Fail(err)
	}
	if err := backend.Resize(ctx, msg.ImagePath, msg.SizeGiB); err != nil {
		return Fail(err)
	}
	return OK(nil)
}

// DeleteDisk removes a data disk image.
func DeleteDisk(ctx context.Context, env *Env, _ hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	backend, err := env.Storage.ForDescriptor(msg.Storage)
	if err != nil {
		return Fail(err)
	}
	if err := backend.Delete(ctx, msg.ImagePath); err != nil {
		return Fail(err)
	}
	return OK(nil)
}
