// Package types holds the wire and domain types shared across the agent: the
// guest/disk/storage descriptors the hypervisor layer operates on, and the
// upstream/downstream message envelopes exchanged over the bus.
package types

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// StorageMode names the storage backend a guest's disks live on.
type StorageMode string

const (
	StorageModeLocal       StorageMode = "local"
	StorageModeSharedMount StorageMode = "shared_mount"
	StorageModeCeph        StorageMode = "ceph"
	StorageModeGlusterFS   StorageMode = "glusterfs"
)

// StorageDescriptor says where a guest's disk images live. DFSVolume is
// required for Ceph and GlusterFS modes and meaningless otherwise.
type StorageDescriptor struct {
	Mode      StorageMode `json:"storage_mode"`
	DFSVolume string      `json:"dfs_volume,omitempty"`
}

// Validate enforces the invariant that distributed-filesystem modes carry a
// volume name and local modes don't need one.
func (s StorageDescriptor) Validate() error {
	switch s.Mode {
	case StorageModeCeph, StorageModeGlusterFS:
		if s.DFSVolume == "" {
			return fmt.Errorf("storage mode %q requires a dfs_volume", s.Mode)
		}
	case StorageModeLocal, StorageModeSharedMount:
	default:
		return fmt.Errorf("unknown storage mode %q", s.Mode)
	}
	return nil
}

// DiskQoS carries the libvirt blkiotune throttling parameters for one disk.
type DiskQoS struct {
	IOPS         uint64 `json:"iops"`
	IOPSRead     uint64 `json:"iops_rd"`
	IOPSWrite    uint64 `json:"iops_wr"`
	IOPSMax      uint64 `json:"iops_max"`
	IOPSMaxLen   uint64 `json:"iops_max_length"`
	BPS          uint64 `json:"bps"`
	BPSRead      uint64 `json:"bps_rd"`
	BPSWrite     uint64 `json:"bps_wr"`
	BPSMax       uint64 `json:"bps_max"`
	BPSMaxLength uint64 `json:"bps_max_length"`
}

// Disk describes one virtio disk attached to a guest. The QoS fields arrive
// inline with the disk on the wire, so DiskQoS is embedded rather than
// nested.
type Disk struct {
	Sequence int    `json:"sequence"`
	Path     string `json:"path"`
	DiskQoS
}

// DeviceName is the QEMU block device name libvirt expects for throttle and
// resize operations, e.g. "drive-virtio-disk0".
func (d Disk) DeviceName() string {
	return fmt.Sprintf("drive-virtio-disk%d", d.Sequence)
}

// Guest is this host's view of one libvirt domain.
type Guest struct {
	UUID         uuid.UUID         `json:"uuid"`
	Name         string            `json:"name"`
	TemplatePath string            `json:"template_path"`
	XML          string            `json:"xml"`
	Disks        []Disk            `json:"disks"`
	Storage      StorageDescriptor `json:"-"`
}

// SystemImagePath is the path of the guest's boot disk, disks[0] by
// convention carried over from the original implementation.
func (g Guest) SystemImagePath() (string, error) {
	if len(g.Disks) == 0 {
		return "", fmt.Errorf("guest %s has no disks", g.UUID)
	}
	return g.Disks[0].Path, nil
}

// GuestState mirrors libvirt's VIR_DOMAIN_* states plus the agent's own
// transient states (booting, creating, migrating, update, snapshot_converting).
type GuestState string

const (
	GuestStateNoState             GuestState = "no_state"
	GuestStateBooting             GuestState = "booting"
	GuestStateRunning             GuestState = "running"
	GuestStateBlocked             GuestState = "blocked"
	GuestStatePaused              GuestState = "paused"
	GuestStateShutdown            GuestState = "shutdown"
	GuestStateShutoff             GuestState = "shutoff"
	GuestStateCrashed             GuestState = "crashed"
	GuestStatePMSuspended         GuestState = "pm_suspended"
	GuestStateMigrating           GuestState = "migrating"
	GuestStateUpdate              GuestState = "update"
	GuestStateCreating            GuestState = "creating"
	GuestStateSnapshotConverting  GuestState = "snapshot_converting"
)

// EmitKind is the "kind" field of every upstream message.
type EmitKind string

const (
	EmitKindLog                       EmitKind = "log"
	EmitKindGuestEvent                EmitKind = "guest_event"
	EmitKindHostEvent                 EmitKind = "host_event"
	EmitKindResponse                  EmitKind = "response"
	EmitKindGuestCollectionPerf       EmitKind = "guest_collection_performance"
	EmitKindHostCollectionPerf        EmitKind = "host_collection_performance"
)

// LogLevel mirrors the levels the original logger emits both locally and
// upstream.
type LogLevel string

const (
	LogLevelDebug    LogLevel = "debug"
	LogLevelInfo     LogLevel = "info"
	LogLevelWarn     LogLevel = "warn"
	LogLevelError    LogLevel = "error"
	LogLevelCritical LogLevel = "critical"
)

// ResponseState is the outcome of a dispatched instruction.
type ResponseState string

const (
	ResponseStateSuccess ResponseState = "success"
	ResponseStateFailure ResponseState = "failure"
)

// HostEvent enumerates the host_event message subtypes.
type HostEvent string

const (
	HostEventHeartbeat HostEvent = "heartbeat"
)

// GuestCollectionPerformanceDataKind enumerates guest perf-sample subtypes.
type GuestCollectionPerformanceDataKind string

const (
	GuestPerfCPUMemory GuestCollectionPerformanceDataKind = "cpu_memory"
	GuestPerfTraffic   GuestCollectionPerformanceDataKind = "traffic"
	GuestPerfDiskIO    GuestCollectionPerformanceDataKind = "disk_io"
)

// HostCollectionPerformanceDataKind enumerates host perf-sample subtypes.
type HostCollectionPerformanceDataKind string

const (
	HostPerfCPUMemory   HostCollectionPerformanceDataKind = "cpu_memory"
	HostPerfTraffic     HostCollectionPerformanceDataKind = "traffic"
	HostPerfDiskUsageIO HostCollectionPerformanceDataKind = "disk_usage_io"
)

// UpstreamMessage is the envelope every message emitted onto the bus shares.
type UpstreamMessage struct {
	Kind       EmitKind        `json:"kind"`
	Type       string          `json:"type"`
	TimestampS int64           `json:"timestamp"`
	Host       string          `json:"host"`
	NodeID     uint64          `json:"node_id"`
	Message    json.RawMessage `json:"message"`
}

// OSTemplateInitializeOperateKind enumerates the boot-job operations applied
// during offline guest-filesystem inspection at create time.
type OSTemplateInitializeOperateKind string

const (
	OperateCommand    OSTemplateInitializeOperateKind = "cmd"
	OperateWriteFile  OSTemplateInitializeOperateKind = "write_file"
	OperateAppendFile OSTemplateInitializeOperateKind = "append_file"
)

// OSTemplateInitializeOperate is one step run against the guest filesystem
// before first boot.
type OSTemplateInitializeOperate struct {
	Kind    OSTemplateInitializeOperateKind `json:"kind"`
	Command string                          `json:"command,omitempty"`
	Path    string                          `json:"path,omitempty"`
	Content string                          `json:"content,omitempty"`
}

// DownstreamInstruction is a control-plane command addressed to a guest (or,
// for create_disk/resize_disk/delete_disk, to a bare storage path). Identity
// may arrive as either "uuid" or "guest_uuid"; UnmarshalJSON normalizes both
// into UUID.
type DownstreamInstruction struct {
	Action                      string                        `json:"action"`
	Object                      string                        `json:"_object,omitempty"`
	UUID                        string                        `json:"uuid,omitempty"`
	Name                        string                        `json:"name,omitempty"`
	TemplatePath                string                        `json:"template_path,omitempty"`
	XML                         string                        `json:"xml,omitempty"`
	Disks                       []Disk                        `json:"disks,omitempty"`
	Storage                     StorageDescriptor             `json:"-"`
	OSType                      string                        `json:"os_type,omitempty"`
	OSTemplateInitializeOperate []OSTemplateInitializeOperate `json:"os_template_initialize_operates,omitempty"`
	CPU                         int                            `json:"cpu,omitempty"`
	MemoryGiB                   int                            `json:"memory,omitempty"`
	SnapshotID                  string                         `json:"snapshot_id,omitempty"`
	SnapshotPath                string                         `json:"snapshot_path,omitempty"`
	OSTemplateImageID           string                         `json:"os_template_image_id,omitempty"`
	DURI                        string                         `json:"duri,omitempty"`
	SSHKeys                     []string                       `json:"ssh_keys,omitempty"`
	User                        string                         `json:"user,omitempty"`
	Password                    string                         `json:"password,omitempty"`
	BandwidthBitsPerSec         int64                          `json:"bandwidth,omitempty"`
	ImagePath                   string                         `json:"image_path,omitempty"`
	DeviceNode                  string                         `json:"device_node,omitempty"`
	SizeGiB                     int64                          `json:"size,omitempty"`
	PassbackParameters          json.RawMessage                `json:"passback_parameters,omitempty"`
}

// instructionAlias has the same fields as DownstreamInstruction but none of
// its methods, so decoding through it can't recurse into UnmarshalJSON. It
// also carries the wire-only guest_uuid/storage_mode/dfs_volume fields.
type instructionAlias struct {
	Action                      string                         `json:"action"`
	Object                      string                         `json:"_object,omitempty"`
	UUID                        string                         `json:"uuid,omitempty"`
	GuestUUID                   string                         `json:"guest_uuid,omitempty"`
	Name                        string                         `json:"name,omitempty"`
	TemplatePath                string                         `json:"template_path,omitempty"`
	XML                         string                         `json:"xml,omitempty"`
	Disks                       []Disk                         `json:"disks,omitempty"`
	StorageMode                 StorageMode                    `json:"storage_mode,omitempty"`
	DFSVolume                   string                         `json:"dfs_volume,omitempty"`
	OSType                      string                         `json:"os_type,omitempty"`
	OSTemplateInitializeOperate []OSTemplateInitializeOperate  `json:"os_template_initialize_operates,omitempty"`
	CPU                         int                            `json:"cpu,omitempty"`
	MemoryGiB                   int                            `json:"memory,omitempty"`
	SnapshotID                  string                         `json:"snapshot_id,omitempty"`
	SnapshotPath                string                         `json:"snapshot_path,omitempty"`
	OSTemplateImageID           string                         `json:"os_template_image_id,omitempty"`
	DURI                        string                         `json:"duri,omitempty"`
	SSHKeys                     []string                       `json:"ssh_keys,omitempty"`
	User                        string                         `json:"user,omitempty"`
	Password                    string                         `json:"password,omitempty"`
	BandwidthBitsPerSec         int64                          `json:"bandwidth,omitempty"`
	ImagePath                   string                         `json:"image_path,omitempty"`
	DeviceNode                  string                         `json:"device_node,omitempty"`
	SizeGiB                     int64                          `json:"size,omitempty"`
	PassbackParameters          json.RawMessage                `json:"passback_parameters,omitempty"`
}

func (d *DownstreamInstruction) UnmarshalJSON(data []byte) error {
	var raw instructionAlias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	uuid := raw.UUID
	if uuid == "" {
		uuid = raw.GuestUUID
	}

	*d = DownstreamInstruction{
		Action:                      raw.Action,
		Object:                      raw.Object,
		UUID:                        uuid,
		Name:                        raw.Name,
		TemplatePath:                raw.TemplatePath,
		XML:                         raw.XML,
		Disks:                       raw.Disks,
		Storage:                     StorageDescriptor{Mode: raw.StorageMode, DFSVolume: raw.DFSVolume},
		OSType:                      raw.OSType,
		OSTemplateInitializeOperate: raw.OSTemplateInitializeOperate,
		CPU:                         raw.CPU,
		MemoryGiB:                  raw.MemoryGiB,
		SnapshotID:                  raw.SnapshotID,
		SnapshotPath:                raw.SnapshotPath,
		OSTemplateImageID:           raw.OSTemplateImageID,
		DURI:                        raw.DURI,
		SSHKeys:                     raw.SSHKeys,
		User:                        raw.User,
		Password:                    raw.Password,
		BandwidthBitsPerSec:         raw.BandwidthBitsPerSec,
		ImagePath:                   raw.ImagePath,
		DeviceNode:                  raw.DeviceNode,
		SizeGiB:                     raw.SizeGiB,
		PassbackParameters:          raw.PassbackParameters,
	}
	return nil
}

// GuestUUID parses the instruction's identity field.
func (d DownstreamInstruction) GuestUUID() (uuid.UUID, error) {
	return uuid.Parse(d.UUID)
}
