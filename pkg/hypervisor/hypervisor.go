// Package hypervisor narrows the local libvirt daemon down to the exact
// operations the agent performs. Engines program against Connection, Domain
// and Snapshot; the libvirt-backed implementation lives in libvirt.go and
// tests substitute hand-written fakes.
package hypervisor

import "context"

// DomainState is libvirt's coarse domain state.
type DomainState int

const (
	StateNoState DomainState = iota
	StateRunning
	StateBlocked
	StatePaused
	StateShutdown
	StateShutoff
	StateCrashed
	StatePMSuspended
)

// XMLFlags selects variants of the domain definition document.
type XMLFlags uint32

// XMLSecure includes security-sensitive material (passwords) in the dump.
const XMLSecure XMLFlags = 1

// DeviceModifyFlags scopes attach/detach calls.
type DeviceModifyFlags uint32

const (
	AffectLive   DeviceModifyFlags = 1
	AffectConfig DeviceModifyFlags = 2
)

// MigrateFlags tunes migrateToURI. Values mirror libvirt's VIR_MIGRATE_* set.
type MigrateFlags uint64

const (
	MigrateLive          MigrateFlags = 1
	MigratePeer2Peer     MigrateFlags = 2
	MigrateTunnelled     MigrateFlags = 4
	MigratePersistDest   MigrateFlags = 8
	MigrateUndefineSource MigrateFlags = 16
	MigrateNonSharedDisk MigrateFlags = 64
	MigrateOffline       MigrateFlags = 1024
	MigrateCompressed    MigrateFlags = 2048
	MigrateAutoConverge  MigrateFlags = 8192
)

// SnapshotCreateFlags tunes snapshot creation.
type SnapshotCreateFlags uint32

// SnapshotCreateAtomic guarantees the snapshot either fully succeeds or
// leaves no trace.
const SnapshotCreateAtomic SnapshotCreateFlags = 128

// SnapshotRevertFlags tunes revert.
type SnapshotRevertFlags uint32

// SnapshotRevertForce overrides the safety interlocks on risky reverts.
const SnapshotRevertForce SnapshotRevertFlags = 4

// DomainInfo is the summary libvirt keeps per domain.
type DomainInfo struct {
	State      DomainState
	MaxMemKiB  uint64
	MemoryKiB  uint64
	CPUCount   int
	CPUTimeNs  uint64
}

// InterfaceStats carries one interface's monotonic counters.
type InterfaceStats struct {
	RxBytes   int64
	RxPackets int64
	RxErrs    int64
	RxDrop    int64
	TxBytes   int64
	TxPackets int64
	TxErrs    int64
	TxDrop    int64
}

// BlockStats carries one block device's monotonic counters.
type BlockStats struct {
	RdReq   int64
	RdBytes int64
	WrReq   int64
	WrBytes int64
}

// Connection is the per-process hypervisor handle shared by every engine.
// The underlying client is thread-safe for method calls.
type Connection interface {
	// ListAllDomains returns every domain defined on this host, active or not.
	ListAllDomains(ctx context.Context) ([]Domain, error)

	// LookupByUUID finds a domain by its stringified UUID.
	LookupByUUID(ctx context.Context, uuid string) (Domain, error)

	// DefineXML defines (or redefines) a persistent domain from xml.
	DefineXML(ctx context.Context, xml string) (Domain, error)

	// Hostname returns the hypervisor's node name.
	Hostname(ctx context.Context) (string, error)

	// Close tears the connection down.
	Close() error
}

// Domain is one virtual machine.
type Domain interface {
	UUIDString() string
	Name() string

	IsActive(ctx context.Context) (bool, error)
	Info(ctx context.Context) (DomainInfo, error)
	XMLDesc(ctx context.Context, flags XMLFlags) (string, error)

	// Create boots a defined domain.
	Create(ctx context.Context) error
	Destroy(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Reboot(ctx context.Context) error
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
	Undefine(ctx context.Context) error

	AttachDeviceFlags(ctx context.Context, xml string, flags DeviceModifyFlags) error
	DetachDeviceFlags(ctx context.Context, xml string, flags DeviceModifyFlags) error

	MigrateToURI(ctx context.Context, duri string, flags MigrateFlags) error

	// BlockResize grows one attached block device to sizeKiB.
	BlockResize(ctx context.Context, device string, sizeKiB uint64) error

	SetUserPassword(ctx context.Context, user, password string) error

	// MemoryStats returns the balloon statistics keyed by stat name
	// ("available", "unused", ...).
	MemoryStats(ctx context.Context) (map[string]uint64, error)
	SetMemoryStatsPeriod(ctx context.Context, seconds int) error

	InterfaceStats(ctx context.Context, dev string) (InterfaceStats, error)
	BlockStats(ctx context.Context, dev string) (BlockStats, error)

	// InterfaceParameters reads the bandwidth tuning of one interface,
	// keyed by parameter name ("inbound.average", ...).
	InterfaceParameters(ctx context.Context, device string) (map[string]uint64, error)
	// SetInterfaceParameters writes bandwidth tuning for one interface.
	SetInterfaceParameters(ctx context.Context, device string, params map[string]uint64, flags DeviceModifyFlags) error

	// AgentCommand runs a QMP command against the in-guest agent channel and
	// returns its raw JSON reply.
	AgentCommand(ctx context.Context, cmd string, timeoutSeconds int) (string, error)
	// MonitorCommand runs a QMP command against the hypervisor monitor
	// channel and returns its raw JSON reply.
	MonitorCommand(ctx context.Context, cmd string) (string, error)

	SnapshotCreateXML(ctx context.Context, xml string, flags SnapshotCreateFlags) (Snapshot, error)
	SnapshotLookupByName(ctx context.Context, name string) (Snapshot, error)
	RevertToSnapshot(ctx context.Context, snap Snapshot, flags SnapshotRevertFlags) error
	ListAllSnapshots(ctx context.Context) ([]Snapshot, error)
}

// Snapshot is one point-in-time capture of a domain.
type Snapshot interface {
	Name() string

	// Parent returns the snapshot this one derives from, or ErrNoParent
	// when it is a root.
	Parent(ctx context.Context) (Snapshot, error)

	XMLDesc(ctx context.Context) (string, error)
	Delete(ctx context.Context) error
}
