package hypervisor

import (
	"context"
	"fmt"

	libvirt "github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
	"github.com/google/uuid"
)

// memoryStatNames maps VIR_DOMAIN_MEMORY_STAT_* tags to the names the perf
// engine keys on.
var memoryStatNames = map[int32]string{
	0:  "swap_in",
	1:  "swap_out",
	2:  "major_fault",
	3:  "minor_fault",
	4:  "unused",
	5:  "available",
	6:  "actual",
	7:  "rss",
	8:  "usable",
	9:  "last_update",
	10: "disk_caches",
}

// maxMemoryStats bounds the stat array libvirt returns; one slot per tag.
const maxMemoryStats = 16

// LibvirtConnection implements Connection over the local libvirt daemon's
// Unix socket.
type LibvirtConnection struct {
	l *libvirt.Libvirt
}

// Dial connects to the libvirt daemon at socket and negotiates the protocol.
func Dial(socket string) (*LibvirtConnection, error) {
	l := libvirt.NewWithDialer(dialers.NewLocal(dialers.WithSocket(socket)))

	if err := l.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", socket, err)
	}

	return &LibvirtConnection{l: l}, nil
}

// ListAllDomains returns every domain on this host.
func (c *LibvirtConnection) ListAllDomains(ctx context.Context) ([]Domain, error) {
	domains, _, err := c.l.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}

	out := make([]Domain, 0, len(domains))
	for _, d := range domains {
		out = append(out, &libvirtDomain{l: c.l, d: d})
	}
	return out, nil
}

// LookupByUUID finds a domain by its stringified UUID.
func (c *LibvirtConnection) LookupByUUID(ctx context.Context, s string) (Domain, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid domain uuid %q: %w", s, err)
	}

	d, err := c.l.DomainLookupByUUID(libvirt.UUID(id))
	if err != nil {
		return nil, fmt.Errorf("failed to look up domain %s: %w", s, err)
	}
	return &libvirtDomain{l: c.l, d: d}, nil
}

// DefineXML defines a persistent domain from xml.
func (c *LibvirtConnection) DefineXML(ctx context.Context, xml string) (Domain, error) {
	d, err := c.l.DomainDefineXML(xml)
	if err != nil {
		return nil, fmt.Errorf("failed to define domain: %w", err)
	}
	return &libvirtDomain{l: c.l, d: d}, nil
}

// Hostname returns the hypervisor's node name.
func (c *LibvirtConnection) Hostname(ctx context.Context) (string, error) {
	return c.l.ConnectGetHostname()
}

// Close disconnects from the daemon.
func (c *LibvirtConnection) Close() error {
	return c.l.Disconnect()
}

// Raw exposes the underlying client for the event loop.
func (c *LibvirtConnection) Raw() *libvirt.Libvirt {
	return c.l
}

type libvirtDomain struct {
	l *libvirt.Libvirt
	d libvirt.Domain
}

func (d *libvirtDomain) UUIDString() string {
	return uuid.UUID(d.d.UUID).String()
}

func (d *libvirtDomain) Name() string {
	return d.d.Name
}

func (d *libvirtDomain) IsActive(ctx context.Context) (bool, error) {
	active, err := d.l.DomainIsActive(d.d)
	if err != nil {
		return false, fmt.Errorf("failed to query active state of %s: %w", d.d.Name, err)
	}
	return active == 1, nil
}

func (d *libvirtDomain) Info(ctx context.Context) (DomainInfo, error) {
	state, maxMem, mem, nrVirtCPU, cpuTime, err := d.l.DomainGetInfo(d.d)
	if err != nil {
		return DomainInfo{}, fmt.Errorf("failed to query info of %s: %w", d.d.Name, err)
	}
	return DomainInfo{
		State:     DomainState(state),
		MaxMemKiB: maxMem,
		MemoryKiB: mem,
		CPUCount:  int(nrVirtCPU),
		CPUTimeNs: cpuTime,
	}, nil
}

func (d *libvirtDomain) XMLDesc(ctx context.Context, flags XMLFlags) (string, error) {
	xml, err := d.l.DomainGetXMLDesc(d.d, libvirt.DomainXMLFlags(flags))
	if err != nil {
		return "", fmt.Errorf("failed to fetch definition of %s: %w", d.d.Name, err)
	}
	return xml, nil
}

func (d *libvirtDomain) Create(ctx context.Context) error {
	return d.l.DomainCreate(d.d)
}

func (d *libvirtDomain) Destroy(ctx context.Context) error {
	return d.l.DomainDestroy(d.d)
}

func (d *libvirtDomain) Shutdown(ctx context.Context) error {
	return d.l.DomainShutdown(d.d)
}

func (d *libvirtDomain) Reboot(ctx context.Context) error {
	return d.l.DomainReboot(d.d, 0)
}

func (d *libvirtDomain) Suspend(ctx context.Context) error {
	return d.l.DomainSuspend(d.d)
}

func (d *libvirtDomain) Resume(ctx context.Context) error {
	return d.l.DomainResume(d.d)
}

func (d *libvirtDomain) Undefine(ctx context.Context) error {
	return d.l.DomainUndefine(d.d)
}

func (d *libvirtDomain) AttachDeviceFlags(ctx context.Context, xml string, flags DeviceModifyFlags) error {
	return d.l.DomainAttachDeviceFlags(d.d, xml, uint32(flags))
}

func (d *libvirtDomain) DetachDeviceFlags(ctx context.Context, xml string, flags DeviceModifyFlags) error {
	return d.l.DomainDetachDeviceFlags(d.d, xml, uint32(flags))
}

func (d *libvirtDomain) MigrateToURI(ctx context.Context, duri string, flags MigrateFlags) error {
	return d.l.DomainMigrateToURI(d.d, duri, uint64(flags), nil, 0)
}

func (d *libvirtDomain) BlockResize(ctx context.Context, device string, sizeKiB uint64) error {
	return d.l.DomainBlockResize(d.d, device, sizeKiB, 0)
}

func (d *libvirtDomain) SetUserPassword(ctx context.Context, user, password string) error {
	return d.l.DomainSetUserPassword(d.d, libvirt.OptString{user}, libvirt.OptString{password}, 0)
}

func (d *libvirtDomain) MemoryStats(ctx context.Context) (map[string]uint64, error) {
	stats, err := d.l.DomainMemoryStats(d.d, maxMemoryStats, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory stats of %s: %w", d.d.Name, err)
	}

	out := make(map[string]uint64, len(stats))
	for _, s := range stats {
		if name, ok := memoryStatNames[s.Tag]; ok {
			out[name] = s.Val
		}
	}
	return out, nil
}

func (d *libvirtDomain) SetMemoryStatsPeriod(ctx context.Context, seconds int) error {
	// 1 = VIR_DOMAIN_AFFECT_LIVE
	return d.l.DomainSetMemoryStatsPeriod(d.d, int32(seconds), 1)
}

func (d *libvirtDomain) InterfaceStats(ctx context.Context, dev string) (InterfaceStats, error) {
	rxBytes, rxPackets, rxErrs, rxDrop, txBytes, txPackets, txErrs, txDrop, err := d.l.DomainInterfaceStats(d.d, dev)
	if err != nil {
		return InterfaceStats{}, fmt.Errorf("failed to query interface %s of %s: %w", dev, d.d.Name, err)
	}
	return InterfaceStats{
		RxBytes: rxBytes, RxPackets: rxPackets, RxErrs: rxErrs, RxDrop: rxDrop,
		TxBytes: txBytes, TxPackets: txPackets, TxErrs: txErrs, TxDrop: txDrop,
	}, nil
}

func (d *libvirtDomain) BlockStats(ctx context.Context, dev string) (BlockStats, error) {
	rdReq, rdBytes, wrReq, wrBytes, _, err := d.l.DomainBlockStats(d.d, dev)
	if err != nil {
		return BlockStats{}, fmt.Errorf("failed to query block device %s of %s: %w", dev, d.d.Name, err)
	}
	return BlockStats{RdReq: rdReq, RdBytes: rdBytes, WrReq: wrReq, WrBytes: wrBytes}, nil
}

func (d *libvirtDomain) InterfaceParameters(ctx context.Context, device string) (map[string]uint64, error) {
	// First call sizes the parameter array, second fetches it.
	_, nparams, err := d.l.DomainGetInterfaceParameters(d.d, device, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to size interface parameters of %s: %w", device, err)
	}

	params, _, err := d.l.DomainGetInterfaceParameters(d.d, device, nparams, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to query interface parameters of %s: %w", device, err)
	}

	out := make(map[string]uint64, len(params))
	for _, p := range params {
		switch v := p.Value.I.(type) {
		case uint64:
			out[p.Field] = v
		case int64:
			out[p.Field] = uint64(v)
		case uint32:
			out[p.Field] = uint64(v)
		case int32:
			out[p.Field] = uint64(v)
		}
	}
	return out, nil
}

func (d *libvirtDomain) SetInterfaceParameters(ctx context.Context, device string, params map[string]uint64, flags DeviceModifyFlags) error {
	typed := make([]libvirt.TypedParam, 0, len(params))
	for field, val := range params {
		typed = append(typed, libvirt.TypedParam{
			Field: field,
			Value: libvirt.TypedParamValue{D: 4, I: val}, // 4 = unsigned long long
		})
	}
	return d.l.DomainSetInterfaceParameters(d.d, device, typed, uint32(flags))
}

func (d *libvirtDomain) AgentCommand(ctx context.Context, cmd string, timeoutSeconds int) (string, error) {
	res, err := d.l.QEMUDomainAgentCommand(d.d, cmd, int32(timeoutSeconds), 0)
	if err != nil {
		return "", err
	}
	if len(res) == 0 {
		return "", nil
	}
	return res[0], nil
}

func (d *libvirtDomain) MonitorCommand(ctx context.Context, cmd string) (string, error) {
	return d.l.QEMUDomainMonitorCommand(d.d, cmd, 0)
}

func (d *libvirtDomain) SnapshotCreateXML(ctx context.Context, xml string, flags SnapshotCreateFlags) (Snapshot, error) {
	snap, err := d.l.DomainSnapshotCreateXML(d.d, xml, uint32(flags))
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot of %s: %w", d.d.Name, err)
	}
	return &libvirtSnapshot{l: d.l, s: snap}, nil
}

func (d *libvirtDomain) SnapshotLookupByName(ctx context.Context, name string) (Snapshot, error) {
	snap, err := d.l.DomainSnapshotLookupByName(d.d, name, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to look up snapshot %s of %s: %w", name, d.d.Name, err)
	}
	return &libvirtSnapshot{l: d.l, s: snap}, nil
}

func (d *libvirtDomain) RevertToSnapshot(ctx context.Context, snap Snapshot, flags SnapshotRevertFlags) error {
	ls, ok := snap.(*libvirtSnapshot)
	if !ok {
		return fmt.Errorf("foreign snapshot %s", snap.Name())
	}
	return d.l.DomainRevertToSnapshot(ls.s, uint32(flags))
}

func (d *libvirtDomain) ListAllSnapshots(ctx context.Context) ([]Snapshot, error) {
	snaps, _, err := d.l.DomainListAllSnapshots(d.d, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots of %s: %w", d.d.Name, err)
	}

	out := make([]Snapshot, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, &libvirtSnapshot{l: d.l, s: s})
	}
	return out, nil
}

type libvirtSnapshot struct {
	l *libvirt.Libvirt
	s libvirt.DomainSnapshot
}

func (s *libvirtSnapshot) Name() string {
	return s.s.Name
}

func (s *libvirtSnapshot) Parent(ctx context.Context) (Snapshot, error) {
	parent, err := s.l.DomainSnapshotGetParent(s.s, 0)
	if err != nil {
		if errorCode(err) == errCodeNoDomainSnapshot {
			return nil, ErrNoParent
		}
		return nil, fmt.Errorf("failed to resolve parent of snapshot %s: %w", s.s.Name, err)
	}
	return &libvirtSnapshot{l: s.l, s: parent}, nil
}

func (s *libvirtSnapshot) XMLDesc(ctx context.Context) (string, error) {
	return s.l.DomainSnapshotGetXMLDesc(s.s, 0)
}

func (s *libvirtSnapshot) Delete(ctx context.Context) error {
	return s.l.DomainSnapshotDelete(s.s, 0)
}
