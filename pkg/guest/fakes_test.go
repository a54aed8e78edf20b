package guest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
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

// fakeBus records queue and channel traffic in memory.
type fakeBus struct {
	lists    map[string][]string
	pubs     map[string][]string
	pushErr  error
}

func newFakeBus() *fakeBus {
	return &fakeBus{lists: make(map[string][]string), pubs: make(map[string][]string)}
}

func (b *fakeBus) LPop(ctx context.Context, queue string) (string, error) {
	q := b.lists[queue]
	if len(q) == 0 {
		return "", bus.ErrEmpty
	}
	b.lists[queue] = q[1:]
	return q[0], nil
}

func (b *fakeBus) RPush(ctx context.Context, queue string, message string) error {
	if b.pushErr != nil {
		return b.pushErr
	}
	b.lists[queue] = append(b.lists[queue], message)
	return nil
}

func (b *fakeBus) Publish(ctx context.Context, channel string, message string) error {
	b.pubs[channel] = append(b.pubs[channel], message)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (bus.Subscription, error) {
	return nil, fmt.Errorf("not implemented")
}

func (b *fakeBus) Close() error { return nil }

// fakeSnapshot is one snapshot in a fakeDomain's tree.
type fakeSnapshot struct {
	name   string
	parent string
	dom    *fakeDomain
}

func (s *fakeSnapshot) Name() string { return s.name }

func (s *fakeSnapshot) Parent(ctx context.Context) (hypervisor.Snapshot, error) {
	if s.parent == "" {
		return nil, hypervisor.ErrNoParent
	}
	return s.dom.snapshots[s.parent], nil
}

func (s *fakeSnapshot) XMLDesc(ctx context.Context) (string, error) {
	return "<domainsnapshot><name>" + s.name + "</name></domainsnapshot>", nil
}

func (s *fakeSnapshot) Delete(ctx context.Context) error {
	delete(s.dom.snapshots, s.name)
	return nil
}

// fakeDomain records every mutation an operation performs.
type fakeDomain struct {
	uuid   string
	name   string
	active bool
	xml    string
	info   hypervisor.DomainInfo

	created, destroyed, undefined bool
	rebooted, shutdownSent        bool
	suspended, resumed            bool

	monitorCmds []string

	agentReplies map[string][]string
	agentCmds    []string

	attachCalls []hypervisor.DeviceModifyFlags
	detachCalls []hypervisor.DeviceModifyFlags
	attachedXML []string
	detachedXML []string

	migrateCalls int
	migrateURI   string
	migrateFlags hypervisor.MigrateFlags
	migrateErr   error

	blockResized map[string]uint64

	snapshots   map[string]*fakeSnapshot
	snapCounter int
	currentSnap string

	revertErrs  []error
	revertFlags []hypervisor.SnapshotRevertFlags

	passwordUser string
	passwordSet  string

	ifaceParams  map[string]map[string]uint64
	setIfaceLog  []hypervisor.DeviceModifyFlags

	memStats map[string]uint64
	memPeriod int
}

func newFakeDomain(uuid, name string) *fakeDomain {
	return &fakeDomain{
		uuid:         uuid,
		name:         name,
		agentReplies: make(map[string][]string),
		blockResized: make(map[string]uint64),
		snapshots:    make(map[string]*fakeSnapshot),
		ifaceParams:  make(map[string]map[string]uint64),
	}
}

func (d *fakeDomain) UUIDString() string { return d.uuid }
func (d *fakeDomain) Name() string       { return d.name }

func (d *fakeDomain) IsActive(ctx context.Context) (bool, error) { return d.active, nil }

func (d *fakeDomain) Info(ctx context.Context) (hypervisor.DomainInfo, error) { return d.info, nil }

func (d *fakeDomain) XMLDesc(ctx context.Context, flags hypervisor.XMLFlags) (string, error) {
	return d.xml, nil
}

func (d *fakeDomain) Create(ctx context.Context) error {
	d.created = true
	d.active = true
	return nil
}

func (d *fakeDomain) Destroy(ctx context.Context) error {
	d.destroyed = true
	d.active = false
	return nil
}

func (d *fakeDomain) Shutdown(ctx context.Context) error {
	d.shutdownSent = true
	return nil
}

func (d *fakeDomain) Reboot(ctx context.Context) error {
	d.rebooted = true
	return nil
}

func (d *fakeDomain) Suspend(ctx context.Context) error {
	d.suspended = true
	return nil
}

func (d *fakeDomain) Resume(ctx context.Context) error {
	d.resumed = true
	return nil
}

func (d *fakeDomain) Undefine(ctx context.Context) error {
	d.undefined = true
	return nil
}

func (d *fakeDomain) AttachDeviceFlags(ctx context.Context, xml string, flags hypervisor.DeviceModifyFlags) error {
	d.attachCalls = append(d.attachCalls, flags)
	d.attachedXML = append(d.attachedXML, xml)
	return nil
}

func (d *fakeDomain) DetachDeviceFlags(ctx context.Context, xml string, flags hypervisor.DeviceModifyFlags) error {
	d.detachCalls = append(d.detachCalls, flags)
	d.detachedXML = append(d.detachedXML, xml)
	return nil
}

func (d *fakeDomain) MigrateToURI(ctx context.Context, duri string, flags hypervisor.MigrateFlags) error {
	d.migrateCalls++
	d.migrateURI = duri
	d.migrateFlags = flags
	return d.migrateErr
}

func (d *fakeDomain) BlockResize(ctx context.Context, device string, sizeKiB uint64) error {
	d.blockResized[device] = sizeKiB
	return nil
}

func (d *fakeDomain) SetUserPassword(ctx context.Context, user, password string) error {
	d.passwordUser = user
	d.passwordSet = password
	return nil
}

func (d *fakeDomain) MemoryStats(ctx context.Context) (map[string]uint64, error) {
	return d.memStats, nil
}

func (d *fakeDomain) SetMemoryStatsPeriod(ctx context.Context, seconds int) error {
	d.memPeriod = seconds
	return nil
}

func (d *fakeDomain) InterfaceStats(ctx context.Context, dev string) (hypervisor.InterfaceStats, error) {
	return hypervisor.InterfaceStats{}, nil
}

func (d *fakeDomain) BlockStats(ctx context.Context, dev string) (hypervisor.BlockStats, error) {
	return hypervisor.BlockStats{}, nil
}

func (d *fakeDomain) InterfaceParameters(ctx context.Context, device string) (map[string]uint64, error) {
	return d.ifaceParams[device], nil
}

func (d *fakeDomain) SetInterfaceParameters(ctx context.Context, device string, params map[string]uint64, flags hypervisor.DeviceModifyFlags) error {
	d.ifaceParams[device] = params
	d.setIfaceLog = append(d.setIfaceLog, flags)
	return nil
}

func (d *fakeDomain) AgentCommand(ctx context.Context, cmd string, timeoutSeconds int) (string, error) {
	d.agentCmds = append(d.agentCmds, cmd)

	var parsed struct {
		Execute string `json:"execute"`
	}
	if err := json.Unmarshal([]byte(cmd), &parsed); err != nil {
		return "", err
	}

	queue := d.agentReplies[parsed.Execute]
	if len(queue) == 0 {
		return `{"return":{}}`, nil
	}
	reply := queue[0]
	if len(queue) > 1 {
		d.agentReplies[parsed.Execute] = queue[1:]
	}
	return reply, nil
}

func (d *fakeDomain) MonitorCommand(ctx context.Context, cmd string) (string, error) {
	d.monitorCmds = append(d.monitorCmds, cmd)
	return `{"return":{}}`, nil
}

func (d *fakeDomain) SnapshotCreateXML(ctx context.Context, xml string, flags hypervisor.SnapshotCreateFlags) (hypervisor.Snapshot, error) {
	d.snapCounter++
	snap := &fakeSnapshot{
		name:   fmt.Sprintf("snap-%d", d.snapCounter),
		parent: d.currentSnap,
		dom:    d,
	}
	d.snapshots[snap.name] = snap
	d.currentSnap = snap.name
	return snap, nil
}

func (d *fakeDomain) SnapshotLookupByName(ctx context.Context, name string) (hypervisor.Snapshot, error) {
	snap, ok := d.snapshots[name]
	if !ok {
		return nil, fmt.Errorf("no snapshot %s", name)
	}
	return snap, nil
}

func (d *fakeDomain) RevertToSnapshot(ctx context.Context, snap hypervisor.Snapshot, flags hypervisor.SnapshotRevertFlags) error {
	d.revertFlags = append(d.revertFlags, flags)
	if len(d.revertErrs) > 0 {
		err := d.revertErrs[0]
		d.revertErrs = d.revertErrs[1:]
		return err
	}
	return nil
}

func (d *fakeDomain) ListAllSnapshots(ctx context.Context) ([]hypervisor.Snapshot, error) {
	names := make([]string, 0, len(d.snapshots))
	for name := range d.snapshots {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]hypervisor.Snapshot, 0, len(names))
	for _, name := range names {
		out = append(out, d.snapshots[name])
	}
	return out, nil
}

// fakeConn hands out fakeDomains.
type fakeConn struct {
	domains    map[string]*fakeDomain
	definedXML []string
	defineErr  error
	hostname   string
}

func newFakeConn() *fakeConn {
	return &fakeConn{domains: make(map[string]*fakeDomain), hostname: "host-1"}
}

func (c *fakeConn) ListAllDomains(ctx context.Context) ([]hypervisor.Domain, error) {
	names := make([]string, 0, len(c.domains))
	for uuid := range c.domains {
		names = append(names, uuid)
	}
	sort.Strings(names)

	out := make([]hypervisor.Domain, 0, len(names))
	for _, uuid := range names {
		out = append(out, c.domains[uuid])
	}
	return out, nil
}

func (c *fakeConn) LookupByUUID(ctx context.Context, uuid string) (hypervisor.Domain, error) {
	dom, ok := c.domains[uuid]
	if !ok {
		return nil, fmt.Errorf("no domain %s", uuid)
	}
	return dom, nil
}

func (c *fakeConn) DefineXML(ctx context.Context, xml string) (hypervisor.Domain, error) {
	if c.defineErr != nil {
		return nil, c.defineErr
	}
	c.definedXML = append(c.definedXML, xml)

	dom := newFakeDomain("defined-uuid", "defined")
	dom.xml = xml
	c.domains[dom.uuid] = dom
	return dom, nil
}

func (c *fakeConn) Hostname(ctx context.Context) (string, error) { return c.hostname, nil }

func (c *fakeConn) Close() error { return nil }

// fakeInspector records Apply calls.
type fakeInspector struct {
	calls    int
	drives   []guestfs.Drive
	operates []types.OSTemplateInitializeOperate
	osType   string
	err      error
}

func (f *fakeInspector) Apply(ctx context.Context, drives []guestfs.Drive, operates []types.OSTemplateInitializeOperate, osType string) error {
	f.calls++
	f.drives = drives
	f.operates = operates
	f.osType = osType
	return f.err
}

// fakeSSHClient records remote commands.
type fakeSSHClient struct {
	commands []string
	runErr   error
}

func (c *fakeSSHClient) Run(command string) (string, error) {
	c.commands = append(c.commands, command)
	return "", c.runErr
}

func (c *fakeSSHClient) Close() error { return nil }

// fakeBackend records storage calls in memory.
type fakeBackend struct {
	made     map[string]int64
	copied   map[string]string
	deleted  []string
	resized  map[string]int64
	copyErr  error
	info     storage.ImageInfo
	infoErr  error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		made:    make(map[string]int64),
		copied:  make(map[string]string),
		resized: make(map[string]int64),
		info:    storage.ImageInfo{Format: "qcow2", VirtualSize: 10 << 30, ActualSize: 1 << 30},
	}
}

func (b *fakeBackend) Make(ctx context.Context, path string, sizeGiB int64) error {
	b.made[path] = sizeGiB
	return nil
}

func (b *fakeBackend) Resize(ctx context.Context, path string, sizeGiB int64) error {
	b.resized[path] = sizeGiB
	return nil
}

func (b *fakeBackend) Copy(ctx context.Context, src, dst string) error {
	if b.copyErr != nil {
		return b.copyErr
	}
	b.copied[dst] = src
	return nil
}

func (b *fakeBackend) Delete(ctx context.Context, path string) error {
	b.deleted = append(b.deleted, path)
	return nil
}

func (b *fakeBackend) Info(ctx context.Context, path string) (storage.ImageInfo, error) {
	if b.infoErr != nil {
		return storage.ImageInfo{}, b.infoErr
	}
	info := b.info
	info.Filename = path
	return info, nil
}

func (b *fakeBackend) GetSize(ctx context.Context, path string) (int64, error) { return 0, nil }

func (b *fakeBackend) EnsureDir(ctx context.Context, dir string) error { return nil }

// fakeSelector returns the same backend for every mode.
type fakeSelector struct {
	backend *fakeBackend
}

func (s *fakeSelector) ForDescriptor(d types.StorageDescriptor) (storage.Backend, error) {
	return s.backend, nil
}

// harness bundles the Env with every fake behind it.
type harness struct {
	env       *Env
	bus       *fakeBus
	backend   *fakeBackend
	inspector *fakeInspector
	ssh       *fakeSSHClient
	sshErr    error
}

// testEnv builds an Env wired to fakes. The fakeBus sees both the upstream
// emissions and the creating_guest records.
func testEnv(conn *fakeConn) *harness {
	h := &harness{
		bus:       newFakeBus(),
		backend:   newFakeBackend(),
		inspector: &fakeInspector{},
		ssh:       &fakeSSHClient{},
	}

	em := emitter.New(h.bus, "upstream_queue", "host-1", 42)

	h.env = &Env{
		Conn:               conn,
		Storage:            &fakeSelector{backend: h.backend},
		Bus:                h.bus,
		CreatingGuestQueue: "creating_guest",
		Events:             emitter.NewGuestEventEmitter(em),
		Log:                emitter.NewLogEmitter(em),
		Agent:              guestagent.New(guestagent.Config{PollInterval: time.Microsecond, PollAttempts: 10}),
		Inspector:          h.inspector,
		SSHDial: func(host, user string) (sshclient.Client, error) {
			if h.sshErr != nil {
				return nil, h.sshErr
			}
			return h.ssh, nil
		},
		Scene: NewScene(),
		now:   func() time.Time { return time.Unix(1700000000, 0) },
	}
	return h
}
