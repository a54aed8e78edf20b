package domainxml

import (
	"strings"
	"testing"
)

const sampleXML = `<domain type="kvm">
  <name>guest-1</name>
  <uuid>8ee54b06-2f1a-4a6e-9c62-9e55c3c1f2a0</uuid>
  <vcpu placement="static">2</vcpu>
  <memory unit="KiB">4194304</memory>
  <currentMemory unit="KiB">4194304</currentMemory>
  <devices>
    <disk type="file" device="disk">
      <driver name="qemu" type="qcow2"/>
      <source file="/opt/Images/8ee54b06.qcow2"/>
      <target dev="vda" bus="virtio"/>
    </disk>
    <disk type="network" device="disk">
      <driver name="qemu" type="qcow2"/>
      <source protocol="gluster" name="gv0/images/data-1.qcow2">
        <host name="127.0.0.1"/>
      </source>
      <target dev="vdb" bus="virtio"/>
    </disk>
    <interface type="bridge">
      <mac address="52:54:00:aa:bb:cc"/>
      <target dev="vnet0"/>
      <alias name="net0"/>
    </interface>
  </devices>
</domain>`

func TestDisks(t *testing.T) {
	root, err := Parse(sampleXML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	disks := Disks(root)
	if len(disks) != 2 {
		t.Fatalf("expected 2 disks, got %d", len(disks))
	}

	if disks[0].TargetDev != "vda" || disks[0].File != "/opt/Images/8ee54b06.qcow2" {
		t.Errorf("local disk parsed wrong: %+v", disks[0])
	}
	if disks[0].Format != "qcow2" {
		t.Errorf("format = %q", disks[0].Format)
	}
	if disks[0].Path() != "/opt/Images/8ee54b06.qcow2" {
		t.Errorf("Path() = %q", disks[0].Path())
	}

	if disks[1].Protocol != "gluster" || disks[1].Name != "gv0/images/data-1.qcow2" {
		t.Errorf("network disk parsed wrong: %+v", disks[1])
	}
	if len(disks[1].Hosts) != 1 || disks[1].Hosts[0] != "127.0.0.1" {
		t.Errorf("hosts = %v", disks[1].Hosts)
	}
	if disks[1].Path() != "gv0/images/data-1.qcow2" {
		t.Errorf("Path() = %q", disks[1].Path())
	}
}

func TestSystemDisk(t *testing.T) {
	root, _ := Parse(sampleXML)

	sys, err := SystemDisk(root)
	if err != nil {
		t.Fatalf("SystemDisk() error = %v", err)
	}
	if sys.TargetDev != "vda" {
		t.Errorf("system disk = %+v", sys)
	}

	noVDA, _ := Parse(`<domain><devices/></domain>`)
	if _, err := SystemDisk(noVDA); err == nil {
		t.Error("SystemDisk() should fail without a vda disk")
	}
}

func TestInterfaces(t *testing.T) {
	root, _ := Parse(sampleXML)

	ifaces := Interfaces(root)
	if len(ifaces) != 1 {
		t.Fatalf("expected 1 interface, got %d", len(ifaces))
	}
	if ifaces[0].TargetDev != "vnet0" || ifaces[0].AliasName != "net0" ||
		ifaces[0].MAC != "52:54:00:aa:bb:cc" {
		t.Errorf("interface parsed wrong: %+v", ifaces[0])
	}
}

func TestPatchAbility(t *testing.T) {
	root, _ := Parse(sampleXML)

	if err := PatchAbility(root, 8, 16); err != nil {
		t.Fatalf("PatchAbility() error = %v", err)
	}

	out, err := root.String()
	if err != nil {
		t.Fatalf("String() error = %v", err)
	}

	patched, err := Parse(out)
	if err != nil {
		t.Fatalf("re-Parse() error = %v", err)
	}

	cpu, err := VCPU(patched)
	if err != nil {
		t.Fatalf("VCPU() error = %v", err)
	}
	if cpu != 8 {
		t.Errorf("vcpu = %d, want 8", cpu)
	}

	for _, name := range []string{"memory", "currentMemory"} {
		el := patched.Find(name)
		if el == nil {
			t.Fatalf("%s element lost", name)
		}
		if el.Attr("unit") != "GiB" {
			t.Errorf("%s unit = %q, want GiB", name, el.Attr("unit"))
		}
		if el.TrimmedText() != "16" {
			t.Errorf("%s = %q, want 16", name, el.TrimmedText())
		}
	}

	// Untouched sub-trees survive the round trip.
	if !strings.Contains(out, "52:54:00:aa:bb:cc") {
		t.Error("interface sub-tree lost in round trip")
	}
	if !strings.Contains(out, "/opt/Images/8ee54b06.qcow2") {
		t.Error("disk sub-tree lost in round trip")
	}
}
