package domainxml

import (
	"fmt"
	"strconv"
)

// DiskSource is one devices/disk sub-tree, flattened to the fields the agent
// reads.
type DiskSource struct {
	TargetDev string
	Format    string
	// File is set for local/shared-mount disks.
	File string
	// Name, Protocol and Hosts are set for network disks.
	Name     string
	Protocol string
	Hosts    []string
}

// Path returns the disk's backing path regardless of transport.
func (d DiskSource) Path() string {
	if d.File != "" {
		return d.File
	}
	return d.Name
}

// Disks extracts every devices/disk sub-tree of the document.
func Disks(root *Node) []DiskSource {
	var out []DiskSource
	for _, disk := range root.FindAll("devices/disk") {
		var d DiskSource

		if target := disk.Find("target"); target != nil {
			d.TargetDev = target.Attr("dev")
		}
		if driver := disk.Find("driver"); driver != nil {
			d.Format = driver.Attr("type")
		}
		if source := disk.Find("source"); source != nil {
			d.File = source.Attr("file")
			d.Name = source.Attr("name")
			d.Protocol = source.Attr("protocol")
			for _, host := range source.FindAll("host") {
				d.Hosts = append(d.Hosts, host.Attr("name"))
			}
		}

		out = append(out, d)
	}
	return out
}

// SystemDisk returns the vda disk, the system image by convention.
func SystemDisk(root *Node) (DiskSource, error) {
	for _, d := range Disks(root) {
		if d.TargetDev == "vda" {
			return d, nil
		}
	}
	return DiskSource{}, fmt.Errorf("definition has no vda disk")
}

// Interface is one devices/interface sub-tree, flattened.
type Interface struct {
	TargetDev string
	AliasName string
	MAC       string
}

// Interfaces extracts every devices/interface sub-tree of the document.
func Interfaces(root *Node) []Interface {
	var out []Interface
	for _, iface := range root.FindAll("devices/interface") {
		var i Interface
		if target := iface.Find("target"); target != nil {
			i.TargetDev = target.Attr("dev")
		}
		if alias := iface.Find("alias"); alias != nil {
			i.AliasName = alias.Attr("name")
		}
		if mac := iface.Find("mac"); mac != nil {
			i.MAC = mac.Attr("address")
		}
		out = append(out, i)
	}
	return out
}

// VCPU returns the definition's vcpu count.
func VCPU(root *Node) (int, error) {
	vcpu := root.Find("vcpu")
	if vcpu == nil {
		return 0, fmt.Errorf("definition has no vcpu element")
	}
	n, err := strconv.Atoi(vcpu.TrimmedText())
	if err != nil {
		return 0, fmt.Errorf("invalid vcpu value %q: %w", vcpu.TrimmedText(), err)
	}
	return n, nil
}

// PatchAbility rewrites vcpu, memory and currentMemory in place. Memory is
// written in GiB units.
func PatchAbility(root *Node, cpu int, memoryGiB int) error {
	vcpu := root.Find("vcpu")
	if vcpu == nil {
		return fmt.Errorf("definition has no vcpu element")
	}
	vcpu.SetText(strconv.Itoa(cpu))

	mem := strconv.Itoa(memoryGiB)
	for _, name := range []string{"memory", "currentMemory"} {
		el := root.Find(name)
		if el == nil {
			return fmt.Errorf("definition has no %s element", name)
		}
		el.SetAttr("unit", "GiB")
		el.SetText(mem)
	}
	return nil
}
