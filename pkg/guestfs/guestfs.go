// Package guestfs applies a template's initialization operates to a guest's
// disk images before first boot: run a command in the image, write a file,
// append to a file. The production implementation drives a guestfish child
// process (the offline-inspection engine); a pure-Go implementation handles
// raw local images without the appliance.
package guestfs

import (
	"context"
	"strings"

	"github.com/jimv/vmagent/pkg/types"
)

// Drive names one disk image to attach for inspection.
type Drive struct {
	// Path is a filesystem path for file-backed disks or a volume-relative
	// path for network disks.
	Path   string
	Format string

	// Protocol and Servers are set for network disks (gluster, rbd).
	Protocol string
	Servers  []string
}

// Inspector mounts a guest's disks offline and applies initialization
// operates in order.
type Inspector interface {
	// Apply attaches drives, mounts the inspected root, and executes each
	// operate. Command operates are skipped on Windows images; file content
	// written to Windows images has \n normalized to \r\n.
	Apply(ctx context.Context, drives []Drive, operates []types.OSTemplateInitializeOperate, osType string) error
}

// IsWindows reports whether osType names a Windows image.
func IsWindows(osType string) bool {
	return strings.Contains(strings.ToLower(osType), "windows")
}

// NormalizeContent applies the platform line-ending convention.
func NormalizeContent(content string, windows bool) string {
	if !windows {
		return content
	}
	content = strings.ReplaceAll(content, "\r", "")
	return strings.ReplaceAll(content, "\n", "\r\n")
}
