package guest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/jimv/vmagent/pkg/domainxml"
	"github.com/jimv/vmagent/pkg/hypervisor"
	"github.com/jimv/vmagent/pkg/types"
)

// Migrate moves a guest to the host named by the destination URI. Shared
// storage migrates directly; local storage additionally needs the source
// disks pre-created on the destination over SSH before libvirt streams their
// contents, and removed from this host afterward.
func Migrate(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	if msg.DURI == "" {
		return Failf("migrate for %s carries no duri", msg.UUID)
	}

	flags := hypervisor.MigratePersistDest |
		hypervisor.MigrateUndefineSource |
		hypervisor.MigrateCompressed |
		hypervisor.MigratePeer2Peer |
		hypervisor.MigrateAutoConverge

	active, err := dom.IsActive(ctx)
	if err != nil {
		return Fail(err)
	}

	xml, err := dom.XMLDesc(ctx, 0)
	if err != nil {
		return Fail(err)
	}
	root, err := domainxml.Parse(xml)
	if err != nil {
		return Fail(err)
	}

	var localDisks []string

	switch msg.Storage.Mode {
	case types.StorageModeLocal:
		flags |= hypervisor.MigrateNonSharedDisk | hypervisor.MigrateLive

		if !active {
			return Failf("offline migration is unsupported on local storage")
		}

		localDisks = fileBackedDisks(root)
		if err := precreateDestinationDisks(ctx, env, msg.DURI, localDisks); err != nil {
			return Fail(err)
		}

	case types.StorageModeSharedMount, types.StorageModeCeph, types.StorageModeGlusterFS:
		if active {
			flags |= hypervisor.MigrateLive | hypervisor.MigrateTunnelled
		} else {
			flags |= hypervisor.MigrateOffline
		}

	default:
		return Failf("unknown storage mode %q", msg.Storage.Mode)
	}

	if err := dom.MigrateToURI(ctx, msg.DURI, flags); err != nil {
		return Fail(err)
	}

	// The domain now lives on the destination; local images here are dead
	// weight.
	if msg.Storage.Mode == types.StorageModeLocal {
		backend, err := env.Storage.ForDescriptor(msg.Storage)
		if err != nil {
			return Fail(err)
		}
		for _, path := range localDisks {
			if err := backend.Delete(ctx, path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return Fail(err)
			}
		}
	}

	return OK(nil)
}

// fileBackedDisks lists the file paths of every file-backed disk in the
// definition.
func fileBackedDisks(root *domainxml.Node) []string {
	var paths []string
	for _, d := range domainxml.Disks(root) {
		if d.File != "" {
			paths = append(paths, d.File)
		}
	}
	return paths
}

// precreateDestinationDisks sizes each source disk and creates an empty
// image of the same virtual size at the identical path on the destination.
// Any failure aborts the migration before libvirt is involved.
func precreateDestinationDisks(ctx context.Context, env *Env, duri string, paths []string) error {
	host, err := migrationHost(duri)
	if err != nil {
		return err
	}

	client, err := env.SSHDial(host, "root")
	if err != nil {
		return fmt.Errorf("failed to reach migration destination %s: %w", host, err)
	}
	defer client.Close()

	backend, err := env.Storage.ForDescriptor(types.StorageDescriptor{Mode: types.StorageModeLocal})
	if err != nil {
		return err
	}

	for _, path := range paths {
		info, err := backend.Info(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to size source disk %s: %w", path, err)
		}

		cmd := fmt.Sprintf("qemu-img create -f qcow2 %s %d", path, info.VirtualSize)
		if out, err := client.Run(cmd); err != nil {
			return fmt.Errorf("failed to pre-create %s on %s: %w: %s", path, host, err, out)
		}
	}
	return nil
}

// migrationHost extracts the destination hostname from a URI like
// qemu+ssh://destination/system.
func migrationHost(duri string) (string, error) {
	parts := strings.Split(duri, "/")
	if len(parts) < 3 || parts[2] == "" {
		return "", fmt.Errorf("malformed destination uri %q", duri)
	}
	return parts[2], nil
}
