package guest

import (
	"context"
	"errors"
	"io/fs"
	"strings"

	"github.com/jimv/vmagent/pkg/domainxml"
	"github.com/jimv/vmagent/pkg/hypervisor"
	"github.com/jimv/vmagent/pkg/types"
)

// Delete tears a guest down: destroy if active, undefine, then remove the
// system image through the backend named by the instruction. A missing image
// file is swallowed; a prior partial delete may already have taken it.
func Delete(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	xml, err := dom.XMLDesc(ctx, 0)
	if err != nil {
		return Fail(err)
	}

	root, err := domainxml.Parse(xml)
	if err != nil {
		return Fail(err)
	}

	systemDisk, err := domainxml.SystemDisk(root)
	if err != nil {
		return Fail(err)
	}

	active, err := dom.IsActive(ctx)
	if err != nil {
		return Fail(err)
	}
	if active {
		if err := dom.Destroy(ctx); err != nil {
			return Fail(err)
		}
	}

	if err := dom.Undefine(ctx); err != nil {
		return Fail(err)
	}

	desc, path, err := systemImageLocation(msg.Storage, systemDisk)
	if err != nil {
		return Fail(err)
	}

	backend, err := env.Storage.ForDescriptor(desc)
	if err != nil {
		return Fail(err)
	}

	if err := backend.Delete(ctx, path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Fail(err)
	}
	return OK(nil)
}

// systemImageLocation resolves the system disk's backend path. Networked
// sources carry the volume as the first path component; file sources are
// absolute host paths.
func systemImageLocation(desc types.StorageDescriptor, disk domainxml.DiskSource) (types.StorageDescriptor, string, error) {
	switch desc.Mode {
	case types.StorageModeCeph, types.StorageModeGlusterFS:
		parts := strings.Split(disk.Name, "/")
		if desc.Mode == types.StorageModeGlusterFS {
			if len(parts) < 2 {
				return desc, "", errors.New("networked disk source has no volume component")
			}
			desc.DFSVolume = parts[0]
			return desc, strings.Join(parts[1:], "/"), nil
		}
		return desc, disk.Name, nil

	case types.StorageModeLocal, types.StorageModeSharedMount:
		if disk.File == "" {
			return desc, "", errors.New("file-backed disk source has no file attribute")
		}
		return desc, disk.File, nil

	default:
		return desc, "", errors.New("unknown storage mode " + string(desc.Mode))
	}
}
