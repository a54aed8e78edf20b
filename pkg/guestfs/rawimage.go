package guestfs

import (
	"context"
	"fmt"
	"os"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/filesystem"

	"github.com/jimv/vmagent/pkg/types"
)

// RawImage is the appliance-free inspector for raw, file-backed images: the
// filesystem is edited in-process through go-diskfs. Command operates cannot
// run without an appliance: they are skipped for Windows guests and rejected
// with an error otherwise. The supervisor builds its engines with Fish, not
// with this inspector.
type RawImage struct{}

// NewRawImage builds the in-process inspector.
func NewRawImage() *RawImage {
	return &RawImage{}
}

// Apply edits the first drive's root filesystem in place.
func (r *RawImage) Apply(ctx context.Context, drives []Drive, operates []types.OSTemplateInitializeOperate, osType string) error {
	if len(operates) == 0 {
		return nil
	}
	if len(drives) == 0 {
		return fmt.Errorf("no drives to inspect")
	}
	if drives[0].Protocol != "" {
		return fmt.Errorf("network drive %s needs the appliance inspector", drives[0].Path)
	}

	fs, err := openRootFilesystem(drives[0].Path)
	if err != nil {
		return err
	}

	windows := IsWindows(osType)

	for _, op := range operates {
		switch op.Kind {
		case types.OperateCommand:
			if windows {
				continue
			}
			return fmt.Errorf("command operates need the appliance inspector")

		case types.OperateWriteFile:
			if err := writeFile(fs, op.Path, NormalizeContent(op.Content, windows), false); err != nil {
				return err
			}

		case types.OperateAppendFile:
			if err := writeFile(fs, op.Path, NormalizeContent(op.Content, windows), true); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unknown initialize operate kind %q", op.Kind)
		}
	}
	return nil
}

// openRootFilesystem finds the first readable filesystem on the image: the
// whole disk first, then each partition in order.
func openRootFilesystem(path string) (filesystem.FileSystem, error) {
	d, err := diskfs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}

	if fs, err := d.GetFilesystem(0); err == nil {
		return fs, nil
	}

	table, err := d.GetPartitionTable()
	if err != nil {
		return nil, fmt.Errorf("image %s has no readable filesystem or partition table: %w", path, err)
	}

	for i := range table.GetPartitions() {
		if fs, err := d.GetFilesystem(i + 1); err == nil {
			return fs, nil
		}
	}
	return nil, fmt.Errorf("image %s has no readable filesystem", path)
}

func writeFile(fs filesystem.FileSystem, path, content string, appendTo bool) error {
	flags := os.O_CREATE | os.O_RDWR
	if appendTo {
		flags |= os.O_APPEND
	}

	f, err := fs.OpenFile(path, flags)
	if err != nil {
		return fmt.Errorf("failed to open %s in image: %w", path, err)
	}

	if _, err := f.Write([]byte(content)); err != nil {
		return fmt.Errorf("failed to write %s in image: %w", path, err)
	}
	return nil
}
