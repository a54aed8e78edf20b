// Package storage hides the four guest-image layouts (local filesystem,
// shared mount, ceph, glusterfs) behind one Backend interface. Image
// manipulation goes through qemu-img; glusterfs paths additionally go
// through a lazily created volume mount shared by the whole process.
package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/jimv/vmagent/pkg/types"
)

// Backend is the uniform surface every storage mode implements.
type Backend interface {
	// Make creates an empty qcow2 image of sizeGiB at path.
	Make(ctx context.Context, path string, sizeGiB int64) error

	// Resize grows the qcow2 image at path to sizeGiB.
	Resize(ctx context.Context, path string, sizeGiB int64) error

	// Copy duplicates src to dst, fabricating missing parent directories.
	Copy(ctx context.Context, src, dst string) error

	// Delete removes the image at path.
	Delete(ctx context.Context, path string) error

	// Info describes the image at path.
	Info(ctx context.Context, path string) (ImageInfo, error)

	// GetSize returns the actual on-disk size of path in bytes.
	GetSize(ctx context.Context, path string) (int64, error)

	// EnsureDir fabricates dir (and parents) with permission 0755.
	EnsureDir(ctx context.Context, dir string) error
}

// ImageInfo is the decoded output of qemu-img info.
type ImageInfo struct {
	Filename    string `json:"filename"`
	Format      string `json:"format"`
	VirtualSize int64  `json:"virtual-size"`
	ActualSize  int64  `json:"actual-size"`
}

// CommandError carries the stderr of a failed image-tool invocation.
type CommandError struct {
	Cmd    string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("storage command %q failed: %v: %s", e.Cmd, e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Selector picks the backend for a guest's storage descriptor. Set is the
// production implementation; tests substitute fakes.
type Selector interface {
	ForDescriptor(d types.StorageDescriptor) (Backend, error)
}

// Set owns one backend per storage mode and the process-wide glusterfs mount
// handles. The supervisor constructs one Set and every engine borrows it.
type Set struct {
	local  *LocalBackend
	shared *LocalBackend
	ceph   *CephBackend

	mu      sync.Mutex
	gluster map[string]*GlusterFSBackend
}

// NewSet builds the process-wide backend set.
func NewSet() *Set {
	return &Set{
		local:   NewLocalBackend(),
		shared:  NewSharedMountBackend(),
		ceph:    NewCephBackend(),
		gluster: make(map[string]*GlusterFSBackend),
	}
}

// ForDescriptor selects the backend for one guest's storage descriptor.
// GlusterFS backends are created once per volume and reused; the mount
// itself happens lazily on first use.
func (s *Set) ForDescriptor(d types.StorageDescriptor) (Backend, error) {
	switch d.Mode {
	case types.StorageModeLocal:
		return s.local, nil
	case types.StorageModeSharedMount:
		return s.shared, nil
	case types.StorageModeCeph:
		return s.ceph, nil
	case types.StorageModeGlusterFS:
		if d.DFSVolume == "" {
			return nil, fmt.Errorf("storage mode glusterfs requires a dfs_volume")
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		b, ok := s.gluster[d.DFSVolume]
		if !ok {
			b = NewGlusterFSBackend(d.DFSVolume)
			s.gluster[d.DFSVolume] = b
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown storage mode %q", d.Mode)
	}
}
