package storage

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// glusterMountBase is where volume mounts are placed on the host.
const glusterMountBase = "/mnt/vmagent/gluster"

// GlusterFSBackend stores images on a glusterfs volume. Image creation,
// resizing and info go through qemu-img's native gluster:// protocol; file
// operations (copy, delete, size) go through a FUSE mount of the volume that
// is established at most once per process, on first touch.
type GlusterFSBackend struct {
	volume string

	mountOnce sync.Once
	mountErr  error
	local     *LocalBackend
}

// NewGlusterFSBackend builds a backend for one volume. The volume is not
// mounted until a file operation first needs it.
func NewGlusterFSBackend(volume string) *GlusterFSBackend {
	return &GlusterFSBackend{
		volume: volume,
		local:  NewLocalBackend(),
	}
}

// URL builds the qemu-img gluster protocol URL for path. The 127.0.0.1
// literal is intentional: every host runs a local DFS client.
func (b *GlusterFSBackend) URL(path string) string {
	return fmt.Sprintf("gluster://127.0.0.1/%s/%s", b.volume, trimLeadingSlash(path))
}

// mountPoint is where the volume's FUSE mount lives.
func (b *GlusterFSBackend) mountPoint() string {
	return filepath.Join(glusterMountBase, b.volume)
}

// mountedPath maps a volume-relative path onto the FUSE mount.
func (b *GlusterFSBackend) mountedPath(path string) string {
	return filepath.Join(b.mountPoint(), trimLeadingSlash(path))
}

// mount establishes the volume mount exactly once per process regardless of
// concurrent callers.
func (b *GlusterFSBackend) mount(ctx context.Context) error {
	b.mountOnce.Do(func() {
		mp := b.mountPoint()
		if err := os.MkdirAll(mp, 0755); err != nil {
			b.mountErr = fmt.Errorf("failed to create mountpoint %s: %w", mp, err)
			return
		}

		// Already mounted from a previous agent run.
		if isMountPoint(mp) {
			return
		}

		cmd := exec.CommandContext(ctx, "mount", "-t", "glusterfs", "127.0.0.1:/"+b.volume, mp)
		if out, err := cmd.CombinedOutput(); err != nil {
			b.mountErr = &CommandError{Cmd: cmd.String(), Stderr: string(out), Err: err}
		}
	})
	return b.mountErr
}

// Make creates an empty qcow2 image on the volume.
func (b *GlusterFSBackend) Make(ctx context.Context, path string, sizeGiB int64) error {
	if err := b.mount(ctx); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.mountedPath(path)), 0755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}
	return makeImage(ctx, b.URL(path), sizeGiB)
}

// Resize grows the qcow2 image on the volume.
func (b *GlusterFSBackend) Resize(ctx context.Context, path string, sizeGiB int64) error {
	return resizeImage(ctx, b.URL(path), sizeGiB)
}

// Copy duplicates src to dst through the volume mount. src is an absolute
// host path (the template store), dst is volume-relative.
func (b *GlusterFSBackend) Copy(ctx context.Context, src, dst string) error {
	if err := b.mount(ctx); err != nil {
		return err
	}
	return b.local.Copy(ctx, src, b.mountedPath(dst))
}

// Delete removes the image from the volume.
func (b *GlusterFSBackend) Delete(ctx context.Context, path string) error {
	if err := b.mount(ctx); err != nil {
		return err
	}
	return os.Remove(b.mountedPath(path))
}

// Info describes the image through qemu-img's gluster protocol.
func (b *GlusterFSBackend) Info(ctx context.Context, path string) (ImageInfo, error) {
	return imageInfo(ctx, b.URL(path))
}

// GetSize returns the image's on-disk size through the volume mount.
func (b *GlusterFSBackend) GetSize(ctx context.Context, path string) (int64, error) {
	if err := b.mount(ctx); err != nil {
		return 0, err
	}
	st, err := os.Stat(b.mountedPath(path))
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return st.Size(), nil
}

// EnsureDir fabricates dir on the volume through the mount.
func (b *GlusterFSBackend) EnsureDir(ctx context.Context, dir string) error {
	if err := b.mount(ctx); err != nil {
		return err
	}
	return os.MkdirAll(b.mountedPath(dir), 0755)
}

func trimLeadingSlash(p string) string {
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	return p
}

// isMountPoint reports whether dir sits on a different device than its
// parent, the cheap FUSE-mount check.
func isMountPoint(dir string) bool {
	st, err := os.Stat(dir)
	if err != nil {
		return false
	}
	parent, err := os.Stat(filepath.Dir(dir))
	if err != nil {
		return false
	}

	stSys, ok1 := sysStat(st)
	parentSys, ok2 := sysStat(parent)
	if !ok1 || !ok2 {
		return false
	}
	return stSys != parentSys
}
