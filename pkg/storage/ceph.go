package storage

import "context"

// CephBackend is a pass-through: ceph-backed images are managed by the
// hypervisor's own RBD driver, so every method is a no-op that reports
// nothing useful rather than an error.
type CephBackend struct{}

// NewCephBackend builds the pass-through backend.
func NewCephBackend() *CephBackend {
	return &CephBackend{}
}

func (b *CephBackend) Make(ctx context.Context, path string, sizeGiB int64) error { return nil }

func (b *CephBackend) Resize(ctx context.Context, path string, sizeGiB int64) error { return nil }

func (b *CephBackend) Copy(ctx context.Context, src, dst string) error { return nil }

func (b *CephBackend) Delete(ctx context.Context, path string) error { return nil }

func (b *CephBackend) Info(ctx context.Context, path string) (ImageInfo, error) {
	return ImageInfo{Filename: path}, nil
}

func (b *CephBackend) GetSize(ctx context.Context, path string) (int64, error) { return 0, nil }

func (b *CephBackend) EnsureDir(ctx context.Context, dir string) error { return nil }
