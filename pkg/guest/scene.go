package guest

import (
	"context"
	"errors"
	"io/fs"

	"github.com/jimv/vmagent/pkg/storage"
)

// Scene remembers the system-image path a create has written but not yet
// anchored with a domain definition. If the consumer crashes in that window,
// the next cycle's Cleanup removes the orphaned image. Owned by a single
// consumer goroutine; no locking.
type Scene struct {
	dirty   bool
	backend storage.Backend
	path    string
}

// NewScene builds a clean scene.
func NewScene() *Scene {
	return &Scene{}
}

// Mark records that path is about to be written via backend.
func (s *Scene) Mark(backend storage.Backend, path string) {
	s.dirty = true
	s.backend = backend
	s.path = path
}

// Clear marks the scene clean; the definition now owns the image.
func (s *Scene) Clear() {
	s.dirty = false
	s.backend = nil
	s.path = ""
}

// Dirty reports whether an orphaned image may exist.
func (s *Scene) Dirty() bool {
	return s.dirty
}

// Cleanup removes the orphaned image if the scene is dirty. A missing file
// is fine; the crash may have happened before the copy started.
func (s *Scene) Cleanup(ctx context.Context) error {
	if !s.dirty {
		return nil
	}

	err := s.backend.Delete(ctx, s.path)
	s.Clear()

	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
