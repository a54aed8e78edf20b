// Package pidfile writes and removes the agent's only piece of persisted
// state.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PidFile is one created pid file, removed on Close.
type PidFile struct {
	path string
}

// Create writes the current process id to path, refusing to clobber a file
// that names a different live process.
func Create(path string) (*PidFile, error) {
	if pid, ok := readExisting(path); ok && pid != os.Getpid() && processAlive(pid) {
		return nil, fmt.Errorf("pid file %s already held by running pid %d", path, pid)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create pid file directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("failed to write pid file: %w", err)
	}

	return &PidFile{path: path}, nil
}

// Close removes the pid file. Safe to call on shutdown regardless of how far
// startup got.
func (p *PidFile) Close() error {
	if p == nil {
		return nil
	}
	err := os.Remove(p.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// Path returns the file's location.
func (p *PidFile) Path() string {
	return p.path
}

func readExisting(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

// processAlive reports whether pid exists, via the null signal.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
