package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestCreateAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.pid")

	pf, err := Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("pid file missing: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		t.Errorf("pid file content = %q, want own pid", data)
	}

	if err := pf.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("pid file survived Close")
	}
}

func TestCreateRefusesLiveHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.pid")

	// pid 1 is always alive.
	if err := os.WriteFile(path, []byte("1\n"), 0644); err != nil {
		t.Fatalf("failed to plant pid file: %v", err)
	}

	if _, err := Create(path); err == nil {
		t.Error("Create() should refuse a pid file held by a live process")
	}
}

func TestCreateReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.pid")

	// Garbage content is stale by definition.
	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0644); err != nil {
		t.Fatalf("failed to plant pid file: %v", err)
	}

	pf, err := Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer pf.Close()
}

func TestCloseNilIsSafe(t *testing.T) {
	var pf *PidFile
	if err := pf.Close(); err != nil {
		t.Errorf("Close() on nil = %v", err)
	}
}
