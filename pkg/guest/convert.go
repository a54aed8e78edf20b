package guest

import (
	"bufio"
	"context"
	"os/exec"
	"path"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jimv/vmagent/pkg/hypervisor"
	"github.com/jimv/vmagent/pkg/storage"
	"github.com/jimv/vmagent/pkg/types"
)

// progressPattern matches qemu-img's "(12.34/100%)" progress lines.
var progressPattern = regexp.MustCompile(`\((\d+(\.\d+)?)/100%\)`)

// progressSignalInterval is how often the child is prodded with SIGUSR1;
// qemu-img prints a progress line on each one.
const progressSignalInterval = 500 * time.Millisecond

// ConvertSnapshot exports the named snapshot into a template image by
// running qemu-img convert as a child process, relaying its progress as
// snapshot_converting events.
func ConvertSnapshot(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	snapshotPath := msg.SnapshotPath
	templatePath := msg.TemplatePath

	if msg.Storage.Mode == types.StorageModeGlusterFS {
		backend, err := env.Storage.ForDescriptor(msg.Storage)
		if err != nil {
			return Fail(err)
		}
		if err := backend.EnsureDir(ctx, path.Dir(templatePath)); err != nil {
			return Fail(err)
		}

		gfs, ok := backend.(*storage.GlusterFSBackend)
		if !ok {
			return Failf("storage mode glusterfs resolved to %T", backend)
		}
		snapshotPath = gfs.URL(snapshotPath)
		templatePath = gfs.URL(templatePath)
	}

	cmd := exec.CommandContext(ctx, "/usr/bin/qemu-img",
		"convert", "--force-share", "-p", "-O", "qcow2",
		"-s", msg.SnapshotID, snapshotPath, templatePath)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Fail(err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return Failf("failed to start image conversion: %w", err)
	}

	// Progress lines arrive on their own goroutine; the signal ticker prods
	// the child until it exits.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(progressSignalInterval)
	defer ticker.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if progress, ok := parseProgress(line); ok {
				env.Events.SnapshotConverting(ctx, msg.UUID, msg.OSTemplateImageID, progress)
			}

		case <-ticker.C:
			_ = cmd.Process.Signal(syscall.SIGUSR1)

		case err := <-done:
			// Drain whatever the scanner still holds.
			if lines != nil {
				for line := range lines {
					if progress, ok := parseProgress(line); ok {
						env.Events.SnapshotConverting(ctx, msg.UUID, msg.OSTemplateImageID, progress)
					}
				}
			}

			if err != nil {
				return Failf("image conversion exited abnormally: %w", err)
			}
			return OK(nil)
		}
	}
}

func parseProgress(line string) (int, bool) {
	m := progressPattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return 0, false
	}

	whole, _, _ := strings.Cut(m[1], ".")
	progress, err := strconv.Atoi(whole)
	if err != nil {
		return 0, false
	}
	return progress, true
}
