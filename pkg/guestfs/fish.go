package guestfs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/jimv/vmagent/pkg/types"
)

// fishBin is the offline-inspection shell.
const fishBin = "guestfish"

// Fish drives a guestfish child process in batch mode: drives are attached
// on the command line, the inspected root is auto-mounted with -i, and the
// operates are fed as a script on stdin. guestfish stops at the first failed
// command and exits non-zero.
type Fish struct {
	// bin is swapped out by tests.
	bin string
}

// NewFish builds the guestfish-backed inspector.
func NewFish() *Fish {
	return &Fish{bin: fishBin}
}

// Apply runs one guestfish session over drives.
func (f *Fish) Apply(ctx context.Context, drives []Drive, operates []types.OSTemplateInitializeOperate, osType string) error {
	if len(operates) == 0 {
		return nil
	}
	if len(drives) == 0 {
		return fmt.Errorf("no drives to inspect")
	}

	args := []string{"--rw", "-i"}
	for _, d := range drives {
		args = append(args, "--format="+d.Format, "-a", driveURI(d))
	}

	script, err := Script(operates, osType)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, f.bin, args...)
	cmd.Stdin = strings.NewReader(script)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("inspection failed: %w: %s", err, output.String())
	}
	return nil
}

// driveURI renders the -a argument for one drive.
func driveURI(d Drive) string {
	if d.Protocol == "" {
		return d.Path
	}
	server := "127.0.0.1"
	if len(d.Servers) > 0 {
		server = d.Servers[0]
	}
	return fmt.Sprintf("%s://%s/%s", d.Protocol, server, strings.TrimPrefix(d.Path, "/"))
}

// Script renders the guestfish command script for operates. Exported so the
// exact command sequence is testable without an appliance.
func Script(operates []types.OSTemplateInitializeOperate, osType string) (string, error) {
	windows := IsWindows(osType)

	var b strings.Builder
	for _, op := range operates {
		switch op.Kind {
		case types.OperateCommand:
			// Windows images have no shell to run.
			if windows {
				continue
			}
			fmt.Fprintf(&b, "sh %s\n", quote(op.Command))

		case types.OperateWriteFile:
			content := NormalizeContent(op.Content, windows)
			fmt.Fprintf(&b, "write %s %s\n", quote(op.Path), quote(content))

		case types.OperateAppendFile:
			content := NormalizeContent(op.Content, windows)
			fmt.Fprintf(&b, "write-append %s %s\n", quote(op.Path), quote(content))

		default:
			return "", fmt.Errorf("unknown initialize operate kind %q", op.Kind)
		}
	}
	b.WriteString("quit\n")
	return b.String(), nil
}

// quote renders s as one guestfish double-quoted token.
func quote(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
	)
	return `"` + r.Replace(s) + `"`
}
