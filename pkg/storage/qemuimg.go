package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/lima-vm/go-qcow2reader"
	"github.com/lima-vm/go-qcow2reader/image/qcow2"
)

// qemuImgBin is the image tool every backend dispatches to.
const qemuImgBin = "/usr/bin/qemu-img"

// runQemuImg executes the tool and wraps a non-zero exit in CommandError.
func runQemuImg(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, qemuImgBin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &CommandError{
			Cmd:    cmd.String(),
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return stdout.String(), nil
}

// makeImage creates an empty qcow2 image at path.
func makeImage(ctx context.Context, path string, sizeGiB int64) error {
	_, err := runQemuImg(ctx, "create", "-f", "qcow2", path, fmt.Sprintf("%dG", sizeGiB))
	return err
}

// resizeImage grows the qcow2 image at path.
func resizeImage(ctx context.Context, path string, sizeGiB int64) error {
	_, err := runQemuImg(ctx, "resize", "-f", "qcow2", path, fmt.Sprintf("%dG", sizeGiB))
	return err
}

// imageInfo decodes qemu-img info for path.
func imageInfo(ctx context.Context, path string) (ImageInfo, error) {
	out, err := runQemuImg(ctx, "info", "--output=json", "-f", "qcow2", path)
	if err != nil {
		return ImageInfo{}, err
	}

	var info ImageInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		return ImageInfo{}, fmt.Errorf("failed to decode image info for %s: %w", path, err)
	}
	return info, nil
}

// localImageInfo reads the qcow2 header in-process when the path is a plain
// file, falling back to the tool for anything it cannot decode. The header
// read avoids forking qemu-img on the create hot path.
func localImageInfo(ctx context.Context, path string) (ImageInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return imageInfo(ctx, path)
	}
	defer f.Close()

	img, err := qcow2reader.Open(f)
	if err != nil || img.Type() != qcow2.Type {
		return imageInfo(ctx, path)
	}

	st, err := f.Stat()
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return ImageInfo{
		Filename:    path,
		Format:      string(img.Type()),
		VirtualSize: img.Size(),
		ActualSize:  st.Size(),
	}, nil
}
