package guest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jimv/vmagent/pkg/domainxml"
	"github.com/jimv/vmagent/pkg/guestfs"
	"github.com/jimv/vmagent/pkg/hypervisor"
	"github.com/jimv/vmagent/pkg/types"
)

// creatingRecord is what the external janitor needs to clean up after an
// agent that died mid-create.
type creatingRecord struct {
	StorageMode     types.StorageMode `json:"storage_mode"`
	DFSVolume       string            `json:"dfs_volume,omitempty"`
	UUID            string            `json:"uuid"`
	TemplatePath    string            `json:"template_path"`
	SystemImagePath string            `json:"system_image_path"`
}

// Create builds a guest from a template: copy the system image, define the
// domain, apply the template's initialization operates offline, boot, and
// throttle its disks. Partial state is not rolled back here; the control
// plane deletes explicitly and the janitor consumes the creating record.
func Create(ctx context.Context, env *Env, _ hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	if len(msg.Disks) == 0 {
		return Failf("create_guest for %s carries no disks", msg.UUID)
	}
	if err := msg.Storage.Validate(); err != nil {
		return Fail(err)
	}

	backend, err := env.Storage.ForDescriptor(msg.Storage)
	if err != nil {
		return Fail(err)
	}

	systemImagePath := msg.Disks[0].Path

	// Give the janitor a handle on this create before any state exists.
	record, err := json.Marshal(creatingRecord{
		StorageMode:     msg.Storage.Mode,
		DFSVolume:       msg.Storage.DFSVolume,
		UUID:            msg.UUID,
		TemplatePath:    msg.TemplatePath,
		SystemImagePath: systemImagePath,
	})
	if err != nil {
		return Fail(err)
	}
	if err := env.Bus.RPush(ctx, env.CreatingGuestQueue, string(record)); err != nil {
		return Failf("failed to record in-flight create: %w", err)
	}

	// The scene is dirty from first write until the definition lands.
	if env.Scene != nil {
		env.Scene.Mark(backend, systemImagePath)
	}

	if err := backend.Copy(ctx, msg.TemplatePath, systemImagePath); err != nil {
		return Failf("failed to generate system image for %s: %w", msg.UUID, err)
	}

	dom, err := env.Conn.DefineXML(ctx, msg.XML)
	if err != nil {
		return Failf("failed to define %s: %w", msg.UUID, err)
	}

	if env.Scene != nil {
		env.Scene.Clear()
	}
	env.Log.Info(ctx, fmt.Sprintf("domain %s defined", msg.UUID))

	env.Events.Creating(ctx, msg.UUID, 92)

	diskInfo, err := backend.Info(ctx, systemImagePath)
	if err != nil {
		return Failf("failed to inspect system image of %s: %w", msg.UUID, err)
	}

	if err := applyInitializeOperates(ctx, env, dom, msg); err != nil {
		return Fail(err)
	}

	env.Events.Creating(ctx, msg.UUID, 97)

	if err := dom.Create(ctx); err != nil {
		return Failf("failed to boot %s: %w", msg.UUID, err)
	}
	env.Log.Info(ctx, fmt.Sprintf("domain %s booted", msg.UUID))

	if err := applyQuota(ctx, dom, msg.Disks); err != nil {
		return Fail(err)
	}

	return OK(map[string]interface{}{"disk_info": diskInfo})
}

// applyInitializeOperates mounts the defined domain's disks offline and runs
// the template's initialization steps. An empty operate list skips the
// inspection entirely.
func applyInitializeOperates(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) error {
	if len(msg.OSTemplateInitializeOperate) == 0 {
		return nil
	}

	xml, err := dom.XMLDesc(ctx, 0)
	if err != nil {
		return err
	}

	drives, err := inspectionDrives(xml)
	if err != nil {
		return err
	}

	if err := env.Inspector.Apply(ctx, drives, msg.OSTemplateInitializeOperate, msg.OSType); err != nil {
		return fmt.Errorf("failed to initialize %s from template: %w", msg.UUID, err)
	}
	return nil
}

// inspectionDrives maps the definition's disk sub-trees onto inspector
// drives, carrying transport and format through.
func inspectionDrives(xml string) ([]guestfs.Drive, error) {
	root, err := domainxml.Parse(xml)
	if err != nil {
		return nil, err
	}

	var drives []guestfs.Drive
	for _, d := range domainxml.Disks(root) {
		drives = append(drives, guestfs.Drive{
			Path:     d.Path(),
			Format:   d.Format,
			Protocol: d.Protocol,
			Servers:  d.Hosts,
		})
	}
	if len(drives) == 0 {
		return nil, fmt.Errorf("definition has no disks to inspect")
	}
	return drives, nil
}
