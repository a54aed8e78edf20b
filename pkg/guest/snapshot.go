package guest

import (
	"context"
	"errors"

	"github.com/jimv/vmagent/pkg/hypervisor"
	"github.com/jimv/vmagent/pkg/types"
)

// emptySnapshotXML lets the hypervisor pick the snapshot name and scope.
const emptySnapshotXML = `<domainsnapshot>
</domainsnapshot>`

// CreateSnapshot takes an atomic snapshot and reports its identity, its
// parent's identity ("-" for a root snapshot) and its definition.
func CreateSnapshot(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	snap, err := dom.SnapshotCreateXML(ctx, emptySnapshotXML, hypervisor.SnapshotCreateAtomic)
	if err != nil {
		return Fail(err)
	}

	parentID := ""
	parent, err := snap.Parent(ctx)
	switch {
	case errors.Is(err, hypervisor.ErrNoParent):
		parentID = "-"
	case err != nil:
		return Fail(err)
	default:
		parentID = parent.Name()
	}

	xml, err := snap.XMLDesc(ctx)
	if err != nil {
		return Fail(err)
	}

	return OK(map[string]interface{}{
		"snapshot_id": snap.Name(),
		"parent_id":   parentID,
		"xml":         xml,
	})
}

// DeleteSnapshot removes the named snapshot.
func DeleteSnapshot(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	snap, err := dom.SnapshotLookupByName(ctx, msg.SnapshotID)
	if err != nil {
		return Fail(err)
	}
	if err := snap.Delete(ctx); err != nil {
		return Fail(err)
	}
	return OK(nil)
}

// RevertSnapshot rolls the domain back to the named snapshot. A system error
// on the plain revert gets exactly one forced retry. If the domain comes
// back running its clock is synchronized through the guest agent, since the
// snapshot froze it at capture time.
func RevertSnapshot(ctx context.Context, env *Env, dom hypervisor.Domain, msg *types.DownstreamInstruction) Result {
	snap, err := dom.SnapshotLookupByName(ctx, msg.SnapshotID)
	if err != nil {
		return Fail(err)
	}

	if err := dom.RevertToSnapshot(ctx, snap, 0); err != nil {
		if !hypervisor.IsSystemError(err) {
			return Fail(err)
		}
		if err := dom.RevertToSnapshot(ctx, snap, hypervisor.SnapshotRevertForce); err != nil {
			return Fail(err)
		}
	}

	active, err := dom.IsActive(ctx)
	if err != nil {
		return Fail(err)
	}
	if active {
		if err := env.Agent.SetTime(ctx, dom, env.clock().UnixNano()); err != nil {
			return Fail(err)
		}
	}

	return OK(nil)
}
