package hypervisor

import (
	"errors"

	libvirt "github.com/digitalocean/go-libvirt"
)

// Libvirt error numbers the agent branches on. Values mirror VIR_ERR_*.
const (
	errCodeSystemError      uint32 = 38
	errCodeNoDomainSnapshot uint32 = 72
)

// ErrNoParent is returned by Snapshot.Parent for root snapshots.
var ErrNoParent = errors.New("hypervisor: snapshot has no parent")

// IsSystemError reports whether err is libvirt's VIR_ERR_SYSTEM_ERROR, the
// code revert_snapshot retries once with force.
func IsSystemError(err error) bool {
	return errorCode(err) == errCodeSystemError
}

func errorCode(err error) uint32 {
	var le libvirt.Error
	if errors.As(err, &le) {
		return le.Code
	}
	return 0
}
