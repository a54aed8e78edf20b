package storage

import (
	"os"
	"syscall"
)

// sysStat returns the device number backing fi.
func sysStat(fi os.FileInfo) (uint64, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return uint64(st.Dev), true
}
