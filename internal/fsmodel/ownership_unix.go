//go:build unix

package fsmodel

import (
	"io/fs"
	"syscall"
)

// ownership extracts uid/gid from the underlying stat when the filesystem
// exposes one (in-memory filesystems do not).
func ownership(info fs.FileInfo) (uid, gid int, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return int(st.Uid), int(st.Gid), true
}
