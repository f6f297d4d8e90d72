//go:build !unix

package fsmodel

import "io/fs"

func ownership(_ fs.FileInfo) (uid, gid int, ok bool) {
	return 0, 0, false
}
