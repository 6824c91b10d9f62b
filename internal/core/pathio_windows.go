//go:build windows

package core

import "os"

// platformOwner: Windows has no POSIX uid/gid, so ownership is never
// replayed there.
func platformOwner(info os.FileInfo) (uid, gid int, ok bool) {
	return 0, 0, false
}

// withOwner is a no-op on Windows: there is no uid/gid to attach.
func withOwner(base os.FileInfo, uidStr, gidStr string) os.FileInfo {
	return base
}
