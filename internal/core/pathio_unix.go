//go:build !windows

package core

import (
	"os"
	"strconv"
	"syscall"
)

// platformOwner extracts uid/gid from a POSIX os.FileInfo's Sys().
func platformOwner(info os.FileInfo) (uid, gid int, ok bool) {
	stat, isStat := info.Sys().(*syscall.Stat_t)
	if !isStat {
		return 0, 0, false
	}
	return int(stat.Uid), int(stat.Gid), true
}

// withOwner wraps base so platformOwner reports the given uid/gid strings
// (recorded in a manifest entry), letting ReplayMetadata restore ownership
// during a restore. base is returned unchanged if either string fails to
// parse as an integer.
func withOwner(base os.FileInfo, uidStr, gidStr string) os.FileInfo {
	uid, err1 := strconv.Atoi(uidStr)
	gid, err2 := strconv.Atoi(gidStr)
	if err1 != nil || err2 != nil {
		return base
	}
	return ownerFileInfo{base, &syscall.Stat_t{Uid: uint32(uid), Gid: uint32(gid)}}
}

type ownerFileInfo struct {
	os.FileInfo
	stat *syscall.Stat_t
}

func (o ownerFileInfo) Sys() any { return o.stat }
