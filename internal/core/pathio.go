package core

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"
)

// RecursiveMkdir creates path and any missing parents with the given mode,
// mirroring os.MkdirAll but reporting ErrPartialPathIsFile instead of the
// raw ENOTDIR the stdlib returns when a path component already exists as a
// regular file.
func RecursiveMkdir(path string, mode os.FileMode) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return ErrPartialPathIsFile
		}
		return nil
	}
	if !os.IsNotExist(err) {
		if errors.Is(err, syscall.ENOTDIR) {
			return ErrPartialPathIsFile
		}
		return err
	}

	parent := filepath.Dir(path)
	if parent != path {
		if err := RecursiveMkdir(parent, mode); err != nil {
			return err
		}
	}

	if err := os.Mkdir(path, mode); err != nil {
		if os.IsExist(err) {
			if info, statErr := os.Stat(path); statErr == nil && !info.IsDir() {
				return ErrPartialPathIsFile
			}
			return nil
		}
		return err
	}
	return nil
}

// ScopedFile wraps an *os.File so callers can rely on a single Close call
// even along early-return error paths; Close is idempotent.
type ScopedFile struct {
	*os.File
	closed bool
}

// OpenScoped opens path with the given flags/mode as a ScopedFile.
func OpenScoped(path string, flag int, mode os.FileMode) (*ScopedFile, error) {
	f, err := os.OpenFile(path, flag, mode)
	if err != nil {
		return nil, err
	}
	return &ScopedFile{File: f}, nil
}

// Close closes the underlying file, tolerating multiple calls.
func (s *ScopedFile) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.File.Close()
}

// Rename renames from to to, matching os.Rename (same-filesystem atomic
// rename; the object store and manifest log both rely on this for their
// running -> finalised transitions).
func Rename(from, to string) error {
	return os.Rename(from, to)
}

// Hardlink hard-links from to to, falling back to a byte copy plus metadata
// replay if the OS reports the operation unsupported (a filesystem without
// hard-link support) or refuses it with a permission error. Other link
// errors, such as a cross-device link, are returned as-is. This is the
// fallback used for the "current" manifest alias.
func Hardlink(from, to string) error {
	err := os.Link(from, to)
	if err == nil {
		return nil
	}
	if !linkUnsupported(err) {
		return err
	}

	info, statErr := os.Stat(from)
	if statErr != nil {
		return statErr
	}
	if err := copyFile(from, to, info.Mode().Perm()); err != nil {
		return err
	}
	return ReplayMetadata(to, info, nil)
}

func linkUnsupported(err error) bool {
	return errors.Is(err, errors.ErrUnsupported) || errors.Is(err, ErrLinkUnsupported) || os.IsPermission(err)
}

func copyFile(from, to string, mode os.FileMode) error {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// ReplayMetadata applies mode, uid/gid, and mtime/atime to target, skipping
// any syscall whose value already matches prev (when prev is non-nil) to
// avoid redundant work. Permission errors are logged by the caller and
// swallowed; every other error propagates.
func ReplayMetadata(target string, info os.FileInfo, prev os.FileInfo) error {
	mode := info.Mode().Perm()
	if prev == nil || prev.Mode().Perm() != mode {
		if err := os.Chmod(target, mode); err != nil {
			return err
		}
	}

	if uid, gid, ok := ownerOf(info); ok {
		prevUID, prevGID, prevOK := int(-1), int(-1), false
		if prev != nil {
			prevUID, prevGID, prevOK = ownerOf(prev)
		}
		if !prevOK || prevUID != uid || prevGID != gid {
			if err := chown(target, uid, gid); err != nil {
				return err
			}
		}
	}

	mtime := info.ModTime()
	if prev == nil || !prev.ModTime().Equal(mtime) {
		if err := os.Chtimes(target, mtime, mtime); err != nil {
			return err
		}
	}
	return nil
}

// ownerOf returns the uid/gid for info, or ok=false on platforms (Windows)
// lacking meaningful owner metadata.
func ownerOf(info os.FileInfo) (uid, gid int, ok bool) {
	return platformOwner(info)
}

// chown is a thin indirection so non-POSIX builds can no-op without the
// caller needing build tags of its own.
func chown(path string, uid, gid int) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	return os.Chown(path, uid, gid)
}
