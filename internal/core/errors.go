// Package core implements the content-addressed, deduplicating backup
// target: object store, manifest log, source walker, filter engine, and the
// target-level operations (backup/restore/verify/list/fsck/clean) that tie
// them together.
package core

import "errors"

// Sentinel error kinds. Callers should compare with errors.Is; most surface
// wrapped with additional context via fmt.Errorf("...: %w", err).
var (
	// ErrNotFound is returned when an object store key or manifest has no
	// backing file on disk.
	ErrNotFound = errors.New("not found")

	// ErrEntryCorrupt names the condition where an object's decompressed
	// content does not hash to its key. Fsck counts such objects as Damaged
	// and Verify reports them as "ERROR"; neither returns this error.
	ErrEntryCorrupt = errors.New("entry corrupt")

	// ErrLocationUnset is returned when an operation is attempted before the
	// target has been connected.
	ErrLocationUnset = errors.New("target location not set")

	// ErrUnknownFilesystem is returned when config.json names an fstype this
	// build does not understand.
	ErrUnknownFilesystem = errors.New("unknown target filesystem")

	// ErrRunningRunConflict is returned when fsck/clean are attempted while
	// a ".running" manifest log exists for any set.
	ErrRunningRunConflict = errors.New("a backup run is in progress")

	// ErrCompareMismatch names the condition where object content and the
	// on-disk file diverge. Verify with Compare reports it as a "CHANGED"
	// entry and does not return this error.
	ErrCompareMismatch = errors.New("compare mismatch")

	// ErrPartialPathIsFile is returned by RecursiveMkdir when a path
	// component that needs to be a directory already exists as a file.
	ErrPartialPathIsFile = errors.New("path component is a file, not a directory")

	// ErrLinkUnsupported signals that the filesystem does not support hard
	// links; callers fall back to copy.
	ErrLinkUnsupported = errors.New("hard links not supported")

	// ErrNoFilesSelected is returned when a backup walk selects zero entries.
	ErrNoFilesSelected = errors.New("no files selected after applying filters")
)
