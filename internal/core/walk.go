package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WalkStats accumulates the counters a backup run reports in its STATUS
// record.
type WalkStats struct {
	Files         int   `json:"files"`
	Bytes         int64 `json:"bytes"`
	BackedUpFiles int   `json:"backedUpFiles"`
	Skipped       int   `json:"skipped"`
}

// WalkOptions configures one source tree's backup walk.
type WalkOptions struct {
	Filter    *Filter
	DeepScan  bool // keep descending into excluded subtrees, without writing records
	CheckHash bool // force rehash even when stat matches the previous run (modified='c')
	Subdirs   []string // walk only these subdirectories of the source root, if non-empty
}

// BackupWalk walks one source tree, writing its SOURCE/D/F/L records to log
// and storing file contents via store, consulting last for skip decisions.
func BackupWalk(log *ManifestLog, store *Store, sourceRoot string, opts WalkOptions, last *LastBackup, stats *WalkStats, obs Observer) error {
	absRoot, err := filepath.Abs(sourceRoot)
	if err != nil {
		return fmt.Errorf("resolving source root %s: %w", sourceRoot, err)
	}

	if err := log.AppendSource(absRoot); err != nil {
		return fmt.Errorf("writing source record: %w", err)
	}

	w := &walker{log: log, store: store, sourceRoot: absRoot, opts: opts, last: last, stats: stats, obs: obs}

	if len(opts.Subdirs) == 0 {
		return w.walkDir(absRoot, ".", false)
	}
	for _, sub := range opts.Subdirs {
		if err := w.walkDir(filepath.Join(absRoot, sub), sub, false); err != nil {
			return err
		}
	}
	return nil
}

type walker struct {
	log        *ManifestLog
	store      *Store
	sourceRoot string
	opts       WalkOptions
	last       *LastBackup
	stats      *WalkStats
	obs        Observer
}

func (w *walker) lastDirEntry(absPath string) (LastBackupDir, bool) {
	if w.last == nil {
		return LastBackupDir{}, false
	}
	d, ok := w.last.D[absPath]
	return d, ok
}

func (w *walker) lastFileEntry(absPath string) (LastBackupFile, bool) {
	if w.last == nil {
		return LastBackupFile{}, false
	}
	f, ok := w.last.F[absPath]
	return f, ok
}

// walkDir visits one directory. scanningOnly is set while descending into
// an excluded subtree under deepscan: no D/F/L records are written and
// nothing is counted, but the tree is still traversed so that a child
// directory a later include pattern re-includes is walked normally.
func (w *walker) walkDir(absDir, relDir string, scanningOnly bool) error {
	info, err := os.Lstat(absDir)
	if err != nil {
		emitLog(w.obs, fmt.Sprintf("skipping directory %s: %v", absDir, err))
		return nil
	}

	if !scanningOnly {
		modified := byte('a')
		if w.last != nil {
			if _, ok := w.lastDirEntry(absDir); ok {
				if info.ModTime().After(w.last.Time) {
					modified = 'u'
				} else {
					modified = '-'
				}
			}
		}
		_ = modified // not reported anywhere; the D record itself carries mtime, not the modified code

		uid, gid := ownerFields(info)
		if err := w.log.AppendEntry(FileEntry{
			Type: RecordDir, UID: uid, GID: gid, Mode: info.Mode(),
			CTime: info.ModTime(), MTime: info.ModTime(), Path: relDir,
		}); err != nil {
			return fmt.Errorf("appending directory record for %s: %w", relDir, err)
		}
	}

	f, err := os.Open(absDir)
	if err != nil {
		emitLog(w.obs, fmt.Sprintf("skipping directory %s: %v", absDir, err))
		return nil
	}
	names, err := f.Readdirnames(-1)
	f.Close()
	if err != nil {
		emitLog(w.obs, fmt.Sprintf("skipping directory %s: %v", absDir, err))
		return nil
	}

	for _, name := range names {
		childAbs := filepath.Join(absDir, name)
		childRel := name
		if relDir != "." {
			childRel = filepath.ToSlash(filepath.Join(relDir, name))
		}

		info, err := os.Lstat(childAbs)
		if err != nil {
			emitLog(w.obs, fmt.Sprintf("skipping %s: %v", childAbs, err))
			w.stats.Skipped++
			continue
		}

		var ignored bool
		if w.opts.Filter != nil {
			ignored = w.opts.Filter.Ignores(childRel) != nil
		}

		switch {
		case info.IsDir():
			if ignored {
				if w.opts.DeepScan {
					if err := w.walkDir(childAbs, childRel, true); err != nil {
						return err
					}
				}
				continue
			}
			if err := w.walkDir(childAbs, childRel, false); err != nil {
				return err
			}

		case info.Mode()&os.ModeSymlink != 0:
			if ignored || scanningOnly {
				continue
			}
			if err := w.backupSymlink(childAbs, childRel, info); err != nil {
				w.stats.Skipped++
				emitLog(w.obs, fmt.Sprintf("skipping symlink %s: %v", childAbs, err))
				continue
			}

		case info.Mode().IsRegular():
			if ignored || scanningOnly {
				continue
			}
			if err := w.backupFile(childAbs, childRel, info); err != nil {
				return fmt.Errorf("backing up %s: %w", childRel, err)
			}

		default:
			emitLog(w.obs, fmt.Sprintf("skipping unsupported file type: %s", childAbs))
			w.stats.Skipped++
		}
	}
	return nil
}

func (w *walker) backupSymlink(absPath, relPath string, info os.FileInfo) error {
	dest, err := os.Readlink(absPath)
	if err != nil {
		return err
	}
	uid, gid := ownerFields(info)
	return w.log.AppendEntry(FileEntry{
		Type: RecordLink, UID: uid, GID: gid, Mode: info.Mode(),
		CTime: info.ModTime(), MTime: info.ModTime(), Path: relPath, LinkDest: dest,
	})
}

// backupFile decides whether to reuse the previous run's hash or rehash,
// stores the content, and appends the F record.
//
// Per-file stat/read failures are logged and counted in stats.Skipped
// without aborting the run; failures writing to the manifest or the object
// store propagate and abort it.
func (w *walker) backupFile(absPath, relPath string, info os.FileInfo) error {
	prev, hasPrev := w.lastFileEntry(absPath)

	// Manifest mtimes are recorded at millisecond precision, so the stat
	// mtime is compared at that same precision.
	sameAsLast := hasPrev && !prev.IsLink && prev.Size == info.Size() && prev.MTime.Equal(info.ModTime().Truncate(time.Millisecond))
	reusable := hasPrev && sameAsLast && !info.ModTime().After(w.last.Time)

	var hash string
	var modified byte

	switch {
	case reusable && !w.opts.CheckHash:
		hash = prev.Hash
		modified = '-'
	case reusable && w.opts.CheckHash:
		h, _, err := HashFile(absPath, HashOptions{})
		if err != nil {
			w.stats.Skipped++
			emitLog(w.obs, fmt.Sprintf("skipping %s: %v", absPath, err))
			return nil
		}
		hash = h
		modified = 'c'
	default:
		h, _, err := HashFile(absPath, HashOptions{})
		if err != nil {
			w.stats.Skipped++
			emitLog(w.obs, fmt.Sprintf("skipping %s: %v", absPath, err))
			return nil
		}
		hash = h
		if hasPrev {
			modified = 'u'
		} else {
			modified = 'a'
		}
	}
	_ = modified // not persisted in the manifest line and not reported to the Observer

	size := info.Size()
	key := w.store.KeyOf(hash, size)
	alreadyStored, err := w.store.Put(absPath, key, false)
	if err != nil {
		return fmt.Errorf("storing object: %w", err)
	}

	w.stats.Files++
	w.stats.Bytes += size
	if !alreadyStored {
		w.stats.BackedUpFiles++
	}

	emitProgress(w.obs, fmt.Sprintf("backing up %s", relPath), w.stats.Files, 0, w.stats.Bytes, 0, "archiving")

	uid, gid := ownerFields(info)
	if err := w.log.AppendEntry(FileEntry{
		Type: RecordFile, UID: uid, GID: gid, Mode: info.Mode(),
		CTime: info.ModTime(), MTime: info.ModTime(), Size: size, Hash: hash, Path: relPath,
	}); err != nil {
		return fmt.Errorf("appending file record: %w", err)
	}
	return nil
}

func ownerFields(info os.FileInfo) (uid, gid string) {
	u, g, ok := platformOwner(info)
	if !ok {
		return "", ""
	}
	return fmt.Sprintf("%d", u), fmt.Sprintf("%d", g)
}
