package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// currentFSType is the only fstype this build understands.
const currentFSType = "hash-v5"

// Config is a target's config.json.
type Config struct {
	Version int       `json:"version"`
	FSType  string    `json:"fstype"`
	Saved   time.Time `json:"saved"`
}

// Target is a backup target: an object store plus a tree of manifest logs.
// It is constructed with an Observer, and its operations return typed
// results.
type Target struct {
	root        string
	backupsRoot string
	db          *Store
	obs         Observer
}

// NewTarget constructs a Target. obs may be nil.
func NewTarget(obs Observer) *Target {
	return &Target{obs: obs}
}

// Init creates a new target at root: config.json, files.db/, backups/.
func Init(root string) error {
	if err := RecursiveMkdir(root, 0o755); err != nil {
		return fmt.Errorf("creating target directory: %w", err)
	}
	if err := RecursiveMkdir(filepath.Join(root, "files.db"), 0o700); err != nil {
		return fmt.Errorf("creating object store: %w", err)
	}
	if err := RecursiveMkdir(filepath.Join(root, "backups"), 0o755); err != nil {
		return fmt.Errorf("creating manifest root: %w", err)
	}

	cfg := Config{Version: 1, FSType: currentFSType, Saved: time.Now()}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, "config.json"), data, 0o644)
}

// Connect opens an existing target at root, verifying its fstype matches
// what this build supports.
func (t *Target) Connect(root string) error {
	data, err := os.ReadFile(filepath.Join(root, "config.json"))
	if err != nil {
		return fmt.Errorf("connecting to target: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing target config: %w", err)
	}
	if cfg.FSType != currentFSType {
		return fmt.Errorf("%w: %s", ErrUnknownFilesystem, cfg.FSType)
	}

	t.root = root
	t.backupsRoot = filepath.Join(root, "backups")
	t.db = NewStore(filepath.Join(root, "files.db"))
	return nil
}

func (t *Target) requireConnected() error {
	if t.root == "" {
		return ErrLocationUnset
	}
	return nil
}

// BackupOptions configures one Target.Backup call.
type BackupOptions struct {
	UserID    string
	SetName   string
	Sources   []string
	Filter    *Filter
	DeepScan  bool
	CheckHash bool
}

// BackupResult summarizes a completed run. RunID appears in the run's
// Observer log line so that line can be matched to this result; it is not
// stored in internal/history rows and plays no part in the manifest wire
// format itself.
type BackupResult struct {
	RunID        string
	Stats        WalkStats
	ManifestPath string
}

// Backup runs a new instance for (UserID, SetName): it creates the
// "running" manifest, walks every configured source, and finalises the log
// on success.
func (t *Target) Backup(opts BackupOptions) (*BackupResult, error) {
	if err := t.requireConnected(); err != nil {
		return nil, err
	}

	runID := uuid.New().String()

	running, err := HasRunningLog(t.backupsRoot, opts.UserID, opts.SetName)
	if err != nil {
		return nil, err
	}
	if running {
		return nil, fmt.Errorf("%w: %s", ErrRunningRunConflict, opts.SetName)
	}

	last, err := ReadLastBackup(t.backupsRoot, opts.UserID, opts.SetName)
	if err != nil {
		return nil, fmt.Errorf("reading previous manifest: %w", err)
	}

	log, err := CreateLog(t.backupsRoot, opts.UserID, opts.SetName)
	if err != nil {
		return nil, err
	}

	stats := &WalkStats{}
	walkOpts := WalkOptions{Filter: opts.Filter, DeepScan: opts.DeepScan, CheckHash: opts.CheckHash}

	emitLog(t.obs, fmt.Sprintf("run %s: backing up %s/%s", runID, opts.UserID, opts.SetName))
	emitProgress(t.obs, "scanning sources", 0, len(opts.Sources), 0, 0, "scanning")

	for _, src := range opts.Sources {
		if err := BackupWalk(log, t.db, src, walkOpts, last, stats, t.obs); err != nil {
			log.Abort()
			return nil, fmt.Errorf("backing up %s: %w", src, err)
		}
	}

	if stats.Files == 0 {
		log.Abort()
		os.Remove(setPath(t.backupsRoot, opts.UserID, opts.SetName, "running"))
		return nil, ErrNoFilesSelected
	}

	if err := log.Finish("OK", stats); err != nil {
		return nil, fmt.Errorf("finishing manifest: %w", err)
	}

	finalPath, err := CompleteLog(t.backupsRoot, opts.UserID, opts.SetName, time.Now())
	if err != nil {
		return nil, err
	}

	emitProgress(t.obs, "backup complete", stats.Files, stats.Files, stats.Bytes, stats.Bytes, "archiving")
	return &BackupResult{RunID: runID, Stats: *stats, ManifestPath: finalPath}, nil
}

// RestoreOptions configures one Target.Restore call. When is the manifest
// timestamp to restore, defaulting to "current". Output is the destination
// root; when empty, each source tree is restored to its originally
// recorded absolute root. There is deliberately no "sources" field: a
// restore always covers every source tree a run recorded.
type RestoreOptions struct {
	UserID, SetName, When string
	Output                string
}

// Restore rebuilds a source tree from a manifest: D records recreate
// directories and F records recreate files, each followed by a metadata
// replay; L records recreate symlinks, with no metadata replay. A file that
// already exists with matching size and hash is left alone (only its
// metadata is replayed). Permission errors from a metadata replay are
// reported to the Observer and otherwise ignored.
func (t *Target) Restore(opts RestoreOptions) (*WalkStats, error) {
	if err := t.requireConnected(); err != nil {
		return nil, err
	}

	when := opts.When
	if when == "" {
		when = "current"
	}
	path := setPath(t.backupsRoot, opts.UserID, opts.SetName, when)
	it, err := OpenLog(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	defer it.Close()

	stats := &WalkStats{}
	destRoot := opts.Output

	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch rec.Type {
		case RecordSource:
			if opts.Output == "" {
				destRoot = rec.Root
			}

		case RecordDir:
			dest := filepath.Join(destRoot, rec.Path)
			if err := RecursiveMkdir(dest, forceOwnerExec(rec.Mode)); err != nil {
				return nil, fmt.Errorf("creating directory %s: %w", rec.Path, err)
			}
			if err := ReplayMetadata(dest, recordInfo(rec), nil); err != nil {
				if !os.IsPermission(err) {
					return nil, fmt.Errorf("replaying metadata for %s: %w", rec.Path, err)
				}
				emitLog(t.obs, fmt.Sprintf("could not replay metadata for %s: %v", dest, err))
			}

		case RecordLink:
			dest := filepath.Join(destRoot, rec.Path)
			if err := RecursiveMkdir(filepath.Dir(dest), 0o755); err != nil {
				return nil, err
			}
			os.Remove(dest)
			if err := os.Symlink(rec.LinkDest, dest); err != nil {
				emitLog(t.obs, fmt.Sprintf("could not create symlink %s: %v", dest, err))
				continue
			}
			stats.Files++

		case RecordFile:
			dest := filepath.Join(destRoot, rec.Path)
			if existing, err := os.Stat(dest); err == nil && existing.Size() == rec.Size {
				if h, _, err := HashFile(dest, HashOptions{}); err == nil && h == rec.Hash {
					if err := ReplayMetadata(dest, recordInfo(rec), nil); err != nil {
						if !os.IsPermission(err) {
							return nil, err
						}
						emitLog(t.obs, fmt.Sprintf("could not replay metadata for %s: %v", dest, err))
					}
					stats.Files++
					continue
				}
			}

			if err := RecursiveMkdir(filepath.Dir(dest), 0o755); err != nil {
				return nil, fmt.Errorf("creating parent directory for %s: %w", rec.Path, err)
			}
			key := t.db.KeyOf(rec.Hash, rec.Size)
			if err := t.db.Restore(key, dest, false); err != nil {
				return nil, fmt.Errorf("restoring %s: %w", rec.Path, err)
			}
			if err := ReplayMetadata(dest, recordInfo(rec), nil); err != nil {
				if !os.IsPermission(err) {
					return nil, fmt.Errorf("replaying metadata for %s: %w", rec.Path, err)
				}
				emitLog(t.obs, fmt.Sprintf("could not replay metadata for %s: %v", dest, err))
			}
			stats.Files++
			stats.Bytes += rec.Size
			emitProgress(t.obs, fmt.Sprintf("restored %s", rec.Path), stats.Files, 0, stats.Bytes, 0, "restoring")
		}
	}
	return stats, nil
}

// forceOwnerExec ORs in owner-execute so a restored directory can always be
// traversed to create its children.
func forceOwnerExec(mode os.FileMode) os.FileMode {
	return mode.Perm() | 0o100
}

// recordInfo adapts a manifest Record into the os.FileInfo ReplayMetadata
// expects.
type fileRecordInfo struct {
	rec Record
}

func recordInfo(rec Record) os.FileInfo {
	return withOwner(fileRecordInfo{rec}, rec.UID, rec.GID)
}

func (f fileRecordInfo) Name() string       { return filepath.Base(f.rec.Path) }
func (f fileRecordInfo) Size() int64        { return f.rec.Size }
func (f fileRecordInfo) Mode() os.FileMode  { return f.rec.Mode }
func (f fileRecordInfo) ModTime() time.Time { return f.rec.MTime }
func (f fileRecordInfo) IsDir() bool        { return f.rec.Type == RecordDir }
func (f fileRecordInfo) Sys() any           { return nil }

// VerifyOptions configures one Target.Verify call.
type VerifyOptions struct {
	UserID, SetName, When string
	Compare               bool
}

// VerifyEntry reports the outcome for one F record: "OK", "CHANGED",
// "DELETED", or "ERROR".
type VerifyEntry struct {
	Path   string
	Status string
}

// Verify iterates a manifest, asking the object store to confirm each F
// record's integrity, optionally comparing against the live source file.
func (t *Target) Verify(opts VerifyOptions) ([]VerifyEntry, error) {
	if err := t.requireConnected(); err != nil {
		return nil, err
	}

	when := opts.When
	if when == "" {
		when = "current"
	}
	path := setPath(t.backupsRoot, opts.UserID, opts.SetName, when)
	it, err := OpenLog(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	defer it.Close()

	var results []VerifyEntry
	var currentSource string

	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if rec.Type == RecordSource {
			currentSource = rec.Root
			continue
		}
		if rec.Type != RecordFile {
			continue
		}

		entry := VerifyEntry{Path: rec.Path}
		key := t.db.KeyOf(rec.Hash, rec.Size)

		if !t.db.Exists(key) {
			entry.Status = "ERROR"
			results = append(results, entry)
			continue
		}

		if opts.Compare {
			local := filepath.Join(currentSource, rec.Path)
			if _, err := os.Stat(local); os.IsNotExist(err) {
				entry.Status = "DELETED"
			} else if ok, err := t.db.Compare(key, local); err != nil {
				entry.Status = "ERROR"
			} else if !ok {
				entry.Status = "CHANGED"
			} else {
				entry.Status = "OK"
			}
		} else if h, err := t.db.HashOf(key); err != nil || h != rec.Hash {
			entry.Status = "ERROR"
		} else {
			entry.Status = "OK"
		}

		results = append(results, entry)
	}
	return results, nil
}

// ListOptions filters Target.List.
type ListOptions struct {
	UserID, SetName, When string
	Since                 time.Time
}

// RunSummary is one finalised run's STATUS-line summary.
type RunSummary struct {
	UserID, SetName, When string
	Status                string
	Stats                 WalkStats
}

// List enumerates finalised manifests matching opts, parsing each one's
// terminating STATUS record into a RunSummary.
func (t *Target) List(opts ListOptions) ([]RunSummary, error) {
	if err := t.requireConnected(); err != nil {
		return nil, err
	}

	userIDs, err := t.candidateUserIDs(opts.UserID)
	if err != nil {
		return nil, err
	}

	var summaries []RunSummary
	for _, uid := range userIDs {
		setNames, err := discoverSetNames(t.backupsRoot, uid)
		if err != nil {
			return nil, err
		}
		for _, setName := range setNames {
			if opts.SetName != "" && setName != opts.SetName {
				continue
			}
			whens, err := ListFinalisedLogs(t.backupsRoot, uid, setName)
			if err != nil {
				return nil, err
			}
			for _, when := range whens {
				if opts.When != "" && when != opts.When {
					continue
				}
				if !opts.Since.IsZero() {
					if ts, err := parseWhen(when); err == nil && ts.Before(opts.Since) {
						continue
					}
				}
				summary, err := readRunSummary(t.backupsRoot, uid, setName, when)
				if err != nil {
					continue
				}
				summaries = append(summaries, summary)
			}
		}
	}
	return summaries, nil
}

func (t *Target) candidateUserIDs(filterUID string) ([]string, error) {
	if filterUID != "" {
		return []string{filterUID}, nil
	}
	entries, err := os.ReadDir(t.backupsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := []string{""}
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func discoverSetNames(backupsRoot, userID string) ([]string, error) {
	dir := setDir(backupsRoot, userID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	seen := map[string]bool{}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		idx := strings.LastIndex(e.Name(), ".")
		if idx <= 0 {
			continue
		}
		name := e.Name()[:idx]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}

func readRunSummary(backupsRoot, userID, setName, when string) (RunSummary, error) {
	path := setPath(backupsRoot, userID, setName, when)
	it, err := OpenLog(path)
	if err != nil {
		return RunSummary{}, err
	}
	defer it.Close()

	summary := RunSummary{UserID: userID, SetName: setName, When: when}
	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return RunSummary{}, err
		}
		if rec.Type == RecordStatus {
			summary.Status = rec.Status
			_ = json.Unmarshal(rec.Stats, &summary.Stats)
		}
	}
	return summary, nil
}

// FsckResult reports fsck's orphan/integrity scan totals:
// total = verified + orphaned + damaged.
type FsckResult struct {
	Total, Verified, Orphaned, Damaged, Missing int
}

// Fsck scans the object store for orphaned objects (not referenced by any
// finalised manifest) and damaged objects (content hash mismatch), and the
// live set for objects with no backing file (missing). It refuses to run
// while any set has a ".running" manifest.
func (t *Target) Fsck() (*FsckResult, error) {
	if err := t.requireConnected(); err != nil {
		return nil, err
	}
	if running, err := AnySetHasRunningLog(t.backupsRoot); err != nil {
		return nil, err
	} else if running {
		return nil, ErrRunningRunConflict
	}

	live, err := t.liveSet()
	if err != nil {
		return nil, err
	}

	res := &FsckResult{}
	onDisk := map[Key]bool{}
	err = t.db.Walk(func(dir, filename string) error {
		key, ok := t.db.KeyFromDisk(dir, filename)
		if !ok {
			return nil
		}
		onDisk[key] = true
		res.Total++

		if _, isLive := live[key]; !isLive {
			res.Orphaned++
			return nil
		}
		if h, err := t.db.HashOf(key); err != nil || h != key.Hash {
			res.Damaged++
			return nil
		}
		res.Verified++
		return nil
	})
	if err != nil {
		return nil, err
	}

	for key := range live {
		if !onDisk[key] {
			res.Missing++
		}
	}
	return res, nil
}

// CleanResult reports how many orphaned objects clean removed.
type CleanResult struct {
	Removed int
}

// Clean deletes every object not referenced by any finalised manifest
// (orphans), pruning now-empty parent directories as it goes. It refuses to
// run while any set has a ".running" manifest.
func (t *Target) Clean() (*CleanResult, error) {
	if err := t.requireConnected(); err != nil {
		return nil, err
	}
	if running, err := AnySetHasRunningLog(t.backupsRoot); err != nil {
		return nil, err
	} else if running {
		return nil, ErrRunningRunConflict
	}

	live, err := t.liveSet()
	if err != nil {
		return nil, err
	}

	var orphans []Key
	err = t.db.Walk(func(dir, filename string) error {
		key, ok := t.db.KeyFromDisk(dir, filename)
		if !ok {
			return nil
		}
		if _, isLive := live[key]; !isLive {
			orphans = append(orphans, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &CleanResult{}
	for _, key := range orphans {
		if err := t.db.Remove(key); err != nil {
			return res, fmt.Errorf("removing orphan %s: %w", key.filename(), err)
		}
		res.Removed++
	}
	return res, nil
}

// liveSet computes the union, over every finalised manifest of every set in
// this target, of the (hash,size) pairs its F records reference. "current"
// logs are skipped: each is a hardlink to an already-included timestamped
// log, so reading it again would only duplicate counts, never change
// membership.
func (t *Target) liveSet() (map[Key]int, error) {
	live := map[Key]int{}
	err := filepath.WalkDir(t.backupsRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, ".running") || strings.HasSuffix(name, ".current") {
			return nil
		}
		return Hashes(path, live)
	})
	if os.IsNotExist(err) {
		return live, nil
	}
	return live, err
}
