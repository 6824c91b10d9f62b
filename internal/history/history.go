// Package history maintains a queryable SQLite index of finalised backup
// runs, rebuilt from manifest STATUS lines rather than being the system of
// record. The manifests under a target's backups/ tree remain authoritative.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/blingcc/ddbvault/internal/core"
)

// Run is one recorded backup run, denormalised from a manifest's STATUS
// line for fast listing/filtering without re-opening manifest files.
type Run struct {
	UserID       string
	SetName      string
	When         string
	Status       string
	Files        int
	Bytes        int64
	ManifestPath string
	RecordedAt   time.Time
}

// Index is a rebuildable SQLite-backed index over a target's runs.
type Index struct {
	db *sql.DB
}

// Open opens (creating if absent) the index database at dbPath.
func Open(dbPath string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		user_id TEXT NOT NULL,
		set_name TEXT NOT NULL,
		when_ts TEXT NOT NULL,
		status TEXT NOT NULL,
		files INTEGER NOT NULL,
		bytes INTEGER NOT NULL,
		manifest_path TEXT NOT NULL,
		recorded_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, set_name, when_ts)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating runs table: %w", err)
	}

	return &Index{db: db}, nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error { return idx.db.Close() }

// Record upserts one run's summary into the index.
func (idx *Index) Record(ctx context.Context, summary core.RunSummary, manifestPath string) error {
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO runs(user_id, set_name, when_ts, status, files, bytes, manifest_path, recorded_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, set_name, when_ts) DO UPDATE SET
			status=excluded.status, files=excluded.files, bytes=excluded.bytes,
			manifest_path=excluded.manifest_path, recorded_at=excluded.recorded_at
	`, summary.UserID, summary.SetName, summary.When, summary.Status,
		summary.Stats.Files, summary.Stats.Bytes, manifestPath, time.Now())
	return err
}

// Rebuild truncates the index and repopulates it from every finalised
// manifest target currently holds, the index's only real source of truth.
func (idx *Index) Rebuild(ctx context.Context, target *core.Target) error {
	summaries, err := target.List(core.ListOptions{})
	if err != nil {
		return fmt.Errorf("listing manifests: %w", err)
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM runs"); err != nil {
		return err
	}

	for _, s := range summaries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO runs(user_id, set_name, when_ts, status, files, bytes, manifest_path, recorded_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		`, s.UserID, s.SetName, s.When, s.Status, s.Stats.Files, s.Stats.Bytes, "", time.Now()); err != nil {
			return fmt.Errorf("indexing run %s/%s.%s: %w", s.UserID, s.SetName, s.When, err)
		}
	}

	return tx.Commit()
}

// Recent returns up to limit runs for (userID, setName), newest first.
func (idx *Index) Recent(ctx context.Context, userID, setName string, limit int) ([]Run, error) {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT user_id, set_name, when_ts, status, files, bytes, manifest_path, recorded_at
		FROM runs WHERE user_id = ? AND set_name = ?
		ORDER BY when_ts DESC LIMIT ?
	`, userID, setName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.UserID, &r.SetName, &r.When, &r.Status, &r.Files, &r.Bytes, &r.ManifestPath, &r.RecordedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
