package core

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func runBackupAndReadRecords(t *testing.T, root, source string, last *LastBackup, opts WalkOptions) ([]Record, WalkStats) {
	t.Helper()
	log, err := CreateLog(root, "", "set")
	require.NoError(t, err)
	stats := WalkStats{}
	require.NoError(t, BackupWalk(log, NewStore(filepath.Join(root, "files.db")), source, opts, last, &stats, nil))
	require.NoError(t, log.Finish("OK", stats))

	finalPath, err := CompleteLog(root, "", "set", time.Now())
	require.NoError(t, err)

	it, err := OpenLog(finalPath)
	require.NoError(t, err)
	defer it.Close()

	var recs []Record
	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	return recs, stats
}

func TestBackupWalk_WalksFilesAndDirectories(t *testing.T) {
	root := t.TempDir()
	source := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(source, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "top.txt"), []byte("top"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "sub", "nested.txt"), []byte("nested"), 0o644))

	recs, stats := runBackupAndReadRecords(t, root, source, nil, WalkOptions{})
	require.Equal(t, 2, stats.Files)
	require.Equal(t, 2, stats.BackedUpFiles)

	var files, dirs int
	for _, r := range recs {
		switch r.Type {
		case RecordFile:
			files++
		case RecordDir:
			dirs++
		}
	}
	require.Equal(t, 2, files)
	require.GreaterOrEqual(t, dirs, 2)
}

func TestBackupWalk_ExcludesFilteredPaths(t *testing.T) {
	root := t.TempDir()
	source := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(source, "keep.txt"), []byte("k"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "skip.log"), []byte("s"), 0o644))

	filter, err := ParseFilter([]string{"-*.log"})
	require.NoError(t, err)

	_, stats := runBackupAndReadRecords(t, root, source, nil, WalkOptions{Filter: filter})
	require.Equal(t, 1, stats.Files)
}

func TestBackupWalk_DeduplicatesIdenticalContent(t *testing.T) {
	root := t.TempDir()
	source := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(source, "a.txt"), []byte("same bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "b.txt"), []byte("same bytes"), 0o644))

	_, stats := runBackupAndReadRecords(t, root, source, nil, WalkOptions{})
	require.Equal(t, 2, stats.Files)
	require.Equal(t, 1, stats.BackedUpFiles, "identical content should be stored once")
}

func TestBackupWalk_ReusesHashWhenUnmodified(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("mtime granularity assumptions don't hold on windows CI images")
	}
	root := t.TempDir()
	source := t.TempDir()
	filePath := filepath.Join(source, "stable.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("unchanged"), 0o644))

	firstRoot := t.TempDir()
	_, _ = runBackupAndReadRecords(t, firstRoot, source, nil, WalkOptions{})

	last, err := ReadLastBackup(firstRoot, "", "set")
	require.NoError(t, err)
	require.NotNil(t, last)

	recs, stats := runBackupAndReadRecords(t, root, source, last, WalkOptions{})
	require.Equal(t, 1, stats.Files)

	var fileRec Record
	for _, r := range recs {
		if r.Type == RecordFile {
			fileRec = r
		}
	}
	require.Equal(t, last.F[filePath].Hash, fileRec.Hash)
}

func TestBackupWalk_DeepScanReincludesNestedPattern(t *testing.T) {
	root := t.TempDir()
	source := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(source, "skip", "keep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "skip", "keep", "x.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "skip", "other.txt"), []byte("o"), 0o644))

	filter, err := ParseFilter([]string{"-skip/**", "+skip/keep/**"})
	require.NoError(t, err)

	recs, stats := runBackupAndReadRecords(t, root, source, nil, WalkOptions{Filter: filter, DeepScan: true})
	require.Equal(t, 1, stats.Files)

	var found bool
	for _, r := range recs {
		if r.Type == RecordFile && filepath.Base(r.Path) == "x.txt" {
			found = true
		}
	}
	require.True(t, found, "re-included file under an excluded subtree should still produce an F record")
}

func TestBackupWalk_SymlinksRecordTarget(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require elevated privileges on windows")
	}
	root := t.TempDir()
	source := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(source, "real.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink("real.txt", filepath.Join(source, "link.txt")))

	recs, _ := runBackupAndReadRecords(t, root, source, nil, WalkOptions{})

	var found bool
	for _, r := range recs {
		if r.Type == RecordLink {
			found = true
			require.Equal(t, "real.txt", r.LinkDest)
		}
	}
	require.True(t, found, "expected an L record for the symlink")
}
