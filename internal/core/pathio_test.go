package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecursiveMkdir_CreatesNestedPath(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a", "b", "c")
	require.NoError(t, RecursiveMkdir(target, 0o755))

	info, err := os.Stat(target)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestRecursiveMkdir_ExistingDirIsNoop(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, RecursiveMkdir(root, 0o755))
	require.NoError(t, RecursiveMkdir(root, 0o755))
}

func TestRecursiveMkdir_RejectsFileInPath(t *testing.T) {
	root := t.TempDir()
	filePath := filepath.Join(root, "blocker")
	require.NoError(t, os.WriteFile(filePath, []byte("x"), 0o644))

	err := RecursiveMkdir(filepath.Join(filePath, "child"), 0o755)
	require.ErrorIs(t, err, ErrPartialPathIsFile)
}

func TestScopedFile_CloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	f, err := OpenScoped(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}

func TestHardlink_LinkedFileHasSameContents(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	dst := filepath.Join(root, "dst.txt")
	require.NoError(t, Hardlink(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestReplayMetadata_SetsModeAndMtime(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))
	srcInfo, err := os.Stat(src)
	require.NoError(t, err)

	dst := filepath.Join(root, "dst.txt")
	require.NoError(t, os.WriteFile(dst, []byte("x"), 0o600))

	require.NoError(t, ReplayMetadata(dst, srcInfo, nil))

	dstInfo, err := os.Stat(dst)
	require.NoError(t, err)
	require.True(t, dstInfo.ModTime().Equal(mtime))
}
