package core

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashStream_MatchesSHA256(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	digest, sig, err := HashStream(strings.NewReader(string(data)), HashOptions{})
	require.NoError(t, err)
	require.Nil(t, sig)

	want := sha256.Sum256(data)
	require.Equal(t, hex.EncodeToString(want[:]), digest)
}

func TestHashStream_Base64Encoding(t *testing.T) {
	digest, _, err := HashStream(strings.NewReader("abc"), HashOptions{Encoding: EncodingBase64})
	require.NoError(t, err)
	require.NotEmpty(t, digest)
	_, err = hex.DecodeString(digest)
	require.Error(t, err, "base64 output should not also decode as hex")
}

func TestHashStream_SignatureCoversWholeStream(t *testing.T) {
	data := strings.Repeat("x", 100)
	_, sig, err := HashStream(strings.NewReader(data), HashOptions{Signature: true, BlockSize: 30})
	require.NoError(t, err)
	require.NotNil(t, sig)

	var total int64
	for _, b := range sig.Blocks {
		total += b.Size
	}
	require.Equal(t, int64(len(data)), total)
	require.Equal(t, int64(30), sig.Blocks[0].Size)
	require.Equal(t, int64(10), sig.Blocks[len(sig.Blocks)-1].Size)
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	digest, _, err := HashFile(path, HashOptions{})
	require.NoError(t, err)

	want := sha256.Sum256([]byte("hello world"))
	require.Equal(t, hex.EncodeToString(want[:]), digest)
}
