package core

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressDecompress_RoundTrip(t *testing.T) {
	original := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 1000)

	var compressed bytes.Buffer
	require.NoError(t, Compress(strings.NewReader(original), &compressed))
	require.NotEqual(t, original, compressed.String(), "output should actually be compressed")

	var out bytes.Buffer
	require.NoError(t, Decompress(bytes.NewReader(compressed.Bytes()), &out))
	require.Equal(t, original, out.String())
}

func TestCompress_EmptyStream(t *testing.T) {
	var compressed bytes.Buffer
	require.NoError(t, Compress(strings.NewReader(""), &compressed))

	var out bytes.Buffer
	require.NoError(t, Decompress(bytes.NewReader(compressed.Bytes()), &out))
	require.Empty(t, out.String())
}

func TestCompareCompressedWithPlain_Matches(t *testing.T) {
	original := strings.Repeat("abcdefgh", 5000)
	var compressed bytes.Buffer
	require.NoError(t, Compress(strings.NewReader(original), &compressed))

	ok, err := CompareCompressedWithPlain(bytes.NewReader(compressed.Bytes()), strings.NewReader(original))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCompareCompressedWithPlain_DetectsMismatch(t *testing.T) {
	original := strings.Repeat("abcdefgh", 5000)
	var compressed bytes.Buffer
	require.NoError(t, Compress(strings.NewReader(original), &compressed))

	ok, err := CompareCompressedWithPlain(bytes.NewReader(compressed.Bytes()), strings.NewReader(original+"x"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompareCompressedWithPlain_DetectsTruncatedPlain(t *testing.T) {
	original := strings.Repeat("abcdefgh", 5000)
	var compressed bytes.Buffer
	require.NoError(t, Compress(strings.NewReader(original), &compressed))

	ok, err := CompareCompressedWithPlain(bytes.NewReader(compressed.Bytes()), strings.NewReader(original[:len(original)-10]))
	require.NoError(t, err)
	require.False(t, ok)
}
