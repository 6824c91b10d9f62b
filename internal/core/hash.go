package core

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"os"
)

const (
	defaultHashBufferSize = 64 * 1024
	defaultBlockSize      = 16 * 1024
)

// Encoding selects the text representation for a digest.
type Encoding int

const (
	EncodingHex Encoding = iota
	EncodingBase64
)

// BlockChecksum is one rolling SHA-1 block-signature triple, emitted only
// when HashOptions.Signature is set. Block-level signatures are groundwork
// for future block-level diffing; dedup granularity here remains whole-file.
type BlockChecksum struct {
	Offset   int64
	Size     int64
	Checksum string
}

// Signature is the ordered set of block checksums covering a stream,
// including a final short block when the stream length isn't a multiple of
// the block size.
type Signature struct {
	BlockSize int64
	Blocks    []BlockChecksum
}

// HashOptions configures HashStream/HashFile.
type HashOptions struct {
	BufferSize int      // defaults to 64 KiB
	Signature  bool     // also compute a rolling SHA-1 block signature
	BlockSize  int64    // defaults to 16 KiB
	Encoding   Encoding // hex (default) or base64
}

func (o HashOptions) bufferSize() int {
	if o.BufferSize > 0 {
		return o.BufferSize
	}
	return defaultHashBufferSize
}

func (o HashOptions) blockSize() int64 {
	if o.BlockSize > 0 {
		return o.BlockSize
	}
	return defaultBlockSize
}

func (o HashOptions) encode(sum []byte) string {
	if o.Encoding == EncodingBase64 {
		return base64.StdEncoding.EncodeToString(sum)
	}
	return hex.EncodeToString(sum)
}

// HashStream consumes r in fixed-size buffers, returning the SHA-256 digest
// of the whole stream and, when requested, a rolling SHA-1 block signature.
// r is never closed by this function; the caller retains ownership.
func HashStream(r io.Reader, opts HashOptions) (digest string, sig *Signature, err error) {
	buf := make([]byte, opts.bufferSize())
	whole := sha256.New()

	var blockHash *hashBlockAccumulator
	if opts.Signature {
		blockHash = newHashBlockAccumulator(opts.blockSize())
	}

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			whole.Write(chunk)
			if blockHash != nil {
				blockHash.write(chunk)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", nil, readErr
		}
	}

	digest = opts.encode(whole.Sum(nil))
	if blockHash != nil {
		sig = blockHash.finish(opts)
	}
	return digest, sig, nil
}

// HashFile opens path, hashes its contents via HashStream, and closes it
// internally.
func HashFile(path string, opts HashOptions) (digest string, sig *Signature, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()
	return HashStream(f, opts)
}

// hashBlockAccumulator rolls a SHA-1 context over every BlockSize bytes,
// emitting one BlockChecksum per complete block plus a final short block.
type hashBlockAccumulator struct {
	blockSize int64
	offset    int64
	inBlock   int64
	h         interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
		Reset()
	}
	blocks []BlockChecksum
}

func newHashBlockAccumulator(blockSize int64) *hashBlockAccumulator {
	return &hashBlockAccumulator{blockSize: blockSize, h: sha1.New()}
}

func (a *hashBlockAccumulator) write(p []byte) {
	for len(p) > 0 {
		room := a.blockSize - a.inBlock
		take := int64(len(p))
		if take > room {
			take = room
		}
		a.h.Write(p[:take])
		a.inBlock += take
		a.offset += take
		p = p[take:]

		if a.inBlock == a.blockSize {
			a.flushBlock()
		}
	}
}

func (a *hashBlockAccumulator) flushBlock() {
	sum := a.h.Sum(nil)
	a.blocks = append(a.blocks, BlockChecksum{
		Offset:   a.offset - a.inBlock,
		Size:     a.inBlock,
		Checksum: hex.EncodeToString(sum),
	})
	a.h.Reset()
	a.inBlock = 0
}

func (a *hashBlockAccumulator) finish(opts HashOptions) *Signature {
	if a.inBlock > 0 {
		a.flushBlock()
	}
	blocks := a.blocks
	if opts.Encoding == EncodingBase64 {
		blocks = make([]BlockChecksum, len(a.blocks))
		for i, b := range a.blocks {
			raw, _ := hex.DecodeString(b.Checksum)
			b.Checksum = base64.StdEncoding.EncodeToString(raw)
			blocks[i] = b
		}
	}
	return &Signature{BlockSize: a.blockSize, Blocks: blocks}
}
