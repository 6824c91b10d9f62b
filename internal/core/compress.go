package core

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

const (
	compressChunkSize    = 64 * 1024
	pipeHighWaterMark    = 10 // chunks queued before a push blocks
	compareChunkBuffSize = 32 * 1024
)

// bytePipe glues a push-style producer (a goroutine handing over chunks as
// they become ready) to a pull-style io.Reader consumer.
//
// A Go channel's blocking send provides the bounded-queue backpressure:
// once pipeHighWaterMark chunks are queued, Push blocks until the reader
// drains one. AwaitBackpressure is kept as an explicit call in the producer
// loop, but it does nothing: the channel send alone enforces the bound.
type bytePipe struct {
	chunks chan []byte
	errCh  chan error
}

func newBytePipe() *bytePipe {
	return &bytePipe{
		chunks: make(chan []byte, pipeHighWaterMark),
		errCh:  make(chan error, 1),
	}
}

// AwaitBackpressure is a no-op: the buffered channel send in Push already
// blocks once the high-water mark is reached.
func (p *bytePipe) AwaitBackpressure() {}

// Push hands a chunk to the reader side. A final push (isLast=true) closes
// the channel; its payload may be empty.
func (p *bytePipe) Push(chunk []byte, isLast bool) {
	if len(chunk) > 0 {
		cp := make([]byte, len(chunk))
		copy(cp, chunk)
		p.chunks <- cp
	}
	if isLast {
		close(p.chunks)
	}
}

// Fail aborts the pipe: the next Read returns err.
func (p *bytePipe) Fail(err error) {
	select {
	case p.errCh <- err:
	default:
	}
	close(p.chunks)
}

// Reader returns a pull-style io.Reader over the pipe. Reads past a chunk
// boundary return only that chunk's remaining bytes, never blocking past
// what's already queued; reads smaller than a chunk split it across two
// reads.
func (p *bytePipe) Reader() io.Reader { return &pipeReader{pipe: p} }

type pipeReader struct {
	pipe     *bytePipe
	leftover []byte
	eof      bool
}

func (r *pipeReader) Read(buf []byte) (int, error) {
	if r.eof {
		return 0, io.EOF
	}
	for len(r.leftover) == 0 {
		chunk, ok := <-r.pipe.chunks
		if !ok {
			select {
			case err := <-r.pipe.errCh:
				r.eof = true
				return 0, err
			default:
			}
			r.eof = true
			return 0, io.EOF
		}
		r.leftover = chunk
	}
	n := copy(buf, r.leftover)
	r.leftover = r.leftover[n:]
	return n, nil
}

// Compress streams r through gzip level 9 into w. The read side runs on its
// own goroutine and hands chunks across the byte pipe so a slow writer
// (disk-bound in the object store's case) applies backpressure to the
// reader without either side polling.
func Compress(r io.Reader, w io.Writer) error {
	pipe := newBytePipe()

	go func() {
		buf := make([]byte, compressChunkSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				pipe.AwaitBackpressure()
				pipe.Push(buf[:n], false)
			}
			if err == io.EOF {
				pipe.Push(nil, true)
				return
			}
			if err != nil {
				pipe.Fail(err)
				return
			}
		}
	}()

	gz, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := io.Copy(gz, pipe.Reader()); err != nil {
		return fmt.Errorf("compressing stream: %w", err)
	}
	return gz.Close()
}

// Decompress streams the gzip-compressed contents of r into w.
func Decompress(r io.Reader, w io.Writer) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gz.Close()

	if _, err := io.Copy(w, gz); err != nil {
		return fmt.Errorf("decompressing stream: %w", err)
	}
	return nil
}

// CompareCompressedWithPlain decompresses compressed chunk by chunk and
// compares against an equal number of bytes pulled from plain. It returns
// false on any length or content mismatch, and also when plain still has
// data once the compressed side is exhausted.
func CompareCompressedWithPlain(compressed, plain io.Reader) (bool, error) {
	gz, err := gzip.NewReader(compressed)
	if err != nil {
		return false, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gz.Close()

	left := make([]byte, compareChunkBuffSize)
	right := make([]byte, compareChunkBuffSize)

	for {
		ln, lerr := io.ReadFull(gz, left)
		if lerr != nil && lerr != io.EOF && lerr != io.ErrUnexpectedEOF {
			return false, fmt.Errorf("reading compressed side: %w", lerr)
		}

		if ln > 0 {
			rn, rerr := io.ReadFull(plain, right[:ln])
			if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
				return false, fmt.Errorf("reading plain side: %w", rerr)
			}
			if rn != ln || !bytes.Equal(left[:ln], right[:rn]) {
				return false, nil
			}
		}

		if lerr == io.EOF || lerr == io.ErrUnexpectedEOF {
			// Compressed side exhausted; plain must be exhausted too.
			n, err := plain.Read(right[:1])
			if err == io.EOF {
				return true, nil
			}
			if err != nil {
				return false, fmt.Errorf("reading plain side: %w", err)
			}
			return n == 0, nil
		}
	}
}
