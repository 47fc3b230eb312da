package archive

import (
	"context"
	"io"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/seek-ret/fwbundle/internal/remote"
)

// tailWindow covers the end of central directory search of the zip reader
// (1 KiB, then 65 KiB) so that small directories are parsed from a single read.
const tailWindow = 66 * 1024

// readerAt adapts a RangeReader to io.ReaderAt for the zip reader. The last
// tailWindow bytes of the archive are fetched once and served from memory.
// Reads outside the tail are only allowed inside withContext.
type readerAt struct {
	reader remote.RangeReader
	size   int64

	mu  sync.Mutex
	ctx context.Context

	tailOffset int64
	tail       []byte
}

func newReaderAt(ctx context.Context, reader remote.RangeReader, size int64) (*readerAt, error) {
	r := &readerAt{
		reader: reader,
		size:   size,
	}

	r.tailOffset = size - tailWindow
	if r.tailOffset < 0 {
		r.tailOffset = 0
	}
	tail, err := reader.Read(ctx, uint64(r.tailOffset), uint64(size-r.tailOffset))
	if err != nil {
		return nil, err
	}
	r.tail = tail
	return r, nil
}

// withContext runs fn with remote reads bound to ctx.
func (r *readerAt) withContext(ctx context.Context, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = ctx
	defer func() {
		r.ctx = nil
	}()
	return fn()
}

func (r *readerAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, eris.Errorf("read at %d: negative offset", off)
	}
	if off >= r.size {
		return 0, io.EOF
	}

	n := int64(len(p))
	if off+n > r.size {
		n = r.size - off
	}

	if off >= r.tailOffset {
		copy(p[:n], r.tail[off-r.tailOffset:])
	} else {
		if r.ctx == nil {
			return 0, eris.New("remote read outside of a request")
		}
		data, err := r.reader.Read(r.ctx, uint64(off), uint64(n))
		if err != nil {
			return 0, err
		}
		copy(p, data)
	}

	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}
