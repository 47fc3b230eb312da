// Package testutil provides in-memory archives and range readers for tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/seek-ret/fwbundle/internal/datatypes"
)

// File is a file to place in a test archive.
type File struct {
	Name   string
	Data   []byte
	Method uint16
}

// BuildZip returns a zip archive holding files, in order.
func BuildZip(t testing.TB, files ...File) []byte {
	t.Helper()

	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for _, file := range files {
		w, err := writer.CreateHeader(&zip.FileHeader{
			Name:   file.Name,
			Method: file.Method,
		})
		require.NoError(t, err)
		_, err = w.Write(file.Data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return buf.Bytes()
}

// MetadataJSON renders bundle metadata for the given [name, code] pairs.
func MetadataJSON(pairs ...[2]string) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"targets":[`)
	for i, pair := range pairs {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "[%q,%q]", pair[0], pair[1])
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}

// MemoryReader is a RangeReader over a byte slice that counts its calls.
type MemoryReader struct {
	URL  string
	Data []byte

	// Gate, when set, is received from before each Length call completes.
	Gate chan struct{}
	// FailLength, when set, makes Length fail with a transport error.
	FailLength bool

	lengthCalls atomic.Int64
	readCalls   atomic.Int64

	mu    sync.Mutex
	reads [][2]uint64
}

// NewMemoryReader returns a reader serving data.
func NewMemoryReader(url string, data []byte) *MemoryReader {
	return &MemoryReader{URL: url, Data: data}
}

func (r *MemoryReader) Length(ctx context.Context) (uint64, error) {
	r.lengthCalls.Add(1)
	if r.Gate != nil {
		select {
		case <-r.Gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if r.FailLength {
		return 0, &datatypes.TransportError{URL: r.URL, Method: http.MethodHead, StatusCode: http.StatusServiceUnavailable}
	}
	return uint64(len(r.Data)), nil
}

func (r *MemoryReader) Read(_ context.Context, offset, size uint64) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	r.readCalls.Add(1)
	r.mu.Lock()
	r.reads = append(r.reads, [2]uint64{offset, size})
	r.mu.Unlock()

	if offset+size > uint64(len(r.Data)) {
		return nil, &datatypes.TransportError{
			URL:        r.URL,
			Method:     http.MethodGet,
			StatusCode: http.StatusRequestedRangeNotSatisfiable,
			Offset:     offset,
			Size:       size,
		}
	}
	out := make([]byte, size)
	copy(out, r.Data[offset:offset+size])
	return out, nil
}

// LengthCalls returns the number of Length calls.
func (r *MemoryReader) LengthCalls() int64 {
	return r.lengthCalls.Load()
}

// ReadCalls returns the number of non-empty Read calls.
func (r *MemoryReader) ReadCalls() int64 {
	return r.readCalls.Load()
}

// Reads returns the (offset, size) of every non-empty Read call.
func (r *MemoryReader) Reads() [][2]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][2]uint64, len(r.reads))
	copy(out, r.reads)
	return out
}
