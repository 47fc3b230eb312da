package archive

import (
	"bytes"
	"context"
	"errors"
	"hash/crc32"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seek-ret/fwbundle/internal/datatypes"
	"github.com/seek-ret/fwbundle/internal/remote"
	"github.com/seek-ret/fwbundle/internal/testutil"
)

const bundleURL = "https://example.com/edgetx-firmware-v2.5.0.zip"

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.New(rand.NewSource(int64(n))).Read(data)
	require.NoError(t, err)
	return data
}

func TestBuildIndex(t *testing.T) {
	t.Parallel()

	data := testutil.BuildZip(t,
		testutil.File{Name: "fw.json", Data: testutil.MetadataJSON([2]string{"X9D", "x9d;"}), Method: zip.Deflate},
		testutil.File{Name: "x9d-v2.5.0.bin", Data: []byte("x9d firmware"), Method: zip.Store},
		testutil.File{Name: "nv14-v2.5.0.bin", Data: bytes.Repeat([]byte("nv14"), 100), Method: zip.Deflate},
	)
	reader := testutil.NewMemoryReader(bundleURL, data)

	index, err := Build(context.Background(), bundleURL, reader)
	require.NoError(t, err)
	assert.Equal(t, bundleURL, index.URL())

	entries := index.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "fw.json", entries[0].Name)
	assert.Equal(t, "x9d-v2.5.0.bin", entries[1].Name)
	assert.Equal(t, uint64(len("x9d firmware")), entries[1].Size)
	assert.Equal(t, "nv14-v2.5.0.bin", entries[2].Name)
	assert.Equal(t, uint64(400), entries[2].Size)
	assert.Less(t, entries[2].CompressedSize, entries[2].Size)

	// A small archive is read with a single range read after the length probe.
	assert.Equal(t, int64(1), reader.LengthCalls())
	assert.Equal(t, int64(1), reader.ReadCalls())
}

func TestIndexFind(t *testing.T) {
	t.Parallel()

	data := testutil.BuildZip(t,
		testutil.File{Name: "firmware/", Method: zip.Store},
		testutil.File{Name: "firmware/fw.json", Data: []byte("{}"), Method: zip.Deflate},
		testutil.File{Name: "firmware/x9d-v2.5.0.bin", Data: []byte("a"), Method: zip.Store},
		testutil.File{Name: "firmware/x9d+-v2.5.0.bin", Data: []byte("b"), Method: zip.Store},
	)
	index, err := Build(context.Background(), bundleURL, testutil.NewMemoryReader(bundleURL, data))
	require.NoError(t, err)

	entry, ok := index.FindSuffix("fw.json")
	require.True(t, ok)
	assert.Equal(t, "firmware/fw.json", entry.Name)

	entry, ok = index.FindPrefix("firmware/x9d")
	require.True(t, ok)
	assert.Equal(t, "firmware/x9d-v2.5.0.bin", entry.Name, "first match in directory order")

	entry, ok = index.FindPrefix("firmware")
	require.True(t, ok)
	assert.False(t, entry.IsDir())

	_, ok = index.FindPrefix("zzz-missing")
	assert.False(t, ok)
}

func TestReadEntry(t *testing.T) {
	t.Parallel()

	stored := []byte("stored x9d firmware image")
	deflated := bytes.Repeat([]byte("deflated nv14 firmware "), 50)
	data := testutil.BuildZip(t,
		testutil.File{Name: "x9d.bin", Data: stored, Method: zip.Store},
		testutil.File{Name: "nv14.bin", Data: deflated, Method: zip.Deflate},
		testutil.File{Name: "empty.bin", Method: zip.Store},
	)
	reader := testutil.NewMemoryReader(bundleURL, data)
	index, err := Build(context.Background(), bundleURL, reader)
	require.NoError(t, err)

	for name, want := range map[string][]byte{"x9d.bin": stored, "nv14.bin": deflated, "empty.bin": {}} {
		entry, ok := index.FindPrefix(name)
		require.True(t, ok, name)
		got, err := index.ReadEntry(context.Background(), entry)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestReadEntryZstd(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("zstd compressed firmware "), 64)
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	writer.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())
	w, err := writer.CreateHeader(&zip.FileHeader{Name: "tx16s.bin", Method: zstd.ZipMethodWinZip})
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	index, err := Build(context.Background(), bundleURL, testutil.NewMemoryReader(bundleURL, buf.Bytes()))
	require.NoError(t, err)
	entry, ok := index.FindPrefix("tx16s")
	require.True(t, ok)

	got, err := index.ReadEntry(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadEntryBeyondTail(t *testing.T) {
	t.Parallel()

	large := randomBytes(t, 3*tailWindow)
	data := testutil.BuildZip(t,
		testutil.File{Name: "large.bin", Data: large, Method: zip.Store},
		testutil.File{Name: "small.bin", Data: []byte("small"), Method: zip.Store},
	)
	reader := testutil.NewMemoryReader(bundleURL, data)
	index, err := Build(context.Background(), bundleURL, reader)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reader.ReadCalls())

	entry, ok := index.FindPrefix("large")
	require.True(t, ok)
	offset, err := index.dataOffset(context.Background(), entry)
	require.NoError(t, err)
	assert.Less(t, offset, uint64(len(data)-tailWindow))

	got, err := index.ReadEntry(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, large, got)
}

func TestReadEntryChecksumMismatch(t *testing.T) {
	t.Parallel()

	data := testutil.BuildZip(t, testutil.File{Name: "x9d.bin", Data: []byte("x9d firmware"), Method: zip.Store})
	reader := testutil.NewMemoryReader(bundleURL, data)
	index, err := Build(context.Background(), bundleURL, reader)
	require.NoError(t, err)

	entry, ok := index.FindPrefix("x9d")
	require.True(t, ok)
	offset, err := index.dataOffset(context.Background(), entry)
	require.NoError(t, err)
	reader.Data[offset] ^= 0xff

	_, err = index.ReadEntry(context.Background(), entry)
	var formatErr *datatypes.FormatError
	require.ErrorAs(t, err, &formatErr)
	assert.ErrorIs(t, err, zip.ErrChecksum)
}

func TestBuildCorruptArchive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "not a zip", data: []byte("this is not a zip archive at all")},
		{name: "truncated", data: testutil.BuildZip(t, testutil.File{Name: "a.bin", Data: []byte("a")})[:40]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Build(context.Background(), bundleURL, testutil.NewMemoryReader(bundleURL, tt.data))
			var formatErr *datatypes.FormatError
			require.ErrorAs(t, err, &formatErr)
			assert.Equal(t, bundleURL, formatErr.URL)
		})
	}
}

func TestBuildPropagatesTransportError(t *testing.T) {
	t.Parallel()

	reader := testutil.NewMemoryReader(bundleURL, nil)
	reader.FailLength = true

	_, err := Build(context.Background(), bundleURL, reader)
	var transportErr *datatypes.TransportError
	require.ErrorAs(t, err, &transportErr)
	var formatErr *datatypes.FormatError
	assert.False(t, errors.As(err, &formatErr))
}

// rawZip stores payload as is under a header declaring the given sizes.
func rawZip(t *testing.T, name string, payload []byte, compressedSize, size uint64) []byte {
	t.Helper()
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	w, err := writer.CreateRaw(&zip.FileHeader{
		Name:               name,
		Method:             zip.Store,
		CRC32:              crc32.ChecksumIEEE(payload),
		CompressedSize64:   compressedSize,
		UncompressedSize64: size,
	})
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return buf.Bytes()
}

func TestReadEntryPastArchiveEnd(t *testing.T) {
	t.Parallel()

	data := rawZip(t, "x9d.bin", []byte("x9d!"), 1<<50, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "bundle.zip", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)

	index, err := Build(context.Background(), server.URL, remote.NewHTTPReader(server.URL))
	require.NoError(t, err)
	entry, ok := index.FindPrefix("x9d")
	require.True(t, ok)
	require.Equal(t, uint64(1<<50), entry.CompressedSize)

	_, err = index.ReadEntry(context.Background(), entry)
	var formatErr *datatypes.FormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Equal(t, server.URL, formatErr.URL)
}

func TestReadEntryPastArchiveEndSkipsRead(t *testing.T) {
	t.Parallel()

	reader := testutil.NewMemoryReader(bundleURL, rawZip(t, "x9d.bin", []byte("x9d!"), 1<<45, 4))
	index, err := Build(context.Background(), bundleURL, reader)
	require.NoError(t, err)
	readsAfterBuild := reader.ReadCalls()

	entry, ok := index.FindPrefix("x9d")
	require.True(t, ok)
	_, err = index.ReadEntry(context.Background(), entry)
	var formatErr *datatypes.FormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Equal(t, readsAfterBuild, reader.ReadCalls())
}

func TestReadEntryDeclaredSizeTooLarge(t *testing.T) {
	t.Parallel()

	reader := testutil.NewMemoryReader(bundleURL, rawZip(t, "x9d.bin", []byte("x9d!"), 4, 1<<50))
	index, err := Build(context.Background(), bundleURL, reader)
	require.NoError(t, err)

	entry, ok := index.FindPrefix("x9d")
	require.True(t, ok)
	_, err = index.ReadEntry(context.Background(), entry)
	var formatErr *datatypes.FormatError
	require.ErrorAs(t, err, &formatErr)
}

// Not parallel: it measures process-wide allocations.
func TestReadEntryZstdOutputIsBounded(t *testing.T) {
	payload := make([]byte, 64<<20)
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	writer.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())
	w, err := writer.CreateHeader(&zip.FileHeader{Name: "tx16s.bin", Method: zstd.ZipMethodWinZip})
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	payload = nil

	index, err := Build(context.Background(), bundleURL, testutil.NewMemoryReader(bundleURL, buf.Bytes()))
	require.NoError(t, err)
	entry, ok := index.FindPrefix("tx16s")
	require.True(t, ok)
	// The directory understates the entry size.
	entry.Size = 16

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err = index.ReadEntry(context.Background(), entry)
	runtime.ReadMemStats(&after)

	var formatErr *datatypes.FormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(32<<20))
}

type ctxKey struct{}

// ctxRecordingReader records the context value of every Read.
type ctxRecordingReader struct {
	*testutil.MemoryReader
	seen chan string
}

func (r *ctxRecordingReader) Read(ctx context.Context, offset, size uint64) ([]byte, error) {
	value, _ := ctx.Value(ctxKey{}).(string)
	r.seen <- value
	return r.MemoryReader.Read(ctx, offset, size)
}

func TestReadEntryUsesCallerContext(t *testing.T) {
	t.Parallel()

	large := randomBytes(t, 2*tailWindow)
	data := testutil.BuildZip(t,
		testutil.File{Name: "large.bin", Data: large, Method: zip.Store},
		testutil.File{Name: "small.bin", Data: []byte("small"), Method: zip.Store},
	)
	reader := &ctxRecordingReader{MemoryReader: testutil.NewMemoryReader(bundleURL, data), seen: make(chan string, 16)}

	buildCtx := context.WithValue(context.Background(), ctxKey{}, "build")
	index, err := Build(buildCtx, bundleURL, reader)
	require.NoError(t, err)
	assert.Equal(t, "build", <-reader.seen)

	entry, ok := index.FindPrefix("large")
	require.True(t, ok)
	requestCtx := context.WithValue(context.Background(), ctxKey{}, "request")
	got, err := index.ReadEntry(requestCtx, entry)
	require.NoError(t, err)
	assert.Equal(t, large, got)

	// Local header read, then the payload read.
	assert.Equal(t, "request", <-reader.seen)
	assert.Equal(t, "request", <-reader.seen)
	assert.Empty(t, reader.seen)

	// The resolved offset is kept.
	_, err = index.ReadEntry(requestCtx, entry)
	require.NoError(t, err)
	assert.Equal(t, "request", <-reader.seen)
	assert.Empty(t, reader.seen)
}
