package archive

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"

	"github.com/seek-ret/fwbundle/internal/datatypes"
	"github.com/seek-ret/fwbundle/internal/remote"
)

// Entry is a file stored in the archive. Its payload is only fetched by Index.ReadEntry.
type Entry struct {
	Name           string
	Size           uint64
	CompressedSize uint64
	Method         uint16
	CRC32          uint32

	file *zip.File
}

// IsDir reports whether the entry is a directory record.
func (entry Entry) IsDir() bool {
	return strings.HasSuffix(entry.Name, "/")
}

// maxEntrySize bounds the uncompressed size of an entry read into memory.
const maxEntrySize = 1 << 30

// Index is the parsed directory of a remote archive. Its entries are immutable once built.
type Index struct {
	url     string
	reader  remote.RangeReader
	at      *readerAt
	entries []Entry

	mu      sync.Mutex
	offsets map[*zip.File]uint64
}

// Build reads the archive directory through the reader. The entry payloads are not read.
func Build(ctx context.Context, archiveURL string, reader remote.RangeReader) (*Index, error) {
	length, err := reader.Length(ctx)
	if err != nil {
		return nil, err
	}
	if length > math.MaxInt64 {
		return nil, &datatypes.FormatError{URL: archiveURL, Reason: "archive too large"}
	}

	at, err := newReaderAt(ctx, reader, int64(length))
	if err != nil {
		return nil, err
	}

	var zipReader *zip.Reader
	err = at.withContext(ctx, func() error {
		var err error
		zipReader, err = zip.NewReader(at, int64(length))
		return err
	})
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, classify(archiveURL, "failed reading archive directory", err)
	}

	entries := make([]Entry, 0, len(zipReader.File))
	for _, file := range zipReader.File {
		entries = append(entries, Entry{
			Name:           file.Name,
			Size:           file.UncompressedSize64,
			CompressedSize: file.CompressedSize64,
			Method:         file.Method,
			CRC32:          file.CRC32,
			file:           file,
		})
	}

	return &Index{
		url:     archiveURL,
		reader:  reader,
		at:      at,
		entries: entries,
		offsets: make(map[*zip.File]uint64),
	}, nil
}

// URL returns the archive URL the index was built from.
func (index *Index) URL() string {
	return index.url
}

// Entries returns the archive entries in directory order.
func (index *Index) Entries() []Entry {
	entries := make([]Entry, len(index.entries))
	copy(entries, index.entries)
	return entries
}

// FindSuffix returns the first file entry whose name ends with suffix.
func (index *Index) FindSuffix(suffix string) (Entry, bool) {
	return index.find(func(name string) bool {
		return strings.HasSuffix(name, suffix)
	})
}

// FindPrefix returns the first file entry whose name starts with prefix.
func (index *Index) FindPrefix(prefix string) (Entry, bool) {
	return index.find(func(name string) bool {
		return strings.HasPrefix(name, prefix)
	})
}

func (index *Index) find(match func(string) bool) (Entry, bool) {
	for _, entry := range index.entries {
		if entry.IsDir() {
			continue
		}
		if match(entry.Name) {
			return entry, true
		}
	}
	return Entry{}, false
}

// dataOffset returns the offset of the entry payload within the archive.
// Resolving it reads the entry's local header once.
func (index *Index) dataOffset(ctx context.Context, entry Entry) (uint64, error) {
	index.mu.Lock()
	defer index.mu.Unlock()
	if offset, ok := index.offsets[entry.file]; ok {
		return offset, nil
	}

	var offset int64
	err := index.at.withContext(ctx, func() error {
		var err error
		offset, err = entry.file.DataOffset()
		return err
	})
	if err != nil {
		return 0, classify(index.url, "failed reading local header of "+entry.Name, err)
	}
	index.offsets[entry.file] = uint64(offset)
	return uint64(offset), nil
}

// ReadEntry fetches the entry payload with a single range read and decompresses it.
func (index *Index) ReadEntry(ctx context.Context, entry Entry) ([]byte, error) {
	if entry.file == nil {
		return nil, &datatypes.FormatError{URL: index.url, Reason: "unknown entry " + entry.Name}
	}
	if entry.Size > maxEntrySize {
		return nil, &datatypes.FormatError{URL: index.url, Reason: "entry too large: " + entry.Name}
	}

	length, err := index.reader.Length(ctx)
	if err != nil {
		return nil, err
	}
	offset, err := index.dataOffset(ctx, entry)
	if err != nil {
		return nil, err
	}
	if offset > length || entry.CompressedSize > length-offset {
		return nil, &datatypes.FormatError{URL: index.url, Reason: "entry " + entry.Name + " extends past the end of the archive"}
	}

	raw, err := index.reader.Read(ctx, offset, entry.CompressedSize)
	if err != nil {
		return nil, err
	}

	data, err := decompress(entry, raw)
	if err != nil {
		return nil, &datatypes.FormatError{URL: index.url, Reason: "failed extracting " + entry.Name, Err: err}
	}
	return data, nil
}

// classify passes transport and protocol failures through unchanged and reports
// anything else as a malformed archive.
func classify(archiveURL, reason string, err error) error {
	var transportErr *datatypes.TransportError
	var protocolErr *datatypes.ProtocolError
	if errors.As(err, &transportErr) || errors.As(err, &protocolErr) {
		return err
	}
	return &datatypes.FormatError{URL: archiveURL, Reason: reason, Err: err}
}
