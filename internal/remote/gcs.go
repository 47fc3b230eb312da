package remote

import (
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"golang.org/x/net/context"

	"github.com/seek-ret/fwbundle/internal/datatypes"
)

// GCSReader is a RangeReader over an object in a GCS bucket, addressed as gs://<bucket>/<object>.
type GCSReader struct {
	url    string
	object *storage.ObjectHandle

	mu        sync.Mutex
	length    uint64
	hasLength bool
}

// NewGCSReader creates a reader for the gs:// URL using the given client.
func NewGCSReader(client *storage.Client, archiveURL string) (*GCSReader, error) {
	bucket, object, err := splitGCSURL(archiveURL)
	if err != nil {
		return nil, err
	}

	return &GCSReader{
		url:    archiveURL,
		object: client.Bucket(bucket).Object(object),
	}, nil
}

func splitGCSURL(archiveURL string) (string, string, error) {
	parsed, err := url.Parse(archiveURL)
	if err != nil {
		return "", "", eris.Wrapf(err, "invalid gcs url %q", archiveURL)
	}
	object := strings.TrimPrefix(parsed.Path, "/")
	if parsed.Scheme != "gs" || parsed.Host == "" || object == "" {
		return "", "", eris.Errorf("invalid gcs url %q, expected gs://<bucket>/<object>", archiveURL)
	}
	return parsed.Host, object, nil
}

func (reader *GCSReader) Length(ctx context.Context) (uint64, error) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	if reader.hasLength {
		return reader.length, nil
	}

	attrs, err := reader.object.Attrs(ctx)
	if err != nil {
		return 0, reader.transportError(err, 0, 0)
	}
	if attrs.Size < 0 {
		return 0, &datatypes.ProtocolError{URL: reader.url, Reason: "negative object size"}
	}

	reader.length = uint64(attrs.Size)
	reader.hasLength = true
	return reader.length, nil
}

func (reader *GCSReader) Read(ctx context.Context, offset, size uint64) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	if size > math.MaxInt64 || offset > math.MaxInt64-size {
		return nil, reader.transportError(eris.New("range out of bounds"), offset, size)
	}
	rangeReader, err := reader.object.NewRangeReader(ctx, int64(offset), int64(size))
	if err != nil {
		return nil, reader.transportError(err, offset, size)
	}
	defer rangeReader.Close()

	if remain := rangeReader.Remain(); remain != int64(size) {
		return nil, reader.transportError(eris.Errorf("expected %d bytes, object has %d", size, remain), offset, size)
	}
	data, err := io.ReadAll(io.LimitReader(rangeReader, int64(size)))
	if err != nil {
		return nil, reader.transportError(err, offset, size)
	}
	if uint64(len(data)) != size {
		return nil, reader.transportError(io.ErrUnexpectedEOF, offset, size)
	}
	return data, nil
}

func (reader *GCSReader) transportError(err error, offset, size uint64) error {
	transportErr := &datatypes.TransportError{
		URL:    reader.url,
		Method: http.MethodGet,
		Offset: offset,
		Size:   size,
		Err:    err,
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		transportErr.StatusCode = http.StatusNotFound
	}
	return transportErr
}
