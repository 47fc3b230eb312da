package remote

import (
	"context"
	"net/url"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
)

// RangeReader is random access to a remote byte-addressable resource.
type RangeReader interface {
	// Length returns the total size of the resource. The result is memoized.
	Length(ctx context.Context) (uint64, error)

	// Read returns exactly size bytes starting at offset.
	Read(ctx context.Context, offset, size uint64) ([]byte, error)
}

// Opener creates a RangeReader for an archive URL.
type Opener interface {
	Open(archiveURL string) (RangeReader, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(archiveURL string) (RangeReader, error)

func (f OpenerFunc) Open(archiveURL string) (RangeReader, error) {
	return f(archiveURL)
}

// Factory opens HTTP(S) archive URLs with range requests, and gs:// URLs through
// the GCS client when one is configured.
type Factory struct {
	httpOptions []Option
	gcs         *storage.Client
}

// NewFactory returns a Factory applying the given options to every HTTP reader.
func NewFactory(gcs *storage.Client, opts ...Option) *Factory {
	return &Factory{
		httpOptions: opts,
		gcs:         gcs,
	}
}

func (f *Factory) Open(archiveURL string) (RangeReader, error) {
	parsed, err := url.Parse(archiveURL)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid archive url %q", archiveURL)
	}

	switch parsed.Scheme {
	case "http", "https":
		return NewHTTPReader(archiveURL, f.httpOptions...), nil
	case "gs":
		if f.gcs == nil {
			return nil, eris.Errorf("no gcs client configured for %q", archiveURL)
		}
		return NewGCSReader(f.gcs, archiveURL)
	default:
		return nil, eris.Errorf("unsupported archive url scheme %q", parsed.Scheme)
	}
}
