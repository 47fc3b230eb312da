package firmware

import (
	"context"
	"path"

	"golang.org/x/sync/errgroup"

	"github.com/seek-ret/fwbundle/internal/datatypes"
)

// maxParallelFetches bounds the concurrent payload reads of FetchMany.
const maxParallelFetches = 4

// Fetcher extracts target binaries from firmware bundles. Payloads are not
// cached: every call reads the binary from the upstream again.
type Fetcher struct {
	indexes Indexer
}

// NewFetcher returns a fetcher reading bundle directories from indexes.
func NewFetcher(indexes Indexer) *Fetcher {
	return &Fetcher{indexes: indexes}
}

// Fetch returns the payload of the first bundle entry whose name starts with targetPrefix.
func (fetcher *Fetcher) Fetch(ctx context.Context, archiveURL, targetPrefix string) ([]byte, error) {
	binary, err := fetcher.fetch(ctx, archiveURL, targetPrefix)
	if err != nil {
		return nil, err
	}
	return binary.Data, nil
}

// FetchMany fetches several targets of the same bundle, in the order of targetPrefixes.
// The first failure is returned.
func (fetcher *Fetcher) FetchMany(ctx context.Context, archiveURL string, targetPrefixes []string) ([]datatypes.FirmwareBinary, error) {
	// Build the index once before fanning out.
	if _, err := fetcher.indexes.Get(ctx, archiveURL); err != nil {
		return nil, err
	}

	binaries := make([]datatypes.FirmwareBinary, len(targetPrefixes))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallelFetches)
	for i, prefix := range targetPrefixes {
		group.Go(func() error {
			binary, err := fetcher.fetch(groupCtx, archiveURL, prefix)
			if err != nil {
				return err
			}
			binaries[i] = binary
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return binaries, nil
}

func (fetcher *Fetcher) fetch(ctx context.Context, archiveURL, targetPrefix string) (datatypes.FirmwareBinary, error) {
	index, err := fetcher.indexes.Get(ctx, archiveURL)
	if err != nil {
		return datatypes.FirmwareBinary{}, err
	}

	entry, ok := index.FindPrefix(targetPrefix)
	if !ok {
		return datatypes.FirmwareBinary{}, &datatypes.NotFoundError{URL: archiveURL, What: "target binary missing"}
	}

	data, err := index.ReadEntry(ctx, entry)
	if err != nil {
		return datatypes.FirmwareBinary{}, err
	}
	return datatypes.FirmwareBinary{
		Target: targetPrefix,
		Entry:  path.Base(entry.Name),
		Data:   data,
	}, nil
}
