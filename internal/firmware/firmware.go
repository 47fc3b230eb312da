// Package firmware lists the targets of a firmware bundle and extracts target binaries from it.
package firmware

import (
	"context"

	"github.com/seek-ret/fwbundle/internal/archive"
)

// Indexer returns the directory index of a bundle archive.
type Indexer interface {
	Get(ctx context.Context, archiveURL string) (*archive.Index, error)
}
