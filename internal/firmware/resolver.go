package firmware

import (
	"context"
	"encoding/json"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/seek-ret/fwbundle/internal/datatypes"
)

// MetadataSuffix is the name suffix of the bundle metadata entry.
const MetadataSuffix = "fw.json"

// metadata is the decoded bundle metadata. Each target is a [name, code] pair
// where the code carries a trailing delimiter.
type metadata struct {
	Targets [][]string `json:"targets"`
}

// TargetResolver lists the flashable targets of firmware bundles.
type TargetResolver struct {
	indexes Indexer
}

// NewTargetResolver returns a resolver reading bundle directories from indexes.
func NewTargetResolver(indexes Indexer) *TargetResolver {
	return &TargetResolver{indexes: indexes}
}

// Targets returns the targets listed in the bundle metadata, in metadata order.
func (resolver *TargetResolver) Targets(ctx context.Context, archiveURL string) ([]datatypes.Target, error) {
	index, err := resolver.indexes.Get(ctx, archiveURL)
	if err != nil {
		return nil, err
	}

	entry, ok := index.FindSuffix(MetadataSuffix)
	if !ok {
		return nil, &datatypes.NotFoundError{URL: archiveURL, What: "metadata entry missing"}
	}

	data, err := index.ReadEntry(ctx, entry)
	if err != nil {
		return nil, err
	}

	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, &datatypes.FormatError{URL: archiveURL, Reason: "failed decoding " + entry.Name, Err: err}
	}

	targets := make([]datatypes.Target, 0, len(meta.Targets))
	for i, pair := range meta.Targets {
		if len(pair) < 2 {
			return nil, &datatypes.FormatError{
				URL:    archiveURL,
				Reason: "failed decoding " + entry.Name,
				Err:    eris.Errorf("target %d has %d fields, expected name and code", i, len(pair)),
			}
		}
		targets = append(targets, datatypes.Target{
			Name: pair[0],
			Code: trimLast(pair[1]),
		})
	}
	return targets, nil
}

// trimLast drops the last character of s.
func trimLast(s string) string {
	_, size := utf8.DecodeLastRuneInString(s)
	return s[:len(s)-size]
}
