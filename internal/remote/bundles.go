package remote

import (
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"golang.org/x/net/context"
	"google.golang.org/api/iterator"

	"github.com/seek-ret/fwbundle/internal/datatypes"
)

const (
	bundleSuffix = ".zip"
)

// BundleLister lists the firmware bundles stored in a GCS bucket.
type BundleLister interface {
	List(context.Context) ([]datatypes.Bundle, error)
}

// GCSBundleLister lists the .zip objects of a bucket.
type GCSBundleLister struct {
	bucketName string
	bucket     *storage.BucketHandle
}

// NewGCSBundleLister creates a lister for the input bucket name.
func NewGCSBundleLister(client *storage.Client, bucketName string) *GCSBundleLister {
	return &GCSBundleLister{
		bucketName: bucketName,
		bucket:     client.Bucket(bucketName),
	}
}

func (lister GCSBundleLister) List(ctx context.Context) ([]datatypes.Bundle, error) {
	iter := lister.bucket.Objects(ctx, nil)
	res := make([]datatypes.Bundle, 0)
	for {
		attrs, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "failed listing objects in bucket %q", lister.bucketName)
		}

		if !strings.HasSuffix(attrs.Name, bundleSuffix) {
			continue
		}
		res = append(res, datatypes.Bundle{
			Name:    strings.TrimSuffix(attrs.Name, bundleSuffix),
			URL:     fmt.Sprintf("gs://%s/%s", lister.bucketName, attrs.Name),
			Size:    attrs.Size,
			Updated: attrs.Updated,
		})
	}

	return res, nil
}
