package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryOpen(t *testing.T) {
	t.Parallel()

	factory := NewFactory(nil, WithProxyURL("https://proxy.example"))

	reader, err := factory.Open("https://example.com/bundle.zip")
	require.NoError(t, err)
	httpReader, ok := reader.(*HTTPReader)
	require.True(t, ok)
	assert.Equal(t, "https://proxy.example", httpReader.proxyURL)

	_, err = factory.Open("gs://bundles/edgetx.zip")
	assert.Error(t, err, "gs urls need a gcs client")

	_, err = factory.Open("ftp://example.com/bundle.zip")
	assert.Error(t, err)
}

func TestSplitGCSURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		url        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{name: "object", url: "gs://bundles/edgetx-2.5.zip", wantBucket: "bundles", wantObject: "edgetx-2.5.zip"},
		{name: "nested object", url: "gs://bundles/releases/v2.5/fw.zip", wantBucket: "bundles", wantObject: "releases/v2.5/fw.zip"},
		{name: "missing object", url: "gs://bundles/", wantErr: true},
		{name: "wrong scheme", url: "https://bundles/fw.zip", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bucket, object, err := splitGCSURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantObject, object)
		})
	}
}
