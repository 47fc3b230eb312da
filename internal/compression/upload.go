package compression

import (
	"bytes"
	"io"

	gzip "github.com/klauspost/pgzip"
	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"
)

// ErrTooLarge is returned when a decoded image exceeds the size limit.
var ErrTooLarge = eris.New("decoded firmware exceeds size limit")

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// DecodeUpload returns the raw firmware image of an upload. Gzip and xz
// compressed uploads are decompressed, anything else is returned as is.
// limit bounds the decompressed size.
func DecodeUpload(data []byte, limit int64) ([]byte, error) {
	var reader io.Reader
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		gzipReader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, eris.Wrap(err, "failed creating gzip reader")
		}
		defer gzipReader.Close()
		reader = gzipReader
	case bytes.HasPrefix(data, xzMagic):
		xzReader, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, eris.Wrap(err, "failed creating xz reader")
		}
		reader = xzReader
	default:
		return data, nil
	}

	decoded, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, eris.Wrap(err, "failed decompressing firmware")
	}
	if int64(len(decoded)) > limit {
		return nil, ErrTooLarge
	}
	return decoded, nil
}
