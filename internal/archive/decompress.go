package archive

import (
	"bytes"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/rotisserie/eris"
)

// zstdMaxWindow bounds the window a zstd entry may ask the decoder to keep.
const zstdMaxWindow = 64 << 20

// decompress expands the raw entry payload and verifies its size and checksum.
func decompress(entry Entry, raw []byte) ([]byte, error) {
	var data []byte
	switch entry.Method {
	case zip.Store:
		data = raw
	case zip.Deflate:
		reader := flate.NewReader(bytes.NewReader(raw))
		defer reader.Close()
		inflated, err := io.ReadAll(io.LimitReader(reader, int64(entry.Size)+1))
		if err != nil {
			return nil, eris.Wrap(err, "failed inflating entry")
		}
		data = inflated
	case zstd.ZipMethodWinZip, zstd.ZipMethodPKWare:
		decoder, err := zstd.NewReader(bytes.NewReader(raw),
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(zstdMaxWindow),
		)
		if err != nil {
			return nil, eris.Wrap(err, "failed creating zstd decoder")
		}
		defer decoder.Close()
		decoded, err := io.ReadAll(io.LimitReader(decoder, int64(entry.Size)+1))
		if err != nil {
			return nil, eris.Wrap(err, "failed decoding zstd entry")
		}
		data = decoded
	default:
		return nil, eris.Wrapf(zip.ErrAlgorithm, "compression method %d", entry.Method)
	}

	if uint64(len(data)) != entry.Size {
		return nil, eris.Errorf("entry size mismatch: directory=%d extracted=%d", entry.Size, len(data))
	}
	if crc32.ChecksumIEEE(data) != entry.CRC32 {
		return nil, eris.Wrap(zip.ErrChecksum, "entry checksum mismatch")
	}
	return data, nil
}
