package compression

import (
	"archive/tar"
	"bytes"
	"time"

	gzip "github.com/klauspost/pgzip"
	"github.com/rotisserie/eris"

	"github.com/seek-ret/fwbundle/internal/datatypes"
)

// PackTarGZ packs the given binaries into a tar.gz, one regular file per binary
// named after its bundle entry.
func PackTarGZ(binaries []datatypes.FirmwareBinary, modTime time.Time) (*bytes.Buffer, error) {
	outputBuffer := &bytes.Buffer{}
	gzipWriter := gzip.NewWriter(outputBuffer)
	tarWriter := tar.NewWriter(gzipWriter)

	err := func() error {
		for _, binary := range binaries {
			header := &tar.Header{
				Typeflag: tar.TypeReg,
				Name:     binary.Entry,
				Mode:     0644,
				Size:     int64(len(binary.Data)),
				ModTime:  modTime,
			}
			if err := tarWriter.WriteHeader(header); err != nil {
				return eris.Wrapf(err, "failed writing header of %q", binary.Entry)
			}
			if _, err := tarWriter.Write(binary.Data); err != nil {
				return eris.Wrapf(err, "failed writing %q", binary.Entry)
			}
		}
		return nil
	}()

	if err != nil {
		_ = tarWriter.Close()
		_ = gzipWriter.Close()
		return nil, eris.Wrap(err, "failed packing firmware binaries")
	}

	// produce tar
	if err := tarWriter.Close(); err != nil {
		return nil, eris.Wrap(err, "failed finalizing tar")
	}
	// produce gzip
	if err := gzipWriter.Close(); err != nil {
		return nil, eris.Wrap(err, "failed finalizing gz")
	}

	return outputBuffer, nil
}
