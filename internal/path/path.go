package path

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// GetAbsolutePath tries to get a full local path from the input argument.
// If the path does not exist locally - we return an error.
func GetAbsolutePath(dir string) (string, error) {
	dirPath, err := filepath.Abs(dir)
	if err != nil {
		return "", eris.Wrapf(err, "failed resolving %q", dir)
	}
	_, err = os.Stat(dirPath)
	if err != nil {
		return "", eris.Wrapf(err, "failed finding %q", dirPath)
	}

	return dirPath, nil
}

// GetOrCreateAbsolutePath is GetAbsolutePath that creates the directory when it is missing.
func GetOrCreateAbsolutePath(dir string) (string, error) {
	dirPath, err := GetAbsolutePath(dir)
	if err == nil {
		return dirPath, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	dirPath, err = filepath.Abs(dir)
	if err != nil {
		return "", eris.Wrapf(err, "failed resolving %q", dir)
	}
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return "", eris.Wrapf(err, "failed creating %q", dirPath)
	}

	return dirPath, nil
}
