package utils

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// WriteFileAtomic streams the output of write into a temporary file next to path and
// renames it over path once everything has been flushed. A failure at any point leaves
// path untouched and removes the temporary file. Filesystem failures are reported as
// ErrIO; errors returned by write are passed through as is.
func WriteFileAtomic(path string, perm os.FileMode, write func(w io.Writer) error) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return NewIOError(err, path)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			utils.UncheckedErrorFunc(func() error { return os.Remove(tmpPath) })
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err := write(buf); err != nil {
		return multierr.Combine(err, tmp.Close())
	}
	if err := buf.Flush(); err != nil {
		return NewIOError(multierr.Combine(err, tmp.Close()), path)
	}
	if err := tmp.Sync(); err != nil {
		return NewIOError(multierr.Combine(err, tmp.Close()), path)
	}
	if err := tmp.Close(); err != nil {
		return NewIOError(err, path)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return NewIOError(err, path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return NewIOError(err, path)
	}
	return nil
}
