package security

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicRead reads a file in a single call so concurrent atomic writers can
// never expose a partially written file to the reader.
func AtomicRead(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// AtomicWrite writes content through a temp file in the target directory and
// renames it into place, so no reader ever observes a partial file. The
// written size is verified before the rename.
func AtomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.Write(content); err != nil {
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}

	info, err := tmp.Stat()
	if err != nil {
		cleanup()
		return fmt.Errorf("verifying temp file: %w", err)
	}
	if info.Size() != int64(len(content)) {
		cleanup()
		return fmt.Errorf("short write: wrote %d of %d bytes", info.Size(), len(content))
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
