// Package atomicfile provides the single durability primitive this
// repository relies on: write-to-sibling-tempfile then atomic rename.
//
// A crash at any instant during Write leaves either the previous content of
// the target path, or the full new content, on disk -- never a partial
// file. The temp file is fsynced before the rename; the containing
// directory is not fsynced.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Write atomically replaces path with data, creating parent directories as
// needed. The temp file is created in the same directory as path so the
// final rename is guaranteed to be on the same filesystem.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("atomicfile: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("atomicfile: create temp in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	// On any failure past this point, remove the stray tempfile; the
	// target path is never touched until the rename below succeeds.
	succeeded := false
	defer func() {
		if !succeeded {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("atomicfile: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("atomicfile: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomicfile: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("atomicfile: chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomicfile: rename into place: %w", err)
	}
	succeeded = true
	return nil
}

// WriteJSON is a convenience wrapper for the common case of persisting a
// marshaled struct.
func WriteJSON(path string, data []byte) error {
	return Write(path, data, 0o644)
}
