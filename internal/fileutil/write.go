// Package fileutil writes files so readers see either the old or the new
// content, never a partial write.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile creates the parent directories of path and atomically
// replaces path with data.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := replaceFile(path, data, perm); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
