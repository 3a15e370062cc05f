//go:build windows

package fileutil

import (
	"bytes"
	"os"

	"github.com/natefinch/atomic"
)

func replaceFile(path string, data []byte, perm os.FileMode) error {
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return err
	}
	return os.Chmod(path, perm)
}
