package session

import (
	"path/filepath"
	"strings"
	"time"

	"audiotext/internal/fileutil"
)

// timestampLayout renders YYYY-MM-DD_HH-MM-SS.
const timestampLayout = "2006-01-02_15-04-05"

// OutputPath derives the transcript path for source at time at:
// <dir>/<stem>_<YYYY-MM-DD_HH-MM-SS>.txt. dir is outputDir when set,
// otherwise the directory of source. Two calls within the same second
// for the same source return the same path.
func OutputPath(source, outputDir string, at time.Time) string {
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "transcript"
	}

	dir := strings.TrimSpace(outputDir)
	if dir == "" {
		dir = filepath.Dir(source)
	}

	return filepath.Join(dir, stem+"_"+at.Format(timestampLayout)+".txt")
}

// Writer persists transcript bytes, replacing any existing file.
type Writer interface {
	WriteFile(path string, data []byte) error
}

// AtomicWriter replaces the target in one rename, so readers never
// observe a partial transcript.
type AtomicWriter struct{}

// WriteFile creates parent directories and atomically replaces path.
func (AtomicWriter) WriteFile(path string, data []byte) error {
	return fileutil.WriteFile(path, data, 0o644)
}
