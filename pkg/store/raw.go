package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RawWriter keeps the untouched API bodies of a run for later inspection.
type RawWriter struct {
	Dir string
	now func() time.Time
}

// NewRawWriter returns a writer storing files under dir.
func NewRawWriter(dir string) *RawWriter {
	return &RawWriter{Dir: dir, now: time.Now}
}

// Write stores pages as one indented JSON array in <dir>/<YYYY-MM-DD>_<runID>.json
// and returns the file path. Pages must be valid JSON.
func (w *RawWriter) Write(runID string, pages []json.RawMessage) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", w.Dir, err)
	}

	if pages == nil {
		pages = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(pages, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encode raw pages: %w", err)
	}

	name := w.now().Format("2006-01-02")
	if runID != "" {
		name += "_" + runID
	}
	path := filepath.Join(w.Dir, name+".json")

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
