package units

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Writer installs rendered unit files into the unit-definition directory
type Writer struct {
	dir string
}

// NewWriter creates a Writer for dir, normally /etc/systemd/system
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Path returns where the unit file of def is written
func (w *Writer) Path(def ServiceDefinition) string {
	return filepath.Join(w.dir, def.UnitFile())
}

// Write renders def and replaces its unit file. It reports whether the
// content on disk changed.
func (w *Writer) Write(def ServiceDefinition) (bool, error) {
	data, err := Render(def)
	if err != nil {
		return false, err
	}

	path := w.Path(def)
	existing, err := os.ReadFile(path)
	switch {
	case err == nil && bytes.Equal(existing, data):
		slog.Debug("Unit file unchanged", "path", path)
		return false, nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return false, fmt.Errorf("failed to read unit file %s: %w", path, err)
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return false, fmt.Errorf("failed to create unit directory: %w", err)
	}

	// Write to a temporary file first, then rename, so systemd never reads a partial unit
	tmp, err := os.CreateTemp(w.dir, "."+def.UnitFile()+".tmp-*")
	if err != nil {
		return false, fmt.Errorf("failed to create temporary unit file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return false, fmt.Errorf("failed to write temporary unit file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return false, fmt.Errorf("failed to close temporary unit file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return false, fmt.Errorf("failed to set unit file mode: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return false, fmt.Errorf("failed to rename unit file: %w", err)
	}

	slog.Info("Unit file written", "path", path)
	return true, nil
}
