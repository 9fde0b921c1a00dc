// Package status persists the outcome of reconciliation runs on the host.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// StatusFileName is the name of the status file
const StatusFileName = "status.json"

// Persistence stores the reconcile status
type Persistence interface {
	// Save writes the status, replacing any previous one
	Save(ctx context.Context, status *ReconcileStatus) error

	// Load reads the status. Returns an empty status if none was saved yet.
	Load(ctx context.Context) (*ReconcileStatus, error)
}

// filePersistence implements Persistence on the local filesystem
type filePersistence struct {
	basePath string
}

// NewFilePersistence creates a file-based persistence storing status.json under basePath
func NewFilePersistence(basePath string) Persistence {
	return &filePersistence{basePath: basePath}
}

func (f *filePersistence) path() string {
	return filepath.Join(f.basePath, StatusFileName)
}

// Save writes the status as JSON through a temporary file and an atomic rename
func (f *filePersistence) Save(_ context.Context, status *ReconcileStatus) error {
	if err := os.MkdirAll(f.basePath, 0750); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	filePath := f.path()
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary status file: %w", err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename status file: %w", err)
	}

	return nil
}

// Load reads the status file
func (f *filePersistence) Load(_ context.Context) (*ReconcileStatus, error) {
	// #nosec G304 -- path is built from the configured state directory
	data, err := os.ReadFile(f.path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &ReconcileStatus{}, nil
		}
		return nil, fmt.Errorf("failed to read status file: %w", err)
	}

	var status ReconcileStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status data: %w", err)
	}

	return &status, nil
}
