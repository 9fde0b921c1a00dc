package reconciler

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// acquireLock takes an exclusive, non-blocking lock on path. The returned
// function releases it. An empty path disables locking.
func acquireLock(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: lock %s is held", ErrLocked, path)
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("Failed to release lock", "path", path, "error", err)
		}
	}, nil
}
