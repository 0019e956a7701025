// Package runlock guards the push pipeline against overlapping runs with a
// file-based advisory lock.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrBusy is returned by Acquire when another run already holds the lock.
var ErrBusy = errors.New("another run is in progress")

// Lock is a held run lock. It must be released on every exit path.
type Lock struct {
	fl *flock.Flock
}

// Acquire attempts to take the run lock at path without blocking. It returns
// ErrBusy if the lock is held elsewhere. Any other error means the lock file
// itself could not be created and the run must abort before touching data.
func Acquire(path string) (*Lock, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create lock directory: %w", err)
		}
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return nil, ErrBusy
	}
	return &Lock{fl: fl}, nil
}

// Release frees the lock. Safe to call via defer; release errors are
// reported but leave the process free to exit either way.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
