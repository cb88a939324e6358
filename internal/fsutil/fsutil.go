// Package fsutil provides atomic file writes and cross-process file locking
// for the small JSON files tasknest keeps on disk.
package fsutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
)

// LockTimeout is the maximum time to wait for a file lock.
// If exceeded, callers proceed without the lock (fail-open) to avoid hangs.
const LockTimeout = 100 * time.Millisecond

// Lock is an acquired file lock. A nil *Lock is valid and releases nothing.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes an exclusive lock on <dir>/<name>.lock.
//
// Returns (nil, nil) when the lock could not be taken within LockTimeout:
// a crashed process holding the lock must not wedge the CLI.
func AcquireLock(dir, name string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	fl := flock.New(filepath.Join(dir, "."+name+".lock"))

	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	if !locked {
		return nil, nil
	}
	return &Lock{fl: fl}, nil
}

// Release releases the lock.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

// WriteFileAtomic writes data to path via a temp file and rename.
// Files are always created with 0600 permissions.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Windows: rename fails when the destination exists.
	if err := os.Rename(tmpPath, path); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(path)
			return os.Rename(tmpPath, path)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}
