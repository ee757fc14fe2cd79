package watch

import (
	"errors"
	"fmt"
	"os"
)

// ErrAlreadyRunning indicates another watcher holds the lock.
var ErrAlreadyRunning = errors.New("watcher already running")

type flockHandle struct {
	f *os.File
}

// acquireLock takes a non-blocking exclusive lock so only one watcher
// reconciles a given registry at a time.
func acquireLock(path string) (*flockHandle, error) {
	if path == "" {
		return nil, errors.New("lock path is empty")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	// Best-effort: write pid for troubleshooting.
	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Sync()

	return &flockHandle{f: f}, nil
}

func (l *flockHandle) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unlockErr := unlockFile(l.f)
	closeErr := l.f.Close()
	l.f = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
