package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

type Lock struct {
	file *flock.Flock
}

// Acquire obtains a filesystem lock so that at most one orchestrator
// instance processes segments at a time.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "tiera.lock")
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("another archival run is already in progress (lock: %s)", path)
	}
	return &Lock{file: lock}, nil
}

// Release frees the lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Unlock()
}
