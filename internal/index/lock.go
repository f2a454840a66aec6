package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	ierrors "github.com/Aman-CERP/recyclix/internal/errors"
)

// dirLock is a cross-process lock next to the index directory, at
// <parent>/.<base>.lock.
type dirLock struct {
	path  string
	flock *flock.Flock
}

// lockPath returns the lock file path for an index directory.
func lockPath(indexPath string) string {
	clean := filepath.Clean(indexPath)
	return filepath.Join(filepath.Dir(clean), "."+filepath.Base(clean)+".lock")
}

// lockIndexDir takes the lock without blocking. In-memory indexes
// (empty path) need no lock and get a nil lock.
func lockIndexDir(indexPath string) (*dirLock, error) {
	if indexPath == "" {
		return nil, nil
	}

	path := lockPath(indexPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ierrors.New(ierrors.ErrCodeDirCreate, "failed to create lock directory", err).
			WithDetail("path", path)
	}

	l := &dirLock{path: path, flock: flock.New(path)}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeIndexLocked, "failed to lock index directory", err).
			WithDetail("lock", path)
	}
	if !acquired {
		return nil, ierrors.New(ierrors.ErrCodeIndexLocked,
			fmt.Sprintf("index %s is in use by another process", indexPath), nil).
			WithDetail("lock", path).
			WithSuggestion("stop the other recyclix process using this index")
	}
	return l, nil
}

// Unlock releases the lock. Safe on a nil lock.
func (l *dirLock) Unlock() error {
	if l == nil {
		return nil
	}
	return l.flock.Unlock()
}
