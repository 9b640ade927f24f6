package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"videoxt/internal/mediacache"
	"videoxt/internal/services"
)

const lockFileName = ".reconcile.lock"

// UnlockFunc releases a key lock.
type UnlockFunc func()

func (s *Store) keyLock(key mediacache.AnnotationKey) (*flock.Flock, error) {
	dir, err := s.keyDir(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging key dir: %w", err)
	}
	return flock.New(filepath.Join(dir, lockFileName)), nil
}

// LockKey blocks until the key lock is held or ctx is done.
func (s *Store) LockKey(ctx context.Context, key mediacache.AnnotationKey) (UnlockFunc, error) {
	lock, err := s.keyLock(key)
	if err != nil {
		return nil, err
	}
	locked, err := lock.TryLockContext(ctx, s.retryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrConflict, "staging", "lock", fmt.Sprintf("key %s is busy", key), nil)
	}
	return func() { _ = lock.Unlock() }, nil
}

// TryLockKey takes the key lock without waiting. A key held elsewhere is a
// conflict.
func (s *Store) TryLockKey(key mediacache.AnnotationKey) (UnlockFunc, error) {
	lock, err := s.keyLock(key)
	if err != nil {
		return nil, err
	}
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrConflict, "staging", "lock", fmt.Sprintf("reconciliation already running for %s", key), nil)
	}
	return func() { _ = lock.Unlock() }, nil
}
