// Package lock provides a named, OS-level advisory file lock keyed by
// network interface name, serializing install and cleanup across
// processes that share a dispatcher.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Lock is a held or unheld named advisory lock for one interface.
type Lock struct {
	iface string
	fl    *flock.Flock
}

// pathFor returns the platform lock file path for iface. On Linux this
// lands in the system temp directory, matching the "/tmp/.dispatcher_{iface}_lock"
// layout; os.TempDir honors TMPDIR so the same code is a reasonable
// platform-equivalent path elsewhere.
func pathFor(iface string) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf(".dispatcher_%s_lock", iface))
}

// Acquire returns an unlocked Lock handle for iface. Callers must call
// Lock, TryLock, or LockContext before using the lock to serialize
// against other processes.
func Acquire(iface string) (*Lock, error) {
	if iface == "" {
		return nil, fmt.Errorf("lock: iface must not be empty")
	}
	return &Lock{
		iface: iface,
		fl:    flock.New(pathFor(iface)),
	}, nil
}

// Lock blocks until the lock is acquired.
func (l *Lock) Lock() error {
	return l.fl.Lock()
}

// TryLock attempts to acquire the lock without blocking. ok is false if
// another process currently holds it.
func (l *Lock) TryLock() (ok bool, err error) {
	return l.fl.TryLock()
}

// LockContext blocks until the lock is acquired, ctx is done, or timeout
// elapses, polling at retryDelay. It reports a lock-unavailable condition
// by returning a non-nil error rather than ok=false, since callers that
// bound the wait treat expiry as a failure to proceed, not a retryable
// state.
func (l *Lock) LockContext(ctx context.Context, timeout, retryDelay time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := l.fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lock: timed out acquiring lock for iface %q", l.iface)
	}
	return nil
}

// Unlock releases the lock. It is a no-op if the lock is not held.
func (l *Lock) Unlock() error {
	return l.fl.Unlock()
}

// Locked reports whether this handle currently holds the lock.
func (l *Lock) Locked() bool {
	return l.fl.Locked()
}

// Path returns the filesystem path backing this lock, for logging.
func (l *Lock) Path() string {
	return l.fl.Path()
}
