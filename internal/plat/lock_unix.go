//go:build linux || darwin || freebsd

package plat

import (
	"context"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/orizon-lang/shmqueue/internal/status"
)

// lockPollInterval bounds how promptly Acquire notices the lock has
// become free. flock(2) has no native timeout or cancellation, so
// Acquire retries LOCK_EX|LOCK_NB on this cadence instead of blocking
// the calling goroutine's OS thread indefinitely.
const lockPollInterval = 2 * time.Millisecond

// flockLock is a counting lock with max count 1, backed by an advisory
// BSD file lock. Closing the file descriptor (on process exit, crash
// included) releases it — which is exactly the "crash leaves the
// registration lock released by the OS, other state does not" model
// spec.md §7 describes for the exclusive-access lock, and spec.md §9
// flags as a limitation for the registration locks.
type flockLock struct {
	f *os.File
}

// OpenLock opens (creating if necessary) the lock file at path. The
// returned Lock is not acquired.
func OpenLock(path string) (Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}

	return &flockLock{f: f}, nil
}

func (l *flockLock) TryAcquire() (bool, status.Status, error) {
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return true, status.Completed, nil
	}

	if err == unix.EWOULDBLOCK {
		return false, status.ObjectAlreadyInUse, nil
	}

	return false, status.Completed, err
}

func (l *flockLock) Acquire(ctx context.Context) (status.Status, error) {
	attempt := func() (bool, status.Status, error) {
		ok, st, err := l.TryAcquire()
		if err != nil {
			return false, status.Completed, err
		}

		if ok {
			return true, status.Completed, nil
		}

		_ = st

		return false, status.Completed, nil
	}

	return waitPoll(ctx, lockPollInterval, attempt)
}

func (l *flockLock) Release() error {
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}

func (l *flockLock) Close() error {
	return l.f.Close()
}
