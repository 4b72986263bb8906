package registry

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/orizon-lang/shmqueue/internal/plat"
)

// crashPollInterval bounds how promptly WatchPeerCrash notices the peer
// is gone when no filesystem event wakes it sooner.
const crashPollInterval = 50 * time.Millisecond

// WatchPeerCrash reports once the process holding lockPath's advisory
// flock is gone, crashed or cleanly exited. An advisory flock carries
// no record of who holds it and a crash never removes the lock file,
// so the only reliable signal is a fresh probe: periodically open a
// throwaway handle on lockPath and try to acquire it. The attempt only
// succeeds once the OS has released the peer's flock, which happens on
// process exit whether or not that exit was clean — at that point the
// probe immediately releases and closes its own handle so it never
// holds the lock itself, and reports the peer as gone.
//
// fsnotify watches lockPath's directory purely to wake the poll loop
// early on any write to that directory; the TryAcquire probe is what
// actually decides the peer is gone, not the fsnotify event itself.
func WatchPeerCrash(ctx context.Context, lockPath string) (<-chan struct{}, error) {
	out := make(chan struct{}, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(filepath.Dir(lockPath)); err != nil {
		w.Close()
		return nil, err
	}

	go func() {
		defer w.Close()
		defer close(out)

		ticker := time.NewTicker(crashPollInterval)
		defer ticker.Stop()

		for {
			if peerGone(lockPath) {
				select {
				case out <- struct{}{}:
				default:
				}

				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case _, ok := <-w.Events:
				if !ok {
					return
				}
			case <-w.Errors:
				return
			}
		}
	}()

	return out, nil
}

// peerGone probes lockPath with a throwaway lock handle. A successful
// acquisition means no process currently holds it, so it releases and
// closes the probe immediately and reports true.
func peerGone(lockPath string) bool {
	probe, err := plat.OpenLock(lockPath)
	if err != nil {
		return false
	}
	defer probe.Close()

	ok, _, err := probe.TryAcquire()
	if err != nil || !ok {
		return false
	}

	probe.Release()

	return true
}
