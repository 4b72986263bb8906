//go:build linux

package plat

import (
	"context"
	"encoding/binary"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/orizon-lang/shmqueue/internal/status"
)

const signalChunk = 50 * time.Millisecond

// futexSignal is a manual-reset signal backed by one word of a mmapped
// file, woken with FUTEX_WAKE and waited on with FUTEX_WAIT. Unlike
// the per-channel region, a signal's backing file is tiny (one page)
// and lives alongside it in the channel's registry directory.
type futexSignal struct {
	f   *os.File
	mem []byte
}

// OpenSignal creates the backing file if it doesn't exist (initialized
// to initiallySet) or opens it unchanged if it does — the first party
// to reach a channel's signals creates them, the second just attaches.
func OpenSignal(path string, initiallySet bool) (Signal, error) {
	_, statErr := os.Stat(path)
	existed := statErr == nil

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}

	if !existed {
		if err := f.Truncate(int64(unix.Getpagesize())); err != nil {
			f.Close()
			return nil, err
		}
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, unix.Getpagesize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	if !existed {
		val := uint32(0)
		if initiallySet {
			val = 1
		}

		binary.LittleEndian.PutUint32(mem[:4], val)
	}

	return &futexSignal{f: f, mem: mem}, nil
}

func (s *futexSignal) word() *int32 {
	return (*int32)(unsafe.Pointer(&s.mem[0]))
}

func (s *futexSignal) Set() error {
	w := s.word()
	if atomic.SwapInt32(w, 1) == 1 {
		return nil
	}

	return futexWake(w, 1<<30)
}

func (s *futexSignal) Clear() error {
	atomic.StoreInt32(s.word(), 0)
	return nil
}

func (s *futexSignal) IsSet() (bool, error) {
	return atomic.LoadInt32(s.word()) == 1, nil
}

func (s *futexSignal) Wait(ctx context.Context) (status.Status, error) {
	w := s.word()

	attempt := func() (bool, status.Status, error) {
		if atomic.LoadInt32(w) == 1 {
			return true, status.Completed, nil
		}

		ts := unix.NsecToTimespec(signalChunk.Nanoseconds())

		err := futexWait(w, 0, &ts)
		if err != nil && err != unix.EAGAIN && err != unix.ETIMEDOUT && err != unix.EINTR {
			return false, status.Completed, err
		}

		if atomic.LoadInt32(w) == 1 {
			return true, status.Completed, nil
		}

		return false, status.Completed, nil
	}

	return waitPoll(ctx, 0, attempt)
}

func (s *futexSignal) Close() error {
	_ = unix.Munmap(s.mem)
	return s.f.Close()
}
