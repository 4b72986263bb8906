//go:build darwin || freebsd

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

// pollInterval bounds how promptly a waiter on a BSD/Darwin host
// notices another process's Set — these platforms have no futex
// equivalent reachable without cgo, so the signal falls back to a
// short sleep loop over a mmapped flag, same shape as the Linux futex
// wait's chunking but without the kernel wake.
const pollInterval = 5 * time.Millisecond

type pollSignal struct {
	f   *os.File
	mem []byte
}

// OpenSignal creates the backing file if it doesn't exist (initialized
// to initiallySet) or opens it unchanged if it does.
func OpenSignal(path string, initiallySet bool) (Signal, error) {
	_, statErr := os.Stat(path)
	existed := statErr == nil

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}

	pageSize := unix.Getpagesize()

	if !existed {
		if err := f.Truncate(int64(pageSize)); err != nil {
			f.Close()
			return nil, err
		}
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
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

	return &pollSignal{f: f, mem: mem}, nil
}

func (s *pollSignal) word() *int32 {
	return (*int32)(unsafe.Pointer(&s.mem[0]))
}

func (s *pollSignal) Set() error {
	atomic.StoreInt32(s.word(), 1)
	return nil
}

func (s *pollSignal) Clear() error {
	atomic.StoreInt32(s.word(), 0)
	return nil
}

func (s *pollSignal) IsSet() (bool, error) {
	return atomic.LoadInt32(s.word()) == 1, nil
}

func (s *pollSignal) Wait(ctx context.Context) (status.Status, error) {
	w := s.word()

	attempt := func() (bool, status.Status, error) {
		return atomic.LoadInt32(w) == 1, status.Completed, nil
	}

	return waitPoll(ctx, pollInterval, attempt)
}

func (s *pollSignal) Close() error {
	_ = unix.Munmap(s.mem)
	return s.f.Close()
}
