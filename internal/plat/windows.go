//go:build windows

package plat

import (
	"context"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/orizon-lang/shmqueue/internal/status"
)

// unsafeSlice views a mapped region's raw memory as a byte slice. The
// mapping outlives the slice's use for as long as the owning Region is
// open, which every caller (internal/channel) guarantees.
func unsafeSlice(addr uintptr, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

// waitChunk bounds how promptly a Windows wait notices ctx
// cancellation — WaitForSingleObject's timeout is native, but it can't
// itself observe a Go context, so every wait is chopped into chunks
// the way the Unix builds chop a flock poll or a futex wait.
const waitChunk = 50 * time.Millisecond

// winLock wraps a named Windows mutex — spec.md's "counting lock, max
// count 1" maps onto this almost exactly, unlike the Unix builds which
// have to approximate it with an advisory file lock.
type winLock struct {
	h windows.Handle
}

// OpenLock creates the named mutex if absent, or opens the existing
// one. The returned Lock is not acquired.
func OpenLock(name string) (Lock, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}

	h, err := windows.CreateMutex(nil, false, namePtr)
	if err != nil {
		return nil, err
	}

	return &winLock{h: h}, nil
}

func (l *winLock) TryAcquire() (bool, status.Status, error) {
	ev, err := windows.WaitForSingleObject(l.h, 0)
	switch {
	case err != nil:
		return false, status.Completed, err
	case ev == windows.WAIT_OBJECT_0:
		return true, status.Completed, nil
	case ev == uint32(windows.WAIT_TIMEOUT):
		return false, status.ObjectAlreadyInUse, nil
	default:
		return false, status.Completed, windows.GetLastError()
	}
}

func (l *winLock) Acquire(ctx context.Context) (status.Status, error) {
	attempt := func() (bool, status.Status, error) {
		ev, err := windows.WaitForSingleObject(l.h, uint32(waitChunk/time.Millisecond))
		if err != nil {
			return false, status.Completed, err
		}

		if ev == windows.WAIT_OBJECT_0 {
			return true, status.Completed, nil
		}

		return false, status.Completed, nil
	}

	return waitPoll(ctx, 0, attempt)
}

func (l *winLock) Release() error {
	return windows.ReleaseMutex(l.h)
}

func (l *winLock) Close() error {
	return windows.CloseHandle(l.h)
}

// winSignal wraps a named Windows manual-reset event.
type winSignal struct {
	h windows.Handle
}

// OpenSignal creates the named event if absent (initialized to
// initiallySet), or opens the existing one.
func OpenSignal(name string, initiallySet bool) (Signal, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}

	h, err := windows.CreateEvent(nil, 1 /* manual reset */, boolToUint32(initiallySet), namePtr)
	if err != nil {
		return nil, err
	}

	return &winSignal{h: h}, nil
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}

	return 0
}

func (s *winSignal) Set() error   { return windows.SetEvent(s.h) }
func (s *winSignal) Clear() error { return windows.ResetEvent(s.h) }

func (s *winSignal) IsSet() (bool, error) {
	ev, err := windows.WaitForSingleObject(s.h, 0)
	if err != nil {
		return false, err
	}

	return ev == windows.WAIT_OBJECT_0, nil
}

func (s *winSignal) Wait(ctx context.Context) (status.Status, error) {
	attempt := func() (bool, status.Status, error) {
		ev, err := windows.WaitForSingleObject(s.h, uint32(waitChunk/time.Millisecond))
		if err != nil {
			return false, status.Completed, err
		}

		return ev == windows.WAIT_OBJECT_0, status.Completed, nil
	}

	return waitPoll(ctx, 0, attempt)
}

func (s *winSignal) Close() error {
	return windows.CloseHandle(s.h)
}

// winRegion wraps a named file mapping.
type winRegion struct {
	fileMapping windows.Handle
	addr        uintptr
	size        int
}

// CreateRegion creates a named file mapping backed by the system
// paging file sized to capacity.
func CreateRegion(name string, capacity int64) (Region, error) {
	if capacity < 0 || int64(int(capacity)) != capacity {
		return nil, status.CapacityIsGreaterThanLogicalAddressSpace
	}

	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}

	hi := uint32(capacity >> 32)
	lo := uint32(capacity & 0xffffffff)

	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE, hi, lo, namePtr)
	if err != nil {
		return nil, err
	}

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(capacity))
	if err != nil {
		windows.CloseHandle(h)
		return nil, err
	}

	return &winRegion{fileMapping: h, addr: addr, size: int(capacity)}, nil
}

// OpenRegion opens an existing named file mapping. size must be
// supplied by the caller (recovered from the registry metadata file,
// since a file mapping alone does not report its own size).
func OpenRegion(name string, size int64) (Region, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}

	h, err := windows.OpenFileMapping(windows.FILE_MAP_WRITE, false, namePtr)
	if err != nil {
		return nil, err
	}

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(h)
		return nil, err
	}

	return &winRegion{fileMapping: h, addr: addr, size: int(size)}, nil
}

func (r *winRegion) Bytes() []byte {
	return unsafeSlice(r.addr, r.size)
}

func (r *winRegion) Close() error {
	_ = windows.UnmapViewOfFile(r.addr)
	return windows.CloseHandle(r.fileMapping)
}
