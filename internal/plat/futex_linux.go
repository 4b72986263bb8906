//go:build linux

package plat

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// futexWait blocks while *addr == expect, or until timeout elapses
// (nil means forever). It is a thin wrapper over the raw FUTEX_WAIT
// syscall — golang.org/x/sys/unix does not expose a higher-level
// helper, the way it does not wrap every Linux-specific syscall the
// teacher's zerocopy files reach for directly (see
// internal/runtime/asyncio/zerocopy_unix_file.go's unix.Sendfile call).
func futexWait(addr *int32, expect int32, timeout *unix.Timespec) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(linuxFutexWait),
		uintptr(expect),
		uintptr(unsafe.Pointer(timeout)),
		0, 0,
	)
	if errno != 0 {
		return errno
	}

	return nil
}

// futexWake wakes up to n waiters blocked on addr.
func futexWake(addr *int32, n int32) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(linuxFutexWake),
		uintptr(n),
		0, 0, 0,
	)
	if errno != 0 {
		return errno
	}

	return nil
}

const (
	linuxFutexWait = 0
	linuxFutexWake = 1
)
