//go:build linux || darwin || freebsd

package plat

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/orizon-lang/shmqueue/internal/status"
)

// mmapRegion is the mapped region backing a channel, a plain file
// under the registry directory sized to capacity and mapped
// MAP_SHARED so every process sees the same bytes — the POSIX
// equivalent of a Windows file mapping, grounded on the teacher's own
// per-platform zero-copy file code
// (internal/runtime/asyncio/zerocopy_unix_file.go).
type mmapRegion struct {
	f   *os.File
	mem []byte
}

// CreateRegion creates (or truncates) the backing file to capacity and
// maps it. Returns status.CapacityIsGreaterThanLogicalAddressSpace if
// capacity cannot be represented as a file size on this platform.
func CreateRegion(path string, capacity int64) (Region, error) {
	if capacity < 0 || int64(int(capacity)) != capacity {
		return nil, status.CapacityIsGreaterThanLogicalAddressSpace
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}

	if err := f.Truncate(capacity); err != nil {
		f.Close()
		return nil, err
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, int(capacity), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &mmapRegion{f: f, mem: mem}, nil
}

// OpenRegion maps an existing backing file at its current size. size
// is accepted for signature parity with the Windows build (a named
// file mapping cannot report its own size back) and is ignored here:
// a POSIX backing file's size is authoritative via stat(2).
func OpenRegion(path string, size int64) (Region, error) {
	_ = size

	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &mmapRegion{f: f, mem: mem}, nil
}

func (r *mmapRegion) Bytes() []byte { return r.mem }

func (r *mmapRegion) Close() error {
	_ = unix.Munmap(r.mem)
	return r.f.Close()
}
