// Package queue drives the allocator to implement the three public
// queue operations — write, read, state — against a mapped region.
// Every function here runs inside the caller's exclusive-access
// critical section (internal/plat); none of it does its own locking.
package queue

import (
	"github.com/orizon-lang/shmqueue/internal/alloc"
	"github.com/orizon-lang/shmqueue/internal/region"
	"github.com/orizon-lang/shmqueue/internal/status"
)

// Callback is invoked against a byte window inside the region and
// reports a status that drives commit (anything but Cancelled or
// DelegateFailed) or rollback (Cancelled or DelegateFailed).
type Callback func(window []byte) status.Status

// State is the external projection of the header exposed by a state
// query, and is returned alongside every operation's status.
type State struct {
	Capacity    int64
	ActiveNodes int64
	TotalSpace  int64
}

func snapshot(h region.Header) State {
	return State{
		Capacity:    h.Capacity,
		ActiveNodes: h.ActiveNodes,
		TotalSpace:  h.TotalSpace,
	}
}

// Query returns the current state. Callers are expected to hold the
// exclusive-access lock for the duration, same as Write/Read, even
// though a query does not mutate anything.
func Query(b region.Backing) State {
	return snapshot(region.ReadHeader(b))
}

// Write appends a length-byte message to the active list's tail.
//
// It reads the header itself (the caller need not), and always writes
// the header back before returning — whether the operation committed,
// rolled back, or failed before a callback ever ran.
func Write(b region.Backing, length int64, cb Callback) (status.Status, State) {
	h := region.ReadHeader(b)
	preTotalSpace := h.TotalSpace

	offset, st := alloc.Allocate(b, &h, length)
	if st == status.OutOfSpace {
		region.WriteHeader(b, h)
		return status.OutOfSpace, snapshot(h)
	}

	window, winStatus := openWindow(h, offset, length, b)
	if winStatus != status.Completed {
		freeIfReused(b, &h, offset, length, preTotalSpace)
		region.WriteHeader(b, h)

		return winStatus, snapshot(h)
	}

	cbStatus := cb(window)
	if status.IsRollback(cbStatus) {
		freeIfReused(b, &h, offset, length, preTotalSpace)
		region.WriteHeader(b, h)

		return cbStatus, snapshot(h)
	}

	commitWrite(b, &h, offset, length)
	region.WriteHeader(b, h)

	return cbStatus, snapshot(h)
}

// Read consumes the message at the active list's head.
func Read(b region.Backing, cb Callback) (status.Status, State) {
	h := region.ReadHeader(b)

	if h.HeadNode < 0 {
		return status.QueueIsEmpty, snapshot(h)
	}

	node := region.ReadNode(b, h.HeadNode)

	window, winStatus := openWindow(h, h.HeadNode, node.Length, b)
	if winStatus != status.Completed {
		region.WriteHeader(b, h)
		return winStatus, snapshot(h)
	}

	cbStatus := cb(window)
	if status.IsRollback(cbStatus) {
		// The message stays at the head; header is unchanged.
		region.WriteHeader(b, h)
		return cbStatus, snapshot(h)
	}

	commitRead(b, &h, h.HeadNode, node)
	region.WriteHeader(b, h)

	return cbStatus, snapshot(h)
}

// commitWrite links the new node at the active tail and advances the
// high-water mark if this allocation reached past it.
func commitWrite(b region.Backing, h *region.Header, offset, length int64) {
	region.WriteNode(b, offset, region.Node{Next: region.NoNode, Length: length})

	if h.TailNode >= 0 {
		tail := region.ReadNode(b, h.TailNode)
		tail.Next = offset
		region.WriteNode(b, h.TailNode, tail)
	}

	h.TailNode = offset
	if h.HeadNode < 0 {
		h.HeadNode = offset
	}

	h.ActiveNodes++

	grown := (offset + region.NodeSize + length) - h.TotalSpace
	if grown > 0 {
		h.TotalSpace += grown
	}
}

// commitRead advances the active list past its head and frees the
// consumed extent. Per spec.md §9, draining the queue to empty through
// the head pointer must also reset tail_node to -1, or invariant #1
// breaks the moment the next write tries to read a stale tail.
func commitRead(b region.Backing, h *region.Header, offset int64, node region.Node) {
	h.HeadNode = node.Next
	h.ActiveNodes--

	if h.HeadNode < 0 {
		h.TailNode = region.NoNode
	}

	alloc.Free(b, h, offset, region.NodeSize+node.Length)
}

// freeIfReused undoes an Allocate that is being rolled back. An
// allocation drawn from the high-water mark never advanced
// total_space (that happens only in commitWrite), so there is nothing
// to free — the space simply stays virgin. An allocation reused from
// the free list must be handed back via alloc.Free or it is lost.
func freeIfReused(b region.Backing, h *region.Header, offset, length, preTotalSpace int64) {
	if offset >= preTotalSpace {
		return
	}

	alloc.Free(b, h, offset, region.NodeSize+length)
}

// openWindow maps spec.md §4.3's two address-space error codes onto a
// concrete check: a negative or header-overflowing length can't be
// represented as a region offset at all (logical address space); a
// length that's representable but runs past the backing buffer's
// actual bytes can't be sliced into a window (virtual address space).
// On a 64-bit host with a correctly sized backing buffer the first
// case is effectively unreachable — it exists for platforms/backings
// where it is not.
func openWindow(h region.Header, offset, length int64, b region.Backing) ([]byte, status.Status) {
	if length < 0 {
		return nil, status.RequestedLengthIsGreaterThanLogicalAddressSpace
	}

	end := offset + region.NodeSize + length
	if end < 0 || end > h.Capacity {
		return nil, status.RequestedLengthIsGreaterThanLogicalAddressSpace
	}

	if end > int64(len(b.Bytes())) {
		return nil, status.RequestedLengthIsGreaterThanVirtualAddressSpace
	}

	return region.Payload(b, offset, length), status.Completed
}
