// Package alloc implements the first-fit-with-coalescing allocator that
// lives entirely inside a mapped region: a free list threaded through
// the region's own bytes, plus the region header's high-water mark.
//
// Every function here assumes the caller already holds the
// exclusive-access lock (internal/plat) around the region; nothing in
// this package does its own locking. The only runtime failure is
// status.OutOfSpace — a well-formed header never causes a panic.
package alloc

import (
	"github.com/orizon-lang/shmqueue/internal/region"
	"github.com/orizon-lang/shmqueue/internal/status"
)

// Allocate finds space for a node with the given payload length and
// returns its offset. It mutates the free list in b/h as needed but
// defers the total_space high-water-mark increment to the caller's
// commit step (spec.md §4.3 step 5), since an allocation drawn from
// the high-water mark is not final until the caller's operation
// actually commits.
//
// On status.OutOfSpace, b and h are left exactly as they were.
func Allocate(b region.Backing, h *region.Header, length int64) (int64, status.Status) {
	offset, found, outOfSpace := scanFreeList(b, h, length)
	if outOfSpace {
		return 0, status.OutOfSpace
	}

	if found {
		return offset, status.Completed
	}

	if h.TotalSpace+region.NodeSize+length <= h.Capacity {
		return h.TotalSpace, status.Completed
	}

	return 0, status.OutOfSpace
}

// scanFreeList walks the free list from h.FreeListNode looking for the
// first candidate that is rightmost (sits at the high-water mark),
// exact (length matches exactly), or large (enough room to split off a
// free remainder with its own descriptor). It relinks the free list in
// place when a candidate is chosen.
//
// The walk advances prevOffset to the node it is currently visiting
// before stepping to that node's Next, so prevOffset always names the
// true predecessor of whatever node is examined next — spec.md §9
// flags the opposite order (advancing prevOffset only after it has
// already stepped past the candidate) as a correctness bug; this walk
// does not reproduce it.
func scanFreeList(b region.Backing, h *region.Header, length int64) (offset int64, found bool, outOfSpace bool) {
	prevOffset := region.NoNode
	cur := h.FreeListNode

	for cur != region.NoNode {
		node := region.ReadNode(b, cur)
		extentEnd := cur + region.NodeSize + node.Length

		rightmost := extentEnd >= h.TotalSpace
		exact := node.Length == length
		large := node.Length+region.NodeSize >= length+2*region.NodeSize

		if rightmost || exact || large {
			if rightmost && cur+region.NodeSize+length > h.Capacity {
				return 0, false, true
			}

			var successor int64
			if large {
				splitOffset := cur + region.NodeSize + length
				splitLength := node.Length - length - region.NodeSize
				region.WriteNode(b, splitOffset, region.Node{Next: node.Next, Length: splitLength})
				successor = splitOffset
			} else {
				successor = node.Next
			}

			relinkFreeList(b, h, prevOffset, successor)

			return cur, true, false
		}

		prevOffset = cur
		cur = node.Next
	}

	return 0, false, false
}

// Free returns the extent [offset, offset+length) to the free list,
// coalescing with an adjacent predecessor and/or successor free node.
// length is the node's total extent size (region.NodeSize plus its
// payload length), matching what a caller reclaims when it frees a
// whole node — see the callers in internal/queue.
//
// The insertion-point walk advances prevOffset to the node currently
// being visited before stepping forward, for the same reason scanFreeList
// does: spec.md §9 flags the reverse order as a bug that leaves
// prevOffset pointing past the true predecessor.
func Free(b region.Backing, h *region.Header, offset, length int64) {
	prevOffset := region.NoNode
	cur := h.FreeListNode

	for cur != region.NoNode && cur < offset {
		prevOffset = cur
		node := region.ReadNode(b, cur)
		cur = node.Next
	}

	succOffset := cur

	joinPrev := false

	var prevNode region.Node
	if prevOffset != region.NoNode {
		prevNode = region.ReadNode(b, prevOffset)
		joinPrev = prevOffset+region.NodeSize+prevNode.Length == offset
	}

	joinNext := false

	var nextNode region.Node
	if succOffset != region.NoNode {
		nextNode = region.ReadNode(b, succOffset)
		joinNext = offset+length == succOffset
	}

	switch {
	case joinPrev && joinNext:
		prevNode.Length += length + region.NodeSize + nextNode.Length
		prevNode.Next = nextNode.Next
		region.WriteNode(b, prevOffset, prevNode)
	case joinPrev:
		prevNode.Length += length
		region.WriteNode(b, prevOffset, prevNode)
	case joinNext:
		region.WriteNode(b, offset, region.Node{Next: nextNode.Next, Length: length + nextNode.Length})
		relinkFreeList(b, h, prevOffset, offset)
	default:
		region.WriteNode(b, offset, region.Node{Next: succOffset, Length: length - region.NodeSize})
		relinkFreeList(b, h, prevOffset, offset)
	}
}

// relinkFreeList points prevOffset's successor (or the header, when
// there is no predecessor) at target.
func relinkFreeList(b region.Backing, h *region.Header, prevOffset, target int64) {
	if prevOffset == region.NoNode {
		h.FreeListNode = target
		return
	}

	p := region.ReadNode(b, prevOffset)
	p.Next = target
	region.WriteNode(b, prevOffset, p)
}
