package alloc

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/orizon-lang/shmqueue/internal/region"
	"github.com/orizon-lang/shmqueue/internal/status"
)

// freeListOffsets walks the free list and returns the offsets in
// traversal order, for asserting ascending order (invariant #2).
func freeListOffsets(t *testing.T, b region.Backing, h region.Header) []int64 {
	t.Helper()

	var out []int64

	cur := h.FreeListNode
	for cur != region.NoNode {
		out = append(out, cur)
		cur = region.ReadNode(b, cur).Next
	}

	return out
}

func TestAllocate_FromHighWaterMarkDefersTotalSpaceGrowth(t *testing.T) {
	b := region.NewMem(4096)
	h := region.ReadHeader(b)

	offset, st := Allocate(b, &h, 10)
	if st != status.Completed {
		t.Fatalf("status = %v, want Completed", st)
	}

	if offset != region.HeaderSize {
		t.Fatalf("offset = %d, want %d", offset, region.HeaderSize)
	}

	// Allocate must not itself commit total_space growth.
	if h.TotalSpace != region.HeaderSize {
		t.Fatalf("total_space = %d, want unchanged at %d", h.TotalSpace, region.HeaderSize)
	}
}

func TestAllocate_OutOfSpaceLeavesHeaderUntouched(t *testing.T) {
	b := region.NewMem(64) // capacity barely above the header
	before := region.ReadHeader(b)
	h := before

	_, st := Allocate(b, &h, 100)
	if st != status.OutOfSpace {
		t.Fatalf("status = %v, want OutOfSpace", st)
	}

	if diff := cmp.Diff(before, h); diff != "" {
		t.Fatalf("header mutated on OutOfSpace (-want +got):\n%s", diff)
	}
}

func TestFree_ExactMatchReuse(t *testing.T) {
	b := region.NewMem(4096)
	h := region.ReadHeader(b)

	// Simulate two 5-byte writes landing at the high-water mark.
	off1, _ := Allocate(b, &h, 5)
	commit(b, &h, off1, 5)

	off2, _ := Allocate(b, &h, 5)
	commit(b, &h, off2, 5)

	snapshotTotal := h.TotalSpace

	// Free the first message's extent (16 + 5 bytes).
	Free(b, &h, off1, region.NodeSize+5)

	off3, st := Allocate(b, &h, 5)
	if st != status.Completed {
		t.Fatalf("status = %v, want Completed", st)
	}

	if off3 != off1 {
		t.Fatalf("offset = %d, want exact-match reuse of %d", off3, off1)
	}

	commit(b, &h, off3, 5)

	if h.TotalSpace != snapshotTotal {
		t.Fatalf("total_space = %d, want unchanged at %d", h.TotalSpace, snapshotTotal)
	}

	if h.FreeListNode != region.NoNode {
		t.Fatalf("free list should be empty after exact-match reuse, got head=%d", h.FreeListNode)
	}
}

func TestFree_SplitReuseLeavesZeroLengthRemainder(t *testing.T) {
	b := region.NewMem(4096)
	h := region.ReadHeader(b)

	off1, _ := Allocate(b, &h, 16)
	commit(b, &h, off1, 16)
	off2, _ := Allocate(b, &h, 16)
	commit(b, &h, off2, 16)

	snapshotTotal := h.TotalSpace

	Free(b, &h, off1, region.NodeSize+16)

	// Zero-byte write should split the 16-byte free node, leaving a
	// zero-length remainder per spec.md's "Split reuse" scenario.
	off3, st := Allocate(b, &h, 0)
	if st != status.Completed {
		t.Fatalf("status = %v, want Completed", st)
	}

	if off3 != off1 {
		t.Fatalf("offset = %d, want split reuse at %d", off3, off1)
	}

	commit(b, &h, off3, 0)

	if h.TotalSpace != snapshotTotal {
		t.Fatalf("total_space = %d, want unchanged at %d", h.TotalSpace, snapshotTotal)
	}

	remainderOffset := off3 + region.NodeSize
	if h.FreeListNode != remainderOffset {
		t.Fatalf("free list head = %d, want split remainder at %d", h.FreeListNode, remainderOffset)
	}

	remainder := region.ReadNode(b, remainderOffset)
	if remainder.Length != 0 {
		t.Fatalf("remainder length = %d, want 0", remainder.Length)
	}
}

func TestFree_CoalescesBothNeighbors(t *testing.T) {
	b := region.NewMem(4096)
	h := region.ReadHeader(b)

	// Three adjacent 8-byte nodes.
	offA, _ := Allocate(b, &h, 8)
	commit(b, &h, offA, 8)
	offB, _ := Allocate(b, &h, 8)
	commit(b, &h, offB, 8)
	offC, _ := Allocate(b, &h, 8)
	commit(b, &h, offC, 8)

	Free(b, &h, offA, region.NodeSize+8)
	Free(b, &h, offC, region.NodeSize+8)

	if got := freeListOffsets(t, b, h); len(got) != 2 {
		t.Fatalf("free list offsets = %v, want 2 disjoint nodes before middle coalesce", got)
	}

	Free(b, &h, offB, region.NodeSize+8)

	offsets := freeListOffsets(t, b, h)
	if len(offsets) != 1 {
		t.Fatalf("free list offsets = %v, want a single coalesced node", offsets)
	}

	merged := region.ReadNode(b, offsets[0])
	wantLen := int64(3*(region.NodeSize+8) - region.NodeSize)

	if merged.Length != wantLen {
		t.Fatalf("merged length = %d, want %d", merged.Length, wantLen)
	}
}

func TestFreeList_StaysAscendingAndNonAdjacent(t *testing.T) {
	b := region.NewMem(4096)
	h := region.ReadHeader(b)

	var offsets []int64

	for i := 0; i < 6; i++ {
		off, st := Allocate(b, &h, 12)
		if st != status.Completed {
			t.Fatalf("allocate %d: status = %v", i, st)
		}

		commit(b, &h, off, 12)
		offsets = append(offsets, off)
	}

	// Free every other node so neighbors never touch.
	Free(b, &h, offsets[1], region.NodeSize+12)
	Free(b, &h, offsets[3], region.NodeSize+12)
	Free(b, &h, offsets[5], region.NodeSize+12)

	got := freeListOffsets(t, b, h)
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("free list not strictly ascending: %v", got)
		}

		if prevEnd := got[i-1] + region.NodeSize + region.ReadNode(b, got[i-1]).Length; prevEnd == got[i] {
			t.Fatalf("free list nodes at %d and %d are adjacent: %v", got[i-1], got[i], got)
		}
	}
}

// commit performs the bookkeeping internal/queue.Write does after a
// successful Allocate: writing the node descriptor and advancing
// total_space if the allocation grew past the high-water mark. It
// exists here only so allocator tests can exercise realistic
// sequences of allocate/free without importing internal/queue.
func commit(b region.Backing, h *region.Header, offset, length int64) {
	region.WriteNode(b, offset, region.Node{Next: region.NoNode, Length: length})

	grown := (offset + region.NodeSize + length) - h.TotalSpace
	if grown > 0 {
		h.TotalSpace += grown
	}
}
