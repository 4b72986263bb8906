package queue

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/orizon-lang/shmqueue/internal/region"
	"github.com/orizon-lang/shmqueue/internal/status"
)

func writeBytes(t *testing.T, b region.Backing, payload []byte) (status.Status, State) {
	t.Helper()

	return Write(b, int64(len(payload)), func(window []byte) status.Status {
		copy(window, payload)
		return status.Completed
	})
}

func readInto(t *testing.T, b region.Backing) (status.Status, State, []byte) {
	t.Helper()

	var got []byte

	st, state := Read(b, func(window []byte) status.Status {
		got = append(got, window...)
		return status.Completed
	})

	return st, state, got
}

func TestRead_EmptyQueue(t *testing.T) {
	b := region.NewMem(4096)

	st, state, _ := readInto(t, b)
	if st != status.QueueIsEmpty {
		t.Fatalf("status = %v, want QueueIsEmpty", st)
	}

	if state.ActiveNodes != 0 {
		t.Fatalf("active_nodes = %d, want 0", state.ActiveNodes)
	}
}

func TestWriteRead_RoundTripPreservesBytes(t *testing.T) {
	b := region.NewMem(4096)
	payload := []byte("hello, shared memory")

	st, _ := writeBytes(t, b, payload)
	if st != status.Completed {
		t.Fatalf("write status = %v", st)
	}

	st, _, got := readInto(t, b)
	if st != status.Completed {
		t.Fatalf("read status = %v", st)
	}

	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestWriteRead_FIFOOrder(t *testing.T) {
	b := region.NewMem(4096)
	payloads := [][]byte{[]byte("one"), []byte("two"), []byte("three")}

	for _, p := range payloads {
		if st, _ := writeBytes(t, b, p); st != status.Completed {
			t.Fatalf("write status = %v", st)
		}
	}

	for _, want := range payloads {
		st, _, got := readInto(t, b)
		if st != status.Completed {
			t.Fatalf("read status = %v", st)
		}

		if !bytes.Equal(got, want) {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestWrite_ZeroLengthMessageIsReadable(t *testing.T) {
	b := region.NewMem(4096)

	if st, _ := writeBytes(t, b, nil); st != status.Completed {
		t.Fatalf("write status = %v", st)
	}

	st, _, got := readInto(t, b)
	if st != status.Completed {
		t.Fatalf("read status = %v", st)
	}

	if len(got) != 0 {
		t.Fatalf("got %d bytes, want 0", len(got))
	}
}

func TestWrite_OutOfSpaceLeavesHeaderUntouched(t *testing.T) {
	b := region.NewMem(80) // capacity = header + one small node, no more

	before := region.ReadHeader(b)

	st, _ := Write(b, 1000, func([]byte) status.Status { return status.Completed })
	if st != status.OutOfSpace {
		t.Fatalf("status = %v, want OutOfSpace", st)
	}

	after := region.ReadHeader(b)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("header mutated on OutOfSpace (-want +got):\n%s", diff)
	}
}

func TestWrite_CancelledRollsBackAndPreservesActiveCount(t *testing.T) {
	b := region.NewMem(4096)

	if st, _ := writeBytes(t, b, []byte("keep me")); st != status.Completed {
		t.Fatalf("setup write status = %v", st)
	}

	before := region.ReadHeader(b)

	st, state := Write(b, 5, func([]byte) status.Status { return status.Cancelled })
	if st != status.Cancelled {
		t.Fatalf("status = %v, want Cancelled", st)
	}

	if state.ActiveNodes != before.ActiveNodes {
		t.Fatalf("active_nodes = %d, want unchanged at %d", state.ActiveNodes, before.ActiveNodes)
	}

	// The surviving message must still be readable afterward.
	rst, _, got := readInto(t, b)
	if rst != status.Completed || string(got) != "keep me" {
		t.Fatalf("read after cancelled write: status=%v got=%q", rst, got)
	}
}

func TestWrite_CancelledFromHighWaterMarkDoesNotGrowTotalSpace(t *testing.T) {
	b := region.NewMem(4096)
	before := region.ReadHeader(b)

	st, state := Write(b, 64, func([]byte) status.Status { return status.Cancelled })
	if st != status.Cancelled {
		t.Fatalf("status = %v, want Cancelled", st)
	}

	if state.TotalSpace != before.TotalSpace {
		t.Fatalf("total_space = %d, want unchanged at %d", state.TotalSpace, before.TotalSpace)
	}

	if state.ActiveNodes != 0 {
		t.Fatalf("active_nodes = %d, want 0", state.ActiveNodes)
	}
}

func TestRead_DelegateFailedLeavesMessageAtHead(t *testing.T) {
	b := region.NewMem(4096)

	if st, _ := writeBytes(t, b, []byte("still here")); st != status.Completed {
		t.Fatalf("setup write status = %v", st)
	}

	before := region.ReadHeader(b)

	st, _ := Read(b, func([]byte) status.Status { return status.DelegateFailed })
	if st != status.DelegateFailed {
		t.Fatalf("status = %v, want DelegateFailed", st)
	}

	after := region.ReadHeader(b)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("header mutated on DelegateFailed read (-want +got):\n%s", diff)
	}

	rst, _, got := readInto(t, b)
	if rst != status.Completed || string(got) != "still here" {
		t.Fatalf("read after failed read: status=%v got=%q", rst, got)
	}
}

func TestRead_DrainingToEmptyResetsTailNode(t *testing.T) {
	b := region.NewMem(4096)

	if st, _ := writeBytes(t, b, []byte("only message")); st != status.Completed {
		t.Fatalf("setup write status = %v", st)
	}

	if st, _, _ := readInto(t, b); st != status.Completed {
		t.Fatalf("read status = %v", st)
	}

	h := region.ReadHeader(b)
	if h.HeadNode != region.NoNode || h.TailNode != region.NoNode {
		t.Fatalf("head=%d tail=%d, want both %d", h.HeadNode, h.TailNode, region.NoNode)
	}

	if h.ActiveNodes != 0 {
		t.Fatalf("active_nodes = %d, want 0", h.ActiveNodes)
	}
}

// Exact-match reuse end-to-end scenario from spec.md §8.
func TestScenario_ExactMatchReuse(t *testing.T) {
	b := region.NewMem(4096)

	writeBytes(t, b, []byte("aaaaa"))
	writeBytes(t, b, []byte("bbbbb"))

	snapshotTotal := region.ReadHeader(b).TotalSpace

	if st, _, got := readInto(t, b); st != status.Completed || string(got) != "aaaaa" {
		t.Fatalf("first read: status=%v got=%q", st, got)
	}

	st, state := writeBytes(t, b, []byte("ccccc"))
	if st != status.Completed {
		t.Fatalf("third write status = %v", st)
	}

	if state.TotalSpace != snapshotTotal {
		t.Fatalf("total_space = %d, want unchanged at %d", state.TotalSpace, snapshotTotal)
	}

	if state.ActiveNodes != 2 {
		t.Fatalf("active_nodes = %d, want 2", state.ActiveNodes)
	}

	if st, _, got := readInto(t, b); st != status.Completed || string(got) != "bbbbb" {
		t.Fatalf("second read: status=%v got=%q", st, got)
	}

	if st, _, got := readInto(t, b); st != status.Completed || string(got) != "ccccc" {
		t.Fatalf("third read: status=%v got=%q", st, got)
	}
}

// Grow-past-high-water-mark end-to-end scenario from spec.md §8.
func TestScenario_GrowPastHighWater(t *testing.T) {
	b := region.NewMem(4096)

	writeBytes(t, b, []byte("aaaaa"))
	writeBytes(t, b, []byte("bbbbb"))

	if st, _, _ := readInto(t, b); st != status.Completed {
		t.Fatalf("read status = %v", st)
	}

	before := region.ReadHeader(b).TotalSpace

	st, state := writeBytes(t, b, []byte("cccccc")) // 6 bytes, one more than freed
	if st != status.Completed {
		t.Fatalf("write status = %v", st)
	}

	if state.TotalSpace != before+1 {
		t.Fatalf("total_space = %d, want %d", state.TotalSpace, before+1)
	}

	if state.ActiveNodes != 2 {
		t.Fatalf("active_nodes = %d, want 2", state.ActiveNodes)
	}
}
