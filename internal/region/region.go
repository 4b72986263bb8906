// Package region defines the binary layout of the header and node
// descriptors stored inside a mapped region, and the routines to
// read/write them. All codec operations assume the caller already
// holds the exclusive-access lock; nothing here is safe for
// concurrent use without that external serialization.
package region

import "encoding/binary"

const (
	// HeaderSize is the fixed byte size of the region header.
	HeaderSize = 48

	// NodeSize is the fixed byte size of a node descriptor, not
	// including its payload.
	NodeSize = 16

	// NoNode is the sentinel offset meaning "no such node".
	NoNode int64 = -1
)

// Backing is the minimal surface region and alloc need from whatever
// holds the bytes: a real mmap'd file on one platform, a plain byte
// slice in tests on every platform.
type Backing interface {
	// Bytes returns the full backing buffer. Callers index into it
	// directly; the slice's length is the region's capacity.
	Bytes() []byte
}

// Header is the 48-byte metadata block at region offset 0.
type Header struct {
	Capacity      int64 // total bytes the region may use; set at creation, never changes
	TotalSpace    int64 // high-water mark: offset of the first never-allocated byte
	ActiveNodes   int64 // count of messages currently in the FIFO
	HeadNode      int64 // offset of the oldest active node, or NoNode
	TailNode      int64 // offset of the newest active node, or NoNode
	FreeListNode  int64 // offset of the first free-list node, or NoNode
}

// Node is the 16-byte descriptor preceding every node's payload.
type Node struct {
	Next   int64 // offset of the next node in its list, or NoNode
	Length int64 // payload bytes, not including the descriptor
}

// Extent returns the byte range this node occupies given its own
// offset, including its descriptor.
func (n Node) Extent(offset int64) (start, end int64) {
	return offset, offset + NodeSize + n.Length
}

// ReadHeader decodes the header at offset 0.
func ReadHeader(b Backing) Header {
	buf := b.Bytes()

	return Header{
		Capacity:     int64(binary.LittleEndian.Uint64(buf[0:8])),
		TotalSpace:   int64(binary.LittleEndian.Uint64(buf[8:16])),
		ActiveNodes:  int64(binary.LittleEndian.Uint64(buf[16:24])),
		HeadNode:     int64(binary.LittleEndian.Uint64(buf[24:32])),
		TailNode:     int64(binary.LittleEndian.Uint64(buf[32:40])),
		FreeListNode: int64(binary.LittleEndian.Uint64(buf[40:48])),
	}
}

// WriteHeader encodes h at offset 0.
func WriteHeader(b Backing, h Header) {
	buf := b.Bytes()

	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.Capacity))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.TotalSpace))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.ActiveNodes))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.HeadNode))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.TailNode))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(h.FreeListNode))
}

// ReadNode decodes the node descriptor at offset.
func ReadNode(b Backing, offset int64) Node {
	buf := b.Bytes()[offset : offset+NodeSize]

	return Node{
		Next:   int64(binary.LittleEndian.Uint64(buf[0:8])),
		Length: int64(binary.LittleEndian.Uint64(buf[8:16])),
	}
}

// WriteNode encodes n at offset.
func WriteNode(b Backing, offset int64, n Node) {
	buf := b.Bytes()[offset : offset+NodeSize]

	binary.LittleEndian.PutUint64(buf[0:8], uint64(n.Next))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(n.Length))
}

// Payload returns the byte window for a node's data given its offset
// and length, not including the descriptor.
func Payload(b Backing, offset, length int64) []byte {
	return b.Bytes()[offset+NodeSize : offset+NodeSize+length]
}

// Format writes a fresh header into b, sized to capacity. Used once by
// the creating side of a channel.
func Format(b Backing, capacity int64) Header {
	h := Header{
		Capacity:     capacity,
		TotalSpace:   HeaderSize,
		ActiveNodes:  0,
		HeadNode:     NoNode,
		TailNode:     NoNode,
		FreeListNode: NoNode,
	}
	WriteHeader(b, h)

	return h
}
