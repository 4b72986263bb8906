package region

// Mem is an in-memory Backing used by tests and by callers that want
// to exercise the engine without a real mapped file (spec.md §8's
// "in-memory region stub").
type Mem struct {
	buf []byte
}

// NewMem allocates a Mem of the given capacity and formats a fresh
// header into it.
func NewMem(capacity int64) *Mem {
	m := &Mem{buf: make([]byte, capacity)}
	Format(m, capacity)

	return m
}

// Bytes implements Backing.
func (m *Mem) Bytes() []byte { return m.buf }
