package tab

import "sync/atomic"

// FirstID is the first identifier handed out. Everything below it, including
// zero, is never issued.
const FirstID uint64 = 0x0000_0001_0000_0000

// IDAllocator issues system-wide unique identifiers. Identifiers are shared
// across every object kind, monotonically increasing, and never re-used.
type IDAllocator struct {
	next atomic.Uint64
}

// NewIDAllocator returns an allocator starting at FirstID.
func NewIDAllocator() *IDAllocator {
	a := &IDAllocator{}
	a.next.Store(FirstID)
	return a
}

// Next returns a fresh identifier. It is lock-free.
func (a *IDAllocator) Next() uint64 {
	return a.next.Add(1) - 1
}
