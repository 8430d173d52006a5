// Package tab is the kernel's handle registry.
//
// Every kernel object lives in a slot of a Table and is addressed by a
// unique identifier. A Tab is a counted reference to a slot; the slot is
// destroyed when its last Tab is released. Identifiers are never re-used.
package tab

import (
	"fmt"
	"sync/atomic"

	"oro/oroos/ksync"
)

// Dropper is implemented by values that own resources which must be
// reclaimed when their slot is destroyed.
type Dropper interface {
	Drop()
}

type slot struct {
	id    uint64
	table *Table
	refs  atomic.Int64
	lock  ksync.RWSpinLock
	value any
}

// Tab is a counted, lock-guarded reference to a registered value.
//
// Each Tab value must be released exactly once. Clone yields a new
// reference that must itself be released.
type Tab[T any] struct {
	s        *slot
	released atomic.Bool
}

func newTab[T any](s *slot) *Tab[T] {
	return &Tab[T]{s: s}
}

// ID returns the slot's identifier.
func (t *Tab[T]) ID() uint64 { return t.s.id }

// Clone returns a new reference to the same slot.
func (t *Tab[T]) Clone() *Tab[T] {
	if t.released.Load() {
		panic(fmt.Sprintf("tab: clone of released handle %#x", t.s.id))
	}
	t.s.refs.Add(1)
	return newTab[T](t.s)
}

// Release drops this reference. The last release removes the slot from its
// table and drops the value.
func (t *Tab[T]) Release() {
	if !t.released.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("tab: double release of handle %#x", t.s.id))
	}
	switch n := t.s.refs.Add(-1); {
	case n > 0:
		return
	case n < 0:
		panic(fmt.Sprintf("tab: reference count of %#x went negative", t.s.id))
	}
	t.s.table.remove(t.s.id)
	if d, ok := t.s.value.(Dropper); ok {
		d.Drop()
	}
}

// Refs returns the current reference count.
func (t *Tab[T]) Refs() int64 { return t.s.refs.Load() }

// Same reports whether both handles refer to the same slot.
func (t *Tab[T]) Same(o *Tab[T]) bool { return o != nil && t.s == o.s }

// With runs fn with shared access to the value.
func (t *Tab[T]) With(fn func(v *T)) {
	t.s.lock.RLock()
	defer t.s.lock.RUnlock()
	fn(t.s.value.(*T))
}

// WithMut runs fn with exclusive access to the value.
func (t *Tab[T]) WithMut(fn func(v *T)) {
	t.s.lock.Lock()
	defer t.s.lock.Unlock()
	fn(t.s.value.(*T))
}
