package tab

import (
	"errors"
	"sync/atomic"

	"oro/oroos/ksync"
)

// ErrOutOfMemory is returned when the table cannot hold another slot.
var ErrOutOfMemory = errors.New("tab: out of memory")

const shardCount = 64

type shard struct {
	lock  ksync.SpinLock
	slots map[uint64]*slot
}

// Table is the arena every kernel object is registered in. Insertion and
// lookup are sharded by identifier so unrelated objects do not contend.
type Table struct {
	ids      *IDAllocator
	capacity int64
	live     atomic.Int64
	shards   [shardCount]shard
}

// Option configures a Table.
type Option func(*Table)

// WithCapacity bounds the number of live slots. Zero means unbounded.
func WithCapacity(n int) Option {
	return func(t *Table) { t.capacity = int64(n) }
}

// WithIDs shares an identifier allocator between tables.
func WithIDs(ids *IDAllocator) Option {
	return func(t *Table) { t.ids = ids }
}

// New returns an empty table.
func New(opts ...Option) *Table {
	t := &Table{}
	for _, opt := range opts {
		opt(t)
	}
	if t.ids == nil {
		t.ids = NewIDAllocator()
	}
	for i := range t.shards {
		t.shards[i].slots = make(map[uint64]*slot)
	}
	return t
}

// IDs returns the table's identifier allocator.
func (t *Table) IDs() *IDAllocator { return t.ids }

// Len returns the number of live slots.
func (t *Table) Len() int { return int(t.live.Load()) }

func (t *Table) shard(id uint64) *shard {
	return &t.shards[id%shardCount]
}

func (t *Table) remove(id uint64) {
	sh := t.shard(id)
	sh.lock.Lock()
	delete(sh.slots, id)
	sh.lock.Unlock()
	t.live.Add(-1)
}

// Add registers v under a fresh identifier and returns the first reference
// to it.
//
// If *T has an `id uint64` it is the caller's job to fill it from the
// returned Tab's ID.
func Add[T any](t *Table, v *T) (*Tab[T], error) {
	if v == nil {
		panic("tab: add of nil value")
	}
	if t.capacity > 0 {
		if n := t.live.Add(1); n > t.capacity {
			t.live.Add(-1)
			return nil, ErrOutOfMemory
		}
	} else {
		t.live.Add(1)
	}

	s := &slot{id: t.ids.Next(), table: t, value: v}
	s.refs.Store(1)

	sh := t.shard(s.id)
	sh.lock.Lock()
	if _, dup := sh.slots[s.id]; dup {
		sh.lock.Unlock()
		panic("tab: identifier issued twice")
	}
	sh.slots[s.id] = s
	sh.lock.Unlock()

	return newTab[T](s), nil
}

// Lookup returns a new reference to the slot id if it is live and holds a
// *T. A slot of a different type is reported as not found.
func Lookup[T any](t *Table, id uint64) (*Tab[T], bool) {
	sh := t.shard(id)
	sh.lock.Lock()
	defer sh.lock.Unlock()

	s, ok := sh.slots[id]
	if !ok {
		return nil, false
	}
	if _, ok := s.value.(*T); !ok {
		return nil, false
	}
	// The shard lock is held, so the slot cannot be removed between the
	// load and the increment unless its count already hit zero.
	for {
		n := s.refs.Load()
		if n <= 0 {
			return nil, false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return newTab[T](s), true
		}
	}
}
