// Package pfa implements the physical page frame allocator.
package pfa

import (
	"encoding/binary"
	"fmt"

	"oro/hal"
	"oro/oroos/ksync"
)

// Empty is the last-free sentinel of an exhausted allocator.
const Empty = ^uint64(0)

// Alloc allocates and frees physical page frames.
//
// Implementations are not synchronized; wrap them in Locked when shared
// between cores. Free of a frame that was not allocated, or is already free,
// is undefined.
type Alloc interface {
	Allocate() (frame uint64, ok bool)
	Free(frame uint64)
}

// Filo is a first in, last out allocator. Free frames form a stack whose
// links live in the first eight bytes of each free frame, so the allocator
// needs no memory besides the head pointer.
type Filo struct {
	mem      hal.PhysMem
	lastFree uint64
}

// NewFilo returns an empty allocator over mem.
func NewFilo(mem hal.PhysMem) *Filo {
	return &Filo{mem: mem, lastFree: Empty}
}

// LastFree returns the current head of the free stack.
func (f *Filo) LastFree() uint64 { return f.lastFree }

func (f *Filo) Allocate() (uint64, bool) {
	if f.lastFree == Empty {
		return 0, false
	}
	frame := f.lastFree
	f.lastFree = binary.LittleEndian.Uint64(f.mem.Page(frame)[:8])
	return frame, true
}

func (f *Filo) Free(frame uint64) {
	if frame%hal.PageSize != 0 {
		panic(fmt.Sprintf("pfa: frame %#x is not page-aligned", frame))
	}
	binary.LittleEndian.PutUint64(f.mem.Page(frame)[:8], f.lastFree)
	f.lastFree = frame
}

// FreeRange hands every whole page in [start, end) to a. It returns the
// number of frames added.
func FreeRange(a Alloc, start, end uint64) uint64 {
	p := (start + hal.PageSize - 1) &^ (hal.PageSize - 1)
	var n uint64
	for ; p+hal.PageSize <= end && p+hal.PageSize > p; p += hal.PageSize {
		a.Free(p)
		n++
	}
	return n
}

// Locked serializes an allocator behind a spin lock.
type Locked struct {
	lock ksync.SpinLock
	a    Alloc
	used int64
}

// NewLocked wraps a.
func NewLocked(a Alloc) *Locked {
	return &Locked{a: a}
}

func (l *Locked) Allocate() (uint64, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	frame, ok := l.a.Allocate()
	if ok {
		l.used++
	}
	return frame, ok
}

func (l *Locked) Free(frame uint64) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.a.Free(frame)
	l.used--
}

// InUse returns the number of frames handed out through l and not yet
// returned. Frames seeded through Free count negatively.
func (l *Locked) InUse() int64 {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.used
}
