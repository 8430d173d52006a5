// Package ksync provides the kernel's lock primitives.
//
// Nothing at the kernel layer may sleep waiting for another core, so every
// lock here spins. On the host the spin yields with runtime.Gosched so a
// contended lock does not starve the holder.
package ksync

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is a mutual exclusion spin lock. The zero value is unlocked.
type SpinLock struct {
	_     [0]func() // prevent accidental copying.
	state atomic.Uint32
}

// Lock spins until the lock is acquired.
func (l *SpinLock) Lock() {
	for !l.state.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

// TryLock attempts to acquire the lock without spinning.
func (l *SpinLock) TryLock() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Unlock releases the lock. Unlocking an unlocked lock panics.
func (l *SpinLock) Unlock() {
	if !l.state.CompareAndSwap(1, 0) {
		panic("ksync: unlock of unlocked SpinLock")
	}
}

const writer = -1

// RWSpinLock allows any number of readers or a single writer.
type RWSpinLock struct {
	_     [0]func()
	state atomic.Int32
}

// RLock acquires a shared lock.
func (l *RWSpinLock) RLock() {
	for {
		s := l.state.Load()
		if s != writer && l.state.CompareAndSwap(s, s+1) {
			return
		}
		runtime.Gosched()
	}
}

// RUnlock releases a shared lock.
func (l *RWSpinLock) RUnlock() {
	if l.state.Add(-1) < 0 {
		panic("ksync: RUnlock of unlocked RWSpinLock")
	}
}

// Lock acquires the exclusive lock.
func (l *RWSpinLock) Lock() {
	for !l.state.CompareAndSwap(0, writer) {
		runtime.Gosched()
	}
}

// Unlock releases the exclusive lock.
func (l *RWSpinLock) Unlock() {
	if !l.state.CompareAndSwap(writer, 0) {
		panic("ksync: unlock of unlocked RWSpinLock")
	}
}
