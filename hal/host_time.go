package hal

import "sync/atomic"

// hostTimerDepth bounds how many ticks may queue up before cores fall
// behind and ticks start being dropped.
const hostTimerDepth = 1024

// hostTimer is the simulated timer interrupt source. Ticks are sequence
// numbers; a slow consumer loses ticks rather than stalling the clock.
type hostTimer struct {
	ch      chan uint64
	now     atomic.Uint64
	dropped atomic.Uint64
}

func newHostTimer() *hostTimer {
	return &hostTimer{ch: make(chan uint64, hostTimerDepth)}
}

func (t *hostTimer) Ticks() <-chan uint64 { return t.ch }

// advance raises n timer interrupts.
func (t *hostTimer) advance(n uint64) {
	for range n {
		seq := t.now.Add(1)
		select {
		case t.ch <- seq:
		default:
			t.dropped.Add(1)
		}
	}
}
