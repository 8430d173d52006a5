package kernel

import (
	"oro/oroos/ksync"
	"oro/oroos/tab"
)

const runQueueSlots = 16

// runQueue is a FIFO ring buffer of runnable threads shared by every core.
// It grows by doubling when full.
type runQueue struct {
	lock  ksync.SpinLock
	head  uint64
	tail  uint64
	slots []*tab.Tab[Thread]
}

func (q *runQueue) push(th *tab.Tab[Thread]) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.slots == nil {
		q.slots = make([]*tab.Tab[Thread], runQueueSlots)
	}
	if q.head-q.tail >= uint64(len(q.slots)) {
		q.grow()
	}
	q.slots[q.head%uint64(len(q.slots))] = th
	q.head++
}

func (q *runQueue) pop() (*tab.Tab[Thread], bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.tail == q.head {
		return nil, false
	}
	i := q.tail % uint64(len(q.slots))
	th := q.slots[i]
	q.slots[i] = nil
	q.tail++
	return th, true
}

func (q *runQueue) len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return int(q.head - q.tail)
}

func (q *runQueue) grow() {
	n := uint64(len(q.slots))
	slots := make([]*tab.Tab[Thread], 2*n)
	for i := q.tail; i < q.head; i++ {
		slots[i-q.tail] = q.slots[i%n]
	}
	q.head -= q.tail
	q.tail = 0
	q.slots = slots
}
