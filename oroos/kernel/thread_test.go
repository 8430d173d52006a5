package kernel

import (
	"errors"
	"sync"
	"testing"

	"oro/oroos/abi"
	"oro/oroos/tab"
)

func threadState(th *tab.Tab[Thread]) RunState {
	var st RunState
	th.With(func(t *Thread) { st = t.state })
	return st
}

func TestRunStateKeys(t *testing.T) {
	tests := []struct {
		got  uint64
		want string
	}{
		{uint64(StatePending), "pend"},
		{uint64(StateRunning), "run"},
		{uint64(StateStopped), "stop"},
		{uint64(StateTerminating), "termng"},
		{uint64(StateTerminated), "term"},
		{uint64(TokenNormal), "normal"},
		{uint64(TokenSlotMap), "slotmap"},
		{uint64(PortProducer), "prod"},
		{uint64(PortConsumer), "cnsm"},
	}
	for _, tt := range tests {
		if want := abi.Key(tt.want); tt.got != want {
			t.Fatalf("constant for %q = %#x, want %#x", tt.want, tt.got, want)
		}
	}
}

func TestTransitionFromPending(t *testing.T) {
	k, _ := newTestKernel(t)
	root := newTestRoot(t, k)
	_, th := mountTest(t, k, root)

	if got := threadState(th); got != StatePending {
		t.Fatalf("initial state = %v, want %v", got, StatePending)
	}
	if _, err := Transition(k, th, 0, StateStopped); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Transition(pending -> stopped) error = %v, want %v", err, ErrInvalidState)
	}
	if _, err := Transition(k, th, 0, StatePending); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Transition(-> pending) error = %v, want %v", err, ErrInvalidState)
	}
	if err := Spawn(k, th); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if got := threadState(th); got != StateRunning {
		t.Fatalf("state after Spawn = %v, want %v", got, StateRunning)
	}
	if got := k.runq.len(); got != 1 {
		t.Fatalf("run queue length = %d, want 1", got)
	}
}

func TestTransitionStopResume(t *testing.T) {
	k, _ := newTestKernel(t)
	root := newTestRoot(t, k)
	_, th := mountTest(t, k, root)
	if err := Spawn(k, th); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	for _, st := range []RunState{StateStopped, StateRunning} {
		h, err := Transition(k, th, 0, st)
		if err != nil || h != nil {
			t.Fatalf("Transition(%v) = (%v, %v), want immediate success", st, h, err)
		}
		if got := threadState(th); got != st {
			t.Fatalf("state = %v, want %v", got, st)
		}
	}
	// Still queued from Spawn; resuming must not queue it twice.
	if got := k.runq.len(); got != 1 {
		t.Fatalf("run queue length = %d, want 1", got)
	}
	if h, err := Transition(k, th, 0, StateRunning); err != nil || h != nil {
		t.Fatalf("Transition(running -> running) = (%v, %v), want no-op", h, err)
	}
}

func TestTerminatedIsAbsorbing(t *testing.T) {
	k, _ := newTestKernel(t)
	root := newTestRoot(t, k)
	_, th := mountTest(t, k, root)

	if _, err := Transition(k, th, 0, StateTerminated); err != nil {
		t.Fatalf("Transition(terminated) error = %v", err)
	}
	for _, st := range []RunState{StateRunning, StateStopped, StateTerminated} {
		if _, err := Transition(k, th, 0, st); !errors.Is(err, ErrTerminated) {
			t.Fatalf("Transition(terminated -> %v) error = %v, want %v", st, err, ErrTerminated)
		}
	}
}

func TestTransitionOfExecutingThread(t *testing.T) {
	k, _ := newTestKernel(t)
	root := newTestRoot(t, k)
	_, th := mountTest(t, k, root)
	if err := Spawn(k, th); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	s := NewScheduler(k, 0)
	if sw := s.EventIdle(); sw == nil || !sw.Thread.Same(th) {
		t.Fatalf("EventIdle() did not schedule the thread")
	}

	h, err := Transition(k, th, 0, StateTerminated)
	if err != nil || h == nil {
		t.Fatalf("Transition(terminated) = (%v, %v), want pending", h, err)
	}
	if got := threadState(th); got != StateTerminating {
		t.Fatalf("state = %v, want %v", got, StateTerminating)
	}
	if _, err := Transition(k, th, 0, StateStopped); !errors.Is(err, ErrRace) {
		t.Fatalf("second Transition() error = %v, want %v", err, ErrRace)
	}

	if sw := s.EventTimerExpired(); sw != nil {
		t.Fatalf("EventTimerExpired() scheduled %#x, want idle", sw.Thread.ID())
	}
	r, ok := h.TryTakeResponse()
	if !ok || r.Error != abi.Ok {
		t.Fatalf("TryTakeResponse() = (%v, %v), want (ok, true)", r, ok)
	}
	if got := threadState(th); got != StateTerminated {
		t.Fatalf("state = %v, want %v", got, StateTerminated)
	}
}

func TestConcurrentTransitionsRace(t *testing.T) {
	k, _ := newTestKernel(t)
	root := newTestRoot(t, k)
	_, th := mountTest(t, k, root)
	if err := Spawn(k, th); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	s := NewScheduler(k, 0)
	s.EventIdle()

	var (
		wg               sync.WaitGroup
		mu               sync.Mutex
		succeeded, raced int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Transition(k, th, 0, StateStopped)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrRace):
				raced++
			default:
				t.Errorf("Transition() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 || raced != 1 {
		t.Fatalf("succeeded = %d, raced = %d, want 1 and 1", succeeded, raced)
	}
	s.EventTimerExpired()
	if got := threadState(th); got != StateStopped {
		t.Fatalf("state = %v, want %v", got, StateStopped)
	}
}

func TestSelfTransitionIsImmediate(t *testing.T) {
	k, _ := newTestKernel(t)
	root := newTestRoot(t, k)
	_, th := mountTest(t, k, root)
	if err := Spawn(k, th); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	s := NewScheduler(k, 0)
	s.EventIdle()

	h, err := Transition(k, th, th.ID(), StateStopped)
	if err != nil || h != nil {
		t.Fatalf("Transition(self) = (%v, %v), want immediate success", h, err)
	}
	if sw := s.EventTimerExpired(); sw != nil {
		t.Fatalf("stopped thread was rescheduled")
	}
}

func TestLastThreadUnmountsInstance(t *testing.T) {
	k, _ := newTestKernel(t)
	root := newTestRoot(t, k)
	ring, err := NewRing(k, root)
	if err != nil {
		t.Fatalf("NewRing() error = %v", err)
	}
	defer ring.Release()
	inst, th := mountTest(t, k, ring)

	second, err := NewThread(k, inst, nil)
	if err != nil {
		t.Fatalf("NewThread() error = %v", err)
	}
	defer second.Release()

	if _, err := Transition(k, th, 0, StateTerminated); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	var n int
	ring.With(func(r *Ring) { n = r.InstanceCount() })
	if n != 1 {
		t.Fatalf("InstanceCount() = %d after first thread, want 1", n)
	}

	if _, err := Transition(k, second, 0, StateTerminated); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	ring.With(func(r *Ring) { n = r.InstanceCount() })
	if n != 0 {
		t.Fatalf("InstanceCount() = %d after last thread, want 0", n)
	}
	for _, id := range k.Rings() {
		if id == ring.ID() {
			t.Fatalf("emptied ring %#x still listed in Rings()", id)
		}
	}
}
