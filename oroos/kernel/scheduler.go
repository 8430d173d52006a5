package kernel

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"oro/oroos/tab"
)

// PageFaultAccess is the kind of access that faulted.
type PageFaultAccess uint8

const (
	AccessRead PageFaultAccess = iota
	AccessWrite
	AccessExecute
)

// PageFault describes a fault raised by the running thread.
type PageFault struct {
	Addr   uint64
	Access PageFaultAccess
}

// Switch tells the core which thread to run next. Response is set when the
// thread is resuming from a system call. Thread is borrowed from the
// scheduler and stays valid until the core's next event.
type Switch struct {
	Thread   *tab.Tab[Thread]
	Response *Response
}

// Scheduler is a core's view of the kernel. A core calls exactly one event
// method per entry into the kernel and runs whatever it returns; nil means
// idle until the next event.
type Scheduler struct {
	k       *Kernel
	core    int
	log     hclog.Logger
	current *tab.Tab[Thread]
}

// NewScheduler creates the scheduler for core.
func NewScheduler(k *Kernel, core int) *Scheduler {
	return &Scheduler{
		k:    k,
		core: core,
		log:  k.log.Named(fmt.Sprintf("sched.%d", core)),
	}
}

// Core returns the core id.
func (s *Scheduler) Core() int { return s.core }

// Current returns the thread on the core, if any. The handle is borrowed.
func (s *Scheduler) Current() *tab.Tab[Thread] { return s.current }

// EventIdle is raised when the core has nothing to run.
func (s *Scheduler) EventIdle() (sw *Switch) {
	defer s.recover(&sw)
	s.preempt()
	return s.pickNext()
}

// EventTimerExpired preempts the current thread.
func (s *Scheduler) EventTimerExpired() (sw *Switch) {
	defer s.recover(&sw)
	s.preempt()
	return s.pickNext()
}

// EventSystemCall handles a system call made by the current thread.
func (s *Scheduler) EventSystemCall(req SystemCallRequest) (sw *Switch) {
	defer s.recover(&sw)
	cur := s.current
	if cur == nil {
		panic("kernel: system call without a current thread")
	}
	r := Dispatch(s.k, cur, req)
	s.current = nil

	if r.Pending != nil {
		s.current = cur
		s.pause(r.Pending)
		return s.pickNext()
	}

	// The caller may have stopped itself; its result waits for the resume.
	call, h := NewInFlightSystemCall()
	call.Submit(r.Immediate)
	if s.k.tryPause(cur, h) {
		if resp, ok := s.claim(cur); ok {
			s.current = cur
			return &Switch{Thread: cur, Response: resp}
		}
	}
	cur.Release()
	return s.pickNext()
}

// EventPageFault handles a fault raised by the current thread. Faults on
// reserved token pages commit the page and resume the thread; any other
// fault terminates it.
func (s *Scheduler) EventPageFault(pf PageFault) (sw *Switch) {
	defer s.recover(&sw)
	cur := s.current
	if cur == nil {
		panic(fmt.Sprintf("kernel: page fault at %#x without a current thread", pf.Addr))
	}

	inst := CallerInstance(cur)
	err := OnPageFault(inst, pf.Addr)
	inst.Release()
	if err == nil {
		return &Switch{Thread: cur}
	}

	s.log.Warn("terminating thread on page fault", "thread", hexID(cur.ID()), "addr", hclog.Fmt("%#x", pf.Addr), "error", err)
	s.current = nil
	s.k.tryPause(cur, nil)
	if _, err := Transition(s.k, cur, cur.ID(), StateTerminated); err != nil {
		s.log.Debug("fault termination", "thread", hexID(cur.ID()), "error", err)
	}
	cur.Release()
	return s.pickNext()
}

// claim marks th as running on this core again after a pause, taking the
// response it was parked on.
func (s *Scheduler) claim(th *tab.Tab[Thread]) (*Response, bool) {
	var (
		res  scheduleResult
		resp *Response
	)
	th.WithMut(func(t *Thread) { res, resp = tryScheduleLocked(t, s.core) })
	return resp, res == scheduleOK
}

// pickNext takes the first schedulable thread off the run queue. Threads
// still waiting on a system call go back to the end.
func (s *Scheduler) pickNext() *Switch {
	for n := s.k.runq.len(); n > 0; n-- {
		th, ok := s.k.runq.pop()
		if !ok {
			return nil
		}
		var (
			res  scheduleResult
			resp *Response
		)
		th.WithMut(func(t *Thread) {
			t.queued = false
			res, resp = tryScheduleLocked(t, s.core)
			if res == scheduleNotReady {
				s.k.enqueueLocked(th, t)
			}
		})
		if res == scheduleOK {
			s.current = th
			return &Switch{Thread: th, Response: resp}
		}
		th.Release()
	}
	return nil
}

// preempt moves the current thread, if still runnable, to the back of the
// run queue.
func (s *Scheduler) preempt() {
	s.pause(nil)
}

func (s *Scheduler) pause(syscall *InFlightSystemCallHandle) {
	if s.current == nil {
		return
	}
	cur := s.current
	s.current = nil
	if s.k.tryPause(cur, syscall) {
		cur.WithMut(func(t *Thread) { s.k.enqueueLocked(cur, t) })
	}
	cur.Release()
}

func (s *Scheduler) recover(sw **Switch) {
	v := recover()
	if v == nil {
		return
	}
	info := PanicInfo{CoreID: s.core, Value: v}
	if s.current != nil {
		info.ThreadID = s.current.ID()
	}
	s.log.Error("kernel panic", "panic", v, "thread", hexID(info.ThreadID))
	s.k.triggerPanic(info)
	*sw = nil
	s.k.hal.Halt()
}
