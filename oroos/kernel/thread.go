package kernel

import (
	"oro/oroos/abi"
	"oro/oroos/tab"
)

// RunState is a thread's run state. Values are tag keys.
type RunState uint64

const (
	StatePending     RunState = 0x70656e64     // "pend"
	StateRunning     RunState = 0x72756e       // "run"
	StateStopped     RunState = 0x73746f70     // "stop"
	StateTerminating RunState = 0x7465726d6e67 // "termng"
	StateTerminated  RunState = 0x7465726d     // "term"
)

func (s RunState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "invalid"
	}
}

type execState uint8

const (
	execUnallocated execState = iota
	execPaused
	execRunning
	execPausedSyscall
)

type pendingTransition struct {
	state RunState
	call  *InFlightSystemCall
}

// Thread is an execution context within an instance.
type Thread struct {
	id       uint64
	instance *tab.Tab[Instance]
	ring     uint64
	state    RunState
	entry    any

	exec    execState
	core    int
	syscall *InFlightSystemCallHandle
	pending *pendingTransition
	queued  bool

	// Arch is owned by whatever executes the thread.
	Arch any
}

func (t *Thread) ID() uint64         { return t.id }
func (t *Thread) InstanceID() uint64 { return t.instance.ID() }
func (t *Thread) RingID() uint64     { return t.ring }
func (t *Thread) State() RunState    { return t.state }
func (t *Thread) Entry() any         { return t.entry }

// Instance returns the owning instance. The handle is borrowed.
func (t *Thread) Instance() *tab.Tab[Instance] { return t.instance }

// Executing reports whether a core currently runs the thread, and which.
func (t *Thread) Executing() (core int, ok bool) {
	return t.core, t.exec == execRunning
}

func (t *Thread) Drop() {
	if t.pending != nil {
		t.pending.call.Cancel()
		t.pending = nil
	}
	if t.syscall != nil {
		t.syscall.Cancel()
		t.syscall = nil
	}
	if t.instance != nil {
		t.instance.Release()
	}
}

// NewThread creates a pending thread in inst.
func NewThread(k *Kernel, inst *tab.Tab[Instance], entry any) (*tab.Tab[Thread], error) {
	var ring uint64
	inst.With(func(i *Instance) { ring = i.ring.ID() })

	owner := inst.Clone()
	th, err := tab.Add(k.table, &Thread{
		instance: owner,
		ring:     ring,
		state:    StatePending,
		entry:    entry,
	})
	if err != nil {
		owner.Release()
		return nil, oom("thread", err)
	}
	th.WithMut(func(t *Thread) { t.id = th.ID() })
	inst.WithMut(func(i *Instance) { i.threads = append(i.threads, th.Clone()) })
	return th, nil
}

// Spawn moves a pending thread to running and queues it.
func Spawn(k *Kernel, th *tab.Tab[Thread]) error {
	_, err := Transition(k, th, 0, StateRunning)
	return err
}

// Transition requests that th move to state on behalf of thread caller.
//
// A nil handle means the transition took effect. Otherwise th is running on
// a core and the transition completes when that core lets go of it.
func Transition(k *Kernel, th *tab.Tab[Thread], caller uint64, state RunState) (*InFlightSystemCallHandle, error) {
	switch state {
	case StateRunning, StateStopped, StateTerminated:
	default:
		return nil, ErrInvalidState
	}

	var (
		err    error
		handle *InFlightSystemCallHandle
		reaped bool
	)
	th.WithMut(func(t *Thread) {
		switch {
		case t.state == StateTerminated:
			err = ErrTerminated
			return
		case t.pending != nil:
			err = ErrRace
			return
		case t.state == state:
			return
		}

		switch t.state {
		case StatePending:
			if state == StateStopped {
				err = ErrInvalidState
				return
			}
		case StateRunning:
			if t.exec == execRunning && t.id != caller {
				call, h := NewInFlightSystemCall()
				t.pending = &pendingTransition{state: state, call: call}
				if state == StateTerminated {
					t.state = StateTerminating
				}
				handle = h
				return
			}
		}
		reaped = k.applyStateLocked(th, t, state)
	})
	if reaped {
		k.reap(th)
	}
	return handle, err
}

// applyStateLocked moves t to state, queueing it if it became runnable. It
// reports whether t must be reaped. t's lock must be held.
func (k *Kernel) applyStateLocked(th *tab.Tab[Thread], t *Thread, state RunState) bool {
	t.state = state
	switch state {
	case StateRunning:
		if t.exec != execRunning {
			k.enqueueLocked(th, t)
		}
	case StateTerminated:
		if t.syscall != nil {
			t.syscall.Cancel()
			t.syscall = nil
		}
		return true
	}
	return false
}

func (k *Kernel) enqueueLocked(th *tab.Tab[Thread], t *Thread) {
	if t.queued {
		return
	}
	t.queued = true
	k.runq.push(th.Clone())
}

// tryPause releases th from the core it runs on, resolving any transition
// that was waiting on it. It reports whether th is still runnable.
func (k *Kernel) tryPause(th *tab.Tab[Thread], syscall *InFlightSystemCallHandle) bool {
	var (
		runnable bool
		reaped   bool
		resolved *pendingTransition
	)
	th.WithMut(func(t *Thread) {
		t.exec = execPaused
		if syscall != nil {
			t.exec = execPausedSyscall
			t.syscall = syscall
		}
		if t.pending != nil {
			resolved = t.pending
			t.pending = nil
			reaped = k.applyStateLocked(th, t, resolved.state)
		}
		runnable = t.state == StateRunning
	})
	if resolved != nil {
		resolved.call.Submit(Response{Error: abi.Ok})
	}
	if reaped {
		k.reap(th)
	}
	return runnable
}

type scheduleResult uint8

const (
	scheduleOK scheduleResult = iota
	scheduleNotReady
	scheduleGone
)

// tryScheduleLocked claims t for core. A thread parked on a system call is
// only claimed once its response is available. t's lock must be held.
func tryScheduleLocked(t *Thread, core int) (scheduleResult, *Response) {
	if t.state != StateRunning {
		return scheduleGone, nil
	}
	switch t.exec {
	case execRunning:
		return scheduleGone, nil
	case execPausedSyscall:
		r, ok := t.syscall.TryTakeResponse()
		if !ok {
			return scheduleNotReady, nil
		}
		t.syscall = nil
		t.exec, t.core = execRunning, core
		return scheduleOK, &r
	}
	t.exec, t.core = execRunning, core
	return scheduleOK, nil
}

// reap tears a terminated thread out of its instance. The last thread out
// unmounts the instance.
func (k *Kernel) reap(th *tab.Tab[Thread]) {
	var inst *tab.Tab[Instance]
	th.With(func(t *Thread) { inst = t.instance.Clone() })

	var gone *tab.Tab[Thread]
	last := false
	inst.WithMut(func(i *Instance) {
		i.threads, gone = removeTab(i.threads, th.ID())
		last = gone != nil && len(i.threads) == 0
	})
	k.log.Debug("thread terminated", "thread", hexID(th.ID()), "instance", hexID(inst.ID()))
	if gone != nil {
		gone.Release()
	}
	if last {
		unmount(k, inst)
	}
	inst.Release()
}
