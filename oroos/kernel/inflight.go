package kernel

import (
	"oro/oroos/abi"
	"oro/oroos/ksync"
)

// InFlightState is the lifecycle of a deferred system call.
type InFlightState uint8

const (
	// InFlightPending means the interface has not produced a response yet.
	InFlightPending InFlightState = iota
	// InFlightReady means a response is waiting to be taken by the caller.
	InFlightReady
	// InFlightCallerCanceled means the caller gave up on the call.
	InFlightCallerCanceled
	// InFlightInterfaceCanceled means the interface will never respond.
	InFlightInterfaceCanceled
	// InFlightFinished means the caller took the response.
	InFlightFinished
)

func (s InFlightState) String() string {
	switch s {
	case InFlightPending:
		return "pending"
	case InFlightReady:
		return "ready"
	case InFlightCallerCanceled:
		return "caller canceled"
	case InFlightInterfaceCanceled:
		return "interface canceled"
	case InFlightFinished:
		return "finished"
	default:
		return "unknown"
	}
}

type inFlight struct {
	lock     ksync.SpinLock
	state    InFlightState
	response Response
}

// InFlightSystemCall is the interface side of a deferred system call.
type InFlightSystemCall struct {
	f *inFlight
}

// InFlightSystemCallHandle is the caller side of a deferred system call. The
// scheduler polls it when deciding whether the waiting thread may resume.
type InFlightSystemCallHandle struct {
	f *inFlight
}

// NewInFlightSystemCall creates a linked pair of deferred call endpoints.
func NewInFlightSystemCall() (*InFlightSystemCall, *InFlightSystemCallHandle) {
	f := &inFlight{}
	return &InFlightSystemCall{f: f}, &InFlightSystemCallHandle{f: f}
}

// Submit delivers the response. It is dropped if the caller already canceled.
func (c *InFlightSystemCall) Submit(r Response) {
	c.f.lock.Lock()
	defer c.f.lock.Unlock()
	if c.f.state != InFlightPending {
		return
	}
	c.f.response = r
	c.f.state = InFlightReady
}

// Canceled reports whether the caller gave up.
func (c *InFlightSystemCall) Canceled() bool {
	c.f.lock.Lock()
	defer c.f.lock.Unlock()
	return c.f.state == InFlightCallerCanceled
}

// Cancel abandons the call from the interface side. The caller is resumed
// with abi.Canceled.
func (c *InFlightSystemCall) Cancel() {
	c.f.lock.Lock()
	defer c.f.lock.Unlock()
	if c.f.state == InFlightPending {
		c.f.state = InFlightInterfaceCanceled
	}
}

// State returns the current state.
func (h *InFlightSystemCallHandle) State() InFlightState {
	h.f.lock.Lock()
	defer h.f.lock.Unlock()
	return h.f.state
}

// TryTakeResponse returns the response if one is available. An interface
// cancellation yields a Canceled response.
func (h *InFlightSystemCallHandle) TryTakeResponse() (Response, bool) {
	h.f.lock.Lock()
	defer h.f.lock.Unlock()
	switch h.f.state {
	case InFlightReady:
		h.f.state = InFlightFinished
		return h.f.response, true
	case InFlightInterfaceCanceled:
		h.f.state = InFlightFinished
		return Response{Error: abi.Canceled}, true
	}
	return Response{}, false
}

// Cancel abandons the call from the caller side.
func (h *InFlightSystemCallHandle) Cancel() {
	h.f.lock.Lock()
	defer h.f.lock.Unlock()
	if h.f.state == InFlightPending || h.f.state == InFlightReady {
		h.f.state = InFlightCallerCanceled
	}
}
