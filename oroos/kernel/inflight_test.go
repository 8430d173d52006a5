package kernel

import (
	"testing"

	"oro/oroos/abi"
)

func TestInFlightSubmit(t *testing.T) {
	call, h := NewInFlightSystemCall()
	if _, ok := h.TryTakeResponse(); ok {
		t.Fatalf("TryTakeResponse() on a pending call = true, want false")
	}
	call.Submit(Response{Error: abi.Ok, Ret: 7})
	if got := h.State(); got != InFlightReady {
		t.Fatalf("State() = %v, want %v", got, InFlightReady)
	}
	r, ok := h.TryTakeResponse()
	if !ok || r.Ret != 7 {
		t.Fatalf("TryTakeResponse() = (%+v, %v), want (7, true)", r, ok)
	}
	if _, ok := h.TryTakeResponse(); ok {
		t.Fatalf("response taken twice")
	}
	if got := h.State(); got != InFlightFinished {
		t.Fatalf("State() = %v, want %v", got, InFlightFinished)
	}
}

func TestInFlightCancel(t *testing.T) {
	call, h := NewInFlightSystemCall()
	h.Cancel()
	if !call.Canceled() {
		t.Fatalf("Canceled() = false after caller cancel")
	}
	call.Submit(Response{Ret: 1})
	if got := h.State(); got != InFlightCallerCanceled {
		t.Fatalf("State() = %v, want %v", got, InFlightCallerCanceled)
	}

	call, h = NewInFlightSystemCall()
	call.Cancel()
	r, ok := h.TryTakeResponse()
	if !ok || r.Error != abi.Canceled {
		t.Fatalf("TryTakeResponse() after interface cancel = (%+v, %v), want canceled", r, ok)
	}
}
