package kernel

import (
	"oro/oroos/abi"
	"oro/oroos/tab"
)

var (
	keyThreadID     = abi.Key("id")
	keyThreadStatus = abi.Key("status")
)

// threadV0 controls threads on the caller's ring. Threads on descendant
// rings may be read but not changed. Index zero is the caller.
type threadV0 struct{}

func (threadV0) TypeID() uint64 { return abi.KernelThreadV0 }

func (threadV0) Get(k *Kernel, th *tab.Tab[Thread], index, key uint64) InterfaceResponse {
	target, ok := resolveThread(k, th, index, true)
	if !ok {
		return Immediate(abi.BadIndex, 0)
	}
	defer target.Release()

	switch key {
	case keyThreadID:
		return Immediate(abi.Ok, target.ID())
	case keyThreadStatus:
		var st RunState
		target.With(func(t *Thread) { st = t.state })
		return Immediate(abi.Ok, uint64(st))
	}
	return Immediate(abi.BadKey, 0)
}

func (threadV0) Set(k *Kernel, th *tab.Tab[Thread], index, key, value uint64) InterfaceResponse {
	target, ok := resolveThread(k, th, index, false)
	if !ok {
		return Immediate(abi.BadIndex, 0)
	}
	defer target.Release()

	switch key {
	case keyThreadID:
		return Immediate(abi.ReadOnly, 0)
	case keyThreadStatus:
		h, err := Transition(k, target, th.ID(), RunState(value))
		if err != nil {
			return errorResponse(err)
		}
		if h != nil {
			return InterfaceResponse{Pending: h}
		}
		return Immediate(abi.Ok, 0)
	}
	return Immediate(abi.BadKey, 0)
}

// resolveThread returns a new reference to thread id. It must live on the
// caller's ring, or on a ring the caller can observe when readOnly is set.
func resolveThread(k *Kernel, th *tab.Tab[Thread], id uint64, readOnly bool) (*tab.Tab[Thread], bool) {
	if id == 0 || id == th.ID() {
		return th.Clone(), true
	}
	target, ok := tab.Lookup[Thread](k.table, id)
	if !ok {
		return nil, false
	}
	var callerRing, targetRing uint64
	th.With(func(t *Thread) { callerRing = t.ring })
	target.With(func(t *Thread) { targetRing = t.ring })
	if callerRing == targetRing || (readOnly && CanObserve(k, callerRing, targetRing)) {
		return target, true
	}
	target.Release()
	return nil, false
}
