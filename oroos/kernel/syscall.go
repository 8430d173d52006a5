package kernel

import (
	"oro/oroos/abi"
	"oro/oroos/tab"
)

// SystemCallRequest is the register image of a system call trap.
type SystemCallRequest struct {
	Opcode abi.Opcode
	// Interface is the interface type id (kernel namespace) or a ring
	// interface id.
	Interface uint64
	Index     uint64
	Key       uint64
	Value     uint64
}

// Dispatch executes a system call on behalf of th.
func Dispatch(k *Kernel, th *tab.Tab[Thread], req SystemCallRequest) InterfaceResponse {
	var (
		r  InterfaceResponse
		ok bool
	)
	switch req.Opcode {
	case abi.OpGet:
		r, ok = TryDispatchGet(k, th, req.Interface, req.Index, req.Key)
	case abi.OpSet:
		r, ok = TryDispatchSet(k, th, req.Interface, req.Index, req.Key, req.Value)
	default:
		return Immediate(abi.BadOpcode, 0)
	}
	if !ok {
		return Immediate(abi.BadInterface, 0)
	}
	return r
}

// TryDispatchGet routes a get to the kernel interface table, then to the
// caller's ring. It reports false when no interface answers to id.
func TryDispatchGet(k *Kernel, th *tab.Tab[Thread], id, index, key uint64) (InterfaceResponse, bool) {
	iface, ok := resolveInterface(k, th, id)
	if !ok {
		return InterfaceResponse{}, false
	}
	return iface.Get(k, th, index, key), true
}

// TryDispatchSet is TryDispatchGet for set.
func TryDispatchSet(k *Kernel, th *tab.Tab[Thread], id, index, key, value uint64) (InterfaceResponse, bool) {
	iface, ok := resolveInterface(k, th, id)
	if !ok {
		return InterfaceResponse{}, false
	}
	return iface.Set(k, th, index, key, value), true
}

func resolveInterface(k *Kernel, th *tab.Tab[Thread], id uint64) (Interface, bool) {
	if abi.IsKernelID(id) {
		iface, ok := k.kernelInterface(id)
		return iface, ok
	}
	ri, ok := tab.Lookup[RingInterface](k.table, id)
	if !ok {
		return nil, false
	}
	defer ri.Release()

	var ring uint64
	th.With(func(t *Thread) { ring = t.ring })
	var iface Interface
	ri.With(func(r *RingInterface) {
		if r.ring == ring {
			iface = r.iface
		}
	})
	return iface, iface != nil
}

// CallerInstance returns a new reference to the instance th belongs to.
func CallerInstance(th *tab.Tab[Thread]) *tab.Tab[Instance] {
	var inst *tab.Tab[Instance]
	th.With(func(t *Thread) { inst = t.instance.Clone() })
	return inst
}
