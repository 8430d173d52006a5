package kernel

import (
	"oro/oroos/abi"
	"oro/oroos/tab"
)

// Response is the (error, value) pair a system call returns.
type Response struct {
	Error abi.Error
	Ret   uint64
}

// Immediate builds a synchronous response.
func Immediate(err abi.Error, ret uint64) InterfaceResponse {
	return InterfaceResponse{Immediate: Response{Error: err, Ret: ret}}
}

// InterfaceResponse is either an immediate result or a deferred one. When
// Pending is non-nil the caller is parked until it resolves.
type InterfaceResponse struct {
	Immediate Response
	Pending   *InFlightSystemCallHandle
}

// IsPending reports whether the result is deferred.
func (r InterfaceResponse) IsPending() bool { return r.Pending != nil }

// interfaceError reports a handler-specific failure.
func interfaceError(inner uint64) InterfaceResponse {
	return Immediate(abi.InterfaceError, inner)
}

// Interface is the get/set surface every interface exposes. The calling
// thread is borrowed for the duration of the call.
type Interface interface {
	TypeID() uint64
	Get(k *Kernel, thread *tab.Tab[Thread], index, key uint64) InterfaceResponse
	Set(k *Kernel, thread *tab.Tab[Thread], index, key, value uint64) InterfaceResponse
}

// KernelInterface is an interface implemented by the kernel itself and
// addressed in the kernel namespace.
type KernelInterface interface {
	Interface
}

// RingInterface is a user-facing interface registered on a ring. It is
// addressed by its registry identifier.
type RingInterface struct {
	id    uint64
	ring  uint64
	iface Interface
}

func (r *RingInterface) ID() uint64           { return r.id }
func (r *RingInterface) RingID() uint64       { return r.ring }
func (r *RingInterface) Interface() Interface { return r.iface }

// RegisterInterface registers iface on ring. It becomes discoverable through
// the interface query interfaces and addressable by the returned id.
func RegisterInterface(k *Kernel, ring *tab.Tab[Ring], iface Interface) (uint64, error) {
	ri, err := tab.Add(k.table, &RingInterface{ring: ring.ID(), iface: iface})
	if err != nil {
		return 0, oom("ring interface", err)
	}
	id := ri.ID()
	ri.WithMut(func(v *RingInterface) { v.id = id })

	byType := ri.Clone()
	ring.WithMut(func(r *Ring) {
		r.interfaces = append(r.interfaces, ri)
		r.byType[iface.TypeID()] = append(r.byType[iface.TypeID()], byType)
	})
	k.log.Debug("interface registered", "ring", hexID(ring.ID()), "type", iface.TypeID(), "id", hexID(id))
	return id, nil
}
