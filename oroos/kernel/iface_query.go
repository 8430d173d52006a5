package kernel

import (
	"oro/oroos/abi"
	"oro/oroos/tab"
)

var keyIfaceCount = abi.Key("icount")

// ifaceQueryByTypeV0 enumerates the caller ring's interfaces of a type. The
// index is the type id, the key the position.
type ifaceQueryByTypeV0 struct{}

func (ifaceQueryByTypeV0) TypeID() uint64 { return abi.KernelIfaceQueryByTypeV0 }

func (ifaceQueryByTypeV0) Get(k *Kernel, th *tab.Tab[Thread], index, key uint64) InterfaceResponse {
	ids := ringInterfacesOfType(k, th, index)
	if len(ids) == 0 {
		return Immediate(abi.BadIndex, 0)
	}
	if key >= uint64(len(ids)) {
		return Immediate(abi.BadKey, 0)
	}
	return Immediate(abi.Ok, ids[key])
}

func (ifaceQueryByTypeV0) Set(*Kernel, *tab.Tab[Thread], uint64, uint64, uint64) InterfaceResponse {
	return Immediate(abi.ReadOnly, 0)
}

// ifaceTypeMetaV0 reports per-type metadata of the caller ring's interfaces.
// A type with no interfaces on the ring is an unknown index.
type ifaceTypeMetaV0 struct{}

func (ifaceTypeMetaV0) TypeID() uint64 { return abi.KernelIfaceTypeMetaV0 }

func (ifaceTypeMetaV0) Get(k *Kernel, th *tab.Tab[Thread], index, key uint64) InterfaceResponse {
	ids := ringInterfacesOfType(k, th, index)
	if len(ids) == 0 {
		return Immediate(abi.BadIndex, 0)
	}
	if key != keyIfaceCount {
		return Immediate(abi.BadKey, 0)
	}
	return Immediate(abi.Ok, uint64(len(ids)))
}

func (ifaceTypeMetaV0) Set(*Kernel, *tab.Tab[Thread], uint64, uint64, uint64) InterfaceResponse {
	return Immediate(abi.ReadOnly, 0)
}

func ringInterfacesOfType(k *Kernel, th *tab.Tab[Thread], typeID uint64) []uint64 {
	var ringID uint64
	th.With(func(t *Thread) { ringID = t.ring })
	ring, ok := tab.Lookup[Ring](k.table, ringID)
	if !ok {
		return nil
	}
	defer ring.Release()
	var ids []uint64
	ring.With(func(r *Ring) { ids = r.InterfacesOfType(typeID) })
	return ids
}
