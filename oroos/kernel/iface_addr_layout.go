package kernel

import (
	"oro/hal"
	"oro/oroos/abi"
	"oro/oroos/tab"
)

var (
	indexUserData    = abi.Key("usrdata")
	indexThreadStack = abi.Key("thrdstck")
	keySegmentStart  = abi.Key("start")
	keySegmentEnd    = abi.Key("end")
)

// addrLayoutV0 tells user code where it may place mappings.
type addrLayoutV0 struct{}

func (addrLayoutV0) TypeID() uint64 { return abi.KernelAddrLayoutV0 }

func (addrLayoutV0) Get(k *Kernel, _ *tab.Tab[Thread], index, key uint64) InterfaceResponse {
	var seg hal.Segment
	switch index {
	case indexUserData:
		seg = k.hal.Layout().UserData
	case indexThreadStack:
		seg = k.hal.Layout().ThreadStack
	default:
		return Immediate(abi.BadIndex, 0)
	}
	switch key {
	case keySegmentStart:
		return Immediate(abi.Ok, seg.First)
	case keySegmentEnd:
		return Immediate(abi.Ok, seg.Last)
	}
	return Immediate(abi.BadKey, 0)
}

func (addrLayoutV0) Set(*Kernel, *tab.Tab[Thread], uint64, uint64, uint64) InterfaceResponse {
	return Immediate(abi.ReadOnly, 0)
}
