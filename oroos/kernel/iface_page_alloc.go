package kernel

import (
	"oro/oroos/abi"
	"oro/oroos/tab"
)

var index4KiB = abi.Key("4kib")

// pageAllocV0 issues new tokens. The key of a get is the page count; the
// token is placed in the caller's instance.
type pageAllocV0 struct{}

func (pageAllocV0) TypeID() uint64 { return abi.KernelPageAllocV0 }

func (pageAllocV0) Get(k *Kernel, th *tab.Tab[Thread], index, pages uint64) InterfaceResponse {
	if index != index4KiB {
		return Immediate(abi.BadIndex, 0)
	}
	tok, err := NewToken(k, pages)
	if err != nil {
		return errorResponse(err)
	}
	defer tok.Release()

	inst := CallerInstance(th)
	defer inst.Release()
	if err := InsertToken(inst, tok); err != nil {
		return errorResponse(err)
	}
	return Immediate(abi.Ok, tok.ID())
}

func (pageAllocV0) Set(*Kernel, *tab.Tab[Thread], uint64, uint64, uint64) InterfaceResponse {
	return Immediate(abi.NotImplemented, 0)
}
