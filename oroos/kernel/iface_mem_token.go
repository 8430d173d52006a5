package kernel

import (
	"oro/oroos/abi"
	"oro/oroos/tab"
)

var (
	keyTokenType     = abi.Key("type")
	keyTokenPageSize = abi.Key("pagesize")
	keyTokenPages    = abi.Key("pages")
	keyTokenSize     = abi.Key("size")
	keyTokenCommit   = abi.Key("commit")
	keyTokenBase     = abi.Key("base")
	keyTokenForget   = abi.Key("forget")
)

// memTokenV0 inspects and maps tokens held by the caller's instance. The
// index is the token id.
type memTokenV0 struct{}

func (memTokenV0) TypeID() uint64 { return abi.KernelMemTokenV0 }

func (memTokenV0) Get(k *Kernel, th *tab.Tab[Thread], index, key uint64) InterfaceResponse {
	inst := CallerInstance(th)
	defer inst.Release()
	tok, ok := LookupToken(inst, index)
	if !ok {
		return Immediate(abi.BadIndex, 0)
	}
	defer tok.Release()

	r := Immediate(abi.Ok, 0)
	tok.With(func(t *Token) {
		switch key {
		case keyTokenType:
			r.Immediate.Ret = uint64(t.kind)
		case keyTokenPageSize:
			r.Immediate.Ret = t.PageSize()
		case keyTokenPages:
			r.Immediate.Ret = t.Pages()
		case keyTokenSize:
			r.Immediate.Ret = t.Size()
		case keyTokenCommit:
			r.Immediate.Ret = t.Commit()
		case keyTokenBase, keyTokenForget:
			r = Immediate(abi.WriteOnly, 0)
		default:
			r = Immediate(abi.BadKey, 0)
		}
	})
	return r
}

func (memTokenV0) Set(k *Kernel, th *tab.Tab[Thread], index, key, value uint64) InterfaceResponse {
	inst := CallerInstance(th)
	defer inst.Release()
	var held bool
	inst.With(func(i *Instance) { held = i.HasToken(index) })
	if !held {
		return Immediate(abi.BadIndex, 0)
	}

	switch key {
	case keyTokenBase:
		if err := MapToken(inst, index, value); err != nil {
			return errorResponse(err)
		}
		return Immediate(abi.Ok, 0)
	case keyTokenForget:
		if err := ForgetToken(inst, index); err != nil {
			// Lost a race with another forget.
			return Immediate(abi.BadIndex, 0)
		}
		return Immediate(abi.Ok, 0)
	case keyTokenType, keyTokenPageSize, keyTokenPages, keyTokenSize, keyTokenCommit:
		return Immediate(abi.ReadOnly, 0)
	}
	return Immediate(abi.BadKey, 0)
}
