package kernel

import (
	"fmt"

	"oro/hal"
	"oro/oroos/tab"
)

// FaultError is returned by user memory accessors when a page is not mapped.
// The access should be retried after the fault is handled.
type FaultError struct {
	Addr   uint64
	Access PageFaultAccess
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("page fault at %#x", e.Addr)
}

// PageFault returns the fault to raise on the core.
func (e *FaultError) PageFault() PageFault {
	return PageFault{Addr: e.Addr, Access: e.Access}
}

// ReadUser copies from inst's address space at virt into p.
func ReadUser(k *Kernel, inst *tab.Tab[Instance], virt uint64, p []byte) error {
	return accessUser(k, inst, virt, p, AccessRead)
}

// WriteUser copies p into inst's address space at virt.
func WriteUser(k *Kernel, inst *tab.Tab[Instance], virt uint64, p []byte) error {
	return accessUser(k, inst, virt, p, AccessWrite)
}

func accessUser(k *Kernel, inst *tab.Tab[Instance], virt uint64, p []byte, access PageFaultAccess) error {
	var mapper hal.AddressSpace
	inst.With(func(i *Instance) { mapper = i.mapper })
	if mapper == nil {
		return ErrBadVirt
	}
	phys := k.hal.PhysMem()
	for len(p) > 0 {
		frame, ok := mapper.Translate(virt &^ (hal.PageSize - 1))
		if !ok {
			return &FaultError{Addr: virt, Access: access}
		}
		off := virt % hal.PageSize
		page := phys.Page(frame)[off:hal.PageSize]
		var n int
		if access == AccessWrite {
			n = copy(page, p)
		} else {
			n = copy(p, page)
		}
		p = p[n:]
		virt += uint64(n)
	}
	return nil
}
