package hal

import (
	"errors"

	"github.com/hashicorp/go-hclog"
)

// PageSize is the only page size the kernel core deals in.
const PageSize = 4096

var (
	ErrNotImplemented = errors.New("not implemented")

	// Address space errors.
	ErrExists      = errors.New("address already mapped")
	ErrNotMapped   = errors.New("address not mapped")
	ErrNotAligned  = errors.New("address not page aligned")
	ErrOutOfRange  = errors.New("address outside of segment")
	ErrOutOfMemory = errors.New("out of physical memory")
)

// FrameAllocator hands out and takes back physical page frames.
type FrameAllocator interface {
	Allocate() (frame uint64, ok bool)
	Free(frame uint64)
}

// PhysMem translates a physical page frame into a kernel-visible view.
//
// Page panics if phys is not a valid, page-aligned frame.
type PhysMem interface {
	Page(phys uint64) []byte
}

// Segment is an inclusive virtual address range.
type Segment struct {
	First uint64
	Last  uint64
}

// Contains reports whether virt resides within the segment.
func (s Segment) Contains(virt uint64) bool {
	return virt >= s.First && virt <= s.Last
}

// ContainsRange reports whether [virt, virt+size) resides within the segment.
func (s Segment) ContainsRange(virt, size uint64) bool {
	if size == 0 {
		return s.Contains(virt)
	}
	end := virt + size - 1
	if end < virt {
		return false
	}
	return s.Contains(virt) && s.Contains(end)
}

// Layout describes the segments of every address space.
type Layout struct {
	// UserData is where tokens may be mapped.
	UserData Segment
	// ThreadStack holds thread stacks.
	ThreadStack Segment
	// Kernel is the supervisor region shared into every user space.
	Kernel Segment
}

// MemoryRegion is a usable physical memory range [Base, Base+Length).
type MemoryRegion struct {
	Base   uint64
	Length uint64
}

// AddressSpace maps virtual pages onto physical frames.
type AddressSpace interface {
	Map(virt, phys uint64) error
	Remap(virt, phys uint64) (old uint64, err error)
	Unmap(virt uint64) (phys uint64, err error)
	Translate(virt uint64) (phys uint64, ok bool)
	// Free releases the address space's own bookkeeping frames. Mapped
	// frames are not reclaimed; they belong to whoever mapped them.
	Free()
}

// Time provides a base tick stream.
//
// The tick duration is platform-defined; cores use it as the timer interrupt.
type Time interface {
	Ticks() <-chan uint64
}

// InterruptState is an opaque saved interrupt mask.
type InterruptState uint64

// Arch is the processor-level control surface.
type Arch interface {
	Halt()
	DisableInterrupts() InterruptState
	RestoreInterrupts(InterruptState)
}

// HAL provides the only contact point between the kernel and the machine.
type HAL interface {
	Arch
	Logger() hclog.Logger
	Time() Time
	PhysMem() PhysMem
	Layout() Layout
	// Memory reports the usable physical memory regions, as discovered at boot.
	Memory() []MemoryRegion
	// SupervisorSpace returns the kernel's own address space. It is only
	// consulted while bringing up the root ring.
	SupervisorSpace() AddressSpace
	// NewUserSpace creates an empty user address space with the kernel
	// segment provisioned.
	NewUserSpace(frames FrameAllocator) (AddressSpace, error)
	// DuplicateSpace creates a shallow copy of src: mappings are shared,
	// bookkeeping is not.
	DuplicateSpace(src AddressSpace, frames FrameAllocator) (AddressSpace, error)
}
