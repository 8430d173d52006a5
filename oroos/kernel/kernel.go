// Package kernel implements the Oro object graph (rings, instances, threads,
// tokens and ports), the system call dispatch surface that exposes it, and
// the per-core scheduler event hooks.
package kernel

import (
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"oro/hal"
	"oro/oroos/abi"
	"oro/oroos/ksync"
	"oro/oroos/pfa"
	"oro/oroos/tab"
)

const defaultMaxTokenPages = 1 << 20

// Kernel holds the system-wide state shared by every core.
type Kernel struct {
	hal    hal.HAL
	log    hclog.Logger
	table  *tab.Table
	frames *frames

	maxTokenPages uint64

	ifaceLock ksync.RWSpinLock
	ifaces    map[uint64]KernelInterface

	rootOnce atomic.Bool
	root     *tab.Tab[Ring]

	ringsLock ksync.SpinLock
	rings     []*tab.Tab[Ring]

	runq  runQueue
	panic panicState
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithTable uses t as the handle registry.
func WithTable(t *tab.Table) Option {
	return func(k *Kernel) { k.table = t }
}

// WithMaxTokenPages bounds the size of a single page allocation.
func WithMaxTokenPages(n uint64) Option {
	return func(k *Kernel) { k.maxTokenPages = n }
}

// New creates a kernel over h whose physical memory is issued by alloc.
// alloc is serialized internally; it must not be shared with anything else.
func New(h hal.HAL, alloc pfa.Alloc, opts ...Option) *Kernel {
	k := &Kernel{
		hal:           h,
		log:           h.Logger().Named("kernel"),
		maxTokenPages: defaultMaxTokenPages,
		ifaces:        make(map[uint64]KernelInterface),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.table == nil {
		k.table = tab.New()
	}
	k.frames = &frames{arch: h, pfa: pfa.NewLocked(alloc)}

	for _, iface := range builtinInterfaces() {
		k.ifaces[iface.TypeID()] = iface
	}
	return k
}

// HAL returns the architecture the kernel runs on.
func (k *Kernel) HAL() hal.HAL { return k.hal }

// Logger returns the kernel logger.
func (k *Kernel) Logger() hclog.Logger { return k.log }

// Table returns the handle registry.
func (k *Kernel) Table() *tab.Table { return k.table }

// Frames returns the kernel's frame allocator.
func (k *Kernel) Frames() hal.FrameAllocator { return k.frames }

// FramesInUse reports the number of frames currently handed out.
func (k *Kernel) FramesInUse() int64 { return k.frames.pfa.InUse() }

// Root returns the root ring, or nil before NewRootRing. The handle is
// borrowed; do not release it.
func (k *Kernel) Root() *tab.Tab[Ring] { return k.root }

// Rings returns the identifiers of every live ring, in creation order.
func (k *Kernel) Rings() []uint64 {
	k.ringsLock.Lock()
	defer k.ringsLock.Unlock()
	ids := make([]uint64, 0, len(k.rings))
	for _, r := range k.rings {
		ids = append(ids, r.ID())
	}
	return ids
}

func (k *Kernel) addRing(r *tab.Tab[Ring]) {
	k.ringsLock.Lock()
	k.rings = append(k.rings, r.Clone())
	k.ringsLock.Unlock()
}

func (k *Kernel) removeRing(id uint64) {
	k.ringsLock.Lock()
	var gone *tab.Tab[Ring]
	for i, r := range k.rings {
		if r.ID() == id {
			gone = r
			k.rings = append(k.rings[:i], k.rings[i+1:]...)
			break
		}
	}
	k.ringsLock.Unlock()
	if gone != nil {
		gone.Release()
	}
}

// RegisterKernelInterface installs an architecture-specific kernel
// interface. Its type id must lie in the architecture sub-range.
func (k *Kernel) RegisterKernelInterface(iface KernelInterface) {
	id := iface.TypeID()
	if !abi.IsArchIface(id) {
		panic("kernel: architecture interface id outside of the architecture range")
	}
	k.ifaceLock.Lock()
	defer k.ifaceLock.Unlock()
	if _, dup := k.ifaces[id]; dup {
		panic("kernel: kernel interface registered twice")
	}
	k.ifaces[id] = iface
}

func (k *Kernel) kernelInterface(id uint64) (KernelInterface, bool) {
	k.ifaceLock.RLock()
	defer k.ifaceLock.RUnlock()
	iface, ok := k.ifaces[id]
	return iface, ok
}

// frames serializes the frame allocator and masks interrupts while the
// allocator lock is held.
type frames struct {
	arch hal.Arch
	pfa  *pfa.Locked
}

func (f *frames) Allocate() (uint64, bool) {
	st := f.arch.DisableInterrupts()
	defer f.arch.RestoreInterrupts(st)
	return f.pfa.Allocate()
}

func (f *frames) Free(frame uint64) {
	st := f.arch.DisableInterrupts()
	defer f.arch.RestoreInterrupts(st)
	f.pfa.Free(frame)
}

func hexID(id uint64) hclog.Format { return hclog.Fmt("%#x", id) }
