package hal

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
)

// HostConfig controls the simulated machine.
type HostConfig struct {
	// MemoryBytes of simulated physical memory (default 16 MiB).
	MemoryBytes uint64
	// LogLevel is an hclog level name (default "info").
	LogLevel string
	// LogOutput defaults to stderr.
	LogOutput io.Writer
}

const (
	defaultMemoryBytes = 16 << 20
	// hostPhysBase keeps frame zero out of the pool.
	hostPhysBase = 0x0010_0000
	// kernelImagePages are reserved for the supervisor space at boot.
	kernelImagePages = 16
)

// hostMasked is the state handed out by DisableInterrupts.
const hostMasked InterruptState = 1

var hostLayout = Layout{
	UserData:    Segment{First: 0x0000_0000_0040_0000, Last: 0x0000_3FFF_FFFF_FFFF},
	ThreadStack: Segment{First: 0x0000_7F00_0000_0000, Last: 0x0000_7FFF_FFFF_FFFF},
	Kernel:      Segment{First: 0xFFFF_8000_0000_0000, Last: 0xFFFF_FFFF_FFFF_FFFF},
}

type hostHAL struct {
	logger hclog.Logger
	t      *hostTimer
	phys   *hostPhys
	super  *hostSpace

	// masked counts sections running with interrupts masked, across all
	// cores. Host cores are goroutines, so masking is bookkeeping only.
	masked atomic.Int64
	halted atomic.Bool
}

// Host is the host HAL with simulation-only controls.
type Host interface {
	HAL
	// Halted reports whether any core halted.
	Halted() bool
	// StepTime advances the tick stream by n ticks.
	StepTime(n uint64)
	// MaskedSections counts DisableInterrupts calls not yet restored.
	MaskedSections() int64
}

// New returns a host HAL implementation with default configuration.
func New() Host {
	return NewHost(HostConfig{})
}

// NewHost returns a host HAL implementation.
func NewHost(cfg HostConfig) Host {
	if cfg.MemoryBytes == 0 {
		cfg.MemoryBytes = defaultMemoryBytes
	}
	cfg.MemoryBytes &^= PageSize - 1
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogOutput == nil {
		cfg.LogOutput = os.Stderr
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "oro",
		Level:  hclog.LevelFromString(cfg.LogLevel),
		Output: cfg.LogOutput,
	})

	phys := newHostPhys(hostPhysBase, cfg.MemoryBytes)
	super := newHostSpace(hostLayout, nil, 0)
	for i := uint64(0); i < kernelImagePages; i++ {
		// The kernel image occupies the first frames; the supervisor maps
		// it at the base of the kernel segment.
		_ = super.Map(hostLayout.Kernel.First+i*PageSize, hostPhysBase+i*PageSize)
	}

	return &hostHAL{
		logger: logger,
		t:      newHostTimer(),
		phys:   phys,
		super:  super,
	}
}

func (h *hostHAL) Logger() hclog.Logger { return h.logger }
func (h *hostHAL) Time() Time           { return h.t }
func (h *hostHAL) PhysMem() PhysMem     { return h.phys }
func (h *hostHAL) Layout() Layout       { return hostLayout }

func (h *hostHAL) StepTime(n uint64) { h.t.advance(n) }

func (h *hostHAL) Memory() []MemoryRegion {
	reserved := uint64(kernelImagePages * PageSize)
	if h.phys.size() <= reserved {
		return nil
	}
	return []MemoryRegion{{
		Base:   h.phys.base + reserved,
		Length: h.phys.size() - reserved,
	}}
}

func (h *hostHAL) SupervisorSpace() AddressSpace { return h.super }

func (h *hostHAL) NewUserSpace(frames FrameAllocator) (AddressSpace, error) {
	root, ok := frames.Allocate()
	if !ok {
		return nil, ErrOutOfMemory
	}
	s := newHostSpace(hostLayout, frames, root)
	h.super.copyInto(s, hostLayout.Kernel)
	return s, nil
}

func (h *hostHAL) DuplicateSpace(src AddressSpace, frames FrameAllocator) (AddressSpace, error) {
	from, ok := src.(*hostSpace)
	if !ok {
		return nil, ErrNotImplemented
	}
	root, ok := frames.Allocate()
	if !ok {
		return nil, ErrOutOfMemory
	}
	s := newHostSpace(hostLayout, frames, root)
	from.copyInto(s, Segment{First: 0, Last: ^uint64(0)})
	return s, nil
}

// Halt parks the calling core. On the host the core loop observes Halted
// and returns instead of spinning forever.
func (h *hostHAL) Halt() {
	if h.halted.CompareAndSwap(false, true) {
		h.logger.Error("core halted")
	}
}

func (h *hostHAL) Halted() bool { return h.halted.Load() }

func (h *hostHAL) DisableInterrupts() InterruptState {
	h.masked.Add(1)
	return hostMasked
}

func (h *hostHAL) RestoreInterrupts(s InterruptState) {
	if s != hostMasked {
		return
	}
	if h.masked.Add(-1) < 0 {
		panic("hal: interrupts restored without a matching mask")
	}
}

func (h *hostHAL) MaskedSections() int64 { return h.masked.Load() }
