package hal

import (
	"errors"
	"testing"
)

type countingFrames struct {
	next  uint64
	inUse int
}

func (c *countingFrames) Allocate() (uint64, bool) {
	c.next += PageSize
	c.inUse++
	return c.next, true
}

func (c *countingFrames) Free(uint64) { c.inUse-- }

func TestHostSpaceMapping(t *testing.T) {
	h := NewHost(HostConfig{MemoryBytes: 1 << 20, LogLevel: "off"})
	frames := &countingFrames{next: 0x8000_0000}
	s, err := h.NewUserSpace(frames)
	if err != nil {
		t.Fatalf("NewUserSpace() error = %v", err)
	}
	if frames.inUse != 1 {
		t.Fatalf("frames in use = %d, want 1", frames.inUse)
	}

	virt := hostLayout.UserData.First
	if err := s.Map(virt, 0x20_0000); err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if err := s.Map(virt, 0x30_0000); !errors.Is(err, ErrExists) {
		t.Fatalf("Map(again) error = %v, want %v", err, ErrExists)
	}
	if err := s.Map(virt+1, 0x20_0000); !errors.Is(err, ErrNotAligned) {
		t.Fatalf("Map(unaligned) error = %v, want %v", err, ErrNotAligned)
	}
	if err := s.Map(0x1000, 0x20_0000); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Map(below user data) error = %v, want %v", err, ErrOutOfRange)
	}
	if phys, ok := s.Translate(virt + 0x10); !ok || phys != 0x20_0010 {
		t.Fatalf("Translate() = %#x, %v, want 0x200010, true", phys, ok)
	}

	old, err := s.Remap(virt, 0x30_0000)
	if err != nil || old != 0x20_0000 {
		t.Fatalf("Remap() = %#x, %v, want 0x200000, nil", old, err)
	}
	if _, err := s.Unmap(virt); err != nil {
		t.Fatalf("Unmap() error = %v", err)
	}
	if _, err := s.Unmap(virt); !errors.Is(err, ErrNotMapped) {
		t.Fatalf("Unmap(again) error = %v, want %v", err, ErrNotMapped)
	}

	s.Free()
	if frames.inUse != 0 {
		t.Fatalf("frames in use after Free = %d, want 0", frames.inUse)
	}
}

func TestDuplicateSharesMappings(t *testing.T) {
	h := NewHost(HostConfig{MemoryBytes: 1 << 20, LogLevel: "off"})
	frames := &countingFrames{}
	src, err := h.NewUserSpace(frames)
	if err != nil {
		t.Fatalf("NewUserSpace() error = %v", err)
	}
	virt := hostLayout.UserData.First
	_ = src.Map(virt, 0x20_0000)

	dup, err := h.DuplicateSpace(src, frames)
	if err != nil {
		t.Fatalf("DuplicateSpace() error = %v", err)
	}
	if _, ok := dup.Translate(virt); !ok {
		t.Fatalf("duplicate lost mapping at %#x", virt)
	}
	if _, ok := dup.Translate(hostLayout.Kernel.First); !ok {
		t.Fatalf("duplicate lost kernel segment")
	}

	// Bookkeeping is separate.
	_, _ = dup.Unmap(virt)
	if _, ok := src.Translate(virt); !ok {
		t.Fatalf("Unmap on duplicate changed the source")
	}
}

func TestMemoryExcludesKernelImage(t *testing.T) {
	h := NewHost(HostConfig{MemoryBytes: 1 << 20, LogLevel: "off"})
	regions := h.Memory()
	if len(regions) != 1 {
		t.Fatalf("Memory() = %v, want one region", regions)
	}
	r := regions[0]
	if r.Base != hostPhysBase+kernelImagePages*PageSize {
		t.Fatalf("Memory()[0].Base = %#x, want %#x", r.Base, hostPhysBase+kernelImagePages*PageSize)
	}
	if r.Base+r.Length != hostPhysBase+1<<20 {
		t.Fatalf("Memory()[0] end = %#x, want %#x", r.Base+r.Length, hostPhysBase+1<<20)
	}
}

func TestTimerDropsWhenFull(t *testing.T) {
	tm := newHostTimer()
	tm.advance(hostTimerDepth + 5)
	if got := tm.dropped.Load(); got != 5 {
		t.Fatalf("dropped = %d, want 5", got)
	}
	if got := <-tm.Ticks(); got != 1 {
		t.Fatalf("first tick = %d, want 1", got)
	}
	if got := tm.now.Load(); got != hostTimerDepth+5 {
		t.Fatalf("now = %d, want %d", got, hostTimerDepth+5)
	}
}

func TestInterruptMaskBalanced(t *testing.T) {
	h := NewHost(HostConfig{MemoryBytes: 1 << 20, LogLevel: "off"})
	outer := h.DisableInterrupts()
	inner := h.DisableInterrupts()
	if got := h.MaskedSections(); got != 2 {
		t.Fatalf("MaskedSections() = %d, want 2", got)
	}
	h.RestoreInterrupts(inner)
	h.RestoreInterrupts(outer)
	if got := h.MaskedSections(); got != 0 {
		t.Fatalf("MaskedSections() = %d, want 0", got)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("unbalanced RestoreInterrupts() did not panic")
		}
	}()
	h.RestoreInterrupts(outer)
}
