package hal

import (
	"fmt"
	"sync"
)

type hostPhys struct {
	base uint64
	mem  []byte
}

func newHostPhys(base, size uint64) *hostPhys {
	return &hostPhys{base: base, mem: make([]byte, size)}
}

func (p *hostPhys) size() uint64 { return uint64(len(p.mem)) }

func (p *hostPhys) Page(phys uint64) []byte {
	if phys%PageSize != 0 {
		panic(fmt.Sprintf("hal: physical address %#x is not page aligned", phys))
	}
	if phys < p.base || phys-p.base+PageSize > p.size() {
		panic(fmt.Sprintf("hal: physical address %#x outside of memory", phys))
	}
	off := phys - p.base
	return p.mem[off : off+PageSize : off+PageSize]
}

// hostSpace stands in for a page table. The root frame is only held so that
// address space creation consumes physical memory like the real thing.
type hostSpace struct {
	mu     sync.Mutex
	layout Layout
	frames FrameAllocator
	root   uint64
	pages  map[uint64]uint64
	freed  bool
}

func newHostSpace(layout Layout, frames FrameAllocator, root uint64) *hostSpace {
	return &hostSpace{
		layout: layout,
		frames: frames,
		root:   root,
		pages:  make(map[uint64]uint64),
	}
}

func (s *hostSpace) check(virt uint64) error {
	if virt%PageSize != 0 {
		return ErrNotAligned
	}
	l := s.layout
	if !l.UserData.Contains(virt) && !l.ThreadStack.Contains(virt) && !l.Kernel.Contains(virt) {
		return ErrOutOfRange
	}
	return nil
}

func (s *hostSpace) Map(virt, phys uint64) error {
	if err := s.check(virt); err != nil {
		return err
	}
	if phys%PageSize != 0 {
		return ErrNotAligned
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[virt]; ok {
		return ErrExists
	}
	s.pages[virt] = phys
	return nil
}

func (s *hostSpace) Remap(virt, phys uint64) (uint64, error) {
	if err := s.check(virt); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.pages[virt]
	if !ok {
		return 0, ErrNotMapped
	}
	s.pages[virt] = phys
	return old, nil
}

func (s *hostSpace) Unmap(virt uint64) (uint64, error) {
	if err := s.check(virt); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	phys, ok := s.pages[virt]
	if !ok {
		return 0, ErrNotMapped
	}
	delete(s.pages, virt)
	return phys, nil
}

func (s *hostSpace) Translate(virt uint64) (uint64, bool) {
	page := virt &^ (PageSize - 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	phys, ok := s.pages[page]
	if !ok {
		return 0, false
	}
	return phys + virt%PageSize, true
}

func (s *hostSpace) Free() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.freed {
		panic("hal: address space freed twice")
	}
	s.freed = true
	s.pages = nil
	if s.frames != nil {
		s.frames.Free(s.root)
	}
}

func (s *hostSpace) copyInto(dst *hostSpace, seg Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dst.mu.Lock()
	defer dst.mu.Unlock()
	for virt, phys := range s.pages {
		if seg.Contains(virt) {
			dst.pages[virt] = phys
		}
	}
}
