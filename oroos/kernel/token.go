package kernel

import (
	"fmt"
	"sync/atomic"

	"oro/hal"
	"oro/oroos/tab"
)

// TokenKind identifies a token flavor. Values are tag keys, so they can be
// reported through the memory token interface as-is.
type TokenKind uint64

const (
	TokenNormal  TokenKind = 0x6e6f726d616c   // "normal"
	TokenSlotMap TokenKind = 0x736c6f746d6170 // "slotmap"
)

// PortEnd tags a slot map token as one side of a port.
type PortEnd uint64

const (
	PortProducer PortEnd = 0x70726f64 // "prod"
	PortConsumer PortEnd = 0x636e736d // "cnsm"
)

const noFrame = ^uint64(0)

// Token is a capability over a range of physical pages.
type Token struct {
	id     uint64
	kind   TokenKind
	end    PortEnd
	frames []uint64
	alloc  hal.FrameAllocator
	// owner is the id of the instance holding the token, zero if none.
	owner uint64
	// shared is set for slot map tokens; the port pages outlive the token
	// until every endpoint is dropped.
	shared *portPages
	port   uint64
}

func (t *Token) ID() uint64       { return t.id }
func (t *Token) Kind() TokenKind  { return t.kind }
func (t *Token) End() PortEnd     { return t.end }
func (t *Token) Pages() uint64    { return uint64(len(t.frames)) }
func (t *Token) Size() uint64     { return uint64(len(t.frames)) * hal.PageSize }
func (t *Token) PageSize() uint64 { return hal.PageSize }
func (t *Token) Owner() uint64    { return t.owner }
func (t *Token) PortID() uint64   { return t.port }

// Commit returns the number of pages backed by a frame.
func (t *Token) Commit() uint64 {
	var n uint64
	for _, f := range t.frames {
		if f != noFrame {
			n++
		}
	}
	return n
}

// Frame returns the frame backing page idx, if committed.
func (t *Token) Frame(idx uint64) (uint64, bool) {
	if idx >= uint64(len(t.frames)) || t.frames[idx] == noFrame {
		return 0, false
	}
	return t.frames[idx], true
}

// GetOrAllocate returns the frame backing page idx, committing a fresh one on
// first touch.
func (t *Token) GetOrAllocate(idx uint64) (uint64, error) {
	if idx >= uint64(len(t.frames)) {
		return 0, fmt.Errorf("token page %d of %d: %w", idx, len(t.frames), ErrOutOfRange)
	}
	if f := t.frames[idx]; f != noFrame {
		return f, nil
	}
	f, ok := t.alloc.Allocate()
	if !ok {
		return 0, ErrOutOfMemory
	}
	t.frames[idx] = f
	return f, nil
}

func (t *Token) Drop() {
	if t.shared != nil {
		t.shared.release()
		t.shared = nil
		t.frames = nil
		return
	}
	for i, f := range t.frames {
		if f != noFrame {
			t.alloc.Free(f)
			t.frames[i] = noFrame
		}
	}
}

// NewToken registers a normal token of pages uncommitted pages.
func NewToken(k *Kernel, pages uint64) (*tab.Tab[Token], error) {
	switch {
	case pages == 0:
		return nil, ErrZeroSize
	case pages > k.maxTokenPages:
		return nil, ErrTooManyPages
	}
	frames := make([]uint64, pages)
	for i := range frames {
		frames[i] = noFrame
	}
	t, err := tab.Add(k.table, &Token{kind: TokenNormal, frames: frames, alloc: k.frames})
	if err != nil {
		return nil, oom("token", err)
	}
	t.WithMut(func(tok *Token) { tok.id = t.ID() })
	return t, nil
}

// portPages is the physical backing of a port, shared by its two endpoint
// tokens.
type portPages struct {
	frames []uint64
	alloc  hal.FrameAllocator
	refs   atomic.Int32
}

func (p *portPages) release() {
	if p.refs.Add(-1) != 0 {
		return
	}
	for _, f := range p.frames {
		p.alloc.Free(f)
	}
	p.frames = nil
}
