package kernel

import (
	"errors"
	"fmt"

	"oro/hal"
	"oro/oroos/tab"
)

type mapping struct {
	token uint64
	page  uint64
}

// Instance is a module mounted on a ring. It owns threads, a capability
// table of tokens and an address space.
type Instance struct {
	id     uint64
	module *tab.Tab[Module]
	ring   *tab.Tab[Ring]

	threads []*tab.Tab[Thread]
	tokens  map[uint64]*tab.Tab[Token]
	// vmap reserves user pages for tokens: virtual page -> token page.
	vmap  map[uint64]mapping
	bases map[uint64]uint64

	mapper hal.AddressSpace
	layout hal.Layout
}

func (i *Instance) ID() uint64               { return i.id }
func (i *Instance) RingID() uint64           { return i.ring.ID() }
func (i *Instance) ModuleID() uint64         { return i.module.ID() }
func (i *Instance) Mapper() hal.AddressSpace { return i.mapper }
func (i *Instance) Threads() []uint64        { return tabIDs(i.threads) }

// HasToken reports whether the instance holds token id.
func (i *Instance) HasToken(id uint64) bool {
	_, ok := i.tokens[id]
	return ok
}

// Tokens returns the ids of the tokens the instance holds, in no order.
func (i *Instance) Tokens() []uint64 {
	ids := make([]uint64, 0, len(i.tokens))
	for id := range i.tokens {
		ids = append(ids, id)
	}
	return ids
}

// Base returns where token id is mapped.
func (i *Instance) Base(id uint64) (uint64, bool) {
	b, ok := i.bases[id]
	return b, ok
}

func (i *Instance) Drop() {
	for _, th := range i.threads {
		th.Release()
	}
	for id, t := range i.tokens {
		i.unmapToken(id)
		t.WithMut(func(tok *Token) {
			if tok.owner == i.id {
				tok.owner = 0
			}
		})
		t.Release()
	}
	i.threads, i.tokens = nil, nil
	if i.mapper != nil {
		i.mapper.Free()
		i.mapper = nil
	}
	i.module.Release()
	i.ring.Release()
}

// Mount creates an instance of module on ring with a single pending thread.
func Mount(k *Kernel, module *tab.Tab[Module], ring *tab.Tab[Ring]) (*tab.Tab[Instance], error) {
	var ringSpace hal.AddressSpace
	ring.With(func(r *Ring) { ringSpace = r.mapper })
	mapper, err := k.hal.DuplicateSpace(ringSpace, k.frames)
	if err != nil {
		return nil, oom("instance address space", err)
	}

	var entry any
	module.With(func(m *Module) { entry = m.entry })

	mod, owner := module.Clone(), ring.Clone()
	inst, err := tab.Add(k.table, &Instance{
		module: mod,
		ring:   owner,
		tokens: make(map[uint64]*tab.Tab[Token]),
		vmap:   make(map[uint64]mapping),
		bases:  make(map[uint64]uint64),
		mapper: mapper,
		layout: k.hal.Layout(),
	})
	if err != nil {
		mapper.Free()
		mod.Release()
		owner.Release()
		return nil, oom("instance", err)
	}
	inst.WithMut(func(i *Instance) { i.id = inst.ID() })

	th, err := NewThread(k, inst, entry)
	if err != nil {
		inst.Release()
		return nil, err
	}
	th.Release()

	ring.WithMut(func(r *Ring) { r.instances = append(r.instances, inst.Clone()) })
	k.log.Debug("instance mounted", "instance", hexID(inst.ID()), "ring", hexID(ring.ID()), "module", hexID(module.ID()))
	return inst, nil
}

// unmount removes inst from its ring, detaching the ring once it is empty.
func unmount(k *Kernel, inst *tab.Tab[Instance]) {
	var ring *tab.Tab[Ring]
	inst.With(func(i *Instance) { ring = i.ring.Clone() })

	var gone *tab.Tab[Instance]
	ring.WithMut(func(r *Ring) { r.instances, gone = removeTab(r.instances, inst.ID()) })
	k.log.Debug("instance unmounted", "instance", hexID(inst.ID()), "ring", hexID(ring.ID()))
	if gone != nil {
		gone.Release()
	}
	detachRing(k, ring)
	ring.Release()
}

// InsertToken places token into inst's capability table. The instance takes
// its own reference. A token held by another instance must be granted
// instead.
func InsertToken(inst *tab.Tab[Instance], token *tab.Tab[Token]) error {
	var err error
	inst.WithMut(func(i *Instance) {
		if _, ok := i.tokens[token.ID()]; ok {
			return
		}
		token.WithMut(func(t *Token) {
			if t.owner != 0 && t.owner != i.id {
				err = ErrBadToken
				return
			}
			t.owner = i.id
		})
		if err == nil {
			i.tokens[token.ID()] = token.Clone()
		}
	})
	return err
}

// GrantToken moves token into inst, taking it away from its previous owner
// together with that owner's mapping of it.
func GrantToken(k *Kernel, inst *tab.Tab[Instance], token *tab.Tab[Token]) error {
	var prev uint64
	token.With(func(t *Token) { prev = t.owner })
	if prev == inst.ID() {
		return nil
	}
	if prev != 0 {
		if old, ok := tab.Lookup[Instance](k.table, prev); ok {
			if err := ForgetToken(old, token.ID()); err != nil && !errors.Is(err, ErrNotFound) {
				old.Release()
				return err
			}
			old.Release()
		}
		token.WithMut(func(t *Token) {
			if t.owner == prev {
				t.owner = 0
			}
		})
	}
	return InsertToken(inst, token)
}

// ForgetToken drops inst's capability over token id along with its mapping.
// The frames are reclaimed once nothing else holds the token.
func ForgetToken(inst *tab.Tab[Instance], id uint64) error {
	var gone *tab.Tab[Token]
	inst.WithMut(func(i *Instance) {
		t, ok := i.tokens[id]
		if !ok {
			return
		}
		i.unmapToken(id)
		delete(i.tokens, id)
		t.WithMut(func(tok *Token) {
			if tok.owner == i.id {
				tok.owner = 0
			}
		})
		gone = t
	})
	if gone == nil {
		return fmt.Errorf("token %#x: %w", id, ErrNotFound)
	}
	gone.Release()
	return nil
}

// LookupToken returns inst's handle to token id.
func LookupToken(inst *tab.Tab[Instance], id uint64) (*tab.Tab[Token], bool) {
	var t *tab.Tab[Token]
	inst.With(func(i *Instance) {
		if h, ok := i.tokens[id]; ok {
			t = h.Clone()
		}
	})
	return t, t != nil
}

// MapToken reserves [virt, virt+size) of inst's user data segment for token
// id, replacing the token's previous mapping. Frames are committed when the
// pages are first touched.
func MapToken(inst *tab.Tab[Instance], id, virt uint64) error {
	if virt%hal.PageSize != 0 {
		return ErrNotAligned
	}
	var err error
	inst.WithMut(func(i *Instance) {
		t, ok := i.tokens[id]
		if !ok {
			err = ErrBadToken
			return
		}
		var pages uint64
		t.With(func(tok *Token) { pages = tok.Pages() })
		if !i.layout.UserData.ContainsRange(virt, pages*hal.PageSize) {
			err = ErrOutOfRange
			return
		}
		for p := uint64(0); p < pages; p++ {
			if m, taken := i.vmap[virt+p*hal.PageSize]; taken && m.token != id {
				err = fmt.Errorf("page %#x held by token %#x: %w", virt+p*hal.PageSize, m.token, ErrConflict)
				return
			}
		}
		i.unmapToken(id)
		for p := uint64(0); p < pages; p++ {
			i.vmap[virt+p*hal.PageSize] = mapping{token: id, page: p}
		}
		i.bases[id] = virt
	})
	return err
}

// unmapToken removes every reservation of token id and tears down its
// committed pages. The instance lock must be held.
func (i *Instance) unmapToken(id uint64) {
	base, ok := i.bases[id]
	if !ok {
		return
	}
	delete(i.bases, id)
	for virt := base; ; virt += hal.PageSize {
		m, ok := i.vmap[virt]
		if !ok || m.token != id {
			break
		}
		delete(i.vmap, virt)
		// Committed frames belong to the token.
		_, _ = i.mapper.Unmap(virt)
	}
}

// OnPageFault commits the token page reserved at virt and maps it.
func OnPageFault(inst *tab.Tab[Instance], virt uint64) error {
	page := virt &^ (hal.PageSize - 1)
	var err error
	inst.WithMut(func(i *Instance) {
		m, ok := i.vmap[page]
		if !ok {
			err = fmt.Errorf("fault at %#x: %w", virt, ErrBadVirt)
			return
		}
		var phys uint64
		i.tokens[m.token].WithMut(func(t *Token) { phys, err = t.GetOrAllocate(m.page) })
		if err != nil {
			return
		}
		if err = i.mapper.Map(page, phys); errors.Is(err, hal.ErrExists) {
			err = nil
		} else if err != nil {
			err = oom("commit page", err)
		}
	})
	return err
}
