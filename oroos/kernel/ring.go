package kernel

import (
	"oro/hal"
	"oro/oroos/tab"
)

// Ring is an isolation domain. Rings form a single-rooted tree; instances on
// a ring can see instances on their own ring and on descendant rings, never
// on siblings or ancestors.
type Ring struct {
	id uint64
	// parent is a weak reference, resolved by lookup. Zero for the root.
	parent    uint64
	instances []*tab.Tab[Instance]
	children  []*tab.Tab[Ring]
	mapper    hal.AddressSpace

	interfaces []*tab.Tab[RingInterface]
	byType     map[uint64][]*tab.Tab[RingInterface]
}

func (r *Ring) ID() uint64               { return r.id }
func (r *Ring) ParentID() uint64         { return r.parent }
func (r *Ring) IsRoot() bool             { return r.parent == 0 }
func (r *Ring) Mapper() hal.AddressSpace { return r.mapper }
func (r *Ring) InstanceCount() int       { return len(r.instances) }
func (r *Ring) ChildCount() int          { return len(r.children) }
func (r *Ring) InterfaceTypeCount() int  { return len(r.byType) }
func (r *Ring) Instances() []uint64      { return tabIDs(r.instances) }
func (r *Ring) Children() []uint64       { return tabIDs(r.children) }
func (r *Ring) Interfaces() []uint64     { return tabIDs(r.interfaces) }

// InterfacesOfType returns the identifiers of the ring's interfaces of the
// given type, in registration order.
func (r *Ring) InterfacesOfType(typeID uint64) []uint64 {
	return tabIDs(r.byType[typeID])
}

func (r *Ring) Drop() {
	for _, i := range r.interfaces {
		i.Release()
	}
	for _, ts := range r.byType {
		for _, t := range ts {
			t.Release()
		}
	}
	for _, c := range r.children {
		c.Release()
	}
	for _, i := range r.instances {
		i.Release()
	}
	r.interfaces, r.byType, r.children, r.instances = nil, nil, nil, nil
	if r.mapper != nil {
		r.mapper.Free()
		r.mapper = nil
	}
}

// NewRootRing creates the root ring. It may only be called once per kernel,
// during bring-up; its address space is derived from the supervisor's.
func NewRootRing(k *Kernel) (*tab.Tab[Ring], error) {
	if !k.rootOnce.CompareAndSwap(false, true) {
		return nil, ErrRootExists
	}
	mapper, err := k.hal.DuplicateSpace(k.hal.SupervisorSpace(), k.frames)
	if err != nil {
		k.rootOnce.Store(false)
		return nil, oom("root ring address space", err)
	}
	r, err := tab.Add(k.table, &Ring{mapper: mapper, byType: map[uint64][]*tab.Tab[RingInterface]{}})
	if err != nil {
		mapper.Free()
		k.rootOnce.Store(false)
		return nil, oom("root ring", err)
	}
	r.WithMut(func(ring *Ring) { ring.id = r.ID() })

	k.root = r.Clone()
	k.addRing(r)
	k.log.Debug("root ring created", "ring", hexID(r.ID()))
	return r, nil
}

// NewRing creates a ring as a child of parent.
func NewRing(k *Kernel, parent *tab.Tab[Ring]) (*tab.Tab[Ring], error) {
	mapper, err := k.hal.NewUserSpace(k.frames)
	if err != nil {
		return nil, oom("ring address space", err)
	}
	r, err := tab.Add(k.table, &Ring{
		parent: parent.ID(),
		mapper: mapper,
		byType: map[uint64][]*tab.Tab[RingInterface]{},
	})
	if err != nil {
		mapper.Free()
		return nil, oom("ring", err)
	}
	r.WithMut(func(ring *Ring) { ring.id = r.ID() })

	parent.WithMut(func(p *Ring) { p.children = append(p.children, r.Clone()) })
	k.addRing(r)
	k.log.Debug("ring created", "ring", hexID(r.ID()), "parent", hexID(parent.ID()))
	return r, nil
}

// IsAncestor reports whether ancestor is ring or one of its ancestors.
func IsAncestor(k *Kernel, ancestor, ring uint64) bool {
	for id := ring; id != 0; {
		if id == ancestor {
			return true
		}
		r, ok := tab.Lookup[Ring](k.table, id)
		if !ok {
			return false
		}
		r.With(func(ring *Ring) { id = ring.parent })
		r.Release()
	}
	return false
}

// CanObserve reports whether an instance on ring observer may see objects
// that live on ring target.
func CanObserve(k *Kernel, observer, target uint64) bool {
	return IsAncestor(k, observer, target)
}

// detachRing removes an empty, non-root ring from its parent and from the
// kernel's ring list.
func detachRing(k *Kernel, r *tab.Tab[Ring]) {
	var parent uint64
	empty := false
	r.With(func(ring *Ring) {
		parent = ring.parent
		empty = len(ring.instances) == 0 && len(ring.children) == 0
	})
	if !empty || parent == 0 {
		return
	}

	p, ok := tab.Lookup[Ring](k.table, parent)
	if ok {
		var gone *tab.Tab[Ring]
		p.WithMut(func(pr *Ring) {
			pr.children, gone = removeTab(pr.children, r.ID())
		})
		if gone != nil {
			gone.Release()
		}
	}
	k.removeRing(r.ID())
	k.log.Debug("ring detached", "ring", hexID(r.ID()))

	if ok {
		detachRing(k, p)
		p.Release()
	}
}

func tabIDs[T any](ts []*tab.Tab[T]) []uint64 {
	ids := make([]uint64, 0, len(ts))
	for _, t := range ts {
		ids = append(ids, t.ID())
	}
	return ids
}

func removeTab[T any](ts []*tab.Tab[T], id uint64) ([]*tab.Tab[T], *tab.Tab[T]) {
	for i, t := range ts {
		if t.ID() == id {
			return append(ts[:i], ts[i+1:]...), t
		}
	}
	return ts, nil
}
