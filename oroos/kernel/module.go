package kernel

import "oro/oroos/tab"

// Module is an executable image. Mounting a module onto a ring spawns an
// Instance of it. The entry is architecture-defined and opaque here.
type Module struct {
	id    uint64
	name  string
	entry any
}

func (m *Module) ID() uint64   { return m.id }
func (m *Module) Name() string { return m.name }
func (m *Module) Entry() any   { return m.entry }

// NewModule registers an executable image.
func NewModule(k *Kernel, name string, entry any) (*tab.Tab[Module], error) {
	m, err := tab.Add(k.table, &Module{name: name, entry: entry})
	if err != nil {
		return nil, oom("module", err)
	}
	m.WithMut(func(mod *Module) { mod.id = m.ID() })
	return m, nil
}
