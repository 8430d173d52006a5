package rootring

import (
	"oro/oroos/abi"
	"oro/oroos/kernel"
	"oro/oroos/tab"
)

var (
	keyHealth   = abi.Key("health")
	keyProducer = abi.Key("prodtkn")
	keyConsumer = abi.Key("cnsmtkn")

	// CodeClaimed is returned when another instance holds the endpoint.
	CodeClaimed = abi.Key("claimed")
)

// healthValue lets test modules check they reached the interface.
const healthValue = 1337

// TestPorts hands out the two ends of a single port so that two modules can
// exercise the port handshake.
type TestPorts struct {
	port *tab.Tab[kernel.Port]
}

// NewTestPorts creates the port backing the interface.
func NewTestPorts(k *kernel.Kernel) (*TestPorts, error) {
	p, err := kernel.NewPort(k, kernel.PortConfig{})
	if err != nil {
		return nil, err
	}
	return &TestPorts{port: p}, nil
}

func (p *TestPorts) TypeID() uint64 { return abi.RootTestPortsV0 }

// Port returns the backing port. The handle is borrowed.
func (p *TestPorts) Port() *tab.Tab[kernel.Port] { return p.port }

func (p *TestPorts) Get(k *kernel.Kernel, th *tab.Tab[kernel.Thread], index, key uint64) kernel.InterfaceResponse {
	if index != 0 {
		return kernel.Immediate(abi.BadIndex, 0)
	}
	var tok *tab.Tab[kernel.Token]
	switch key {
	case keyHealth:
		return kernel.Immediate(abi.Ok, healthValue)
	case keyProducer:
		p.port.With(func(port *kernel.Port) { tok = port.Producer() })
	case keyConsumer:
		p.port.With(func(port *kernel.Port) { tok = port.Consumer() })
	default:
		return kernel.Immediate(abi.BadKey, 0)
	}

	inst := kernel.CallerInstance(th)
	defer inst.Release()
	var owner uint64
	tok.With(func(t *kernel.Token) { owner = t.Owner() })
	if owner != 0 && owner != inst.ID() {
		return kernel.Immediate(abi.InterfaceError, CodeClaimed)
	}
	if err := kernel.GrantToken(k, inst, tok); err != nil {
		return kernel.Immediate(abi.InterfaceError, CodeClaimed)
	}
	return kernel.Immediate(abi.Ok, tok.ID())
}

func (p *TestPorts) Set(_ *kernel.Kernel, _ *tab.Tab[kernel.Thread], index, key, _ uint64) kernel.InterfaceResponse {
	if index != 0 {
		return kernel.Immediate(abi.BadIndex, 0)
	}
	switch key {
	case keyHealth, keyProducer, keyConsumer:
		return kernel.Immediate(abi.ReadOnly, 0)
	}
	return kernel.Immediate(abi.BadKey, 0)
}
