package kernel

import (
	"oro/hal"
	"oro/oroos/tab"
)

// PortConfig tunes port creation.
type PortConfig struct {
	// SharedPage backs both endpoints with the same physical page.
	SharedPage bool
}

// Port is a producer/consumer pair of slot map tokens over zero-filled
// pages.
type Port struct {
	id       uint64
	producer *tab.Tab[Token]
	consumer *tab.Tab[Token]
	// Views of the endpoint pages, valid for as long as the port lives.
	producerPage []byte
	consumerPage []byte
}

func (p *Port) ID() uint64                { return p.id }
func (p *Port) Producer() *tab.Tab[Token] { return p.producer }
func (p *Port) Consumer() *tab.Tab[Token] { return p.consumer }
func (p *Port) ProducerPage() []byte      { return p.producerPage }
func (p *Port) ConsumerPage() []byte      { return p.consumerPage }

func (p *Port) Drop() {
	p.producer.Release()
	p.consumer.Release()
	p.producerPage, p.consumerPage = nil, nil
}

// NewPort allocates and zero-fills the port pages and registers the port
// and both endpoint tokens. On failure nothing is leaked.
func NewPort(k *Kernel, cfg PortConfig) (*tab.Tab[Port], error) {
	n := 2
	if cfg.SharedPage {
		n = 1
	}
	pages := &portPages{alloc: k.frames}
	for i := 0; i < n; i++ {
		f, ok := k.frames.Allocate()
		if !ok {
			for _, f := range pages.frames {
				k.frames.Free(f)
			}
			return nil, ErrOutOfMemory
		}
		clear(k.hal.PhysMem().Page(f))
		pages.frames = append(pages.frames, f)
	}
	prodFrame, cnsmFrame := pages.frames[0], pages.frames[n-1]
	pages.refs.Store(2)

	prod, err := newSlotMapToken(k, PortProducer, prodFrame, pages)
	if err != nil {
		pages.refs.Store(1)
		pages.release()
		return nil, err
	}
	cnsm, err := newSlotMapToken(k, PortConsumer, cnsmFrame, pages)
	if err != nil {
		prod.Release()
		pages.release()
		return nil, err
	}

	phys := k.hal.PhysMem()
	p, err := tab.Add(k.table, &Port{
		producer:     prod,
		consumer:     cnsm,
		producerPage: phys.Page(prodFrame)[:hal.PageSize],
		consumerPage: phys.Page(cnsmFrame)[:hal.PageSize],
	})
	if err != nil {
		prod.Release()
		cnsm.Release()
		return nil, oom("port", err)
	}
	id := p.ID()
	p.WithMut(func(port *Port) { port.id = id })
	prod.WithMut(func(t *Token) { t.port = id })
	cnsm.WithMut(func(t *Token) { t.port = id })
	k.log.Debug("port created", "port", hexID(id), "producer", hexID(prod.ID()), "consumer", hexID(cnsm.ID()))
	return p, nil
}

func newSlotMapToken(k *Kernel, end PortEnd, frame uint64, pages *portPages) (*tab.Tab[Token], error) {
	t, err := tab.Add(k.table, &Token{
		kind:   TokenSlotMap,
		end:    end,
		frames: []uint64{frame},
		alloc:  k.frames,
		shared: pages,
	})
	if err != nil {
		return nil, oom("port token", err)
	}
	t.WithMut(func(tok *Token) { tok.id = t.ID() })
	return t, nil
}
