// Package app boots the Oro core on a HAL and runs user programs on
// simulated cores.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"oro/hal"
	"oro/oroos/kernel"
	"oro/oroos/pfa"
	"oro/oroos/services/rootring"
	"oro/oroos/tab"
)

// ErrHalted is returned once a core halted on a kernel panic.
var ErrHalted = errors.New("system halted")

const defaultCores = 2

// ProgramSpec describes a module to mount at boot.
type ProgramSpec struct {
	Name string
	Main Program
	// Isolated mounts the module on its own ring under the root ring.
	Isolated bool
}

// Config controls Boot.
type Config struct {
	// Cores is the number of simulated cores (default 2).
	Cores int
	// MaxTokenPages bounds a single page allocation (0 = kernel default).
	MaxTokenPages uint64
	Programs      []ProgramSpec
}

// System is a booted kernel plus the cores that run it.
type System struct {
	h    hal.HAL
	k    *kernel.Kernel
	log  hclog.Logger
	cfg  Config
	root *tab.Tab[kernel.Ring]

	ifaces map[uint64]uint64

	done     chan struct{}
	doneOnce sync.Once
}

// Boot brings up the kernel on h: it seeds the frame allocator from the
// memory map, creates the root ring, registers the root ring interfaces and
// mounts every configured program.
func Boot(h hal.HAL, cfg Config) (*System, error) {
	if cfg.Cores <= 0 {
		cfg.Cores = defaultCores
	}
	log := h.Logger().Named("app")

	frames := pfa.NewFilo(h.PhysMem())
	var total uint64
	for _, r := range h.Memory() {
		total += pfa.FreeRange(frames, r.Base, r.Base+r.Length)
	}
	if total == 0 {
		return nil, fmt.Errorf("boot: %w", kernel.ErrOutOfMemory)
	}
	log.Info("frame allocator seeded", "frames", total)

	var opts []kernel.Option
	if cfg.MaxTokenPages > 0 {
		opts = append(opts, kernel.WithMaxTokenPages(cfg.MaxTokenPages))
	}
	k := kernel.New(h, frames, opts...)
	s := &System{h: h, k: k, log: log, cfg: cfg, done: make(chan struct{})}
	installPanicHandler(k, log)

	root, err := kernel.NewRootRing(k)
	if err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	s.root = root
	if s.ifaces, err = rootring.Register(k, root, h.Logger()); err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}

	for _, p := range cfg.Programs {
		if err := s.mount(p); err != nil {
			return nil, fmt.Errorf("boot: mount %q: %w", p.Name, err)
		}
	}
	return s, nil
}

func (s *System) mount(p ProgramSpec) error {
	ring := s.root.Clone()
	if p.Isolated {
		child, err := kernel.NewRing(s.k, s.root)
		if err != nil {
			ring.Release()
			return err
		}
		ring.Release()
		ring = child
	}
	defer ring.Release()

	mod, err := kernel.NewModule(s.k, p.Name, p.Main)
	if err != nil {
		return err
	}
	defer mod.Release()
	inst, err := kernel.Mount(s.k, mod, ring)
	if err != nil {
		return err
	}
	defer inst.Release()

	var threads []uint64
	inst.With(func(i *kernel.Instance) { threads = i.Threads() })
	for _, id := range threads {
		th, ok := tab.Lookup[kernel.Thread](s.k.Table(), id)
		if !ok {
			continue
		}
		err := kernel.Spawn(s.k, th)
		th.Release()
		if err != nil {
			return err
		}
	}
	s.log.Info("program mounted", "name", p.Name, "instance", hclog.Fmt("%#x", inst.ID()), "ring", hclog.Fmt("%#x", ring.ID()))
	return nil
}

// Kernel returns the booted kernel.
func (s *System) Kernel() *kernel.Kernel { return s.k }

// Interface returns the id of a root ring interface by type.
func (s *System) Interface(typeID uint64) (uint64, bool) {
	id, ok := s.ifaces[typeID]
	return id, ok
}

// Run runs the cores until ctx is done or a core halts. Ticks from the HAL
// clock are fanned out to every core as its timer interrupt.
func (s *System) Run(ctx context.Context) error {
	defer s.shutdown()

	g, ctx := errgroup.WithContext(ctx)
	cores := make([]*core, s.cfg.Cores)
	for i := range cores {
		cores[i] = &core{
			sys:   s,
			sched: kernel.NewScheduler(s.k, i),
			timer: make(chan struct{}, 1),
			log:   s.log.Named(fmt.Sprintf("core.%d", i)),
		}
	}

	g.Go(func() error {
		ticks := s.h.Time().Ticks()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticks:
				for _, c := range cores {
					select {
					case c.timer <- struct{}{}:
					default:
					}
				}
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		s.shutdown()
		return nil
	})
	for _, c := range cores {
		g.Go(func() error { return c.run(ctx) })
	}
	return g.Wait()
}

// Step reports the system state once per host tick. It returns hal.ErrStop
// once every mounted instance has exited.
func (s *System) Step() error {
	if s.k.InPanicMode() {
		return ErrHalted
	}
	if s.Instances() == 0 {
		return hal.ErrStop
	}
	return nil
}

// Instances counts the instances mounted across every ring.
func (s *System) Instances() int {
	n := 0
	for _, id := range s.k.Rings() {
		r, ok := tab.Lookup[kernel.Ring](s.k.Table(), id)
		if !ok {
			continue
		}
		r.With(func(ring *kernel.Ring) { n += ring.InstanceCount() })
		r.Release()
	}
	return n
}

// shutdown unblocks every user goroutine still parked in a trap.
func (s *System) shutdown() {
	s.doneOnce.Do(func() { close(s.done) })
}
