package app

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"oro/oroos/abi"
	"oro/oroos/kernel"
	"oro/oroos/tab"
)

var (
	keyThreadStatus = abi.Key("status")
	exitRequest     = kernel.SystemCallRequest{
		Opcode:    abi.OpSet,
		Interface: abi.KernelThreadV0,
		Key:       keyThreadStatus,
		Value:     uint64(kernel.StateTerminated),
	}
)

// core is a simulated processor. It enters user threads and turns their
// traps into scheduler events.
type core struct {
	sys   *System
	sched *kernel.Scheduler
	timer chan struct{}
	log   hclog.Logger
}

func (c *core) expired() bool {
	select {
	case <-c.timer:
		return true
	default:
		return false
	}
}

func (c *core) run(ctx context.Context) error {
	k := c.sys.k
	sw := c.sched.EventIdle()
	for {
		if k.InPanicMode() {
			return ErrHalted
		}
		if ctx.Err() != nil {
			return nil
		}
		if sw == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-c.timer:
			}
			sw = c.sched.EventIdle()
			continue
		}

		uc := c.sys.contextOf(sw.Thread)
		if sw.Response != nil {
			uc.saved = sw.Response
		}
		if c.expired() {
			sw = c.sched.EventTimerExpired()
			continue
		}

		tr, ok := uc.enter()
		if !ok {
			return nil
		}
		switch tr.kind {
		case trapSyscall:
			sw = c.sched.EventSystemCall(tr.req)
		case trapFault:
			sw = c.sched.EventPageFault(tr.fault)
		case trapExit:
			if tr.err != nil {
				uc.log.Warn("program failed", "error", tr.err)
			} else {
				uc.log.Debug("program exited")
			}
			sw = c.sched.EventSystemCall(exitRequest)
		}
	}
}

// contextOf returns th's user context, creating it on first entry.
func (s *System) contextOf(th *tab.Tab[kernel.Thread]) *userContext {
	var uc *userContext
	th.WithMut(func(t *kernel.Thread) {
		if t.Arch == nil {
			t.Arch = newUserContext(s.k, t, s.log, s.done)
		}
		uc = t.Arch.(*userContext)
	})
	return uc
}
