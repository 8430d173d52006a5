package kernel

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// PanicInfo contains details about a panic recovered on a core.
type PanicInfo struct {
	CoreID   int
	ThreadID uint64
	Value    any
	Stack    []byte
}

type panicState struct {
	active  atomic.Bool
	once    sync.Once
	handler atomic.Value // func(PanicInfo)
}

// InPanicMode reports whether any core has panicked.
func (k *Kernel) InPanicMode() bool {
	return k.panic.active.Load()
}

// SetPanicHandler installs the kernel panic handler.
//
// The handler is invoked at most once (on the first panic). It must not panic.
func (k *Kernel) SetPanicHandler(fn func(PanicInfo)) {
	k.panic.handler.Store(fn)
}

func (k *Kernel) triggerPanic(info PanicInfo) {
	k.panic.once.Do(func() {
		k.panic.active.Store(true)
		info.Stack = debug.Stack()
		if v := k.panic.handler.Load(); v != nil {
			if fn, ok := v.(func(PanicInfo)); ok && fn != nil {
				fn(info)
			}
		}
	})
}
