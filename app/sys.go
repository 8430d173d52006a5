package app

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"oro/oroos/abi"
	"oro/oroos/kernel"
	"oro/oroos/tab"
)

// ErrKilled is returned from Sys calls once the system shuts down under a
// parked thread.
var ErrKilled = errors.New("thread killed")

// Program is the body of a user thread. It runs on its own goroutine and
// reaches the kernel only through sys.
type Program func(sys *Sys) error

// SysError is a failed system call.
type SysError struct {
	Code abi.Error
	// Inner is the interface-specific code of an abi.InterfaceError.
	Inner uint64
}

func (e *SysError) Error() string {
	if e.Code == abi.InterfaceError {
		return fmt.Sprintf("interface error %q", abi.KeyString(e.Inner))
	}
	return e.Code.String()
}

// IsCode reports whether err is a SysError with code c.
func IsCode(err error, c abi.Error) bool {
	var se *SysError
	return errors.As(err, &se) && se.Code == c
}

// IsInner reports whether err is an interface error with inner code c.
func IsInner(err error, c uint64) bool {
	var se *SysError
	return errors.As(err, &se) && se.Code == abi.InterfaceError && se.Inner == c
}

type trapKind uint8

const (
	trapSyscall trapKind = iota
	trapFault
	trapExit
)

type trap struct {
	kind  trapKind
	req   kernel.SystemCallRequest
	fault kernel.PageFault
	err   error
}

// userContext is the saved state of a user thread. The goroutine only runs
// between a resume and its next trap.
type userContext struct {
	k        *kernel.Kernel
	thread   uint64
	instance uint64
	prog     Program
	log      hclog.Logger

	started bool
	exited  bool
	saved   *kernel.Response

	resume chan *kernel.Response
	traps  chan trap
	done   chan struct{}
}

func newUserContext(k *kernel.Kernel, t *kernel.Thread, log hclog.Logger, done chan struct{}) *userContext {
	prog, _ := t.Entry().(Program)
	return &userContext{
		k:        k,
		thread:   t.ID(),
		instance: t.InstanceID(),
		prog:     prog,
		log:      log.With("thread", hclog.Fmt("%#x", t.ID())),
		resume:   make(chan *kernel.Response),
		traps:    make(chan trap),
		done:     done,
	}
}

// enter runs the thread until it traps back into the kernel. It returns
// false if the system shut down first.
func (uc *userContext) enter() (trap, bool) {
	if uc.exited {
		// Keep asking to terminate until it sticks.
		return trap{kind: trapExit}, true
	}
	if !uc.started {
		uc.started = true
		go uc.main()
	} else {
		r := uc.saved
		uc.saved = nil
		select {
		case uc.resume <- r:
		case <-uc.done:
			return trap{}, false
		}
	}
	select {
	case tr := <-uc.traps:
		uc.exited = tr.kind == trapExit
		return tr, true
	case <-uc.done:
		return trap{}, false
	}
}

func (uc *userContext) main() {
	var err error
	if uc.prog == nil {
		err = errors.New("module has no program")
	} else {
		err = uc.prog(&Sys{uc: uc})
	}
	if errors.Is(err, ErrKilled) {
		return
	}
	select {
	case uc.traps <- trap{kind: trapExit, err: err}:
	case <-uc.done:
	}
}

func (uc *userContext) trap(tr trap) (*kernel.Response, error) {
	select {
	case uc.traps <- tr:
	case <-uc.done:
		return nil, ErrKilled
	}
	select {
	case r := <-uc.resume:
		return r, nil
	case <-uc.done:
		return nil, ErrKilled
	}
}

// Sys is a user thread's view of the machine.
type Sys struct {
	uc *userContext
}

// ThreadID returns the calling thread's id.
func (s *Sys) ThreadID() uint64 { return s.uc.thread }

// Logger returns a logger tagged with the calling thread.
func (s *Sys) Logger() hclog.Logger { return s.uc.log }

// Get performs a get system call.
func (s *Sys) Get(iface, index, key uint64) (uint64, error) {
	return s.call(kernel.SystemCallRequest{Opcode: abi.OpGet, Interface: iface, Index: index, Key: key})
}

// Set performs a set system call.
func (s *Sys) Set(iface, index, key, value uint64) (uint64, error) {
	return s.call(kernel.SystemCallRequest{Opcode: abi.OpSet, Interface: iface, Index: index, Key: key, Value: value})
}

func (s *Sys) call(req kernel.SystemCallRequest) (uint64, error) {
	r, err := s.uc.trap(trap{kind: trapSyscall, req: req})
	if err != nil {
		return 0, err
	}
	if r == nil {
		return 0, errors.New("system call resumed without a response")
	}
	if r.Error != abi.Ok {
		return r.Ret, &SysError{Code: r.Error, Inner: r.Ret}
	}
	return r.Ret, nil
}

// Load reads user memory at virt, faulting pages in as needed.
func (s *Sys) Load(virt uint64, p []byte) error {
	return s.access(virt, p, kernel.ReadUser)
}

// Store writes user memory at virt, faulting pages in as needed.
func (s *Sys) Store(virt uint64, p []byte) error {
	return s.access(virt, p, kernel.WriteUser)
}

type accessFunc func(*kernel.Kernel, *tab.Tab[kernel.Instance], uint64, []byte) error

func (s *Sys) access(virt uint64, p []byte, fn accessFunc) error {
	inst, ok := tab.Lookup[kernel.Instance](s.uc.k.Table(), s.uc.instance)
	if !ok {
		return ErrKilled
	}
	defer inst.Release()
	for {
		err := fn(s.uc.k, inst, virt, p)
		var fault *kernel.FaultError
		if !errors.As(err, &fault) {
			return err
		}
		if _, err := s.uc.trap(trap{kind: trapFault, fault: fault.PageFault()}); err != nil {
			return err
		}
	}
}
