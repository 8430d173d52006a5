package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"oro/hal"
	"oro/oroos/abi"
)

// syncBuffer guards a buffer shared between the test and the cores.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// runUntilDone boots cfg and drives the clock until every program exited.
func runUntilDone(t *testing.T, cfg Config) (*System, string) {
	t.Helper()
	out := &syncBuffer{}
	h := hal.NewHost(hal.HostConfig{MemoryBytes: 4 << 20, LogLevel: "info", LogOutput: out})
	sys, err := Boot(h, cfg)
	if err != nil {
		t.Fatalf("Boot() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- sys.Run(ctx) }()

	for {
		h.StepTime(1)
		err := sys.Step()
		if errors.Is(err, hal.ErrStop) {
			break
		}
		if err != nil {
			t.Fatalf("Step() error = %v\n%s", err, out.String())
		}
		if ctx.Err() != nil {
			t.Fatalf("programs did not finish:\n%s", out.String())
		}
		time.Sleep(100 * time.Microsecond)
	}
	cancel()
	if err := <-runErr; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return sys, out.String()
}

func TestBootSeedsAndRegisters(t *testing.T) {
	h := hal.NewHost(hal.HostConfig{MemoryBytes: 1 << 20, LogLevel: "off"})
	sys, err := Boot(h, Config{})
	if err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	for _, id := range []uint64{abi.RootDebugOutV0, abi.RootTestPortsV0} {
		if _, ok := sys.Interface(id); !ok {
			t.Fatalf("Interface(%d) not registered", id)
		}
	}
	if got := sys.Step(); !errors.Is(got, hal.ErrStop) {
		t.Fatalf("Step() with no programs = %v, want %v", got, hal.ErrStop)
	}
}

func TestLookupUnknownProgram(t *testing.T) {
	if _, err := Lookup([]string{"hello", "nope"}); err == nil {
		t.Fatalf("Lookup() with an unknown name succeeded")
	}
	if got := BuiltinNames(); len(got) != len(Builtin) {
		t.Fatalf("BuiltinNames() = %v", got)
	}
}

func TestBuiltinPrograms(t *testing.T) {
	specs, err := Lookup(BuiltinNames())
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	_, out := runUntilDone(t, Config{Cores: 2, Programs: specs})

	for _, want := range []string{"hello from thread", "pagealloc ok", "prodtkn mapped at", "cnsmtkn mapped at"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log does not contain %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "program failed") {
		t.Fatalf("a program failed:\n%s", out)
	}
}

func TestProgramErrorIsReported(t *testing.T) {
	failing := ProgramSpec{Name: "fail", Main: func(sys *Sys) error {
		_, err := sys.Get(abi.KernelThreadV0, 0, abi.Key("bogus"))
		if !IsCode(err, abi.BadKey) {
			return errors.New("expected bad key")
		}
		return err
	}}
	_, out := runUntilDone(t, Config{Cores: 1, Programs: []ProgramSpec{failing}})
	if !strings.Contains(out, "program failed") || !strings.Contains(out, "bad_key") {
		t.Fatalf("failure was not logged:\n%s", out)
	}
}

func TestUnmappedAccessKillsThread(t *testing.T) {
	bad := ProgramSpec{Name: "wild", Main: func(sys *Sys) error {
		return sys.Store(0x40_0000, []byte{1})
	}}
	_, out := runUntilDone(t, Config{Cores: 1, Programs: []ProgramSpec{bad}})
	if !strings.Contains(out, "terminating thread on page fault") {
		t.Fatalf("fault was not logged:\n%s", out)
	}
}

func TestIsolatedProgramCannotSeeRootInterfaces(t *testing.T) {
	result := make(chan error, 1)
	probe := ProgramSpec{Name: "probe", Isolated: true, Main: func(sys *Sys) error {
		_, err := FindInterface(sys, abi.RootDebugOutV0)
		result <- err
		return nil
	}}
	runUntilDone(t, Config{Cores: 1, Programs: []ProgramSpec{probe}})
	if err := <-result; !IsCode(err, abi.BadIndex) {
		t.Fatalf("FindInterface() from an isolated ring error = %v, want bad_index", err)
	}
}
