package app

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"oro/hal"
	"oro/oroos/abi"
	"oro/oroos/services/rootring"
)

var (
	keyID       = abi.Key("id")
	key4KiB     = abi.Key("4kib")
	keyBase     = abi.Key("base")
	keyForget   = abi.Key("forget")
	keyWrite    = abi.Key("write")
	keyHealth   = abi.Key("health")
	keyProducer = abi.Key("prodtkn")
	keyConsumer = abi.Key("cnsmtkn")
	keyUserData = abi.Key("usrdata")
	keyStart    = abi.Key("start")

	codeConflict = abi.Key("conflict")
)

// Builtin programs, by name.
var Builtin = map[string]ProgramSpec{
	"hello":     {Name: "hello", Main: hello},
	"pagealloc": {Name: "pagealloc", Main: pageAlloc},
	"producer":  {Name: "producer", Main: portEnd(keyProducer, 0)},
	"consumer":  {Name: "consumer", Main: portEnd(keyConsumer, 64*hal.PageSize)},
	"spin":      {Name: "spin", Main: spin, Isolated: true},
}

// BuiltinNames returns the builtin program names in order.
func BuiltinNames() []string {
	names := make([]string, 0, len(Builtin))
	for n := range Builtin {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves program names against Builtin.
func Lookup(names []string) ([]ProgramSpec, error) {
	specs := make([]ProgramSpec, 0, len(names))
	for _, n := range names {
		p, ok := Builtin[n]
		if !ok {
			return nil, fmt.Errorf("unknown program %q", n)
		}
		specs = append(specs, p)
	}
	return specs, nil
}

// FindInterface returns the first interface of typeID on the caller's ring.
func FindInterface(sys *Sys, typeID uint64) (uint64, error) {
	return sys.Get(abi.KernelIfaceQueryByTypeV0, typeID, 0)
}

// Printf writes to the root ring debug stream.
func Printf(sys *Sys, format string, args ...any) error {
	out, err := FindInterface(sys, abi.RootDebugOutV0)
	if err != nil {
		return err
	}
	b := []byte(fmt.Sprintf(format, args...))
	for len(b) > 0 {
		var v uint64
		n := min(len(b), 8)
		for _, c := range b[:n] {
			v = v<<8 | uint64(c)
		}
		if _, err := sys.Set(out, 0, keyWrite, v); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// MapAnywhere maps token at the first free page-aligned address at or after
// start, moving up past conflicts.
func MapAnywhere(sys *Sys, token, start uint64) (uint64, error) {
	pages, err := sys.Get(abi.KernelMemTokenV0, token, abi.Key("pages"))
	if err != nil {
		return 0, err
	}
	for virt, tries := start, 0; tries < 64; virt, tries = virt+pages*hal.PageSize, tries+1 {
		_, err := sys.Set(abi.KernelMemTokenV0, token, keyBase, virt)
		if err == nil {
			return virt, nil
		}
		if !IsInner(err, codeConflict) {
			return 0, err
		}
	}
	return 0, errors.New("no free address range")
}

func userDataStart(sys *Sys) (uint64, error) {
	return sys.Get(abi.KernelAddrLayoutV0, keyUserData, keyStart)
}

func hello(sys *Sys) error {
	id, err := sys.Get(abi.KernelThreadV0, 0, keyID)
	if err != nil {
		return err
	}
	return Printf(sys, "hello from thread %#x\n", id)
}

func pageAlloc(sys *Sys) error {
	base, err := userDataStart(sys)
	if err != nil {
		return err
	}
	tok, err := sys.Get(abi.KernelPageAllocV0, key4KiB, 1)
	if err != nil {
		return fmt.Errorf("allocate: %w", err)
	}
	if _, err := sys.Set(abi.KernelMemTokenV0, tok, keyBase, base); err != nil {
		return fmt.Errorf("map: %w", err)
	}

	msg := []byte("oro page")
	if err := sys.Store(base+128, msg); err != nil {
		return err
	}
	got := make([]byte, len(msg))
	if err := sys.Load(base+128, got); err != nil {
		return err
	}
	if !bytes.Equal(got, msg) {
		return fmt.Errorf("read back %q, want %q", got, msg)
	}

	other, err := sys.Get(abi.KernelPageAllocV0, key4KiB, 2)
	if err != nil {
		return fmt.Errorf("allocate: %w", err)
	}
	if _, err := sys.Set(abi.KernelMemTokenV0, other, keyBase, base); !IsInner(err, codeConflict) {
		return fmt.Errorf("overlapping map: got %v, want conflict", err)
	}
	for _, t := range []uint64{tok, other} {
		if _, err := sys.Set(abi.KernelMemTokenV0, t, keyForget, 0); err != nil {
			return fmt.Errorf("forget: %w", err)
		}
	}
	return Printf(sys, "pagealloc ok\n")
}

func portEnd(key, offset uint64) Program {
	return func(sys *Sys) error {
		ports, err := FindInterface(sys, abi.RootTestPortsV0)
		if err != nil {
			return err
		}
		if h, err := sys.Get(ports, 0, keyHealth); err != nil || h != 1337 {
			return fmt.Errorf("test ports health = %d, %v", h, err)
		}
		tok, err := sys.Get(ports, 0, key)
		if IsInner(err, rootring.CodeClaimed) {
			return Printf(sys, "%s already claimed\n", abi.KeyString(key))
		}
		if err != nil {
			return err
		}
		base, err := userDataStart(sys)
		if err != nil {
			return err
		}
		virt, err := MapAnywhere(sys, tok, base+offset)
		if err != nil {
			return err
		}
		page := make([]byte, hal.PageSize)
		if err := sys.Load(virt, page); err != nil {
			return err
		}
		if !bytes.Equal(page, make([]byte, hal.PageSize)) {
			return errors.New("port page is not zeroed")
		}
		return Printf(sys, "%s mapped at %#x\n", abi.KeyString(key), virt)
	}
}

func spin(sys *Sys) error {
	var last uint64
	for i := 0; i < 100; i++ {
		id, err := sys.Get(abi.KernelThreadV0, 0, keyID)
		if err != nil {
			return err
		}
		if last != 0 && id != last {
			return fmt.Errorf("thread id changed from %#x to %#x", last, id)
		}
		last = id
	}
	return nil
}
