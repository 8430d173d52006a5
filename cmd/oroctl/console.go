package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"oro/app"
	"oro/oroos/abi"
)

var errQuit = errors.New("quit")

var ifaceNames = map[string]uint64{
	"thread":    abi.KernelThreadV0,
	"pagealloc": abi.KernelPageAllocV0,
	"memtoken":  abi.KernelMemTokenV0,
	"query":     abi.KernelIfaceQueryByTypeV0,
	"meta":      abi.KernelIfaceTypeMetaV0,
	"layout":    abi.KernelAddrLayoutV0,
	"debugout":  abi.RootDebugOutV0,
	"testports": abi.RootTestPortsV0,
}

type command struct {
	usage string
	args  int
	run   func(c *console, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"get":    {"get <iface> <index> <key>", 3, (*console).get},
		"set":    {"set <iface> <index> <key> <value>", 4, (*console).set},
		"alloc":  {"alloc <pages>", 1, (*console).alloc},
		"map":    {"map <token> <virt>", 2, (*console).mapToken},
		"forget": {"forget <token>", 1, (*console).forget},
		"store":  {"store <virt> <text>", 2, (*console).store},
		"load":   {"load <virt> <n>", 2, (*console).load},
		"ifaces": {"ifaces", 0, (*console).ifaces},
		"help":   {"help", 0, (*console).help},
		"quit":   {"quit", 0, func(*console, []string) error { return errQuit }},
	}
}

// console executes command lines as a user thread.
type console struct {
	sys *app.Sys
	out io.Writer
}

// exec runs one command line. It returns errQuit on quit.
func (c *console) exec(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", args[0])
	}
	if len(args)-1 != cmd.args {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return cmd.run(c, args[1:])
}

// parseValue accepts numbers in any Go base, or a tag packed with abi.Key.
func parseValue(s string) (uint64, error) {
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v, nil
	}
	if len(s) == 0 || len(s) > 8 {
		return 0, fmt.Errorf("%q is neither a number nor a tag", s)
	}
	return abi.Key(s), nil
}

// resolveIface maps a kernel interface name, a root ring interface name or
// a raw id to the id to call.
func (c *console) resolveIface(s string) (uint64, error) {
	id, named := ifaceNames[s]
	if !named {
		return strconv.ParseUint(s, 0, 64)
	}
	if abi.IsKernelID(id) {
		return id, nil
	}
	return app.FindInterface(c.sys, id)
}

func (c *console) report(v uint64, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%#x (%d)\n", v, v)
	return nil
}

func (c *console) get(args []string) error {
	vals, err := c.parseCall(args)
	if err != nil {
		return err
	}
	return c.report(c.sys.Get(vals[0], vals[1], vals[2]))
}

func (c *console) set(args []string) error {
	vals, err := c.parseCall(args)
	if err != nil {
		return err
	}
	return c.report(c.sys.Set(vals[0], vals[1], vals[2], vals[3]))
}

func (c *console) parseCall(args []string) ([]uint64, error) {
	iface, err := c.resolveIface(args[0])
	if err != nil {
		return nil, err
	}
	vals := []uint64{iface}
	for _, a := range args[1:] {
		v, err := parseValue(a)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

func (c *console) alloc(args []string) error {
	n, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return err
	}
	return c.report(c.sys.Get(abi.KernelPageAllocV0, abi.Key("4kib"), n))
}

func (c *console) mapToken(args []string) error {
	tok, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return err
	}
	virt, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		return err
	}
	return c.report(c.sys.Set(abi.KernelMemTokenV0, tok, abi.Key("base"), virt))
}

func (c *console) forget(args []string) error {
	tok, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return err
	}
	return c.report(c.sys.Set(abi.KernelMemTokenV0, tok, abi.Key("forget"), 0))
}

func (c *console) store(args []string) error {
	virt, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return err
	}
	if err := c.sys.Store(virt, []byte(args[1])); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "stored %d bytes\n", len(args[1]))
	return nil
}

func (c *console) load(args []string) error {
	virt, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 0 || n > 4096 {
		return fmt.Errorf("bad length %q", args[1])
	}
	buf := make([]byte, n)
	if err := c.sys.Load(virt, buf); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%q\n", buf)
	return nil
}

func (c *console) ifaces([]string) error {
	for _, n := range sortedKeys(ifaceNames) {
		id := ifaceNames[n]
		if abi.IsKernelID(id) {
			fmt.Fprintf(c.out, "%-10s %#x (kernel)\n", n, id)
			continue
		}
		count, err := c.sys.Get(abi.KernelIfaceTypeMetaV0, id, abi.Key("icount"))
		if app.IsCode(err, abi.BadIndex) {
			count, err = 0, nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%-10s %d (%d on this ring)\n", n, id, count)
	}
	return nil
}

func (c *console) help([]string) error {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintln(c.out, "  "+commands[n].usage)
	}
	fmt.Fprintln(c.out, "  interfaces: "+strings.Join(sortedKeys(ifaceNames), ", "))
	return nil
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
