package rootring

import (
	"github.com/hashicorp/go-hclog"

	"oro/oroos/abi"
	"oro/oroos/kernel"
	"oro/oroos/ksync"
	"oro/oroos/tab"
)

const (
	lineHardMax     = 1024
	lineHardMin     = 1
	lineDefaultSize = 256
)

var (
	keyWrite   = abi.Key("write")
	keyLineMax = abi.Key("line_max")
	keyHardMax = abi.Key("hard_max")
	keyHardMin = abi.Key("hard_min")
)

// DebugOut is a line-buffered debug stream into the kernel log.
//
// A write carries up to eight bytes packed big-endian in the value; zero
// bytes are skipped and a newline flushes the line. Each thread has its own
// line buffer. Bytes are logged as-is.
type DebugOut struct {
	log hclog.Logger

	lock    ksync.SpinLock
	lineMax int
	bufs    map[uint64][]byte
}

// NewDebugOut creates a debug stream that flushes to log.
func NewDebugOut(log hclog.Logger) *DebugOut {
	return &DebugOut{
		log:     log.Named("debugout"),
		lineMax: lineDefaultSize,
		bufs:    make(map[uint64][]byte),
	}
}

func (d *DebugOut) TypeID() uint64 { return abi.RootDebugOutV0 }

func (d *DebugOut) Get(_ *kernel.Kernel, _ *tab.Tab[kernel.Thread], index, key uint64) kernel.InterfaceResponse {
	if index != 0 {
		return kernel.Immediate(abi.BadIndex, 0)
	}
	switch key {
	case keyWrite:
		return kernel.Immediate(abi.WriteOnly, 0)
	case keyLineMax:
		d.lock.Lock()
		defer d.lock.Unlock()
		return kernel.Immediate(abi.Ok, uint64(d.lineMax))
	case keyHardMax:
		return kernel.Immediate(abi.Ok, lineHardMax)
	case keyHardMin:
		return kernel.Immediate(abi.Ok, lineHardMin)
	}
	return kernel.Immediate(abi.BadKey, 0)
}

func (d *DebugOut) Set(_ *kernel.Kernel, th *tab.Tab[kernel.Thread], index, key, value uint64) kernel.InterfaceResponse {
	if index != 0 {
		return kernel.Immediate(abi.BadIndex, 0)
	}
	switch key {
	case keyLineMax:
		d.lock.Lock()
		d.lineMax = int(min(max(value, lineHardMin), lineHardMax))
		d.lock.Unlock()
		return kernel.Immediate(abi.Ok, 0)
	case keyWrite:
		d.write(th.ID(), value)
		return kernel.Immediate(abi.Ok, 0)
	case keyHardMax, keyHardMin:
		return kernel.Immediate(abi.ReadOnly, 0)
	}
	return kernel.Immediate(abi.BadKey, 0)
}

func (d *DebugOut) write(thread, value uint64) {
	var lines []string
	d.lock.Lock()
	buf := d.bufs[thread]
	for shift := 56; shift >= 0; shift -= 8 {
		b := byte(value >> uint(shift))
		switch {
		case b == 0:
			continue
		case b == '\n':
		default:
			buf = append(buf, b)
			if len(buf) < d.lineMax {
				continue
			}
		}
		lines = append(lines, string(buf))
		buf = buf[:0]
	}
	if len(buf) == 0 {
		delete(d.bufs, thread)
	} else {
		d.bufs[thread] = buf
	}
	d.lock.Unlock()

	for _, l := range lines {
		d.log.Info(l, "thread", hclog.Fmt("%#x", thread))
	}
}
