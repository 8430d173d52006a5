package abi

// Error is the error slot returned by every system call.
//
// Codes are never re-used. InterfaceError means the handler put its own
// error code (usually a Key tag) in the value slot.
type Error uint64

const (
	Ok             Error = 0
	BadOpcode      Error = 1
	NotImplemented Error = 2
	BadInterface   Error = 3
	BadKey         Error = 4
	BadIndex       Error = 5
	ReadOnly       Error = 6
	WriteOnly      Error = 7
	Canceled       Error = 8
	InterfaceError Error = 0xFFFF_FFFF_FFFF_FFFF
)

func (e Error) String() string {
	switch e {
	case Ok:
		return "ok"
	case BadOpcode:
		return "bad_opcode"
	case NotImplemented:
		return "not_implemented"
	case BadInterface:
		return "bad_interface"
	case BadKey:
		return "bad_key"
	case BadIndex:
		return "bad_index"
	case ReadOnly:
		return "read_only"
	case WriteOnly:
		return "write_only"
	case Canceled:
		return "canceled"
	case InterfaceError:
		return "interface_error"
	default:
		return "unknown"
	}
}

// Opcode selects the system call operation.
type Opcode uint64

const (
	OpGet Opcode = 0x8888_0000_0000_0001
	OpSet Opcode = 0x8888_0000_0000_0002
)

func (o Opcode) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpSet:
		return "set"
	default:
		return "unknown"
	}
}
