package kernel

import (
	"errors"

	"oro/oroos/abi"
)

// Inner error codes returned alongside abi.InterfaceError.
var (
	CodeConflict     = abi.Key("conflict")
	CodeNotAligned   = abi.Key("align")
	CodeOutOfRange   = abi.Key("range")
	CodeOutOfMemory  = abi.Key("oom")
	CodeBadToken     = abi.Key("badtkn")
	CodeZeroSize     = abi.Key("zero")
	CodeTooManyPages = abi.Key("toomany")
	CodeInvalidState = abi.Key("invlst")
	CodeRace         = abi.Key("race")
	CodeTerminated   = abi.Key("term")
)

var errorCodes = []struct {
	err  error
	code uint64
}{
	{ErrConflict, CodeConflict},
	{ErrNotAligned, CodeNotAligned},
	{ErrOutOfRange, CodeOutOfRange},
	{ErrOutOfMemory, CodeOutOfMemory},
	{ErrBadToken, CodeBadToken},
	{ErrZeroSize, CodeZeroSize},
	{ErrTooManyPages, CodeTooManyPages},
	{ErrInvalidState, CodeInvalidState},
	{ErrRace, CodeRace},
	{ErrTerminated, CodeTerminated},
}

// ErrorCode maps a kernel error to its inner interface error code.
func ErrorCode(err error) (uint64, bool) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code, true
		}
	}
	return 0, false
}

// errorResponse reports err through abi.InterfaceError. Errors without an
// inner code are kernel bugs.
func errorResponse(err error) InterfaceResponse {
	code, ok := ErrorCode(err)
	if !ok {
		panic("kernel: no interface error code for " + err.Error())
	}
	return interfaceError(code)
}

func builtinInterfaces() []KernelInterface {
	return []KernelInterface{
		threadV0{},
		pageAllocV0{},
		memTokenV0{},
		ifaceQueryByTypeV0{},
		ifaceTypeMetaV0{},
		addrLayoutV0{},
	}
}
