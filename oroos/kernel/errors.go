package kernel

import (
	"errors"
	"fmt"

	"oro/hal"
	"oro/oroos/tab"
)

var (
	ErrOutOfMemory  = errors.New("out of memory")
	ErrRootExists   = errors.New("root ring already exists")
	ErrNotFound     = errors.New("not found")
	ErrNotAligned   = errors.New("virtual address not page aligned")
	ErrOutOfRange   = errors.New("virtual address out of range")
	ErrConflict     = errors.New("mapping conflicts with an existing mapping")
	ErrBadToken     = errors.New("token not held by instance")
	ErrBadVirt      = errors.New("virtual address not backed by a token")
	ErrInvalidState = errors.New("invalid run state")
	ErrRace         = errors.New("run state transition already in flight")
	ErrTerminated   = errors.New("thread terminated")
	ErrZeroSize     = errors.New("zero sized allocation")
	ErrTooManyPages = errors.New("too many pages")
)

// oom normalizes the various out-of-memory sentinels of lower layers.
func oom(op string, err error) error {
	if errors.Is(err, hal.ErrOutOfMemory) || errors.Is(err, tab.ErrOutOfMemory) {
		return fmt.Errorf("%s: %w", op, ErrOutOfMemory)
	}
	return fmt.Errorf("%s: %w", op, err)
}
