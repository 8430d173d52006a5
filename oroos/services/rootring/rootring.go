// Package rootring provides the interfaces registered on the root ring at
// boot.
package rootring

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"oro/oroos/kernel"
	"oro/oroos/tab"
)

// Register installs every root ring interface on root and returns their ids
// keyed by type.
func Register(k *kernel.Kernel, root *tab.Tab[kernel.Ring], log hclog.Logger) (map[uint64]uint64, error) {
	ports, err := NewTestPorts(k)
	if err != nil {
		return nil, fmt.Errorf("rootring: test ports: %w", err)
	}
	ids := make(map[uint64]uint64)
	for _, iface := range []kernel.Interface{NewDebugOut(log), ports} {
		id, err := kernel.RegisterInterface(k, root, iface)
		if err != nil {
			return nil, fmt.Errorf("rootring: register %d: %w", iface.TypeID(), err)
		}
		ids[iface.TypeID()] = id
	}
	return ids, nil
}
