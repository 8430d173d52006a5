package abi

// Interface type id namespaces.
//
// Ids whose top 32 bits are all set are reserved for the kernel. The next
// byte selects the sub-namespace. Kernel interfaces with IfaceArchBit set in
// their low 24 bits belong to the architecture.
const (
	KernelIDMask     uint64 = 0xFFFF_FFFF_0000_0000
	KernelIDTypeMask uint64 = 0xFFFF_FFFF_FF00_0000

	KernelTypePrimitive uint64 = KernelIDMask | 0x0100_0000
	KernelTypeIface     uint64 = KernelIDMask | 0x0200_0000
	KernelTypeMeta      uint64 = KernelIDMask | 0x0300_0000

	IfaceArchBit uint64 = 0x0080_0000
)

// Kernel interface ids.
const (
	KernelThreadV0           = KernelTypeIface | 0x00_0001
	KernelPageAllocV0        = KernelTypeIface | 0x00_0002
	KernelMemTokenV0         = KernelTypeIface | 0x00_0003
	KernelIfaceQueryByTypeV0 = KernelTypeIface | 0x00_0004
	KernelIfaceTypeMetaV0    = KernelTypeIface | 0x00_0005
	KernelAddrLayoutV0       = KernelTypeIface | 0x00_0006
)

// Primitive and metadata ids.
const (
	PrimitiveU64  = KernelTypePrimitive | 0x00_0001
	MetaUses      = KernelTypeMeta | 0x00_0001
	MetaIfaceSlot = KernelTypeMeta | 0x00_0002
)

// Ring interface type ids exposed on the root ring.
const (
	RootDebugOutV0  uint64 = 1736981805247
	RootTestPortsV0 uint64 = 1737937612428
)

// IsKernelID reports whether id is in the kernel-reserved namespace.
func IsKernelID(id uint64) bool {
	return id&KernelIDMask == KernelIDMask
}

// IsKernelIface reports whether id names a kernel interface.
func IsKernelIface(id uint64) bool {
	return id&KernelIDTypeMask == KernelTypeIface
}

// IsArchIface reports whether id names an architecture-specific kernel
// interface.
func IsArchIface(id uint64) bool {
	return IsKernelIface(id) && id&IfaceArchBit != 0
}
