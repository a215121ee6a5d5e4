package uobject

import "uescope/memory"

// Layout carries every structure offset the reflection walks depend on.
// Offsets drift between target builds, so they are data here rather than
// constants baked into the traversal code.
type Layout struct {
	// Object header slots
	ObjectVTable memory.Size
	ObjectClass  memory.Size
	ObjectName   memory.Size
	ObjectOuter  memory.Size

	// Class metadata slots
	StructSuper      memory.Size
	StructFuncsHead  memory.Size
	StructFieldsHead memory.Size

	// Function list nodes are objects, chained through this slot
	UFieldNext memory.Size

	// Field list nodes
	FFieldDescriptor memory.Size
	FFieldNext       memory.Size
	FFieldName       memory.Size

	// Type descriptor record
	DescriptorName memory.Size

	// Property record slots
	PropertyElementSize memory.Size
	PropertyOffset      memory.Size
	PropertyBoolMask    memory.Size
	PropertyArrayInner  memory.Size

	// Function record slots
	FunctionFlags     memory.Size
	FunctionNativeBit uint32

	// Name pool
	NamePoolBlocks     memory.Size
	NameBlockShift     uint
	NameEntryStride    memory.Size
	NameHeaderLenShift uint

	// Object table
	ObjectTableChunks memory.Size
	ObjectTableCount  memory.Size
	ObjectItemStride  memory.Size
	ObjectChunkShift  uint

	// Inline dynamic array header
	ArrayData  memory.Size
	ArrayCount memory.Size

	// Virtual dispatch slot used by Invoke
	ProcessEventSlot uint
}

// DefaultLayout returns the offsets for the 4.25-era object model
func DefaultLayout() Layout {
	return Layout{
		ObjectVTable: 0x0,
		ObjectClass:  0x10,
		ObjectName:   0x18,
		ObjectOuter:  0x20,

		StructSuper:      0x40,
		StructFuncsHead:  0x48,
		StructFieldsHead: 0x50,

		UFieldNext: 0x28,

		FFieldDescriptor: 0x8,
		FFieldNext:       0x20,
		FFieldName:       0x28,

		DescriptorName: 0x0,

		PropertyElementSize: 0x3C,
		PropertyOffset:      0x4C,
		PropertyBoolMask:    0x78,
		PropertyArrayInner:  0x78,

		FunctionFlags:     0xB0,
		FunctionNativeBit: 0x400,

		NamePoolBlocks:     0x10,
		NameBlockShift:     16,
		NameEntryStride:    2,
		NameHeaderLenShift: 6,

		ObjectTableChunks: 0x10,
		ObjectTableCount:  0x24,
		ObjectItemStride:  0x18,
		ObjectChunkShift:  16,

		ArrayData:  0x0,
		ArrayCount: 0x8,

		ProcessEventSlot: 66,
	}
}

// Traversal ceilings. Pointer chains in a live target can be corrupt or
// cyclic, so every walk stops at these bounds regardless of what the
// target claims.
const (
	maxChainHops   = 64
	maxListHops    = 4096
	maxNameBlocks  = 8192
	maxArrayLen    = 0x100000
	maxObjectCount = 0x400000
)
