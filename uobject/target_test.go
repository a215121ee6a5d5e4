package uobject

import (
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"uescope/memory"
)

// Fixture addresses. Everything lives in one writable region so tests
// can corrupt structures in place and watch the caches hold.
const (
	fxBase = memory.Address(0x2000000)
	fxSize = memory.Size(0x20000)

	fxNamePool  = fxBase          // name pool root
	fxNameBlock = fxBase + 0x1000 // block 0 entry bytes
	fxObjTable  = fxBase + 0x2000 // object table root
	fxObjChunk  = fxBase + 0x3000 // chunk 0 items
	fxHeap      = fxBase + 0x8000 // bump allocated nodes and instances
)

// target builds a synthetic reflected world inside a BufferChannel
type target struct {
	t     *testing.T
	ch    *memory.BufferChannel
	rt    *Runtime
	next  memory.Address
	names map[string]uint32
	descs map[string]memory.Address
	bytes int
	count int32
}

func put[T any](tg *target, addr memory.Address, v T) {
	tg.t.Helper()
	if err := memory.Write(tg.ch, addr, v); err != nil {
		tg.t.Fatalf("fixture write at %#x: %v", addr, err)
	}
}

func newTarget(t *testing.T) *target {
	t.Helper()
	ch := memory.NewBufferChannel(4242)
	ch.AddRegion(fxBase, make([]byte, fxSize), memory.ProtRW, "/opt/game/game.bin")

	tg := &target{
		t:     t,
		ch:    ch,
		next:  fxHeap,
		names: make(map[string]uint32),
		descs: make(map[string]memory.Address),
	}
	tg.rt = NewRuntime(ch, DefaultLayout())

	// Interning "None" first leaves "ByteProperty" at index 3, the same
	// early slot the live pool gives it.
	put(tg, fxNamePool+memory.Address(tg.rt.layout.NamePoolBlocks), uint64(fxNameBlock))
	tg.intern("None")
	tg.intern("ByteProperty")
	tg.rt.names.SetBase(fxNamePool)

	put(tg, fxObjTable+memory.Address(tg.rt.layout.ObjectTableChunks), uint64(fxObjChunk))
	tg.rt.objects.SetBase(fxObjTable)
	return tg
}

func (tg *target) alloc(n memory.Size) memory.Address {
	addr := tg.next
	tg.next += memory.Address((n + 0xF) &^ 0xF)
	if tg.next > fxBase+memory.Address(fxSize) {
		tg.t.Fatalf("fixture heap exhausted")
	}
	return addr
}

// intern appends a narrow name to block 0 and returns its index
func (tg *target) intern(name string) uint32 {
	tg.t.Helper()
	if idx, ok := tg.names[name]; ok {
		return idx
	}
	if tg.bytes%2 != 0 {
		tg.bytes++
	}
	idx := uint32(tg.bytes / 2)
	put(tg, fxNameBlock+memory.Address(tg.bytes), uint16(len(name))<<tg.rt.layout.NameHeaderLenShift)
	if err := tg.ch.WriteBytes(fxNameBlock+memory.Address(tg.bytes)+2, []byte(name)); err != nil {
		tg.t.Fatalf("fixture name write: %v", err)
	}
	tg.bytes += 2 + len(name)
	tg.names[name] = idx
	return idx
}

// internWide appends a UTF-16 name to block 0 and returns its index
func (tg *target) internWide(name string) uint32 {
	tg.t.Helper()
	if tg.bytes%2 != 0 {
		tg.bytes++
	}
	idx := uint32(tg.bytes / 2)
	units := utf16.Encode([]rune(name))
	put(tg, fxNameBlock+memory.Address(tg.bytes), uint16(len(units))<<tg.rt.layout.NameHeaderLenShift|1)
	buf := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:], u)
	}
	if err := tg.ch.WriteBytes(fxNameBlock+memory.Address(tg.bytes)+2, buf); err != nil {
		tg.t.Fatalf("fixture name write: %v", err)
	}
	tg.bytes += 2 + len(buf)
	return idx
}

// register places an object pointer in table chunk 0 and bumps the count
func (tg *target) register(addr memory.Address) int {
	lay := tg.rt.layout
	index := int(tg.count)
	put(tg, fxObjChunk+memory.Address(index)*memory.Address(lay.ObjectItemStride), uint64(addr))
	tg.count++
	put(tg, fxObjTable+memory.Address(lay.ObjectTableCount), tg.count)
	return index
}

// newObject allocates a registered instance with the standard header
func (tg *target) newObject(name string, class, outer memory.Address) memory.Address {
	lay := tg.rt.layout
	addr := tg.alloc(0x200)
	put(tg, addr+memory.Address(lay.ObjectClass), uint64(class))
	put(tg, addr+memory.Address(lay.ObjectName), tg.intern(name))
	put(tg, addr+memory.Address(lay.ObjectOuter), uint64(outer))
	tg.register(addr)
	return addr
}

// newClass allocates class metadata. Classes carry the object header
// plus super and member list slots, and register like any instance.
func (tg *target) newClass(name string, outer, super memory.Address) memory.Address {
	lay := tg.rt.layout
	addr := tg.alloc(0x100)
	put(tg, addr+memory.Address(lay.ObjectName), tg.intern(name))
	put(tg, addr+memory.Address(lay.ObjectOuter), uint64(outer))
	put(tg, addr+memory.Address(lay.StructSuper), uint64(super))
	tg.register(addr)
	return addr
}

// descriptor returns a shared type descriptor record for typeName
func (tg *target) descriptor(typeName string) memory.Address {
	if d, ok := tg.descs[typeName]; ok {
		return d
	}
	lay := tg.rt.layout
	d := tg.alloc(0x10)
	put(tg, d+memory.Address(lay.DescriptorName), tg.intern(typeName))
	tg.descs[typeName] = d
	return d
}

// addField pushes a field node onto the class's field list
func (tg *target) addField(class memory.Address, name, typeName string, offset int32) memory.Address {
	lay := tg.rt.layout
	node := tg.alloc(0x90)
	put(tg, node+memory.Address(lay.FFieldDescriptor), uint64(tg.descriptor(typeName)))
	put(tg, node+memory.Address(lay.FFieldName), tg.intern(name))
	put(tg, node+memory.Address(lay.PropertyElementSize), int32(8))
	put(tg, node+memory.Address(lay.PropertyOffset), offset)
	head := memory.ReadPointer2(tg.ch, class+memory.Address(lay.StructFieldsHead))
	put(tg, node+memory.Address(lay.FFieldNext), uint64(head))
	put(tg, class+memory.Address(lay.StructFieldsHead), uint64(node))
	return node
}

// setBoolMask fills the packed bit field record on a BoolProperty node
func (tg *target) setBoolMask(node memory.Address, byteOff, mask byte) {
	lay := tg.rt.layout
	if err := tg.ch.WriteBytes(node+memory.Address(lay.PropertyBoolMask), []byte{1, byteOff, mask, mask}); err != nil {
		tg.t.Fatalf("fixture bool mask write: %v", err)
	}
}

// addFunction pushes a function node onto the class's function list
func (tg *target) addFunction(class memory.Address, name string, flags uint32) memory.Address {
	lay := tg.rt.layout
	node := tg.alloc(0xC0)
	put(tg, node+memory.Address(lay.ObjectName), tg.intern(name))
	put(tg, node+memory.Address(lay.FunctionFlags), flags)
	head := memory.ReadPointer2(tg.ch, class+memory.Address(lay.StructFuncsHead))
	put(tg, node+memory.Address(lay.UFieldNext), uint64(head))
	put(tg, class+memory.Address(lay.StructFuncsHead), uint64(node))
	return node
}

// newVTable builds a dispatch table whose dispatcher slot points at fn
func (tg *target) newVTable(fn memory.Address) memory.Address {
	lay := tg.rt.layout
	vt := tg.alloc(8 * memory.Size(lay.ProcessEventSlot+8))
	put(tg, vt+memory.Address(lay.ProcessEventSlot)*8, uint64(fn))
	return vt
}

func (tg *target) obj(addr memory.Address) *Object {
	return NewObject(tg.rt, addr)
}
