package uobject

import (
	"fmt"
	"strings"
	"sync/atomic"

	"uescope/memory"
)

// ObjectTable walks the target's global object registry. The registry is
// chunked the same way the name pool is: a pointer array of fixed-size
// chunks, each holding item records with the object pointer in the first
// slot.
type ObjectTable struct {
	rt   *Runtime
	base atomic.Uint64
}

// SetBase publishes the registry base address. Zero unpublishes it.
func (o *ObjectTable) SetBase(addr memory.Address) {
	o.base.Store(uint64(addr))
}

// Base returns the published registry base, zero before discovery
func (o *ObjectTable) Base() memory.Address {
	return memory.Address(o.base.Load())
}

// Count reads the live object count from the registry header, clamped to
// a sane ceiling so a garbage read cannot drive an unbounded walk
func (o *ObjectTable) Count() (int, error) {
	base := o.Base()
	if base == 0 {
		return 0, fmt.Errorf("object table base not published: %w", ErrResolutionMiss)
	}
	count, err := memory.Read[int32](o.rt.ch, base+memory.Address(o.rt.layout.ObjectTableCount))
	if err != nil {
		return 0, fmt.Errorf("failed to read object count: %w", err)
	}
	if count < 0 {
		return 0, nil
	}
	if count > maxObjectCount {
		return maxObjectCount, nil
	}
	return int(count), nil
}

// ObjectAt returns a handle on the object registered at index. An empty
// slot returns nil with no error, a dead chunk or unreadable item is an
// error.
func (o *ObjectTable) ObjectAt(index int) (*Object, error) {
	base := o.Base()
	if base == 0 {
		return nil, fmt.Errorf("object table base not published: %w", ErrResolutionMiss)
	}
	if index < 0 || index >= maxObjectCount {
		return nil, fmt.Errorf("object index %d out of range: %w", index, ErrResolutionMiss)
	}
	lay := o.rt.layout

	chunk := uint32(index) >> lay.ObjectChunkShift
	slot := uint32(index) & ((1 << lay.ObjectChunkShift) - 1)

	chunkPtr, err := memory.ReadPointer(o.rt.ch, base+memory.Address(lay.ObjectTableChunks)+memory.Address(chunk)*8)
	if err != nil {
		return nil, fmt.Errorf("failed to read object chunk %d: %w", chunk, err)
	}
	if chunkPtr == 0 {
		return nil, fmt.Errorf("object index %d: chunk %d not allocated: %w", index, chunk, ErrResolutionMiss)
	}

	item := chunkPtr + memory.Address(lay.ObjectItemStride)*memory.Address(slot)
	addr, err := memory.ReadPointer(o.rt.ch, item)
	if err != nil {
		return nil, fmt.Errorf("failed to read object item at %#x: %w", item, err)
	}
	if addr == 0 {
		return nil, nil
	}
	return NewObject(o.rt, addr), nil
}

// ForEach calls fn for every live object in the registry until fn returns
// false. Empty and unreadable slots are skipped, not fatal: a live target
// mutates the table while we walk it.
func (o *ObjectTable) ForEach(fn func(obj *Object) bool) error {
	count, err := o.Count()
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		obj, err := o.ObjectAt(i)
		if err != nil || obj == nil {
			continue
		}
		if !fn(obj) {
			return nil
		}
	}
	return nil
}

// FindByPath scans the registry for the object whose full path matches,
// case-insensitively
func (o *ObjectTable) FindByPath(path string) (*Object, error) {
	var found *Object
	err := o.ForEach(func(obj *Object) bool {
		p, err := obj.FullPath()
		if err != nil {
			return true
		}
		if strings.EqualFold(p, path) {
			found = obj
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("no object with path %q: %w", path, ErrResolutionMiss)
	}
	return found, nil
}

// FindByName scans the registry for the first object with the given
// short name, case-insensitively
func (o *ObjectTable) FindByName(name string) (*Object, error) {
	var found *Object
	err := o.ForEach(func(obj *Object) bool {
		n, err := obj.Name()
		if err != nil {
			return true
		}
		if strings.EqualFold(n, name) {
			found = obj
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("no object named %q: %w", name, ErrResolutionMiss)
	}
	return found, nil
}
