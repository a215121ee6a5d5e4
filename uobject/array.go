package uobject

import (
	"fmt"

	"uescope/memory"
)

// Array views one dynamic array header in the target: a data pointer
// followed by an element count. Elements are assumed pointer sized.
type Array struct {
	rt     *Runtime
	header memory.Address
	inner  memory.Address
}

// Len reads the element count, clamped so a corrupt header cannot drive
// an unbounded element walk
func (a *Array) Len() (int, error) {
	count, err := memory.Read[int32](a.rt.ch, a.header+memory.Address(a.rt.layout.ArrayCount))
	if err != nil {
		return 0, fmt.Errorf("failed to read array count at %#x: %w", a.header, err)
	}
	if count < 0 {
		return 0, nil
	}
	if count > maxArrayLen {
		return maxArrayLen, nil
	}
	return int(count), nil
}

// Data returns the backing store address
func (a *Array) Data() (memory.Address, error) {
	ptr, err := memory.ReadPointer(a.rt.ch, a.header+memory.Address(a.rt.layout.ArrayData))
	if err != nil {
		return 0, fmt.Errorf("failed to read array data pointer at %#x: %w", a.header, err)
	}
	return ptr, nil
}

// At returns the element at index as an object handle, nil for a null
// slot. The backing slab is read once per header and then served from
// the runtime cache until ResetCaches.
func (a *Array) At(index int) (*Object, error) {
	slab, ok := a.rt.cachedArray(a.header)
	if !ok {
		n, err := a.Len()
		if err != nil {
			return nil, err
		}
		data, err := a.Data()
		if err != nil {
			return nil, err
		}
		if data == 0 || n == 0 {
			slab = nil
		} else {
			slab, err = memory.ReadPointerList(a.rt.ch, data, n)
			if err != nil {
				return nil, fmt.Errorf("failed to read array backing at %#x: %w", data, err)
			}
		}
		a.rt.storeArray(a.header, slab)
	}

	if index < 0 || index >= len(slab) {
		return nil, fmt.Errorf("array index %d out of range 0..%d: %w", index, len(slab), ErrResolutionMiss)
	}
	ptr := slab[index]
	if ptr == 0 {
		return nil, nil
	}
	return NewObject(a.rt, ptr), nil
}

// ForEach calls fn for every non-null element until fn returns false
func (a *Array) ForEach(fn func(index int, obj *Object) bool) error {
	n, err := a.Len()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		obj, err := a.At(i)
		if err != nil {
			return err
		}
		if obj == nil {
			continue
		}
		if !fn(i, obj) {
			return nil
		}
	}
	return nil
}
