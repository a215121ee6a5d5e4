package uobject

import (
	"fmt"
	"math"

	"uescope/memory"
)

// funcInfo carries a resolved function node
type funcInfo struct {
	node memory.Address
}

// ReturnValue carries what a dispatched call left behind. Accessors never
// fail: a failed call yields the zero value with OK false, so scripted
// call sites can chain reads without error plumbing.
type ReturnValue struct {
	rt  *Runtime
	raw uint64
	ok  bool
}

// OK reports whether the call actually ran
func (r ReturnValue) OK() bool {
	return r.ok
}

// Raw returns the untouched return word
func (r ReturnValue) Raw() uint64 {
	return r.raw
}

func (r ReturnValue) Int32() int32 {
	return int32(uint32(r.raw))
}

func (r ReturnValue) Int64() int64 {
	return int64(r.raw)
}

// Float32 reinterprets the low dword as single precision bits
func (r ReturnValue) Float32() float32 {
	return math.Float32frombits(uint32(r.raw))
}

// Float64 reinterprets the word as double precision bits
func (r ReturnValue) Float64() float64 {
	return math.Float64frombits(r.raw)
}

// Bool reads the low byte the way a native bool return comes back
func (r ReturnValue) Bool() bool {
	return r.raw&0xFF != 0
}

// Object wraps the return word as an instance handle, nil for null or a
// failed call
func (r ReturnValue) Object() *Object {
	if !r.ok || r.raw == 0 {
		return nil
	}
	return NewObject(r.rt, memory.Address(r.raw))
}

// Invoke dispatches a reflected function on the instance through the
// target's dispatcher slot. The function's flags word gets a native bit
// set for the duration of the call so the dispatcher treats it as
// directly callable, and the original word is restored on every exit
// path. Failures during resolution or execution are logged and come back
// as a zero value with OK false instead of an error.
func (obj *Object) Invoke(name string, args ...interface{}) ReturnValue {
	fail := ReturnValue{rt: obj.rt}

	cls, err := obj.Class()
	if err != nil {
		obj.rt.warn("Invoke", name, "failed to resolve class:", err)
		return fail
	}
	fn, err := cls.resolveFunction(name)
	if err != nil {
		obj.rt.warn("Invoke", name, "not found:", err)
		return fail
	}

	words, err := argWords(args)
	if err != nil {
		obj.rt.warn("Invoke", name, "bad argument:", err)
		return fail
	}

	slot, err := obj.dispatcherSlot()
	if err != nil {
		obj.rt.warn("Invoke", name, "failed to resolve dispatcher:", err)
		return fail
	}

	lay := obj.rt.layout
	flagsAddr := fn.node + memory.Address(lay.FunctionFlags)
	flags, err := memory.Read[uint32](obj.rt.ch, flagsAddr)
	if err != nil {
		obj.rt.warn("Invoke", name, "failed to read function flags:", err)
		return fail
	}
	if flags&lay.FunctionNativeBit == 0 {
		if err := memory.Write(obj.rt.ch, flagsAddr, flags|lay.FunctionNativeBit); err != nil {
			obj.rt.warn("Invoke", name, "failed to set function flags:", err)
			return fail
		}
		defer func() {
			if err := memory.Write(obj.rt.ch, flagsAddr, flags); err != nil {
				obj.rt.warn("Invoke", name, "failed to restore function flags:", err)
			}
		}()
	}

	regArgs := [4]uint64{uint64(obj.addr), uint64(fn.node), 0, 0}
	ret, err := obj.rt.ch.Execute(slot, regArgs, words)
	if err != nil {
		obj.rt.warn("Invoke", name, "execution failed:", err)
		return fail
	}
	return ReturnValue{rt: obj.rt, raw: ret, ok: true}
}

// dispatcherSlot resolves the dispatch function pointer out of the
// instance's virtual table, memoized per table
func (obj *Object) dispatcherSlot() (memory.Address, error) {
	vtable, err := memory.ReadPointer(obj.rt.ch, obj.addr+memory.Address(obj.rt.layout.ObjectVTable))
	if err != nil {
		return 0, fmt.Errorf("failed to read vtable at %#x: %w", obj.addr, err)
	}
	if vtable == 0 {
		return 0, fmt.Errorf("object %#x has a null vtable: %w", obj.addr, ErrResolutionMiss)
	}

	if slot, ok := obj.rt.cachedVTableSlot(vtable); ok {
		return slot, nil
	}
	slot, err := memory.ReadPointer(obj.rt.ch, vtable+memory.Address(obj.rt.layout.ProcessEventSlot)*8)
	if err != nil {
		return 0, fmt.Errorf("failed to read dispatcher slot: %w", err)
	}
	if slot == 0 {
		return 0, fmt.Errorf("dispatcher slot in vtable %#x is null: %w", vtable, ErrResolutionMiss)
	}
	obj.rt.storeVTableSlot(vtable, slot)
	return slot, nil
}

// argWords converts call arguments to raw machine words. Floats go by
// bit pattern, handles by address.
func argWords(args []interface{}) ([]uint64, error) {
	if len(args) == 0 {
		return nil, nil
	}
	words := make([]uint64, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case *Object:
			if v != nil {
				words[i] = uint64(v.addr)
			}
		case memory.Address:
			words[i] = uint64(v)
		case uint64:
			words[i] = v
		case int64:
			words[i] = uint64(v)
		case int:
			words[i] = uint64(int64(v))
		case int32:
			words[i] = uint64(int64(v))
		case uint32:
			words[i] = uint64(v)
		case uintptr:
			words[i] = uint64(v)
		case bool:
			if v {
				words[i] = 1
			}
		case float32:
			words[i] = uint64(math.Float32bits(v))
		case float64:
			words[i] = math.Float64bits(v)
		default:
			return nil, fmt.Errorf("unsupported argument type %T at position %d", arg, i)
		}
	}
	return words, nil
}
