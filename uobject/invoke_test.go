package uobject

import (
	"errors"
	"math"
	"testing"

	"uescope/memory"
)

// dispatchTarget wires a callable instance: a class with one function
// and an instance whose vtable routes the dispatcher slot to fnPtr
func dispatchTarget(t *testing.T, flags uint32) (*target, memory.Address, memory.Address, memory.Address) {
	t.Helper()
	tg := newTarget(t)
	lay := tg.rt.layout
	pkg := tg.newObject("Game", 0, 0)
	cls := tg.newClass("Pawn", pkg, 0)
	fnode := tg.addFunction(cls, "GetHealth", flags)
	dispatcher := memory.Address(0x00DD1100)
	vt := tg.newVTable(dispatcher)
	inst := tg.newObject("Hero", cls, pkg)
	put(tg, inst+memory.Address(lay.ObjectVTable), uint64(vt))
	return tg, inst, fnode, dispatcher
}

func TestInvokeDispatch(t *testing.T) {
	const origFlags = uint32(0x04000021)
	tg, inst, fnode, dispatcher := dispatchTarget(t, origFlags)
	lay := tg.rt.layout
	pkg, _ := tg.obj(inst).Outer()

	var (
		calls       int
		gotFn       memory.Address
		gotReg      [4]uint64
		gotStack    []uint64
		flagsDuring uint32
	)
	tg.ch.ExecHandler = func(fn memory.Address, regArgs [4]uint64, stackArgs []uint64) (uint64, error) {
		calls++
		gotFn = fn
		gotReg = regArgs
		gotStack = append([]uint64(nil), stackArgs...)
		flagsDuring = memory.Read2[uint32](tg.ch, fnode+memory.Address(lay.FunctionFlags))
		return uint64(math.Float32bits(3.25)), nil
	}

	ret := tg.obj(inst).Invoke("GetHealth", 42, float32(1.5), pkg, true)
	if !ret.OK() {
		t.Fatal("call reported failure")
	}
	if calls != 1 {
		t.Fatalf("dispatcher ran %d times", calls)
	}
	if gotFn != dispatcher {
		t.Errorf("dispatched to %#x, want %#x", gotFn, dispatcher)
	}
	wantReg := [4]uint64{uint64(inst), uint64(fnode), 0, 0}
	if gotReg != wantReg {
		t.Errorf("register args = %#x, want %#x", gotReg, wantReg)
	}
	wantStack := []uint64{42, uint64(math.Float32bits(1.5)), uint64(pkg.Addr()), 1}
	if len(gotStack) != len(wantStack) {
		t.Fatalf("stack args = %#x, want %#x", gotStack, wantStack)
	}
	for i := range wantStack {
		if gotStack[i] != wantStack[i] {
			t.Errorf("stack arg %d = %#x, want %#x", i, gotStack[i], wantStack[i])
		}
	}

	if flagsDuring&lay.FunctionNativeBit == 0 {
		t.Error("native bit not set during dispatch")
	}
	after, _ := memory.Read[uint32](tg.ch, fnode+memory.Address(lay.FunctionFlags))
	if after != origFlags {
		t.Errorf("flags after call = %#x, want %#x", after, origFlags)
	}

	if got := ret.Float32(); got != 3.25 {
		t.Errorf("Float32 = %v, want 3.25", got)
	}
	if tg.rt.WarnCount() != 0 {
		t.Errorf("clean call logged %d warnings", tg.rt.WarnCount())
	}
}

func TestInvokeMissingFunction(t *testing.T) {
	tg, inst, _, _ := dispatchTarget(t, 0x21)

	calls := 0
	tg.ch.ExecHandler = func(fn memory.Address, regArgs [4]uint64, stackArgs []uint64) (uint64, error) {
		calls++
		return 0, nil
	}

	before := tg.rt.WarnCount()
	ret := tg.obj(inst).Invoke("DoesNotExist")
	if ret.OK() {
		t.Error("missing function reported success")
	}
	if ret.Raw() != 0 || ret.Int32() != 0 || ret.Object() != nil || ret.Bool() {
		t.Error("failed call returned non-zero values")
	}
	if calls != 0 {
		t.Errorf("dispatcher ran %d times on a miss", calls)
	}
	if tg.rt.WarnCount() != before+1 {
		t.Errorf("warnings went %d -> %d, want one new", before, tg.rt.WarnCount())
	}
}

func TestInvokeBadArgument(t *testing.T) {
	tg, inst, _, _ := dispatchTarget(t, 0x21)

	calls := 0
	tg.ch.ExecHandler = func(fn memory.Address, regArgs [4]uint64, stackArgs []uint64) (uint64, error) {
		calls++
		return 0, nil
	}

	ret := tg.obj(inst).Invoke("GetHealth", struct{ x int }{1})
	if ret.OK() || calls != 0 {
		t.Errorf("unconvertible argument dispatched, ok=%v calls=%d", ret.OK(), calls)
	}
	if tg.rt.WarnCount() == 0 {
		t.Error("no warning for unconvertible argument")
	}
}

func TestInvokeFlagsRestoredOnFailure(t *testing.T) {
	const origFlags = uint32(0x21)
	tg, inst, fnode, _ := dispatchTarget(t, origFlags)
	lay := tg.rt.layout

	tg.ch.ExecHandler = func(fn memory.Address, regArgs [4]uint64, stackArgs []uint64) (uint64, error) {
		return 0, errors.New("target rejected the call")
	}

	ret := tg.obj(inst).Invoke("GetHealth")
	if ret.OK() {
		t.Error("failed execution reported success")
	}
	after, _ := memory.Read[uint32](tg.ch, fnode+memory.Address(lay.FunctionFlags))
	if after != origFlags {
		t.Errorf("flags after failed call = %#x, want %#x", after, origFlags)
	}
	if tg.rt.WarnCount() == 0 {
		t.Error("no warning for failed execution")
	}
}

func TestInvokeDispatcherSlotCached(t *testing.T) {
	tg, inst, _, dispatcher := dispatchTarget(t, 0x21)
	lay := tg.rt.layout

	var fns []memory.Address
	tg.ch.ExecHandler = func(fn memory.Address, regArgs [4]uint64, stackArgs []uint64) (uint64, error) {
		fns = append(fns, fn)
		return 0, nil
	}

	if ret := tg.obj(inst).Invoke("GetHealth"); !ret.OK() {
		t.Fatal("first call failed")
	}

	// Zero the live slot: the cached resolve keeps dispatching
	vtable := memory.ReadPointer2(tg.ch, inst+memory.Address(lay.ObjectVTable))
	put(tg, vtable+memory.Address(lay.ProcessEventSlot)*8, uint64(0))
	if ret := tg.obj(inst).Invoke("GetHealth"); !ret.OK() {
		t.Fatal("cached call failed")
	}
	if len(fns) != 2 || fns[0] != dispatcher || fns[1] != dispatcher {
		t.Errorf("dispatched to %#x, want twice to %#x", fns, dispatcher)
	}

	// After a cache drop the null slot is fatal for the call
	tg.rt.ResetCaches()
	before := tg.rt.WarnCount()
	if ret := tg.obj(inst).Invoke("GetHealth"); ret.OK() {
		t.Error("call with null dispatcher slot reported success")
	}
	if len(fns) != 2 {
		t.Errorf("null slot still dispatched, %d calls", len(fns))
	}
	if tg.rt.WarnCount() != before+1 {
		t.Error("no warning for null dispatcher slot")
	}
}

func TestReturnValueConversions(t *testing.T) {
	tg := newTarget(t)

	tests := []struct {
		name  string
		raw   uint64
		check func(r ReturnValue) bool
	}{
		{"negative int32", 0xFFFFFFFF, func(r ReturnValue) bool { return r.Int32() == -1 }},
		{"int64", 0xFFFFFFFFFFFFFFFF, func(r ReturnValue) bool { return r.Int64() == -1 }},
		{"float64 bits", math.Float64bits(2.5), func(r ReturnValue) bool { return r.Float64() == 2.5 }},
		{"bool low byte set", 0x01, func(r ReturnValue) bool { return r.Bool() }},
		{"bool high bits only", 0x100, func(r ReturnValue) bool { return !r.Bool() }},
		{"null object", 0, func(r ReturnValue) bool { return r.Object() == nil }},
		{"object handle", 0x12340000, func(r ReturnValue) bool {
			obj := r.Object()
			return obj != nil && obj.Addr() == 0x12340000
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ReturnValue{rt: tg.rt, raw: tt.raw, ok: true}
			if !tt.check(r) {
				t.Errorf("raw %#x conversion failed", tt.raw)
			}
		})
	}

	// A failed call never hands out handles
	failed := ReturnValue{rt: tg.rt, raw: 0x12340000}
	if failed.Object() != nil {
		t.Error("failed call produced an object handle")
	}
}
