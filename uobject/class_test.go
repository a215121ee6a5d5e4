package uobject

import (
	"errors"
	"testing"

	"uescope/memory"
)

func TestFieldResolutionAcrossSupers(t *testing.T) {
	tg := newTarget(t)
	pkg := tg.newObject("Game", 0, 0)
	base := tg.newClass("Entity", pkg, 0)
	leaf := tg.newClass("Pawn", pkg, base)
	tg.addField(base, "Health", "IntProperty", 0x100)
	tg.addField(leaf, "Score", "IntProperty", 0x108)
	inst := tg.newObject("Hero", leaf, pkg)
	obj := tg.obj(inst)

	f, err := obj.Field("health")
	if err != nil {
		t.Fatalf("inherited field: %v", err)
	}
	if f.TypeName() != "IntProperty" || f.Addr() != inst+0x100 {
		t.Errorf("inherited field = %s at %#x", f.TypeName(), f.Addr())
	}

	f, err = obj.Field("Score")
	if err != nil || f.Addr() != inst+0x108 {
		t.Errorf("own field = %v, %v", f, err)
	}

	if _, err := obj.Field("Mana"); !errors.Is(err, ErrResolutionMiss) {
		t.Errorf("missing field: %v", err)
	}
}

func TestFieldMissMemoized(t *testing.T) {
	tg := newTarget(t)
	leaf := tg.newClass("Pawn", 0, 0)
	inst := tg.newObject("Hero", leaf, 0)
	obj := tg.obj(inst)

	if _, err := obj.Field("Ghost"); !errors.Is(err, ErrResolutionMiss) {
		t.Fatalf("first lookup: %v", err)
	}

	// The field exists now, but the memoized miss still answers
	tg.addField(leaf, "Ghost", "IntProperty", 0x40)
	if _, err := obj.Field("Ghost"); !errors.Is(err, ErrResolutionMiss) {
		t.Errorf("memoized miss: %v", err)
	}

	tg.rt.ResetCaches()
	f, err := obj.Field("Ghost")
	if err != nil {
		t.Fatalf("lookup after reset: %v", err)
	}
	if f.Addr() != inst+0x40 {
		t.Errorf("field at %#x, want %#x", f.Addr(), inst+0x40)
	}
}

func TestClassMemberLists(t *testing.T) {
	tg := newTarget(t)
	cls := NewClass(tg.rt, tg.newClass("Pawn", 0, 0))
	tg.addField(cls.Addr(), "Health", "IntProperty", 0x30)
	tg.addField(cls.Addr(), "Speed", "FloatProperty", 0x34)
	tg.addFunction(cls.Addr(), "Jump", 0x21)
	tg.addFunction(cls.Addr(), "Fire", 0x400)

	fields, err := cls.Fields()
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	byName := make(map[string]FieldDecl, len(fields))
	for _, d := range fields {
		byName[d.Name] = d
	}
	if len(fields) != 2 {
		t.Fatalf("got %d fields, want 2", len(fields))
	}
	if d := byName["Health"]; d.TypeName != "IntProperty" || d.Offset != 0x30 {
		t.Errorf("Health = %+v", d)
	}
	if d := byName["Speed"]; d.TypeName != "FloatProperty" || d.Offset != 0x34 {
		t.Errorf("Speed = %+v", d)
	}

	funcs, err := cls.Functions()
	if err != nil {
		t.Fatalf("Functions: %v", err)
	}
	if len(funcs) != 2 {
		t.Fatalf("got %d functions, want 2", len(funcs))
	}
	flagsByName := make(map[string]uint32, len(funcs))
	for _, d := range funcs {
		flagsByName[d.Name] = d.Flags
	}
	if flagsByName["Jump"] != 0x21 || flagsByName["Fire"] != 0x400 {
		t.Errorf("function flags = %v", flagsByName)
	}
}

func TestFieldListCycleGuard(t *testing.T) {
	tg := newTarget(t)
	lay := tg.rt.layout
	cls := NewClass(tg.rt, tg.newClass("Pawn", 0, 0))
	n1 := tg.addField(cls.Addr(), "First", "IntProperty", 0x30)
	tg.addField(cls.Addr(), "Second", "IntProperty", 0x34)

	// Tail now points back at the head node
	head := memory.ReadPointer2(tg.ch, cls.Addr()+memory.Address(lay.StructFieldsHead))
	put(tg, n1+memory.Address(lay.FFieldNext), uint64(head))

	fields, err := cls.Fields()
	if err != nil {
		t.Fatalf("cyclic field list: %v", err)
	}
	if len(fields) != 2 {
		t.Errorf("got %d fields, want 2", len(fields))
	}

	if _, err := cls.resolveField("Missing"); !errors.Is(err, ErrResolutionMiss) {
		t.Errorf("lookup on cyclic list: %v", err)
	}
}

func TestClassSuperChain(t *testing.T) {
	tg := newTarget(t)
	base := tg.newClass("Entity", 0, 0)
	leaf := NewClass(tg.rt, tg.newClass("Pawn", 0, base))

	super, err := leaf.Super()
	if err != nil || super.Addr() != base {
		t.Errorf("Super = %v, %v, want %#x", super, err, base)
	}
	root, err := super.Super()
	if err != nil || root != nil {
		t.Errorf("root Super = %v, %v, want nil", root, err)
	}
}
