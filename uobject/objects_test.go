package uobject

import (
	"errors"
	"testing"

	"uescope/memory"
)

func TestObjectTableChunkDecomposition(t *testing.T) {
	tg := newTarget(t)
	lay := tg.rt.layout
	shift := lay.ObjectChunkShift

	// Hand-build a second chunk with one live item two slots in
	chunk1 := tg.alloc(0x100)
	put(tg, fxObjTable+memory.Address(lay.ObjectTableChunks)+8, uint64(chunk1))

	inst := tg.alloc(0x40)
	put(tg, inst+memory.Address(lay.ObjectName), tg.intern("FarObject"))
	put(tg, chunk1+memory.Address(lay.ObjectItemStride)*2, uint64(inst))
	put(tg, fxObjTable+memory.Address(lay.ObjectTableCount), int32(1<<shift+3))

	obj, err := tg.rt.Objects().ObjectAt(1<<shift + 2)
	if err != nil {
		t.Fatalf("ObjectAt across chunks: %v", err)
	}
	if obj.Addr() != inst {
		t.Errorf("ObjectAt = %#x, want %#x", obj.Addr(), inst)
	}
	if name, err := obj.Name(); err != nil || name != "FarObject" {
		t.Errorf("Name = %q, %v", name, err)
	}

	// Empty item in an allocated chunk
	obj, err = tg.rt.Objects().ObjectAt(1<<shift + 1)
	if err != nil || obj != nil {
		t.Errorf("empty slot = %v, %v, want nil, nil", obj, err)
	}

	// Unallocated chunk
	if _, err := tg.rt.Objects().ObjectAt(5 << shift); !errors.Is(err, ErrResolutionMiss) {
		t.Errorf("dead chunk: %v", err)
	}
}

func TestObjectTableCountClamp(t *testing.T) {
	tg := newTarget(t)
	lay := tg.rt.layout

	tests := []struct {
		name string
		raw  int32
		want int
	}{
		{"plain", 17, 17},
		{"negative", -7, 0},
		{"garbage high", 0x7FFFFFFF, maxObjectCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			put(tg, fxObjTable+memory.Address(lay.ObjectTableCount), tt.raw)
			got, err := tg.rt.Objects().Count()
			if err != nil {
				t.Fatalf("Count: %v", err)
			}
			if got != tt.want {
				t.Errorf("Count = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestObjectTableForEach(t *testing.T) {
	tg := newTarget(t)
	a := tg.newObject("Alpha", 0, 0)
	tg.register(0) // dead slot in the middle
	b := tg.newObject("Beta", 0, 0)

	var visited []memory.Address
	err := tg.rt.Objects().ForEach(func(obj *Object) bool {
		visited = append(visited, obj.Addr())
		return true
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(visited) != 2 || visited[0] != a || visited[1] != b {
		t.Errorf("visited = %#x, want [%#x %#x]", visited, a, b)
	}

	// Early stop
	count := 0
	err = tg.rt.Objects().ForEach(func(obj *Object) bool {
		count++
		return false
	})
	if err != nil || count != 1 {
		t.Errorf("early stop visited %d, %v", count, err)
	}
}

func TestObjectTableFind(t *testing.T) {
	tg := newTarget(t)
	pkg := tg.newObject("Engine", 0, 0)
	ge := tg.newObject("GameEngine", 0, pkg)
	tg.newObject("Misc", 0, pkg)

	obj, err := tg.rt.Objects().FindByPath("engine.gameengine")
	if err != nil {
		t.Fatalf("FindByPath: %v", err)
	}
	if obj.Addr() != ge {
		t.Errorf("FindByPath = %#x, want %#x", obj.Addr(), ge)
	}

	if _, err := tg.rt.Objects().FindByPath("Engine.Missing"); !errors.Is(err, ErrResolutionMiss) {
		t.Errorf("miss: %v", err)
	}

	obj, err = tg.rt.Objects().FindByName("gameengine")
	if err != nil || obj.Addr() != ge {
		t.Errorf("FindByName = %v, %v", obj, err)
	}
}
