package uobject

import (
	"fmt"
	"strings"

	"uescope/memory"
)

// Object is a handle on one reflected instance in the target. Handles are
// cheap to create and carry no decoded state of their own; every metadata
// decode goes through the runtime's shared caches, so two handles on the
// same address always agree.
type Object struct {
	rt   *Runtime
	addr memory.Address
}

// NewObject wraps an instance address in a handle
func NewObject(rt *Runtime, addr memory.Address) *Object {
	return &Object{rt: rt, addr: addr}
}

// Addr returns the instance address
func (obj *Object) Addr() memory.Address {
	return obj.addr
}

// Valid reports whether the handle points at anything
func (obj *Object) Valid() bool {
	return obj != nil && obj.addr != 0
}

// NameIndex reads the interned name index from the instance header
func (obj *Object) NameIndex() (uint32, error) {
	index, err := memory.Read[uint32](obj.rt.ch, obj.addr+memory.Address(obj.rt.layout.ObjectName))
	if err != nil {
		return 0, fmt.Errorf("failed to read name index at %#x: %w", obj.addr, err)
	}
	return index, nil
}

// Name resolves the instance's short name through the name table
func (obj *Object) Name() (string, error) {
	index, err := obj.NameIndex()
	if err != nil {
		return "", err
	}
	return obj.rt.names.NameAt(index)
}

// Outer returns the containing object, nil at the top of the chain
func (obj *Object) Outer() (*Object, error) {
	ptr, err := memory.ReadPointer(obj.rt.ch, obj.addr+memory.Address(obj.rt.layout.ObjectOuter))
	if err != nil {
		return nil, fmt.Errorf("failed to read outer at %#x: %w", obj.addr, err)
	}
	if ptr == 0 {
		return nil, nil
	}
	return NewObject(obj.rt, ptr), nil
}

// Class returns the instance's class metadata
func (obj *Object) Class() (*Class, error) {
	ptr, err := memory.ReadPointer(obj.rt.ch, obj.addr+memory.Address(obj.rt.layout.ObjectClass))
	if err != nil {
		return nil, fmt.Errorf("failed to read class at %#x: %w", obj.addr, err)
	}
	if ptr == 0 {
		return nil, fmt.Errorf("object %#x has a null class: %w", obj.addr, ErrResolutionMiss)
	}
	return NewClass(obj.rt, ptr), nil
}

// FullPath joins the outer chain's names outermost first, separated by
// dots. Paths are memoized per address.
func (obj *Object) FullPath() (string, error) {
	if s, ok := obj.rt.cachedPath(obj.addr); ok {
		return s, nil
	}

	// The chain in a live target can be corrupt, so the walk carries a
	// visited set and a hop ceiling on top of the null checks.
	var parts []string
	visited := make(map[memory.Address]struct{})
	cur := obj
	for hops := 0; cur != nil && hops < maxChainHops; hops++ {
		if _, seen := visited[cur.addr]; seen {
			break
		}
		visited[cur.addr] = struct{}{}

		name, err := cur.Name()
		if err != nil {
			return "", fmt.Errorf("failed to resolve path segment at %#x: %w", cur.addr, err)
		}
		if name == "" || strings.EqualFold(name, "None") {
			break
		}
		parts = append(parts, name)

		outer, err := cur.Outer()
		if err != nil {
			return "", fmt.Errorf("failed to resolve path segment at %#x: %w", cur.addr, err)
		}
		if outer == nil || outer.addr == cur.addr {
			break
		}
		cur = outer
	}

	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	path := strings.Join(parts, ".")
	obj.rt.storePath(obj.addr, path)
	return path, nil
}

// IsA reports whether the instance's class chain contains a class whose
// full path matches, case-insensitively. Verdicts are memoized per
// class and query.
func (obj *Object) IsA(classPath string) (bool, error) {
	cls, err := obj.Class()
	if err != nil {
		return false, err
	}

	key := isaKey{class: cls.addr, path: strings.ToLower(classPath)}
	if verdict, ok := obj.rt.cachedIsA(key); ok {
		return verdict, nil
	}

	verdict := false
	visited := make(map[memory.Address]struct{})
	cur := cls
	for hops := 0; cur != nil && hops < maxChainHops; hops++ {
		if _, seen := visited[cur.addr]; seen {
			break
		}
		visited[cur.addr] = struct{}{}

		path, err := cur.FullPath()
		if err != nil {
			return false, err
		}
		if strings.EqualFold(path, classPath) {
			verdict = true
			break
		}

		super, err := cur.Super()
		if err != nil {
			return false, err
		}
		if super == nil || super.addr == cur.addr {
			break
		}
		cur = super
	}

	obj.rt.storeIsA(key, verdict)
	return verdict, nil
}
