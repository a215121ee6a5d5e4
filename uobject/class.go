package uobject

import (
	"fmt"
	"strings"

	"uescope/memory"
)

// Class is a handle on class metadata. Classes are registered objects
// themselves, so every Object method works on a Class too.
type Class struct {
	Object
}

// NewClass wraps a class metadata address in a handle
func NewClass(rt *Runtime, addr memory.Address) *Class {
	return &Class{Object{rt: rt, addr: addr}}
}

// Super returns the parent class, nil at the root of the hierarchy
func (c *Class) Super() (*Class, error) {
	ptr, err := memory.ReadPointer(c.rt.ch, c.addr+memory.Address(c.rt.layout.StructSuper))
	if err != nil {
		return nil, fmt.Errorf("failed to read super class at %#x: %w", c.addr, err)
	}
	if ptr == 0 {
		return nil, nil
	}
	return NewClass(c.rt, ptr), nil
}

// FieldDecl describes one field declared directly on a class
type FieldDecl struct {
	Name     string
	TypeName string
	Offset   memory.Size
}

// FuncDecl describes one function declared directly on a class
type FuncDecl struct {
	Name  string
	Addr  memory.Address
	Flags uint32
}

// Fields lists the fields declared directly on this class, inherited
// fields excluded. Nodes whose names cannot be decoded are skipped.
func (c *Class) Fields() ([]FieldDecl, error) {
	var decls []FieldDecl
	err := c.walkFieldChain(c.addr, func(node memory.Address, name string) bool {
		typeName, err := c.fieldTypeName(node)
		if err != nil {
			typeName = ""
		}
		offset := memory.Read2[int32](c.rt.ch, node+memory.Address(c.rt.layout.PropertyOffset))
		decls = append(decls, FieldDecl{Name: name, TypeName: typeName, Offset: memory.Size(offset)})
		return true
	})
	if err != nil {
		return nil, err
	}
	return decls, nil
}

// Functions lists the functions declared directly on this class
func (c *Class) Functions() ([]FuncDecl, error) {
	var decls []FuncDecl
	err := c.walkFuncChain(c.addr, func(node memory.Address, name string) bool {
		flags := memory.Read2[uint32](c.rt.ch, node+memory.Address(c.rt.layout.FunctionFlags))
		decls = append(decls, FuncDecl{Name: name, Addr: node, Flags: flags})
		return true
	})
	if err != nil {
		return nil, err
	}
	return decls, nil
}

// walkFieldChain visits the field list of one class. The head slot is
// treated as a node whose next pointer sits at the same relative offset
// as a real node's, which makes every hop read uniform. fn returns false
// to stop early.
func (c *Class) walkFieldChain(classAddr memory.Address, fn func(node memory.Address, name string) bool) error {
	lay := c.rt.layout
	nextOff := memory.Address(lay.FFieldNext)
	cursor := classAddr + memory.Address(lay.StructFieldsHead) - nextOff
	visited := make(map[memory.Address]struct{})
	for hops := 0; hops < maxListHops; hops++ {
		next, err := memory.ReadPointer(c.rt.ch, cursor+nextOff)
		if err != nil {
			return fmt.Errorf("failed to read field link at %#x: %w", cursor, err)
		}
		if next == 0 {
			return nil
		}
		if _, seen := visited[next]; seen {
			return nil
		}
		visited[next] = struct{}{}
		cursor = next

		index, err := memory.Read[uint32](c.rt.ch, next+memory.Address(lay.FFieldName))
		if err != nil {
			continue
		}
		name, err := c.rt.names.NameAt(index)
		if err != nil {
			continue
		}
		if !fn(next, name) {
			return nil
		}
	}
	return nil
}

// walkFuncChain visits the function list of one class. Function nodes are
// registered objects, so their names and links use the object layout.
func (c *Class) walkFuncChain(classAddr memory.Address, fn func(node memory.Address, name string) bool) error {
	lay := c.rt.layout
	nextOff := memory.Address(lay.UFieldNext)
	cursor := classAddr + memory.Address(lay.StructFuncsHead) - nextOff
	visited := make(map[memory.Address]struct{})
	for hops := 0; hops < maxListHops; hops++ {
		next, err := memory.ReadPointer(c.rt.ch, cursor+nextOff)
		if err != nil {
			return fmt.Errorf("failed to read function link at %#x: %w", cursor, err)
		}
		if next == 0 {
			return nil
		}
		if _, seen := visited[next]; seen {
			return nil
		}
		visited[next] = struct{}{}
		cursor = next

		index, err := memory.Read[uint32](c.rt.ch, next+memory.Address(lay.ObjectName))
		if err != nil {
			continue
		}
		name, err := c.rt.names.NameAt(index)
		if err != nil {
			continue
		}
		if !fn(next, name) {
			return nil
		}
	}
	return nil
}

// fieldTypeName resolves a field node's type through its descriptor
func (c *Class) fieldTypeName(node memory.Address) (string, error) {
	desc, err := memory.ReadPointer(c.rt.ch, node+memory.Address(c.rt.layout.FFieldDescriptor))
	if err != nil {
		return "", fmt.Errorf("failed to read field descriptor at %#x: %w", node, err)
	}
	if desc == 0 {
		return "", fmt.Errorf("field %#x has no descriptor: %w", node, ErrResolutionMiss)
	}
	index, err := memory.Read[uint32](c.rt.ch, desc+memory.Address(c.rt.layout.DescriptorName))
	if err != nil {
		return "", fmt.Errorf("failed to read descriptor name at %#x: %w", desc, err)
	}
	return c.rt.names.NameAt(index)
}

// decodeFieldInfo reads the attributes accessors need from a matched
// field node
func (c *Class) decodeFieldInfo(node memory.Address, typeName string) (*fieldInfo, error) {
	lay := c.rt.layout
	ch := c.rt.ch

	offset, err := memory.Read[int32](ch, node+memory.Address(lay.PropertyOffset))
	if err != nil {
		return nil, fmt.Errorf("failed to read field offset at %#x: %w", node, err)
	}
	info := &fieldInfo{
		node:     node,
		offset:   memory.Size(offset),
		typeName: typeName,
		kind:     kindFor(typeName),
		elemSize: memory.Size(memory.Read2[int32](ch, node+memory.Address(lay.PropertyElementSize))),
	}

	switch info.kind {
	case kindBool:
		// Packed record: field size, byte offset, byte mask, field mask
		raw, err := ch.ReadBytes(node+memory.Address(lay.PropertyBoolMask), 4)
		if err != nil {
			return nil, fmt.Errorf("failed to read bool mask at %#x: %w", node, err)
		}
		info.boolByte = memory.Size(raw[1])
		info.boolMask = raw[2]
		if info.boolMask == 0 {
			info.boolMask = 0xFF
		}
	case kindArray:
		info.inner = memory.ReadPointer2(ch, node+memory.Address(lay.PropertyArrayInner))
	}
	return info, nil
}

// resolveField finds a field by name across this class and its supers.
// Hits and misses are both memoized under the class the query started
// at, so a repeated miss costs one map lookup instead of a chain walk.
func (c *Class) resolveField(name string) (*fieldInfo, error) {
	key := fieldKey{class: c.addr, name: strings.ToLower(name)}
	if info, ok := c.rt.cachedField(key); ok {
		if info == nil {
			return nil, fmt.Errorf("no field %q on class %#x: %w", name, c.addr, ErrResolutionMiss)
		}
		return info, nil
	}

	var (
		found    *fieldInfo
		foundErr error
	)
	err := c.eachClassInChain(func(cls memory.Address) (bool, error) {
		walkErr := c.walkFieldChain(cls, func(node memory.Address, nodeName string) bool {
			if !strings.EqualFold(nodeName, name) {
				return true
			}
			typeName, err := c.fieldTypeName(node)
			if err != nil {
				foundErr = err
				return false
			}
			found, foundErr = c.decodeFieldInfo(node, typeName)
			return false
		})
		if walkErr != nil {
			return false, walkErr
		}
		return found == nil && foundErr == nil, nil
	})
	if err != nil {
		return nil, err
	}
	if foundErr != nil {
		return nil, foundErr
	}

	c.rt.storeField(key, found)
	if found == nil {
		return nil, fmt.Errorf("no field %q on class %#x: %w", name, c.addr, ErrResolutionMiss)
	}
	return found, nil
}

// resolveFunction finds a function by name across this class and its
// supers, memoized the same way fields are
func (c *Class) resolveFunction(name string) (*funcInfo, error) {
	key := fieldKey{class: c.addr, name: strings.ToLower(name)}
	if info, ok := c.rt.cachedFunc(key); ok {
		if info == nil {
			return nil, fmt.Errorf("no function %q on class %#x: %w", name, c.addr, ErrResolutionMiss)
		}
		return info, nil
	}

	var found *funcInfo
	err := c.eachClassInChain(func(cls memory.Address) (bool, error) {
		walkErr := c.walkFuncChain(cls, func(node memory.Address, nodeName string) bool {
			if !strings.EqualFold(nodeName, name) {
				return true
			}
			found = &funcInfo{node: node}
			return false
		})
		if walkErr != nil {
			return false, walkErr
		}
		return found == nil, nil
	})
	if err != nil {
		return nil, err
	}

	c.rt.storeFunc(key, found)
	if found == nil {
		return nil, fmt.Errorf("no function %q on class %#x: %w", name, c.addr, ErrResolutionMiss)
	}
	return found, nil
}

// eachClassInChain calls fn for this class and each super in turn until
// fn returns false. Guarded against loops the same way every other chain
// walk is.
func (c *Class) eachClassInChain(fn func(classAddr memory.Address) (bool, error)) error {
	visited := make(map[memory.Address]struct{})
	cur := c
	for hops := 0; cur != nil && hops < maxChainHops; hops++ {
		if _, seen := visited[cur.addr]; seen {
			return nil
		}
		visited[cur.addr] = struct{}{}

		more, err := fn(cur.addr)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}

		super, err := cur.Super()
		if err != nil {
			return err
		}
		if super == nil || super.addr == cur.addr {
			return nil
		}
		cur = super
	}
	return nil
}
