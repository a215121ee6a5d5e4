package uobject

import (
	"fmt"

	"uescope/memory"
)

type fieldKind int

const (
	kindRaw fieldKind = iota
	kindPointer
	kindStruct
	kindBool
	kindFloat32
	kindFloat64
	kindArray
	kindFunction
)

// propertyKinds maps descriptor type names to access strategies. Types
// not listed here read and write as raw words.
var propertyKinds = map[string]fieldKind{
	"ObjectProperty":   kindPointer,
	"ClassProperty":    kindPointer,
	"StructProperty":   kindStruct,
	"BoolProperty":     kindBool,
	"FloatProperty":    kindFloat32,
	"DoubleProperty":   kindFloat64,
	"ArrayProperty":    kindArray,
	"Function":         kindFunction,
	"DelegateProperty": kindFunction,
}

func kindFor(typeName string) fieldKind {
	if k, ok := propertyKinds[typeName]; ok {
		return k
	}
	return kindRaw
}

// fieldInfo carries the attributes decoded from a matched field node
type fieldInfo struct {
	node     memory.Address
	offset   memory.Size
	typeName string
	kind     fieldKind
	elemSize memory.Size
	inner    memory.Address
	boolByte memory.Size
	boolMask byte
}

// Field binds a resolved field to one instance. The resolution itself is
// shared through the runtime cache, the binding is just instance address
// plus field offset.
type Field struct {
	rt   *Runtime
	obj  *Object
	info *fieldInfo
}

// Field resolves a field by name on the instance's class, walking supers
// as needed
func (obj *Object) Field(name string) (*Field, error) {
	cls, err := obj.Class()
	if err != nil {
		return nil, err
	}
	info, err := cls.resolveField(name)
	if err != nil {
		return nil, err
	}
	return &Field{rt: obj.rt, obj: obj, info: info}, nil
}

// Addr returns where this field's storage lives inside the instance
func (f *Field) Addr() memory.Address {
	return f.obj.addr + memory.Address(f.info.offset)
}

// TypeName returns the descriptor type name the field resolved with
func (f *Field) TypeName() string {
	return f.info.typeName
}

// Raw reads the field's storage as one raw word
func (f *Field) Raw() (uint64, error) {
	return memory.Read[uint64](f.rt.ch, f.Addr())
}

// SetRaw overwrites the field's storage with one raw word
func (f *Field) SetRaw(v uint64) error {
	return memory.Write(f.rt.ch, f.Addr(), v)
}

// Object reads the field as an object handle. Pointer typed fields
// dereference their stored word, struct typed fields wrap the storage
// address itself.
func (f *Field) Object() (*Object, error) {
	switch f.info.kind {
	case kindPointer:
		ptr, err := memory.ReadPointer(f.rt.ch, f.Addr())
		if err != nil {
			return nil, err
		}
		if ptr == 0 {
			return nil, nil
		}
		return NewObject(f.rt, ptr), nil
	case kindStruct:
		return NewObject(f.rt, f.Addr()), nil
	}
	return nil, fmt.Errorf("field %q is %s, not an object", f.info.typeName, f.info.typeName)
}

// SetObject stores an object pointer into a pointer typed field
func (f *Field) SetObject(obj *Object) error {
	if f.info.kind != kindPointer {
		return fmt.Errorf("field is %s, not an object pointer", f.info.typeName)
	}
	var addr memory.Address
	if obj != nil {
		addr = obj.addr
	}
	return memory.Write(f.rt.ch, f.Addr(), uint64(addr))
}

// Bool reads a masked bit field
func (f *Field) Bool() (bool, error) {
	if f.info.kind != kindBool {
		return false, fmt.Errorf("field is %s, not a bool", f.info.typeName)
	}
	data, err := f.rt.ch.ReadBytes(f.Addr()+memory.Address(f.info.boolByte), 1)
	if err != nil {
		return false, err
	}
	return data[0]&f.info.boolMask != 0, nil
}

// SetBool flips only the field's masked bits, bits shared with
// neighboring bool fields in the same byte are left alone
func (f *Field) SetBool(v bool) error {
	if f.info.kind != kindBool {
		return fmt.Errorf("field is %s, not a bool", f.info.typeName)
	}
	addr := f.Addr() + memory.Address(f.info.boolByte)
	data, err := f.rt.ch.ReadBytes(addr, 1)
	if err != nil {
		return err
	}
	b := data[0]
	if v {
		b |= f.info.boolMask
	} else {
		b &^= f.info.boolMask
	}
	return f.rt.ch.WriteBytes(addr, []byte{b})
}

// Float32 reads a single precision field
func (f *Field) Float32() (float32, error) {
	if f.info.kind != kindFloat32 {
		return 0, fmt.Errorf("field is %s, not a float", f.info.typeName)
	}
	return memory.Read[float32](f.rt.ch, f.Addr())
}

// SetFloat32 writes a single precision field
func (f *Field) SetFloat32(v float32) error {
	if f.info.kind != kindFloat32 {
		return fmt.Errorf("field is %s, not a float", f.info.typeName)
	}
	return memory.Write(f.rt.ch, f.Addr(), v)
}

// Float64 reads a double precision field
func (f *Field) Float64() (float64, error) {
	if f.info.kind != kindFloat64 {
		return 0, fmt.Errorf("field is %s, not a double", f.info.typeName)
	}
	return memory.Read[float64](f.rt.ch, f.Addr())
}

// SetFloat64 writes a double precision field
func (f *Field) SetFloat64(v float64) error {
	if f.info.kind != kindFloat64 {
		return fmt.Errorf("field is %s, not a double", f.info.typeName)
	}
	return memory.Write(f.rt.ch, f.Addr(), v)
}

// Int32 reads the low dword of the field's storage
func (f *Field) Int32() (int32, error) {
	return memory.Read[int32](f.rt.ch, f.Addr())
}

// SetInt32 writes the low dword of the field's storage
func (f *Field) SetInt32(v int32) error {
	return memory.Write(f.rt.ch, f.Addr(), v)
}

// Array views the field as a dynamic array
func (f *Field) Array() (*Array, error) {
	if f.info.kind != kindArray {
		return nil, fmt.Errorf("field is %s, not an array", f.info.typeName)
	}
	return &Array{rt: f.rt, header: f.Addr(), inner: f.info.inner}, nil
}
