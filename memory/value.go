package memory

import (
	"encoding/binary"
	"errors"
	"unicode/utf16"
	"unsafe"
)

// SizeOf returns the in-memory size of T
func SizeOf[T any]() Size {
	var t T
	return Size(unsafe.Sizeof(t))
}

// Read decodes one fixed-size value of type T at addr. T must be POD:
// no pointers or Go-managed references, the bytes are copied raw.
func Read[T any](ch Channel, addr Address) (T, error) {
	var value T
	size := Size(unsafe.Sizeof(value))
	if size == 0 {
		return value, errors.New("Read: size of T is zero")
	}

	data, err := ch.ReadBytes(addr, size)
	if err != nil {
		return value, err
	}
	if Size(len(data)) < size {
		return value, ErrReadFailed
	}

	dst := unsafe.Slice((*byte)(unsafe.Pointer(&value)), size)
	copy(dst, data)
	return value, nil
}

// Read2 is Read with the zero value on any error
func Read2[T any](ch Channel, addr Address) T {
	value, err := Read[T](ch, addr)
	if err != nil {
		var zero T
		return zero
	}
	return value
}

// Write encodes v at addr using its in-memory layout
func Write[T any](ch Channel, addr Address, v T) error {
	size := int(unsafe.Sizeof(v))
	if size == 0 {
		return nil
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(&v)), size)
	data := make([]byte, size)
	copy(data, src)
	return ch.WriteBytes(addr, data)
}

// ReadPointer reads a pointer-sized word at addr
func ReadPointer(ch Channel, addr Address) (Address, error) {
	data, err := ch.ReadBytes(addr, 8)
	if err != nil {
		return 0, err
	}
	if len(data) < 8 {
		return 0, ErrReadFailed
	}
	return Address(binary.LittleEndian.Uint64(data)), nil
}

// ReadPointer2 reads a pointer value at addr, zero on error
func ReadPointer2(ch Channel, addr Address) Address {
	ptr, err := ReadPointer(ch, addr)
	if err != nil {
		return 0
	}
	return ptr
}

// ReadPointerList reads count consecutive pointer slots starting at base
func ReadPointerList(ch Channel, base Address, count int) ([]Address, error) {
	if count <= 0 {
		return nil, nil
	}
	data, err := ch.ReadBytes(base, Size(count*8))
	if err != nil {
		return nil, err
	}
	if len(data) < count*8 {
		return nil, ErrReadFailed
	}
	results := make([]Address, count)
	for i := range results {
		results[i] = Address(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return results, nil
}

// ReadCString reads a null-terminated byte string at addr. maxLength zero
// means the channel's configured string ceiling; larger requests are
// clamped to it.
func ReadCString(ch Channel, addr Address, maxLength Size) (string, error) {
	limit := ch.GetConfig().MaxStringLength
	if maxLength == 0 || maxLength > limit {
		maxLength = limit
	}
	if maxLength == 0 {
		return "", nil
	}

	data, err := ch.ReadBytes(addr, maxLength)
	if err != nil {
		return "", err
	}
	for i, b := range data {
		if b == 0 {
			return string(data[:i]), nil
		}
	}
	return string(data), nil
}

// ReadWideString reads a null-terminated UTF-16LE string at addr. maxLength
// counts 16-bit units, zero means the channel's configured string ceiling.
func ReadWideString(ch Channel, addr Address, maxLength Size) (string, error) {
	limit := ch.GetConfig().MaxStringLength
	if maxLength == 0 || maxLength > limit {
		maxLength = limit
	}
	if maxLength == 0 {
		return "", nil
	}

	data, err := ch.ReadBytes(addr, maxLength*2)
	if err != nil {
		return "", err
	}

	units := make([]uint16, 0, maxLength)
	for i := 0; i+1 < len(data); i += 2 {
		u := binary.LittleEndian.Uint16(data[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units)), nil
}
