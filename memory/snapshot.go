package memory

import (
	"encoding/binary"
	"math"
)

// Snapshot is an immutable byte capture of one target memory range, taken
// at a single instant. It goes stale when the target mutates; callers that
// care re-capture explicitly.
type Snapshot struct {
	base Address
	data []byte
}

func NewSnapshot(base Address, data []byte) *Snapshot {
	return &Snapshot{
		base: base,
		data: data,
	}
}

// CaptureSnapshot reads [base, base+size) through the channel into a
// snapshot, chunking large ranges with the usual fill-so-far contract.
// failed is nonzero when a chunk could not be read.
func CaptureSnapshot(ch Channel, base Address, size Size) (snap *Snapshot, failed Address, err error) {
	if size > ch.GetConfig().ChunkThreshold {
		buf, failedAt := ChunkedRead(base, size, ch.GetConfig(), ch.ReadBytes)
		return NewSnapshot(base, buf), failedAt, nil
	}

	data, err := ch.ReadBytes(base, size)
	if err != nil {
		return nil, 0, err
	}
	return NewSnapshot(base, data), 0, nil
}

func (s *Snapshot) Base() Address {
	return s.base
}

func (s *Snapshot) Data() []byte {
	return s.data
}

func (s *Snapshot) Size() Size {
	return Size(len(s.data))
}

// Contains reports whether [addr, addr+size) lies fully inside the snapshot
func (s *Snapshot) Contains(addr Address, size Size) bool {
	if addr < s.base {
		return false
	}
	offset := uint64(addr - s.base)
	return offset+uint64(size) <= uint64(len(s.data))
}

// Bytes returns a view of size bytes at addr without copying
func (s *Snapshot) Bytes(addr Address, size Size) ([]byte, error) {
	if !s.Contains(addr, size) {
		return nil, ErrAddressNotMapped
	}
	offset := addr - s.base
	return s.data[offset : uint64(offset)+uint64(size)], nil
}

func (s *Snapshot) ReadUint16(addr Address) (uint16, error) {
	data, err := s.Bytes(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(data), nil
}

func (s *Snapshot) ReadUint32(addr Address) (uint32, error) {
	data, err := s.Bytes(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

func (s *Snapshot) ReadUint64(addr Address) (uint64, error) {
	data, err := s.Bytes(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}

func (s *Snapshot) ReadInt32(addr Address) (int32, error) {
	v, err := s.ReadUint32(addr)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

func (s *Snapshot) ReadPointer(addr Address) (Address, error) {
	v, err := s.ReadUint64(addr)
	if err != nil {
		return 0, err
	}
	return Address(v), nil
}

func (s *Snapshot) ReadFloat32(addr Address) (float32, error) {
	v, err := s.ReadUint32(addr)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (s *Snapshot) ReadFloat64(addr Address) (float64, error) {
	v, err := s.ReadUint64(addr)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}
