package uobject

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode/utf16"

	"uescope/memory"
)

// NameTable decodes the target's interned string pool. Entries live in
// fixed-size blocks reached through a pointer array at the pool base;
// an index splits into a block number and an entry offset inside it.
type NameTable struct {
	rt   *Runtime
	base atomic.Uint64
}

// SetBase publishes the pool base address. Zero unpublishes it.
func (n *NameTable) SetBase(addr memory.Address) {
	n.base.Store(uint64(addr))
}

// Base returns the published pool base, zero before discovery
func (n *NameTable) Base() memory.Address {
	return memory.Address(n.base.Load())
}

// NameAt returns the string interned at index. Decodes are memoized
// process-wide, so repeated lookups of a hot index cost one map hit.
func (n *NameTable) NameAt(index uint32) (string, error) {
	if s, ok := n.rt.cachedName(index); ok {
		return s, nil
	}
	base := n.Base()
	if base == 0 {
		return "", fmt.Errorf("name table base not published: %w", ErrResolutionMiss)
	}
	s, err := n.decode(base, index)
	if err != nil {
		return "", err
	}
	n.rt.storeName(index, s)
	return s, nil
}

// Probe decodes index against a candidate base and checks the result.
// Nothing is memoized here: a wrong candidate decodes garbage, and that
// garbage must not land in the shared cache.
func (n *NameTable) Probe(candidate memory.Address, index uint32, want string) error {
	got, err := n.decode(candidate, index)
	if err != nil {
		return fmt.Errorf("name probe at %#x failed: %w", candidate, err)
	}
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("name probe at %#x: index %d decoded %q, want %q: %w",
			candidate, index, got, want, ErrResolutionMiss)
	}
	return nil
}

// decode resolves index against an explicit pool base without touching
// the cache
func (n *NameTable) decode(base memory.Address, index uint32) (string, error) {
	lay := n.rt.layout
	ch := n.rt.ch

	block := index >> lay.NameBlockShift
	if block >= maxNameBlocks {
		return "", fmt.Errorf("name index %d: block %d out of range: %w", index, block, ErrResolutionMiss)
	}
	offset := index & ((1 << lay.NameBlockShift) - 1)

	blockPtr, err := memory.ReadPointer(ch, base+memory.Address(lay.NamePoolBlocks)+memory.Address(block)*8)
	if err != nil {
		return "", fmt.Errorf("failed to read name block %d: %w", block, err)
	}
	if blockPtr == 0 {
		return "", fmt.Errorf("name index %d: block %d not allocated: %w", index, block, ErrResolutionMiss)
	}

	entry := blockPtr + memory.Address(lay.NameEntryStride)*memory.Address(offset)
	header, err := memory.Read[uint16](ch, entry)
	if err != nil {
		return "", fmt.Errorf("failed to read name header at %#x: %w", entry, err)
	}

	length := memory.Size(header >> lay.NameHeaderLenShift)
	if length == 0 {
		return "", nil
	}
	if limit := ch.GetConfig().MaxStringLength; length > limit {
		length = limit
	}

	if header&1 != 0 {
		data, err := ch.ReadBytes(entry+2, length*2)
		if err != nil {
			return "", fmt.Errorf("failed to read wide name at %#x: %w", entry, err)
		}
		units := make([]uint16, 0, length)
		for i := 0; i+1 < len(data); i += 2 {
			units = append(units, binary.LittleEndian.Uint16(data[i:]))
		}
		return string(utf16.Decode(units)), nil
	}

	data, err := ch.ReadBytes(entry+2, length)
	if err != nil {
		return "", fmt.Errorf("failed to read name at %#x: %w", entry, err)
	}
	return string(data), nil
}
