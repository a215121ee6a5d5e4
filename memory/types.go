package memory

import (
	"fmt"
)

// ProcessID identifies a target process
type ProcessID int

// Address represents a memory address within a target address space.
// Zero is never a valid address.
type Address uint64

func (a Address) String() string {
	return fmt.Sprintf("0x%X", uint64(a))
}

// Size represents a size of a memory range in bytes
type Size uint64

func (s Size) String() string {
	return fmt.Sprintf("%d bytes", uint64(s))
}

// Protection describes page protection bits for mapped or scratch memory
type Protection uint8

const (
	ProtRead Protection = 1 << iota
	ProtWrite
	ProtExecute
)

// The two protections AllocateScratch hands out
const (
	ProtRW  = ProtRead | ProtWrite
	ProtRWX = ProtRead | ProtWrite | ProtExecute
)

func (p Protection) CanRead() bool {
	return p&ProtRead != 0
}

func (p Protection) CanWrite() bool {
	return p&ProtWrite != 0
}

func (p Protection) CanExecute() bool {
	return p&ProtExecute != 0
}

// String renders the protection in /proc/pid/maps style, e.g. "rw-"
func (p Protection) String() string {
	flags := []byte{'-', '-', '-'}
	if p.CanRead() {
		flags[0] = 'r'
	}
	if p.CanWrite() {
		flags[1] = 'w'
	}
	if p.CanExecute() {
		flags[2] = 'x'
	}
	return string(flags)
}

// Region describes one mapped range of the target address space
type Region struct {
	Base Address    `json:"base"`
	Size Size       `json:"size"`
	Prot Protection `json:"prot"`
	Path string     `json:"path,omitempty"`
}

// End returns the first address past the region
func (r Region) End() Address {
	return r.Base + Address(r.Size)
}

func (r Region) Contains(addr Address) bool {
	return addr >= r.Base && addr < r.End()
}

func (r Region) String() string {
	return fmt.Sprintf("%s-%s %s %s", r.Base, r.End(), r.Prot, r.Path)
}

// RegionFor returns the region containing addr from a base-sorted slice,
// or nil when the address is unmapped
func RegionFor(addr Address, regions []Region) *Region {
	lo, hi := 0, len(regions)
	for lo < hi {
		mid := (lo + hi) / 2
		if regions[mid].End() <= addr {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(regions) && regions[lo].Contains(addr) {
		return &regions[lo]
	}
	return nil
}
