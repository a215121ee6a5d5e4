//go:build linux

package memory_local

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"uescope/memory"
	"uescope/memory/procmaps"
)

func (c *LocalChannel) readMemoryMap() ([]memory.Region, error) {
	return procmaps.Read(c.pid)
}

func (c *LocalChannel) GetBaseAddress() (memory.Address, error) {
	c.mu.Lock()
	if !c.valid {
		c.mu.Unlock()
		return 0, memory.ErrChannelUnavailable
	}
	regions := c.regions
	c.mu.Unlock()

	return procmaps.MainModuleBase(c.pid, regions)
}

func nativeProt(prot memory.Protection) int {
	native := 0
	if prot.CanRead() {
		native |= unix.PROT_READ
	}
	if prot.CanWrite() {
		native |= unix.PROT_WRITE
	}
	if prot.CanExecute() {
		native |= unix.PROT_EXEC
	}
	return native
}

func (c *LocalChannel) AllocateScratch(size memory.Size, prot memory.Protection) (memory.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return 0, memory.ErrChannelUnavailable
	}
	if size == 0 {
		return 0, fmt.Errorf("failed to allocate scratch: zero size")
	}

	page, err := unix.Mmap(-1, 0, int(size), nativeProt(prot), unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return 0, fmt.Errorf("failed to mmap scratch: %w", err)
	}

	addr := memory.Address(uintptr(unsafe.Pointer(&page[0])))
	c.trackScratch(addr, page, prot)
	c.log.Debugln("Scratch allocated at", addr.String(), "size", size.String())
	return addr, nil
}

func (c *LocalChannel) FreeScratch(addr memory.Address, size memory.Size) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return memory.ErrChannelUnavailable
	}

	page, ok := c.scratch[addr]
	if !ok {
		return memory.ErrAddressNotMapped
	}
	if err := unix.Munmap(page); err != nil {
		return fmt.Errorf("failed to munmap scratch: %w", err)
	}
	delete(c.scratch, addr)
	c.dropRegion(addr)
	return nil
}

// freeNative releases one scratch page without touching the tables,
// used from Close while everything is being discarded anyway
func (c *LocalChannel) freeNative(addr memory.Address, page []byte) {
	if err := unix.Munmap(page); err != nil {
		c.log.Warn("Failed to release scratch at", addr.String(), err)
	}
}

func (c *LocalChannel) ChangeProtection(addr memory.Address, size memory.Size, prot memory.Protection) (memory.Protection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return 0, memory.ErrChannelUnavailable
	}

	region := memory.RegionFor(addr, c.regions)
	if region == nil {
		return 0, memory.ErrAddressNotMapped
	}
	previous := region.Prot

	span := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), size)
	if err := unix.Mprotect(span, nativeProt(prot)); err != nil {
		return 0, fmt.Errorf("failed to mprotect %s: %w", addr.String(), err)
	}

	region.Prot = prot
	return previous, nil
}

// Execute is not available in-process on Linux. Calling arbitrary code
// through a synthesized stub only works against a foreign address space
// where a crash cannot take us down with it.
func (c *LocalChannel) Execute(fn memory.Address, regArgs [4]uint64, stackArgs []uint64) (uint64, error) {
	return 0, memory.ErrExecUnsupported
}
