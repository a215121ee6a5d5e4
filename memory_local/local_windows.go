//go:build windows

package memory_local

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"uescope/memory"
	"uescope/memory/procmaps"
)

func (c *LocalChannel) readMemoryMap() ([]memory.Region, error) {
	return procmaps.Query(windows.CurrentProcess())
}

func (c *LocalChannel) GetBaseAddress() (memory.Address, error) {
	if !c.IsValid() {
		return 0, memory.ErrChannelUnavailable
	}

	var module windows.Handle
	if err := windows.GetModuleHandleEx(0, nil, &module); err != nil {
		return 0, fmt.Errorf("failed to resolve main module handle: %w", err)
	}
	return memory.Address(module), nil
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

	base, err := windows.VirtualAlloc(0, uintptr(size),
		windows.MEM_COMMIT|windows.MEM_RESERVE, procmaps.NativeFromProtection(prot))
	if err != nil {
		return 0, fmt.Errorf("failed to VirtualAlloc scratch: %w", err)
	}

	addr := memory.Address(base)
	page := unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
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

	if _, ok := c.scratch[addr]; !ok {
		return memory.ErrAddressNotMapped
	}
	if err := windows.VirtualFree(uintptr(addr), 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("failed to VirtualFree scratch: %w", err)
	}
	delete(c.scratch, addr)
	c.dropRegion(addr)
	return nil
}

func (c *LocalChannel) freeNative(addr memory.Address, page []byte) {
	if err := windows.VirtualFree(uintptr(addr), 0, windows.MEM_RELEASE); err != nil {
		c.log.Warn("Failed to release scratch at", addr.String(), err)
	}
}

func (c *LocalChannel) ChangeProtection(addr memory.Address, size memory.Size, prot memory.Protection) (memory.Protection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return 0, memory.ErrChannelUnavailable
	}

	var old uint32
	if err := windows.VirtualProtect(uintptr(addr), uintptr(size),
		procmaps.NativeFromProtection(prot), &old); err != nil {
		return 0, fmt.Errorf("failed to VirtualProtect %s: %w", addr.String(), err)
	}

	if region := memory.RegionFor(addr, c.regions); region != nil {
		region.Prot = prot
	}
	return procmaps.ProtectionFromNative(old), nil
}

// Execute calls fn on the current thread. SyscallN marshals every argument
// per the native convention, register and stack alike, so overflow arguments
// work here. The call is synchronous and the configured timeout does not
// apply, a hung target function hangs the caller.
func (c *LocalChannel) Execute(fn memory.Address, regArgs [4]uint64, stackArgs []uint64) (uint64, error) {
	if !c.IsValid() {
		return 0, memory.ErrChannelUnavailable
	}

	args := make([]uintptr, 0, 4+len(stackArgs))
	for _, a := range regArgs {
		args = append(args, uintptr(a))
	}
	for _, a := range stackArgs {
		args = append(args, uintptr(a))
	}

	ret, _, _ := syscall.SyscallN(uintptr(fn), args...)
	return uint64(ret), nil
}
