//go:build windows

package memory_windows

import (
	"encoding/binary"
	"fmt"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"uescope/memory"
	"uescope/memory/callconv"
	"uescope/memory/procmaps"
)

// These have no wrappers in x/sys/windows, go through kernel32 directly
var (
	modkernel32            = syscall.NewLazyDLL("kernel32.dll")
	procVirtualAllocEx     = modkernel32.NewProc("VirtualAllocEx")
	procVirtualFreeEx      = modkernel32.NewProc("VirtualFreeEx")
	procVirtualProtectEx   = modkernel32.NewProc("VirtualProtectEx")
	procCreateRemoteThread = modkernel32.NewProc("CreateRemoteThread")
	procGetExitCodeThread  = modkernel32.NewProc("GetExitCodeThread")
)

const execStubOffset = 0x10

func virtualAllocEx(handle windows.Handle, size memory.Size, protect uint32) (memory.Address, error) {
	addr, _, err := procVirtualAllocEx.Call(
		uintptr(handle), 0, uintptr(size),
		windows.MEM_COMMIT|windows.MEM_RESERVE, uintptr(protect),
	)
	if addr == 0 {
		return 0, fmt.Errorf("VirtualAllocEx failed: %v", err)
	}
	return memory.Address(addr), nil
}

func virtualFreeEx(handle windows.Handle, addr memory.Address) error {
	ret, _, err := procVirtualFreeEx.Call(uintptr(handle), uintptr(addr), 0, windows.MEM_RELEASE)
	if ret == 0 {
		return fmt.Errorf("VirtualFreeEx failed: %v", err)
	}
	return nil
}

// AllocateScratch commits fresh memory in the target
func (c *WindowsChannel) AllocateScratch(size memory.Size, prot memory.Protection) (memory.Address, error) {
	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()
	if handle == 0 {
		return 0, memory.ErrChannelUnavailable
	}
	if size == 0 {
		return 0, fmt.Errorf("failed to allocate scratch: zero size")
	}

	addr, err := virtualAllocEx(handle, size, procmaps.NativeFromProtection(prot))
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.scratch[addr] = size
	c.regions = append(c.regions, memory.Region{
		Base: addr,
		Size: size,
		Prot: prot,
		Path: "[scratch]",
	})
	sortRegions(c.regions)
	c.mu.Unlock()

	c.log.Debugln("Scratch allocated at", addr.String(), "size", size.String())
	return addr, nil
}

// FreeScratch releases a previously allocated scratch range
func (c *WindowsChannel) FreeScratch(addr memory.Address, size memory.Size) error {
	c.mu.Lock()
	handle := c.handle
	_, known := c.scratch[addr]
	c.mu.Unlock()
	if handle == 0 {
		return memory.ErrChannelUnavailable
	}
	if !known {
		return memory.ErrAddressNotMapped
	}

	if err := virtualFreeEx(handle, addr); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.scratch, addr)
	c.dropRegion(addr)
	c.mu.Unlock()
	return nil
}

// ChangeProtection applies new page protection and returns the previous one
func (c *WindowsChannel) ChangeProtection(addr memory.Address, size memory.Size, prot memory.Protection) (memory.Protection, error) {
	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()
	if handle == 0 {
		return 0, memory.ErrChannelUnavailable
	}

	var old uint32
	ret, _, err := procVirtualProtectEx.Call(
		uintptr(handle), uintptr(addr), uintptr(size),
		uintptr(procmaps.NativeFromProtection(prot)),
		uintptr(unsafe.Pointer(&old)),
	)
	if ret == 0 {
		return 0, fmt.Errorf("VirtualProtectEx failed: %v", err)
	}

	c.mu.Lock()
	if region := memory.RegionFor(addr, c.regions); region != nil {
		region.Prot = prot
	}
	c.mu.Unlock()
	return procmaps.ProtectionFromNative(old), nil
}

// Execute calls fn in the target on a fresh remote thread. A stub is
// synthesized into a remote page, run via CreateRemoteThread, and the
// return value is picked up from a landing slot at the start of the page.
//
// If the call does not finish within the configured timeout the thread is
// left running. Terminating it could leave target locks held, so the stub
// page is abandoned instead and recorded in ExecLeaks.
func (c *WindowsChannel) Execute(fn memory.Address, regArgs [4]uint64, stackArgs []uint64) (uint64, error) {
	c.mu.Lock()
	handle := c.handle
	cfg := c.cfg
	c.mu.Unlock()

	if handle == 0 {
		return 0, memory.ErrChannelUnavailable
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = memory.DefaultConfig().ExecTimeout
	}

	// Landing slot lives at the start of the page, code a little above it
	probe := callconv.Encode(callconv.Win64, uint64(fn), regArgs, stackArgs, 0, callconv.Return)
	allocSize := memory.Size((execStubOffset + len(probe) + 0xFFF) &^ 0xFFF)

	page, err := virtualAllocEx(handle, allocSize, 0x40) // PAGE_EXECUTE_READWRITE
	if err != nil {
		return 0, err
	}
	landing := page
	stubAddr := page + execStubOffset
	stub := callconv.Encode(callconv.Win64, uint64(fn), regArgs, stackArgs, uint64(landing), callconv.Return)

	zero := make([]byte, 8)
	if err := windows.WriteProcessMemory(handle, uintptr(landing), &zero[0], uintptr(len(zero)), nil); err != nil {
		virtualFreeEx(handle, page)
		return 0, fmt.Errorf("cannot clear landing slot: %w", err)
	}
	if err := windows.WriteProcessMemory(handle, uintptr(stubAddr), &stub[0], uintptr(len(stub)), nil); err != nil {
		virtualFreeEx(handle, page)
		return 0, fmt.Errorf("cannot write call stub: %w", err)
	}

	threadHandle, _, threadErr := procCreateRemoteThread.Call(
		uintptr(handle), 0, 0,
		uintptr(stubAddr),
		0,
		0, 0,
	)
	if threadHandle == 0 {
		virtualFreeEx(handle, page)
		return 0, fmt.Errorf("CreateRemoteThread failed: %v", threadErr)
	}
	defer windows.CloseHandle(windows.Handle(threadHandle))

	event, waitErr := windows.WaitForSingleObject(windows.Handle(threadHandle), uint32(cfg.ExecTimeout/time.Millisecond))
	if event == windows.WAIT_TIMEOUT {
		c.mu.Lock()
		c.execLeaks = append(c.execLeaks, page)
		c.mu.Unlock()
		c.log.Warn("Remote call timed out, abandoned stub page at", page.String())
		return 0, memory.ErrExecTimeout
	}
	if event != windows.WAIT_OBJECT_0 || waitErr != nil {
		virtualFreeEx(handle, page)
		return 0, fmt.Errorf("remote thread wait failed: event=%d err=%v", event, waitErr)
	}

	var exitCode uint32
	procGetExitCodeThread.Call(threadHandle, uintptr(unsafe.Pointer(&exitCode)))
	c.log.Debugln("Remote thread completed, exit code", exitCode)

	resultBuf := make([]byte, 8)
	var bytesRead uintptr
	if err := windows.ReadProcessMemory(handle, uintptr(landing), &resultBuf[0], 8, &bytesRead); err != nil {
		virtualFreeEx(handle, page)
		return 0, fmt.Errorf("cannot read landing slot: %w", err)
	}
	result := binary.LittleEndian.Uint64(resultBuf)

	virtualFreeEx(handle, page)
	return result, nil
}
