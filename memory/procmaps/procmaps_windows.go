//go:build windows

// Package procmaps walks the mapped regions of a live process, per OS.
package procmaps

import (
	"fmt"
	"sort"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"uescope/memory"
)

var procVirtualQueryEx = syscall.NewLazyDLL("kernel32.dll").NewProc("VirtualQueryEx")

const (
	memCommit = 0x1000

	pageNoAccess         = 0x01
	pageReadonly         = 0x02
	pageReadwrite        = 0x04
	pageWritecopy        = 0x08
	pageExecute          = 0x10
	pageExecuteRead      = 0x20
	pageExecuteReadwrite = 0x40
	pageExecuteWritecopy = 0x80
	pageGuard            = 0x100
)

// memoryBasicInfo is MEMORY_BASIC_INFORMATION in its 64-bit layout
type memoryBasicInfo struct {
	BaseAddress       uintptr
	AllocationBase    uintptr
	AllocationProtect uint32
	pad1              uint32
	RegionSize        uintptr
	State             uint32
	Protect           uint32
	Type              uint32
	pad2              uint32
}

// Query walks the committed regions of the process behind handle with
// VirtualQueryEx, base-sorted
func Query(handle windows.Handle) ([]memory.Region, error) {
	var regions []memory.Region
	var mbi memoryBasicInfo

	for addr := uintptr(0); ; addr = mbi.BaseAddress + mbi.RegionSize {
		ret, _, _ := procVirtualQueryEx.Call(
			uintptr(handle),
			addr,
			uintptr(unsafe.Pointer(&mbi)),
			unsafe.Sizeof(mbi),
		)
		if ret == 0 {
			break
		}

		if mbi.State != memCommit {
			continue
		}
		if mbi.Protect == pageNoAccess || mbi.Protect&pageGuard != 0 {
			continue
		}

		regions = append(regions, memory.Region{
			Base: memory.Address(mbi.BaseAddress),
			Size: memory.Size(mbi.RegionSize),
			Prot: ProtectionFromNative(mbi.Protect),
		})
	}

	if len(regions) == 0 {
		return nil, fmt.Errorf("VirtualQueryEx returned no regions")
	}
	sort.Slice(regions, func(i, j int) bool {
		return regions[i].Base < regions[j].Base
	})
	return regions, nil
}

// ProtectionFromNative translates a PAGE_* constant to protection bits
func ProtectionFromNative(protect uint32) memory.Protection {
	switch protect &^ pageGuard {
	case pageReadonly:
		return memory.ProtRead
	case pageReadwrite, pageWritecopy:
		return memory.ProtRW
	case pageExecute:
		return memory.ProtExecute
	case pageExecuteRead:
		return memory.ProtRead | memory.ProtExecute
	case pageExecuteReadwrite, pageExecuteWritecopy:
		return memory.ProtRWX
	}
	return 0
}

// NativeFromProtection translates protection bits to a PAGE_* constant
func NativeFromProtection(p memory.Protection) uint32 {
	switch {
	case p.CanExecute() && p.CanWrite():
		return pageExecuteReadwrite
	case p.CanExecute() && p.CanRead():
		return pageExecuteRead
	case p.CanExecute():
		return pageExecute
	case p.CanWrite():
		return pageReadwrite
	case p.CanRead():
		return pageReadonly
	}
	return pageNoAccess
}

// Module describes one loaded module of a target process
type Module struct {
	Name string
	Base memory.Address
	Size memory.Size
}

// Modules snapshots the module list of pid via Toolhelp32. The first entry
// is the main executable.
func Modules(pid memory.ProcessID) ([]Module, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, uint32(pid))
	if err != nil {
		return nil, fmt.Errorf("CreateToolhelp32Snapshot: %w", err)
	}
	defer windows.CloseHandle(snapshot)

	var me32 windows.ModuleEntry32
	me32.Size = uint32(unsafe.Sizeof(me32))
	if err := windows.Module32First(snapshot, &me32); err != nil {
		return nil, fmt.Errorf("Module32First: %w", err)
	}

	var modules []Module
	for {
		modules = append(modules, Module{
			Name: windows.UTF16ToString(me32.Module[:]),
			Base: memory.Address(me32.ModBaseAddr),
			Size: memory.Size(me32.ModBaseSize),
		})
		if err := windows.Module32Next(snapshot, &me32); err != nil {
			break
		}
	}
	return modules, nil
}

// MainModuleBase returns the load address of the main executable of pid
func MainModuleBase(pid memory.ProcessID) (memory.Address, error) {
	modules, err := Modules(pid)
	if err != nil {
		return 0, err
	}
	if len(modules) == 0 {
		return 0, fmt.Errorf("no modules in process %d", pid)
	}
	return modules[0].Base, nil
}

// FindPIDs returns every pid whose executable name matches (e.g.
// "game.exe", case-insensitive) via a Toolhelp32 process snapshot, in
// ascending order
func FindPIDs(name string) ([]memory.ProcessID, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("CreateToolhelp32Snapshot: %w", err)
	}
	defer windows.CloseHandle(snapshot)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(snapshot, &entry); err != nil {
		return nil, fmt.Errorf("Process32First: %w", err)
	}

	var pids []memory.ProcessID
	for {
		if strings.EqualFold(windows.UTF16ToString(entry.ExeFile[:]), name) {
			pids = append(pids, memory.ProcessID(entry.ProcessID))
		}
		if err := windows.Process32Next(snapshot, &entry); err != nil {
			break
		}
	}

	if len(pids) == 0 {
		return nil, fmt.Errorf("no process named %q", name)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids, nil
}

// FindPID resolves a process name to the lowest matching pid
func FindPID(name string) (memory.ProcessID, error) {
	pids, err := FindPIDs(name)
	if err != nil {
		return 0, err
	}
	return pids[0], nil
}
