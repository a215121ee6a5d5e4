//go:build linux

package memory_linux

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"uescope/memory"
	"uescope/memory/callconv"
)

// Scratch allocation, protection changes and remote calls all ride on
// ptrace. Every public operation below attaches, does its work while the
// target's main thread is stopped, and detaches before returning. The
// kernel requires every ptrace request to come from the OS thread that
// attached, so each session pins itself with LockOSThread first.

const execStubOffset = 0x10

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

// attach stops the target's main thread and returns its saved registers
func attachStopped(pid memory.ProcessID) (*unix.PtraceRegs, error) {
	if err := unix.PtraceAttach(int(pid)); err != nil {
		return nil, fmt.Errorf("cannot attach: %w", err)
	}
	if _, err := unix.Wait4(int(pid), nil, 0, nil); err != nil {
		unix.PtraceDetach(int(pid))
		return nil, fmt.Errorf("cannot wait for attach stop: %w", err)
	}

	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(int(pid), &regs); err != nil {
		unix.PtraceDetach(int(pid))
		return nil, fmt.Errorf("cannot read regs: %w", err)
	}
	return &regs, nil
}

// injectSyscall runs one syscall on the stopped target by planting a
// syscall plus int3 at the current PC, then restores the original bytes
// and registers. The target must already be attached and stopped.
func injectSyscall(pid memory.ProcessID, saved *unix.PtraceRegs, nr uint64, args ...uintptr) (uintptr, error) {
	pc := uintptr(saved.PC())

	orig := make([]byte, 8)
	if _, err := unix.PtracePeekData(int(pid), pc, orig); err != nil {
		return 0, fmt.Errorf("cannot peek %x: %w", pc, err)
	}

	mod := make([]byte, 8)
	copy(mod, orig)
	mod[0] = 0x0F // syscall
	mod[1] = 0x05
	mod[2] = 0xCC // int3
	if _, err := unix.PtracePokeData(int(pid), pc, mod); err != nil {
		return 0, fmt.Errorf("cannot poke %x: %w", pc, err)
	}

	restore := func() {
		unix.PtracePokeData(int(pid), pc, orig)
		unix.PtraceSetRegs(int(pid), saved)
	}

	scregs := *saved
	scregs.Rax = nr
	for i, v := range args {
		switch i {
		case 0:
			scregs.Rdi = uint64(v)
		case 1:
			scregs.Rsi = uint64(v)
		case 2:
			scregs.Rdx = uint64(v)
		case 3:
			scregs.R10 = uint64(v)
		case 4:
			scregs.R8 = uint64(v)
		case 5:
			scregs.R9 = uint64(v)
		default:
			restore()
			return 0, fmt.Errorf("too many syscall arguments: %d", len(args))
		}
	}
	if err := unix.PtraceSetRegs(int(pid), &scregs); err != nil {
		restore()
		return 0, fmt.Errorf("cannot set syscall regs: %w", err)
	}

	if err := unix.PtraceCont(int(pid), 0); err != nil {
		restore()
		return 0, fmt.Errorf("cannot continue into syscall: %w", err)
	}
	if _, err := unix.Wait4(int(pid), nil, 0, nil); err != nil {
		restore()
		return 0, fmt.Errorf("cannot wait for syscall stop: %w", err)
	}

	if err := unix.PtraceGetRegs(int(pid), &scregs); err != nil {
		restore()
		return 0, fmt.Errorf("cannot read regs after syscall: %w", err)
	}
	restore()

	ret := int64(scregs.Rax)
	if ret < 0 && ret >= -4095 {
		return 0, unix.Errno(uintptr(-ret))
	}
	return uintptr(scregs.Rax), nil
}

// remoteMmap maps size bytes of anonymous memory in the target
func remoteMmap(pid memory.ProcessID, saved *unix.PtraceRegs, size memory.Size, prot memory.Protection) (memory.Address, error) {
	page, err := injectSyscall(pid, saved, unix.SYS_MMAP,
		0,
		uintptr(size),
		uintptr(nativeProt(prot)),
		uintptr(unix.MAP_ANONYMOUS|unix.MAP_PRIVATE),
		^uintptr(0), // fd: -1
		0,
	)
	if err != nil {
		return 0, fmt.Errorf("cannot mmap in target: %w", err)
	}
	return memory.Address(page), nil
}

func remoteMunmap(pid memory.ProcessID, saved *unix.PtraceRegs, addr memory.Address, size memory.Size) error {
	if _, err := injectSyscall(pid, saved, unix.SYS_MUNMAP, uintptr(addr), uintptr(size)); err != nil {
		return fmt.Errorf("cannot munmap in target: %w", err)
	}
	return nil
}

// AllocateScratch maps fresh anonymous memory in the target
func (c *LinuxChannel) AllocateScratch(size memory.Size, prot memory.Protection) (memory.Address, error) {
	c.mu.Lock()
	pid := c.pid
	c.mu.Unlock()
	if pid == 0 {
		return 0, memory.ErrChannelUnavailable
	}
	if size == 0 {
		return 0, fmt.Errorf("failed to allocate scratch: zero size")
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	saved, err := attachStopped(pid)
	if err != nil {
		return 0, err
	}
	defer unix.PtraceDetach(int(pid))

	addr, err := remoteMmap(pid, saved, size, prot)
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

// FreeScratch unmaps a previously allocated scratch range
func (c *LinuxChannel) FreeScratch(addr memory.Address, size memory.Size) error {
	c.mu.Lock()
	pid := c.pid
	_, known := c.scratch[addr]
	c.mu.Unlock()
	if pid == 0 {
		return memory.ErrChannelUnavailable
	}
	if !known {
		return memory.ErrAddressNotMapped
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	saved, err := attachStopped(pid)
	if err != nil {
		return err
	}
	defer unix.PtraceDetach(int(pid))

	if err := remoteMunmap(pid, saved, addr, size); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.scratch, addr)
	c.dropRegion(addr)
	c.mu.Unlock()
	return nil
}

// ChangeProtection applies new page protection and returns the previous one
func (c *LinuxChannel) ChangeProtection(addr memory.Address, size memory.Size, prot memory.Protection) (memory.Protection, error) {
	c.mu.Lock()
	pid := c.pid
	region := memory.RegionFor(addr, c.regions)
	var previous memory.Protection
	if region != nil {
		previous = region.Prot
	}
	c.mu.Unlock()

	if pid == 0 {
		return 0, memory.ErrChannelUnavailable
	}
	if region == nil {
		return 0, memory.ErrAddressNotMapped
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	saved, err := attachStopped(pid)
	if err != nil {
		return 0, err
	}
	defer unix.PtraceDetach(int(pid))

	if _, err := injectSyscall(pid, saved, unix.SYS_MPROTECT,
		uintptr(addr), uintptr(size), uintptr(nativeProt(prot))); err != nil {
		return 0, fmt.Errorf("cannot mprotect in target: %w", err)
	}

	c.mu.Lock()
	if region := memory.RegionFor(addr, c.regions); region != nil {
		region.Prot = prot
	}
	c.mu.Unlock()
	return previous, nil
}

func (c *LinuxChannel) dropRegion(addr memory.Address) {
	for i := range c.regions {
		if c.regions[i].Base == addr {
			c.regions = append(c.regions[:i], c.regions[i+1:]...)
			return
		}
	}
}

func sortRegions(regions []memory.Region) {
	for i := 1; i < len(regions); i++ {
		for j := i; j > 0 && regions[j].Base < regions[j-1].Base; j-- {
			regions[j], regions[j-1] = regions[j-1], regions[j]
		}
	}
}

// Execute hijacks the target's main thread to call fn with the given
// arguments. A stub is synthesized into a fresh page, the thread's PC is
// pointed at it, and the stub traps back into the tracer after storing
// the return value in a landing slot at the start of the page. On success
// the page is unmapped and the thread resumes where it was interrupted.
//
// If the call does not finish within the configured timeout the thread is
// left running it. Interrupting mid call could leave target locks held,
// so the stub page is abandoned instead and recorded in ExecLeaks.
func (c *LinuxChannel) Execute(fn memory.Address, regArgs [4]uint64, stackArgs []uint64) (uint64, error) {
	c.mu.Lock()
	pid := c.pid
	cfg := c.cfg
	wedged := c.wedged
	c.mu.Unlock()

	if pid == 0 {
		return 0, memory.ErrChannelUnavailable
	}
	if wedged {
		return 0, fmt.Errorf("previous remote call timed out and its thread is still in flight: %w", memory.ErrExecUnsupported)
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = memory.DefaultConfig().ExecTimeout
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	saved, err := attachStopped(pid)
	if err != nil {
		return 0, err
	}

	detach := true
	defer func() {
		if detach {
			unix.PtraceDetach(int(pid))
		}
	}()

	// Landing slot lives at the start of the page, code a little above it
	stub := callconv.Encode(callconv.SysV, uint64(fn), regArgs, stackArgs, 0, callconv.Trap)
	pageSize := memory.Size((execStubOffset + len(stub) + 0xFFF) &^ 0xFFF)

	page, err := remoteMmap(pid, saved, pageSize, memory.ProtRWX)
	if err != nil {
		return 0, err
	}
	landing := page
	stubAddr := page + execStubOffset
	stub = callconv.Encode(callconv.SysV, uint64(fn), regArgs, stackArgs, uint64(landing), callconv.Trap)

	cleanupPage := func() {
		remoteMunmap(pid, saved, page, pageSize)
	}

	if _, err := vmWritev(pid, make([]byte, 8), landing); err != nil {
		cleanupPage()
		return 0, fmt.Errorf("cannot clear landing slot: %w", err)
	}
	if _, err := vmWritev(pid, stub, stubAddr); err != nil {
		cleanupPage()
		return 0, fmt.Errorf("cannot write call stub: %w", err)
	}

	// Stage the stack the way a fresh call would leave it: below the
	// interrupted frame and its red zone, with RSP at 8 mod 16
	newRegs := *saved
	newRegs.Rsp = ((saved.Rsp - 0x200) &^ 0xF) - 8
	newRegs.SetPC(uint64(stubAddr))
	if err := unix.PtraceSetRegs(int(pid), &newRegs); err != nil {
		cleanupPage()
		return 0, fmt.Errorf("cannot set stub regs: %w", err)
	}

	if err := unix.PtraceCont(int(pid), 0); err != nil {
		unix.PtraceSetRegs(int(pid), saved)
		cleanupPage()
		return 0, fmt.Errorf("cannot continue into stub: %w", err)
	}

	deadline := time.Now().Add(cfg.ExecTimeout)
	var status unix.WaitStatus
	for {
		wpid, err := unix.Wait4(int(pid), &status, unix.WNOHANG, nil)
		if err != nil {
			return 0, fmt.Errorf("cannot wait for stub: %w", err)
		}
		if wpid == int(pid) {
			if status.Exited() {
				c.mu.Lock()
				c.pid = 0
				c.mu.Unlock()
				detach = false
				return 0, fmt.Errorf("target exited during remote call: %w", memory.ErrChannelUnavailable)
			}
			if status.Stopped() {
				if status.StopSignal() == unix.SIGTRAP {
					break
				}
				// The call faulted. Put the thread back and give up.
				unix.PtraceSetRegs(int(pid), saved)
				cleanupPage()
				return 0, fmt.Errorf("remote call stopped on signal %v", status.StopSignal())
			}
		}
		if time.Now().After(deadline) {
			c.mu.Lock()
			c.wedged = true
			c.execLeaks = append(c.execLeaks, page)
			c.mu.Unlock()
			detach = false
			c.log.Warn("Remote call timed out, abandoned stub page at", page.String())
			return 0, memory.ErrExecTimeout
		}
		time.Sleep(time.Millisecond)
	}

	resultBuf, err := vmReadv(pid, landing, 8)
	if err != nil {
		unix.PtraceSetRegs(int(pid), saved)
		cleanupPage()
		return 0, fmt.Errorf("cannot read landing slot: %w", err)
	}
	result := binary.LittleEndian.Uint64(resultBuf)

	if err := unix.PtraceSetRegs(int(pid), saved); err != nil {
		cleanupPage()
		return 0, fmt.Errorf("cannot restore regs after call: %w", err)
	}
	cleanupPage()

	return result, nil
}
