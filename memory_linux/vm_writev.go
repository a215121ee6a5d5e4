//go:build linux

package memory_linux

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"uescope/memory"
)

// vmWritev uses the process_vm_writev syscall to write memory to another process
func vmWritev(pid memory.ProcessID, localBuf []byte, remoteAddr memory.Address) (int, error) {
	localIov := unix.Iovec{
		Base: &localBuf[0],
		Len:  uint64(len(localBuf)),
	}

	remoteIov := unix.RemoteIovec{
		Base: uintptr(remoteAddr),
		Len:  len(localBuf),
	}

	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_WRITEV,
		uintptr(pid),
		uintptr(unsafe.Pointer(&localIov)),
		uintptr(1),
		uintptr(unsafe.Pointer(&remoteIov)),
		uintptr(1),
		uintptr(0),
	)

	if errno != 0 {
		return 0, fmt.Errorf("process_vm_writev failed: %s (errno: %d)", errno.Error(), errno)
	}

	return int(n), nil
}

// WriteBytes writes data to the target at the specified address
func (c *LinuxChannel) WriteBytes(addr memory.Address, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	c.mu.Lock()
	pid := c.pid
	if pid == 0 {
		c.mu.Unlock()
		return memory.ErrChannelUnavailable
	}

	region := memory.RegionFor(addr, c.regions)
	writable := region != nil && region.Prot.CanWrite() &&
		addr+memory.Address(len(data)) <= region.End()
	c.mu.Unlock()

	if region == nil {
		return memory.ErrAddressNotMapped
	}
	if !writable {
		return fmt.Errorf("memory region at %s is not writable: %w", addr.String(), memory.ErrWriteFailed)
	}

	// Copy so a concurrent mutation of the caller's slice cannot tear the write
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	written, err := vmWritev(pid, dataCopy, addr)
	if err != nil {
		return fmt.Errorf("failed to write process memory: %w: %w", memory.ErrWriteFailed, err)
	}

	if written != len(data) {
		return fmt.Errorf("only wrote %d of %d bytes: %w", written, len(data), memory.ErrWriteFailed)
	}

	return nil
}
