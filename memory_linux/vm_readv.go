//go:build linux

package memory_linux

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"uescope/memory"
)

// vmReadv uses the process_vm_readv syscall to read memory from another process
func vmReadv(pid memory.ProcessID, remoteAddr memory.Address, bytesToRead memory.Size) ([]byte, error) {
	localBuf := make([]byte, bytesToRead)

	localIov := unix.Iovec{
		Base: &localBuf[0],
		Len:  uint64(bytesToRead),
	}

	remoteIov := unix.RemoteIovec{
		Base: uintptr(remoteAddr),
		Len:  int(bytesToRead),
	}

	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_READV,
		uintptr(pid),
		uintptr(unsafe.Pointer(&localIov)),
		uintptr(1),
		uintptr(unsafe.Pointer(&remoteIov)),
		uintptr(1),
		uintptr(0),
	)

	if errno != 0 {
		return nil, fmt.Errorf("process_vm_readv failed: %s (errno: %d)", errno.Error(), errno)
	}

	if int(n) != int(bytesToRead) {
		return localBuf[:n], fmt.Errorf("partial read: %d of %d bytes", n, bytesToRead)
	}

	return localBuf, nil
}

// readDirect reads one contiguous validated range
func (c *LinuxChannel) readDirect(addr memory.Address, size memory.Size) ([]byte, error) {
	c.mu.Lock()
	pid := c.pid
	if pid == 0 {
		c.mu.Unlock()
		return nil, memory.ErrChannelUnavailable
	}
	valid := c.isValidAddressInternal(addr)
	c.mu.Unlock()

	if !valid {
		return nil, memory.ErrAddressNotMapped
	}

	data, err := vmReadv(pid, addr, size)
	if err != nil {
		return nil, fmt.Errorf("failed to read process memory: %w: %w", memory.ErrReadFailed, err)
	}

	return data, nil
}

// ReadBytes reads memory at the specified address. Reads above the chunk
// threshold are split into chunks and missing chunks are zero filled
// rather than failing the whole read.
func (c *LinuxChannel) ReadBytes(addr memory.Address, size memory.Size) ([]byte, error) {
	cfg := c.GetConfig()

	if cfg.MaxReadSize != 0 && size > cfg.MaxReadSize {
		return nil, fmt.Errorf("read of %s exceeds configured ceiling: %w", size, memory.ErrReadFailed)
	}

	if size > cfg.ChunkThreshold {
		buf, failed := memory.ChunkedRead(addr, size, cfg, c.readDirect)
		if failed != 0 {
			c.mu.Lock()
			c.partial++
			c.mu.Unlock()
			c.log.Warn("Partial chunked read, first failing chunk at", failed.String())
		}
		return buf, nil
	}

	return c.readDirect(addr, size)
}
