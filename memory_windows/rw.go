//go:build windows

package memory_windows

import (
	"fmt"

	"golang.org/x/sys/windows"

	"uescope/memory"
)

// readDirect reads one contiguous validated range with ReadProcessMemory
func (c *WindowsChannel) readDirect(addr memory.Address, size memory.Size) ([]byte, error) {
	c.mu.Lock()
	handle := c.handle
	if handle == 0 {
		c.mu.Unlock()
		return nil, memory.ErrChannelUnavailable
	}
	valid := c.isValidAddressInternal(addr)
	c.mu.Unlock()

	if !valid {
		return nil, memory.ErrAddressNotMapped
	}

	buf := make([]byte, size)
	var bytesRead uintptr
	err := windows.ReadProcessMemory(handle, uintptr(addr), &buf[0], uintptr(size), &bytesRead)
	if err != nil {
		return nil, fmt.Errorf("ReadProcessMemory failed: %w: %w", memory.ErrReadFailed, err)
	}
	if bytesRead != uintptr(size) {
		return nil, fmt.Errorf("read incomplete: expected %d, got %d: %w", size, bytesRead, memory.ErrReadFailed)
	}

	return buf, nil
}

// ReadBytes reads memory at the specified address. Reads above the chunk
// threshold are split into chunks and missing chunks are zero filled
// rather than failing the whole read.
func (c *WindowsChannel) ReadBytes(addr memory.Address, size memory.Size) ([]byte, error) {
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

// WriteBytes writes data to the target at the specified address
func (c *WindowsChannel) WriteBytes(addr memory.Address, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	c.mu.Lock()
	handle := c.handle
	if handle == 0 {
		c.mu.Unlock()
		return memory.ErrChannelUnavailable
	}
	region := memory.RegionFor(addr, c.regions)
	c.mu.Unlock()

	if region == nil {
		return memory.ErrAddressNotMapped
	}
	if !region.Prot.CanWrite() {
		return fmt.Errorf("memory region at %s is not writable: %w", addr.String(), memory.ErrWriteFailed)
	}

	var bytesWritten uintptr
	err := windows.WriteProcessMemory(handle, uintptr(addr), &data[0], uintptr(len(data)), &bytesWritten)
	if err != nil {
		return fmt.Errorf("WriteProcessMemory failed: %w: %w", memory.ErrWriteFailed, err)
	}
	if bytesWritten != uintptr(len(data)) {
		return fmt.Errorf("only wrote %d of %d bytes: %w", bytesWritten, len(data), memory.ErrWriteFailed)
	}

	return nil
}
