// Package memory_local implements memory.Channel over the caller's own
// address space. Reads and writes are raw pointer copies validated against
// a cached memory map so a bad address fails instead of faulting.
package memory_local

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"

	"uescope/memory"
)

// LocalChannel is the in-process memory.Channel backend
type LocalChannel struct {
	mu      sync.Mutex
	pid     memory.ProcessID
	cfg     memory.Config
	regions []memory.Region
	scratch map[memory.Address][]byte
	partial uint64
	valid   bool
	log     *logger.Logger
}

var _ memory.Channel = (*LocalChannel)(nil)

// Open creates a channel over our own address space
func Open(cfg memory.Config) (*LocalChannel, error) {
	pid := memory.ProcessID(os.Getpid())
	c := &LocalChannel{
		pid:     pid,
		cfg:     cfg,
		scratch: make(map[memory.Address][]byte),
		valid:   true,
		log:     logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("channel-self-%d", pid))),
	}

	if err := c.RefreshMemoryMap(); err != nil {
		return nil, fmt.Errorf("failed to initialize memory map: %w", err)
	}

	c.log.Infoln("In-process channel opened")
	return c, nil
}

func (c *LocalChannel) GetPID() memory.ProcessID {
	return c.pid
}

func (c *LocalChannel) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid
}

func (c *LocalChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for addr, page := range c.scratch {
		c.freeNative(addr, page)
	}
	c.scratch = nil
	c.regions = nil
	c.valid = false
	c.log = logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "channel-not-open"))
	return nil
}

func (c *LocalChannel) GetConfig() memory.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// RefreshMemoryMap re-reads our own mapped regions. Reads against pages
// mapped after the last refresh fail validation until called again.
func (c *LocalChannel) RefreshMemoryMap() error {
	regions, err := c.readMemoryMap()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.regions = regions
	c.mu.Unlock()
	return nil
}

func (c *LocalChannel) GetMemoryMap() ([]memory.Region, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return nil, memory.ErrChannelUnavailable
	}
	result := make([]memory.Region, len(c.regions))
	copy(result, c.regions)
	return result, nil
}

// validRange checks [addr, addr+size) against the cached map under the lock
func (c *LocalChannel) validRange(addr memory.Address, size memory.Size) bool {
	region := memory.RegionFor(addr, c.regions)
	if region == nil || !region.Prot.CanRead() {
		return false
	}
	return addr+memory.Address(size) <= region.End()
}

// readDirect copies one validated range out of our own address space
func (c *LocalChannel) readDirect(addr memory.Address, size memory.Size) ([]byte, error) {
	c.mu.Lock()
	if !c.valid {
		c.mu.Unlock()
		return nil, memory.ErrChannelUnavailable
	}
	ok := c.validRange(addr, size)
	c.mu.Unlock()

	if !ok {
		return nil, memory.ErrAddressNotMapped
	}

	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), size)
	buf := make([]byte, size)
	copy(buf, src)
	return buf, nil
}

func (c *LocalChannel) ReadBytes(addr memory.Address, size memory.Size) ([]byte, error) {
	cfg := c.GetConfig()
	if !c.IsValid() {
		return nil, memory.ErrChannelUnavailable
	}
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

func (c *LocalChannel) WriteBytes(addr memory.Address, data []byte) error {
	c.mu.Lock()
	if !c.valid {
		c.mu.Unlock()
		return memory.ErrChannelUnavailable
	}
	region := memory.RegionFor(addr, c.regions)
	ok := region != nil && region.Prot.CanWrite() &&
		addr+memory.Address(len(data)) <= region.End()
	c.mu.Unlock()

	if !ok {
		return memory.ErrAddressNotMapped
	}

	dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(data))
	copy(dst, data)
	return nil
}

// PartialReadCount returns how many chunked reads came back incomplete
func (c *LocalChannel) PartialReadCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partial
}

// trackScratch records a fresh scratch page in both the scratch table and
// the cached memory map, under the lock
func (c *LocalChannel) trackScratch(addr memory.Address, page []byte, prot memory.Protection) {
	c.scratch[addr] = page
	c.regions = append(c.regions, memory.Region{
		Base: addr,
		Size: memory.Size(len(page)),
		Prot: prot,
		Path: "[scratch]",
	})
	sortRegions(c.regions)
}

func (c *LocalChannel) dropRegion(addr memory.Address) {
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
