//go:build linux

package memory_linux

import (
	"fmt"
	"os"
	"sync"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"

	"uescope/memory"
	"uescope/memory/procmaps"
)

// LinuxChannel implements the memory.Channel interface for Linux targets.
// Reads and writes go through process_vm_readv/writev, scratch allocation
// and remote calls go through ptrace.
type LinuxChannel struct {
	pid       memory.ProcessID
	cfg       memory.Config
	log       *logger.Logger
	regions   []memory.Region
	scratch   map[memory.Address]memory.Size
	partial   uint64
	execLeaks []memory.Address
	wedged    bool
	mu        sync.Mutex
}

var _ memory.Channel = (*LinuxChannel)(nil)

// New creates an unopened LinuxChannel
func New(cfg memory.Config) *LinuxChannel {
	return &LinuxChannel{
		cfg:     cfg,
		scratch: make(map[memory.Address]memory.Size),
		log:     logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "channel-not-open")),
	}
}

// Open attaches the channel to the given PID
func Open(pid memory.ProcessID, cfg memory.Config) (*LinuxChannel, error) {
	c := New(cfg)
	if err := c.OpenPID(pid); err != nil {
		return nil, err
	}
	return c, nil
}

// OpenByName resolves a process name and opens the lowest matching pid
func OpenByName(name string, cfg memory.Config) (*LinuxChannel, error) {
	pids, err := procmaps.FindPIDs(name)
	if err != nil {
		return nil, err
	}
	c, err := Open(pids[0], cfg)
	if err != nil {
		return nil, err
	}
	if len(pids) > 1 {
		c.log.Warn("Multiple processes named", name, "- attached to", pids[0], "of", pids)
	}
	return c, nil
}

func (c *LinuxChannel) OpenPID(pid memory.ProcessID) error {
	procPath := fmt.Sprintf("/proc/%d", pid)
	if _, err := os.Stat(procPath); os.IsNotExist(err) {
		return fmt.Errorf("process with PID %d does not exist", pid)
	}

	c.mu.Lock()
	c.pid = pid
	c.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("channel-%d", pid)))
	c.mu.Unlock()

	if err := c.RefreshMemoryMap(); err != nil {
		return fmt.Errorf("failed to initialize memory map: %w", err)
	}

	c.log.Infoln("Channel opened")
	return nil
}

func (c *LinuxChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.scratch) > 0 {
		c.log.Warn("Closing with", len(c.scratch), "scratch allocations still live in the target")
	}

	c.pid = 0
	c.regions = nil
	c.scratch = make(map[memory.Address]memory.Size)
	c.log = logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "channel-not-open"))
	return nil
}

// GetPID returns the process ID
func (c *LinuxChannel) GetPID() memory.ProcessID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

func (c *LinuxChannel) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pid == 0 {
		return false
	}
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", c.pid)); err != nil {
		return false
	}
	return true
}

func (c *LinuxChannel) GetConfig() memory.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *LinuxChannel) RefreshMemoryMap() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pid == 0 {
		return memory.ErrChannelUnavailable
	}
	pid := c.pid

	regions, err := procmaps.Read(pid)
	if err != nil {
		return fmt.Errorf("failed to read memory map: %w", err)
	}

	c.regions = regions
	return nil
}

func (c *LinuxChannel) GetMemoryMap() ([]memory.Region, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pid == 0 {
		return nil, memory.ErrChannelUnavailable
	}

	result := make([]memory.Region, len(c.regions))
	copy(result, c.regions)
	return result, nil
}

func (c *LinuxChannel) GetBaseAddress() (memory.Address, error) {
	c.mu.Lock()
	pid := c.pid
	regions := make([]memory.Region, len(c.regions))
	copy(regions, c.regions)
	c.mu.Unlock()

	if pid == 0 {
		return 0, memory.ErrChannelUnavailable
	}
	return procmaps.MainModuleBase(pid, regions)
}

// isValidAddressInternal assumes the mutex is already locked
func (c *LinuxChannel) isValidAddressInternal(addr memory.Address) bool {
	if addr <= 0x10000 {
		return false
	}
	if addr > 0x7FFFFFFFFFFF {
		return false
	}

	region := memory.RegionFor(addr, c.regions)
	return region != nil && region.Prot.CanRead()
}

// PartialReadCount returns how many chunked reads came back incomplete
func (c *LinuxChannel) PartialReadCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partial
}

// ExecLeaks returns the scratch addresses abandoned in the target by
// timed out calls
func (c *LinuxChannel) ExecLeaks() []memory.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]memory.Address, len(c.execLeaks))
	copy(result, c.execLeaks)
	return result
}
