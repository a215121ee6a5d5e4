//go:build windows

package memory_windows

import (
	"fmt"
	"sync"
	"syscall"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/sys/windows"

	"uescope/memory"
	"uescope/memory/procmaps"
)

var debugPrivilegeEnabled bool

// enableDebugPrivilege enables SeDebugPrivilege for the current process,
// which allows opening protected targets. Best effort, a missing privilege
// just means OpenProcess fails on its own for targets that need it.
func enableDebugPrivilege() error {
	if debugPrivilegeEnabled {
		return nil
	}

	var token windows.Token
	err := windows.OpenProcessToken(windows.CurrentProcess(), windows.TOKEN_ADJUST_PRIVILEGES|windows.TOKEN_QUERY, &token)
	if err != nil {
		return fmt.Errorf("OpenProcessToken: %w", err)
	}
	defer token.Close()

	var luid windows.LUID
	seDebug, _ := syscall.UTF16PtrFromString("SeDebugPrivilege")
	err = windows.LookupPrivilegeValue(nil, seDebug, &luid)
	if err != nil {
		return fmt.Errorf("LookupPrivilegeValue: %w", err)
	}

	tp := windows.Tokenprivileges{
		PrivilegeCount: 1,
	}
	tp.Privileges[0] = windows.LUIDAndAttributes{
		Luid:       luid,
		Attributes: windows.SE_PRIVILEGE_ENABLED,
	}

	err = windows.AdjustTokenPrivileges(token, false, &tp, 0, nil, nil)
	if err != nil {
		return fmt.Errorf("AdjustTokenPrivileges: %w", err)
	}

	debugPrivilegeEnabled = true
	return nil
}

// WindowsChannel implements the memory.Channel interface for Windows targets
type WindowsChannel struct {
	pid       memory.ProcessID
	handle    windows.Handle
	cfg       memory.Config
	log       *logger.Logger
	regions   []memory.Region
	scratch   map[memory.Address]memory.Size
	partial   uint64
	execLeaks []memory.Address
	mu        sync.Mutex
}

var _ memory.Channel = (*WindowsChannel)(nil)

// New creates an unopened WindowsChannel
func New(cfg memory.Config) *WindowsChannel {
	return &WindowsChannel{
		cfg:     cfg,
		scratch: make(map[memory.Address]memory.Size),
		log:     logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "channel-not-open")),
	}
}

// Open attaches the channel to the given PID
func Open(pid memory.ProcessID, cfg memory.Config) (*WindowsChannel, error) {
	c := New(cfg)
	if err := c.OpenPID(pid); err != nil {
		return nil, err
	}
	return c, nil
}

// OpenByName resolves a process name and opens the lowest matching pid
func OpenByName(name string, cfg memory.Config) (*WindowsChannel, error) {
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

// OpenHandle adopts a process handle the host already opened. The channel
// takes ownership and closes it on Close. The handle needs at least
// VM_READ, VM_WRITE, VM_OPERATION and QUERY_INFORMATION rights, plus
// CREATE_THREAD when Execute will be used.
func OpenHandle(handle windows.Handle, cfg memory.Config) (*WindowsChannel, error) {
	pid, err := windows.GetProcessId(handle)
	if err != nil {
		return nil, fmt.Errorf("GetProcessId failed: %w", err)
	}

	c := New(cfg)
	c.mu.Lock()
	c.pid = memory.ProcessID(pid)
	c.handle = handle
	c.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("channel-%d", pid)))
	c.mu.Unlock()

	if err := c.RefreshMemoryMap(); err != nil {
		c.log.Warn("Failed to initialize memory map:", err)
	}

	c.log.Infoln("Channel opened from existing handle")
	return c, nil
}

func (c *WindowsChannel) OpenPID(pid memory.ProcessID) error {
	if err := enableDebugPrivilege(); err != nil {
		c.log.Debugln("SeDebugPrivilege not acquired:", err)
	}

	// PROCESS_ALL_ACCESS, full access including protected memory pages
	handle, err := windows.OpenProcess(0x1F0FFF, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("OpenProcess failed: %w", err)
	}

	c.mu.Lock()
	c.pid = pid
	c.handle = handle
	c.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("channel-%d", pid)))
	c.mu.Unlock()

	if err := c.RefreshMemoryMap(); err != nil {
		c.log.Warn("Failed to initialize memory map:", err)
	}

	c.log.Infoln("Channel opened")
	return nil
}

func (c *WindowsChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.scratch) > 0 {
		c.log.Warn("Closing with", len(c.scratch), "scratch allocations still live in the target")
	}

	if c.handle != 0 {
		if err := windows.CloseHandle(c.handle); err != nil {
			return fmt.Errorf("CloseHandle failed: %w", err)
		}
		c.handle = 0
	}

	c.pid = 0
	c.regions = nil
	c.scratch = make(map[memory.Address]memory.Size)
	c.log = logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "channel-not-open"))
	return nil
}

func (c *WindowsChannel) GetPID() memory.ProcessID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

func (c *WindowsChannel) IsValid() bool {
	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()

	if handle == 0 {
		return false
	}

	var code uint32
	if err := windows.GetExitCodeProcess(handle, &code); err != nil {
		return false
	}
	return code == windows.STILL_ACTIVE
}

func (c *WindowsChannel) GetConfig() memory.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *WindowsChannel) RefreshMemoryMap() error {
	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()

	if handle == 0 {
		return memory.ErrChannelUnavailable
	}

	regions, err := procmaps.Query(handle)
	if err != nil {
		return fmt.Errorf("failed to read memory map: %w", err)
	}

	c.mu.Lock()
	c.regions = regions
	c.mu.Unlock()
	return nil
}

func (c *WindowsChannel) GetMemoryMap() ([]memory.Region, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == 0 {
		return nil, memory.ErrChannelUnavailable
	}

	result := make([]memory.Region, len(c.regions))
	copy(result, c.regions)
	return result, nil
}

func (c *WindowsChannel) GetBaseAddress() (memory.Address, error) {
	c.mu.Lock()
	pid := c.pid
	c.mu.Unlock()

	if pid == 0 {
		return 0, memory.ErrChannelUnavailable
	}
	return procmaps.MainModuleBase(pid)
}

// isValidAddressInternal assumes the mutex is already locked
func (c *WindowsChannel) isValidAddressInternal(addr memory.Address) bool {
	region := memory.RegionFor(addr, c.regions)
	return region != nil && region.Prot.CanRead()
}

// PartialReadCount returns how many chunked reads came back incomplete
func (c *WindowsChannel) PartialReadCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partial
}

// ExecLeaks returns the scratch addresses abandoned in the target by
// timed out calls
func (c *WindowsChannel) ExecLeaks() []memory.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]memory.Address, len(c.execLeaks))
	copy(result, c.execLeaks)
	return result
}

func (c *WindowsChannel) dropRegion(addr memory.Address) {
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
