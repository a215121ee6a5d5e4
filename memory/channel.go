// Package memory defines the channel abstraction for reading, writing,
// allocating and executing inside a target address space, either our own
// process or a foreign one. Concrete channels live in memory_local,
// memory_linux and memory_windows; BufferChannel replays saved dumps.
package memory

import "errors"

var (
	// ErrChannelUnavailable is returned by every operation once the channel
	// is closed or the target has gone away.
	ErrChannelUnavailable = errors.New("memory channel unavailable")

	// ErrAddressNotMapped is returned when an address falls outside every
	// mapped region of the target.
	ErrAddressNotMapped = errors.New("address not mapped")

	ErrReadFailed  = errors.New("memory read failed")
	ErrWriteFailed = errors.New("memory write failed")

	// ErrExecTimeout is returned when a synthesized remote call does not
	// land within the configured deadline. The remote thread and its
	// scratch pages are deliberately left in place, see Execute.
	ErrExecTimeout = errors.New("remote execution timeout")

	// ErrExecUnsupported is returned by backends that cannot synthesize
	// calls in their target.
	ErrExecUnsupported = errors.New("execution not supported by this channel")
)

// Channel is the uniform surface over one target address space
type Channel interface {
	// GetPID returns the target process ID, our own for in-process channels
	GetPID() ProcessID

	// IsValid reports whether the channel can still reach its target.
	// Once false, every operation degrades to a cheap no-op returning
	// zero values and ErrChannelUnavailable.
	IsValid() bool

	// Close detaches from the target and releases resources
	Close() error

	// GetBaseAddress returns the base address of the target's main module
	GetBaseAddress() (Address, error)

	// GetMemoryMap returns a copy of the target's mapped regions,
	// sorted by base address
	GetMemoryMap() ([]Region, error)

	// ReadBytes reads size bytes at addr. Requests above the configured
	// chunk threshold are split into chunks; on the first failing chunk
	// the full-length buffer is returned with everything read so far in
	// place, the remainder zeroed, and one logged warning.
	ReadBytes(addr Address, size Size) ([]byte, error)

	// WriteBytes writes data at addr
	WriteBytes(addr Address, data []byte) error

	// AllocateScratch maps size bytes of fresh memory in the target
	AllocateScratch(size Size, prot Protection) (Address, error)

	// FreeScratch unmaps memory obtained from AllocateScratch
	FreeScratch(addr Address, size Size) error

	// ChangeProtection flips page protection on a range and returns the
	// protection that was previously in effect
	ChangeProtection(addr Address, size Size, prot Protection) (Protection, error)

	// Execute calls fn inside the target with up to four register
	// arguments plus stack extras, returning the raw result word.
	// Cross-process channels synthesize a call stub, run it on a remote
	// thread and wait up to the configured timeout; on timeout the stub
	// and landing pages are leaked on purpose and counted, since tearing
	// down a thread mid-call can corrupt the target.
	Execute(fn Address, regArgs [4]uint64, stackArgs []uint64) (uint64, error)

	// GetConfig returns the channel's tunables
	GetConfig() Config
}
