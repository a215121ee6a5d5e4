// Package scan provides repeated wildcard signature searches over one
// snapshotted range of target memory.
package scan

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"

	"uescope/memory"
)

// ErrInvalidPattern is returned for patterns rejected before scanning
var ErrInvalidPattern = errors.New("invalid pattern")

// Scanner searches one region of target memory. The region is captured
// into a snapshot on first use and every search after that runs against
// the cached bytes, so a scanner sees one consistent image of the target
// until Reset. A single lock serializes callers of the same scanner,
// independent scanners do not synchronize with each other.
type Scanner struct {
	ch   memory.Channel
	base memory.Address
	size memory.Size
	snap *memory.Snapshot
	log  *logger.Logger
	mu   sync.Mutex
}

// NewScanner creates a scanner over [base, base+size)
func NewScanner(ch memory.Channel, base memory.Address, size memory.Size) *Scanner {
	return &Scanner{
		ch:   ch,
		base: base,
		size: size,
		log:  logger.NewLogger(coloransi.Color(coloransi.Cyan, coloransi.ColorOrange, fmt.Sprintf("scan-%s", base.String()))),
	}
}

// NewModuleScanner creates a scanner over the target's main module image
func NewModuleScanner(ch memory.Channel) (*Scanner, error) {
	base, size, err := ModuleRange(ch)
	if err != nil {
		return nil, err
	}
	return NewScanner(ch, base, size), nil
}

// ModuleRange computes the span of the main module image: from the base
// address through every following region belonging to the same mapping.
// Regions sharing the base region's path count even across alignment
// gaps; anonymous region lists fall back to strict contiguity.
func ModuleRange(ch memory.Channel) (memory.Address, memory.Size, error) {
	base, err := ch.GetBaseAddress()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to resolve module base: %w", err)
	}

	regions, err := ch.GetMemoryMap()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read memory map: %w", err)
	}

	first := memory.RegionFor(base, regions)
	if first == nil {
		return 0, 0, fmt.Errorf("module base %s not in memory map: %w", base.String(), memory.ErrAddressNotMapped)
	}

	path := first.Path
	end := first.End()
	started := false
	for _, r := range regions {
		if !started {
			started = r.Base == first.Base
			continue
		}
		if path != "" {
			if r.Path != path {
				break
			}
			end = r.End()
			continue
		}
		if r.Base != end {
			break
		}
		end = r.End()
	}

	return base, memory.Size(end - base), nil
}

// Base returns the start of the scanned range
func (s *Scanner) Base() memory.Address {
	return s.base
}

// Size returns the length of the scanned range
func (s *Scanner) Size() memory.Size {
	return s.size
}

// ensureSnapshot assumes the mutex is already locked
func (s *Scanner) ensureSnapshot() error {
	if s.snap != nil {
		return nil
	}

	snap, failed, err := memory.CaptureSnapshot(s.ch, s.base, s.size)
	if err != nil {
		return fmt.Errorf("failed to capture snapshot: %w", err)
	}
	if failed != 0 {
		s.log.Warn("Snapshot captured with a hole, first failing chunk at", failed.String())
	}

	s.snap = snap
	s.log.Debugln("Snapshot captured,", s.size.String(), "bytes")
	return nil
}

// Snapshot returns the cached snapshot, capturing it if needed. The
// returned snapshot is immutable; Reset swaps it out rather than
// mutating it, so holding a reference across Reset is safe.
func (s *Scanner) Snapshot() (*memory.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureSnapshot(); err != nil {
		return nil, err
	}
	return s.snap, nil
}

// Find returns the address of the first match with the pattern's trailing
// offset applied
func (s *Scanner) Find(p memory.Pattern) (memory.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !p.IsValid() {
		return 0, ErrInvalidPattern
	}
	if err := s.ensureSnapshot(); err != nil {
		return 0, err
	}

	matches := memory.MatchPattern(s.snap.Data(), p)
	if len(matches) == 0 {
		return 0, memory.ErrPatternNotFound
	}
	return s.base + memory.Address(matches[0]) + memory.Address(p.Offset), nil
}

// FindAll returns the addresses of every match with the pattern's trailing
// offset applied
func (s *Scanner) FindAll(p memory.Pattern) ([]memory.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !p.IsValid() {
		return nil, ErrInvalidPattern
	}
	if err := s.ensureSnapshot(); err != nil {
		return nil, err
	}

	matches := memory.MatchPattern(s.snap.Data(), p)
	if len(matches) == 0 {
		return nil, memory.ErrPatternNotFound
	}

	addrs := make([]memory.Address, len(matches))
	for i, off := range matches {
		addrs[i] = s.base + memory.Address(off) + memory.Address(p.Offset)
	}
	return addrs, nil
}

// Reset drops the cached snapshot so the next search recaptures the range
func (s *Scanner) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = nil
}
