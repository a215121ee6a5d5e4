// Package locate resolves engine globals by signature. Each global has an
// ordered list of templates; a candidate address is decoded from the first
// matching template and handed to that global's validator before being
// accepted.
package locate

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"

	"uescope/memory"
	"uescope/scan"
)

var (
	// ErrNotFound is returned when every template for a global has been
	// exhausted without producing a validated candidate.
	ErrNotFound = errors.New("global not found")

	// ErrValidationFailed is returned by validators that could reach the
	// candidate but found the wrong thing there.
	ErrValidationFailed = errors.New("validation failed")
)

// Template describes one way to derive a global's address from a signature
// match: a little-endian 32-bit displacement sits DispOffset bytes into the
// match and Trailer is added on top of the displaced address.
type Template struct {
	Pattern    memory.Pattern
	DispOffset memory.Size
	Trailer    memory.Size
}

// Global names one engine global and how to find it. A nil Validate
// accepts any non-zero candidate.
type Global struct {
	Name      string
	Templates []Template
	Validate  func(candidate memory.Address) error
}

// Locator resolves globals against one module scanner and remembers what
// it found
type Locator struct {
	scanner *scan.Scanner
	log     *logger.Logger
	found   map[string]memory.Address
	mu      sync.Mutex
}

// NewLocator creates a locator over the given module scanner
func NewLocator(scanner *scan.Scanner) *Locator {
	return &Locator{
		scanner: scanner,
		log:     logger.NewLogger(coloransi.Color(coloransi.ColorLimeGreen, coloransi.ColorOrange, "locate")),
		found:   make(map[string]memory.Address),
	}
}

// candidate decodes the template's displacement at the match address
func (l *Locator) candidate(match memory.Address, t Template) (memory.Address, error) {
	snap, err := l.scanner.Snapshot()
	if err != nil {
		return 0, err
	}

	disp, err := snap.ReadInt32(match + memory.Address(t.DispOffset))
	if err != nil {
		return 0, fmt.Errorf("failed to decode displacement: %w", err)
	}

	return match + memory.Address(int64(disp)) + memory.Address(t.Trailer), nil
}

// Resolve tries the global's templates in order and returns the first
// candidate its validator accepts. Exhausting every template returns
// ErrNotFound and leaves the global unrecorded.
func (l *Locator) Resolve(g Global) (memory.Address, error) {
	for i, t := range g.Templates {
		match, err := l.scanner.Find(t.Pattern)
		if err != nil {
			if errors.Is(err, memory.ErrPatternNotFound) {
				l.log.Debugln(g.Name, "template", i, "matched nowhere")
				continue
			}
			return 0, err
		}

		addr, err := l.candidate(match, t)
		if err != nil {
			l.log.Debugln(g.Name, "template", i, "displacement decode failed:", err)
			continue
		}
		if addr == 0 {
			l.log.Debugln(g.Name, "template", i, "produced a null candidate")
			continue
		}

		if g.Validate != nil {
			if err := g.Validate(addr); err != nil {
				l.log.Debugln(g.Name, "template", i, "candidate", addr.String(), "rejected:", err)
				continue
			}
		}

		l.mu.Lock()
		l.found[g.Name] = addr
		l.mu.Unlock()

		l.log.Infoln("Located", g.Name, "at", addr.String())
		return addr, nil
	}

	l.log.Warn("Failed to locate", g.Name, "after", len(g.Templates), "templates")
	return 0, fmt.Errorf("%s: %w", g.Name, ErrNotFound)
}

// Found returns a previously resolved address
func (l *Locator) Found(name string) (memory.Address, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr, ok := l.found[name]
	return addr, ok
}

// Addresses returns a copy of everything resolved so far
func (l *Locator) Addresses() map[string]memory.Address {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make(map[string]memory.Address, len(l.found))
	for name, addr := range l.found {
		result[name] = addr
	}
	return result
}

// Reset forgets every resolved address and drops the scanner's snapshot
// so the next resolution sees a fresh image
func (l *Locator) Reset() {
	l.mu.Lock()
	l.found = make(map[string]memory.Address)
	l.mu.Unlock()

	l.scanner.Reset()
}
