package memory

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Pattern represents a byte signature to search for in target memory.
// Mask bytes select comparison: 0xFF means exact match, 0x00 wildcard.
// Offset is added to every match address.
type Pattern struct {
	Bytes  []byte
	Mask   []byte
	Offset int64
}

// ErrPatternNotFound is returned when a pattern matches nowhere in the
// searched range.
var ErrPatternNotFound = errors.New("pattern not found")

// IsValid checks that the pattern and mask agree and are non-empty
func (p Pattern) IsValid() bool {
	return len(p.Bytes) > 0 && len(p.Bytes) == len(p.Mask)
}

// String renders the pattern back into its textual form
func (p Pattern) String() string {
	var sb strings.Builder
	for i, b := range p.Bytes {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if i < len(p.Mask) && p.Mask[i] == 0 {
			sb.WriteByte('?')
		} else {
			fmt.Fprintf(&sb, "%02X", b)
		}
	}
	return sb.String()
}

// ParsePattern parses the textual signature form: space-separated hex byte
// tokens or ? wildcards, e.g. "48 8D 15 ? ? ? ?". "??" is accepted as a
// wildcard too.
func ParsePattern(s string) (Pattern, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Pattern{}, errors.New("empty pattern")
	}

	p := Pattern{
		Bytes: make([]byte, len(fields)),
		Mask:  make([]byte, len(fields)),
	}
	for i, tok := range fields {
		if tok == "?" || tok == "??" {
			continue
		}
		v, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return Pattern{}, fmt.Errorf("bad pattern token %q at position %d: %w", tok, i, err)
		}
		p.Bytes[i] = byte(v)
		p.Mask[i] = 0xFF
	}
	return p, nil
}

// MustPattern is ParsePattern for signature tables known at compile time
func MustPattern(s string) Pattern {
	p, err := ParsePattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

// MatchPattern finds all offsets in data where every non-wildcard pattern
// byte matches under its mask
func MatchPattern(data []byte, p Pattern) []int64 {
	if !p.IsValid() || len(data) < len(p.Bytes) {
		return nil
	}

	var matches []int64
	for i := 0; i <= len(data)-len(p.Bytes); i++ {
		matched := true
		for j := range p.Bytes {
			if p.Mask[j] == 0 {
				continue
			}
			if data[i+j]&p.Mask[j] != p.Bytes[j]&p.Mask[j] {
				matched = false
				break
			}
		}
		if matched {
			matches = append(matches, int64(i))
		}
	}
	return matches
}

// FindPattern reads [base, base+size) through the channel and returns the
// address of the first match, with the pattern's trailing offset applied.
// A fresh read is performed on every call; scan.Scanner is the snapshotting
// variant for repeated searches over one range.
func FindPattern(ch Channel, p Pattern, base Address, size Size) (Address, error) {
	if !p.IsValid() {
		return 0, errors.New("invalid pattern")
	}

	data, err := ch.ReadBytes(base, size)
	if err != nil {
		return 0, err
	}

	matches := MatchPattern(data, p)
	if len(matches) == 0 {
		return 0, ErrPatternNotFound
	}
	return base + Address(matches[0]) + Address(p.Offset), nil
}
