// Package hexdump renders target memory as colorized hex lines and short
// disassembly listings. Lines carry the target address, not a buffer
// offset, and qword columns can be annotated with pointers that land
// inside the target's memory map.
package hexdump

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"golang.org/x/arch/x86/x86asm"

	"uescope/memory"
)

// Options controls dump formatting
type Options struct {
	// BytesPerLine is the number of bytes rendered per line
	BytesPerLine int

	// GroupSize groups hex bytes, usually 1, 2, 4 or 8
	GroupSize int

	// ShowASCII appends the printable representation
	ShowASCII bool

	// ShowAddress prefixes each line with its target address
	ShowAddress bool

	// Origin is the target address of data[0]
	Origin memory.Address

	// AddressWidth is the address column width in hex digits
	AddressWidth int

	AddressColor      coloransi.ColorCode
	HexColor          coloransi.ColorCode
	ASCIIColor        coloransi.ColorCode
	NonPrintableColor coloransi.ColorCode
	ZeroColor         coloransi.ColorCode
	HighlightColor    coloransi.ColorCode
	PointerColor      coloransi.ColorCode

	// Highlight marks every occurrence of this byte sequence
	Highlight []byte

	// MaxLines truncates the dump, 0 means unlimited
	MaxLines int

	// Regions enables pointer annotation: qword columns whose value lands
	// inside a region are repeated after the ASCII column
	Regions []memory.Region
}

// DefaultOptions returns the standard 16 wide colorized layout
func DefaultOptions() Options {
	return Options{
		BytesPerLine:      16,
		GroupSize:         1,
		ShowASCII:         true,
		ShowAddress:       true,
		AddressWidth:      12,
		AddressColor:      coloransi.Cyan,
		HexColor:          coloransi.Green,
		ASCIIColor:        coloransi.White,
		NonPrintableColor: coloransi.BrightBlack,
		ZeroColor:         coloransi.BrightBlack,
		HighlightColor:    coloransi.Yellow,
		PointerColor:      coloransi.Yellow,
	}
}

// Dump renders data with the given options
func Dump(data []byte, opts Options) string {
	var b strings.Builder
	DumpToWriter(&b, data, opts)
	return b.String()
}

// DumpBytes renders data with default options
func DumpBytes(data []byte) string {
	return Dump(data, DefaultOptions())
}

// DumpAt renders data as if it started at the given target address
func DumpAt(data []byte, origin memory.Address) string {
	opts := DefaultOptions()
	opts.Origin = origin
	return Dump(data, opts)
}

// DumpHighlight renders data with every occurrence of pattern marked
func DumpHighlight(data, pattern []byte) string {
	opts := DefaultOptions()
	opts.Highlight = pattern
	return Dump(data, opts)
}

// DumpRead reads size bytes through the channel and renders them at
// their target address with pointer annotation against the live map
func DumpRead(ch memory.Channel, addr memory.Address, size memory.Size) (string, error) {
	data, err := ch.ReadBytes(addr, size)
	if err != nil {
		return "", err
	}

	opts := DefaultOptions()
	opts.Origin = addr
	if regions, err := ch.GetMemoryMap(); err == nil {
		opts.Regions = regions
	}
	return Dump(data, opts), nil
}

// DumpToWriter renders data to w
func DumpToWriter(w io.Writer, data []byte, opts Options) {
	if opts.BytesPerLine <= 0 {
		opts.BytesPerLine = 16
	}
	if opts.GroupSize <= 0 {
		opts.GroupSize = 1
	}
	if opts.AddressWidth <= 0 {
		opts.AddressWidth = 12
	}

	lines := 0
	for off := 0; off < len(data); off += opts.BytesPerLine {
		if opts.MaxLines > 0 && lines >= opts.MaxLines {
			fmt.Fprintf(w, "... %d more bytes\n", len(data)-off)
			return
		}

		end := off + opts.BytesPerLine
		if end > len(data) {
			end = len(data)
		}
		writeLine(w, data, off, end, opts)
		lines++
	}
}

func writeLine(w io.Writer, data []byte, off, end int, opts Options) {
	line := data[off:end]

	if opts.ShowAddress {
		addr := fmt.Sprintf("%0*x", opts.AddressWidth, uint64(opts.Origin)+uint64(off))
		fmt.Fprint(w, coloransi.Foreground(opts.AddressColor, addr), "  ")
	}

	groups := hexGroups(data, off, end, opts)
	half := splitPoint(len(groups), opts)
	if half > 0 {
		fmt.Fprint(w, strings.Join(groups[:half], " "), " | ", strings.Join(groups[half:], " "))
	} else {
		fmt.Fprint(w, strings.Join(groups, " "))
	}

	if pad := linePadding(len(line), len(groups), half, opts); pad > 0 {
		fmt.Fprint(w, strings.Repeat(" ", pad))
	}

	if opts.ShowASCII {
		fmt.Fprint(w, " | ")
		writeASCII(w, data, off, end, opts)
	}

	if len(opts.Regions) > 0 {
		writePointers(w, line, opts)
	}

	fmt.Fprintln(w)
}

// splitPoint returns the group index of the mid-line divider, 0 when the
// line is too short to divide
func splitPoint(groups int, opts Options) int {
	if opts.BytesPerLine < 8 {
		return 0
	}
	perLine := opts.BytesPerLine / opts.GroupSize
	if perLine < 2 {
		return 0
	}
	half := perLine / 2
	if half >= groups {
		return 0
	}
	return half
}

// linePadding aligns the ASCII column of a short final line with the
// full lines above it
func linePadding(lineBytes, groups, half int, opts Options) int {
	missing := opts.BytesPerLine - lineBytes
	if missing <= 0 {
		return 0
	}

	fullGroups := (opts.BytesPerLine + opts.GroupSize - 1) / opts.GroupSize
	pad := missing*2 + (fullGroups - groups)
	if opts.BytesPerLine >= 8 && opts.BytesPerLine/opts.GroupSize >= 2 && half == 0 {
		// Full lines carry " | ", this one does not
		pad += 2
	}
	return pad
}

func hexGroups(data []byte, off, end int, opts Options) []string {
	var groups []string
	var current strings.Builder

	for i := off; i < end; i++ {
		color := opts.HexColor
		if data[i] == 0 {
			color = opts.ZeroColor
		}
		if highlighted(data, i, opts.Highlight) {
			color = opts.HighlightColor
		}
		current.WriteString(coloransi.Foreground(color, fmt.Sprintf("%02x", data[i])))

		if (i-off+1)%opts.GroupSize == 0 || i == end-1 {
			groups = append(groups, current.String())
			current.Reset()
		}
	}
	return groups
}

func writeASCII(w io.Writer, data []byte, off, end int, opts Options) {
	for i := off; i < end; i++ {
		b := data[i]
		switch {
		case highlighted(data, i, opts.Highlight):
			fmt.Fprint(w, coloransi.Foreground(opts.HighlightColor, printable(b)))
		case b == 0:
			fmt.Fprint(w, coloransi.Foreground(opts.ZeroColor, "."))
		case !unicode.IsPrint(rune(b)):
			fmt.Fprint(w, coloransi.Foreground(opts.NonPrintableColor, "."))
		default:
			fmt.Fprint(w, coloransi.Foreground(opts.ASCIIColor, string(rune(b))))
		}
	}
}

func printable(b byte) string {
	if b == 0 || !unicode.IsPrint(rune(b)) {
		return "."
	}
	return string(rune(b))
}

// highlighted reports whether data[i] falls inside an occurrence of the
// pattern that starts at or before i
func highlighted(data []byte, i int, pattern []byte) bool {
	if len(pattern) == 0 {
		return false
	}
	lo := i - len(pattern) + 1
	if lo < 0 {
		lo = 0
	}
	for start := lo; start <= i; start++ {
		if start+len(pattern) > len(data) {
			break
		}
		if bytes.Equal(data[start:start+len(pattern)], pattern) {
			return true
		}
	}
	return false
}

// writePointers annotates the line's qword columns with values that land
// inside a mapped region
func writePointers(w io.Writer, line []byte, opts Options) {
	shown := false
	for off := 0; off+8 <= len(line); off += 8 {
		ptr := memory.Address(binary.LittleEndian.Uint64(line[off:]))
		if ptr == 0 || memory.RegionFor(ptr, opts.Regions) == nil {
			continue
		}
		if !shown {
			fmt.Fprint(w, " | ")
			shown = true
		} else {
			fmt.Fprint(w, " ")
		}
		fmt.Fprint(w, coloransi.Foreground(opts.PointerColor, ptr.String()))
	}
}

// Disasm renders code as 64-bit x86 GNU syntax, one instruction per
// line prefixed with its target address. Undecodable bytes become .byte
// lines and decoding continues at the next byte.
func Disasm(w io.Writer, code []byte, origin memory.Address) {
	pc := origin
	for len(code) > 0 {
		inst, err := x86asm.Decode(code, 64)
		if err != nil || inst.Len == 0 {
			fmt.Fprintf(w, "%s  .byte 0x%02x\n", pc.String(), code[0])
			code = code[1:]
			pc++
			continue
		}

		fmt.Fprintf(w, "%s  %s\n", pc.String(), x86asm.GNUSyntax(inst, uint64(pc), nil))
		code = code[inst.Len:]
		pc += memory.Address(inst.Len)
	}
}

// DisasmString renders code as a string
func DisasmString(code []byte, origin memory.Address) string {
	var b strings.Builder
	Disasm(&b, code, origin)
	return b.String()
}

// DisasmRead reads size bytes through the channel and disassembles them
func DisasmRead(ch memory.Channel, addr memory.Address, size memory.Size) (string, error) {
	code, err := ch.ReadBytes(addr, size)
	if err != nil {
		return "", err
	}
	return DisasmString(code, addr), nil
}
