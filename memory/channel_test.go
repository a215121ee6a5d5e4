package memory

import (
	"bytes"
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func TestBufferChannelReadWrite(t *testing.T) {
	ch := NewBufferChannel(42)
	data := make([]byte, 0x100)
	ch.AddRegion(0x1000, data, ProtRW, "heap")

	if err := ch.WriteBytes(0x1010, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	got, err := ch.ReadBytes(0x1010, 4)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("got %v", got)
	}

	if _, err := ch.ReadBytes(0x9000, 4); !errors.Is(err, ErrAddressNotMapped) {
		t.Errorf("expected ErrAddressNotMapped, got %v", err)
	}
}

func TestReadWriteValueRoundTrip(t *testing.T) {
	ch := NewBufferChannel(1)
	ch.AddRegion(0x1000, make([]byte, 0x100), ProtRW, "")

	t.Run("uint32", func(t *testing.T) {
		if err := Write[uint32](ch, 0x1000, 0xDEADBEEF); err != nil {
			t.Fatal(err)
		}
		v, err := Read[uint32](ch, 0x1000)
		if err != nil || v != 0xDEADBEEF {
			t.Errorf("got %#x, err %v", v, err)
		}
	})

	t.Run("int64", func(t *testing.T) {
		if err := Write[int64](ch, 0x1008, -123456789); err != nil {
			t.Fatal(err)
		}
		v, err := Read[int64](ch, 0x1008)
		if err != nil || v != -123456789 {
			t.Errorf("got %d, err %v", v, err)
		}
	})

	t.Run("float64", func(t *testing.T) {
		if err := Write[float64](ch, 0x1010, math.Pi); err != nil {
			t.Fatal(err)
		}
		v, err := Read[float64](ch, 0x1010)
		if err != nil || v != math.Pi {
			t.Errorf("got %v, err %v", v, err)
		}
	})

	t.Run("struct", func(t *testing.T) {
		type vec struct{ X, Y, Z float32 }
		want := vec{1, 2, 3}
		if err := Write(ch, 0x1020, want); err != nil {
			t.Fatal(err)
		}
		v, err := Read[vec](ch, 0x1020)
		if err != nil || v != want {
			t.Errorf("got %+v, err %v", v, err)
		}
	})
}

func TestReadPointerHelpers(t *testing.T) {
	ch := NewBufferChannel(1)
	ch.AddRegion(0x1000, make([]byte, 0x40), ProtRW, "")

	if err := Write[uint64](ch, 0x1000, 0xCAFEBABE); err != nil {
		t.Fatal(err)
	}

	ptr, err := ReadPointer(ch, 0x1000)
	if err != nil || ptr != 0xCAFEBABE {
		t.Errorf("ReadPointer got %s err %v", ptr, err)
	}
	if got := ReadPointer2(ch, 0x1000); got != 0xCAFEBABE {
		t.Errorf("ReadPointer2 got %s", got)
	}
	if got := ReadPointer2(ch, 0xFFFF0000); got != 0 {
		t.Errorf("ReadPointer2 on unmapped address got %s", got)
	}

	for i := uint64(0); i < 4; i++ {
		if err := Write[uint64](ch, Address(0x1010+8*i), 0x1000+i); err != nil {
			t.Fatal(err)
		}
	}
	list, err := ReadPointerList(ch, 0x1010, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range list {
		if p != Address(0x1000+uint64(i)) {
			t.Errorf("slot %d: got %s", i, p)
		}
	}
}

func TestReadCString(t *testing.T) {
	ch := NewBufferChannel(1)
	data := make([]byte, 0x40)
	copy(data, "ByteProperty\x00garbage")
	ch.AddRegion(0x1000, data, ProtRead, "")

	s, err := ReadCString(ch, 0x1000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if s != "ByteProperty" {
		t.Errorf("got %q", s)
	}

	// Ceiling clamps unterminated reads
	cfg := ch.GetConfig()
	cfg.MaxStringLength = 4
	ch.SetConfig(cfg)
	s, err = ReadCString(ch, 0x1000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if s != "Byte" {
		t.Errorf("expected clamped read, got %q", s)
	}
}

func TestReadWideString(t *testing.T) {
	ch := NewBufferChannel(1)
	data := make([]byte, 0x40)
	wide := []byte{'W', 0, 'o', 0, 'r', 0, 'l', 0, 'd', 0, 0, 0}
	copy(data, wide)
	ch.AddRegion(0x1000, data, ProtRead, "")

	s, err := ReadWideString(ch, 0x1000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if s != "World" {
		t.Errorf("got %q", s)
	}
}

func TestChunkedReadPartialFailure(t *testing.T) {
	// 10000-byte request over three 4096-byte chunks where the second
	// chunk lands in a hole: full-length result, first 4096 bytes
	// populated, remainder zero, one recorded warning.
	ch := NewBufferChannel(1)

	first := make([]byte, 4096)
	for i := range first {
		first[i] = 0xAB
	}
	ch.AddRegion(0x10000, first, ProtRead, "mapped")
	// Hole at 0x11000; a third region exists but is unreachable past it
	ch.AddRegion(0x13000, make([]byte, 4096), ProtRead, "mapped")

	cfg := ch.GetConfig()
	cfg.ChunkSize = 4096
	cfg.ChunkThreshold = 8192
	ch.SetConfig(cfg)

	buf, err := ch.ReadBytes(0x10000, 10000)
	if err != nil {
		t.Fatalf("partial read must not error: %v", err)
	}
	if len(buf) != 10000 {
		t.Fatalf("expected full-length buffer, got %d", len(buf))
	}
	for i := 0; i < 4096; i++ {
		if buf[i] != 0xAB {
			t.Fatalf("byte %d not populated", i)
		}
	}
	for i := 4096; i < len(buf); i++ {
		if buf[i] != 0 {
			t.Fatalf("byte %d should be zero, got %#x", i, buf[i])
		}
	}
	if n := ch.PartialReadCount(); n != 1 {
		t.Errorf("expected exactly one partial-read warning, got %d", n)
	}
}

func TestChunkedReadAllChunksLand(t *testing.T) {
	ch := NewBufferChannel(1)
	data := make([]byte, 16384)
	for i := range data {
		data[i] = byte(i)
	}
	ch.AddRegion(0x10000, data, ProtRead, "")

	cfg := ch.GetConfig()
	cfg.ChunkSize = 4096
	cfg.ChunkThreshold = 8192
	ch.SetConfig(cfg)

	buf, err := ch.ReadBytes(0x10000, 16384)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, data) {
		t.Error("chunked read does not match source data")
	}
	if n := ch.PartialReadCount(); n != 0 {
		t.Errorf("expected no partial reads, got %d", n)
	}
}

func TestClosedChannelDegradesToNoOps(t *testing.T) {
	ch := NewBufferChannel(1)
	ch.AddRegion(0x1000, make([]byte, 16), ProtRW, "")
	if err := ch.Close(); err != nil {
		t.Fatal(err)
	}

	if ch.IsValid() {
		t.Error("closed channel reports valid")
	}
	if _, err := ch.ReadBytes(0x1000, 4); !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("read: expected ErrChannelUnavailable, got %v", err)
	}
	if err := ch.WriteBytes(0x1000, []byte{1}); !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("write: expected ErrChannelUnavailable, got %v", err)
	}
	if _, err := ch.AllocateScratch(16, ProtRW); !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("allocate: expected ErrChannelUnavailable, got %v", err)
	}
	if _, err := ch.Execute(0x1000, [4]uint64{}, nil); !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("execute: expected ErrChannelUnavailable, got %v", err)
	}
}

func TestAllocateAndFreeScratch(t *testing.T) {
	ch := NewBufferChannel(1)
	ch.AddRegion(0x1000, make([]byte, 0x100), ProtRead, "")

	addr, err := ch.AllocateScratch(0x200, ProtRWX)
	if err != nil {
		t.Fatal(err)
	}
	if addr == 0 {
		t.Fatal("zero scratch address")
	}
	if err := ch.WriteBytes(addr, []byte{0x90, 0x90}); err != nil {
		t.Fatalf("scratch not writable: %v", err)
	}
	if err := ch.FreeScratch(addr, 0x200); err != nil {
		t.Fatal(err)
	}
	if _, err := ch.ReadBytes(addr, 1); !errors.Is(err, ErrAddressNotMapped) {
		t.Errorf("freed scratch still readable: %v", err)
	}
}

func TestChangeProtection(t *testing.T) {
	ch := NewBufferChannel(1)
	ch.AddRegion(0x1000, make([]byte, 0x100), ProtRW, "")

	previous, err := ch.ChangeProtection(0x1000, 0x100, ProtRWX)
	if err != nil {
		t.Fatal(err)
	}
	if previous != ProtRW {
		t.Errorf("expected previous rw-, got %s", previous)
	}
	regions, _ := ch.GetMemoryMap()
	if regions[0].Prot != ProtRWX {
		t.Errorf("protection not applied: %s", regions[0].Prot)
	}
}

func TestDumpSaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dump")

	src := NewBufferChannel(7)
	src.SetBaseAddress(0x140000000)
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	region := make([]byte, 0x100)
	copy(region, payload)
	src.AddRegion(0x140000000, region, ProtRead|ProtExecute, "game.exe")
	if err := src.Save(dir); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadDump(dir)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.GetPID() != 7 {
		t.Errorf("pid not preserved: %d", loaded.GetPID())
	}
	base, err := loaded.GetBaseAddress()
	if err != nil || base != 0x140000000 {
		t.Errorf("base not preserved: %s err %v", base, err)
	}
	got, err := loaded.ReadBytes(0x140000000, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("data not preserved: %v", got)
	}
}

func TestRegionFor(t *testing.T) {
	regions := []Region{
		{Base: 0x1000, Size: 0x1000},
		{Base: 0x3000, Size: 0x1000},
		{Base: 0x8000, Size: 0x2000},
	}

	tests := []struct {
		addr Address
		want Address // zero = expect nil
	}{
		{0x1000, 0x1000},
		{0x1FFF, 0x1000},
		{0x2000, 0},
		{0x3500, 0x3000},
		{0x9FFF, 0x8000},
		{0xA000, 0},
		{0x0, 0},
	}
	for _, tt := range tests {
		got := RegionFor(tt.addr, regions)
		if tt.want == 0 {
			if got != nil {
				t.Errorf("addr %s: expected nil, got %+v", tt.addr, got)
			}
			continue
		}
		if got == nil || got.Base != tt.want {
			t.Errorf("addr %s: expected region %s, got %+v", tt.addr, tt.want, got)
		}
	}
}
