package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// BufferChannel is a Channel over in-memory regions. It replays saved dumps
// for offline inspection and stands in for a live target in tests. Reads
// follow the same chunking contract as the live backends; writes mutate the
// backing buffers; Execute is delegated to ExecHandler when one is set.
type BufferChannel struct {
	mu      sync.Mutex
	pid     ProcessID
	name    string
	base    Address
	regions []Region
	blobs   map[Address][]byte
	cfg     Config
	valid   bool
	partial uint64
	log     *logger.Logger

	// ExecHandler, when non-nil, receives Execute calls. Nil means the
	// channel reports ErrExecUnsupported.
	ExecHandler func(fn Address, regArgs [4]uint64, stackArgs []uint64) (uint64, error)
}

var _ Channel = (*BufferChannel)(nil)

func NewBufferChannel(pid ProcessID) *BufferChannel {
	return &BufferChannel{
		pid:   pid,
		blobs: make(map[Address][]byte),
		cfg:   DefaultConfig(),
		valid: true,
		log:   logger.NewLogger(coloransi.Color(coloransi.Cyan, coloransi.ColorOrange, fmt.Sprintf("buffer-%d", pid))),
	}
}

// AddRegion installs one backed region. Regions are kept sorted by base.
func (b *BufferChannel) AddRegion(base Address, data []byte, prot Protection, path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addRegionLocked(base, data, prot, path)
}

func (b *BufferChannel) addRegionLocked(base Address, data []byte, prot Protection, path string) {
	b.regions = append(b.regions, Region{
		Base: base,
		Size: Size(len(data)),
		Prot: prot,
		Path: path,
	})
	sort.Slice(b.regions, func(i, j int) bool {
		return b.regions[i].Base < b.regions[j].Base
	})
	b.blobs[base] = data
}

// SetBaseAddress overrides the main module base reported by GetBaseAddress
func (b *BufferChannel) SetBaseAddress(base Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.base = base
}

// SetConfig replaces the channel tunables
func (b *BufferChannel) SetConfig(cfg Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
}

// PartialReadCount returns how many chunked reads came back incomplete
func (b *BufferChannel) PartialReadCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.partial
}

func (b *BufferChannel) GetPID() ProcessID {
	return b.pid
}

func (b *BufferChannel) IsValid() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.valid
}

func (b *BufferChannel) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.valid = false
	b.regions = nil
	b.blobs = nil
	return nil
}

func (b *BufferChannel) GetBaseAddress() (Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.valid {
		return 0, ErrChannelUnavailable
	}
	if b.base != 0 {
		return b.base, nil
	}
	if len(b.regions) > 0 {
		return b.regions[0].Base, nil
	}
	return 0, ErrAddressNotMapped
}

func (b *BufferChannel) GetMemoryMap() ([]Region, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.valid {
		return nil, ErrChannelUnavailable
	}
	result := make([]Region, len(b.regions))
	copy(result, b.regions)
	return result, nil
}

// readDirect serves one read that must land inside a single backed region
func (b *BufferChannel) readDirect(addr Address, size Size) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.valid {
		return nil, ErrChannelUnavailable
	}

	region := RegionFor(addr, b.regions)
	if region == nil {
		return nil, ErrAddressNotMapped
	}
	data, ok := b.blobs[region.Base]
	if !ok {
		return nil, ErrAddressNotMapped
	}

	offset := uint64(addr - region.Base)
	if offset+uint64(size) > uint64(len(data)) {
		return nil, ErrAddressNotMapped
	}

	result := make([]byte, size)
	copy(result, data[offset:offset+uint64(size)])
	return result, nil
}

func (b *BufferChannel) ReadBytes(addr Address, size Size) ([]byte, error) {
	b.mu.Lock()
	cfg := b.cfg
	valid := b.valid
	b.mu.Unlock()

	if !valid {
		return nil, ErrChannelUnavailable
	}
	if cfg.MaxReadSize != 0 && size > cfg.MaxReadSize {
		return nil, fmt.Errorf("read of %s exceeds configured ceiling: %w", size, ErrReadFailed)
	}

	if size > cfg.ChunkThreshold {
		buf, failed := ChunkedRead(addr, size, cfg, b.readDirect)
		if failed != 0 {
			b.mu.Lock()
			b.partial++
			b.mu.Unlock()
			b.log.Warn("Partial chunked read, first failing chunk at", failed.String())
		}
		return buf, nil
	}

	return b.readDirect(addr, size)
}

func (b *BufferChannel) WriteBytes(addr Address, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.valid {
		return ErrChannelUnavailable
	}

	region := RegionFor(addr, b.regions)
	if region == nil {
		return ErrAddressNotMapped
	}
	blob, ok := b.blobs[region.Base]
	if !ok {
		return ErrAddressNotMapped
	}

	offset := uint64(addr - region.Base)
	if offset+uint64(len(data)) > uint64(len(blob)) {
		return ErrAddressNotMapped
	}
	copy(blob[offset:], data)
	return nil
}

func (b *BufferChannel) AllocateScratch(size Size, prot Protection) (Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.valid {
		return 0, ErrChannelUnavailable
	}

	// Place fresh regions past everything already mapped
	base := Address(0x10000000)
	if n := len(b.regions); n > 0 {
		base = (b.regions[n-1].End() + 0xFFFF) &^ 0xFFFF
	}
	data := make([]byte, size)
	b.addRegionLocked(base, data, prot, "[scratch]")
	return base, nil
}

func (b *BufferChannel) FreeScratch(addr Address, size Size) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.valid {
		return ErrChannelUnavailable
	}

	for i, region := range b.regions {
		if region.Base == addr {
			b.regions = append(b.regions[:i], b.regions[i+1:]...)
			delete(b.blobs, addr)
			return nil
		}
	}
	return ErrAddressNotMapped
}

func (b *BufferChannel) ChangeProtection(addr Address, size Size, prot Protection) (Protection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.valid {
		return 0, ErrChannelUnavailable
	}

	for i := range b.regions {
		if b.regions[i].Contains(addr) {
			previous := b.regions[i].Prot
			b.regions[i].Prot = prot
			return previous, nil
		}
	}
	return 0, ErrAddressNotMapped
}

func (b *BufferChannel) Execute(fn Address, regArgs [4]uint64, stackArgs []uint64) (uint64, error) {
	b.mu.Lock()
	handler := b.ExecHandler
	valid := b.valid
	b.mu.Unlock()

	if !valid {
		return 0, ErrChannelUnavailable
	}
	if handler == nil {
		return 0, ErrExecUnsupported
	}
	return handler(fn, regArgs, stackArgs)
}

func (b *BufferChannel) GetConfig() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// dumpMetadata mirrors the on-disk metadata.json of a saved dump
type dumpMetadata struct {
	PID  ProcessID `json:"pid"`
	Name string    `json:"name"`
	Base Address   `json:"base"`
}

// Save writes the channel's regions to a dump directory: metadata.json,
// memory_map.json and one blob file per backed region.
func (b *BufferChannel) Save(dirname string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.valid {
		return ErrChannelUnavailable
	}

	if err := os.MkdirAll(dirname, 0o755); err != nil {
		return fmt.Errorf("failed to create dump directory: %w", err)
	}

	meta, err := json.MarshalIndent(dumpMetadata{PID: b.pid, Name: b.name, Base: b.base}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dirname, "metadata.json"), meta, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	mm, err := json.MarshalIndent(b.regions, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dirname, "memory_map.json"), mm, 0o644); err != nil {
		return fmt.Errorf("failed to write memory map: %w", err)
	}

	for base, data := range b.blobs {
		filename := filepath.Join(dirname, fmt.Sprintf("blob_0x%x_%d.bin", uint64(base), len(data)))
		if err := os.WriteFile(filename, data, 0o644); err != nil {
			return fmt.Errorf("failed to write blob %s: %w", filename, err)
		}
	}

	return nil
}

// LoadDump reads a dump directory written by Save into a fresh channel.
// Regions whose blob file is missing stay unmapped, matching live regions
// that could not be captured.
func LoadDump(dirname string) (*BufferChannel, error) {
	metaBytes, err := os.ReadFile(filepath.Join(dirname, "metadata.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta dumpMetadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	mmBytes, err := os.ReadFile(filepath.Join(dirname, "memory_map.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read memory map: %w", err)
	}
	var regions []Region
	if err := json.Unmarshal(mmBytes, &regions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal memory map: %w", err)
	}

	b := NewBufferChannel(meta.PID)
	b.name = meta.Name
	b.base = meta.Base

	for _, region := range regions {
		filename := filepath.Join(dirname, fmt.Sprintf("blob_0x%x_%d.bin", uint64(region.Base), uint64(region.Size)))
		data, err := os.ReadFile(filename)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read blob %s: %w", filename, err)
		}
		b.AddRegion(region.Base, data, region.Prot, region.Path)
	}

	return b, nil
}
