// Package uobject decodes and manipulates the target's reflected object
// model: interned names, the global object table, class metadata chains,
// field access by name and native function invocation. Everything works
// through a memory.Channel against fixed slot offsets carried in Layout.
package uobject

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"

	"uescope/memory"
)

// ErrResolutionMiss is returned when a name, class, field or function
// cannot be resolved from the target's metadata.
var ErrResolutionMiss = errors.New("resolution miss")

type fieldKey struct {
	class memory.Address
	name  string
}

type isaKey struct {
	class memory.Address
	path  string
}

// Runtime is the shared decode context: one channel, one layout, and
// every process-wide memoization cache. All handles created from the same
// Runtime share its caches, so a decode through one handle is immediately
// visible to every other handle for the same address.
type Runtime struct {
	ch     memory.Channel
	layout Layout
	log    *logger.Logger

	names   *NameTable
	objects *ObjectTable

	world      atomic.Uint64
	gameEngine atomic.Uint64
	staticCtor atomic.Uint64

	warns atomic.Uint64

	cacheMu     sync.RWMutex
	nameCache   map[uint32]string
	pathCache   map[memory.Address]string
	fieldCache  map[fieldKey]*fieldInfo
	funcCache   map[fieldKey]*funcInfo
	isaCache    map[isaKey]bool
	vtableCache map[memory.Address]memory.Address
	arrayCache  map[memory.Address][]memory.Address
}

// NewRuntime creates a runtime over the channel with the given layout
func NewRuntime(ch memory.Channel, layout Layout) *Runtime {
	rt := &Runtime{
		ch:     ch,
		layout: layout,
		log:    logger.NewLogger(coloransi.Color(coloransi.Green, coloransi.ColorOrange, "uobject")),
	}
	rt.names = &NameTable{rt: rt}
	rt.objects = &ObjectTable{rt: rt}
	rt.resetCachesLocked()
	return rt
}

// Channel returns the underlying memory channel
func (rt *Runtime) Channel() memory.Channel {
	return rt.ch
}

// Layout returns the offsets this runtime decodes with
func (rt *Runtime) Layout() Layout {
	return rt.layout
}

// Names returns the interned string table view
func (rt *Runtime) Names() *NameTable {
	return rt.names
}

// Objects returns the global object table view
func (rt *Runtime) Objects() *ObjectTable {
	return rt.objects
}

func (rt *Runtime) SetWorld(addr memory.Address) {
	rt.world.Store(uint64(addr))
}

// World returns a handle on the published world object, nil when the
// global has not been discovered
func (rt *Runtime) World() *Object {
	addr := memory.Address(rt.world.Load())
	if addr == 0 {
		return nil
	}
	return NewObject(rt, addr)
}

func (rt *Runtime) SetGameEngine(addr memory.Address) {
	rt.gameEngine.Store(uint64(addr))
}

// GameEngine returns a handle on the published engine object, nil when
// the global has not been discovered
func (rt *Runtime) GameEngine() *Object {
	addr := memory.Address(rt.gameEngine.Load())
	if addr == 0 {
		return nil
	}
	return NewObject(rt, addr)
}

func (rt *Runtime) SetStaticCtor(addr memory.Address) {
	rt.staticCtor.Store(uint64(addr))
}

// StaticCtor returns the static constructor thunk address, zero when the
// global has not been discovered
func (rt *Runtime) StaticCtor() memory.Address {
	return memory.Address(rt.staticCtor.Load())
}

// ResetCaches drops every memoized decode. Live handles stay usable and
// re-resolve through target reads on next touch.
func (rt *Runtime) ResetCaches() {
	rt.cacheMu.Lock()
	defer rt.cacheMu.Unlock()
	rt.resetCachesLocked()
}

func (rt *Runtime) resetCachesLocked() {
	rt.nameCache = make(map[uint32]string)
	rt.pathCache = make(map[memory.Address]string)
	rt.fieldCache = make(map[fieldKey]*fieldInfo)
	rt.funcCache = make(map[fieldKey]*funcInfo)
	rt.isaCache = make(map[isaKey]bool)
	rt.vtableCache = make(map[memory.Address]memory.Address)
	rt.arrayCache = make(map[memory.Address][]memory.Address)
}

// WarnCount returns how many recoverable failures this runtime has logged
func (rt *Runtime) WarnCount() uint64 {
	return rt.warns.Load()
}

func (rt *Runtime) warn(v ...interface{}) {
	rt.warns.Add(1)
	rt.log.Warn(v...)
}

func (rt *Runtime) cachedName(index uint32) (string, bool) {
	rt.cacheMu.RLock()
	defer rt.cacheMu.RUnlock()
	s, ok := rt.nameCache[index]
	return s, ok
}

func (rt *Runtime) storeName(index uint32, s string) {
	rt.cacheMu.Lock()
	defer rt.cacheMu.Unlock()
	rt.nameCache[index] = s
}

func (rt *Runtime) cachedPath(addr memory.Address) (string, bool) {
	rt.cacheMu.RLock()
	defer rt.cacheMu.RUnlock()
	s, ok := rt.pathCache[addr]
	return s, ok
}

func (rt *Runtime) storePath(addr memory.Address, s string) {
	rt.cacheMu.Lock()
	defer rt.cacheMu.Unlock()
	rt.pathCache[addr] = s
}

func (rt *Runtime) cachedField(k fieldKey) (*fieldInfo, bool) {
	rt.cacheMu.RLock()
	defer rt.cacheMu.RUnlock()
	info, ok := rt.fieldCache[k]
	return info, ok
}

func (rt *Runtime) storeField(k fieldKey, info *fieldInfo) {
	rt.cacheMu.Lock()
	defer rt.cacheMu.Unlock()
	rt.fieldCache[k] = info
}

func (rt *Runtime) cachedFunc(k fieldKey) (*funcInfo, bool) {
	rt.cacheMu.RLock()
	defer rt.cacheMu.RUnlock()
	info, ok := rt.funcCache[k]
	return info, ok
}

func (rt *Runtime) storeFunc(k fieldKey, info *funcInfo) {
	rt.cacheMu.Lock()
	defer rt.cacheMu.Unlock()
	rt.funcCache[k] = info
}

func (rt *Runtime) cachedIsA(k isaKey) (bool, bool) {
	rt.cacheMu.RLock()
	defer rt.cacheMu.RUnlock()
	verdict, ok := rt.isaCache[k]
	return verdict, ok
}

func (rt *Runtime) storeIsA(k isaKey, verdict bool) {
	rt.cacheMu.Lock()
	defer rt.cacheMu.Unlock()
	rt.isaCache[k] = verdict
}

func (rt *Runtime) cachedVTableSlot(vtable memory.Address) (memory.Address, bool) {
	rt.cacheMu.RLock()
	defer rt.cacheMu.RUnlock()
	slot, ok := rt.vtableCache[vtable]
	return slot, ok
}

func (rt *Runtime) storeVTableSlot(vtable, slot memory.Address) {
	rt.cacheMu.Lock()
	defer rt.cacheMu.Unlock()
	rt.vtableCache[vtable] = slot
}

func (rt *Runtime) cachedArray(header memory.Address) ([]memory.Address, bool) {
	rt.cacheMu.RLock()
	defer rt.cacheMu.RUnlock()
	backing, ok := rt.arrayCache[header]
	return backing, ok
}

func (rt *Runtime) storeArray(header memory.Address, backing []memory.Address) {
	rt.cacheMu.Lock()
	defer rt.cacheMu.Unlock()
	rt.arrayCache[header] = backing
}
