// Package engine ties the pieces together: it opens a memory channel into
// the target, resolves the engine globals by signature and exposes the
// reflected object runtime built on top of them. One Engine owns one
// target for its whole lifetime.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"

	"uescope/locate"
	"uescope/memory"
	"uescope/scan"
	"uescope/uobject"
)

// ErrUnsupportedMode is returned when the requested attach mode does not
// exist on this platform.
var ErrUnsupportedMode = errors.New("attach mode not supported on this platform")

// AttachMode selects how an engine reaches its target
type AttachMode int

const (
	// InProcess inspects our own address space
	InProcess AttachMode = iota

	// ByPID attaches to an external process by ID
	ByPID

	// ByName resolves a process name first, then attaches by ID
	ByName

	// ByHandle adopts an already opened process handle, Windows only
	ByHandle
)

func (m AttachMode) String() string {
	switch m {
	case InProcess:
		return "in-process"
	case ByPID:
		return "by-pid"
	case ByName:
		return "by-name"
	case ByHandle:
		return "by-handle"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Config describes the target and how to interpret it. Zero values fall
// back to defaults: memory.DefaultConfig for the channel tunables,
// uobject.DefaultLayout for the offsets and DefaultGlobals for the
// signature set.
type Config struct {
	Mode        AttachMode
	ProcessName string           // target for ByName
	PID         memory.ProcessID // target for ByPID
	Handle      uintptr          // target for ByHandle

	Memory  memory.Config
	Layout  uobject.Layout
	Globals []locate.Global
}

// Engine owns the channel into one target plus the signature locator and
// object runtime layered on it. Construction only attaches; Discover
// performs the actual global resolution.
type Engine struct {
	cfg     Config
	ch      memory.Channel
	rt      *uobject.Runtime
	loc     *locate.Locator
	globals []locate.Global
	log     *logger.Logger

	mu     sync.Mutex
	status Status
}

// New attaches to the target described by cfg
func New(cfg Config) (*Engine, error) {
	ch, err := openChannel(&cfg)
	if err != nil {
		return nil, err
	}

	e, err := NewWithChannel(ch, cfg)
	if err != nil {
		ch.Close()
		return nil, err
	}
	return e, nil
}

// NewWithChannel builds an engine over an already open channel. Replaying
// a saved dump goes through here with a memory.BufferChannel.
func NewWithChannel(ch memory.Channel, cfg Config) (*Engine, error) {
	if cfg.Layout == (uobject.Layout{}) {
		cfg.Layout = uobject.DefaultLayout()
	}

	scanner, err := scan.NewModuleScanner(ch)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare module scanner: %w", err)
	}

	e := &Engine{
		cfg: cfg,
		ch:  ch,
		rt:  uobject.NewRuntime(ch, cfg.Layout),
		loc: locate.NewLocator(scanner),
		log: logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "engine")),
	}
	e.globals = e.bindValidators(cfg.Globals)
	e.status = Status{PID: ch.GetPID(), Valid: ch.IsValid()}
	return e, nil
}

// bindValidators installs the validators that need the runtime: the name
// pool probe for the name table and the secondary dereference for the
// world pointer. Globals that carry their own validator keep it.
func (e *Engine) bindValidators(globals []locate.Global) []locate.Global {
	if globals == nil {
		globals = DefaultGlobals()
	}

	bound := make([]locate.Global, len(globals))
	copy(bound, globals)
	for i := range bound {
		if bound[i].Validate != nil {
			continue
		}
		switch bound[i].Name {
		case GlobalNames:
			bound[i].Validate = func(candidate memory.Address) error {
				return e.rt.Names().Probe(candidate, NameProbeIndex, NameProbeValue)
			}
		case GlobalWorld:
			// The cell itself must dereference. Its value may be null,
			// a target between maps has no world.
			bound[i].Validate = func(candidate memory.Address) error {
				_, err := memory.ReadPointer(e.ch, candidate)
				return err
			}
		}
	}
	return bound
}

// Discover resolves the configured globals in order and publishes what it
// finds into the runtime. The name table is fatal: without it no names
// decode and nothing downstream can be trusted, so a miss abandons the
// pass, marks the remaining globals skipped and returns the error. Every
// other global is soft, a miss is recorded in the status and discovery
// moves on.
func (e *Engine) Discover() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.discoverLocked()
}

func (e *Engine) discoverLocked() error {
	st := Status{
		PID:     e.ch.GetPID(),
		Valid:   e.ch.IsValid(),
		Globals: make([]GlobalStatus, len(e.globals)),
	}
	if base, err := e.ch.GetBaseAddress(); err == nil {
		st.Base = base
	}

	for i, g := range e.globals {
		addr, err := e.loc.Resolve(g)
		if err != nil {
			st.Globals[i] = GlobalStatus{Name: g.Name, Detail: err.Error()}
			if g.Name == GlobalNames {
				for j := i + 1; j < len(e.globals); j++ {
					st.Globals[j] = GlobalStatus{Name: e.globals[j].Name, Detail: "skipped"}
				}
				e.status = st
				return fmt.Errorf("%s is required before anything else can resolve: %w", GlobalNames, err)
			}
			continue
		}

		st.Globals[i] = GlobalStatus{Name: g.Name, Address: addr, Found: true}
		e.publish(g.Name, addr)
	}

	e.status = st
	e.log.Infoln("Discovery located", st.FoundCount(), "of", len(e.globals), "globals")
	return nil
}

// publish wires one located address into the runtime. World and engine
// signatures point at the holding cell, so those are dereferenced once
// here; the live accessors reread the cell on every call.
func (e *Engine) publish(name string, addr memory.Address) {
	switch name {
	case GlobalNames:
		e.rt.Names().SetBase(addr)
	case GlobalObjects:
		e.rt.Objects().SetBase(addr)
	case GlobalWorld:
		e.rt.SetWorld(memory.ReadPointer2(e.ch, addr))
	case GlobalEngine:
		e.rt.SetGameEngine(memory.ReadPointer2(e.ch, addr))
	case GlobalStaticCtor:
		e.rt.SetStaticCtor(addr)
	}
}

// Runtime returns the reflected object runtime
func (e *Engine) Runtime() *uobject.Runtime {
	return e.rt
}

// Channel returns the underlying memory channel
func (e *Engine) Channel() memory.Channel {
	return e.ch
}

// Names returns the runtime's name table
func (e *Engine) Names() *uobject.NameTable {
	return e.rt.Names()
}

// Objects returns the runtime's object table
func (e *Engine) Objects() *uobject.ObjectTable {
	return e.rt.Objects()
}

// World rereads the located world cell and returns a handle on the
// current world, nil when the target is between maps. The reread keeps
// the handle fresh across level transitions without a full Reset.
func (e *Engine) World() (*uobject.Object, error) {
	return e.liveObject(GlobalWorld, e.rt.SetWorld, e.rt.World)
}

// GameEngine rereads the located engine cell and returns a handle on the
// engine singleton
func (e *Engine) GameEngine() (*uobject.Object, error) {
	return e.liveObject(GlobalEngine, e.rt.SetGameEngine, e.rt.GameEngine)
}

func (e *Engine) liveObject(name string, set func(memory.Address), get func() *uobject.Object) (*uobject.Object, error) {
	cell, ok := e.loc.Found(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, locate.ErrNotFound)
	}

	ptr, err := memory.ReadPointer(e.ch, cell)
	if err != nil {
		return nil, fmt.Errorf("failed to dereference %s cell: %w", name, err)
	}
	set(ptr)
	return get(), nil
}

// StaticCtor returns the static constructor thunk address, zero until
// discovery finds it
func (e *Engine) StaticCtor() memory.Address {
	return e.rt.StaticCtor()
}

// Located returns a copy of every resolved global address
func (e *Engine) Located() map[string]memory.Address {
	return e.loc.Addresses()
}

// Status returns a copy of the last discovery outcome with a fresh
// liveness check
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := e.status
	st.Globals = append([]GlobalStatus(nil), e.status.Globals...)
	e.mu.Unlock()

	st.Valid = e.ch.IsValid()
	return st
}

// Reset drops everything learned about the target and discovers again:
// runtime caches cleared, every published address zeroed, the locator and
// its snapshot reset. Use it after the target restarts or when stale
// addresses start failing validation.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.log.Infoln("Reset, clearing caches and rediscovering")
	e.rt.ResetCaches()
	e.rt.Names().SetBase(0)
	e.rt.Objects().SetBase(0)
	e.rt.SetWorld(0)
	e.rt.SetGameEngine(0)
	e.rt.SetStaticCtor(0)
	e.loc.Reset()

	return e.discoverLocked()
}

// Close detaches from the target
func (e *Engine) Close() error {
	return e.ch.Close()
}
