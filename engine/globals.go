package engine

import (
	"uescope/locate"
	"uescope/memory"
)

// Well-known engine globals. Discovery resolves them in this order, the
// name table first because every later validator leans on decoded names.
const (
	GlobalNames      = "GNames"
	GlobalObjects    = "GObjects"
	GlobalWorld      = "GWorld"
	GlobalEngine     = "GEngine"
	GlobalStaticCtor = "GStaticCtor"
)

// A healthy name pool holds "ByteProperty" at this early index, which
// makes it a cheap acceptance test for name table candidates.
const (
	NameProbeIndex uint32 = 3
	NameProbeValue        = "ByteProperty"
)

// DefaultGlobals returns the built-in signature set. Every template is a
// RIP-relative access: the 32-bit displacement sits DispOffset bytes into
// the match and Trailer spans from match start to the end of the
// instruction, so candidate = match + displacement + trailer. Multiple
// templates per global cover compiler variations between builds; they are
// tried in order and the first validated candidate wins.
//
// GNames and GWorld get their validators bound by the engine, the rest
// accept any non-zero candidate.
func DefaultGlobals() []locate.Global {
	return []locate.Global{
		{
			Name: GlobalNames,
			Templates: []locate.Template{
				// lea rcx, [rip+disp]; call init; mov r8, rax
				{Pattern: memory.MustPattern("48 8D 0D ? ? ? ? E8 ? ? ? ? 4C 8B C0"), DispOffset: 3, Trailer: 7},
				// lea rdx, [rip+disp] between short jumps, older inline form
				{Pattern: memory.MustPattern("74 09 48 8D 15 ? ? ? ? EB 16"), DispOffset: 5, Trailer: 9},
			},
		},
		{
			Name: GlobalObjects,
			Templates: []locate.Template{
				// mov rax, [rip+disp]; mov rcx, [rax+rcx*8]; lea rax, [rcx+rdx*8]
				{Pattern: memory.MustPattern("48 8B 05 ? ? ? ? 48 8B 0C C8 48 8D 04 D1"), DispOffset: 3, Trailer: 7},
				// mov r9, [rip+disp]; mov r8, [r9+rcx*8]
				{Pattern: memory.MustPattern("4C 8B 0D ? ? ? ? 4D 8B 04 C9"), DispOffset: 3, Trailer: 7},
			},
		},
		{
			Name: GlobalWorld,
			Templates: []locate.Template{
				// mov rbx, [rip+disp]; test rbx, rbx; jz
				{Pattern: memory.MustPattern("48 8B 1D ? ? ? ? 48 85 DB 74 ? 41"), DispOffset: 3, Trailer: 7},
				// mov rax, [rip+disp]; test rax, rax; jz
				{Pattern: memory.MustPattern("48 8B 05 ? ? ? ? 48 85 C0 74 ? 48 8B 88"), DispOffset: 3, Trailer: 7},
			},
		},
		{
			Name: GlobalEngine,
			Templates: []locate.Template{
				// mov rcx, [rip+disp]; test rcx, rcx; jz; call
				{Pattern: memory.MustPattern("48 8B 0D ? ? ? ? 48 85 C9 74 ? E8 ? ? ? ? 48"), DispOffset: 3, Trailer: 7},
			},
		},
		{
			Name: GlobalStaticCtor,
			Templates: []locate.Template{
				// call rel32; mov rbx, rax; test rax, rax; jz; mov rcx, rax
				{Pattern: memory.MustPattern("E8 ? ? ? ? 48 8B D8 48 85 C0 74 ? 48 8B C8"), DispOffset: 1, Trailer: 5},
			},
		},
	}
}
