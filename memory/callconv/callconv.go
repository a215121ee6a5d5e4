// Package callconv synthesizes position-independent x86-64 call stubs.
// Byte emission is table-driven off a convention descriptor so the same
// encoder serves both the Microsoft x64 and System V conventions.
package callconv

import "encoding/binary"

// Reg carries the two-byte encoding of mov reg, imm64 for one register
type Reg struct {
	Name string
	enc  [2]byte
}

var (
	RAX = Reg{"rax", [2]byte{0x48, 0xB8}}
	RCX = Reg{"rcx", [2]byte{0x48, 0xB9}}
	RDX = Reg{"rdx", [2]byte{0x48, 0xBA}}
	RSI = Reg{"rsi", [2]byte{0x48, 0xBE}}
	RDI = Reg{"rdi", [2]byte{0x48, 0xBF}}
	R8  = Reg{"r8", [2]byte{0x49, 0xB8}}
	R9  = Reg{"r9", [2]byte{0x49, 0xB9}}
)

// Conv describes one 64-bit calling convention
type Conv struct {
	Name string

	// ArgRegs receive the four register arguments in order
	ArgRegs [4]Reg

	// StackBase is the byte offset above rsp where stack extras begin
	// after the frame is set up
	StackBase int
}

var (
	// Win64 is the Microsoft x64 convention: RCX RDX R8 R9 plus a
	// 32-byte shadow area owned by the callee.
	Win64 = Conv{
		Name:      "win64",
		ArgRegs:   [4]Reg{RCX, RDX, R8, R9},
		StackBase: 0x20,
	}

	// SysV is the System V AMD64 convention used on Linux
	SysV = Conv{
		Name:      "sysv",
		ArgRegs:   [4]Reg{RDI, RSI, RDX, RCX},
		StackBase: 0,
	}
)

// Epilogue selects how the stub hands control back
type Epilogue byte

const (
	// Return ends the stub with ret, for remote thread entry points
	Return Epilogue = iota

	// Trap ends the stub with int3, for ptrace-driven execution where
	// the tracer regains control on the breakpoint
	Trap
)

// Encode synthesizes a stub that loads the register arguments, spills the
// stack extras, calls fn, stores the raw result word to the landing
// address, and finishes with the requested epilogue. The emitted code is
// position-independent: every address is carried as an immediate.
func Encode(conv Conv, fn uint64, regArgs [4]uint64, stackArgs []uint64, landing uint64, ep Epilogue) []byte {
	var stub []byte

	// The frame covers the convention's stack base plus the extras and
	// keeps rsp 16-byte aligned at the call. Thread entry leaves rsp at
	// 8 mod 16, so the frame must be 8 mod 16 itself.
	frame := conv.StackBase + 8*len(stackArgs)
	if frame%16 == 0 {
		frame += 8
	}

	stub = emitAdjustRSP(stub, 0xEC, frame) // sub rsp, frame

	for i, reg := range conv.ArgRegs {
		stub = emitMovImm64(stub, reg, regArgs[i])
	}

	for i, arg := range stackArgs {
		stub = emitMovImm64(stub, RAX, arg)
		stub = emitStoreRAXStack(stub, conv.StackBase+8*i)
	}

	stub = emitMovImm64(stub, RAX, fn)
	stub = append(stub, 0xFF, 0xD0) // call rax

	stub = emitAdjustRSP(stub, 0xC4, frame) // add rsp, frame

	stub = emitMovImm64(stub, RCX, landing)
	stub = append(stub, 0x48, 0x89, 0x01) // mov [rcx], rax

	switch ep {
	case Trap:
		stub = append(stub, 0xCC) // int3
	default:
		stub = append(stub, 0xC3) // ret
	}

	return stub
}

func emitMovImm64(stub []byte, reg Reg, imm uint64) []byte {
	stub = append(stub, reg.enc[0], reg.enc[1])
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], imm)
	return append(stub, buf[:]...)
}

// emitAdjustRSP emits sub/add rsp, imm; opcodeExt 0xEC subtracts, 0xC4 adds
func emitAdjustRSP(stub []byte, opcodeExt byte, amount int) []byte {
	if amount <= 0x7F {
		return append(stub, 0x48, 0x83, opcodeExt, byte(amount))
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(amount))
	return append(append(stub, 0x48, 0x81, opcodeExt), buf[:]...)
}

// emitStoreRAXStack emits mov [rsp+offset], rax
func emitStoreRAXStack(stub []byte, offset int) []byte {
	if offset <= 0x7F {
		return append(stub, 0x48, 0x89, 0x44, 0x24, byte(offset))
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(offset))
	return append(append(stub, 0x48, 0x89, 0x84, 0x24), buf[:]...)
}
