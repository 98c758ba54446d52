package vm

// trapcontext.go holds TrapContext: the saved register file and CSRs for one
// user-to-kernel round trip, stored in the owning address space's trap-context frame.
// Grounded on original_source's os/src/trap/context.rs.

import "encoding/binary"

// NumRegisters is the size of the RISC-V general-purpose register file.
const NumRegisters = 32

// RISC-V calling-convention register indices used by the syscall ABI.
const (
	RegSP = 2
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA7 = 17
)

// sstatusSPP is the Previous Privilege bit of sstatus: 0 selects User, 1 Supervisor.
const sstatusSPP = 1 << 8

// trapContextWords is the on-disk (on-page) size of a TrapContext, in 8-byte words.
const trapContextWords = NumRegisters + 5

// TrapContext is the saved user register file and CSRs for one user/kernel round trip:
// what a real trampoline would save on entry and restore on return.
type TrapContext struct {
	Registers   [NumRegisters]uint64
	Sstatus     uint64
	Sepc        uint64
	KernelSatp  uint64
	KernelSP    uint64
	TrapHandler uint64
}

// InitNewApp builds the trap context for a task about to run for the first time (fresh
// spawn or just-exec'd): registers zeroed except sp, sepc at entry, SPP forced to User.
func InitNewApp(userSP, entry, kernelSatp, kernelSP, trapHandler uint64) *TrapContext {
	tc := &TrapContext{
		Sepc:        entry,
		KernelSatp:  kernelSatp,
		KernelSP:    kernelSP,
		TrapHandler: trapHandler,
	}
	tc.Registers[RegSP] = userSP
	tc.Sstatus &^= sstatusSPP

	return tc
}

// LoadTrapContext reads the trap context out of its physical frame.
func LoadTrapContext(mem *PhysicalMemory, ppn PhysPageNum) *TrapContext {
	page := mem.Page(ppn)

	var tc TrapContext

	for i := range tc.Registers {
		tc.Registers[i] = binary.LittleEndian.Uint64(page[i*8:])
	}

	off := NumRegisters * 8
	tc.Sstatus = binary.LittleEndian.Uint64(page[off:])
	off += 8
	tc.Sepc = binary.LittleEndian.Uint64(page[off:])
	off += 8
	tc.KernelSatp = binary.LittleEndian.Uint64(page[off:])
	off += 8
	tc.KernelSP = binary.LittleEndian.Uint64(page[off:])
	off += 8
	tc.TrapHandler = binary.LittleEndian.Uint64(page[off:])

	return &tc
}

// StoreTo writes the trap context back to its physical frame.
func (tc *TrapContext) StoreTo(mem *PhysicalMemory, ppn PhysPageNum) {
	page := mem.Page(ppn)

	for i, r := range tc.Registers {
		binary.LittleEndian.PutUint64(page[i*8:], r)
	}

	off := NumRegisters * 8
	binary.LittleEndian.PutUint64(page[off:], tc.Sstatus)
	off += 8
	binary.LittleEndian.PutUint64(page[off:], tc.Sepc)
	off += 8
	binary.LittleEndian.PutUint64(page[off:], tc.KernelSatp)
	off += 8
	binary.LittleEndian.PutUint64(page[off:], tc.KernelSP)
	off += 8
	binary.LittleEndian.PutUint64(page[off:], tc.TrapHandler)
}
