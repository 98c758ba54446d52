// Package guest stands in for the out-of-scope user-space runtime and its example
// programs (spec.md §1). It assembles tiny guest programs, sequences of vm package
// opcodes, into minimal ELF64 RISC-V executables that internal/vm's loader can map,
// the way the teacher's internal/encoding package hand-rolls a binary file format
// (there, Intel Hex; here, an ELF header) with encoding/binary rather than reaching for
// a writer library -- none of the retrieval pack's dependencies write ELF, only
// debug/elf reads it.
package guest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/smoynes/rv39/internal/vm"
)

// loadAddr is the virtual address every assembled program is linked to start at. It is
// page-aligned, as internal/vm's loader requires of every PT_LOAD segment.
const loadAddr = 0x10000

// Op is one guest instruction: an opcode plus the operands this instruction set uses.
// Reg and Imm are only meaningful for OpSetReg.
type Op struct {
	Code uint64
	Reg  int
	Imm  int64
}

// Nop advances the program counter with no other effect.
func Nop() Op { return Op{Code: vm.OpNop} }

// Ecall issues a supervisor call, trapping into the kernel with whatever syscall id and
// arguments are currently staged in a7/a0-a2.
func Ecall() Op { return Op{Code: vm.OpEcall} }

// SetReg stages imm into register reg ahead of a later Ecall.
func SetReg(reg int, imm int64) Op { return Op{Code: vm.OpSetReg, Reg: reg, Imm: imm} }

// encode returns op's packed 8-byte instruction word.
func (op Op) encode() uint64 {
	switch op.Code {
	case vm.OpSetReg:
		return vm.EncodeSetReg(op.Reg, uint64(op.Imm))
	default:
		return op.Code
	}
}

// Assemble encodes ops into their instruction words and wraps them in a minimal ELF64
// RISC-V executable with a single PT_LOAD, RX segment. internal/vm's loader maps that
// segment directly into the spawned task's address space.
func Assemble(ops []Op) []byte {
	image, _ := AssembleWithData(ops, nil)
	return image
}

// AssembleWithData is Assemble plus a trailing block of read-only data -- string
// constants a program's syscalls reference, such as sys_write's buffer or sys_exec's
// path -- placed immediately after the instruction stream in the same mapped segment.
// It returns the image and the virtual address the data block starts at, since the
// program needs that address staged into a register before the syscall that reads it.
func AssembleWithData(ops []Op, data []byte) (image []byte, dataAddr uint64) {
	var text bytes.Buffer

	for _, op := range ops {
		_ = binary.Write(&text, binary.LittleEndian, op.encode())
	}

	body := text.Bytes()
	dataAddr = loadAddr + uint64(len(body))
	body = append(body, data...)

	const (
		ehsize = 64 // sizeof Elf64_Ehdr
		phsize = 56 // sizeof Elf64_Phdr
	)

	dataOff := uint64(ehsize + phsize)

	var buf bytes.Buffer

	ident := [elf.EI_NIDENT]byte{
		elf.ELFMAG[0], elf.ELFMAG[1], elf.ELFMAG[2], elf.ELFMAG[3],
		byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT), byte(elf.ELFOSABI_NONE),
	}

	hdr := elf64Header{
		Ident:     ident,
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     loadAddr,
		Phoff:     ehsize,
		Shoff:     0,
		Flags:     0,
		Ehsize:    ehsize,
		Phentsize: phsize,
		Phnum:     1,
		Shentsize: 0,
		Shnum:     0,
		Shstrndx:  uint16(elf.SHN_UNDEF),
	}

	phdr := elf64ProgHeader{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    dataOff,
		Vaddr:  loadAddr,
		Paddr:  loadAddr,
		Filesz: uint64(len(body)),
		Memsz:  uint64(len(body)),
		Align:  vm.PageSize,
	}

	_ = binary.Write(&buf, binary.LittleEndian, hdr)
	_ = binary.Write(&buf, binary.LittleEndian, phdr)
	buf.Write(body)

	return buf.Bytes(), dataAddr
}

// elf64Header mirrors the on-disk layout of Elf64_Ehdr.
type elf64Header struct {
	Ident     [elf.EI_NIDENT]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// elf64ProgHeader mirrors the on-disk layout of Elf64_Phdr.
type elf64ProgHeader struct {
	Type   uint32
	Flags  uint32
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}
