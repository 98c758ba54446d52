package vm

// harness_test.go assembles minimal guest programs directly out of this package's own
// opcodes (OpNop/OpEcall/OpSetReg), the way the teacher's test_test.go provides one
// shared NewTestHarness for every _test.go file in the package. internal/guest can't be
// imported here -- it imports vm, and vm importing it back would cycle -- so package
// tests that need a runnable guest program build one locally instead of reusing
// internal/guest's richer Assemble.

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/smoynes/rv39/internal/firmware"
	"github.com/smoynes/rv39/internal/log"
)

const testLoadAddr = 0x10000

// testOp is one guest instruction, mirroring internal/guest.Op closely enough to share
// the encoding but without that package's dependency on this one.
type testOp struct {
	code uint64
	reg  int
	imm  int64
}

func opNop() testOp   { return testOp{code: OpNop} }
func opEcall() testOp { return testOp{code: OpEcall} }

func opSetReg(reg int, imm int64) testOp {
	return testOp{code: OpSetReg, reg: reg, imm: imm}
}

func (op testOp) encode() uint64 {
	if op.code == OpSetReg {
		return EncodeSetReg(op.reg, uint64(op.imm))
	}

	return op.code
}

// assembleTestProgram wraps ops, plus an optional trailing data block, in a minimal
// ELF64 RISC-V executable -- the same shape internal/guest.AssembleWithData produces,
// duplicated here rather than imported to avoid the package cycle.
func assembleTestProgram(ops []testOp, data []byte) (image []byte, dataAddr uint64) {
	var text bytes.Buffer

	for _, op := range ops {
		_ = binary.Write(&text, binary.LittleEndian, op.encode())
	}

	body := text.Bytes()
	dataAddr = testLoadAddr + uint64(len(body))
	body = append(body, data...)

	const (
		ehsize = 64
		phsize = 56
	)

	ident := [elf.EI_NIDENT]byte{
		elf.ELFMAG[0], elf.ELFMAG[1], elf.ELFMAG[2], elf.ELFMAG[3],
		byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT), byte(elf.ELFOSABI_NONE),
	}

	hdr := struct {
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
	}{
		Ident:     ident,
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     testLoadAddr,
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phsize,
		Phnum:     1,
		Shstrndx:  uint16(elf.SHN_UNDEF),
	}

	phdr := struct {
		Type   uint32
		Flags  uint32
		Off    uint64
		Vaddr  uint64
		Paddr  uint64
		Filesz uint64
		Memsz  uint64
		Align  uint64
	}{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    ehsize + phsize,
		Vaddr:  testLoadAddr,
		Paddr:  testLoadAddr,
		Filesz: uint64(len(body)),
		Memsz:  uint64(len(body)),
		Align:  PageSize,
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, hdr)
	_ = binary.Write(&buf, binary.LittleEndian, phdr)
	buf.Write(body)

	return buf.Bytes(), dataAddr
}

// testHello writes msg to the console then exits with code.
func testHello(msg []byte, code int64) []byte {
	const nops = 8
	dataAddr := int64(testLoadAddr + 8*nops)

	ops := []testOp{
		opSetReg(RegA7, int64(SyscallWrite)),
		opSetReg(RegA0, FDStdout),
		opSetReg(RegA1, dataAddr),
		opSetReg(RegA2, int64(len(msg))),
		opEcall(),
		opSetReg(RegA7, int64(SyscallExit)),
		opSetReg(RegA0, code),
		opEcall(),
	}

	image, _ := assembleTestProgram(ops, msg)

	return image
}

// testYieldLoop yields n times voluntarily, then exits 0.
func testYieldLoop(n int) []byte {
	var ops []testOp

	for i := 0; i < n; i++ {
		ops = append(ops, opSetReg(RegA7, int64(SyscallYield)), opEcall())
	}

	ops = append(ops, opSetReg(RegA7, int64(SyscallExit)), opSetReg(RegA0, 0), opEcall())

	image, _ := assembleTestProgram(ops, nil)

	return image
}

// testExitImmediate exits immediately with code and nothing else -- used as the body of
// a forked child in scheduler tests that drive fork/wait through the unexported Kernel
// methods directly rather than through a guest program.
func testExitImmediate(code int64) []byte {
	ops := []testOp{
		opSetReg(RegA7, int64(SyscallExit)),
		opSetReg(RegA0, code),
		opEcall(),
	}

	image, _ := assembleTestProgram(ops, nil)

	return image
}

// testBusyLoop spins on OpNop for n instructions, then exits 0.
func testBusyLoop(n int) []byte {
	ops := make([]testOp, 0, n+3)
	for i := 0; i < n; i++ {
		ops = append(ops, opNop())
	}

	ops = append(ops, opSetReg(RegA7, int64(SyscallExit)), opSetReg(RegA0, 0), opEcall())

	image, _ := assembleTestProgram(ops, nil)

	return image
}

// testPrivilegedKill fills exactly one page with OpNop so the fetch that follows the
// last instruction walks into an unmapped page -- an ErrBadMapping fetch fault stands in
// for a privileged-instruction trap in this guest ISA (see internal/guest.PrivilegedKill).
func testPrivilegedKill() []byte {
	const wordsPerPage = PageSize / 8

	ops := make([]testOp, wordsPerPage)
	for i := range ops {
		ops[i] = opNop()
	}

	image, _ := assembleTestProgram(ops, nil)

	return image
}

// newTestKernel builds a Kernel wired to a Fake firmware, registering the given named
// programs and booting from initProgram.
func newTestKernel(t *testing.T, initProgram string, programs map[string][]byte, extra ...Option) (*Kernel, *firmware.Fake) {
	t.Helper()

	fake := firmware.NewFake()

	opts := []Option{
		WithFirmware(fake),
		WithLogger(log.NewFormattedLogger(&testWriter{t})),
	}

	for name, image := range programs {
		opts = append(opts, WithProgram(name, image))
	}

	opts = append(opts, extra...)

	k, err := New(initProgram, opts...)
	if err != nil {
		t.Fatalf("vm.New: %s", err)
	}

	return k, fake
}

type testWriter struct{ t *testing.T }

func (w *testWriter) Write(b []byte) (int, error) {
	w.t.Helper()

	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}

	w.t.Log(string(b))

	return n, nil
}
