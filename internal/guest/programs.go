package guest

import "github.com/smoynes/rv39/internal/vm"

// Programs for each scenario in spec.md §8, pre-assembled into ELF images ready for
// internal/vm.WithProgram. Each is a short instruction sequence in the minimal guest ISA
// (OpSetReg to stage syscall arguments, OpEcall to invoke them), grounded on the
// syscall id table in internal/vm/syscall.go. Where a program needs to reference a
// trailing data block (a string sys_write or sys_exec reads), its address is computed
// up front as loadAddr + 8*len(ops), since every Op encodes to exactly one 8-byte word
// regardless of its operands -- the same arithmetic AssembleWithData performs internally.

// Hello writes a short greeting to the console, then exits 0. Exercises the single
// hello scenario: one task runs to completion.
var Hello = func() []byte {
	data := []byte("hello, rv39\n")

	const nops = 8
	dataAddr := int64(loadAddr + 8*nops)

	ops := []Op{
		SetReg(vm.RegA7, int64(vm.SyscallWrite)),
		SetReg(vm.RegA0, vm.FDStdout),
		SetReg(vm.RegA1, dataAddr),
		SetReg(vm.RegA2, int64(len(data))),
		Ecall(),
		SetReg(vm.RegA7, int64(vm.SyscallExit)),
		SetReg(vm.RegA0, 0),
		Ecall(),
	}

	image, _ := AssembleWithData(ops, data)

	return image
}()

// PingPong voluntarily yields a fixed number of times before exiting. Two tasks spawned
// from this image interleave their turns, exercising the voluntary-yield scheduling path.
var PingPong = func() []byte {
	const turns = 3

	var ops []Op

	for i := 0; i < turns; i++ {
		ops = append(ops,
			SetReg(vm.RegA7, int64(vm.SyscallYield)),
			Ecall(),
		)
	}

	ops = append(ops,
		SetReg(vm.RegA7, int64(vm.SyscallExit)),
		SetReg(vm.RegA0, 0),
		Ecall(),
	)

	return Assemble(ops)
}()

// ForkWait forks a child, then immediately exits with the raw return value of sys_fork
// still sitting in a0: 0 in the child, the new child's pid in the parent. This guest ISA
// has no conditional-branch opcode, so parent and child cannot run different code; they
// run the very same four instructions and come out with different, and therefore
// distinguishable, exit codes instead. The actual waitpid reap -- asserting the parent
// observes the child's specific exit code, and that a wait on a pid that is not a child
// comes back NoChild -- is exercised directly against Kernel.doWait in internal/vm's own
// scheduler tests, since reaping needs a writable pointer this guest ISA's single
// read-only text segment has no room to stage.
var ForkWait = func() []byte {
	ops := []Op{
		SetReg(vm.RegA7, int64(vm.SyscallFork)),
		Ecall(), // a0 := 0 in the child, child pid in the parent
		SetReg(vm.RegA7, int64(vm.SyscallExit)),
		Ecall(), // exit(a0)
	}

	return Assemble(ops)
}()

// ExecShell execs BusyLoop by name, demonstrating that a task's pid and kernel stack
// survive exec while its address space does not.
var ExecShell = func() []byte {
	path := append([]byte("busyloop"), 0)

	const nops = 6
	dataAddr := int64(loadAddr + 8*nops)

	ops := []Op{
		SetReg(vm.RegA7, int64(vm.SyscallExec)),
		SetReg(vm.RegA0, dataAddr),
		Ecall(),
		SetReg(vm.RegA7, int64(vm.SyscallExit)),
		SetReg(vm.RegA0, 1), // only reached if exec failed
		Ecall(),
	}

	image, _ := AssembleWithData(ops, path)

	return image
}()

// PrivilegedKill fills exactly one page with OpNop, so its mapped area is precisely one
// VPN wide: the page-granular fetch that follows the last instruction walks sepc into
// the next, unmapped page. There is no privileged-instruction fault in this guest ISA,
// so an out-of-bounds fetch stands in for it -- the same ErrBadMapping outcome spec.md's
// "kill on privileged instruction" scenario describes, the kernel killing the offending
// task and scheduling on.
var PrivilegedKill = func() []byte {
	const wordsPerPage = vm.PageSize / 8

	ops := make([]Op, wordsPerPage)
	for i := range ops {
		ops[i] = Nop()
	}

	return Assemble(ops)
}()

// BusyLoop spins on 256 OpNops, then exits 0. The spin spans several timer quanta, so it
// exercises involuntary, timer-driven preemption.
var BusyLoop = func() []byte {
	const spins = 256

	ops := make([]Op, 0, spins+3)
	for i := 0; i < spins; i++ {
		ops = append(ops, Nop())
	}

	ops = append(ops,
		SetReg(vm.RegA7, int64(vm.SyscallExit)),
		SetReg(vm.RegA0, 0),
		Ecall(),
	)

	return Assemble(ops)
}()
