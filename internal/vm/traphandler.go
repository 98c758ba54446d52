package vm

// traphandler.go decodes the trap cause and dispatches: syscalls, fatal exceptions, and
// timer-driven involuntary yields. Grounded on original_source's os/src/trap/mod.rs.

// ExitKilled is the exit code assigned to a task killed for a user fault: a bad
// address, an illegal or privileged instruction, or an unrecognized syscall.
const ExitKilled = 137

// TrapCause distinguishes why HandleTrap was invoked.
type TrapCause int

const (
	// CauseUserEnvCall is a syscall (ecall) trap.
	CauseUserEnvCall TrapCause = iota

	// CauseException is any other user-mode fault: kill the task.
	CauseException

	// CauseTimer is a supervisor timer interrupt: suspend the task and re-queue it.
	CauseTimer

	// CauseOtherInterrupt is any interrupt the kernel does not expect: fatal.
	CauseOtherInterrupt
)

// HandleTrap processes a trap raised while executing task t's guest instructions. It
// never sets sstatus.SIE: the saved Sstatus is written back however the trap left it,
// and there is no kernel preemption that would depend on interrupts being re-enabled.
func (k *Kernel) HandleTrap(t *Task, cause TrapCause) {
	switch cause {
	case CauseUserEnvCall:
		k.handleSyscall(t)
	case CauseException:
		k.log.Warn("user exception, killing task", "pid", t.PID)
		k.exitCurrentTask(t, ExitKilled)
	case CauseTimer:
		k.fw.SetTimer(uint64(k.quantum))
		k.suspendCurrentTask(t)
	case CauseOtherInterrupt:
		panic("vm: fatal interrupt")
	}
}

func (k *Kernel) handleSyscall(t *Task) {
	tc := k.trapEntry(t)
	tc.Sepc += guestInstructionSize
	// Commit the advanced sepc before dispatch: fork copies this frame into the child,
	// which must resume after the ecall rather than issue it again.
	k.trapReturn(t, tc)

	id := tc.Registers[RegA7]
	a0 := tc.Registers[RegA0]
	a1 := tc.Registers[RegA1]
	a2 := tc.Registers[RegA2]

	result, ok := k.syscall(t, uint16(id), a0, a1, a2)
	if !ok {
		k.log.Warn("unknown syscall, killing task", "pid", t.PID, "id", id)
		k.exitCurrentTask(t, ExitKilled)

		return
	}

	if t.Status == StatusExited {
		// exit already closed the address space and released the trap-context
		// frame; writing through tc now would land in a frame some other task
		// may already own.
		return
	}

	// Reload: exec may have replaced the trap context (and its frame) during dispatch.
	tc = k.trapEntry(t)
	tc.Registers[RegA0] = uint64(result)
	k.trapReturn(t, tc)
}
