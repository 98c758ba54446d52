package vm

// syscall.go decodes and dispatches syscalls. Grounded on original_source's
// os/src/syscall/mod.rs (a flat match on syscall_id delegating to small per-call
// functions) generalized into the teacher's own device-table idiom: a
// map[uint16]syscallFunc built once, the same shape as (*LC3).Mem.Devices (a
// map[Word]any consulted by address on every access).

import (
	"errors"
	"fmt"
)

// Numeric syscall IDs, the stable ABI from spec §6.
const (
	SyscallRead        uint16 = 63
	SyscallWrite       uint16 = 64
	SyscallExit        uint16 = 93
	SyscallGetTaskInfo uint16 = 94
	SyscallYield       uint16 = 124
	SyscallGetPID      uint16 = 172
	SyscallGetTime     uint16 = 201
	SyscallFork        uint16 = 220
	SyscallExec        uint16 = 221
	SyscallWaitPID     uint16 = 260
)

// Error codes returned to user space (spec §6).
const (
	ErrGeneric  int64 = -1
	ErrAgain    int64 = -2
	ErrNoKidsRC int64 = -3
)

// Console file descriptors; anything else is reserved for the out-of-scope filesystem.
const (
	FDStdin  = 0
	FDStdout = 1
)

type syscallFunc func(k *Kernel, t *Task, a0, a1, a2 uint64) int64

func buildSyscallTable() map[uint16]syscallFunc {
	return map[uint16]syscallFunc{
		SyscallRead:        sysRead,
		SyscallWrite:       sysWrite,
		SyscallExit:        sysExit,
		SyscallGetTaskInfo: sysGetTaskInfo,
		SyscallYield:       sysYield,
		SyscallGetPID:      sysGetPID,
		SyscallGetTime:     sysGetTime,
		SyscallFork:        sysFork,
		SyscallExec:        sysExec,
		SyscallWaitPID:     sysWaitPID,
	}
}

// syscall decodes the trap-context-carried (id, a0, a1, a2) into a syscall invocation and
// dispatches it through the table built at construction. ok is false if id names no
// handler, the signal for the trap handler to kill the task.
func (k *Kernel) syscall(t *Task, id uint16, a0, a1, a2 uint64) (int64, bool) {
	fn, ok := k.syscalls[id]
	if !ok {
		return 0, false
	}

	return fn(k, t, a0, a1, a2), true
}

func sysRead(k *Kernel, t *Task, fd, ptr, length uint64) int64 {
	if fd != FDStdin || length == 0 {
		return ErrGeneric
	}

	b, ok := k.fw.ConsoleGetChar()
	if !ok {
		return ErrAgain
	}

	buf := NewUserBuffer(t.space.pt, k.mem, ptr, 1)

	n, err := buf.WriteFrom([]byte{b})
	if err != nil {
		return ErrGeneric
	}

	return int64(n)
}

func sysWrite(k *Kernel, t *Task, fd, ptr, length uint64) int64 {
	if fd != FDStdout {
		return ErrGeneric
	}

	data := make([]byte, length)
	buf := NewUserBuffer(t.space.pt, k.mem, ptr, length)

	n, err := buf.ReadInto(data)
	if err != nil {
		return ErrGeneric
	}

	for _, b := range data[:n] {
		k.fw.ConsolePutChar(b)
	}

	return int64(n)
}

func sysExit(k *Kernel, t *Task, code, _, _ uint64) int64 {
	k.exitCurrentTask(t, int32(int64(code)))
	return 0
}

func sysGetTaskInfo(k *Kernel, t *Task, ptr, length, _ uint64) int64 {
	name := t.Name()
	if uint64(len(name)) > length {
		return ErrGeneric
	}

	buf := NewUserBuffer(t.space.pt, k.mem, ptr, uint64(len(name)))

	n, err := buf.WriteFrom([]byte(name))
	if err != nil {
		return ErrGeneric
	}

	return int64(n)
}

func sysYield(k *Kernel, t *Task, _, _, _ uint64) int64 {
	k.suspendCurrentTask(t)
	return 0
}

func sysGetPID(k *Kernel, t *Task, _, _, _ uint64) int64 {
	return int64(t.PID)
}

func sysGetTime(k *Kernel, t *Task, _, _, _ uint64) int64 {
	return int64(k.fw.ReadTimer())
}

func sysFork(k *Kernel, t *Task, _, _, _ uint64) int64 {
	child, err := k.doFork(t)
	if err != nil {
		k.log.Warn("fork failed", "pid", t.PID, "err", err)
		return ErrGeneric
	}

	return int64(child.PID)
}

func sysExec(k *Kernel, t *Task, pathPtr, _, _ uint64) int64 {
	path, err := ReadUserCString(t.space.pt, k.mem, pathPtr, maxExecPathLen)
	if err != nil {
		return ErrGeneric
	}

	image, ok := k.images[path]
	if !ok {
		k.log.Warn("exec: no such program", "pid", t.PID, "path", path)
		return ErrGeneric
	}

	if err := k.doExec(t, image); err != nil {
		k.log.Warn("exec failed", "pid", t.PID, "path", path, "err", err)
		return ErrGeneric
	}

	return 0
}

func sysWaitPID(k *Kernel, t *Task, pid, codePtr, _ uint64) int64 {
	result, err := k.doWait(t, int(int32(pid)), codePtr)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoChild):
			return ErrNoKidsRC
		case errors.Is(err, ErrNotReady):
			return ErrAgain
		default:
			k.log.Warn("waitpid failed", "pid", t.PID, "err", fmt.Errorf("%w", err))
			return ErrGeneric
		}
	}

	return int64(result)
}
