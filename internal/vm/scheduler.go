package vm

// scheduler.go assembles the kernel: the frame pool, kernel address space, PID pool, the
// ready queue, and the processor's run loop. Grounded on original_source's
// os/src/task/processor.rs (run_tasks' "push old if Ready, pop next, switch" loop;
// get_current_token/get_current_trap_cx/get_current_pid accessors) and
// os/src/task/pid.rs, generalized from the file's single global singletons into fields of
// one Kernel value so more than one kernel can exist in a test process.

import (
	"fmt"

	"github.com/smoynes/rv39/internal/firmware"
	"github.com/smoynes/rv39/internal/log"
)

// Firmware is the narrow external interface the kernel core consumes (spec §6): console
// byte I/O, timer programming, and shutdown. It is an alias for firmware.Firmware so
// this package's signatures read naturally while the interface itself, and its three
// implementations (a real raw-mode terminal, a plain writer, an in-memory fake for
// tests), live outside
// this package in internal/firmware; vm depends only on the interface, never a concrete
// type.
type Firmware = firmware.Firmware

// nullFirmware is the zero-value Firmware a Kernel falls back to when none is configured:
// no input ever arrives, output is discarded, and shutdown is a no-op. It exists so
// package-internal tests of the frame allocator, page table, and address space don't need
// to construct a whole console to build a Kernel.
type nullFirmware struct{}

func (nullFirmware) ConsolePutChar(byte)          {}
func (nullFirmware) ConsoleGetChar() (byte, bool) { return 0, false }
func (nullFirmware) SetTimer(uint64)              {}
func (nullFirmware) ReadTimer() uint64            { return 0 }
func (nullFirmware) ShutDown(bool)                {}

// Simulated physical memory layout. A real platform's frame pool spans real DRAM up to
// MemoryEnd; a hosted simulation only needs enough frames to run its test programs, so
// the pool here is sized generously rather than to match a real board.
const (
	simTotalFrames      = 8192
	simKernelTextFrames = 16
	simKernelDataFrames = 16

	// defaultQuantum is the number of guest instructions a task runs before an
	// involuntary timer-driven yield.
	defaultQuantum = 32

	// maxExecPathLen bounds the NUL-terminated path scanned out of user memory by
	// sys_exec.
	maxExecPathLen = 256
)

// Kernel assembles every subsystem spec.md describes into one value: the frame
// allocator, the kernel's own address space, the PID pool, the ready queue, and the
// processor, each behind an ExclusiveCell so a borrow held across a context switch fails
// fast instead of corrupting state.
type Kernel struct {
	mem *PhysicalMemory

	frames *ExclusiveCell[*FrameAllocator]
	kspace *ExclusiveCell[*AddressSpace]
	pids   *ExclusiveCell[*PIDPool]
	tasks  *ExclusiveCell[*TaskManager]
	proc   *ExclusiveCell[*Processor]

	trampoline *FrameGuard

	quantum  int
	fw       Firmware
	syscalls map[uint16]syscallFunc
	images   map[string][]byte

	log *log.Logger
}

// Option configures a Kernel during New, mirroring the teacher's OptionFn pattern
// (vm.WithLogger, vm.WithDisplayListener) without the early/late staging the teacher
// needs to drop privileges -- this kernel never holds elevated Go-level privileges to
// drop.
type Option func(*Kernel)

// WithQuantum sets the number of guest instructions run per scheduling quantum.
func WithQuantum(n int) Option {
	return func(k *Kernel) { k.quantum = n }
}

// WithFirmware configures the console/timer/shutdown implementation.
func WithFirmware(fw Firmware) Option {
	return func(k *Kernel) { k.fw = fw }
}

// WithLogger overrides the kernel's logger.
func WithLogger(l *log.Logger) Option {
	return func(k *Kernel) { k.log = l }
}

// WithProgram registers a named ELF image, reachable by sys_exec and as an init program.
// Stands in for the out-of-scope linker-produced table of embedded user-ELF blobs.
func WithProgram(name string, image []byte) Option {
	return func(k *Kernel) { k.images[name] = image }
}

// New builds a kernel: physical memory, the frame pool, the kernel's own identity-mapped
// address space, and the init task spawned from the named program (which must already be
// registered via WithProgram). Mirrors original_source's kernel bring-up order: memory,
// then the kernel address space, then the first task.
func New(initProgram string, opts ...Option) (*Kernel, error) {
	k := &Kernel{
		quantum:  defaultQuantum,
		fw:       nullFirmware{},
		images:   map[string][]byte{},
		log:      log.DefaultLogger(),
		syscalls: buildSyscallTable(),
	}

	for _, opt := range opts {
		opt(k)
	}

	k.mem = NewPhysicalMemory(0, simTotalFrames)

	frames := NewFrameAllocator(k.mem, simKernelTextFrames+simKernelDataFrames, simTotalFrames)
	k.frames = NewExclusiveCell(frames)

	trampoline, err := frames.Alloc()
	if err != nil {
		return nil, fmt.Errorf("vm: allocating trampoline frame: %w", err)
	}

	k.trampoline = trampoline

	regions := []KernelRegion{
		{Lo: 0, Hi: simKernelTextFrames, Perm: PTER | PTEX},
		{Lo: simKernelTextFrames, Hi: simKernelTextFrames + simKernelDataFrames, Perm: PTER | PTEW},
		{Lo: simKernelTextFrames + simKernelDataFrames, Hi: simTotalFrames, Perm: PTER | PTEW},
	}

	kspace, err := NewKernelSpace(frames, k.mem, trampoline.PPN(), regions)
	if err != nil {
		return nil, fmt.Errorf("vm: kernel address space: %w", err)
	}

	k.kspace = NewExclusiveCell(kspace)
	k.pids = NewExclusiveCell(NewPIDPool())
	k.tasks = NewExclusiveCell(NewTaskManager())
	k.proc = NewExclusiveCell(NewProcessor())

	image, ok := k.images[initProgram]
	if !ok {
		return nil, fmt.Errorf("vm: init program %q not registered", initProgram)
	}

	init, err := k.spawnTask(AppInfo{Name: initProgram, Image: image})
	if err != nil {
		return nil, fmt.Errorf("vm: spawning init: %w", err)
	}

	tasks, release := k.tasks.Borrow()
	tasks.SetInit(init)
	tasks.PushReady(init)
	release()

	k.fw.SetTimer(uint64(k.quantum))

	return k, nil
}

// spawnTask builds a brand-new task from an ELF image: a user address space, a PID, a
// kernel stack, and a freshly initialized trap context.
func (k *Kernel) spawnTask(app AppInfo) (*Task, error) {
	var (
		space         *AddressSpace
		userSP, entry uint64
		err           error
	)

	{
		frames, release := k.frames.Borrow()
		space, userSP, entry, err = NewUserSpace(frames, k.mem, k.trampoline.PPN(), app.Image)
		release()
	}

	if err != nil {
		return nil, fmt.Errorf("vm: loading %s: %w", app.Name, err)
	}

	var pid PID

	{
		pids, release := k.pids.Borrow()
		pid = pids.Alloc()
		release()
	}

	var (
		kstack *KernelStack
		kToken uint64
	)

	{
		kspace, releaseK := k.kspace.Borrow()
		frames, releaseF := k.frames.Borrow()
		kstack, err = NewKernelStack(pid, kspace, frames)
		kToken = kspace.Token()
		releaseF()
		releaseK()
	}

	if err != nil {
		return nil, err
	}

	trapCtxPPN := space.TrapContextPPN()
	tc := InitNewApp(userSP, entry, kToken, kstack.Top(), 0)
	tc.StoreTo(k.mem, trapCtxPPN)

	return &Task{
		PID:        pid,
		Status:     StatusReady,
		appInfo:    app,
		space:      space,
		kstack:     kstack,
		trapCtxPPN: trapCtxPPN,
		ticksLeft:  k.quantum,
	}, nil
}

// Run executes the scheduler loop until the ready queue is empty, then shuts down.
// Mirrors original_source's run_tasks: push the previous task back if it's still Ready,
// pop the next one, switch. The "switch" itself is runTask returning -- see the doc on
// TaskContext for why this hosted simulation needs no register-level handoff.
func (k *Kernel) Run() {
	var prev *Task

	for {
		if prev != nil && prev.Status == StatusReady {
			tasks, release := k.tasks.Borrow()
			tasks.PushReady(prev)
			release()
		}

		prev = nil

		tasks, release := k.tasks.Borrow()
		next, ok := tasks.PopReady()
		release()

		if !ok {
			k.log.Info("all tasks exited, shutting down")
			k.fw.ShutDown(false)

			return
		}

		next.Status = StatusRunning

		proc, release := k.proc.Borrow()
		proc.current = next
		release()

		k.runTask(next)

		prev = next
	}
}

// runTask drives one task's instruction cycle until it stops being Running: by exiting,
// by being suspended on a timer tick, or by faulting.
func (k *Kernel) runTask(t *Task) {
	for t.Status == StatusRunning {
		cause, err := k.Step(t)
		if err != nil {
			k.log.Warn("guest fault, killing task", "pid", t.PID, "err", err)
			k.exitCurrentTask(t, ExitKilled)

			break
		}

		if cause == nil {
			cause = k.serviceInterrupts(t)
		}

		if cause != nil {
			k.HandleTrap(t, *cause)
		}
	}
}

// exitCurrentTask tears down t's resources, records its exit code, and reparents its
// surviving children to init -- satisfying "exits are observable to parents only after
// the child's task context has been fully released" (§5) because all of this runs before
// runTask's loop condition is re-checked and control returns to Run.
func (k *Kernel) exitCurrentTask(t *Task, code int32) {
	t.Status = StatusExited
	t.ExitCode = code

	tasks, release := k.tasks.Borrow()
	initTask := tasks.Init()
	release()

	for _, c := range t.children {
		c.parent = initTask
		if initTask != nil {
			initTask.children = append(initTask.children, c)
		}
	}

	t.children = nil

	if t.space != nil {
		t.space.Close()
	}

	if t.kstack != nil {
		t.kstack.Release()
	}

	t.space = nil
	t.kstack = nil
	t.trapCtxPPN = 0

	k.log.Info("task exited", "pid", t.PID, "code", code)
}

// suspendCurrentTask re-queues t as Ready after a timer-driven involuntary yield, or a
// voluntary sys_yield.
func (k *Kernel) suspendCurrentTask(t *Task) {
	t.Status = StatusReady
}

// doFork clones the parent's address space eagerly (no copy-on-write, per spec
// Non-goals), allocates a fresh PID and kernel stack for the child, and forces the
// child's saved a0 to 0 so it observes fork's "0 in child" return value while the parent
// observes the child's PID (written by the fork syscall wrapper, not here).
func (k *Kernel) doFork(parent *Task) (*Task, error) {
	frames, releaseF := k.frames.Borrow()
	childSpace, err := parent.space.Fork(frames, k.mem, k.trampoline.PPN())
	releaseF()

	if err != nil {
		return nil, fmt.Errorf("vm: fork: %w", err)
	}

	pids, release := k.pids.Borrow()
	pid := pids.Alloc()
	release()

	kspace, releaseK := k.kspace.Borrow()
	frames, releaseF2 := k.frames.Borrow()
	kstack, err := NewKernelStack(pid, kspace, frames)
	kToken := kspace.Token()
	releaseF2()
	releaseK()

	if err != nil {
		return nil, err
	}

	trapCtxPPN := childSpace.TrapContextPPN()
	tc := LoadTrapContext(k.mem, trapCtxPPN)
	tc.Registers[RegA0] = 0
	tc.KernelSatp = kToken
	tc.KernelSP = kstack.Top()
	tc.StoreTo(k.mem, trapCtxPPN)

	child := &Task{
		PID:        pid,
		Status:     StatusReady,
		appInfo:    parent.appInfo,
		space:      childSpace,
		kstack:     kstack,
		trapCtxPPN: trapCtxPPN,
		ticksLeft:  k.quantum,
	}

	parent.addChild(child)

	tasks, releaseT := k.tasks.Borrow()
	tasks.PushReady(child)
	releaseT()

	return child, nil
}

// doExec rebuilds t's address space from a new ELF image in place: the PID, kernel
// stack, and position in the parent's children list are all preserved, only the address
// space and trap context change.
func (k *Kernel) doExec(t *Task, image []byte) error {
	frames, release := k.frames.Borrow()
	newSpace, userSP, entry, err := NewUserSpace(frames, k.mem, k.trampoline.PPN(), image)
	release()

	if err != nil {
		return fmt.Errorf("vm: exec: %w", err)
	}

	old := t.space
	t.space = newSpace
	old.Close()

	t.trapCtxPPN = newSpace.TrapContextPPN()

	kspace, release := k.kspace.Borrow()
	kToken := kspace.Token()
	release()

	tc := InitNewApp(userSP, entry, kToken, t.kstack.Top(), 0)
	tc.StoreTo(k.mem, t.trapCtxPPN)

	return nil
}

// doWait implements waitpid's outcomes from spec §4.7, including the Open Question
// resolution: a concrete pid waits specifically for that child (ErrNotReady while it is
// still running), rather than the original's eager ErrNoChild.
func (k *Kernel) doWait(parent *Task, pid int, codePtr uint64) (PID, error) {
	if pid == -1 {
		if len(parent.children) == 0 {
			return 0, ErrNoChild
		}

		for _, c := range parent.children {
			if c.Status == StatusExited {
				return k.reap(parent, c, codePtr)
			}
		}

		return 0, ErrNotReady
	}

	var target *Task

	for _, c := range parent.children {
		if int(c.PID) == pid {
			target = c
			break
		}
	}

	if target == nil {
		return 0, ErrNoChild
	}

	if target.Status != StatusExited {
		return 0, ErrNotReady
	}

	return k.reap(parent, target, codePtr)
}

// reap removes the exited child from the parent's list, recycles its PID, and writes its
// exit code into the parent's user memory at codePtr.
func (k *Kernel) reap(parent, child *Task, codePtr uint64) (PID, error) {
	parent.removeChild(child.PID)

	pids, release := k.pids.Borrow()
	pids.Release(child.PID)
	release()

	if err := WriteUserInt32(parent.space.pt, k.mem, codePtr, child.ExitCode); err != nil {
		return 0, err
	}

	return child.PID, nil
}
