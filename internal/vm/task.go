package vm

// task.go holds the task control block: per-process status, address space, parent/child
// graph, and the kernel-side context the scheduler hands off to. Grounded on
// original_source's os/src/task/processor.rs (TaskControlBlock accessors: get_pid,
// get_mem, get_trap_ctx, status transitions to EXITED(code), inner cleared on exit) and
// os/src/task/context.rs (TaskContext: ra/sp plus twelve callee-saved registers).

// TaskStatus is the run state of a task control block.
type TaskStatus int

const (
	// StatusReady means the task is runnable and sits in (or is about to be pushed
	// onto) the ready queue.
	StatusReady TaskStatus = iota

	// StatusRunning means the task is the one the processor is currently stepping.
	StatusRunning

	// StatusExited means the task has run exit; its address space and kernel stack
	// are released and only its status and exit code remain until a parent reaps it.
	StatusExited
)

func (s TaskStatus) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusExited:
		return "exited"
	default:
		return "unknown"
	}
}

// AppInfo names the program a task was spawned or exec'd from: its display name and the
// original ELF image bytes, kept around so exec-less re-reads (get_task_info) don't need
// to touch the address space.
type AppInfo struct {
	Name  string
	Image []byte
}

// TaskContext is the kernel-side callee-saved state a real context-switch primitive
// would save and restore: return address, stack pointer, and the twelve preserved
// registers. In this hosted simulation there is no machine stack to save -- the
// scheduler hands off control with an ordinary Go call/return instead of swapping a
// register file -- so the field is carried for fidelity with the data model (and so a
// reader can see exactly what a bare-metal port would need to add) but nothing reads it.
type TaskContext struct {
	RA uint64
	SP uint64
	S  [12]uint64
}

// Task is a process control block: identity, run state, the program it was spawned
// from, its place in the parent/child graph, and (while running) its address space and
// kernel stack. A nil space (and zero trapCtxPPN) means the task has exited and released
// its resources -- the Go-idiomatic flattening of the spec's optional `inner` field,
// since Go has no borrow checker to enforce touching it only behind an Option.
type Task struct {
	PID      PID
	Status   TaskStatus
	ExitCode int32

	appInfo AppInfo

	parent   *Task
	children []*Task

	space      *AddressSpace
	kstack     *KernelStack
	trapCtxPPN PhysPageNum

	taskCtx   TaskContext
	ticksLeft int
}

// Name returns the task's program name.
func (t *Task) Name() string { return t.appInfo.Name }

// Children returns the task's live child list. Callers must not retain the slice across
// a fork or wait on this task.
func (t *Task) Children() []*Task { return t.children }

// addChild appends c to t's children, under t's strong ownership.
func (t *Task) addChild(c *Task) {
	c.parent = t
	t.children = append(t.children, c)
}

// removeChild deletes the child with the given PID from t's children, returning the
// removed task and whether it was found.
func (t *Task) removeChild(pid PID) (*Task, bool) {
	for i, c := range t.children {
		if c.PID == pid {
			t.children = append(t.children[:i], t.children[i+1:]...)
			return c, true
		}
	}

	return nil, false
}

// TaskManager is a FIFO ready queue plus a strong reference to the init process, used to
// reparent survivors when their parent exits first.
type TaskManager struct {
	ready []*Task
	init  *Task
}

// NewTaskManager creates an empty ready queue.
func NewTaskManager() *TaskManager {
	return &TaskManager{}
}

// PushReady appends t to the back of the ready queue.
func (tm *TaskManager) PushReady(t *Task) {
	tm.ready = append(tm.ready, t)
}

// PopReady removes and returns the task at the front of the ready queue.
func (tm *TaskManager) PopReady() (*Task, bool) {
	if len(tm.ready) == 0 {
		return nil, false
	}

	t := tm.ready[0]
	tm.ready = tm.ready[1:]

	return t, true
}

// Len reports how many tasks are waiting in the ready queue.
func (tm *TaskManager) Len() int { return len(tm.ready) }

// SetInit records the init process, the reparent target for orphaned children.
func (tm *TaskManager) SetInit(t *Task) { tm.init = t }

// Init returns the init process, if one has been set.
func (tm *TaskManager) Init() *Task { return tm.init }

// Processor tracks the single currently-running task. Its idle context is the neutral
// hand-off point the scheduler loop returns to between dispatches; see the package doc
// on TaskContext for why no bytes ever flow through it in this hosted simulation.
type Processor struct {
	current *Task
	idleCtx TaskContext
}

// NewProcessor creates a processor with no task running.
func NewProcessor() *Processor {
	return &Processor{}
}

// Current returns the task currently assigned to the processor, if any.
func (p *Processor) Current() *Task { return p.current }
