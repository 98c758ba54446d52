package vm

// errors.go collects the sentinel errors used across the kernel simulation.

import "errors"

var (
	// ErrNoFrame is returned when the frame allocator has no physical frames left to hand out.
	ErrNoFrame = errors.New("vm: no free frame")

	// ErrBadMapping is returned when a page table walk fails to find a valid, sufficiently
	// permissioned translation.
	ErrBadMapping = errors.New("vm: bad mapping")

	// ErrNoChild is returned when waitpid names a pid that is not a child of the caller.
	ErrNoChild = errors.New("vm: no such child")

	// ErrUnknownSyscall names a syscall id with no handler. Kernel.syscall reports that
	// case through its ok result; no function currently returns this error.
	ErrUnknownSyscall = errors.New("vm: unknown syscall")

	// ErrDoubleFree marks a kernel invariant violation: a frame guard or PID released
	// more than once, or a frame released that the allocator never handed out.
	ErrDoubleFree = errors.New("vm: double free")

	// ErrNotReady is returned when waitpid names a child that exists but has not yet
	// exited; the user wrapper retries after yielding.
	ErrNotReady = errors.New("vm: child not ready")

	// ErrBorrowed marks a kernel invariant violation: an ExclusiveCell borrowed while
	// another borrow was outstanding, or released more than once.
	ErrBorrowed = errors.New("vm: exclusive cell borrow conflict")
)
