package vm

// pid.go holds the PID allocator and the per-process kernel stack it anchors. Grounded
// on original_source's os/src/task/pid.rs (PIDAllocator: a monotonic counter plus a
// recycle list; KernelStack: a framed area positioned by kernel_stack_position and torn
// down on Drop) adapted to explicit Release() calls in place of Rust's Drop.

import "fmt"

// PID is a process identifier: a small positive integer.
type PID int

// PIDPool allocates and recycles PIDs from a monotonic counter plus a free-list.
type PIDPool struct {
	next PID
	free []PID
}

// NewPIDPool creates an empty pool; the first Alloc returns PID 1.
func NewPIDPool() *PIDPool {
	return &PIDPool{}
}

// Alloc returns a recycled PID if one is available, otherwise the next unused one.
func (p *PIDPool) Alloc() PID {
	if n := len(p.free); n > 0 {
		pid := p.free[n-1]
		p.free = p.free[:n-1]

		return pid
	}

	p.next++

	return p.next
}

// Release returns pid to the free-list, making it eligible for reuse.
func (p *PIDPool) Release(pid PID) {
	for _, f := range p.free {
		if f == pid {
			panic(fmt.Errorf("%w: pid %d", ErrDoubleFree, pid))
		}
	}

	p.free = append(p.free, pid)
}

// kernelStackRange returns the half-open VPN range for pid's kernel stack: STACK bytes
// positioned below TRAMPOLINE at top(pid) = TRAMPOLINE - pid*(STACK+4KiB), with one
// guard page separating consecutive stacks.
func kernelStackRange(pid PID) (VirtPageNum, VirtPageNum) {
	top := Trampoline - uint64(pid)*(KernelStackSize+PageSize)
	bottom := top - KernelStackSize

	return VirtPageNum(bottom / PageSize), VirtPageNum(top / PageSize)
}

// KernelStack is a framed area in the kernel address space, dedicated to one PID.
type KernelStack struct {
	pid    PID
	kspace *AddressSpace
	area   *LogicalArea
	top    uint64
}

// NewKernelStack maps a fresh kernel stack for pid into the kernel address space.
func NewKernelStack(pid PID, kspace *AddressSpace, frames *FrameAllocator) (*KernelStack, error) {
	lo, hi := kernelStackRange(pid)

	area := NewFramedArea(lo, hi, PTER|PTEW)
	if err := kspace.push(area); err != nil {
		return nil, fmt.Errorf("vm: kernel stack for pid %d: %w", pid, err)
	}

	return &KernelStack{
		pid:    pid,
		kspace: kspace,
		area:   area,
		top:    uint64(hi) << PageShift,
	}, nil
}

// Top returns the kernel stack pointer a task resumes with.
func (ks *KernelStack) Top() uint64 { return ks.top }

// Release unmaps the stack and frees its frames. Lifetime is bound to the owning PID: a
// task's Release is called exactly once, when the task exits.
func (ks *KernelStack) Release() {
	ks.area.unmapFrom(ks.kspace.pt)

	areas := ks.kspace.areas
	for i, a := range areas {
		if a == ks.area {
			ks.kspace.areas = append(areas[:i], areas[i+1:]...)
			break
		}
	}
}
