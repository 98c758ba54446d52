// Package vm simulates a supervisor-mode RISC-V SV39 kernel: physical frames, page
// tables, address spaces, the trap pipeline, and the task scheduler. Physical RAM is
// modeled as a single backing byte slice, the way the teacher models physical memory as
// a fixed Go array addressed by word; everything above that line -- page tables, trap
// contexts, the scheduler -- works exactly as it would against real SV39 hardware.
package vm

// frame.go holds the physical frame allocator.

import (
	"fmt"

	"github.com/smoynes/rv39/internal/log"
)

// PhysPageNum is a physical page number: a physical address with the page offset
// shifted out.
type PhysPageNum uint64

// Addr returns the physical byte address of the frame.
func (p PhysPageNum) Addr() uint64 { return uint64(p) << PageShift }

// FrameAllocator hands out and reclaims 4 KiB physical page frames from a half-open
// bump interval, falling back to a free-list of previously released frames. A frame is
// either unused (in [current, end)), on the free-list, or held by exactly one live
// FrameGuard; double-free is a fatal programming error.
type FrameAllocator struct {
	mem  *PhysicalMemory
	lo   PhysPageNum
	cur  PhysPageNum
	end  PhysPageNum
	free []PhysPageNum
	log  *log.Logger
}

// NewFrameAllocator creates an allocator over the half-open frame range [lo, hi).
func NewFrameAllocator(mem *PhysicalMemory, lo, hi PhysPageNum) *FrameAllocator {
	return &FrameAllocator{
		mem: mem,
		lo:  lo,
		cur: lo,
		end: hi,
		log: log.DefaultLogger(),
	}
}

// FrameGuard owns exactly one physical frame and releases it back to the allocator on
// Free. A FrameGuard must not be freed more than once.
type FrameGuard struct {
	ppn   PhysPageNum
	owner *FrameAllocator
	freed bool
}

// PPN returns the frame's physical page number.
func (g *FrameGuard) PPN() PhysPageNum { return g.ppn }

// Free releases the frame back to its allocator. Freeing an already-freed guard is a
// kernel invariant violation and panics.
func (g *FrameGuard) Free() {
	if g.freed {
		panic(fmt.Errorf("%w: frame %d", ErrDoubleFree, g.ppn))
	}

	g.freed = true
	g.owner.release(g.ppn)
}

// Alloc returns a zeroed frame, popped from the free-list if one is available or bumped
// from the unused interval otherwise.
func (fa *FrameAllocator) Alloc() (*FrameGuard, error) {
	var ppn PhysPageNum

	if n := len(fa.free); n > 0 {
		ppn = fa.free[n-1]
		fa.free = fa.free[:n-1]
	} else if fa.cur < fa.end {
		ppn = fa.cur
		fa.cur++
	} else {
		return nil, fmt.Errorf("%w: exhausted [%d,%d)", ErrNoFrame, fa.lo, fa.end)
	}

	fa.mem.Zero(ppn)

	return &FrameGuard{ppn: ppn, owner: fa}, nil
}

// release pushes a frame back onto the free-list. It panics if the frame was never
// handed out or is already free -- per the tighter invariant than a bare bounds check,
// a frame outside [lo, cur) was never allocated at all.
func (fa *FrameAllocator) release(ppn PhysPageNum) {
	if ppn < fa.lo || ppn >= fa.cur {
		panic(fmt.Errorf("%w: free of frame %d never handed out", ErrDoubleFree, ppn))
	}

	for _, f := range fa.free {
		if f == ppn {
			panic(fmt.Errorf("%w: frame %d", ErrDoubleFree, ppn))
		}
	}

	fa.free = append(fa.free, ppn)
}
