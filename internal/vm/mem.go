package vm

// mem.go holds the simulated physical memory backing store and the SV39 layout
// constants. Physical memory is a single contiguous byte slice, addressed by frame
// number -- the hosted-simulation analog of the teacher's fixed PhysicalMemory array in
// internal/vm/mem.go, generalized from 16-bit words to 4 KiB pages.

const (
	// PageSize is the SV39 page size in bytes.
	PageSize = 4096

	// PageShift is log2(PageSize).
	PageShift = 12

	// VPNBits is the width, in bits, of each of the three VPN indices.
	VPNBits = 9

	// PTEsPerPage is the number of 8-byte page table entries that fit in one page.
	PTEsPerPage = PageSize / 8

	// UserStackSize is the size, in bytes, of a task's user stack.
	UserStackSize = 8192

	// KernelStackSize is the size, in bytes, of a task's kernel stack.
	KernelStackSize = 8192

	// MemoryEnd is the top of real physical memory in a full SV39 system. The hosted
	// simulator backs only a fraction of this range (see simTotalFrames in scheduler.go) --
	// MemoryEnd is retained as the spec's own layout constant, documentary here.
	MemoryEnd = 0x80800000

	// Trampoline is the highest virtual page in every address space, mapped
	// identically everywhere so that a switch of address space never invalidates the
	// instruction stream executing the entry/return stub.
	Trampoline = ^uint64(0) - PageSize + 1

	// TrapContextAddr is the page immediately below the trampoline, holding the saved
	// user register file and CSRs for one task.
	TrapContextAddr = Trampoline - PageSize
)

// PhysicalMemory is the simulated RAM backing every address space's page tables and
// mapped pages. It is addressed by physical page number, not by raw byte address.
type PhysicalMemory struct {
	base  PhysPageNum
	bytes []byte
}

// NewPhysicalMemory allocates a backing store covering `frames` pages starting at
// physical page number `base`.
func NewPhysicalMemory(base PhysPageNum, frames int) *PhysicalMemory {
	return &PhysicalMemory{
		base:  base,
		bytes: make([]byte, frames*PageSize),
	}
}

func (m *PhysicalMemory) offset(ppn PhysPageNum) int {
	return int(ppn-m.base) * PageSize
}

// Zero clears a frame's contents. Every frame returned by FrameAllocator.Alloc is
// zeroed exactly once, here, before use.
func (m *PhysicalMemory) Zero(ppn PhysPageNum) {
	off := m.offset(ppn)
	clear(m.bytes[off : off+PageSize])
}

// Page returns the page-sized byte slice backing the given frame. Mutations through the
// returned slice are visible to every other holder of the same PPN.
func (m *PhysicalMemory) Page(ppn PhysPageNum) []byte {
	off := m.offset(ppn)
	return m.bytes[off : off+PageSize]
}
