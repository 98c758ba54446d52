package vm

// addrspace.go holds AddressSpace: a page table plus its ordered logical areas, the
// trampoline PTE, and the trap-context page. Grounded on original_source's
// os/src/mm/memory_set.rs MemorySet (new_kernel_map, new_app_from_elf, the trampoline
// and TRAP_CTX placement, and fork's eager area-by-area clone).

import "fmt"

// KernelRegion describes one identity-mapped region of the kernel's own address space.
type KernelRegion struct {
	Lo, Hi VirtPageNum
	Perm   uint64
}

// AddressSpace is a page table plus the logical areas mapped into it.
type AddressSpace struct {
	pt     *PageTable
	areas  []*LogicalArea
	mem    *PhysicalMemory
	frames *FrameAllocator
}

func newAddressSpace(frames *FrameAllocator, mem *PhysicalMemory) (*AddressSpace, error) {
	pt, err := NewPageTable(frames, mem)
	if err != nil {
		return nil, err
	}

	return &AddressSpace{pt: pt, mem: mem, frames: frames}, nil
}

// Token returns the satp value for this address space.
func (as *AddressSpace) Token() uint64 { return as.pt.Token() }

func (as *AddressSpace) push(area *LogicalArea) error {
	if err := area.mapInto(as.pt, as.frames); err != nil {
		return err
	}

	as.areas = append(as.areas, area)

	return nil
}

// mapTrampoline installs the trampoline PTE at the fixed top-of-space virtual page,
// identical in every address space.
func (as *AddressSpace) mapTrampoline(trampolinePPN PhysPageNum) error {
	vpn := VirtPageNum(Trampoline >> PageShift)
	return as.pt.Map(vpn, trampolinePPN, PTER|PTEX)
}

// NewKernelSpace builds the kernel's own address space: one identity area per region,
// plus the trampoline.
func NewKernelSpace(frames *FrameAllocator, mem *PhysicalMemory, trampolinePPN PhysPageNum, regions []KernelRegion) (*AddressSpace, error) {
	as, err := newAddressSpace(frames, mem)
	if err != nil {
		return nil, err
	}

	for _, r := range regions {
		if err := as.push(NewIdentityArea(r.Lo, r.Hi, r.Perm)); err != nil {
			return nil, err
		}
	}

	if err := as.mapTrampoline(trampolinePPN); err != nil {
		return nil, err
	}

	return as, nil
}

// NewUserSpace builds a user address space from an ELF image: one framed area per
// PT_LOAD header, a guard page, a framed user stack, the trap-context page, and the
// trampoline. It returns the address space, the initial user stack pointer, and the
// entry point.
func NewUserSpace(frames *FrameAllocator, mem *PhysicalMemory, trampolinePPN PhysPageNum, elfImage []byte) (*AddressSpace, uint64, uint64, error) {
	as, err := newAddressSpace(frames, mem)
	if err != nil {
		return nil, 0, 0, err
	}

	maxEndVPN, entry, err := loadELF(as, elfImage)
	if err != nil {
		return nil, 0, 0, err
	}

	// One page of gap separates the loaded image from the user stack.
	stackLo := maxEndVPN + 1
	stackHi := stackLo + VirtPageNum(UserStackSize/PageSize)

	if err := as.push(NewFramedArea(stackLo, stackHi, PTER|PTEW|PTEU)); err != nil {
		return nil, 0, 0, err
	}

	userSP := uint64(stackHi) << PageShift

	trapCtxVPN := VirtPageNum(TrapContextAddr >> PageShift)
	if err := as.push(NewFramedArea(trapCtxVPN, trapCtxVPN+1, PTER|PTEW)); err != nil {
		return nil, 0, 0, err
	}

	if err := as.mapTrampoline(trampolinePPN); err != nil {
		return nil, 0, 0, err
	}

	return as, userSP, entry, nil
}

// TrapContextPPN returns the physical frame backing this address space's trap-context
// page.
func (as *AddressSpace) TrapContextPPN() PhysPageNum {
	pte, ok := as.pt.Translate(VirtPageNum(TrapContextAddr >> PageShift))
	if !ok {
		panic("vm: trap context page not mapped")
	}

	return pte.PPN()
}

// Fork builds a sibling address space: every area is cloned (identity areas share
// frames, framed areas get byte-identical copies), and the trampoline is remapped.
func (as *AddressSpace) Fork(frames *FrameAllocator, mem *PhysicalMemory, trampolinePPN PhysPageNum) (*AddressSpace, error) {
	child, err := newAddressSpace(frames, mem)
	if err != nil {
		return nil, err
	}

	if err := child.mapTrampoline(trampolinePPN); err != nil {
		return nil, err
	}

	for _, a := range as.areas {
		na, err := a.clone(frames, mem, child.pt)
		if err != nil {
			return nil, fmt.Errorf("vm: fork: %w", err)
		}

		child.areas = append(child.areas, na)
	}

	return child, nil
}

// Close unmaps and releases every area and the page table itself. Called when a task
// exits or execs away its old image.
func (as *AddressSpace) Close() {
	for _, a := range as.areas {
		a.unmapFrom(as.pt)
	}

	as.areas = nil
	as.pt.Close()
}
