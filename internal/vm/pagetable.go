package vm

// pagetable.go implements the SV39 three-level page table: map, unmap, translate, and
// the token encoding loaded into the address-translation CSR. Grounded on the PTE
// layout of other_examples' tinyrange-cc rv64/mmu.go (PteV/R/W/X/U/G/A/D, PPN shifted
// by 10) and the walk/token logic of original_source's os/src/mm/page_table.rs.

import (
	"encoding/binary"
	"fmt"
)

// PTE flag bits, bits [7:0] of a page table entry.
const (
	PTEV = 1 << 0 // Valid
	PTER = 1 << 1 // Readable
	PTEW = 1 << 2 // Writable
	PTEX = 1 << 3 // Executable
	PTEU = 1 << 4 // User accessible
	PTEG = 1 << 5 // Global
	PTEA = 1 << 6 // Accessed
	PTED = 1 << 7 // Dirty
)

// satpModeSv39 is the mode field value for SV39 translation, loaded into bits [63:60]
// of the token.
const satpModeSv39 = 8

// VirtPageNum is a virtual page number: a virtual address with the page offset shifted
// out.
type VirtPageNum uint64

// Indices returns the three 9-bit VPN indices used to walk the three page table levels,
// most significant first.
func (v VirtPageNum) Indices() [3]int {
	return [3]int{
		int((uint64(v) >> 18) & 0x1ff),
		int((uint64(v) >> 9) & 0x1ff),
		int(uint64(v) & 0x1ff),
	}
}

// PTE is a single 64-bit SV39 page table entry.
type PTE uint64

// NewPTE builds a PTE pointing at ppn with the given flags.
func NewPTE(ppn PhysPageNum, flags uint64) PTE { return PTE(uint64(ppn)<<10 | flags) }

// PPN returns the entry's physical page number.
func (e PTE) PPN() PhysPageNum { return PhysPageNum(uint64(e) >> 10) }

// Valid reports whether the entry's V bit is set.
func (e PTE) Valid() bool { return uint64(e)&PTEV != 0 }

// Readable reports whether the entry's R bit is set.
func (e PTE) Readable() bool { return uint64(e)&PTER != 0 }

// Writable reports whether the entry's W bit is set.
func (e PTE) Writable() bool { return uint64(e)&PTEW != 0 }

// Executable reports whether the entry's X bit is set.
func (e PTE) Executable() bool { return uint64(e)&PTEX != 0 }

// User reports whether the entry's U bit is set.
func (e PTE) User() bool { return uint64(e)&PTEU != 0 }

func pteAt(page []byte, i int) PTE {
	return PTE(binary.LittleEndian.Uint64(page[i*8:]))
}

func setPTEAt(page []byte, i int, e PTE) {
	binary.LittleEndian.PutUint64(page[i*8:], uint64(e))
}

// PageTable is an SV39 page table: a root frame plus, for an owning table, the interior
// frames created to hold its non-leaf levels. An owning table allocates interior nodes
// on map and reclaims every frame it owns on Close. A non-owning view, built by
// FromToken to read or write across a foreign address space, never allocates and never
// reclaims.
type PageTable struct {
	mem    *PhysicalMemory
	frames *FrameAllocator // nil for a non-owning view
	root   PhysPageNum
	owned  []*FrameGuard
}

// NewPageTable allocates a fresh root frame and returns an owning page table.
func NewPageTable(frames *FrameAllocator, mem *PhysicalMemory) (*PageTable, error) {
	root, err := frames.Alloc()
	if err != nil {
		return nil, err
	}

	return &PageTable{
		mem:    mem,
		frames: frames,
		root:   root.PPN(),
		owned:  []*FrameGuard{root},
	}, nil
}

// FromToken reconstructs a non-owning view of a page table from its satp token value,
// for use by user-memory I/O against a foreign address space.
func FromToken(mem *PhysicalMemory, token uint64) *PageTable {
	return &PageTable{
		mem:  mem,
		root: PhysPageNum(token & ((1 << 44) - 1)),
	}
}

// Token returns the 64-bit value to load into the address-translation CSR.
func (pt *PageTable) Token() uint64 {
	return satpModeSv39<<60 | uint64(pt.root)
}

// walk returns the page and index of the leaf PTE for vpn. If create is true and an
// interior PTE is missing, a fresh frame is allocated and linked in -- only permitted
// for an owning table.
func (pt *PageTable) walk(vpn VirtPageNum, create bool) (page []byte, idx int, err error) {
	indices := vpn.Indices()
	ppn := pt.root

	for level := 0; level < 3; level++ {
		pg := pt.mem.Page(ppn)
		i := indices[level]

		if level == 2 {
			return pg, i, nil
		}

		e := pteAt(pg, i)
		if !e.Valid() {
			if !create || pt.frames == nil {
				return nil, 0, fmt.Errorf("%w: vpn %#x: no interior entry at level %d", ErrBadMapping, vpn, level)
			}

			g, aerr := pt.frames.Alloc()
			if aerr != nil {
				return nil, 0, aerr
			}

			pt.owned = append(pt.owned, g)
			e = NewPTE(g.PPN(), PTEV)
			setPTEAt(pg, i, e)
		}

		ppn = e.PPN()
	}

	return nil, 0, fmt.Errorf("%w: vpn %#x", ErrBadMapping, vpn)
}

// Map installs a valid leaf PTE for vpn pointing at ppn with the given flags. It fails
// if the leaf is already valid.
func (pt *PageTable) Map(vpn VirtPageNum, ppn PhysPageNum, flags uint64) error {
	pg, i, err := pt.walk(vpn, true)
	if err != nil {
		return err
	}

	if pteAt(pg, i).Valid() {
		return fmt.Errorf("%w: vpn %#x already mapped", ErrBadMapping, vpn)
	}

	setPTEAt(pg, i, NewPTE(ppn, flags|PTEV))

	return nil
}

// Unmap clears the leaf PTE for vpn. It fails if the leaf is not valid.
func (pt *PageTable) Unmap(vpn VirtPageNum) error {
	pg, i, err := pt.walk(vpn, false)
	if err != nil {
		return err
	}

	if !pteAt(pg, i).Valid() {
		return fmt.Errorf("%w: vpn %#x not mapped", ErrBadMapping, vpn)
	}

	setPTEAt(pg, i, 0)

	return nil
}

// Translate performs a non-mutating walk, returning the leaf PTE for vpn if valid.
func (pt *PageTable) Translate(vpn VirtPageNum) (PTE, bool) {
	pg, i, err := pt.walk(vpn, false)
	if err != nil {
		return 0, false
	}

	e := pteAt(pg, i)
	if !e.Valid() {
		return 0, false
	}

	return e, true
}

// Close reclaims every frame this table owns. A non-owning view (built by FromToken)
// never allocated frames, so Close is a no-op for it.
func (pt *PageTable) Close() {
	if pt.frames == nil {
		return
	}

	for _, g := range pt.owned {
		g.Free()
	}

	pt.owned = nil
}
