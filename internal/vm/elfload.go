package vm

// elfload.go parses an embedded ELF image to build a user address space's load areas.
// debug/elf is the standard library's read-only ELF header parser; no example repo in
// the retrieval pack vendors a third-party ELF parser (gopher-os hand-rolls multiboot
// parsing instead), so this is the one deliberate stdlib dependency in the kernel --
// recorded in the design ledger rather than silently reached for.

import (
	"bytes"
	"debug/elf"
	"fmt"
)

// loadELF maps one framed LogicalArea per PT_LOAD program header and copies its file
// bytes in, returning the VPN one past the highest mapped page and the image's entry
// point.
func loadELF(as *AddressSpace, image []byte) (VirtPageNum, uint64, error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrBadMapping, err)
	}
	defer f.Close()

	var maxEndVPN VirtPageNum

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		perm := uint64(PTEU)
		if prog.Flags&elf.PF_R != 0 {
			perm |= PTER
		}

		if prog.Flags&elf.PF_W != 0 {
			perm |= PTEW
		}

		if prog.Flags&elf.PF_X != 0 {
			perm |= PTEX
		}

		lo := VirtPageNum(prog.Vaddr / PageSize)
		hi := VirtPageNum((prog.Vaddr + prog.Memsz + PageSize - 1) / PageSize)

		area := NewFramedArea(lo, hi, perm)
		if err := as.push(area); err != nil {
			return 0, 0, err
		}

		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return 0, 0, fmt.Errorf("%w: %w", ErrBadMapping, err)
		}

		area.writeBytes(as.mem, data)

		if hi > maxEndVPN {
			maxEndVPN = hi
		}
	}

	return maxEndVPN, f.Entry, nil
}
