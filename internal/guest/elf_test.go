package guest

import (
	"bytes"
	"debug/elf"
	"testing"
)

func TestAssembleProducesLoadableELF(t *testing.T) {
	image := Assemble([]Op{Nop(), Ecall()})

	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		t.Fatalf("parsing assembled image: %s", err)
	}
	defer f.Close()

	if f.Type != elf.ET_EXEC {
		t.Errorf("type = %s, want %s", f.Type, elf.ET_EXEC)
	}

	if f.Machine != elf.EM_RISCV {
		t.Errorf("machine = %s, want %s", f.Machine, elf.EM_RISCV)
	}

	if f.Entry != loadAddr {
		t.Errorf("entry = %#x, want %#x", f.Entry, uint64(loadAddr))
	}

	var loads int

	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}

		loads++

		if p.Vaddr != loadAddr {
			t.Errorf("PT_LOAD vaddr = %#x, want %#x", p.Vaddr, uint64(loadAddr))
		}

		if p.Filesz != 16 {
			t.Errorf("PT_LOAD filesz = %d, want 16", p.Filesz)
		}
	}

	if loads != 1 {
		t.Fatalf("got %d PT_LOAD headers, want 1", loads)
	}
}

func TestAssembleWithDataPlacesDataAfterText(t *testing.T) {
	ops := []Op{Nop(), Nop()}
	data := []byte("ok")

	image, dataAddr := AssembleWithData(ops, data)

	if want := uint64(loadAddr + 8*len(ops)); dataAddr != want {
		t.Fatalf("dataAddr = %#x, want %#x", dataAddr, want)
	}

	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		t.Fatalf("parsing assembled image: %s", err)
	}
	defer f.Close()

	prog := f.Progs[0]

	got := make([]byte, len(data))
	if _, err := prog.ReadAt(got, int64(8*len(ops))); err != nil {
		t.Fatalf("reading trailing data: %s", err)
	}

	if !bytes.Equal(got, data) {
		t.Errorf("trailing data = %q, want %q", got, data)
	}
}
