package vm

// userio.go provides safe byte-wise transfer across a user virtual buffer through a
// foreign address space, walking VPN-by-VPN and copying the contiguous physical slice
// of each page. Grounded on original_source's os/src/mm/io.rs (UserBuf/UserBufMut) and
// its exec-path string scan.

import "encoding/binary"

// UserBuffer is a window [ptr, ptr+len) of some task's virtual address space, resolved
// page-by-page through pt without assuming a contiguous physical backing.
type UserBuffer struct {
	pt    *PageTable
	mem   *PhysicalMemory
	start uint64
	end   uint64
}

// NewUserBuffer describes a byte window starting at ptr, length bytes long, in the
// address space named by pt.
func NewUserBuffer(pt *PageTable, mem *PhysicalMemory, ptr, length uint64) *UserBuffer {
	return &UserBuffer{pt: pt, mem: mem, start: ptr, end: ptr + length}
}

func (b *UserBuffer) walk(write bool, fn func(phys []byte)) error {
	addr := b.start

	for addr < b.end {
		vpn := VirtPageNum(addr / PageSize)

		pte, ok := b.pt.Translate(vpn)
		if !ok {
			return ErrBadMapping
		}

		if write && !pte.Writable() {
			return ErrBadMapping
		}

		page := b.mem.Page(pte.PPN())
		pageOff := addr % PageSize
		n := uint64(PageSize) - pageOff

		if remain := b.end - addr; n > remain {
			n = remain
		}

		fn(page[pageOff : pageOff+n])

		addr += n
	}

	return nil
}

// ReadInto copies the buffer's bytes out of user memory into dst, returning the number
// of bytes transferred.
func (b *UserBuffer) ReadInto(dst []byte) (int, error) {
	n := 0

	err := b.walk(false, func(phys []byte) {
		n += copy(dst[n:], phys)
	})

	return n, err
}

// WriteFrom copies src into the buffer's user memory, returning the number of bytes
// transferred. It fails with ErrBadMapping if any intermediate page lacks the write
// permission.
func (b *UserBuffer) WriteFrom(src []byte) (int, error) {
	n := 0

	err := b.walk(true, func(phys []byte) {
		n += copy(phys, src[n:])
	})

	return n, err
}

// WriteUserInt32 resolves a single writable int32 in a foreign address space and writes
// v into it -- the concrete instantiation of "translate_single<T>" this kernel needs
// (only waitpid's output code crosses this path, so a generic, page-crossing-safe
// implementation built on unsafe pointers was not worth its complexity).
func WriteUserInt32(pt *PageTable, mem *PhysicalMemory, ptr uint64, v int32) error {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], uint32(v))

	buf := NewUserBuffer(pt, mem, ptr, 4)

	n, err := buf.WriteFrom(raw[:])
	if err != nil {
		return err
	}

	if n != 4 {
		return ErrBadMapping
	}

	return nil
}

// ReadUserCString scans a NUL-terminated byte string out of user memory, up to maxLen
// bytes, used by exec to read its path argument.
func ReadUserCString(pt *PageTable, mem *PhysicalMemory, ptr uint64, maxLen int) (string, error) {
	out := make([]byte, 0, 64)
	addr := ptr

	for i := 0; i < maxLen; i++ {
		vpn := VirtPageNum(addr / PageSize)

		pte, ok := pt.Translate(vpn)
		if !ok {
			return "", ErrBadMapping
		}

		page := mem.Page(pte.PPN())

		b := page[addr%PageSize]
		if b == 0 {
			return string(out), nil
		}

		out = append(out, b)
		addr++
	}

	return "", ErrBadMapping
}
