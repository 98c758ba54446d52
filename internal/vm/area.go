package vm

// area.go holds LogicalArea, a contiguous VPN range backed either by freshly allocated
// frames (Framed) or by an identity PPN=VPN mapping (Identical, used only for the
// kernel map). Grounded on original_source's os/src/mm/memory_set.rs MapArea.

// MapKind distinguishes a framed area (owns its physical frames) from an identity area
// (VPN equals PPN, used only for the kernel's own map).
type MapKind int

const (
	Framed MapKind = iota
	Identical
)

// LogicalArea is a half-open VPN range, a map kind, and a set of permission bits.
// Framed areas own one FrameGuard per VPN in the range.
type LogicalArea struct {
	Lo, Hi VirtPageNum
	Kind   MapKind
	Perm   uint64

	frames map[VirtPageNum]*FrameGuard
}

// NewFramedArea creates an area backed by freshly allocated frames, mapped on push.
func NewFramedArea(lo, hi VirtPageNum, perm uint64) *LogicalArea {
	return &LogicalArea{Lo: lo, Hi: hi, Kind: Framed, Perm: perm, frames: map[VirtPageNum]*FrameGuard{}}
}

// NewIdentityArea creates an area whose VPNs map to identical PPNs.
func NewIdentityArea(lo, hi VirtPageNum, perm uint64) *LogicalArea {
	return &LogicalArea{Lo: lo, Hi: hi, Kind: Identical, Perm: perm}
}

// mapInto installs a PTE for every VPN in the area, allocating a frame per VPN for a
// framed area.
func (a *LogicalArea) mapInto(pt *PageTable, frames *FrameAllocator) error {
	for vpn := a.Lo; vpn < a.Hi; vpn++ {
		var ppn PhysPageNum

		switch a.Kind {
		case Identical:
			ppn = PhysPageNum(vpn)
		case Framed:
			g, err := frames.Alloc()
			if err != nil {
				return err
			}

			a.frames[vpn] = g
			ppn = g.PPN()
		}

		if err := pt.Map(vpn, ppn, a.Perm); err != nil {
			return err
		}
	}

	return nil
}

// unmapFrom clears every PTE the area installed and releases its owned frames, if any.
func (a *LogicalArea) unmapFrom(pt *PageTable) {
	for vpn := a.Lo; vpn < a.Hi; vpn++ {
		_ = pt.Unmap(vpn)
	}

	for vpn, g := range a.frames {
		g.Free()
		delete(a.frames, vpn)
	}
}

// writeBytes copies data into the area's framed pages starting at its first VPN. The
// area's owning segment is assumed to start at a page boundary -- true for every
// synthesized program image this repository loads.
func (a *LogicalArea) writeBytes(mem *PhysicalMemory, data []byte) {
	off := 0

	for vpn := a.Lo; vpn < a.Hi && off < len(data); vpn++ {
		g := a.frames[vpn]
		page := mem.Page(g.PPN())
		off += copy(page, data[off:])
	}
}

// clone builds a sibling area of the same shape in pt: identity areas share the
// parent's physical frames, framed areas get fresh frames with the parent's bytes
// copied in, satisfying fork's "distinct frames, identical bytes" property.
func (a *LogicalArea) clone(frames *FrameAllocator, mem *PhysicalMemory, pt *PageTable) (*LogicalArea, error) {
	switch a.Kind {
	case Identical:
		na := NewIdentityArea(a.Lo, a.Hi, a.Perm)
		if err := na.mapInto(pt, frames); err != nil {
			return nil, err
		}

		return na, nil
	default:
		na := NewFramedArea(a.Lo, a.Hi, a.Perm)
		if err := na.mapInto(pt, frames); err != nil {
			return nil, err
		}

		for vpn := a.Lo; vpn < a.Hi; vpn++ {
			src := mem.Page(a.frames[vpn].PPN())
			dst := mem.Page(na.frames[vpn].PPN())
			copy(dst, src)
		}

		return na, nil
	}
}
