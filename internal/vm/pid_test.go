package vm

import "testing"

func TestPIDPoolAllocMonotonicThenRecycled(t *testing.T) {
	pool := NewPIDPool()

	p1 := pool.Alloc()
	p2 := pool.Alloc()

	if p1 != 1 || p2 != 2 {
		t.Fatalf("first two pids = %d, %d, want 1, 2", p1, p2)
	}

	pool.Release(p1)

	p3 := pool.Alloc()
	if p3 != p1 {
		t.Errorf("alloc after release = %d, want recycled %d", p3, p1)
	}

	p4 := pool.Alloc()
	if p4 != 3 {
		t.Errorf("alloc after recycle pool drained = %d, want 3", p4)
	}
}

func TestPIDPoolDoubleReleasePanics(t *testing.T) {
	pool := NewPIDPool()

	p := pool.Alloc()
	pool.Release(p)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("double release did not panic")
		}
	}()

	pool.Release(p)
}

func TestKernelStackRangesDoNotOverlapAndLeaveGuardPages(t *testing.T) {
	lo1, hi1 := kernelStackRange(1)
	lo2, hi2 := kernelStackRange(2)

	if hi1 <= lo1 {
		t.Fatalf("pid 1 stack range empty: [%d, %d)", lo1, hi1)
	}

	// pid 2's stack sits strictly below pid 1's, with at least a one-page gap
	// between them for the guard page.
	if !(hi2 < lo1) {
		t.Fatalf("pid 2 stack [%d,%d) does not sit below pid 1 stack [%d,%d)", lo2, hi2, lo1, hi1)
	}

	if lo1-hi2 < 1 {
		t.Errorf("no guard page between pid 1 and pid 2 kernel stacks: gap = %d pages", lo1-hi2)
	}
}

func TestNewKernelStackMapsWritableFramedArea(t *testing.T) {
	fa, mem, trampolinePPN := newTestAddrSpaceFixture(t)

	kspace, err := NewKernelSpace(fa, mem, trampolinePPN, nil)
	if err != nil {
		t.Fatalf("NewKernelSpace: %s", err)
	}

	ks, err := NewKernelStack(1, kspace, fa)
	if err != nil {
		t.Fatalf("NewKernelStack: %s", err)
	}

	lo, hi := kernelStackRange(1)

	for vpn := lo; vpn < hi; vpn++ {
		pte, ok := kspace.pt.Translate(vpn)
		if !ok {
			t.Fatalf("kernel stack vpn %d not mapped", vpn)
		}

		if !pte.Writable() || pte.User() {
			t.Errorf("kernel stack vpn %d perms wrong: %#x", vpn, uint64(pte)&0xff)
		}
	}

	if ks.Top() != uint64(hi)<<PageShift {
		t.Errorf("Top() = %#x, want %#x", ks.Top(), uint64(hi)<<PageShift)
	}

	ks.Release()

	for vpn := lo; vpn < hi; vpn++ {
		if _, ok := kspace.pt.Translate(vpn); ok {
			t.Errorf("kernel stack vpn %d still mapped after Release", vpn)
		}
	}
}
