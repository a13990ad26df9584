package alloc

import "testing"

func TestAllocAdvancesAndAligns(t *testing.T) {
	a := New()
	addr1 := a.Alloc(32) // 4 bytes -> rounds up to one word
	addr2 := a.Alloc(64) // exactly one word

	if addr1 != BaseAddr {
		t.Errorf("first address = 0x%x, want 0x%x", addr1, BaseAddr)
	}
	if addr2 != addr1+WordBytes {
		t.Errorf("second address = 0x%x, want 0x%x", addr2, addr1+WordBytes)
	}

	size, ok := a.GetAllocationSize(addr1)
	if !ok || size != 32 {
		t.Errorf("size of addr1 = %v (ok=%v), want 32", size, ok)
	}
}

func TestUnknownAddressHasNoSize(t *testing.T) {
	a := New()
	if _, ok := a.GetAllocationSize(0xdeadbeef); ok {
		t.Errorf("expected no recorded size for an address never allocated")
	}
}

func TestZeroSizeAllocGetsADistinctAddress(t *testing.T) {
	a := New()
	addr1 := a.Alloc(0)
	addr2 := a.Alloc(0)
	if addr1 == addr2 {
		t.Errorf("zero-size allocations collided on the same address: 0x%x", addr1)
	}
	if addr2 != addr1+WordBytes {
		t.Errorf("second zero-size address = 0x%x, want 0x%x", addr2, addr1+WordBytes)
	}
	real := a.Alloc(8)
	if real == addr1 || real == addr2 {
		t.Errorf("allocation after zero-size ones reused an address, got 0x%x", real)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := New()
	firstAddr := a.Alloc(64)
	clone := a.Clone()
	secondCloneAddr := clone.Alloc(64)

	if a.next == clone.next {
		t.Errorf("clone's allocation should not affect the original's cursor")
	}
	if _, ok := a.GetAllocationSize(secondCloneAddr); ok {
		t.Errorf("clone's new allocation must not be visible in the original")
	}
	if size, ok := clone.GetAllocationSize(firstAddr); !ok || size != 64 {
		t.Errorf("clone should still know about allocations made before it was cloned")
	}
}
