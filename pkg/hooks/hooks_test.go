package hooks

import (
	"testing"

	"github.com/oisee/symexec/pkg/alloc"
	"github.com/oisee/symexec/pkg/bv"
	"github.com/oisee/symexec/pkg/serr"
)

func TestMallocReturnsDistinctAddresses(t *testing.T) {
	h := New(alloc.New())
	a, err := h.Malloc(bv.FromUint64(16, 64))
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	b, err := h.Malloc(bv.FromUint64(16, 64))
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	av, _ := a.ConcreteValue()
	bval, _ := b.ConcreteValue()
	if av == bval {
		t.Errorf("two mallocs returned the same address 0x%x", av)
	}
}

func TestMallocRejectsSymbolicSize(t *testing.T) {
	h := New(alloc.New())
	_, err := h.Malloc(bv.NewVar("size", 64))
	if err == nil {
		t.Fatalf("expected an error for a symbolic size")
	}
	if !serr.Is(err, serr.KindOtherError) {
		t.Errorf("error kind = %v, want OtherError", err)
	}
}

func TestCallocMultipliesConcreteArgs(t *testing.T) {
	a := alloc.New()
	h := New(a)
	addr, err := h.Calloc(bv.FromUint64(4, 64), bv.FromUint64(8, 64))
	if err != nil {
		t.Fatalf("Calloc: %v", err)
	}
	av, _ := addr.ConcreteValue()
	size, ok := a.GetAllocationSize(av)
	if !ok || size != 4*8*8 {
		t.Errorf("allocation size = %v (ok=%v), want %d bits", size, ok, 4*8*8)
	}
}

func TestReallocDoesNotCopy(t *testing.T) {
	h := New(alloc.New())
	oldPtr, err := h.Malloc(bv.FromUint64(8, 64))
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	newPtr, err := h.Realloc(oldPtr, bv.FromUint64(32, 64))
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}
	op, _ := oldPtr.ConcreteValue()
	np, _ := newPtr.ConcreteValue()
	if op == np {
		t.Errorf("realloc should return a fresh address, not reuse the old one")
	}
}

func TestFreeIsNoOp(t *testing.T) {
	h := New(alloc.New())
	ptr, _ := h.Malloc(bv.FromUint64(8, 64))
	if err := h.Free(ptr); err != nil {
		t.Errorf("Free should not error on a valid pointer, got %v", err)
	}
}

func TestFreeRejectsWrongWidth(t *testing.T) {
	h := New(alloc.New())
	if err := h.Free(bv.FromUint64(1, 8)); err == nil {
		t.Errorf("expected an error for a non-pointer-width argument")
	}
}
