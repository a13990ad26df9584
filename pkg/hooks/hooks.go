// Package hooks implements the default allocation hooks (malloc, calloc,
// realloc, free) as pure shape checks plus delegation to an Allocator,
// matching default_hooks.rs: free is a no-op by design, and realloc never
// copies the old region's contents.
package hooks

import (
	"github.com/oisee/symexec/pkg/alloc"
	"github.com/oisee/symexec/pkg/bv"
	"github.com/oisee/symexec/pkg/serr"
)

// AllocationHooks adapts an Allocator to the argument shapes an
// interpreter's call-to-hook dispatch hands over: raw BV arguments, with
// no type information beyond what each hook itself requires.
type AllocationHooks struct {
	Alloc *alloc.Alloc
}

// New constructs AllocationHooks backed by a.
func New(a *alloc.Alloc) *AllocationHooks {
	return &AllocationHooks{Alloc: a}
}

func requireWidth(name string, v bv.BV, maxBits uint32) error {
	if v.Width() == 0 || v.Width() > maxBits {
		return serr.OtherError("%s: argument has unexpected width %d", name, v.Width())
	}
	return nil
}

// Malloc implements malloc(size): size must be an integer BV; returns an
// allocator-issued address for size*8 bits.
func (h *AllocationHooks) Malloc(size bv.BV) (bv.BV, error) {
	if err := requireWidth("malloc", size, 64); err != nil {
		return bv.BV{}, err
	}
	bytes, ok := size.ConcreteValue()
	if !ok {
		return bv.BV{}, serr.OtherError("malloc: size must be concrete")
	}
	addr := h.Alloc.Alloc(bytes * 8)
	return bv.FromUint64(addr, 64), nil
}

// Calloc implements calloc(num, size): both arguments must be concrete
// integer BVs (a symbolic argument is rejected with OtherError), and their
// product is computed concretely; the
// allocated cells are already the memory's background value, which under
// Config.SymbolicInit == false (the zero-init default) satisfies calloc's
// zero-fill contract without any extra work here.
func (h *AllocationHooks) Calloc(num, size bv.BV) (bv.BV, error) {
	if err := requireWidth("calloc", num, 64); err != nil {
		return bv.BV{}, err
	}
	if err := requireWidth("calloc", size, 64); err != nil {
		return bv.BV{}, err
	}
	numVal, numOK := num.ConcreteValue()
	sizeVal, sizeOK := size.ConcreteValue()
	if !numOK || !sizeOK {
		return bv.BV{}, serr.OtherError("calloc: num and size must both be concrete")
	}
	addr := h.Alloc.Alloc(numVal * sizeVal * 8)
	return bv.FromUint64(addr, 64), nil
}

// Realloc implements realloc(ptr, newSize): ptr must look like a pointer
// (64-bit), newSize an integer; a fresh region of newSize bytes is
// allocated and its address returned. The old region's contents are not
// copied -- an intentional simplification documented in the original
// default_hooks.rs and carried forward here, not a latent bug.
func (h *AllocationHooks) Realloc(ptr, newSize bv.BV) (bv.BV, error) {
	if ptr.Width() != 64 {
		return bv.BV{}, serr.OtherError("realloc: ptr must be a 64-bit pointer, got width %d", ptr.Width())
	}
	if err := requireWidth("realloc", newSize, 64); err != nil {
		return bv.BV{}, err
	}
	bytes, ok := newSize.ConcreteValue()
	if !ok {
		return bv.BV{}, serr.OtherError("realloc: new_size must be concrete")
	}
	addr := h.Alloc.Alloc(bytes * 8)
	return bv.FromUint64(addr, 64), nil
}

// Free implements free(ptr): a no-op by design (no garbage collection of
// allocated regions -- see spec non-goals). ptr is still shape-checked.
func (h *AllocationHooks) Free(ptr bv.BV) error {
	if ptr.Width() != 64 {
		return serr.OtherError("free: ptr must be a 64-bit pointer, got width %d", ptr.Width())
	}
	return nil
}
