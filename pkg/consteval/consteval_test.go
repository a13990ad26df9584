package consteval

import (
	"testing"

	"github.com/oisee/symexec/pkg/bv"
	"github.com/oisee/symexec/pkg/ir"
)

// fakeGlobals is a minimal GlobalResolver/MemoryWriter test double.
type fakeGlobals struct {
	addrs        map[string]bv.BV
	initializers map[string]*ir.Constant
	aliases      map[string]*ir.Constant
	initialized  map[string]bool
	writes       map[uint64]bv.BV
}

func newFakeGlobals() *fakeGlobals {
	return &fakeGlobals{
		addrs:        make(map[string]bv.BV),
		initializers: make(map[string]*ir.Constant),
		aliases:      make(map[string]*ir.Constant),
		initialized:  make(map[string]bool),
		writes:       make(map[uint64]bv.BV),
	}
}

func (f *fakeGlobals) key(moduleName, name string) string { return moduleName + "::" + name }

func (f *fakeGlobals) GlobalAddress(moduleName, name string) (bv.BV, bool) {
	v, ok := f.addrs[f.key(moduleName, name)]
	return v, ok
}

func (f *fakeGlobals) GlobalInitializer(moduleName, name string) (*ir.Constant, bool) {
	v, ok := f.initializers[f.key(moduleName, name)]
	return v, ok
}

func (f *fakeGlobals) MarkInitialized(moduleName, name string) bool {
	k := f.key(moduleName, name)
	if f.initialized[k] {
		return false
	}
	f.initialized[k] = true
	return true
}

func (f *fakeGlobals) ResolveAlias(moduleName, name string) (*ir.Constant, bool) {
	v, ok := f.aliases[f.key(moduleName, name)]
	return v, ok
}

func (f *fakeGlobals) Write(addr bv.BV, val bv.BV) error {
	v, ok := addr.ConcreteValue()
	if !ok {
		v = 0xdead
	}
	f.writes[v] = val
	return nil
}

func concreteU64(t *testing.T, v bv.BV) uint64 {
	t.Helper()
	val, ok := v.ConcreteValue()
	if !ok {
		t.Fatalf("expected concrete value, got symbolic %v", v)
	}
	return val
}

func TestConstInt(t *testing.T) {
	g := newFakeGlobals()
	e := New(g, g)
	result, err := e.ConstToBV("m", ir.IntConst(42, 32))
	if err != nil {
		t.Fatalf("ConstToBV: %v", err)
	}
	if got := concreteU64(t, result); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestConstNullAndAggregateZero(t *testing.T) {
	g := newFakeGlobals()
	e := New(g, g)
	n, err := e.ConstToBV("m", ir.NullConst(ir.IntegerType(16)))
	if err != nil {
		t.Fatalf("ConstToBV: %v", err)
	}
	if got := concreteU64(t, n); got != 0 {
		t.Errorf("null: got %d, want 0", got)
	}
	az := &ir.Constant{Kind: ir.ConstAggregateZero, Type: ir.ArrayType(ir.IntegerType(8), 4)}
	az32, err := e.ConstToBV("m", az)
	if err != nil {
		t.Fatalf("ConstToBV: %v", err)
	}
	if az32.Width() != 32 {
		t.Errorf("aggregate zero width = %d, want 32", az32.Width())
	}
}

func TestStructArrayVectorConcatOrdering(t *testing.T) {
	g := newFakeGlobals()
	e := New(g, g)
	// [0x11:8, 0x22:8] -- first element low, second element high.
	arr := &ir.Constant{Kind: ir.ConstArray, Elements: []*ir.Constant{
		ir.IntConst(0x11, 8),
		ir.IntConst(0x22, 8),
	}}
	result, err := e.ConstToBV("m", arr)
	if err != nil {
		t.Fatalf("ConstToBV: %v", err)
	}
	if got := concreteU64(t, result); got != 0x2211 {
		t.Errorf("got 0x%x, want 0x2211", got)
	}
}

func TestGlobalReferenceLazyInitializer(t *testing.T) {
	g := newFakeGlobals()
	addr := bv.FromUint64(0x4000, 64)
	g.addrs[g.key("m", "counter")] = addr
	g.initializers[g.key("m", "counter")] = ir.IntConst(7, 32)
	e := New(g, g)

	first, err := e.ConstToBV("m", ir.GlobalRef("counter"))
	if err != nil {
		t.Fatalf("ConstToBV: %v", err)
	}
	if got := concreteU64(t, first); got != 0x4000 {
		t.Errorf("got 0x%x, want the global's address 0x4000", got)
	}
	written, ok := g.writes[0x4000]
	if !ok {
		t.Fatalf("expected initializer to be written to the global's address")
	}
	if got := concreteU64(t, written); got != 7 {
		t.Errorf("written value = %d, want 7", got)
	}

	// A second reference must not write again.
	g.writes = make(map[uint64]bv.BV)
	if _, err := e.ConstToBV("m", ir.GlobalRef("counter")); err != nil {
		t.Fatalf("ConstToBV: %v", err)
	}
	if len(g.writes) != 0 {
		t.Errorf("second reference should not re-initialize, got %d writes", len(g.writes))
	}
}

func TestGlobalAliasResolvesThroughAliasee(t *testing.T) {
	g := newFakeGlobals()
	g.aliases[g.key("m", "alias_of_counter")] = ir.IntConst(0x5000, 64)
	e := New(g, g)

	result, err := e.ConstToBV("m", ir.GlobalRef("alias_of_counter"))
	if err != nil {
		t.Fatalf("ConstToBV: %v", err)
	}
	if got := concreteU64(t, result); got != 0x5000 {
		t.Errorf("got 0x%x, want 0x5000", got)
	}
}

func TestBinopAdd(t *testing.T) {
	g := newFakeGlobals()
	e := New(g, g)
	c := &ir.Constant{Kind: ir.ConstAdd, Operand0: ir.IntConst(3, 8), Operand1: ir.IntConst(4, 8)}
	result, err := e.ConstToBV("m", c)
	if err != nil {
		t.Fatalf("ConstToBV: %v", err)
	}
	if got := concreteU64(t, result); got != 7 {
		t.Errorf("got %d, want 7", got)
	}
}

func TestExtractValueThroughNestedStruct(t *testing.T) {
	g := newFakeGlobals()
	e := New(g, g)
	inner := &ir.Constant{Kind: ir.ConstStruct, Elements: []*ir.Constant{
		ir.IntConst(1, 8), ir.IntConst(2, 8),
	}}
	outer := &ir.Constant{Kind: ir.ConstStruct, Elements: []*ir.Constant{
		ir.IntConst(0, 8), inner,
	}}
	ev := &ir.Constant{Kind: ir.ConstExtractValue, Aggregate: outer, Indices: []uint32{1, 1}}
	result, err := e.ConstToBV("m", ev)
	if err != nil {
		t.Fatalf("ConstToBV: %v", err)
	}
	if got := concreteU64(t, result); got != 2 {
		t.Errorf("got %d, want 2", got)
	}
}

func TestInsertValueThroughNestedStruct(t *testing.T) {
	g := newFakeGlobals()
	e := New(g, g)
	inner := &ir.Constant{Kind: ir.ConstStruct, Elements: []*ir.Constant{
		ir.IntConst(1, 8), ir.IntConst(2, 8),
	}}
	outer := &ir.Constant{Kind: ir.ConstStruct, Elements: []*ir.Constant{
		ir.IntConst(0, 8), inner,
	}}
	iv := &ir.Constant{Kind: ir.ConstInsertValue, Aggregate: outer, Operand: ir.IntConst(99, 8), Indices: []uint32{1, 0}}
	result, err := e.ConstToBV("m", iv)
	if err != nil {
		t.Fatalf("ConstToBV: %v", err)
	}
	// outer.[1].[0] replaced with 99, outer.[1].[1] still 2, outer.[0] still 0:
	// concat order is [outer[0]:8 (low), inner[0]:8, inner[1]:8 (high)] = 0x02_63_00
	if got := concreteU64(t, result); got != 0x026300 {
		t.Errorf("got 0x%x, want 0x026300", got)
	}
}

func TestGetElementPtrArrayOfStructs(t *testing.T) {
	g := newFakeGlobals()
	e := New(g, g)
	elem := ir.StructType(ir.IntegerType(8), ir.IntegerType(32)) // 1 + 4 = 5 bytes, packed
	arrType := ir.ArrayType(elem, 4)
	base := ir.IntConst(0x8000, 64)
	gep := &ir.Constant{
		Kind:        ir.ConstGetElementPtr,
		GEPAddress:  base,
		GEPBaseType: arrType,
		GEPIndices: []*ir.Constant{
			ir.IntConst(2, 64), // index into the array: element 2
			ir.IntConst(1, 32), // index into the struct: field 1
		},
	}
	result, err := e.ConstToBV("m", gep)
	if err != nil {
		t.Fatalf("ConstToBV: %v", err)
	}
	// element 2 starts at 0x8000 + 2*5 = 0x800a, field 1 is at +1 byte = 0x800b
	want := uint64(0x8000 + 2*5 + 1)
	if got := concreteU64(t, result); got != want {
		t.Errorf("got 0x%x, want 0x%x", got, want)
	}
}

func TestICmpAndSelect(t *testing.T) {
	g := newFakeGlobals()
	e := New(g, g)
	cmp := &ir.Constant{Kind: ir.ConstICmp, Predicate: ir.ICmpSLT, Operand0: ir.IntConst(3, 8), Operand1: ir.IntConst(5, 8)}
	cmpResult, err := e.ConstToBV("m", cmp)
	if err != nil {
		t.Fatalf("ConstToBV: %v", err)
	}
	if ok, val := mustBool(t, cmpResult); !ok || !val {
		t.Errorf("3 slt 5 should be true")
	}

	sel := &ir.Constant{
		Kind:      ir.ConstSelect,
		Condition: &ir.Constant{Kind: ir.ConstInt, IntValue: 1, Type: ir.IntegerType(1)},
		TrueValue: ir.IntConst(10, 8), FalseValue: ir.IntConst(20, 8),
	}
	selResult, err := e.ConstToBV("m", sel)
	if err != nil {
		t.Fatalf("ConstToBV: %v", err)
	}
	if got := concreteU64(t, selResult); got != 10 {
		t.Errorf("got %d, want 10", got)
	}
}

func mustBool(t *testing.T, v bv.BV) (bool, bool) {
	t.Helper()
	ok, val := v.AsBool()
	return ok, val
}

func TestTruncZExtSExt(t *testing.T) {
	g := newFakeGlobals()
	e := New(g, g)
	trunc := &ir.Constant{Kind: ir.ConstTrunc, Operand: ir.IntConst(0x1234, 16), ToType: ir.IntegerType(8)}
	result, err := e.ConstToBV("m", trunc)
	if err != nil {
		t.Fatalf("ConstToBV: %v", err)
	}
	if got := concreteU64(t, result); got != 0x34 {
		t.Errorf("got 0x%x, want 0x34", got)
	}

	zext := &ir.Constant{Kind: ir.ConstZExt, Operand: ir.IntConst(0xff, 8), ToType: ir.IntegerType(16)}
	zresult, err := e.ConstToBV("m", zext)
	if err != nil {
		t.Fatalf("ConstToBV: %v", err)
	}
	if got := concreteU64(t, zresult); got != 0xff {
		t.Errorf("got 0x%x, want 0xff", got)
	}
}
