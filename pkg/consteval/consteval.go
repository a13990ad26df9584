// Package consteval translates compile-time ir.Constant values into
// pkg/bv terms, the same translation State.const_to_bv performs: most
// kinds fold structurally, but a GlobalReference additionally triggers
// that global's lazy initialization (evaluating and writing its
// initializer the first time anything refers to it) and a GetElementPtr
// walks its index list against the pointee type to compute a byte offset.
package consteval

import (
	"github.com/oisee/symexec/pkg/bv"
	"github.com/oisee/symexec/pkg/ir"
	"github.com/oisee/symexec/pkg/serr"
)

// GlobalResolver is the seam consteval uses to look up and lazily
// initialize module-level globals, implemented by pkg/globals.
type GlobalResolver interface {
	// GlobalAddress returns the address reserved for the global or
	// function named name within moduleName, and whether it exists.
	GlobalAddress(moduleName, name string) (bv.BV, bool)
	// GlobalInitializer returns the initializer constant for the global
	// variable named name, and whether one was found (a global with no
	// initializer, e.g. an external declaration, returns false).
	GlobalInitializer(moduleName, name string) (*ir.Constant, bool)
	// MarkInitialized records that name's initializer is about to be
	// evaluated and written, returning true the first time this is called
	// for name (the caller should then actually perform the write) and
	// false on every subsequent call (the write already happened).
	MarkInitialized(moduleName, name string) bool
	// ResolveAlias returns the aliasee constant for the global alias named
	// name, if one exists.
	ResolveAlias(moduleName, name string) (*ir.Constant, bool)
}

// MemoryWriter is the seam consteval uses to write a lazily-initialized
// global's value, implemented by pkg/memory.
type MemoryWriter interface {
	Write(addr bv.BV, val bv.BV) error
}

// Evaluator translates ir.Constant values to bv.BV terms.
type Evaluator struct {
	Globals GlobalResolver
	Mem     MemoryWriter
}

// New constructs an Evaluator backed by the given global resolver and
// memory writer.
func New(globals GlobalResolver, mem MemoryWriter) *Evaluator {
	return &Evaluator{Globals: globals, Mem: mem}
}

// ConstToBV evaluates c in the context of moduleName (used to resolve
// GlobalReferences against the right module's globals/aliases).
func (e *Evaluator) ConstToBV(moduleName string, c *ir.Constant) (bv.BV, error) {
	switch c.Kind {
	case ir.ConstInt:
		return bv.FromUint64(c.IntValue, c.Type.IntBits), nil

	case ir.ConstNull, ir.ConstAggregateZero, ir.ConstUndef:
		return bv.Zero(c.Type.SizeBits()), nil

	case ir.ConstStruct, ir.ConstArray, ir.ConstVector:
		return e.concatElements(moduleName, c.Elements)

	case ir.ConstGlobalReference:
		return e.globalReference(moduleName, c.GlobalName)

	case ir.ConstAdd, ir.ConstSub, ir.ConstMul, ir.ConstUDiv, ir.ConstSDiv,
		ir.ConstURem, ir.ConstSRem, ir.ConstAnd, ir.ConstOr, ir.ConstXor,
		ir.ConstShl, ir.ConstLShr, ir.ConstAShr:
		return e.binop(moduleName, c)

	case ir.ConstExtractElement:
		return e.extractElement(moduleName, c)

	case ir.ConstInsertElement:
		return e.insertElement(moduleName, c)

	case ir.ConstExtractValue:
		target, err := simplifyConstEV(c.Aggregate, c.Indices)
		if err != nil {
			return bv.BV{}, err
		}
		return e.ConstToBV(moduleName, target)

	case ir.ConstInsertValue:
		target, err := simplifyConstIV(c.Aggregate, c.Operand, c.Indices)
		if err != nil {
			return bv.BV{}, err
		}
		return e.ConstToBV(moduleName, target)

	case ir.ConstGetElementPtr:
		return e.getElementPtr(moduleName, c)

	case ir.ConstTrunc:
		operand, err := e.ConstToBV(moduleName, c.Operand)
		if err != nil {
			return bv.BV{}, err
		}
		bits := c.ToType.SizeBits()
		return operand.Extract(bits-1, 0), nil

	case ir.ConstZExt:
		operand, err := e.ConstToBV(moduleName, c.Operand)
		if err != nil {
			return bv.BV{}, err
		}
		return operand.ZeroExt(c.ToType.SizeBits()), nil

	case ir.ConstSExt:
		operand, err := e.ConstToBV(moduleName, c.Operand)
		if err != nil {
			return bv.BV{}, err
		}
		return operand.SignExt(c.ToType.SizeBits()), nil

	case ir.ConstPtrToInt, ir.ConstIntToPtr, ir.ConstBitCast, ir.ConstAddrSpaceCast:
		operand, err := e.ConstToBV(moduleName, c.Operand)
		if err != nil {
			return bv.BV{}, err
		}
		if operand.Width() != c.ToType.SizeBits() {
			return bv.BV{}, serr.MalformedInstruction("cast changes width: %d -> %d", operand.Width(), c.ToType.SizeBits())
		}
		return operand, nil // same bits underneath, just a reinterpretation

	case ir.ConstICmp:
		return e.icmp(moduleName, c)

	case ir.ConstSelect:
		return e.selectConst(moduleName, c)

	default:
		return bv.BV{}, serr.OtherError("consteval: unsupported constant kind %v", c.Kind)
	}
}

func (e *Evaluator) concatElements(moduleName string, elements []*ir.Constant) (bv.BV, error) {
	if len(elements) == 0 {
		return bv.BV{}, serr.MalformedInstruction("consteval: empty aggregate")
	}
	acc, err := e.ConstToBV(moduleName, elements[0])
	if err != nil {
		return bv.BV{}, err
	}
	for _, el := range elements[1:] {
		next, err := e.ConstToBV(moduleName, el)
		if err != nil {
			return bv.BV{}, err
		}
		acc = acc.Concat(next)
	}
	return acc, nil
}

func (e *Evaluator) globalReference(moduleName, name string) (bv.BV, error) {
	if addr, ok := e.Globals.GlobalAddress(moduleName, name); ok {
		if e.Globals.MarkInitialized(moduleName, name) {
			if initializer, ok := e.Globals.GlobalInitializer(moduleName, name); ok {
				writeVal, err := e.ConstToBV(moduleName, initializer)
				if err != nil {
					return bv.BV{}, err
				}
				if err := e.Mem.Write(addr, writeVal); err != nil {
					return bv.BV{}, err
				}
			}
		}
		return addr, nil
	}
	if aliasee, ok := e.Globals.ResolveAlias(moduleName, name); ok {
		return e.ConstToBV(moduleName, aliasee)
	}
	return bv.BV{}, serr.OtherError("consteval: GlobalReference to %q not found in module %q", name, moduleName)
}

func (e *Evaluator) binop(moduleName string, c *ir.Constant) (bv.BV, error) {
	a, err := e.ConstToBV(moduleName, c.Operand0)
	if err != nil {
		return bv.BV{}, err
	}
	b, err := e.ConstToBV(moduleName, c.Operand1)
	if err != nil {
		return bv.BV{}, err
	}
	switch c.Kind {
	case ir.ConstAdd:
		return a.Add(b), nil
	case ir.ConstSub:
		return a.Sub(b), nil
	case ir.ConstMul:
		return a.Mul(b), nil
	case ir.ConstUDiv:
		return a.UDiv(b), nil
	case ir.ConstSDiv:
		return a.SDiv(b), nil
	case ir.ConstURem:
		return a.URem(b), nil
	case ir.ConstSRem:
		return a.SRem(b), nil
	case ir.ConstAnd:
		return a.And(b), nil
	case ir.ConstOr:
		return a.Or(b), nil
	case ir.ConstXor:
		return a.Xor(b), nil
	case ir.ConstShl:
		return a.Shl(b), nil
	case ir.ConstLShr:
		return a.Lshr(b), nil
	case ir.ConstAShr:
		return a.Ashr(b), nil
	default:
		return bv.BV{}, serr.OtherError("consteval: not a binop kind %v", c.Kind)
	}
}

func (e *Evaluator) extractElement(moduleName string, c *ir.Constant) (bv.BV, error) {
	if c.IndexConst.Kind != ir.ConstInt {
		return bv.BV{}, serr.MalformedInstruction("ExtractElement index must be a constant int")
	}
	if c.VectorConst.Kind != ir.ConstVector {
		return bv.BV{}, serr.MalformedInstruction("ExtractElement.vector must be a Constant vector")
	}
	idx := c.IndexConst.IntValue
	if idx >= uint64(len(c.VectorConst.Elements)) {
		return bv.BV{}, serr.MalformedInstruction("ExtractElement index out of range")
	}
	return e.ConstToBV(moduleName, c.VectorConst.Elements[idx])
}

func (e *Evaluator) insertElement(moduleName string, c *ir.Constant) (bv.BV, error) {
	if c.IndexConst.Kind != ir.ConstInt {
		return bv.BV{}, serr.MalformedInstruction("InsertElement index must be a constant int")
	}
	if c.VectorConst.Kind != ir.ConstVector {
		return bv.BV{}, serr.MalformedInstruction("InsertElement.vector must be a Constant vector")
	}
	idx := c.IndexConst.IntValue
	if idx >= uint64(len(c.VectorConst.Elements)) {
		return bv.BV{}, serr.MalformedInstruction("InsertElement index out of range")
	}
	elements := append([]*ir.Constant(nil), c.VectorConst.Elements...)
	elements[idx] = c.ElementConst
	return e.ConstToBV(moduleName, &ir.Constant{Kind: ir.ConstVector, Elements: elements})
}

// simplifyConstEV walks a Constant::ExtractValue-style index list through
// nested structs to find the final referenced constant.
func simplifyConstEV(s *ir.Constant, indices []uint32) (*ir.Constant, error) {
	if len(indices) == 0 {
		return s, nil
	}
	if s.Kind != ir.ConstStruct {
		return nil, serr.MalformedInstruction("ExtractValue: not a struct constant")
	}
	idx := indices[0]
	if int(idx) >= len(s.Elements) {
		return nil, serr.MalformedInstruction("ExtractValue index out of range")
	}
	return simplifyConstEV(s.Elements[idx], indices[1:])
}

// simplifyConstIV walks a Constant::InsertValue-style index list through
// nested structs, returning a new struct constant with val inserted.
func simplifyConstIV(s, val *ir.Constant, indices []uint32) (*ir.Constant, error) {
	if len(indices) == 0 {
		return val, nil
	}
	if s.Kind != ir.ConstStruct {
		return nil, serr.MalformedInstruction("InsertValue: not a struct constant")
	}
	idx := indices[0]
	if int(idx) >= len(s.Elements) {
		return nil, serr.MalformedInstruction("InsertValue index out of range")
	}
	elements := append([]*ir.Constant(nil), s.Elements...)
	replaced, err := simplifyConstIV(elements[idx], val, indices[1:])
	if err != nil {
		return nil, err
	}
	elements[idx] = replaced
	return &ir.Constant{Kind: ir.ConstStruct, Elements: elements}, nil
}

func (e *Evaluator) getElementPtr(moduleName string, c *ir.Constant) (bv.BV, error) {
	base, err := e.ConstToBV(moduleName, c.GEPAddress)
	if err != nil {
		return bv.BV{}, err
	}
	offset, err := e.offsetRecursive(moduleName, c.GEPIndices, 0, c.GEPBaseType, base.Width())
	if err != nil {
		return bv.BV{}, err
	}
	return base.Add(offset), nil
}

// offsetRecursive computes the byte offset (as a resultBits-wide BV) that
// walking indices[idx:] through baseType represents, mirroring
// State.get_offset_recursive.
func (e *Evaluator) offsetRecursive(moduleName string, indices []*ir.Constant, idx int, baseType *ir.Type, resultBits uint32) (bv.BV, error) {
	if idx >= len(indices) {
		return bv.Zero(resultBits), nil
	}
	index := indices[idx]
	switch baseType.Kind {
	case ir.KindPointer, ir.KindArray, ir.KindVector:
		indexBV, err := e.ConstToBV(moduleName, index)
		if err != nil {
			return bv.BV{}, err
		}
		indexBV = indexBV.ZeroExt(resultBits)
		elemBytes := uint64((baseType.ElemType.SizeBits() + 7) / 8)
		offset := indexBV.Mul(bv.FromUint64(elemBytes, resultBits))
		rest, err := e.offsetRecursive(moduleName, indices, idx+1, baseType.ElemType, resultBits)
		if err != nil {
			return bv.BV{}, err
		}
		return rest.Add(offset), nil

	case ir.KindStruct, ir.KindNamedStruct:
		structTy := baseType
		if baseType.Kind == ir.KindNamedStruct {
			if baseType.Resolved == nil {
				return bv.BV{}, serr.MalformedInstruction("get_offset on an opaque struct type")
			}
			structTy = baseType.Resolved
		}
		if index.Kind != ir.ConstInt {
			return bv.BV{}, serr.MalformedInstruction("expected index into struct type to be a constant int")
		}
		fieldIdx := int(index.IntValue)
		if fieldIdx >= len(structTy.FieldTypes) {
			return bv.BV{}, serr.MalformedInstruction("struct field index out of range")
		}
		var offsetBytes uint64
		for _, f := range structTy.FieldTypes[:fieldIdx] {
			offsetBytes += uint64((f.SizeBits() + 7) / 8)
		}
		nested := structTy.FieldTypes[fieldIdx]
		rest, err := e.offsetRecursive(moduleName, indices, idx+1, nested, resultBits)
		if err != nil {
			return bv.BV{}, err
		}
		return rest.Add(bv.FromUint64(offsetBytes, resultBits)), nil

	default:
		return bv.BV{}, serr.MalformedInstruction("get_offset_recursive: unsupported base type kind %v", baseType.Kind)
	}
}

func (e *Evaluator) icmp(moduleName string, c *ir.Constant) (bv.BV, error) {
	a, err := e.ConstToBV(moduleName, c.Operand0)
	if err != nil {
		return bv.BV{}, err
	}
	b, err := e.ConstToBV(moduleName, c.Operand1)
	if err != nil {
		return bv.BV{}, err
	}
	switch c.Predicate {
	case ir.ICmpEQ:
		return a.Eq(b), nil
	case ir.ICmpNE:
		return a.Ne(b), nil
	case ir.ICmpUGT:
		return a.Ugt(b), nil
	case ir.ICmpUGE:
		return a.Uge(b), nil
	case ir.ICmpULT:
		return a.Ult(b), nil
	case ir.ICmpULE:
		return a.Ule(b), nil
	case ir.ICmpSGT:
		return a.Sgt(b), nil
	case ir.ICmpSGE:
		return a.Sge(b), nil
	case ir.ICmpSLT:
		return a.Slt(b), nil
	case ir.ICmpSLE:
		return a.Sle(b), nil
	default:
		return bv.BV{}, serr.OtherError("consteval: unknown icmp predicate %v", c.Predicate)
	}
}

func (e *Evaluator) selectConst(moduleName string, c *ir.Constant) (bv.BV, error) {
	condBV, err := e.ConstToBV(moduleName, c.Condition)
	if err != nil {
		return bv.BV{}, err
	}
	cond, ok := condBV.AsBool()
	if !ok {
		return bv.BV{}, serr.MalformedInstruction("Constant::Select: expected a constant condition")
	}
	if cond {
		return e.ConstToBV(moduleName, c.TrueValue)
	}
	return e.ConstToBV(moduleName, c.FalseValue)
}
