// Package bv implements the symbolic bitvector (BV) term representation used
// throughout the symbolic execution core: an opaque, fixed-width handle to
// an SMT term, as described in spec §3.
//
// Terms are immutable expression trees. Constructors fold constant subtrees
// eagerly, so a BV built entirely from concrete operands collapses to a
// concrete value automatically -- this is what makes ConcreteValue() (the
// spec's required fast path) a cheap check rather than a solver query, and
// what lets Memory's within-cell arithmetic stay exact for fully concrete
// reads/writes without ever touching a solver.
package bv

import (
	"fmt"
	"math/big"
	"sync/atomic"
)

// BV is a fixed-width symbolic bitvector term.
type BV struct {
	e *expr
}

var nextVarID uint64

// NewVar creates a fresh, globally-unique symbolic bitvector of the given
// width. hint is a human-readable label used only for printing/debugging;
// it does not affect identity.
func NewVar(hint string, width uint32) BV {
	id := atomic.AddUint64(&nextVarID, 1)
	return BV{e: &expr{kind: kindVar, width: width, name: hint, id: id}}
}

// FromUint64 builds a constant BV of the given width from an unsigned value.
func FromUint64(val uint64, width uint32) BV {
	return BV{e: constExpr(new(big.Int).SetUint64(val), width)}
}

// FromInt64 builds a constant BV of the given width from a signed value,
// wrapped into two's complement.
func FromInt64(val int64, width uint32) BV {
	return BV{e: constExpr(big.NewInt(val), width)}
}

// FromBool builds a width-1 BV: 1 for true, 0 for false.
func FromBool(b bool) BV {
	if b {
		return FromUint64(1, 1)
	}
	return FromUint64(0, 1)
}

// FromBigInt builds a constant BV of the given width from an arbitrary
// precision value (used for wide aggregates and GEP offsets).
func FromBigInt(val *big.Int, width uint32) BV {
	return BV{e: constExpr(val, width)}
}

// Zero returns the constant 0 of the given width.
func Zero(width uint32) BV { return FromUint64(0, width) }

// One returns the constant 1 of the given width.
func One(width uint32) BV { return FromUint64(1, width) }

// Ones returns the constant with every bit set, of the given width.
func Ones(width uint32) BV {
	return BV{e: constExpr(mask(width), width)}
}

// Width returns the bit width of the term.
func (v BV) Width() uint32 { return v.e.width }

// ConcreteValue returns the term's value as an unsigned integer if the term
// is trivially constant (after constant folding), and true. Otherwise
// returns (0, false). This never consults a solver.
func (v BV) ConcreteValue() (uint64, bool) {
	if !v.e.isConst() {
		return 0, false
	}
	if !v.e.val.IsUint64() {
		return 0, false
	}
	return v.e.val.Uint64(), true
}

// ConcreteBigInt is like ConcreteValue but returns the full-precision value,
// for widths over 64 bits (e.g. aggregates).
func (v BV) ConcreteBigInt() (*big.Int, bool) {
	if !v.e.isConst() {
		return nil, false
	}
	return new(big.Int).Set(v.e.val), true
}

// IsConcrete reports whether the term folds to a constant.
func (v BV) IsConcrete() bool { return v.e.isConst() }

func (v BV) String() string {
	if val, ok := v.ConcreteValue(); ok {
		return fmt.Sprintf("0x%x:%d", val, v.Width())
	}
	if v.e.kind == kindVar {
		return fmt.Sprintf("%s:%d", v.e.name, v.Width())
	}
	return fmt.Sprintf("<sym:%d>", v.Width())
}

func requireSameWidth(a, b BV) {
	if a.Width() != b.Width() {
		panic(fmt.Sprintf("bv: width mismatch %d vs %d", a.Width(), b.Width()))
	}
}

// Add returns a + b (wrapping), widths must match.
func (v BV) Add(o BV) BV { requireSameWidth(v, o); return BV{newArith(opAdd, v.e, o.e)} }

// Sub returns a - b (wrapping).
func (v BV) Sub(o BV) BV { requireSameWidth(v, o); return BV{newArith(opSub, v.e, o.e)} }

// Mul returns a * b (wrapping).
func (v BV) Mul(o BV) BV { requireSameWidth(v, o); return BV{newArith(opMul, v.e, o.e)} }

// UDiv returns unsigned a / b (division by zero yields all-ones, matching
// common SMT bitvector-theory convention).
func (v BV) UDiv(o BV) BV { requireSameWidth(v, o); return BV{newArith(opUDiv, v.e, o.e)} }

// SDiv returns signed a / b.
func (v BV) SDiv(o BV) BV { requireSameWidth(v, o); return BV{newArith(opSDiv, v.e, o.e)} }

// URem returns unsigned a % b.
func (v BV) URem(o BV) BV { requireSameWidth(v, o); return BV{newArith(opURem, v.e, o.e)} }

// SRem returns signed a % b.
func (v BV) SRem(o BV) BV { requireSameWidth(v, o); return BV{newArith(opSRem, v.e, o.e)} }

// And returns the bitwise AND of a and b.
func (v BV) And(o BV) BV { requireSameWidth(v, o); return BV{newArith(opAnd, v.e, o.e)} }

// Or returns the bitwise OR of a and b.
func (v BV) Or(o BV) BV { requireSameWidth(v, o); return BV{newArith(opOr, v.e, o.e)} }

// Xor returns the bitwise XOR of a and b.
func (v BV) Xor(o BV) BV { requireSameWidth(v, o); return BV{newArith(opXor, v.e, o.e)} }

// Not returns the bitwise complement of v.
func (v BV) Not() BV { return BV{newNot(v.e)} }

// Neg returns the two's-complement negation of v.
func (v BV) Neg() BV { return BV{newNeg(v.e)} }

// Shl returns v shifted left by the (unsigned) amount in o, same width.
func (v BV) Shl(o BV) BV { requireSameWidth(v, o); return BV{newArith(opShl, v.e, o.e)} }

// Lshr returns v shifted right logically by the amount in o.
func (v BV) Lshr(o BV) BV { requireSameWidth(v, o); return BV{newArith(opLShr, v.e, o.e)} }

// Ashr returns v shifted right arithmetically (sign-extending) by o.
func (v BV) Ashr(o BV) BV { requireSameWidth(v, o); return BV{newArith(opAShr, v.e, o.e)} }

// Concat concatenates v (low bits) with hi (high bits), producing a term of
// width v.Width()+hi.Width().
func (v BV) Concat(hi BV) BV { return BV{newConcat(v.e, hi.e)} }

// Extract returns bits [hiBit:loBit] (inclusive) of v.
func (v BV) Extract(hiBit, loBit uint32) BV {
	if hiBit >= v.Width() || loBit > hiBit {
		panic(fmt.Sprintf("bv: extract [%d:%d] out of range for width %d", hiBit, loBit, v.Width()))
	}
	return BV{newExtract(v.e, hiBit, loBit)}
}

// ZeroExt zero-extends v to the given (larger or equal) width.
func (v BV) ZeroExt(width uint32) BV {
	if width < v.Width() {
		panic("bv: ZeroExt to a smaller width")
	}
	return BV{newZeroExt(v.e, width)}
}

// SignExt sign-extends v to the given (larger or equal) width.
func (v BV) SignExt(width uint32) BV {
	if width < v.Width() {
		panic("bv: SignExt to a smaller width")
	}
	return BV{newSignExt(v.e, width)}
}

// Eq returns a width-1 BV: 1 if v == o.
func (v BV) Eq(o BV) BV { requireSameWidth(v, o); return BV{newCmp(opEq, v.e, o.e)} }

// Ne returns a width-1 BV: 1 if v != o.
func (v BV) Ne(o BV) BV { requireSameWidth(v, o); return BV{newCmp(opNe, v.e, o.e)} }

// Ult returns a width-1 BV: 1 if v < o, unsigned.
func (v BV) Ult(o BV) BV { requireSameWidth(v, o); return BV{newCmp(opUlt, v.e, o.e)} }

// Ule returns a width-1 BV: 1 if v <= o, unsigned.
func (v BV) Ule(o BV) BV { requireSameWidth(v, o); return BV{newCmp(opUle, v.e, o.e)} }

// Ugt returns a width-1 BV: 1 if v > o, unsigned.
func (v BV) Ugt(o BV) BV { requireSameWidth(v, o); return BV{newCmp(opUgt, v.e, o.e)} }

// Uge returns a width-1 BV: 1 if v >= o, unsigned.
func (v BV) Uge(o BV) BV { requireSameWidth(v, o); return BV{newCmp(opUge, v.e, o.e)} }

// Slt returns a width-1 BV: 1 if v < o, signed.
func (v BV) Slt(o BV) BV { requireSameWidth(v, o); return BV{newCmp(opSlt, v.e, o.e)} }

// Sle returns a width-1 BV: 1 if v <= o, signed.
func (v BV) Sle(o BV) BV { requireSameWidth(v, o); return BV{newCmp(opSle, v.e, o.e)} }

// Sgt returns a width-1 BV: 1 if v > o, signed.
func (v BV) Sgt(o BV) BV { requireSameWidth(v, o); return BV{newCmp(opSgt, v.e, o.e)} }

// Sge returns a width-1 BV: 1 if v >= o, signed.
func (v BV) Sge(o BV) BV { requireSameWidth(v, o); return BV{newCmp(opSge, v.e, o.e)} }

// Ite returns then if cond (a width-1 BV) is nonzero, else els. then and els
// must have the same width.
func Ite(cond, then, els BV) BV {
	if cond.Width() != 1 {
		panic("bv: Ite condition must be width 1")
	}
	requireSameWidth(then, els)
	return BV{newIte(cond.e, then.e, els.e)}
}

// AsBool reports whether v is a concrete width-1 boolean, returning its
// value and true; otherwise returns (false, false).
func (v BV) AsBool() (bool, bool) {
	if v.Width() != 1 {
		return false, false
	}
	val, ok := v.ConcreteValue()
	if !ok {
		return false, false
	}
	return val != 0, true
}

// Eval concretely evaluates v given a total assignment of every free
// variable it transitively references (by variable id). Used by the
// reference solver to verify candidate models; not part of the spec's
// public surface.
func Eval(v BV, assign map[uint64]*big.Int) *big.Int {
	return eval(v.e, assign)
}

// FreeVars returns every distinct free variable v transitively references.
func FreeVars(v BV) []BV {
	out := make(map[uint64]*expr)
	walkVars(v.e, out)
	vars := make([]BV, 0, len(out))
	for _, e := range out {
		vars = append(vars, BV{e})
	}
	return vars
}

// VarID returns (id, true) if v is itself a single free variable node (not
// a compound expression), else (0, false).
func VarID(v BV) (uint64, bool) {
	if v.e.kind == kindVar {
		return v.e.id, true
	}
	return 0, false
}
