package bv

import "math/big"

// kind tags the shape of an expression node. BV terms are immutable trees;
// constructors fold constant subtrees eagerly so that ConcreteValue() is a
// cheap check of the root node rather than a walk.
type kind uint8

const (
	kindConst kind = iota
	kindVar
	kindConcat
	kindExtract
	kindZeroExt
	kindSignExt
	kindNot
	kindNeg
	kindBinArith
	kindCmp
	kindIte
)

type arithOp uint8

const (
	opAdd arithOp = iota
	opSub
	opMul
	opUDiv
	opSDiv
	opURem
	opSRem
	opAnd
	opOr
	opXor
	opShl
	opLShr
	opAShr
)

type cmpOp uint8

const (
	opEq cmpOp = iota
	opNe
	opUlt
	opUle
	opUgt
	opUge
	opSlt
	opSle
	opSgt
	opSge
)

// expr is the shared, immutable representation behind a BV. Subtrees are
// reference-shared (append-only), matching the spec's note that memory
// snapshots are cheap because terms are shared through the solver.
type expr struct {
	kind  kind
	width uint32

	// kindConst
	val *big.Int

	// kindVar
	name string
	id   uint64

	// kindConcat: lo is the low-order (less significant) operand, hi the
	// high-order one, matching the little-endian composition used by Memory.
	lo, hi *expr

	// kindExtract
	inner      *expr
	hibit, lob uint32

	// kindZeroExt/kindSignExt: inner + width (above) is the new width
	// kindNot/kindNeg: inner only

	// kindBinArith / kindCmp
	a, b    *expr
	arith   arithOp
	cmp     cmpOp
}

func mask(width uint32) *big.Int {
	m := new(big.Int).Lsh(big.NewInt(1), uint(width))
	m.Sub(m, big.NewInt(1))
	return m
}

func normalize(v *big.Int, width uint32) *big.Int {
	r := new(big.Int).And(v, mask(width))
	return r
}

func constExpr(v *big.Int, width uint32) *expr {
	return &expr{kind: kindConst, width: width, val: normalize(v, width)}
}

// isConst reports whether e folds to a concrete value.
func (e *expr) isConst() bool {
	return e.kind == kindConst
}

// asSigned interprets a normalized unsigned value of the given width as a
// two's-complement signed integer.
func asSigned(v *big.Int, width uint32) *big.Int {
	signBit := new(big.Int).Lsh(big.NewInt(1), uint(width-1))
	if v.Cmp(signBit) < 0 {
		return new(big.Int).Set(v)
	}
	full := new(big.Int).Lsh(big.NewInt(1), uint(width))
	return new(big.Int).Sub(v, full)
}

func newConcat(lo, hi *expr) *expr {
	w := lo.width + hi.width
	if lo.isConst() && hi.isConst() {
		v := new(big.Int).Lsh(hi.val, uint(lo.width))
		v.Or(v, lo.val)
		return constExpr(v, w)
	}
	return &expr{kind: kindConcat, width: w, lo: lo, hi: hi}
}

func newExtract(inner *expr, hiBit, loBit uint32) *expr {
	w := hiBit - loBit + 1
	if inner.isConst() {
		v := new(big.Int).Rsh(inner.val, uint(loBit))
		return constExpr(v, w)
	}
	if loBit == 0 && hiBit == inner.width-1 {
		return inner
	}
	return &expr{kind: kindExtract, width: w, inner: inner, hibit: hiBit, lob: loBit}
}

func newZeroExt(inner *expr, width uint32) *expr {
	if width == inner.width {
		return inner
	}
	if inner.isConst() {
		return constExpr(new(big.Int).Set(inner.val), width)
	}
	return &expr{kind: kindZeroExt, width: width, inner: inner}
}

func newSignExt(inner *expr, width uint32) *expr {
	if width == inner.width {
		return inner
	}
	if inner.isConst() {
		sv := asSigned(inner.val, inner.width)
		return constExpr(sv, width)
	}
	return &expr{kind: kindSignExt, width: width, inner: inner}
}

func newNot(inner *expr) *expr {
	if inner.isConst() {
		v := new(big.Int).Xor(inner.val, mask(inner.width))
		return constExpr(v, inner.width)
	}
	return &expr{kind: kindNot, width: inner.width, inner: inner}
}

func newNeg(inner *expr) *expr {
	if inner.isConst() {
		v := new(big.Int).Neg(inner.val)
		return constExpr(v, inner.width)
	}
	return &expr{kind: kindNeg, width: inner.width, inner: inner}
}

func newArith(op arithOp, a, b *expr) *expr {
	w := a.width
	if a.isConst() && b.isConst() {
		return constExpr(evalArithConst(op, a.val, b.val, w), w)
	}
	return &expr{kind: kindBinArith, width: w, arith: op, a: a, b: b}
}

func newCmp(op cmpOp, a, b *expr) *expr {
	if a.isConst() && b.isConst() {
		if evalCmpConst(op, a.val, b.val, a.width) {
			return constExpr(big.NewInt(1), 1)
		}
		return constExpr(big.NewInt(0), 1)
	}
	return &expr{kind: kindCmp, width: 1, cmp: op, a: a, b: b}
}

func newIte(cond, then, els *expr) *expr {
	if cond.isConst() {
		if cond.val.Sign() != 0 {
			return then
		}
		return els
	}
	if then.isConst() && els.isConst() && then.val.Cmp(els.val) == 0 {
		return then
	}
	return &expr{kind: kindIte, width: then.width, a: then, b: els, inner: cond}
}

func evalArithConst(op arithOp, a, b *big.Int, width uint32) *big.Int {
	switch op {
	case opAdd:
		return new(big.Int).Add(a, b)
	case opSub:
		return new(big.Int).Sub(a, b)
	case opMul:
		return new(big.Int).Mul(a, b)
	case opUDiv:
		if b.Sign() == 0 {
			return mask(width)
		}
		return new(big.Int).Div(a, b)
	case opSDiv:
		if b.Sign() == 0 {
			return mask(width)
		}
		sa, sb := asSigned(a, width), asSigned(b, width)
		q := new(big.Int).Quo(sa, sb)
		return q
	case opURem:
		if b.Sign() == 0 {
			return new(big.Int).Set(a)
		}
		return new(big.Int).Mod(a, b)
	case opSRem:
		if b.Sign() == 0 {
			return new(big.Int).Set(a)
		}
		sa, sb := asSigned(a, width), asSigned(b, width)
		return new(big.Int).Rem(sa, sb)
	case opAnd:
		return new(big.Int).And(a, b)
	case opOr:
		return new(big.Int).Or(a, b)
	case opXor:
		return new(big.Int).Xor(a, b)
	case opShl:
		if b.Cmp(big.NewInt(int64(width))) >= 0 {
			return big.NewInt(0)
		}
		return new(big.Int).Lsh(a, uint(b.Uint64()))
	case opLShr:
		if b.Cmp(big.NewInt(int64(width))) >= 0 {
			return big.NewInt(0)
		}
		return new(big.Int).Rsh(a, uint(b.Uint64()))
	case opAShr:
		sa := asSigned(a, width)
		shiftAmt := b.Uint64()
		if shiftAmt >= uint64(width) {
			if sa.Sign() < 0 {
				shiftAmt = uint64(width) - 1
			} else {
				return big.NewInt(0)
			}
		}
		return new(big.Int).Rsh(sa, uint(shiftAmt))
	default:
		panic("bv: unknown arith op")
	}
}

func evalCmpConst(op cmpOp, a, b *big.Int, width uint32) bool {
	switch op {
	case opEq:
		return a.Cmp(b) == 0
	case opNe:
		return a.Cmp(b) != 0
	case opUlt:
		return a.Cmp(b) < 0
	case opUle:
		return a.Cmp(b) <= 0
	case opUgt:
		return a.Cmp(b) > 0
	case opUge:
		return a.Cmp(b) >= 0
	case opSlt:
		return asSigned(a, width).Cmp(asSigned(b, width)) < 0
	case opSle:
		return asSigned(a, width).Cmp(asSigned(b, width)) <= 0
	case opSgt:
		return asSigned(a, width).Cmp(asSigned(b, width)) > 0
	case opSge:
		return asSigned(a, width).Cmp(asSigned(b, width)) >= 0
	default:
		panic("bv: unknown cmp op")
	}
}

// eval concretely evaluates e given a total assignment for every free
// variable it references. Panics if a referenced variable is missing --
// callers (the solver) are responsible for supplying a total assignment.
func eval(e *expr, assign map[uint64]*big.Int) *big.Int {
	switch e.kind {
	case kindConst:
		return e.val
	case kindVar:
		v, ok := assign[e.id]
		if !ok {
			panic("bv: no assignment for free variable " + e.name)
		}
		return v
	case kindConcat:
		lo := eval(e.lo, assign)
		hi := eval(e.hi, assign)
		v := new(big.Int).Lsh(hi, uint(e.lo.width))
		v.Or(v, lo)
		return normalize(v, e.width)
	case kindExtract:
		v := eval(e.inner, assign)
		r := new(big.Int).Rsh(v, uint(e.lob))
		return normalize(r, e.width)
	case kindZeroExt:
		return normalize(eval(e.inner, assign), e.width)
	case kindSignExt:
		v := eval(e.inner, assign)
		sv := asSigned(v, e.inner.width)
		return normalize(sv, e.width)
	case kindNot:
		v := eval(e.inner, assign)
		return normalize(new(big.Int).Xor(v, mask(e.inner.width)), e.width)
	case kindNeg:
		v := eval(e.inner, assign)
		return normalize(new(big.Int).Neg(v), e.width)
	case kindBinArith:
		a := eval(e.a, assign)
		b := eval(e.b, assign)
		return normalize(evalArithConst(e.arith, a, b, e.width), e.width)
	case kindCmp:
		a := eval(e.a, assign)
		b := eval(e.b, assign)
		if evalCmpConst(e.cmp, a, b, e.a.width) {
			return big.NewInt(1)
		}
		return big.NewInt(0)
	case kindIte:
		cond := eval(e.inner, assign)
		if cond.Sign() != 0 {
			return eval(e.a, assign)
		}
		return eval(e.b, assign)
	default:
		panic("bv: unknown expr kind in eval")
	}
}

// walkVars appends every distinct free variable referenced transitively by e
// into out, keyed by variable id to avoid duplicates.
func walkVars(e *expr, out map[uint64]*expr) {
	switch e.kind {
	case kindConst:
		return
	case kindVar:
		out[e.id] = e
	case kindConcat:
		walkVars(e.lo, out)
		walkVars(e.hi, out)
	case kindExtract, kindZeroExt, kindSignExt, kindNot, kindNeg:
		walkVars(e.inner, out)
	case kindBinArith, kindCmp:
		walkVars(e.a, out)
		walkVars(e.b, out)
	case kindIte:
		walkVars(e.inner, out)
		walkVars(e.a, out)
		walkVars(e.b, out)
	}
}
