// Package refsolver implements the bundled reference backend for
// pkg/solver.Solver.
//
// No SMT solver binding is available to depend on here (the constraint
// solver is specified as an external collaborator the core is handed, not
// something this module ships); this package exists so the core has
// something concrete to run against and so its tests can exercise the
// Solver seam end to end. It is a bounded, randomized model search verified
// by concrete evaluation -- not a sound decision procedure. It is
// generalized from the same brute-force enumerate-then-verify technique
// used elsewhere in this codebase for checking candidate equivalence: try a
// batch of candidate total assignments (structured corners first, then
// random draws within each variable's declared width), and accept the
// first one under which every asserted constraint evaluates to nonzero.
package refsolver

import (
	"math/big"
	"math/rand"
	"sort"
	"strings"

	"github.com/oisee/symexec/pkg/bv"
	"github.com/oisee/symexec/pkg/serr"
	"github.com/oisee/symexec/pkg/solver"
)

const (
	defaultSearchAttempts     = 4096
	maxSupportedWidthForMinMax = 64
)

// Solver is the reference implementation of solver.Solver.
type Solver struct {
	frames    [][]bv.BV
	rng       *rand.Rand
	lastModel map[uint64]*big.Int
}

// New constructs an empty reference solver with a single base scope.
func New() *Solver {
	return &Solver{
		frames: [][]bv.BV{nil},
		rng:    rand.New(rand.NewSource(1)),
	}
}

var _ solver.Solver = (*Solver)(nil)

func (s *Solver) Assert(constraint bv.BV) {
	top := len(s.frames) - 1
	s.frames[top] = append(s.frames[top], constraint)
}

func (s *Solver) Push() {
	s.frames = append(s.frames, nil)
}

func (s *Solver) Pop() {
	if len(s.frames) <= 1 {
		panic("refsolver: Pop without matching Push")
	}
	s.frames = s.frames[:len(s.frames)-1]
}

func (s *Solver) ScopeDepth() int {
	return len(s.frames) - 1
}

func (s *Solver) allConstraints(extra ...bv.BV) []bv.BV {
	var all []bv.BV
	for _, frame := range s.frames {
		all = append(all, frame...)
	}
	all = append(all, extra...)
	return all
}

func collectVars(constraints []bv.BV) []bv.BV {
	seen := make(map[uint64]bv.BV)
	for _, c := range constraints {
		for _, v := range bv.FreeVars(c) {
			id, _ := bv.VarID(v)
			seen[id] = v
		}
	}
	out := make([]bv.BV, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	return out
}

func maxUnsigned(width uint32) *big.Int {
	m := new(big.Int).Lsh(big.NewInt(1), uint(width))
	return m.Sub(m, big.NewInt(1))
}

// satisfies reports whether every constraint evaluates to nonzero under assign.
func satisfies(constraints []bv.BV, assign map[uint64]*big.Int) bool {
	for _, c := range constraints {
		if bv.Eval(c, assign).Sign() == 0 {
			return false
		}
	}
	return true
}

// Sat searches for a total assignment to every free variable in the
// current constraints (plus assumptions) under which all of them evaluate
// to nonzero. On success the model is cached for GetSolution/
// AssignmentsPretty until the next Sat call; an unsatisfiable result
// clears it.
func (s *Solver) Sat(assumptions ...bv.BV) (bool, error) {
	constraints := s.allConstraints(assumptions...)
	if len(constraints) == 0 {
		s.lastModel = map[uint64]*big.Int{}
		return true, nil
	}
	vars := collectVars(constraints)
	if len(vars) == 0 {
		// All constraints are ground terms (no free variables): either all
		// fold true or the query is unconditionally unsat.
		ok := satisfies(constraints, nil)
		if ok {
			s.lastModel = map[uint64]*big.Int{}
		} else {
			s.lastModel = nil
		}
		return ok, nil
	}

	widths := make(map[uint64]uint32, len(vars))
	for _, v := range vars {
		id, _ := bv.VarID(v)
		widths[id] = v.Width()
	}

	corners := s.corners(vars)
	for _, assign := range corners {
		if satisfies(constraints, assign) {
			s.lastModel = assign
			return true, nil
		}
	}

	for attempt := 0; attempt < defaultSearchAttempts; attempt++ {
		assign := make(map[uint64]*big.Int, len(vars))
		for _, v := range vars {
			id, _ := bv.VarID(v)
			assign[id] = s.randomValue(widths[id])
		}
		if satisfies(constraints, assign) {
			s.lastModel = assign
			return true, nil
		}
	}
	s.lastModel = nil
	return false, nil
}

// corners builds a handful of structured candidate assignments (all-zero,
// all-ones, and per-variable values 1 and all-ones with everything else at
// zero) worth trying before resorting to random search.
func (s *Solver) corners(vars []bv.BV) []map[uint64]*big.Int {
	var out []map[uint64]*big.Int

	allZero := map[uint64]*big.Int{}
	allOnes := map[uint64]*big.Int{}
	for _, v := range vars {
		id, _ := bv.VarID(v)
		allZero[id] = big.NewInt(0)
		allOnes[id] = maxUnsigned(v.Width())
	}
	out = append(out, allZero, allOnes)

	for _, v := range vars {
		id, _ := bv.VarID(v)
		for _, val := range []*big.Int{big.NewInt(1), maxUnsigned(v.Width())} {
			assign := map[uint64]*big.Int{}
			for k := range allZero {
				assign[k] = big.NewInt(0)
			}
			assign[id] = val
			out = append(out, assign)
		}
	}
	return out
}

func (s *Solver) randomValue(width uint32) *big.Int {
	if width <= 63 {
		return new(big.Int).SetUint64(uint64(s.rng.Int63n(int64(uint64(1) << width))))
	}
	buf := make([]byte, (width+7)/8)
	s.rng.Read(buf)
	v := new(big.Int).SetBytes(buf)
	return v.And(v, maxUnsigned(width))
}

func (s *Solver) GetSolution(term bv.BV, assumptions ...bv.BV) (uint64, error) {
	ok, err := s.Sat(assumptions...)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, serr.ErrUnsat
	}
	val := bv.Eval(term, s.lastModel)
	return val.Uint64(), nil // truncates for widths > 64, a documented limitation
}

func (s *Solver) MustBeEqual(a, b bv.BV) (bool, error) {
	sat, err := s.Sat(a.Ne(b))
	if err != nil {
		return false, err
	}
	return !sat, nil
}

func (s *Solver) CanBeEqual(a, b bv.BV) (bool, error) {
	return s.Sat(a.Eq(b))
}

func (s *Solver) MinPossibleSolution(term bv.BV, signed bool) (uint64, error) {
	return s.extremum(term, signed, true)
}

func (s *Solver) MaxPossibleSolution(term bv.BV, signed bool) (uint64, error) {
	return s.extremum(term, signed, false)
}

// extremum performs a monotonic binary search for the min or max value term
// can take, by repeatedly asking whether term <= mid (or >= mid) is
// satisfiable under the current constraints.
func (s *Solver) extremum(term bv.BV, signed, wantMin bool) (uint64, error) {
	width := term.Width()
	if width > maxSupportedWidthForMinMax {
		return 0, serr.OtherError("refsolver: Min/MaxPossibleSolution unsupported for width %d (>%d)", width, maxSupportedWidthForMinMax)
	}

	baseSat, err := s.Sat()
	if err != nil {
		return 0, err
	}
	if !baseSat {
		return 0, serr.ErrUnsat
	}

	// The search runs over unsigned encodings; for a signed query, XOR with
	// the sign bit maps signed order onto unsigned order.
	var bias uint64
	if signed {
		bias = uint64(1) << (width - 1)
	}
	lo, hi := uint64(0), maxUnsigned(width).Uint64()

	feasible := func(bound uint64, le bool) (bool, error) {
		c := bv.FromUint64(bound^bias, width)
		var cmp bv.BV
		switch {
		case signed && le:
			cmp = term.Sle(c)
		case signed && !le:
			cmp = term.Sge(c)
		case !signed && le:
			cmp = term.Ule(c)
		default:
			cmp = term.Uge(c)
		}
		return s.Sat(cmp)
	}

	if wantMin {
		ok, err := feasible(hi, true)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, serr.ErrUnsat
		}
		for lo < hi {
			mid := lo + (hi-lo)/2
			ok, err := feasible(mid, true)
			if err != nil {
				return 0, err
			}
			if ok {
				hi = mid
			} else {
				lo = mid + 1
			}
		}
		return (lo ^ bias) & maxUnsigned(width).Uint64(), nil
	}

	ok, err := feasible(lo, false)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, serr.ErrUnsat
	}
	for lo < hi {
		mid := hi - (hi-lo)/2
		ok, err := feasible(mid, false)
		if err != nil {
			return 0, err
		}
		if ok {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return (hi ^ bias) & maxUnsigned(width).Uint64(), nil
}

// PossibleSolutions enumerates distinct satisfying values for term by
// repeatedly solving, recording the model's value, and excluding it before
// solving again -- the standard SMT blocking-clause enumeration loop.
func (s *Solver) PossibleSolutions(term bv.BV, bound int) (solver.PossibleSolutions, error) {
	s.Push()
	defer s.Pop()

	var values []uint64
	for len(values) < bound {
		ok, err := s.Sat()
		if err != nil {
			return solver.PossibleSolutions{}, err
		}
		if !ok {
			return solver.PossibleSolutions{Exactly: values, Bounded: false}, nil
		}
		val := bv.Eval(term, s.lastModel)
		u := val.Uint64()
		values = append(values, u)
		s.Assert(term.Ne(bv.FromBigInt(val, term.Width())))
	}
	// Bound reached without exhausting the space: report a lower bound.
	return solver.PossibleSolutions{AtLeastN: len(values), Bounded: true}, nil
}

func (s *Solver) AssignmentsPretty(roots []bv.BV) string {
	if s.lastModel == nil {
		return ""
	}
	vars := collectVars(roots)
	sort.Slice(vars, func(i, j int) bool {
		idI, _ := bv.VarID(vars[i])
		idJ, _ := bv.VarID(vars[j])
		return idI < idJ
	})
	var b strings.Builder
	for _, v := range vars {
		id, _ := bv.VarID(v)
		val, ok := s.lastModel[id]
		if !ok {
			continue
		}
		b.WriteString(v.String())
		b.WriteString(" = 0x")
		b.WriteString(val.Text(16))
		b.WriteString("\n")
	}
	return b.String()
}

func (s *Solver) Clone() solver.Solver {
	clone := &Solver{
		frames: make([][]bv.BV, len(s.frames)),
		rng:    rand.New(rand.NewSource(s.rng.Int63())),
	}
	for i, frame := range s.frames {
		clone.frames[i] = append([]bv.BV(nil), frame...)
	}
	if s.lastModel != nil {
		clone.lastModel = make(map[uint64]*big.Int, len(s.lastModel))
		for k, v := range s.lastModel {
			clone.lastModel[k] = new(big.Int).Set(v)
		}
	}
	return clone
}
