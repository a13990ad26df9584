// Package solver defines the seam between the symbolic execution core and
// an SMT constraint solver: incremental push/pop, satisfiability checks
// under extra assumptions, and model generation over bitvector terms.
//
// The core never talks to a concrete SMT backend directly -- it holds a
// Solver and calls through this interface, matching the shared-solver-handle
// design spec'd for State. See pkg/solver/refsolver for the bundled
// reference implementation.
package solver

import "github.com/oisee/symexec/pkg/bv"

// PossibleSolutions is the result of a bounded enumeration query: either
// the exact set of satisfying values (when enumeration exhausted the
// search before reaching the bound) or a lower bound on how many exist.
type PossibleSolutions struct {
	// Exactly holds every satisfying value, when the search space was
	// fully enumerated within the configured bound.
	Exactly []uint64
	// AtLeastN is set instead of Exactly when enumeration hit the bound
	// before exhausting the space: the true count is at least AtLeastN.
	AtLeastN int
	Bounded  bool
}

// Solver is the constraint-solving seam the symbolic execution core
// depends on. Implementations must support incremental assumption scopes
// (Push/Pop) so State can checkpoint and backtrack without losing prior
// constraints.
type Solver interface {
	// Assert permanently adds a width-1 constraint term (nonzero means
	// true) to the current scope.
	Assert(constraint bv.BV)

	// Push opens a new incremental scope; constraints asserted after Push
	// are discarded by the matching Pop.
	Push()

	// Pop discards every constraint asserted since the matching Push.
	// Popping past the outermost scope is a programming error and panics.
	Pop()

	// ScopeDepth reports how many Push calls are currently unmatched by a
	// Pop, for consistency checks against State's own backtracking stack.
	ScopeDepth() int

	// Sat reports whether the asserted constraints, plus any of the given
	// extra assumptions, are jointly satisfiable. Assumptions do not
	// persist past this call.
	Sat(assumptions ...bv.BV) (bool, error)

	// GetSolution returns one satisfying value for term, consistent with
	// the asserted constraints and any extra assumptions. Returns an
	// error of kind Unsat if no such assignment exists.
	GetSolution(term bv.BV, assumptions ...bv.BV) (uint64, error)

	// MustBeEqual reports whether a == b holds under every satisfying
	// assignment of the current constraints (i.e. a != b is unsat).
	MustBeEqual(a, b bv.BV) (bool, error)

	// CanBeEqual reports whether some satisfying assignment has a == b.
	CanBeEqual(a, b bv.BV) (bool, error)

	// MinPossibleSolution returns the smallest value term can take,
	// unsigned if signed is false, under the current constraints.
	MinPossibleSolution(term bv.BV, signed bool) (uint64, error)

	// MaxPossibleSolution returns the largest value term can take.
	MaxPossibleSolution(term bv.BV, signed bool) (uint64, error)

	// PossibleSolutions enumerates up to bound distinct satisfying values
	// for term.
	PossibleSolutions(term bv.BV, bound int) (PossibleSolutions, error)

	// AssignmentsPretty renders the current model (if any) for every
	// variable reachable from roots, for diagnostics. Returns "" if the
	// solver has no current model (model generation disabled or unsat).
	AssignmentsPretty(roots []bv.BV) string

	// Clone returns an independent solver carrying the same asserted
	// constraints and scope stack, for State.Fork.
	Clone() Solver
}
