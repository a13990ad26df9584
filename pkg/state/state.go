// Package state composes the symbolic execution core: a solver, a
// versioned variable map, byte-addressable memory, a bump allocator, a
// global/function address table, watchpoints, and a constant evaluator,
// plus the call stack, backtrack stack, and path record an interpreter
// drives while walking IR instructions.
package state

import (
	"fmt"
	"strings"

	"github.com/oisee/symexec/pkg/alloc"
	"github.com/oisee/symexec/pkg/bv"
	"github.com/oisee/symexec/pkg/consteval"
	"github.com/oisee/symexec/pkg/globals"
	"github.com/oisee/symexec/pkg/ir"
	"github.com/oisee/symexec/pkg/memory"
	"github.com/oisee/symexec/pkg/serr"
	"github.com/oisee/symexec/pkg/solver"
	"github.com/oisee/symexec/pkg/symexeccfg"
	"github.com/oisee/symexec/pkg/symlog"
	"github.com/oisee/symexec/pkg/varmap"
	"github.com/oisee/symexec/pkg/watch"
)

// StackFrame records one level of the call stack: where the call happened,
// and how to restore the caller's variables on return.
type StackFrame struct {
	CallSite    ir.Location
	RestoreInfo varmap.RestoreInfo
}

// PathEntry is one recorded step of the execution path, built from the
// Location current when RecordPathEntry was called.
type PathEntry struct {
	Location ir.Location
}

// BacktrackPoint is a saved state plus the not-yet-asserted constraint
// representing the branch not taken.
type BacktrackPoint struct {
	target     ir.Location
	constraint bv.BV
	callStack  []StackFrame
	varmap     *varmap.VarMap
	mem        *memory.Memory
	pathLen    int
}

// State is the composite symbolic execution state: one per independently
// explored path.
type State struct {
	cfg symexeccfg.Config

	Solver  solver.Solver
	VarMap  *varmap.VarMap
	Mem     *memory.Memory
	Alloc   *alloc.Alloc
	Globals *globals.GlobalAllocations
	Watch   *watch.Watchpoints
	Eval    *consteval.Evaluator
	Log     *symlog.Logger

	modules []*ir.Module

	current   ir.Location
	callStack []StackFrame
	backtrack []BacktrackPoint
	path      []PathEntry
}

// globalsMemAdapter narrows *memory.Memory to consteval.MemoryWriter, the
// seam the Evaluator writes lazily-initialized globals through.
type globalsMemAdapter struct{ mem *memory.Memory }

func (a globalsMemAdapter) Write(addr, val bv.BV) error { return a.mem.Write(addr, val) }

// New constructs a State for modules, starting at start, backed by the
// given solver, performing the global/function/hook allocation pass
// described by GlobalAllocations before anything else runs.
func New(modules []*ir.Module, start ir.Location, s solver.Solver, cfg symexeccfg.Config) *State {
	cfg = cfg.WithDefaults()

	a := alloc.New()
	g := globals.New(a, modules, cfg.FunctionHooks)
	cfg.Log.Debugf("allocated globals and %d function hooks", len(cfg.FunctionHooks))

	var mem *memory.Memory
	if cfg.SymbolicInit {
		mem = memory.NewSymbolic()
	} else {
		mem = memory.New()
	}

	st := &State{
		cfg:     cfg,
		Solver:  s,
		VarMap:  varmap.New(cfg.LoopBound),
		Mem:     mem,
		Alloc:   a,
		Globals: g,
		Watch:   watch.NewFrom(cfg.InitialWatchpoints),
		Log:     cfg.Log,
		modules: modules,
		current: start,
	}
	st.Eval = consteval.New(g, globalsMemAdapter{mem})
	return st
}

// Fork deep-copies every component of s and requests an independent
// solver, so that constraints asserted in either the original or the
// returned State never affect the other.
func (s *State) Fork() *State {
	clonedAlloc := s.Alloc.Clone()
	backtrack := make([]BacktrackPoint, len(s.backtrack))
	for i, bp := range s.backtrack {
		bp.callStack = append([]StackFrame(nil), bp.callStack...)
		bp.varmap = bp.varmap.Clone()
		bp.mem = bp.mem.Clone()
		backtrack[i] = bp
	}
	clone := &State{
		cfg:       s.cfg,
		Solver:    s.Solver.Clone(),
		VarMap:    s.VarMap.Clone(),
		Mem:       s.Mem.Clone(),
		Alloc:     clonedAlloc,
		Globals:   s.Globals.Clone(clonedAlloc),
		Watch:     s.Watch.Clone(),
		Log:       s.Log,
		modules:   s.modules,
		current:   s.current,
		callStack: append([]StackFrame(nil), s.callStack...),
		backtrack: backtrack,
		path:      append([]PathEntry(nil), s.path...),
	}
	clone.Eval = consteval.New(clone.Globals, globalsMemAdapter{clone.Mem})
	return clone
}

// CurrentLocation returns the Location execution is currently at.
func (s *State) CurrentLocation() ir.Location { return s.current }

// SetCurrentLocation updates the Location execution is currently at.
func (s *State) SetCurrentLocation(loc ir.Location) { s.current = loc }

// ---- Solver queries -------------------------------------------------

// Sat reports whether the asserted constraints are satisfiable.
func (s *State) Sat() (bool, error) { return s.Solver.Sat() }

// SatWithExtraConstraints reports whether the asserted constraints plus
// extra are jointly satisfiable, without permanently asserting extra.
func (s *State) SatWithExtraConstraints(extra ...bv.BV) (bool, error) {
	return s.Solver.Sat(extra...)
}

// BVsMustBeEqual reports whether a == b under every satisfying assignment.
func (s *State) BVsMustBeEqual(a, b bv.BV) (bool, error) { return s.Solver.MustBeEqual(a, b) }

// BVsCanBeEqual reports whether some satisfying assignment has a == b.
func (s *State) BVsCanBeEqual(a, b bv.BV) (bool, error) { return s.Solver.CanBeEqual(a, b) }

// GetASolutionForBV returns one satisfying value for v.
func (s *State) GetASolutionForBV(v bv.BV) (uint64, error) { return s.Solver.GetSolution(v) }

// GetPossibleSolutionsForBV enumerates up to n+1 distinct satisfying
// values for v.
func (s *State) GetPossibleSolutionsForBV(v bv.BV, n int) (solver.PossibleSolutions, error) {
	return s.Solver.PossibleSolutions(v, n+1)
}

// MinPossibleSolutionForBV returns the smallest value v can take.
func (s *State) MinPossibleSolutionForBV(v bv.BV, signed bool) (uint64, error) {
	return s.Solver.MinPossibleSolution(v, signed)
}

// MaxPossibleSolutionForBV returns the largest value v can take.
func (s *State) MaxPossibleSolutionForBV(v bv.BV, signed bool) (uint64, error) {
	return s.Solver.MaxPossibleSolution(v, signed)
}

func (s *State) lookupOrError(funcName, name string) (bv.BV, error) {
	v, ok := s.VarMap.Lookup(funcName, name)
	if !ok {
		return bv.BV{}, serr.OtherError("no such variable %q in function %q", name, funcName)
	}
	return v, nil
}

// GetASolutionForIRName is GetASolutionForBV looked up by (function, name)
// in the VariableMap first.
func (s *State) GetASolutionForIRName(funcName, name string) (uint64, error) {
	v, err := s.lookupOrError(funcName, name)
	if err != nil {
		return 0, err
	}
	return s.GetASolutionForBV(v)
}

// GetPossibleSolutionsForIRName is GetPossibleSolutionsForBV looked up by
// (function, name) in the VariableMap first.
func (s *State) GetPossibleSolutionsForIRName(funcName, name string, n int) (solver.PossibleSolutions, error) {
	v, err := s.lookupOrError(funcName, name)
	if err != nil {
		return solver.PossibleSolutions{}, err
	}
	return s.GetPossibleSolutionsForBV(v, n)
}

// MinPossibleSolutionForIRName is MinPossibleSolutionForBV looked up by
// (function, name) in the VariableMap first.
func (s *State) MinPossibleSolutionForIRName(funcName, name string, signed bool) (uint64, error) {
	v, err := s.lookupOrError(funcName, name)
	if err != nil {
		return 0, err
	}
	return s.MinPossibleSolutionForBV(v, signed)
}

// MaxPossibleSolutionForIRName is MaxPossibleSolutionForBV looked up by
// (function, name) in the VariableMap first.
func (s *State) MaxPossibleSolutionForIRName(funcName, name string, signed bool) (uint64, error) {
	v, err := s.lookupOrError(funcName, name)
	if err != nil {
		return 0, err
	}
	return s.MaxPossibleSolutionForBV(v, signed)
}

// ---- BV construction --------------------------------------------------

// BVFromBool builds a width-1 BV.
func (s *State) BVFromBool(b bool) bv.BV { return bv.FromBool(b) }

// BVFromI32 builds a 32-bit BV from a signed value.
func (s *State) BVFromI32(v int32) bv.BV { return bv.FromInt64(int64(v), 32) }

// BVFromU32 builds a 32-bit BV from an unsigned value.
func (s *State) BVFromU32(v uint32) bv.BV { return bv.FromUint64(uint64(v), 32) }

// BVFromI64 builds a 64-bit BV from a signed value.
func (s *State) BVFromI64(v int64) bv.BV { return bv.FromInt64(v, 64) }

// BVFromU64 builds a 64-bit BV from an unsigned value.
func (s *State) BVFromU64(v uint64) bv.BV { return bv.FromUint64(v, 64) }

// Zero returns the constant 0 of the given width.
func (s *State) Zero(width uint32) bv.BV { return bv.Zero(width) }

// One returns the constant 1 of the given width.
func (s *State) One(width uint32) bv.BV { return bv.One(width) }

// Ones returns the all-ones constant of the given width.
func (s *State) Ones(width uint32) bv.BV { return bv.Ones(width) }

// ---- Name binding ------------------------------------------------------

// currentFunc returns the function name operations implicitly bind
// against: the function of the current Location.
func (s *State) currentFunc() string { return s.current.FuncName }

// NewBVWithName creates a fresh symbolic value of the given width and
// binds it as the newest version of name in the current function.
func (s *State) NewBVWithName(name string, bits uint32) (bv.BV, error) {
	return s.VarMap.NewNamed(s.currentFunc(), name, bits)
}

// AssignBVToName binds val as the newest version of name in the current
// function.
func (s *State) AssignBVToName(name string, val bv.BV) error {
	return s.VarMap.Assign(s.currentFunc(), name, val)
}

// OverwriteLatestVersionOfBV replaces the current top version of name in
// the current function without counting as a new version.
func (s *State) OverwriteLatestVersionOfBV(name string, val bv.BV) {
	s.VarMap.OverwriteTop(s.currentFunc(), name, val)
}

// RecordBVResult binds val as the result of an IR instruction named name
// with its declared result width declaredBits, verifying val's width
// matches before recording it.
func (s *State) RecordBVResult(name string, declaredBits uint32, val bv.BV) error {
	if val.Width() != declaredBits {
		return serr.OtherError("result %q has width %d, instruction declares %d", name, val.Width(), declaredBits)
	}
	return s.AssignBVToName(name, val)
}

// OperandToBV dispatches op to the VariableMap (for a local name) or the
// ConstantEvaluator (for a constant).
func (s *State) OperandToBV(moduleName string, op ir.Operand) (bv.BV, error) {
	if op.IsConstant() {
		return s.Eval.ConstToBV(moduleName, op.Const)
	}
	return s.lookupOrError(s.currentFunc(), op.LocalName)
}

// ---- Memory -------------------------------------------------------------

// Read consults watchpoints (triggers are returned alongside the value so
// the caller can log them) then delegates to Memory.
func (s *State) Read(addr bv.BV, bits uint32) (bv.BV, []watch.Trigger, error) {
	concreteAddr, known := addr.ConcreteValue()
	triggers := s.Watch.ProcessTriggers(concreteAddr, known, byteLen(bits), false)
	val, err := s.Mem.Read(addr, bits)
	if err != nil {
		return bv.BV{}, triggers, err
	}
	return val, triggers, nil
}

// Write consults watchpoints then delegates to Memory.
func (s *State) Write(addr bv.BV, val bv.BV) ([]watch.Trigger, error) {
	concreteAddr, known := addr.ConcreteValue()
	triggers := s.Watch.ProcessTriggers(concreteAddr, known, byteLen(val.Width()), true)
	if err := s.Mem.Write(addr, val); err != nil {
		return triggers, err
	}
	if len(triggers) > 0 {
		s.Log.Debugf("write at %s triggered %d watchpoint(s)", addr, len(triggers))
	}
	return triggers, nil
}

// byteLen returns the number of bytes bits occupies, rounded up.
func byteLen(bits uint32) uint64 {
	return uint64(bits+memory.BitsInByte-1) / uint64(memory.BitsInByte)
}

// Allocate reserves bits bits of fresh memory and returns its address.
func (s *State) Allocate(bits uint64) bv.BV {
	return bv.FromUint64(s.Alloc.Alloc(bits), 64)
}

// GetAllocationSize returns the bit size of the allocation at addr, if any.
func (s *State) GetAllocationSize(addr uint64) (uint64, bool) {
	return s.Alloc.GetAllocationSize(addr)
}

// ---- Pointers -----------------------------------------------------------

// GetPointerToFunction returns the reserved address of the named function
// within moduleName.
func (s *State) GetPointerToFunction(moduleName, name string) (bv.BV, error) {
	addr, ok := s.Globals.FunctionAddress(moduleName, name)
	if !ok {
		return bv.BV{}, serr.OtherError("no such function %q in module %q", name, moduleName)
	}
	return addr, nil
}

// GetPointerToFunctionHook returns the reserved address of the named hook.
func (s *State) GetPointerToFunctionHook(name string) (bv.BV, error) {
	addr, ok := s.Globals.HookAddress(name)
	if !ok {
		return bv.BV{}, serr.OtherError("no such function hook %q", name)
	}
	return addr, nil
}

// InterpretAsFunctionPtr resolves candidate to the function/hook names it
// may refer to, trying the fast concrete path first and otherwise
// enumerating up to n+1 possible solutions.
func (s *State) InterpretAsFunctionPtr(candidate bv.BV, n int) ([]string, error) {
	return s.Globals.InterpretAsFunctionPtr(s.Solver, candidate, n)
}

// ---- Control: backtracking and callsites --------------------------------

// SaveBacktrackingPoint issues a solver Push, snapshots the call stack,
// variable map, memory, and path length, and stores constraint to be
// asserted only if this point is later reverted to. The snapshot's current
// Location is target.
func (s *State) SaveBacktrackingPoint(target ir.Location, constraint bv.BV) {
	s.Solver.Push()
	s.backtrack = append(s.backtrack, BacktrackPoint{
		target:     target,
		constraint: constraint,
		callStack:  append([]StackFrame(nil), s.callStack...),
		varmap:     s.VarMap.Clone(),
		mem:        s.Mem.Clone(),
		pathLen:    len(s.path),
	})
	s.Log.Debugf("saved backtracking point targeting %s", locationString(target))
}

// RevertToBacktrackingPoint pops the most recent backtrack point (if any),
// restoring the call stack, variable map, memory, path length, and current
// Location, then asserts the deferred constraint. Returns false if there
// was no backtrack point to revert to.
func (s *State) RevertToBacktrackingPoint() bool {
	if len(s.backtrack) == 0 {
		return false
	}
	n := len(s.backtrack) - 1
	bp := s.backtrack[n]
	s.backtrack = s.backtrack[:n]

	s.Solver.Pop()
	s.callStack = bp.callStack
	s.VarMap = bp.varmap
	s.Mem = bp.mem
	s.path = s.path[:bp.pathLen]
	s.current = bp.target
	s.Eval = consteval.New(s.Globals, globalsMemAdapter{s.Mem})
	s.Solver.Assert(bp.constraint)
	s.Log.Debugf("reverted to backtracking point at %s", locationString(bp.target))
	return true
}

// CountBacktrackingPoints returns how many backtrack points are currently
// saved.
func (s *State) CountBacktrackingPoints() int { return len(s.backtrack) }

// PushCallsite records the current Location and a restore-info snapshot
// of funcName's variables (funcName is the calling function, normally the
// current one), so PopCallsite can restore the caller's variables when the
// call returns.
func (s *State) PushCallsite(funcName string) {
	s.callStack = append(s.callStack, StackFrame{
		CallSite:    s.current,
		RestoreInfo: s.VarMap.GetRestoreInfoForFn(funcName),
	})
}

// PopCallsite restores the variables captured by the matching PushCallsite
// and returns the original call-site Location, or false if the call stack
// is empty (a top-level return).
func (s *State) PopCallsite() (ir.Location, bool) {
	if len(s.callStack) == 0 {
		return ir.Location{}, false
	}
	n := len(s.callStack) - 1
	frame := s.callStack[n]
	s.callStack = s.callStack[:n]
	s.VarMap.Restore(frame.RestoreInfo)
	return frame.CallSite, true
}

// RecordPathEntry appends a PathEntry built from the current Location.
func (s *State) RecordPathEntry() {
	s.path = append(s.path, PathEntry{Location: s.current})
}

// GetPath returns the recorded path so far.
func (s *State) GetPath() []PathEntry {
	return append([]PathEntry(nil), s.path...)
}

// ---- Watchpoints ---------------------------------------------------------

// AddMemWatchpoint installs a watchpoint under name.
func (s *State) AddMemWatchpoint(name string, wp watch.Watchpoint) bool { return s.Watch.Add(name, wp) }

// RmMemWatchpoint removes the watchpoint named name.
func (s *State) RmMemWatchpoint(name string) bool { return s.Watch.Remove(name) }

// EnableWatchpoint enables the watchpoint named name.
func (s *State) EnableWatchpoint(name string) bool { return s.Watch.Enable(name) }

// DisableWatchpoint disables the watchpoint named name.
func (s *State) DisableWatchpoint(name string) bool { return s.Watch.Disable(name) }

// ---- Diagnostics ----------------------------------------------------------

// PrettyLLVMBacktrace renders the call stack, innermost frame first.
func (s *State) PrettyLLVMBacktrace() string {
	if len(s.callStack) == 0 {
		return fmt.Sprintf("  at %s\n", locationString(s.current))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "  at %s\n", locationString(s.current))
	for i := len(s.callStack) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "  called from %s\n", locationString(s.callStack[i].CallSite))
	}
	return b.String()
}

func locationString(loc ir.Location) string {
	return fmt.Sprintf("%s::%s:%s#%d", loc.ModuleName, loc.FuncName, loc.BlockName, loc.InstIndex)
}

// CurrentAssignmentsAsPrettyString renders the current model for every
// variable bound in the current function, for diagnostics.
func (s *State) CurrentAssignmentsAsPrettyString() string {
	var roots []bv.BV
	funcName := s.currentFunc()
	for _, name := range s.VarMap.BoundNames(funcName) {
		if v, ok := s.VarMap.Lookup(funcName, name); ok {
			roots = append(roots, v)
		}
	}
	return s.Solver.AssignmentsPretty(roots)
}
