// Package varmap implements the per-function, per-name versioned variable
// table State uses to bind IR names to symbolic values: every assignment to
// a name pushes a new version rather than overwriting in place, so a
// function's bindings as of a particular call site can be captured and
// later restored wholesale when that call returns.
package varmap

import (
	"github.com/oisee/symexec/pkg/bv"
	"github.com/oisee/symexec/pkg/serr"
)

type key struct {
	funcName string
	name     string
}

// VarMap is the versioned name-to-value table.
type VarMap struct {
	maxVersions int // 0 means unbounded
	vars        map[key][]bv.BV
}

// New constructs an empty VarMap. maxVersions bounds how many versions a
// single (function, name) pair may accumulate before NewNamed/Assign report
// LoopBoundExceeded; pass 0 for no bound.
func New(maxVersions int) *VarMap {
	return &VarMap{maxVersions: maxVersions, vars: make(map[key][]bv.BV)}
}

func (vm *VarMap) boundExceeded(k key) bool {
	return vm.maxVersions > 0 && len(vm.vars[k]) >= vm.maxVersions
}

// NewNamed creates a fresh, unconstrained symbolic value of the given
// width, binds it as the newest version of name within funcName, and
// returns it. Used for function parameters and other names that need a
// placeholder value before anything has been assigned to them.
func (vm *VarMap) NewNamed(funcName, name string, width uint32) (bv.BV, error) {
	k := key{funcName, name}
	if vm.boundExceeded(k) {
		return bv.BV{}, serr.LoopBoundExceeded("variable %q in function %q would exceed %d versions", name, funcName, vm.maxVersions)
	}
	fresh := bv.NewVar(name, width)
	vm.vars[k] = append(vm.vars[k], fresh)
	return fresh, nil
}

// Assign binds val as the newest version of name within funcName.
func (vm *VarMap) Assign(funcName, name string, val bv.BV) error {
	k := key{funcName, name}
	if vm.boundExceeded(k) {
		return serr.LoopBoundExceeded("variable %q in function %q would exceed %d versions", name, funcName, vm.maxVersions)
	}
	vm.vars[k] = append(vm.vars[k], val)
	return nil
}

// Lookup returns the newest version bound to name within funcName, and
// whether any version exists at all.
func (vm *VarMap) Lookup(funcName, name string) (bv.BV, bool) {
	versions := vm.vars[key{funcName, name}]
	if len(versions) == 0 {
		return bv.BV{}, false
	}
	return versions[len(versions)-1], true
}

// OverwriteTop replaces the newest version of name within funcName in
// place, without counting as a new version (and so without being subject
// to the loop bound). If no version exists yet, this creates the first one.
func (vm *VarMap) OverwriteTop(funcName, name string, val bv.BV) {
	k := key{funcName, name}
	versions := vm.vars[k]
	if len(versions) == 0 {
		vm.vars[k] = []bv.BV{val}
		return
	}
	versions[len(versions)-1] = val
}

// RestoreInfo captures, for every name currently bound within a function,
// how many versions existed at the moment it was taken. Restore truncates
// back to exactly this state, including removing names that did not exist
// yet when the snapshot was taken.
type RestoreInfo struct {
	funcName string
	counts   map[string]int
}

// GetRestoreInfoForFn snapshots the current version count of every name
// bound within funcName, for later use with Restore.
func (vm *VarMap) GetRestoreInfoForFn(funcName string) RestoreInfo {
	counts := make(map[string]int)
	for k, versions := range vm.vars {
		if k.funcName == funcName {
			counts[k.name] = len(versions)
		}
	}
	return RestoreInfo{funcName: funcName, counts: counts}
}

// Restore truncates every name bound within info's function back to the
// version count recorded in info, and removes any name that had no
// versions at snapshot time (i.e. was bound entirely after the snapshot).
func (vm *VarMap) Restore(info RestoreInfo) {
	for k, versions := range vm.vars {
		if k.funcName != info.funcName {
			continue
		}
		count, existed := info.counts[k.name]
		if !existed {
			delete(vm.vars, k)
			continue
		}
		if count < len(versions) {
			vm.vars[k] = versions[:count]
		}
	}
}

// BoundNames returns every name currently bound within funcName, for
// diagnostics that need to enumerate "every variable in scope" (e.g.
// State.CurrentAssignmentsAsPrettyString).
func (vm *VarMap) BoundNames(funcName string) []string {
	var names []string
	for k, versions := range vm.vars {
		if k.funcName == funcName && len(versions) > 0 {
			names = append(names, k.name)
		}
	}
	return names
}

// Clone returns an independent VarMap with the same bindings, for
// State.Fork.
func (vm *VarMap) Clone() *VarMap {
	clone := &VarMap{maxVersions: vm.maxVersions, vars: make(map[key][]bv.BV, len(vm.vars))}
	for k, v := range vm.vars {
		clone.vars[k] = append([]bv.BV(nil), v...)
	}
	return clone
}
