// Package globals implements the global/function/hook address table State
// builds at construction: every module-level global variable, every
// function, and every configured allocation hook gets a unique 64-bit
// address, plus a reverse map from address back to function identity for
// interpreting function pointers.
package globals

import (
	"github.com/oisee/symexec/pkg/alloc"
	"github.com/oisee/symexec/pkg/bv"
	"github.com/oisee/symexec/pkg/ir"
	"github.com/oisee/symexec/pkg/serr"
	"github.com/oisee/symexec/pkg/solver"
)

type globalEntry struct {
	addr        bv.BV
	initializer *ir.Constant
	initialized bool
}

type funcEntry struct {
	moduleName string
	addr       bv.BV
}

type key struct {
	moduleName string
	name       string
}

// GlobalAllocations owns the address tables built by the global/function/
// hook allocation pass: every global, function, and hook gets a unique
// address before anything else runs, matching State::new's allocation
// order (globals, then functions, then hooks).
type GlobalAllocations struct {
	alloc *alloc.Alloc

	globalAddrs  map[key]*globalEntry
	globalAliases map[key]*ir.Constant
	functions    map[key]*funcEntry
	hooks        map[string]bv.BV

	// reverse maps a concrete function/hook address back to its identity,
	// for interpreting function pointers.
	reverse map[uint64]string
}

// New builds the address table for every global variable and function
// declared across modules, plus one address per name in hookNames, and
// records each module's aliases (aliases get no address of their own).
// The allocator passed in is the same one State's Memory-backing Allocator
// uses, so addresses never collide with heap allocations performed later.
func New(a *alloc.Alloc, modules []*ir.Module, hookNames []string) *GlobalAllocations {
	g := &GlobalAllocations{
		alloc:         a,
		globalAddrs:   make(map[key]*globalEntry),
		globalAliases: make(map[key]*ir.Constant),
		functions:     make(map[key]*funcEntry),
		hooks:         make(map[string]bv.BV),
		reverse:       make(map[uint64]string),
	}

	for _, m := range modules {
		for _, gv := range m.GlobalVariables {
			size := gv.Type.SizeBits()
			if size == 0 {
				size = 8 // a zero-sized type still needs an addressable, distinct cell
			}
			addr := bv.FromUint64(a.Alloc(uint64(size)), 64)
			g.globalAddrs[key{m.Name, gv.Name}] = &globalEntry{addr: addr, initializer: gv.Initializer}
		}
		for _, alias := range m.GlobalAliases {
			g.globalAliases[key{m.Name, alias.Name}] = alias.Aliasee
		}
	}
	for _, m := range modules {
		for _, fn := range m.Functions {
			addr := a.Alloc(64)
			g.functions[key{m.Name, fn.Name}] = &funcEntry{moduleName: m.Name, addr: bv.FromUint64(addr, 64)}
			g.reverse[addr] = fn.Name
		}
	}
	for _, name := range hookNames {
		addr := a.Alloc(64)
		g.hooks[name] = bv.FromUint64(addr, 64)
		g.reverse[addr] = name
	}
	return g
}

// GlobalAddress implements consteval.GlobalResolver: it returns either a
// global variable's reserved address or a function's reserved address (a
// GlobalReference in the IR may name either).
func (g *GlobalAllocations) GlobalAddress(moduleName, name string) (bv.BV, bool) {
	if e, ok := g.globalAddrs[key{moduleName, name}]; ok {
		return e.addr, true
	}
	if f, ok := g.functions[key{moduleName, name}]; ok {
		return f.addr, true
	}
	return bv.BV{}, false
}

// GlobalInitializer implements consteval.GlobalResolver.
func (g *GlobalAllocations) GlobalInitializer(moduleName, name string) (*ir.Constant, bool) {
	e, ok := g.globalAddrs[key{moduleName, name}]
	if !ok || e.initializer == nil {
		return nil, false
	}
	return e.initializer, true
}

// MarkInitialized implements consteval.GlobalResolver: it returns true the
// first time it's called for a given global (the flag is monotone,
// false -> true only) so the caller performs the one-shot initializer
// write, and false on every call after.
func (g *GlobalAllocations) MarkInitialized(moduleName, name string) bool {
	e, ok := g.globalAddrs[key{moduleName, name}]
	if !ok || e.initialized {
		return false
	}
	e.initialized = true
	return true
}

// ResolveAlias implements consteval.GlobalResolver.
func (g *GlobalAllocations) ResolveAlias(moduleName, name string) (*ir.Constant, bool) {
	c, ok := g.globalAliases[key{moduleName, name}]
	return c, ok
}

// FunctionAddress returns the reserved address for the named function, for
// State.GetPointerToFunction.
func (g *GlobalAllocations) FunctionAddress(moduleName, name string) (bv.BV, bool) {
	f, ok := g.functions[key{moduleName, name}]
	if !ok {
		return bv.BV{}, false
	}
	return f.addr, true
}

// HookAddress returns the reserved address for the named hook, for
// State.GetPointerToFunctionHook.
func (g *GlobalAllocations) HookAddress(name string) (bv.BV, bool) {
	addr, ok := g.hooks[name]
	return addr, ok
}

// LookupAddress resolves a concrete 64-bit address back to the function or
// hook name occupying it.
func (g *GlobalAllocations) LookupAddress(addr uint64) (string, bool) {
	name, ok := g.reverse[addr]
	return name, ok
}

// InterpretAsFunctionPtr resolves candidate to a function/hook identity: it
// tries the fast concrete path first, and otherwise enumerates up to n+1
// possible solutions via s and maps each one, failing if any solution does
// not correspond to a known function or hook.
func (g *GlobalAllocations) InterpretAsFunctionPtr(s solver.Solver, candidate bv.BV, n int) ([]string, error) {
	if val, ok := candidate.ConcreteValue(); ok {
		name, ok := g.LookupAddress(val)
		if !ok {
			return nil, serr.OtherError("address 0x%x does not correspond to a known function", val)
		}
		return []string{name}, nil
	}
	possible, err := s.PossibleSolutions(candidate, n+1)
	if err != nil {
		return nil, err
	}
	if possible.Bounded {
		return nil, serr.OtherError("function pointer has more than %d possible values", n)
	}
	names := make([]string, 0, len(possible.Exactly))
	for _, val := range possible.Exactly {
		name, ok := g.LookupAddress(val)
		if !ok {
			return nil, serr.OtherError("address 0x%x does not correspond to a known function", val)
		}
		names = append(names, name)
	}
	return names, nil
}

// Clone returns an independent copy, for State.Fork. The allocator itself
// is not owned here -- callers pass the already-cloned Allocator that
// backs the new State, since globals must continue sharing addresses with
// whatever heap allocations happen afterward in the forked state.
func (g *GlobalAllocations) Clone(clonedAlloc *alloc.Alloc) *GlobalAllocations {
	clone := &GlobalAllocations{
		alloc:         clonedAlloc,
		globalAddrs:   make(map[key]*globalEntry, len(g.globalAddrs)),
		globalAliases: make(map[key]*ir.Constant, len(g.globalAliases)),
		functions:     make(map[key]*funcEntry, len(g.functions)),
		hooks:         make(map[string]bv.BV, len(g.hooks)),
		reverse:       make(map[uint64]string, len(g.reverse)),
	}
	for k, v := range g.globalAddrs {
		copied := *v
		clone.globalAddrs[k] = &copied
	}
	for k, v := range g.globalAliases {
		clone.globalAliases[k] = v
	}
	for k, v := range g.functions {
		copied := *v
		clone.functions[k] = &copied
	}
	for k, v := range g.hooks {
		clone.hooks[k] = v
	}
	for k, v := range g.reverse {
		clone.reverse[k] = v
	}
	return clone
}
