// Package symexeccfg holds the tunable knobs a State is constructed with.
package symexeccfg

import (
	"github.com/oisee/symexec/pkg/symlog"
	"github.com/oisee/symexec/pkg/watch"
)

// defaultLoopBound bounds how many SSA versions a single (function, name)
// pair may accumulate before NewNamed/Assign report LoopBoundExceeded.
const defaultLoopBound = 50

// Config holds State construction options.
type Config struct {
	// LoopBound is the maximum number of versions a single (function, name)
	// variable may accumulate. Defaults to defaultLoopBound when <= 0.
	LoopBound int

	// SymbolicInit selects the background value memory reads return for
	// never-written cells: false (the default) zeroes them, satisfying
	// calloc's contract and simplifying null-pointer reasoning; true
	// leaves them as an unconstrained symbolic value instead.
	SymbolicInit bool

	// InitialWatchpoints seeds the watchpoint set a State starts with.
	InitialWatchpoints map[string]watch.Watchpoint

	// FunctionHooks lists the hook names (e.g. "malloc", "free") that
	// should receive a reserved address during the global allocation pass.
	FunctionHooks []string

	// Log receives diagnostic messages for global allocation, memory
	// access, and backtracking. Defaults to a silent logger when nil.
	Log *symlog.Logger
}

// WithDefaults returns a copy of cfg with zero-value fields replaced by
// their defaults.
func (cfg Config) WithDefaults() Config {
	if cfg.LoopBound <= 0 {
		cfg.LoopBound = defaultLoopBound
	}
	if cfg.Log == nil {
		cfg.Log = symlog.New(symlog.LevelSilent)
	}
	return cfg
}
