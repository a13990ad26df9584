// Command symstate is a diagnostic harness for the symbolic execution
// state core: it is not an IR interpreter (out of scope for the core
// itself), just a smoke-test front end exercising a State through a
// scripted sequence of operations, in the same spirit as z80opt's
// "enumerate" command exercising the search core.
package main

import (
	"fmt"
	"os"

	"github.com/oisee/symexec/pkg/bv"
	"github.com/oisee/symexec/pkg/ir"
	"github.com/oisee/symexec/pkg/solver/refsolver"
	"github.com/oisee/symexec/pkg/state"
	"github.com/oisee/symexec/pkg/symexeccfg"
	"github.com/oisee/symexec/pkg/symlog"
	"github.com/oisee/symexec/pkg/trace"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "symstate",
		Short: "Symbolic execution state core — diagnostic harness",
	}

	var verbose bool

	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted sequence against a fresh State and print its diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(verbose)
		},
	}
	demoCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every step, not just the summary")

	var traceOut string
	traceCmd := &cobra.Command{
		Use:   "trace [path.gob]",
		Short: "Record a short two-entry path on a fresh State and persist it to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			traceOut = args[0]
			return runTrace(traceOut)
		},
	}

	rootCmd.AddCommand(demoCmd, traceCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func demoModule() *ir.Module {
	return &ir.Module{
		Name: "demo",
		GlobalVariables: []*ir.GlobalVariable{
			{Name: "seed", Type: ir.IntegerType(32), Initializer: ir.IntConst(0xCAFE, 32)},
		},
		Functions: []*ir.Function{{Name: "main"}},
	}
}

// runDemo builds a State, exercises memory, variable binding, global
// lazy-init, and a save/revert backtracking round trip, printing a
// diagnostic trail as it goes.
func runDemo(verbose bool) error {
	level := symlog.LevelSilent
	if verbose {
		level = symlog.LevelDebug
	}
	start := ir.Location{ModuleName: "demo", FuncName: "main", BlockName: "entry"}
	cfg := symexeccfg.Config{Log: symlog.New(level)}
	s := state.New([]*ir.Module{demoModule()}, start, refsolver.New(), cfg)

	step := func(format string, args ...any) {
		if verbose {
			fmt.Printf(format+"\n", args...)
		}
	}

	addr := bv.FromUint64(0x10000, 64)
	val := bv.FromUint64(0x12345678, 32)
	if _, err := s.Write(addr, val); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	step("wrote 0x%x at 0x%x", 0x12345678, 0x10000)

	readBack, _, err := s.Read(addr, 32)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	got, _ := readBack.ConcreteValue()
	step("read back 0x%x", got)

	globalAddr, err := s.OperandToBV("demo", ir.ConstOperand(ir.GlobalRef("seed")))
	if err != nil {
		return fmt.Errorf("resolve global: %w", err)
	}
	seedVal, _, err := s.Read(globalAddr, 32)
	if err != nil {
		return fmt.Errorf("read global: %w", err)
	}
	seedGot, _ := seedVal.ConcreteValue()
	step("global seed = 0x%x", seedGot)

	x, err := s.NewBVWithName("x", 32)
	if err != nil {
		return fmt.Errorf("new var: %w", err)
	}
	s.Solver.Assert(x.Ugt(bv.FromUint64(10, 32)))

	target := ir.Location{ModuleName: "demo", FuncName: "main", BlockName: "B"}
	s.SaveBacktrackingPoint(target, x.Ult(bv.FromUint64(5, 32)))
	s.Solver.Assert(x.Eq(bv.FromUint64(100, 32)))
	sat, err := s.Sat()
	if err != nil {
		return fmt.Errorf("sat: %w", err)
	}
	step("branch taken, sat=%v", sat)

	if !s.RevertToBacktrackingPoint() {
		return fmt.Errorf("expected a backtrack point")
	}
	sat, err = s.Sat()
	if err != nil {
		return fmt.Errorf("sat after revert: %w", err)
	}
	step("reverted to %s, sat=%v", target.BlockName, sat)

	s.RecordPathEntry()

	fmt.Print(s.PrettyLLVMBacktrace())
	fmt.Print(s.CurrentAssignmentsAsPrettyString())
	return nil
}

// runTrace records a two-entry path (block "entry", then block "B") on a
// fresh State built from the demo module, and persists that path to p.
func runTrace(p string) error {
	start := ir.Location{ModuleName: "demo", FuncName: "main", BlockName: "entry"}
	s := state.New([]*ir.Module{demoModule()}, start, refsolver.New(), symexeccfg.Config{})
	s.RecordPathEntry()
	s.SetCurrentLocation(ir.Location{ModuleName: "demo", FuncName: "main", BlockName: "B"})
	s.RecordPathEntry()

	if err := trace.Save(p, s.GetPath()); err != nil {
		return fmt.Errorf("save trace: %w", err)
	}
	fmt.Printf("wrote %d path entries to %s\n", len(s.GetPath()), p)
	return nil
}
