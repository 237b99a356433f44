package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"reflect"
	"strings"
	"testing"

	"gocompile/pkg/asm"
	"gocompile/pkg/compiler"
	"gocompile/pkg/cpu"
	"gocompile/pkg/diag"
)

const exampleSource = "x = 1 + 2; y = x * 3;"

var programs = map[string]string{
	"Example": exampleSource,
	"Loop": `int total = 0;
int main() {
    int s = 0;
    for (int i = 0; i < 5; i += 1) { s += i; }
    total = s;
    print(s);
    return s;
}`,
	"Recursion":  "int fib(int n) { if (n < 2) return n; return fib(n - 1) + fib(n - 2); } print(fib(6));",
	"WhileBreak": "int n = 10; int steps = 0; while (true) { n -= 3; steps += 1; if (n < 0) break; } print(steps);",
	"Shadowing":  "int x = 4; void f(int x) { x = x * 2; print(x); } f(x + 1); print(x);",
	"Pressure":   "int f(int a, int b, int c, int d) { return (a + b) * (c + d) - (a * d + b * c); } print(f(1, 2, 3, 4));",
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	s := New(context.Background(), opts)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func runAll(t *testing.T, s *Store, src string) {
	t.Helper()
	s.SetSource(src)
	if _, err := s.RunAll(); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
}

func TestRunAllExample(t *testing.T) {
	s := newStore(t, Options{})
	s.SetSource(exampleSource)
	results, err := s.RunAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 10 {
		t.Fatalf("got %d results, want 10", len(results))
	}
	for i, r := range results {
		if r.Stage != Stage(i+1) {
			t.Errorf("result %d is for %s", i, r.Stage)
		}
		if len(r.Diagnostics) != 0 {
			t.Errorf("%s diagnostics: %v", r.Stage, r.Diagnostics)
		}
	}
	if s.State() != Simulated {
		t.Fatalf("state = %s", s.State())
	}

	ir, _ := s.IR()
	if !strings.Contains(ir.String(), "    x = 1 + 2\n    y = x * 3\n    halt\n") {
		t.Errorf("unoptimized IR:\n%s", ir)
	}
	opt, _ := s.OptimizedIR()
	if !strings.Contains(opt.String(), "    x = 3\n    y = 9\n") {
		t.Errorf("optimized IR:\n%s", opt)
	}
	if code, _ := s.OptimizedCode(); code != "x = 3;\ny = x * 3;\n" {
		t.Errorf("optimized code = %q", code)
	}

	want := []string{
		".global x",
		".global y",
		".func __start",
		"    LI r0, 3",
		"    SW r0, x",
		"    LI r0, 9",
		"    SW r0, y",
		"    HALT",
		".endfunc",
	}
	if got, _ := s.ScheduledAssembly(); !reflect.DeepEqual(got, want) {
		t.Errorf("scheduled assembly:\n%s", strings.Join(got, "\n"))
	}

	steps, ok := s.Steps()
	if !ok || len(steps) != 6 {
		t.Fatalf("got %d steps", len(steps))
	}
	final := steps[len(steps)-1].MemoryState.DataSegment
	if !reflect.DeepEqual(final, []string{"x = 3", "y = 9"}) {
		t.Errorf("final data segment = %v", final)
	}
}

func TestRedeclarationExample(t *testing.T) {
	s := newStore(t, Options{})
	s.SetSource("int x = 1;\nbool x = true;")
	if _, err := s.RunThrough(SymbolsBuilt); err != nil {
		t.Fatal(err)
	}
	ds, ok := s.Diagnostics(SymbolsBuilt)
	if !ok || len(ds) != 1 || ds[0].Kind != diag.NameError {
		t.Fatalf("symbol diagnostics = %v", ds)
	}
	tables, _ := s.SymbolTables()
	if got := tables[0].Symbols["x"]; got != "int" {
		t.Errorf("x has type %q, want int", got)
	}
}

func TestUnterminatedStringExample(t *testing.T) {
	s := newStore(t, Options{})
	s.SetSource("x = \"abc\ny = 1;")
	if _, err := s.RunThrough(Parsed); err != nil {
		t.Fatal(err)
	}
	ds, _ := s.Diagnostics(Lexed)
	if len(ds) != 1 || ds[0].Kind != diag.LexError || ds[0].Line != 1 || ds[0].Column != 5 {
		t.Fatalf("lexer diagnostics = %v", ds)
	}
	tokens, _ := s.Tokens()
	found := false
	for _, tok := range tokens {
		if tok.Lexeme == "y" && tok.Line == 2 {
			found = true
		}
	}
	if !found {
		t.Errorf("lexing did not continue after the bad literal: %v", tokens)
	}
	if _, ok := s.ParseTree(); !ok {
		t.Error("no parse tree")
	}
}

func TestAccessorsBeforeRun(t *testing.T) {
	s := newStore(t, Options{})
	if _, ok := s.Source(); ok {
		t.Error("source present in a new store")
	}
	if _, err := s.Run(Lexed); !errors.Is(err, ErrNotReady) {
		t.Errorf("Run(Lexed) without source: %v", err)
	}
	s.SetSource(exampleSource)
	if _, err := s.Run(Parsed); !errors.Is(err, ErrNotReady) {
		t.Errorf("Run(Parsed) before lexing: %v", err)
	}
	if _, err := s.Run(Stage(42)); err == nil || errors.Is(err, ErrNotReady) {
		t.Errorf("Run(42): %v", err)
	}
	if _, err := s.RunThrough(Empty); err == nil {
		t.Error("RunThrough(Empty) accepted")
	}
	if _, ok := s.Tokens(); ok {
		t.Error("tokens present before lexing")
	}
	if _, ok := s.Diagnostics(Lexed); ok {
		t.Error("diagnostics present before lexing")
	}
}

func TestIdempotence(t *testing.T) {
	for name, src := range programs {
		t.Run(name, func(t *testing.T) {
			a, b := newStore(t, Options{}), newStore(t, Options{})
			runAll(t, a, src)
			runAll(t, b, src)
			// a second run over the same store must not change anything either
			first := make(map[string][]byte)
			for _, n := range ArtifactNames() {
				first[n], _ = a.Artifact(n)
			}
			if _, err := a.Run(Lexed); err != nil {
				t.Fatal(err)
			}
			if _, err := a.RunAll(); err != nil {
				t.Fatal(err)
			}
			for _, n := range ArtifactNames() {
				x, okA := a.Artifact(n)
				y, okB := b.Artifact(n)
				if !okA || !okB {
					t.Errorf("%s missing", n)
					continue
				}
				if !bytes.Equal(x, y) || !bytes.Equal(x, first[n]) {
					t.Errorf("%s differs between runs", n)
				}
			}
		})
	}
}

func TestInvalidation(t *testing.T) {
	s := newStore(t, Options{})
	runAll(t, s, exampleSource)

	if !s.SetSource("x = 2;") {
		t.Fatal("SetSource reported no change")
	}
	if s.State() != Empty {
		t.Fatalf("state = %s", s.State())
	}
	checks := map[string]bool{}
	_, checks["tokens"] = s.Tokens()
	_, checks["parseTree"] = s.ParseTree()
	_, checks["ast"] = s.AST()
	_, checks["symbols"] = s.SymbolTables()
	_, checks["ir"] = s.IR()
	_, checks["optimizedIR"] = s.OptimizedIR()
	_, checks["optimizedCode"] = s.OptimizedCode()
	_, checks["assembly"] = s.Assembly()
	_, checks["registers"] = s.RegisterAssembly()
	_, checks["scheduled"] = s.ScheduledAssembly()
	_, checks["steps"] = s.Steps()
	for name, ok := range checks {
		if ok {
			t.Errorf("%s still present after a new source", name)
		}
	}
	for _, n := range ArtifactNames() {
		_, ok := s.Artifact(n)
		if want := n == KeyCode || n == KeyDiagnostics; ok != want {
			t.Errorf("Artifact(%s) present = %v", n, ok)
		}
	}
	if len(s.AllDiagnostics()) != 0 {
		t.Errorf("diagnostics survived: %v", s.AllDiagnostics())
	}
	if src, _ := s.Source(); src != "x = 2;" {
		t.Errorf("source = %q", src)
	}
}

func TestSetSourceUnchanged(t *testing.T) {
	s := newStore(t, Options{})
	runAll(t, s, exampleSource)
	if s.SetSource(exampleSource) {
		t.Error("identical source reported as a change")
	}
	if s.State() != Simulated {
		t.Errorf("identical source reset the state to %s", s.State())
	}
}

func TestSetSourceNormalizes(t *testing.T) {
	s := newStore(t, Options{})
	s.SetSource("print(\"cafe\u0301\");")
	if src, _ := s.Source(); src != "print(\"caf\u00e9\");" {
		t.Errorf("source = %q, want NFC form", src)
	}
	if s.SetSource("print(\"caf\u00e9\");") {
		t.Error("precomposed form of the same text reported as a change")
	}
}

func TestRerunStage(t *testing.T) {
	s := newStore(t, Options{})
	runAll(t, s, exampleSource)
	before, _ := s.Artifact(KeyOptimizedIR)

	if _, err := s.Run(Optimized); err != nil {
		t.Fatal(err)
	}
	if s.State() != Optimized {
		t.Fatalf("state = %s", s.State())
	}
	if _, ok := s.IR(); !ok {
		t.Error("upstream IR was dropped")
	}
	if _, ok := s.Assembly(); ok {
		t.Error("downstream assembly survived")
	}
	if after, _ := s.Artifact(KeyOptimizedIR); !bytes.Equal(before, after) {
		t.Error("rerun changed the optimized IR")
	}
	if _, err := s.Run(Allocated); !errors.Is(err, ErrNotReady) {
		t.Errorf("Run(Allocated) after rerunning the optimizer: %v", err)
	}
}

func TestHardFailureKeepsState(t *testing.T) {
	s := newStore(t, Options{Registers: 2})
	s.SetSource(exampleSource)
	results, err := s.RunAll()
	if !errors.Is(err, diag.ErrAllocation) {
		t.Fatalf("RunAll error = %v, want an allocation failure", err)
	}
	if len(results) != int(CodeGenerated) {
		t.Errorf("got %d results before the failure", len(results))
	}
	if s.State() != CodeGenerated {
		t.Errorf("state = %s, want CodeGenerated", s.State())
	}
	r, err := s.Run(Allocated)
	if !errors.Is(err, diag.ErrAllocation) {
		t.Fatalf("Run(Allocated) error = %v", err)
	}
	if len(r.Diagnostics) != 1 || r.Diagnostics[0].Kind != diag.AllocationError {
		t.Errorf("diagnostics = %v", r.Diagnostics)
	}
	if _, ok := s.Assembly(); !ok {
		t.Error("the failure dropped the allocator's input")
	}
}

func TestAllocationAndScheduleSafety(t *testing.T) {
	for name, src := range programs {
		for _, k := range []int{3, 4, 8} {
			t.Run(name, func(t *testing.T) {
				s := newStore(t, Options{Registers: k})
				runAll(t, s, src)
				assembly, _ := s.Assembly()
				registers, _ := s.RegisterAssembly()
				scheduled, _ := s.ScheduledAssembly()
				if err := asm.CheckAllocation(assembly, registers, k); err != nil {
					t.Errorf("K=%d: %v", k, err)
				}
				if err := asm.CheckSchedule(registers, scheduled); err != nil {
					t.Errorf("K=%d: %v", k, err)
				}
			})
		}
	}
}

func TestOptimizationSoundness(t *testing.T) {
	for name, src := range programs {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, Options{Registers: 4})
			runAll(t, s, src)
			ir, _ := s.IR()
			base, ds := cpu.Simulate(compiler.GenerateAssembly(ir), cpu.Options{})
			if len(ds) != 0 {
				t.Fatalf("unoptimized run: %v", ds)
			}
			steps, _ := s.Steps()
			got := cpu.NewResult(steps)
			if !reflect.DeepEqual(base.Final().DataSegment, got.Final().DataSegment) {
				t.Errorf("globals %v, pipeline %v", base.Final().DataSegment, got.Final().DataSegment)
			}
			if !reflect.DeepEqual(base.Output, got.Output) {
				t.Errorf("output %v, pipeline %v", base.Output, got.Output)
			}
		})
	}
}

func TestSimulationLimit(t *testing.T) {
	s := newStore(t, Options{MaxSteps: 50})
	runAll(t, s, "int n = 0; while (true) { n += 1; }")
	steps, _ := s.Steps()
	if last := steps[len(steps)-1]; last.Marker != cpu.MarkerForcedTermination {
		t.Errorf("last step = %+v", last)
	}
	ds, _ := s.Diagnostics(Simulated)
	if diag.Count(ds, diag.SimulationLimitExceeded) != 1 {
		t.Errorf("simulator diagnostics = %v", ds)
	}
}

func TestNoPadding(t *testing.T) {
	src := "int sq(int v) { return v * v; } print(sq(6) + 1);"
	padded, bare := newStore(t, Options{}), newStore(t, Options{NoPadding: true})
	runAll(t, padded, src)
	runAll(t, bare, src)
	count := func(ls []string) int {
		n := 0
		for _, l := range ls {
			if strings.TrimSpace(l) == "NOP" {
				n++
			}
		}
		return n
	}
	p, _ := padded.ScheduledAssembly()
	b, _ := bare.ScheduledAssembly()
	if count(b) != 0 {
		t.Errorf("NOPs with padding off:\n%s", strings.Join(b, "\n"))
	}
	if count(p) == 0 {
		t.Errorf("no NOPs after the loads with padding on:\n%s", strings.Join(p, "\n"))
	}
}
