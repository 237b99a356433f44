// Package pipeline keeps the artifacts of every compilation stage for one
// source text and recomputes them on request.
//
// A Store moves through the stages in order. Setting a new source text
// empties it; running a stage replaces that stage's artifact and drops
// everything downstream, so a reader never sees an artifact computed from
// an older input. All mutations and stage runs are serialized.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"gocompile/pkg/asm"
	"gocompile/pkg/compiler"
	"gocompile/pkg/cpu"
	"gocompile/pkg/diag"
	"gocompile/pkg/persist"
)

// ErrNotReady is returned when a stage is run before its input exists.
var ErrNotReady = errors.New("stage input not computed")

const (
	DefaultRegisters     = 8
	DefaultFlushInterval = time.Second
)

type Options struct {
	Registers           int  // physical registers for the allocator
	NoPadding           bool // scheduler leaves out NOP padding
	MaxSteps            int  // simulator step ceiling
	OptimizerIterations int

	// Backend, when set, receives a copy of every artifact. Writes happen
	// in the background and never hold up a stage.
	Backend       persist.Backend
	FlushInterval time.Duration
	Logger        *log.Logger
}

// artifacts holds everything a Store knows. Fields beyond the store's
// state are zero.
type artifacts struct {
	code          string
	tokens        []compiler.Token
	parseTree     *compiler.ParseNode
	ast           *compiler.ASTNode
	symbols       []compiler.SymbolTable
	ir            *compiler.IRProgram
	optimizedIR   *compiler.IRProgram
	optimizedCode string
	assembly      []string
	registers     []string
	scheduled     []string
	steps         []cpu.Step
	diags         map[Stage][]diag.Diagnostic
}

// clearFrom zeroes the artifacts of stage from and every later stage.
func (a *artifacts) clearFrom(from Stage) {
	for st := from; st <= Simulated; st++ {
		switch st {
		case Lexed:
			a.tokens = nil
		case Parsed:
			a.parseTree = nil
		case ASTBuilt:
			a.ast = nil
		case SymbolsBuilt:
			a.symbols = nil
		case IRGenerated:
			a.ir = nil
		case Optimized:
			a.optimizedIR, a.optimizedCode = nil, ""
		case CodeGenerated:
			a.assembly = nil
		case Allocated:
			a.registers = nil
		case Scheduled:
			a.scheduled = nil
		case Simulated:
			a.steps = nil
		}
		delete(a.diags, st)
	}
}

// Result is what one stage run produced.
type Result struct {
	Stage       Stage             `json:"stage"`
	Artifact    any               `json:"artifact,omitempty"`
	Diagnostics []diag.Diagnostic `json:"diagnostics,omitempty"`
}

type Store struct {
	opts Options
	log  *log.Logger

	mu        sync.Mutex
	state     Stage
	hasSource bool
	art       artifacts
	fp        string // fingerprint of the source, stamped on persisted artifacts

	p *persister
}

// New returns a store. With a backend configured, the artifacts of a
// previous session are loaded first; anything unreadable is treated as
// never computed.
func New(ctx context.Context, opts Options) *Store {
	if opts.Registers == 0 {
		opts.Registers = DefaultRegisters
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = cpu.DefaultMaxSteps
	}
	if opts.OptimizerIterations <= 0 {
		opts.OptimizerIterations = compiler.DefaultOptimizerIterations
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[pipeline] ", log.LstdFlags)
	}
	s := &Store{
		opts: opts,
		log:  logger,
		art:  artifacts{diags: make(map[Stage][]diag.Diagnostic)},
	}
	if opts.Backend != nil {
		s.load(ctx, opts.Backend)
		s.p = newPersister(opts.Backend, logger, opts.FlushInterval)
		if s.hasSource && s.state < Simulated {
			s.queueDelete(s.state+1, Simulated)
			s.queue(KeyDiagnostics)
		}
	}
	return s
}

// State returns the last stage whose artifact is present.
func (s *Store) State() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetSource replaces the source text and empties the pipeline. The text is
// normalized to NFC first; setting the text the store already holds changes
// nothing. It reports whether anything changed.
func (s *Store) SetSource(text string) bool {
	text = norm.NFC.String(text)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasSource && text == s.art.code {
		return false
	}
	prev := s.state
	s.state, _ = s.state.after(sourceSet())
	s.art.clearFrom(Lexed)
	s.art.code = text
	s.hasSource = true
	s.fp = fingerprint(text, s.opts)

	s.queue(KeyCode)
	s.queueDelete(Lexed, prev)
	s.queue(KeyDiagnostics)
	return true
}

// Run runs one stage on the artifact of the stage before it, replacing its
// own artifact and dropping every later one. A hard failure of the
// allocator or the scheduler is returned as an error and leaves the store
// as it was.
func (s *Store) Run(stage Stage) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(stage)
}

// RunThrough runs every stage after the current state up to and including
// stage. It stops at the first error.
func (s *Store) RunThrough(stage Stage) ([]Result, error) {
	if stage <= Empty || stage > Simulated {
		return nil, fmt.Errorf("invalid stage %d", int(stage))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Result
	for st := s.state + 1; st <= stage; st++ {
		r, err := s.run(st)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// RunAll runs every missing stage.
func (s *Store) RunAll() ([]Result, error) {
	return s.RunThrough(Simulated)
}

func (s *Store) run(stage Stage) (Result, error) {
	next, err := s.state.after(completed(stage))
	if err != nil {
		return Result{Stage: stage}, err
	}
	if stage == Lexed && !s.hasSource {
		return Result{Stage: stage}, fmt.Errorf("%w: no source text", ErrNotReady)
	}

	var out artifacts
	res := Result{Stage: stage}
	a := &s.art
	switch stage {
	case Lexed:
		out.tokens, res.Diagnostics = compiler.Lex(a.code)
		res.Artifact = out.tokens
	case Parsed:
		out.parseTree, res.Diagnostics = compiler.Parse(a.tokens)
		res.Artifact = out.parseTree
	case ASTBuilt:
		out.ast = compiler.BuildAST(a.parseTree)
		res.Artifact = out.ast
	case SymbolsBuilt:
		out.symbols, res.Diagnostics = compiler.BuildSymbols(a.ast)
		res.Artifact = out.symbols
	case IRGenerated:
		out.ir, res.Diagnostics = compiler.GenerateIR(a.ast, a.symbols)
		res.Artifact = out.ir.String()
	case Optimized:
		out.optimizedIR, _ = compiler.Optimize(a.ir, s.opts.OptimizerIterations)
		out.optimizedCode = compiler.OptimizeSource(a.ast)
		res.Artifact = out.optimizedIR.String()
	case CodeGenerated:
		out.assembly = compiler.GenerateAssembly(a.optimizedIR)
		res.Artifact = out.assembly
	case Allocated:
		alloc, err := asm.Allocate(a.assembly, s.opts.Registers)
		if err != nil {
			res.Diagnostics = hardFailure("allocator", diag.AllocationError, err)
			return res, err
		}
		out.registers = alloc.Listing
		res.Artifact = out.registers
	case Scheduled:
		sched, err := asm.Schedule(a.registers, asm.ScheduleOptions{NoPadding: s.opts.NoPadding})
		if err == nil {
			err = asm.CheckSchedule(a.registers, sched)
		}
		if err != nil {
			res.Diagnostics = hardFailure("scheduler", diag.ScheduleError, err)
			return res, err
		}
		out.scheduled = sched
		res.Artifact = out.scheduled
	case Simulated:
		r, ds := cpu.Simulate(a.scheduled, cpu.Options{MaxSteps: s.opts.MaxSteps})
		out.steps, res.Diagnostics = r.Steps, ds
		res.Artifact = out.steps
	}

	prev := s.state
	a.clearFrom(stage)
	a.commit(stage, &out)
	if len(res.Diagnostics) > 0 {
		a.diags[stage] = res.Diagnostics
	}
	s.state = next

	for _, k := range stageKeys[stage] {
		s.queue(k)
	}
	s.queueDelete(stage+1, prev)
	s.queue(KeyDiagnostics)
	return res, nil
}

// commit copies the artifact of stage from src.
func (a *artifacts) commit(stage Stage, src *artifacts) {
	switch stage {
	case Lexed:
		a.tokens = src.tokens
	case Parsed:
		a.parseTree = src.parseTree
	case ASTBuilt:
		a.ast = src.ast
	case SymbolsBuilt:
		a.symbols = src.symbols
	case IRGenerated:
		a.ir = src.ir
	case Optimized:
		a.optimizedIR, a.optimizedCode = src.optimizedIR, src.optimizedCode
	case CodeGenerated:
		a.assembly = src.assembly
	case Allocated:
		a.registers = src.registers
	case Scheduled:
		a.scheduled = src.scheduled
	case Simulated:
		a.steps = src.steps
	}
}

// hardFailure wraps a stage defect as the single diagnostic of the run.
func hardFailure(stage string, kind diag.Kind, err error) []diag.Diagnostic {
	return []diag.Diagnostic{{Stage: stage, Kind: kind, Message: err.Error()}}
}

// Returned values are shared with the store and must not be modified.

func (s *Store) Source() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.art.code, s.hasSource
}

func (s *Store) Tokens() ([]compiler.Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.art.tokens, s.state >= Lexed
}

func (s *Store) ParseTree() (*compiler.ParseNode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.art.parseTree, s.state >= Parsed
}

func (s *Store) AST() (*compiler.ASTNode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.art.ast, s.state >= ASTBuilt
}

func (s *Store) SymbolTables() ([]compiler.SymbolTable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.art.symbols, s.state >= SymbolsBuilt
}

func (s *Store) IR() (*compiler.IRProgram, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.art.ir, s.state >= IRGenerated
}

func (s *Store) OptimizedIR() (*compiler.IRProgram, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.art.optimizedIR, s.state >= Optimized
}

// OptimizedCode is the source text with constant expressions folded.
func (s *Store) OptimizedCode() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.art.optimizedCode, s.state >= Optimized
}

func (s *Store) Assembly() ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.art.assembly, s.state >= CodeGenerated
}

func (s *Store) RegisterAssembly() ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.art.registers, s.state >= Allocated
}

func (s *Store) ScheduledAssembly() ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.art.scheduled, s.state >= Scheduled
}

func (s *Store) Steps() ([]cpu.Step, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.art.steps, s.state >= Simulated
}

// Diagnostics returns what stage reported on its last run.
func (s *Store) Diagnostics(stage Stage) ([]diag.Diagnostic, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stage <= Empty || stage > s.state {
		return nil, false
	}
	return s.art.diags[stage], true
}

// AllDiagnostics returns the diagnostics of every present stage in
// pipeline order.
func (s *Store) AllDiagnostics() []diag.Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []diag.Diagnostic
	for st := Lexed; st <= s.state; st++ {
		out = append(out, s.art.diags[st]...)
	}
	return out
}

// Artifact returns the serialized form of the artifact called name, the
// same text that is persisted and exported.
func (s *Store) Artifact(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact(name)
}

func (s *Store) artifact(name string) ([]byte, bool) {
	if name == KeyDiagnostics {
		b, err := s.art.encode(name)
		return b, err == nil
	}
	st, ok := stageOf(name)
	if !ok || st > s.state || (st == Empty && !s.hasSource) {
		return nil, false
	}
	b, err := s.art.encode(name)
	if err != nil {
		s.log.Printf("encode %s: %v", name, err)
		return nil, false
	}
	return b, true
}

// Flush writes every queued artifact to the backend and waits for it.
func (s *Store) Flush(ctx context.Context) error {
	if s.p == nil {
		return nil
	}
	return s.p.flush(ctx)
}

// Close stops background persistence after a last flush.
func (s *Store) Close() error {
	if s.p == nil {
		return nil
	}
	return s.p.close()
}

// queue schedules the current value of an artifact for persistence.
func (s *Store) queue(name string) {
	if s.p == nil {
		return
	}
	b, ok := s.artifact(name)
	if !ok {
		return
	}
	if name != KeyCode {
		b = stamp(s.fp, b)
	}
	s.p.put(name, b)
}

// queueDelete schedules removal of the artifacts of stages from..to.
func (s *Store) queueDelete(from, to Stage) {
	if s.p == nil {
		return
	}
	for st := from; st <= to; st++ {
		for _, k := range stageKeys[st] {
			s.p.put(k, nil)
		}
	}
}

// load restores the artifacts of a previous session, stopping at the first
// stage that is missing, unreadable or computed from another source.
func (s *Store) load(ctx context.Context, b persist.Backend) {
	read := func(name string) ([]byte, bool) {
		data, err := b.Load(ctx, name)
		if err != nil {
			if !errors.Is(err, persist.ErrNotFound) {
				s.log.Printf("load %s: %v", name, err)
			}
			return nil, false
		}
		if name == KeyCode {
			return data, true
		}
		payload, err := unstamp(s.fp, data)
		if err != nil {
			s.log.Printf("load %s: %v", name, err)
			return nil, false
		}
		return payload, true
	}

	code, ok := read(KeyCode)
	if !ok {
		return
	}
	s.art.code = norm.NFC.String(string(code))
	s.hasSource = true
	s.fp = fingerprint(s.art.code, s.opts)

	loaded := Empty
	for st := Lexed; st <= Simulated; st++ {
		complete := true
		for _, k := range stageKeys[st] {
			data, ok := read(k)
			if !ok {
				complete = false
				break
			}
			if err := s.art.decode(k, data); err != nil {
				s.log.Printf("decode %s: %v", k, err)
				complete = false
				break
			}
		}
		if !complete {
			s.art.clearFrom(st)
			break
		}
		loaded = st
	}
	s.state = loaded

	if data, ok := read(KeyDiagnostics); ok {
		var tmp artifacts
		if err := tmp.decode(KeyDiagnostics, data); err != nil {
			s.log.Printf("decode %s: %v", KeyDiagnostics, err)
		} else {
			for st, ds := range tmp.diags {
				if st > Empty && st <= loaded {
					s.art.diags[st] = ds
				}
			}
		}
	}
}
