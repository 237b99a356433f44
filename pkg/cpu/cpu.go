package cpu

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/btree"

	"gocompile/pkg/asm"
	"gocompile/pkg/diag"
)

const (
	DefaultMaxSteps = 10000
	MaxCallDepth    = 1000
)

// Step markers.
const (
	MarkerForcedTermination = "forcedTermination"
	MarkerFault             = "fault"
)

// ErrFault is wrapped by every runtime fault.
var ErrFault = errors.New("runtime fault")

type Options struct {
	MaxSteps int
}

// FrameState is one call-stack frame in a snapshot.
type FrameState struct {
	FunctionName string   `json:"functionName"`
	FrameData    []string `json:"frameData"`
	Registers    []string `json:"registers,omitempty"`
}

// MemoryState is a full copy of the machine's memory.
type MemoryState struct {
	DataSegment []string     `json:"dataSegment"`
	Stack       []FrameState `json:"stack"`
}

// Step is one entry of the execution trace.
type Step struct {
	StepNumber  int         `json:"stepNumber"`
	StepName    string      `json:"stepName"`
	MemoryState MemoryState `json:"memoryState"`
	Output      string      `json:"output,omitempty"`
	Marker      string      `json:"marker,omitempty"`
}

type Result struct {
	Steps  []Step
	Output []string
}

// NewResult rebuilds a Result from a stored trace.
func NewResult(steps []Step) *Result {
	r := &Result{Steps: steps}
	for _, s := range steps {
		if s.Output != "" {
			r.Output = append(r.Output, s.Output)
		}
	}
	return r
}

// Final returns the last snapshot, or the zero state for an empty trace.
func (r *Result) Final() MemoryState {
	if len(r.Steps) == 0 {
		return MemoryState{}
	}
	return r.Steps[len(r.Steps)-1].MemoryState
}

type cell struct {
	order int
	name  string
	value int64
}

type frame struct {
	fn     string
	names  []string
	locals map[string]int64
	regs   map[string]int64
	args   []int64
	slots  map[string]int64
	retPC  int
	retDst string
}

func newFrame(fn string) *frame {
	return &frame{
		fn:     fn,
		locals: make(map[string]int64),
		regs:   make(map[string]int64),
		slots:  make(map[string]int64),
	}
}

func (f *frame) bind(name string, v int64) {
	if _, ok := f.locals[name]; !ok {
		f.names = append(f.names, name)
	}
	f.locals[name] = v
}

type function struct {
	entry  int
	params []string
}

// CPU is the abstract machine: an ordered data segment of globals and a
// stack of frames, each with its own register file.
type CPU struct {
	code   []asm.Line
	labels map[string]int
	funcs  map[string]function

	data  *btree.BTreeG[cell]
	index map[string]int

	stack []*frame
	PC    int

	Halted bool
	Output []string
}

// NewCPU loads a listing and positions the machine at the entry function.
func NewCPU(listing []string) (*CPU, error) {
	ls, err := asm.Parse(listing)
	if err != nil {
		return nil, err
	}
	c := &CPU{
		labels: make(map[string]int),
		funcs:  make(map[string]function),
		data:   btree.NewG[cell](8, func(a, b cell) bool { return a.order < b.order }),
		index:  make(map[string]int),
	}
	for _, l := range ls {
		switch l.Kind {
		case asm.KindDirective:
			switch l.Mnemonic {
			case ".global":
				name := l.Operands[0]
				if _, dup := c.index[name]; !dup {
					c.index[name] = len(c.index)
					c.data.ReplaceOrInsert(cell{order: c.index[name], name: name})
				}
			case ".func":
				c.funcs[l.Operands[0]] = function{entry: len(c.code), params: l.Operands[1:]}
			}
		case asm.KindLabel:
			c.labels[l.Label] = len(c.code)
		case asm.KindInstr:
			c.code = append(c.code, l)
		}
	}
	entry, ok := c.funcs["__start"]
	if !ok {
		return nil, fmt.Errorf("no __start function")
	}
	c.PC = entry.entry
	c.stack = []*frame{newFrame("__start")}
	return c, nil
}

func (c *CPU) top() *frame {
	return c.stack[len(c.stack)-1]
}

func (c *CPU) fault(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFault, fmt.Sprintf(format, args...))
}

func (c *CPU) load(name string) (int64, error) {
	if v, ok := c.top().locals[name]; ok {
		return v, nil
	}
	if order, ok := c.index[name]; ok {
		it, _ := c.data.Get(cell{order: order})
		return it.value, nil
	}
	return 0, c.fault("unknown location '%s'", name)
}

func (c *CPU) store(name string, v int64) {
	f := c.top()
	if _, ok := f.locals[name]; ok {
		f.locals[name] = v
		return
	}
	if order, ok := c.index[name]; ok {
		c.data.ReplaceOrInsert(cell{order: order, name: name, value: v})
		return
	}
	f.bind(name, v)
}

func (c *CPU) jump(label string) error {
	pc, ok := c.labels[label]
	if !ok {
		return c.fault("unknown label '%s'", label)
	}
	c.PC = pc
	return nil
}

// Current returns the instruction at PC.
func (c *CPU) Current() (asm.Line, bool) {
	if c.PC < 0 || c.PC >= len(c.code) {
		return asm.Line{}, false
	}
	return c.code[c.PC], true
}

// Step executes one instruction. It returns the text printed, if any.
// Running off the end of the code halts the machine.
func (c *CPU) Step() (string, error) {
	in, ok := c.Current()
	if !ok {
		c.Halted = true
		return "", nil
	}
	f := c.top()
	reg := func(i int) int64 { return f.regs[in.Operands[i]] }
	next := c.PC + 1
	printed := ""

	switch in.Mnemonic {
	case "LI":
		v, _ := strconv.ParseInt(in.Operands[1], 10, 64)
		f.regs[in.Operands[0]] = v
	case "LW":
		v, err := c.load(in.Operands[1])
		if err != nil {
			return "", err
		}
		f.regs[in.Operands[0]] = v
	case "SW":
		c.store(in.Operands[1], reg(0))
	case "MOV":
		f.regs[in.Operands[0]] = reg(1)
	case "NEG", "NOT":
		v, _ := asm.Eval(in.Mnemonic, reg(1), 0)
		f.regs[in.Operands[0]] = v
	case "ADD", "SUB", "MUL", "DIV", "MOD", "SEQ", "SNE", "SLT", "SLE", "SGT", "SGE":
		v, err := asm.Eval(in.Mnemonic, reg(1), reg(2))
		if err != nil {
			return "", c.fault("%v", err)
		}
		f.regs[in.Operands[0]] = v
	case "JMP":
		if err := c.jump(in.Operands[0]); err != nil {
			return "", err
		}
		return "", nil
	case "BEQZ", "BNEZ":
		if (reg(0) == 0) == (in.Mnemonic == "BEQZ") {
			if err := c.jump(in.Operands[1]); err != nil {
				return "", err
			}
			return "", nil
		}
	case "ARG":
		f.args = append(f.args, reg(0))
	case "CALL":
		return "", c.call(in, next)
	case "RET":
		var v int64
		if len(in.Operands) == 1 {
			v = reg(0)
		}
		c.stack = c.stack[:len(c.stack)-1]
		if len(c.stack) == 0 {
			c.Halted = true
			return "", nil
		}
		if f.retDst != "" {
			c.top().regs[f.retDst] = v
		}
		c.PC = f.retPC
		return "", nil
	case "PRINT":
		printed = strconv.FormatInt(reg(0), 10)
	case "PRINTS":
		printed = in.Operands[0]
	case "HALT":
		c.Halted = true
		return "", nil
	case "NOP":
	case "SPILL":
		f.slots[in.Operands[1]] = reg(0)
	case "RELOAD":
		v, ok := f.slots[in.Operands[1]]
		if !ok {
			return "", c.fault("empty spill slot [%s]", in.Operands[1])
		}
		f.regs[in.Operands[0]] = v
	default:
		return "", c.fault("unsupported instruction %s", in.Mnemonic)
	}
	if in.Mnemonic == "PRINT" || in.Mnemonic == "PRINTS" {
		c.Output = append(c.Output, printed)
	}
	c.PC = next
	return printed, nil
}

func (c *CPU) call(in asm.Line, retPC int) error {
	f := c.top()
	var dst string
	ops := in.Operands
	if len(ops) == 3 {
		dst, ops = ops[0], ops[1:]
	}
	callee, ok := c.funcs[ops[0]]
	if !ok {
		return c.fault("unknown function '%s'", ops[0])
	}
	n, _ := strconv.Atoi(ops[1])
	if n != len(callee.params) || n > len(f.args) {
		return c.fault("call of %s with %d arguments", ops[0], n)
	}
	if len(c.stack) >= MaxCallDepth {
		return c.fault("call stack deeper than %d frames", MaxCallDepth)
	}
	argv := f.args[len(f.args)-n:]
	f.args = f.args[:len(f.args)-n]

	nf := newFrame(ops[0])
	for i, p := range callee.params {
		nf.bind(p, argv[i])
	}
	nf.retPC = retPC
	nf.retDst = dst
	c.stack = append(c.stack, nf)
	c.PC = callee.entry
	return nil
}

// Snapshot copies the current memory state.
func (c *CPU) Snapshot() MemoryState {
	ms := MemoryState{DataSegment: []string{}, Stack: []FrameState{}}
	c.data.Ascend(func(it cell) bool {
		ms.DataSegment = append(ms.DataSegment, fmt.Sprintf("%s = %d", it.name, it.value))
		return true
	})
	for _, f := range c.stack {
		fs := FrameState{FunctionName: f.fn, FrameData: []string{}}
		for _, name := range f.names {
			fs.FrameData = append(fs.FrameData, fmt.Sprintf("%s = %d", name, f.locals[name]))
		}
		for _, s := range sortedByNumber(f.slots) {
			fs.FrameData = append(fs.FrameData, fmt.Sprintf("[%s] = %d", s, f.slots[s]))
		}
		for _, r := range sortedByNumber(f.regs) {
			fs.Registers = append(fs.Registers, fmt.Sprintf("%s = %d", r, f.regs[r]))
		}
		ms.Stack = append(ms.Stack, fs)
	}
	return ms
}

// sortedByNumber orders keys like r10 after r9.
func sortedByNumber(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.Atoi(keys[i][1:])
		b, _ := strconv.Atoi(keys[j][1:])
		if a != b {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Simulate runs listing from __start and records a snapshot before the
// first instruction and after every executed one. A run cut short by the
// step ceiling or a runtime fault ends with a marked step and a diagnostic.
func Simulate(listing []string, opts Options) (*Result, []diag.Diagnostic) {
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	diags := diag.Collector{Stage: "simulator"}
	res := &Result{}

	c, err := NewCPU(listing)
	if err != nil {
		diags.Add(diag.RuntimeError, 0, 0, "cannot load program: %v", err)
		return res, diags.List
	}

	add := func(name, output, marker string) {
		res.Steps = append(res.Steps, Step{
			StepNumber:  len(res.Steps) + 1,
			StepName:    name,
			MemoryState: c.Snapshot(),
			Output:      output,
			Marker:      marker,
		})
	}
	add("initial state", "", "")

	for !c.Halted && len(res.Steps) < maxSteps {
		in, ok := c.Current()
		if !ok {
			c.Halted = true
			break
		}
		printed, err := c.Step()
		if err != nil {
			add(in.Text(), "", MarkerFault)
			diags.Add(diag.RuntimeError, 0, 0, "%v at %s", err, in.Text())
			res.Output = c.Output
			return res, diags.List
		}
		add(in.Text(), printed, "")
	}
	if !c.Halted {
		add("simulation limit exceeded", "", MarkerForcedTermination)
		diags.Add(diag.SimulationLimitExceeded, 0, 0, "stopped after %d steps", maxSteps)
	}
	res.Output = c.Output
	return res, diags.List
}
