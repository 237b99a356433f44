package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// IROp is the kind of one IR statement.
type IROp int

const (
	IRLabel   IROp = iota // Label:
	IRCopy                // Dst = A
	IRBinary              // Dst = A Operator B
	IRUnary               // Dst = Operator A
	IRGoto                // goto Label
	IRIfFalse             // iffalse A goto Label
	IRIf                  // if A goto Label
	IRArg                 // arg A
	IRCall                // [Dst =] call Label N
	IRReturn              // return [A]
	IRPrint               // print A
	IRPrintS              // prints "Text"
	IRHalt                // halt
)

// IRInst is one three-address statement. Operands are declared names,
// temporaries (%tN) or integer literals.
type IRInst struct {
	Op       IROp
	Dst      string
	A, B     string
	Operator string
	Label    string
	Text     string
	N        int
}

// IRFunc is a function body. The entry function is called "__start".
type IRFunc struct {
	Name   string
	Params []string
	Body   []IRInst
}

// IRProgram is the whole linear intermediate form.
type IRProgram struct {
	Globals []string
	Funcs   []*IRFunc
}

const EntryFunction = "__start"

var irOperators = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "%": true,
	"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true,
}

func isTemp(s string) bool {
	return strings.HasPrefix(s, "%t")
}

func isLiteral(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func literal(s string) (int64, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil
}

// Uses returns the operands in read.
func (in IRInst) Uses() []string {
	var out []string
	add := func(s string) {
		if s != "" && !isLiteral(s) {
			out = append(out, s)
		}
	}
	switch in.Op {
	case IRCopy, IRUnary, IRIfFalse, IRIf, IRArg, IRReturn, IRPrint:
		add(in.A)
	case IRBinary:
		add(in.A)
		add(in.B)
	}
	return out
}

// Def returns the name in writes, or "".
func (in IRInst) Def() string {
	switch in.Op {
	case IRCopy, IRBinary, IRUnary, IRCall:
		return in.Dst
	}
	return ""
}

// IsJump reports whether in may transfer control to in.Label.
func (in IRInst) IsJump() bool {
	return in.Op == IRGoto || in.Op == IRIfFalse || in.Op == IRIf
}

func (in IRInst) String() string {
	switch in.Op {
	case IRLabel:
		return in.Label + ":"
	case IRCopy:
		return fmt.Sprintf("%s = %s", in.Dst, in.A)
	case IRBinary:
		return fmt.Sprintf("%s = %s %s %s", in.Dst, in.A, in.Operator, in.B)
	case IRUnary:
		return fmt.Sprintf("%s = %s %s", in.Dst, in.Operator, in.A)
	case IRGoto:
		return "goto " + in.Label
	case IRIfFalse:
		return fmt.Sprintf("iffalse %s goto %s", in.A, in.Label)
	case IRIf:
		return fmt.Sprintf("if %s goto %s", in.A, in.Label)
	case IRArg:
		return "arg " + in.A
	case IRCall:
		if in.Dst != "" {
			return fmt.Sprintf("%s = call %s %d", in.Dst, in.Label, in.N)
		}
		return fmt.Sprintf("call %s %d", in.Label, in.N)
	case IRReturn:
		if in.A != "" {
			return "return " + in.A
		}
		return "return"
	case IRPrint:
		return "print " + in.A
	case IRPrintS:
		return "prints " + strconv.Quote(in.Text)
	case IRHalt:
		return "halt"
	}
	return fmt.Sprintf("<op %d>", in.Op)
}

func (p *IRProgram) String() string {
	var sb strings.Builder
	for _, g := range p.Globals {
		fmt.Fprintf(&sb, "global %s\n", g)
	}
	for i, f := range p.Funcs {
		if i > 0 || len(p.Globals) > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("func " + f.Name)
		for _, param := range f.Params {
			sb.WriteString(" " + param)
		}
		sb.WriteByte('\n')
		for _, in := range f.Body {
			if in.Op != IRLabel {
				sb.WriteString("    ")
			}
			sb.WriteString(in.String())
			sb.WriteByte('\n')
		}
		sb.WriteString("endfunc\n")
	}
	return sb.String()
}

// Func returns the function called name, or nil.
func (p *IRProgram) Func(name string) *IRFunc {
	for _, f := range p.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Clone returns a deep copy of p.
func (p *IRProgram) Clone() *IRProgram {
	c := &IRProgram{Globals: append([]string(nil), p.Globals...)}
	for _, f := range p.Funcs {
		c.Funcs = append(c.Funcs, &IRFunc{
			Name:   f.Name,
			Params: append([]string(nil), f.Params...),
			Body:   append([]IRInst(nil), f.Body...),
		})
	}
	return c
}

// ParseIR reads the text form produced by IRProgram.String.
func ParseIR(text string) (*IRProgram, error) {
	prog := &IRProgram{}
	var cur *IRFunc
	for i, raw := range strings.Split(text, "\n") {
		lineNo := i + 1
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch {
		case fields[0] == "global" && cur == nil:
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: malformed global %q", lineNo, line)
			}
			prog.Globals = append(prog.Globals, fields[1])
			continue
		case fields[0] == "func" && cur == nil:
			if len(fields) < 2 {
				return nil, fmt.Errorf("line %d: function without a name", lineNo)
			}
			cur = &IRFunc{Name: fields[1], Params: append([]string(nil), fields[2:]...)}
			continue
		case fields[0] == "endfunc" && len(fields) == 1 && cur != nil:
			prog.Funcs = append(prog.Funcs, cur)
			cur = nil
			continue
		case cur == nil:
			return nil, fmt.Errorf("line %d: statement outside a function: %q", lineNo, line)
		}
		in, err := parseIRInst(line, fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		cur.Body = append(cur.Body, in)
	}
	if cur != nil {
		return nil, fmt.Errorf("function %s is missing endfunc", cur.Name)
	}
	return prog, nil
}

func parseIRInst(line string, f []string) (IRInst, error) {
	bad := fmt.Errorf("malformed statement %q", line)
	switch {
	case len(f) == 1 && strings.HasSuffix(f[0], ":"):
		return IRInst{Op: IRLabel, Label: strings.TrimSuffix(f[0], ":")}, nil
	case f[0] == "goto" && len(f) == 2:
		return IRInst{Op: IRGoto, Label: f[1]}, nil
	case f[0] == "iffalse" && len(f) == 4 && f[2] == "goto":
		return IRInst{Op: IRIfFalse, A: f[1], Label: f[3]}, nil
	case f[0] == "if" && len(f) == 4 && f[2] == "goto":
		return IRInst{Op: IRIf, A: f[1], Label: f[3]}, nil
	case f[0] == "arg" && len(f) == 2:
		return IRInst{Op: IRArg, A: f[1]}, nil
	case f[0] == "call" && len(f) == 3 && f[1] != "=":
		n, err := strconv.Atoi(f[2])
		if err != nil {
			return IRInst{}, bad
		}
		return IRInst{Op: IRCall, Label: f[1], N: n}, nil
	case f[0] == "return" && len(f) <= 2:
		in := IRInst{Op: IRReturn}
		if len(f) == 2 {
			in.A = f[1]
		}
		return in, nil
	case f[0] == "print" && len(f) == 2:
		return IRInst{Op: IRPrint, A: f[1]}, nil
	case f[0] == "prints" && len(f) >= 2 && strings.HasPrefix(f[1], `"`):
		text, err := strconv.Unquote(strings.TrimSpace(strings.TrimPrefix(line, "prints")))
		if err != nil {
			return IRInst{}, bad
		}
		return IRInst{Op: IRPrintS, Text: text}, nil
	case f[0] == "halt" && len(f) == 1:
		return IRInst{Op: IRHalt}, nil
	case len(f) >= 3 && f[1] == "=":
		dst := f[0]
		switch {
		case len(f) == 3:
			return IRInst{Op: IRCopy, Dst: dst, A: f[2]}, nil
		case len(f) == 4 && (f[2] == "-" || f[2] == "!"):
			return IRInst{Op: IRUnary, Dst: dst, Operator: f[2], A: f[3]}, nil
		case len(f) == 5 && f[2] == "call" && !irOperators[f[3]]:
			n, err := strconv.Atoi(f[4])
			if err != nil {
				return IRInst{}, bad
			}
			return IRInst{Op: IRCall, Dst: dst, Label: f[3], N: n}, nil
		case len(f) == 5:
			return IRInst{Op: IRBinary, Dst: dst, A: f[2], Operator: f[3], B: f[4]}, nil
		}
	}
	return IRInst{}, bad
}
