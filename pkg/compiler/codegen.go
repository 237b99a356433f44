package compiler

import (
	"fmt"
	"strconv"
)

// binaryMnemonics maps IR operators to machine instructions.
var binaryMnemonics = map[string]string{
	"+": "ADD", "-": "SUB", "*": "MUL", "/": "DIV", "%": "MOD",
	"==": "SEQ", "!=": "SNE", "<": "SLT", "<=": "SLE", ">": "SGT", ">=": "SGE",
}

// CodeGen lowers IR to a listing over unbounded virtual registers.
// Temporaries keep one register for their whole life; declared variables
// live in memory and go through LW/SW.
type CodeGen struct {
	out   []string
	temps map[string]string
	next  int
}

// GenerateAssembly translates prog statement by statement, keeping IR order.
func GenerateAssembly(prog *IRProgram) []string {
	cg := &CodeGen{temps: make(map[string]string)}
	for _, g := range prog.Globals {
		cg.out = append(cg.out, ".global "+g)
	}
	for _, f := range prog.Funcs {
		cg.genFunc(f)
	}
	return cg.out
}

func (cg *CodeGen) line(format string, args ...any) {
	cg.out = append(cg.out, "    "+fmt.Sprintf(format, args...))
}

func (cg *CodeGen) newReg() string {
	r := fmt.Sprintf("v%d", cg.next)
	cg.next++
	return r
}

// operand returns a register holding the value of an IR operand.
func (cg *CodeGen) operand(s string) string {
	if v, ok := literal(s); ok {
		r := cg.newReg()
		cg.line("LI %s, %d", r, v)
		return r
	}
	if isTemp(s) {
		return cg.temp(s)
	}
	r := cg.newReg()
	cg.line("LW %s, %s", r, s)
	return r
}

func (cg *CodeGen) temp(t string) string {
	r, ok := cg.temps[t]
	if !ok {
		r = cg.newReg()
		cg.temps[t] = r
	}
	return r
}

// target returns the register a result for dst is computed into, and a
// function that stores it when dst is a variable.
func (cg *CodeGen) target(dst string) (string, func()) {
	if isTemp(dst) {
		return cg.temp(dst), func() {}
	}
	r := cg.newReg()
	return r, func() { cg.line("SW %s, %s", r, dst) }
}

func (cg *CodeGen) genFunc(f *IRFunc) {
	header := ".func " + f.Name
	for _, p := range f.Params {
		header += " " + p
	}
	cg.out = append(cg.out, header)
	for _, in := range f.Body {
		cg.genInst(in)
	}
	cg.out = append(cg.out, ".endfunc")
}

func (cg *CodeGen) genInst(in IRInst) {
	switch in.Op {
	case IRLabel:
		cg.out = append(cg.out, in.Label+":")
	case IRCopy:
		if isTemp(in.Dst) {
			d := cg.temp(in.Dst)
			switch {
			case isLiteral(in.A):
				cg.line("LI %s, %s", d, in.A)
			case isTemp(in.A):
				cg.line("MOV %s, %s", d, cg.temp(in.A))
			default:
				cg.line("LW %s, %s", d, in.A)
			}
			return
		}
		cg.line("SW %s, %s", cg.operand(in.A), in.Dst)
	case IRBinary:
		a := cg.operand(in.A)
		b := cg.operand(in.B)
		d, store := cg.target(in.Dst)
		cg.line("%s %s, %s, %s", binaryMnemonics[in.Operator], d, a, b)
		store()
	case IRUnary:
		a := cg.operand(in.A)
		d, store := cg.target(in.Dst)
		mn := "NEG"
		if in.Operator == "!" {
			mn = "NOT"
		}
		cg.line("%s %s, %s", mn, d, a)
		store()
	case IRGoto:
		cg.line("JMP %s", in.Label)
	case IRIfFalse:
		cg.line("BEQZ %s, %s", cg.operand(in.A), in.Label)
	case IRIf:
		cg.line("BNEZ %s, %s", cg.operand(in.A), in.Label)
	case IRArg:
		cg.line("ARG %s", cg.operand(in.A))
	case IRCall:
		if in.Dst == "" {
			cg.line("CALL %s, %d", in.Label, in.N)
			return
		}
		d, store := cg.target(in.Dst)
		cg.line("CALL %s, %s, %d", d, in.Label, in.N)
		store()
	case IRReturn:
		if in.A == "" {
			cg.line("RET")
			return
		}
		cg.line("RET %s", cg.operand(in.A))
	case IRPrint:
		cg.line("PRINT %s", cg.operand(in.A))
	case IRPrintS:
		cg.line("PRINTS %s", strconv.Quote(in.Text))
	case IRHalt:
		cg.line("HALT")
	}
}
