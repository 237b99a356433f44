package asm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Operand roles, one letter per operand position:
//
//	d  register written
//	u  register read
//	i  immediate integer
//	m  named memory cell
//	l  branch label
//	f  function name
//	n  argument count
//	s  spill slot, written as [sN]
//	q  quoted string
var shapes = map[string][]string{
	"LI":     {"di"},
	"LW":     {"dm"},
	"SW":     {"um"},
	"MOV":    {"du"},
	"ADD":    {"duu"},
	"SUB":    {"duu"},
	"MUL":    {"duu"},
	"DIV":    {"duu"},
	"MOD":    {"duu"},
	"SEQ":    {"duu"},
	"SNE":    {"duu"},
	"SLT":    {"duu"},
	"SLE":    {"duu"},
	"SGT":    {"duu"},
	"SGE":    {"duu"},
	"NEG":    {"du"},
	"NOT":    {"du"},
	"JMP":    {"l"},
	"BEQZ":   {"ul"},
	"BNEZ":   {"ul"},
	"ARG":    {"u"},
	"CALL":   {"dfn", "fn"},
	"RET":    {"", "u"},
	"PRINT":  {"u"},
	"PRINTS": {"q"},
	"HALT":   {""},
	"NOP":    {""},
	"SPILL":  {"us"},
	"RELOAD": {"ds"},
}

// Kind tells instruction lines apart from labels and directives.
type Kind int

const (
	KindInstr Kind = iota
	KindLabel
	KindDirective
)

// Line is one parsed listing line.
type Line struct {
	Kind     Kind
	Label    string   // KindLabel
	Mnemonic string   // instruction mnemonic or directive name (".global")
	Operands []string // instruction operands or directive arguments
	shape    string
}

var ErrDivideByZero = errors.New("division by zero")

// Eval is the arithmetic shared by the optimizer and the simulator. Unary
// operations ignore b. Comparisons yield 1 or 0. Division truncates toward
// zero.
func Eval(mnemonic string, a, b int64) (int64, error) {
	flag := func(c bool) int64 {
		if c {
			return 1
		}
		return 0
	}
	switch mnemonic {
	case "ADD":
		return a + b, nil
	case "SUB":
		return a - b, nil
	case "MUL":
		return a * b, nil
	case "DIV", "MOD":
		if b == 0 {
			return 0, ErrDivideByZero
		}
		// MinInt64 / -1 overflows; wrap like the other operations do
		if b == -1 {
			if mnemonic == "DIV" {
				return -a, nil
			}
			return 0, nil
		}
		if mnemonic == "DIV" {
			return a / b, nil
		}
		return a % b, nil
	case "SEQ":
		return flag(a == b), nil
	case "SNE":
		return flag(a != b), nil
	case "SLT":
		return flag(a < b), nil
	case "SLE":
		return flag(a <= b), nil
	case "SGT":
		return flag(a > b), nil
	case "SGE":
		return flag(a >= b), nil
	case "NEG":
		return -a, nil
	case "NOT":
		return flag(a == 0), nil
	}
	return 0, fmt.Errorf("no arithmetic for %s", mnemonic)
}

// Parse reads a listing. Blank lines and ';' comments are skipped.
func Parse(lines []string) ([]Line, error) {
	var out []Line
	for i, raw := range lines {
		l, ok, err := parseLine(raw, i+1)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, l)
		}
	}
	return out, nil
}

// MustParse is Parse for listings known to be well formed.
func MustParse(lines []string) []Line {
	ls, err := Parse(lines)
	if err != nil {
		panic(err)
	}
	return ls
}

// Format renders ls back to listing text.
func Format(ls []Line) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.String()
	}
	return out
}

func parseLine(raw string, lineNo int) (Line, bool, error) {
	line := strings.TrimSpace(stripComment(raw))
	if line == "" {
		return Line{}, false, nil
	}

	if strings.HasPrefix(line, ".") {
		f := strings.Fields(line)
		switch f[0] {
		case ".global", ".func":
			if len(f) < 2 || (f[0] == ".global" && len(f) != 2) {
				return Line{}, false, fmt.Errorf("malformed %s directive on line %d", f[0], lineNo)
			}
		case ".endfunc":
			if len(f) != 1 {
				return Line{}, false, fmt.Errorf("malformed .endfunc on line %d", lineNo)
			}
		default:
			return Line{}, false, fmt.Errorf("unknown directive '%s' on line %d", f[0], lineNo)
		}
		return Line{Kind: KindDirective, Mnemonic: f[0], Operands: f[1:]}, true, nil
	}

	if strings.HasSuffix(line, ":") {
		label := strings.TrimSuffix(line, ":")
		if !isIdentifier(label) {
			return Line{}, false, fmt.Errorf("invalid label '%s' on line %d", label, lineNo)
		}
		return Line{Kind: KindLabel, Label: label}, true, nil
	}

	mnemonic, rest, _ := strings.Cut(line, " ")
	mnemonic = strings.ToUpper(mnemonic)
	forms, ok := shapes[mnemonic]
	if !ok {
		return Line{}, false, fmt.Errorf("unknown instruction '%s' on line %d", mnemonic, lineNo)
	}

	var operands []string
	rest = strings.TrimSpace(rest)
	if mnemonic == "PRINTS" {
		text, err := strconv.Unquote(rest)
		if err != nil {
			return Line{}, false, fmt.Errorf("invalid string literal on line %d", lineNo)
		}
		operands = []string{text}
	} else if rest != "" {
		for _, op := range strings.Split(rest, ",") {
			op = strings.TrimSpace(op)
			op = strings.TrimSuffix(strings.TrimPrefix(op, "["), "]")
			operands = append(operands, op)
		}
	}

	for _, shape := range forms {
		if len(shape) != len(operands) {
			continue
		}
		if err := checkOperands(shape, operands); err != nil {
			return Line{}, false, fmt.Errorf("%s on line %d: %w", mnemonic, lineNo, err)
		}
		return Line{Kind: KindInstr, Mnemonic: mnemonic, Operands: operands, shape: shape}, true, nil
	}
	return Line{}, false, fmt.Errorf("%s expects %s on line %d", mnemonic, describeForms(forms), lineNo)
}

func describeForms(forms []string) string {
	var counts []string
	for _, f := range forms {
		counts = append(counts, strconv.Itoa(len(f)))
	}
	return strings.Join(counts, " or ") + " operands"
}

func checkOperands(shape string, ops []string) error {
	for i, role := range shape {
		op := ops[i]
		switch role {
		case 'd', 'u':
			if !IsRegister(op) {
				return fmt.Errorf("invalid register '%s'", op)
			}
		case 'i', 'n':
			if _, err := strconv.ParseInt(op, 10, 64); err != nil {
				return fmt.Errorf("invalid immediate '%s'", op)
			}
		case 's':
			if !isSlot(op) {
				return fmt.Errorf("invalid spill slot '%s'", op)
			}
		case 'm', 'l', 'f':
			if !isName(op) {
				return fmt.Errorf("invalid name '%s'", op)
			}
		}
	}
	return nil
}

func stripComment(line string) string {
	inString, escaped := false, false
	for i, r := range line {
		switch {
		case escaped:
			escaped = false
		case inString && r == '\\':
			escaped = true
		case r == '"':
			inString = !inString
		case r == ';' && !inString:
			return line[:i]
		}
	}
	return line
}

// IsRegister reports whether s names a virtual (vN) or physical (rN) register.
func IsRegister(s string) bool {
	if len(s) < 2 || (s[0] != 'v' && s[0] != 'r') {
		return false
	}
	_, err := strconv.Atoi(s[1:])
	return err == nil
}

// IsVirtual reports whether s names a virtual register.
func IsVirtual(s string) bool {
	return IsRegister(s) && s[0] == 'v'
}

func isSlot(s string) bool {
	if len(s) < 2 || s[0] != 's' {
		return false
	}
	_, err := strconv.Atoi(s[1:])
	return err == nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' {
				return false
			}
			continue
		}

		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}

	return true
}

// isName accepts identifiers plus the ".N" suffix used for renamed locals.
func isName(s string) bool {
	base, suffix, found := strings.Cut(s, ".")
	if !found {
		return isIdentifier(s)
	}
	_, err := strconv.Atoi(suffix)
	return isIdentifier(base) && err == nil
}

func (l Line) String() string {
	switch l.Kind {
	case KindLabel:
		return l.Label + ":"
	case KindDirective:
		return strings.TrimSpace(l.Mnemonic + " " + strings.Join(l.Operands, " "))
	}
	if len(l.Operands) == 0 {
		return "    " + l.Mnemonic
	}
	ops := make([]string, len(l.Operands))
	for i, op := range l.Operands {
		switch l.role(i) {
		case 's':
			ops[i] = "[" + op + "]"
		case 'q':
			ops[i] = strconv.Quote(op)
		default:
			ops[i] = op
		}
	}
	return "    " + l.Mnemonic + " " + strings.Join(ops, ", ")
}

// Text is the instruction without indentation.
func (l Line) Text() string {
	return strings.TrimSpace(l.String())
}

func (l Line) role(i int) byte {
	if i < len(l.shape) {
		return l.shape[i]
	}
	return 0
}

// Instr builds an instruction line, picking the operand form by count.
func Instr(mnemonic string, operands ...string) Line {
	l := Line{Kind: KindInstr, Mnemonic: mnemonic, Operands: operands}
	for _, shape := range shapes[mnemonic] {
		if len(shape) == len(operands) {
			l.shape = shape
		}
	}
	return l
}

// Defs returns the registers l writes.
func (l Line) Defs() []string {
	return l.registers('d')
}

// Uses returns the registers l reads.
func (l Line) Uses() []string {
	return l.registers('u')
}

func (l Line) registers(role byte) []string {
	var out []string
	for i := range l.Operands {
		if l.role(i) == role {
			out = append(out, l.Operands[i])
		}
	}
	return out
}

// Rename returns a copy of l with register operands mapped through f.
// f receives the operand and whether it is written.
func (l Line) Rename(f func(reg string, def bool) string) Line {
	c := l
	c.Operands = append([]string(nil), l.Operands...)
	for i, op := range c.Operands {
		switch l.role(i) {
		case 'd':
			c.Operands[i] = f(op, true)
		case 'u':
			c.Operands[i] = f(op, false)
		}
	}
	return c
}

// Operand returns the first operand with the given role, or "".
func (l Line) Operand(role byte) string {
	for i, op := range l.Operands {
		if l.role(i) == role {
			return op
		}
	}
	return ""
}

// IsTerminator reports whether l ends a basic block.
func (l Line) IsTerminator() bool {
	if l.Kind != KindInstr {
		return false
	}
	switch l.Mnemonic {
	case "JMP", "BEQZ", "BNEZ", "RET", "HALT", "CALL":
		return true
	}
	return false
}

// IsBranch reports whether l may jump to a label.
func (l Line) IsBranch() bool {
	return l.Kind == KindInstr && (l.Mnemonic == "JMP" || l.Mnemonic == "BEQZ" || l.Mnemonic == "BNEZ")
}

// IsSpillCode reports whether l was inserted by the register allocator.
func (l Line) IsSpillCode() bool {
	return l.Kind == KindInstr && (l.Mnemonic == "SPILL" || l.Mnemonic == "RELOAD")
}
