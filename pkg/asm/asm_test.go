package asm

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestHelperFunctions(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"abc", true},
		{"_abc", true},
		{"abc1", true},
		{"1abc", false},
		{"", false},
		{"ab-c", false},
	}
	for _, tc := range tests {
		if got := isIdentifier(tc.input); got != tc.want {
			t.Errorf("isIdentifier(%q) = %v; want %v", tc.input, got, tc.want)
		}
	}

	names := map[string]bool{"x": true, "x.1": true, "x.": false, "x.y": false, ".1": false}
	for in, want := range names {
		if got := isName(in); got != want {
			t.Errorf("isName(%q) = %v; want %v", in, got, want)
		}
	}

	regs := []struct {
		in       string
		reg, vir bool
	}{
		{"v0", true, true},
		{"v12", true, true},
		{"r3", true, false},
		{"s0", false, false},
		{"v", false, false},
		{"rx", false, false},
	}
	for _, tc := range regs {
		if IsRegister(tc.in) != tc.reg || IsVirtual(tc.in) != tc.vir {
			t.Errorf("%s: IsRegister=%v IsVirtual=%v", tc.in, IsRegister(tc.in), IsVirtual(tc.in))
		}
	}
}

func TestParseFormat(t *testing.T) {
	listing := []string{
		".global x",
		".func __start",
		"    LI v0, 3",
		"    SW v0, x",
		"L1:",
		"    LW v1, x.2",
		"    BEQZ v1, L1",
		"    CALL v2, f, 1",
		"    CALL f, 0",
		"    RET",
		"    RET v2",
		"    SPILL r1, [s0]",
		"    RELOAD r2, [s0]",
		`    PRINTS "semi; colon \"quoted\""`,
		"    HALT",
		".endfunc",
		".func f a b",
		"    NOP",
		".endfunc",
	}
	ls, err := Parse(listing)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := Format(ls); !reflect.DeepEqual(got, listing) {
		t.Errorf("Format(Parse(listing)) =\n%v\nwant\n%v", got, listing)
	}
	if ls[13].Operands[0] != `semi; colon "quoted"` {
		t.Errorf("PRINTS operand = %q", ls[13].Operands[0])
	}
	if ls[16].Mnemonic != ".func" || !reflect.DeepEqual(ls[16].Operands, []string{"f", "a", "b"}) {
		t.Errorf("directive = %+v", ls[16])
	}
}

func TestParseNormalizes(t *testing.T) {
	ls, err := Parse([]string{"", "  add v2,v0 ,  v1   ; sum", "; only a comment"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ls) != 1 {
		t.Fatalf("got %d lines, want 1", len(ls))
	}
	if got := ls[0].String(); got != "    ADD v2, v0, v1" {
		t.Errorf("String() = %q", got)
	}
	if got := ls[0].Text(); got != "ADD v2, v0, v1" {
		t.Errorf("Text() = %q", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"UnknownInstruction": "    FOO v0",
		"UnknownDirective":   ".data x",
		"GlobalArity":        ".global x y",
		"BadLabel":           "1abc:",
		"BadRegister":        "    LI x0, 3",
		"BadImmediate":       "    LI v0, three",
		"OperandCount":       "    ADD v0, v1",
		"BadSlot":            "    SPILL r0, [t0]",
		"BadString":          "    PRINTS unquoted",
		"EndfuncArgs":        ".endfunc now",
	}
	for name, line := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]string{line}); err == nil {
				t.Errorf("Parse(%q) succeeded", line)
			}
		})
	}
}

func TestDefsUses(t *testing.T) {
	tests := []struct {
		line       string
		defs, uses []string
	}{
		{"ADD v2, v0, v1", []string{"v2"}, []string{"v0", "v1"}},
		{"SW v3, x", nil, []string{"v3"}},
		{"LW v4, x", []string{"v4"}, nil},
		{"CALL v5, f, 2", []string{"v5"}, nil},
		{"CALL f, 2", nil, nil},
		{"RET v6", nil, []string{"v6"}},
		{"SPILL r0, [s1]", nil, []string{"r0"}},
		{"RELOAD r1, [s1]", []string{"r1"}, nil},
	}
	for _, tc := range tests {
		l := MustParse([]string{tc.line})[0]
		if !reflect.DeepEqual(l.Defs(), tc.defs) || !reflect.DeepEqual(l.Uses(), tc.uses) {
			t.Errorf("%s: defs %v uses %v, want %v %v", tc.line, l.Defs(), l.Uses(), tc.defs, tc.uses)
		}
	}
}

func TestRename(t *testing.T) {
	l := MustParse([]string{"SUB v2, v0, v2"})[0]
	got := l.Rename(func(reg string, def bool) string {
		if def {
			return "r9"
		}
		return "r" + reg[1:]
	})
	if got.Text() != "SUB r9, r0, r2" {
		t.Errorf("Rename = %s", got.Text())
	}
	if l.Text() != "SUB v2, v0, v2" {
		t.Errorf("Rename modified the original: %s", l.Text())
	}
}

func TestLineClassification(t *testing.T) {
	ls := MustParse([]string{"L1:", "JMP L1", "BNEZ v0, L1", "CALL f, 0", "ADD v0, v0, v0", "SPILL r0, [s0]"})
	terms := []bool{false, true, true, true, false, false}
	branches := []bool{false, true, true, false, false, false}
	for i, l := range ls {
		if l.IsTerminator() != terms[i] || l.IsBranch() != branches[i] {
			t.Errorf("%q: terminator=%v branch=%v", l.String(), l.IsTerminator(), l.IsBranch())
		}
	}
	if !ls[5].IsSpillCode() {
		t.Error("SPILL is spill code")
	}
	if got := Instr("SPILL", "r0", "s3").String(); got != "    SPILL r0, [s3]" {
		t.Errorf("Instr = %q", got)
	}
}

func TestEval(t *testing.T) {
	tests := []struct {
		op   string
		a, b int64
		want int64
	}{
		{"ADD", 2, 3, 5},
		{"SUB", 2, 3, -1},
		{"MUL", -4, 3, -12},
		{"DIV", 7, 2, 3},
		{"DIV", -7, 2, -3},
		{"MOD", -7, 2, -1},
		{"DIV", math.MinInt64, -1, math.MinInt64},
		{"MOD", math.MinInt64, -1, 0},
		{"ADD", math.MaxInt64, 1, math.MinInt64},
		{"SEQ", 3, 3, 1},
		{"SNE", 3, 3, 0},
		{"SLT", 2, 3, 1},
		{"SLE", 3, 3, 1},
		{"SGT", 2, 3, 0},
		{"SGE", 3, 4, 0},
		{"NEG", 5, 0, -5},
		{"NOT", 0, 0, 1},
		{"NOT", 7, 0, 0},
	}
	for _, tc := range tests {
		got, err := Eval(tc.op, tc.a, tc.b)
		if err != nil || got != tc.want {
			t.Errorf("Eval(%s, %d, %d) = %d, %v; want %d", tc.op, tc.a, tc.b, got, err, tc.want)
		}
	}

	for _, op := range []string{"DIV", "MOD"} {
		if _, err := Eval(op, 1, 0); !errors.Is(err, ErrDivideByZero) {
			t.Errorf("Eval(%s, 1, 0) error = %v", op, err)
		}
	}
	if _, err := Eval("JMP", 1, 1); err == nil {
		t.Error("expected an error for a non-arithmetic mnemonic")
	}
}
