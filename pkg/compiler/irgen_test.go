package compiler

import (
	"strings"
	"testing"

	"gocompile/pkg/diag"
)

// lower runs every stage up to IR generation and returns the IR together
// with the IR generator's own diagnostics.
func lower(t *testing.T, src string) (*IRProgram, []diag.Diagnostic) {
	t.Helper()
	ast := buildSource(t, src)
	tables, _ := BuildSymbols(ast)
	return GenerateIR(ast, tables)
}

func TestGenerateIR(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "Globals",
			src:  "x = 1 + 2; y = x * 3;",
			want: `global x
global y

func __start
    x = 1 + 2
    y = x * 3
    halt
endfunc
`,
		},
		{
			name: "ForLoop",
			src:  "int main() { int s = 0; for (int i = 0; i < 3; i += 1) { s += i; } return s; }",
			want: `func __start
    call main 0
    halt
endfunc

func main
    s = 0
    i = 0
L1:
    %t1 = i < 3
    iffalse %t1 goto L3
    s = s + i
L2:
    i = i + 1
    goto L1
L3:
    return s
    return 0
endfunc
`,
		},
		{
			name: "IfElse",
			src:  "int a = 2; if (a > 1) print(a); else print(\"small\");",
			want: `global a

func __start
    a = 2
    %t1 = a > 1
    iffalse %t1 goto L1
    print a
    goto L2
L1:
    prints "small"
L2:
    halt
endfunc
`,
		},
		{
			name: "WhileBreakContinue",
			src:  "int n = 0; while (true) { n += 1; if (n < 3) continue; break; }",
			want: `global n

func __start
    n = 0
L1:
    iffalse 1 goto L2
    n = n + 1
    %t1 = n < 3
    iffalse %t1 goto L3
    goto L1
L3:
    goto L2
    goto L1
L2:
    halt
endfunc
`,
		},
		{
			name: "ShortCircuit",
			src:  "bool a = true; bool b = a && false;",
			want: `global a
global b

func __start
    a = 1
    %t1 = a
    iffalse %t1 goto L1
    %t1 = 0
L1:
    b = %t1
    halt
endfunc
`,
		},
		{
			name: "Calls",
			src:  "int sq(int v) { return v * v; } int r = sq(4); sq(2); print(sq(r) - 1);",
			want: `global r

func __start
    arg 4
    r = call sq 1
    arg 2
    call sq 1
    arg r
    %t2 = call sq 1
    %t3 = %t2 - 1
    print %t3
    halt
endfunc

func sq v
    %t1 = v * v
    return %t1
    return 0
endfunc
`,
		},
		{
			name: "RenamedLocals",
			src:  "int x = 1; void f() { int x = 2; { int a = x; } { int a = 3; print(a); } }",
			want: `global x

func __start
    x = 1
    halt
endfunc

func f
    x.1 = 2
    a = x.1
    a.1 = 3
    print a.1
    return
endfunc
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, diags := lower(t, tt.src)
			if len(diags) != 0 {
				t.Fatalf("unexpected diagnostics: %v", diags)
			}
			if got := prog.String(); got != tt.want {
				t.Errorf("IR mismatch\n got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestGenerateIRTypeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"BoolToInt", "int x = true;"},
		{"IntCondition", "if (1) print(1);"},
		{"MixedArithmetic", "x = 1 + true;"},
		{"VoidReturnsValue", "void f() { return 1; }"},
		{"MissingReturnValue", "int f() { return; }"},
		{"ArgumentType", "int f(int a) { return a; } x = f(true);"},
		{"Arity", "int f(int a) { return a; } x = f(1, 2);"},
		{"VoidValue", "void f() {} x = f();"},
		{"StringOutsidePrint", "x = \"s\";"},
		{"BreakOutsideLoop", "break;"},
		{"ReturnAtTopLevel", "return 1;"},
		{"NotOnInt", "bool b = !3;"},
		{"AssignToFunction", "int f() { return 1; } f = 3;"},
		{"AssignToFunctionInBody", "int f() { return 1; } void g() { f = 2; }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, diags := lower(t, tt.src)
			if len(diags) != 1 || diags[0].Kind != diag.TypeError || diags[0].Stage != "irgen" {
				t.Errorf("expected one TypeError, got %v", diags)
			}
		})
	}
}

func TestGenerateIRMainWithParamsNotCalled(t *testing.T) {
	prog, _ := lower(t, "int main(int a) { return a; }")
	for _, in := range prog.Func(EntryFunction).Body {
		if in.Op == IRCall {
			t.Errorf("__start must not call main(a): %v", in)
		}
	}
}

func TestParseIRRoundTrip(t *testing.T) {
	srcs := []string{
		"x = 1 + 2; y = x * 3;",
		"int f(int a, bool b) { if (b && a > 0) return -a; return a % 3; } print(f(2, !false)); print(\"done\\n\");",
		"int n = 10; while (n > 0) { n -= 3; if (n == 4) break; }",
	}
	for _, src := range srcs {
		prog, _ := lower(t, src)
		text := prog.String()
		back, err := ParseIR(text)
		if err != nil {
			t.Fatalf("ParseIR: %v\n%s", err, text)
		}
		if got := back.String(); got != text {
			t.Errorf("round trip changed the IR\n got:\n%s\nwant:\n%s", got, text)
		}
	}
}

func TestParseIRErrors(t *testing.T) {
	tests := []string{
		"x = 1",
		"func f\n    x = 1\n",
		"func f\n    x = call f\nendfunc",
		"func f\n    goto\nendfunc",
		"global\n",
	}
	for _, text := range tests {
		if _, err := ParseIR(text); err == nil {
			t.Errorf("ParseIR(%q) succeeded", strings.ReplaceAll(text, "\n", `\n`))
		}
	}
}
