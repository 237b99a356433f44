package compiler

import (
	"reflect"
	"testing"

	"gocompile/pkg/diag"
)

func TestBuildSymbols(t *testing.T) {
	src := `int x = 1;
int f(int a) {
    int b = a;
    {
        int c = b;
    }
    return b;
}
y = x + 1;
for (int i = 0; i < 2; i += 1) {
    bool done = i > 0;
}`
	tables, diags := BuildSymbols(buildSource(t, src))
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}

	want := []SymbolTable{
		{Scope: "global", Symbols: map[string]string{"x": "int", "f": "func(int) int", "y": "int"}},
		{Scope: "function:f", Symbols: map[string]string{"a": "int", "b": "int"}},
		{Scope: "block:1", Symbols: map[string]string{"c": "int"}},
		{Scope: "block:2", Symbols: map[string]string{"i": "int"}},
		{Scope: "block:3", Symbols: map[string]string{"done": "bool"}},
	}
	if !reflect.DeepEqual(tables, want) {
		t.Errorf("tables =\n%v\nwant\n%v", tables, want)
	}
}

func TestRedeclarationKeepsFirst(t *testing.T) {
	tables, diags := BuildSymbols(buildSource(t, "int x = 1;\nbool x = true;"))
	if n := diag.Count(diags, diag.NameError); n != 1 || len(diags) != 1 {
		t.Fatalf("expected exactly one NameError, got %v", diags)
	}
	if diags[0].Line != 2 {
		t.Errorf("error reported on line %d, want 2", diags[0].Line)
	}
	if got := tables[0].Symbols["x"]; got != "int" {
		t.Errorf("x has type %s, want int (the first declaration)", got)
	}
}

func TestSymbolErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		count int
	}{
		{"UndeclaredRead", "print(missing);", 1},
		{"UndeclaredCall", "nothing(1);", 1},
		{"DuplicateFunction", "void f() {} void f() {}", 1},
		{"DuplicateParam", "int f(int a, int a) { return a; }", 1},
		{"ShadowingIsFine", "int x; void f() { int x = 2; }", 0},
		{"InitializerSeesOuter", "int x = 1; void f() { int x = x + 1; }", 0},
		{"UseBeforeDeclaration", "void f() { y = z; int z; }", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, diags := BuildSymbols(buildSource(t, tt.src))
			if n := diag.Count(diags, diag.NameError); n != tt.count {
				t.Errorf("got %d NameErrors, want %d: %v", n, tt.count, diags)
			}
		})
	}
}

func TestImplicitDeclarationInfersType(t *testing.T) {
	tables, _ := BuildSymbols(buildSource(t, "flag = 1 < 2; n = -3; s = flag;"))
	want := map[string]string{"flag": "bool", "n": "int", "s": "bool"}
	if !reflect.DeepEqual(tables[0].Symbols, want) {
		t.Errorf("symbols = %v, want %v", tables[0].Symbols, want)
	}
}
