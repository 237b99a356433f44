package compiler

import (
	"strings"
	"testing"

	"gocompile/pkg/diag"
)

func parseSource(t *testing.T, src string) (*ParseNode, []diag.Diagnostic) {
	t.Helper()
	tokens, lexDiags := Lex(src)
	root, diags := Parse(tokens)
	return root, append(lexDiags, diags...)
}

// shape renders the interior productions of a parse tree, skipping leaves.
func shape(n *ParseNode) string {
	if n.IsLeaf() {
		return ""
	}
	var parts []string
	for _, c := range n.Children {
		if s := shape(c); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return n.Type
	}
	return n.Type + "(" + strings.Join(parts, " ") + ")"
}

func TestParseProductions(t *testing.T) {
	root, diags := parseSource(t, "int x = 1;")
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	want := "program(varDecl(type expression(logicalOr(logicalAnd(equality(relational(additive(multiplicative(unary(primary))))))))))"
	if got := shape(root); got != want {
		t.Errorf("shape =\n%s\nwant\n%s", got, want)
	}

	decl := root.Children[0]
	var leaves []string
	for _, c := range decl.Children {
		if c.IsLeaf() {
			leaves = append(leaves, c.Type+":"+c.Value)
		}
	}
	if got := strings.Join(leaves, " "); got != "IDENTIFIER:x ASSIGN:= SEMICOLON:;" {
		t.Errorf("varDecl leaves = %s", got)
	}
	if last := root.Children[len(root.Children)-1]; last.Type != "EOF" {
		t.Errorf("program must end with the EOF leaf, got %s", last.Type)
	}
}

func TestParseStatements(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string // top-level production names
	}{
		{"Function", "int f(int a, bool b) { return a; }", []string{"funcDecl"}},
		{"Control", "if (a) x = 1; else { x = 2; } while (b) ;", []string{"ifStmt", "whileStmt"}},
		{"For", "for (int i = 0; i < 3; i += 1) print(i);", []string{"forStmt"}},
		{"EmptyFor", "for (;;) break;", []string{"forStmt"}},
		{"Misc", "f(1, 2); ; { continue; }", []string{"exprStmt", "emptyStmt", "block"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, diags := parseSource(t, tt.src)
			if len(diags) != 0 {
				t.Fatalf("unexpected diagnostics: %v", diags)
			}
			var got []string
			for _, c := range root.Children {
				if !c.IsLeaf() {
					got = append(got, c.Type)
				}
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRecovery(t *testing.T) {
	src := "x = ;\ny = 2;\nint = 3;\nprint(y);"
	root, diags := parseSource(t, src)
	if n := diag.Count(diags, diag.SyntaxError); n != 2 {
		t.Fatalf("expected 2 syntax errors, got %v", diags)
	}
	if diags[0].Line != 1 || diags[0].Column != 5 {
		t.Errorf("first error at %d:%d, want 1:5", diags[0].Line, diags[0].Column)
	}
	if diags[1].Line != 3 || diags[1].Column != 5 {
		t.Errorf("second error at %d:%d, want 3:5", diags[1].Line, diags[1].Column)
	}

	var kinds []string
	for _, c := range root.Children {
		if !c.IsLeaf() {
			kinds = append(kinds, c.Type)
		}
	}
	want := "error,assignStmt,error,printStmt"
	if got := strings.Join(kinds, ","); got != want {
		t.Errorf("statements = %s, want %s", got, want)
	}
}

func TestParseMissingBrace(t *testing.T) {
	root, diags := parseSource(t, "int f() {\n  x = 1;\n  y = 2;\n")
	if len(diags) != 1 {
		t.Fatalf("expected exactly one diagnostic, got %v", diags)
	}
	if !strings.Contains(diags[0].Message, "'}'") {
		t.Errorf("message = %q", diags[0].Message)
	}
	fn := root.Children[0]
	if fn.Type != "funcDecl" {
		t.Fatalf("first item = %s", fn.Type)
	}
	body := fn.Children[len(fn.Children)-1]
	if got := len(interior(body)); got != 2 {
		t.Errorf("block kept %d statements, want 2", got)
	}
}

func TestParseAfterLexError(t *testing.T) {
	root, diags := parseSource(t, "x = \"abc\nprint(2);")
	if len(diags) != 2 {
		t.Fatalf("diagnostics = %v", diags)
	}
	if d := diags[0]; d.Kind != diag.LexError || d.Line != 1 || d.Column != 5 {
		t.Errorf("lex diagnostic = %+v", d)
	}
	if d := diags[1]; d.Kind != diag.SyntaxError || d.Line != 2 || d.Column != 1 {
		t.Errorf("syntax diagnostic = %+v", d)
	}
	var last *ParseNode
	for _, c := range root.Children {
		if !c.IsLeaf() {
			last = c
		}
	}
	if last == nil || last.Type != "printStmt" {
		t.Errorf("parsing did not continue past the bad literal:\n%s", root)
	}
}
