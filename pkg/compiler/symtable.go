package compiler

import (
	"fmt"
	"strings"

	"gocompile/pkg/diag"
)

// Type descriptors.
const (
	TypeInt    = "int"
	TypeBool   = "bool"
	TypeVoid   = "void"
	TypeString = "string"
)

// SymbolTable is the finished table of one lexical scope. Scope is "global",
// "function:<name>" or "block:<n>", where n numbers block scopes in the
// order they are opened.
type SymbolTable struct {
	Scope   string            `json:"scope"`
	Symbols map[string]string `json:"symbols"`
}

// FuncSig is the signature of a declared function.
type FuncSig struct {
	Name   string
	Params []string // parameter types
	Names  []string // parameter names
	Return string
	Node   *ASTNode
}

func (f FuncSig) Descriptor() string {
	return fmt.Sprintf("func(%s) %s", strings.Join(f.Params, ", "), f.Return)
}

// collectFuncs reads the function signatures of a program. The first
// declaration of a name wins.
func collectFuncs(prog *ASTNode) (map[string]FuncSig, []FuncSig) {
	byName := make(map[string]FuncSig)
	var dups []FuncSig
	for _, item := range prog.Children {
		if item.Kind != KindFuncDecl {
			continue
		}
		sig := FuncSig{Name: item.Value, Return: item.Child(0).Value, Node: item}
		for _, p := range item.Child(1).Children {
			sig.Params = append(sig.Params, p.Child(0).Value)
			sig.Names = append(sig.Names, p.Value)
		}
		if _, exists := byName[sig.Name]; exists {
			dups = append(dups, sig)
			continue
		}
		byName[sig.Name] = sig
	}
	return byName, dups
}

var comparisonOps = map[string]bool{"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true}

// inferType gives the type an expression evaluates to, or "" when unknown.
func inferType(e *ASTNode, lookup func(string) (string, bool), funcs map[string]FuncSig) string {
	switch e.Kind {
	case KindInt:
		return TypeInt
	case KindBool, KindLogical:
		return TypeBool
	case KindString:
		return TypeString
	case KindIdent:
		t, _ := lookup(e.Value)
		return t
	case KindUnary:
		if e.Value == "!" {
			return TypeBool
		}
		return TypeInt
	case KindBinary:
		if comparisonOps[e.Value] {
			return TypeBool
		}
		return TypeInt
	case KindCall:
		if sig, ok := funcs[e.Value]; ok {
			return sig.Return
		}
	}
	return ""
}

// symbolBuilder walks the AST in source order, opening a scope for every
// function and block.
type symbolBuilder struct {
	tables []*SymbolTable
	stack  []*SymbolTable
	blocks int
	funcs  map[string]FuncSig
	diags  diag.Collector
}

// BuildSymbols produces one table per scope in the order scopes are opened.
// Redeclarations and undeclared references are reported as NameErrors;
// the first declaration of a name wins. Assigning to an undeclared name
// declares it in the current scope with the type of the assigned value.
func BuildSymbols(prog *ASTNode) ([]SymbolTable, []diag.Diagnostic) {
	b := &symbolBuilder{diags: diag.Collector{Stage: "symbols"}}
	if prog == nil {
		prog = &ASTNode{Kind: KindProgram}
	}
	var dups []FuncSig
	b.funcs, dups = collectFuncs(prog)

	b.open("global")
	for _, item := range prog.Children {
		if item.Kind != KindFuncDecl {
			continue
		}
		if sig, ok := b.funcs[item.Value]; ok && sig.Node == item {
			b.declare(item.Value, sig.Descriptor(), item)
		}
	}
	for _, d := range dups {
		b.diags.Add(diag.NameError, d.Node.Line, d.Node.Column, "function '%s' redeclared", d.Name)
	}

	for _, item := range prog.Children {
		b.visit(item)
	}
	b.close()

	out := make([]SymbolTable, len(b.tables))
	for i, t := range b.tables {
		out[i] = *t
	}
	return out, b.diags.List
}

func (b *symbolBuilder) open(name string) {
	t := &SymbolTable{Scope: name, Symbols: make(map[string]string)}
	b.tables = append(b.tables, t)
	b.stack = append(b.stack, t)
}

func (b *symbolBuilder) openBlock() {
	b.blocks++
	b.open(fmt.Sprintf("block:%d", b.blocks))
}

func (b *symbolBuilder) close() {
	b.stack = b.stack[:len(b.stack)-1]
}

func (b *symbolBuilder) current() *SymbolTable {
	return b.stack[len(b.stack)-1]
}

func (b *symbolBuilder) declare(name, typ string, at *ASTNode) {
	t := b.current()
	if _, exists := t.Symbols[name]; exists {
		b.diags.Add(diag.NameError, at.Line, at.Column, "'%s' redeclared in scope %s", name, t.Scope)
		return
	}
	t.Symbols[name] = typ
}

// lookup resolves name to the nearest enclosing declaration.
func (b *symbolBuilder) lookup(name string) (string, bool) {
	for i := len(b.stack) - 1; i >= 0; i-- {
		if t, ok := b.stack[i].Symbols[name]; ok {
			return t, true
		}
	}
	return "", false
}

func (b *symbolBuilder) visit(n *ASTNode) {
	if n == nil {
		return
	}
	switch n.Kind {
	case KindFuncDecl:
		b.open("function:" + n.Value)
		for _, p := range n.Child(1).Children {
			b.declare(p.Value, p.Child(0).Value, p)
		}
		// the body shares the function scope
		for _, s := range n.Child(2).Children {
			b.visit(s)
		}
		b.close()
	case KindBlock:
		b.openBlock()
		for _, s := range n.Children {
			b.visit(s)
		}
		b.close()
	case KindFor:
		b.openBlock()
		for _, c := range n.Children {
			b.visit(c)
		}
		b.close()
	case KindVarDecl:
		if init := n.Child(1); init != nil {
			b.visit(init)
		}
		b.declare(n.Value, n.Child(0).Value, n)
	case KindAssign:
		b.visit(n.Child(0))
		if _, ok := b.lookup(n.Value); !ok {
			typ := inferType(n.Child(0), b.lookup, b.funcs)
			if typ == "" {
				typ = TypeInt
			}
			b.current().Symbols[n.Value] = typ
		}
	case KindIdent:
		if _, ok := b.lookup(n.Value); !ok {
			b.diags.Add(diag.NameError, n.Line, n.Column, "undeclared identifier '%s'", n.Value)
		}
	case KindCall:
		if _, ok := b.funcs[n.Value]; !ok {
			b.diags.Add(diag.NameError, n.Line, n.Column, "undeclared function '%s'", n.Value)
		}
		for _, a := range n.Children {
			b.visit(a)
		}
	default:
		for _, c := range n.Children {
			b.visit(c)
		}
	}
}
