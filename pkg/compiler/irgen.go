package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"gocompile/pkg/diag"
)

// binding is what a source name resolves to inside the generator.
type binding struct {
	ir  string // name used in the IR
	typ string
}

type irScope struct {
	table *SymbolTable
	names map[string]binding
}

type loopLabels struct {
	brk, cont string
}

// IRGen lowers an AST to IR. It reopens the scopes of the symbol builder in
// the same order, so every declaration takes its type from the finished
// symbol tables.
type IRGen struct {
	tables    map[string]*SymbolTable
	funcs     map[string]FuncSig
	scopes    []*irScope
	blocks    int
	nextTemp  int
	nextLabel int
	globals   map[string]bool
	prog      *IRProgram
	cur       *IRFunc
	curSig    *FuncSig
	used      map[string]int // per-function counters for renamed locals
	loops     []loopLabels
	diags     diag.Collector
}

// GenerateIR lowers prog to IR. The entry function __start runs the
// top-level statements, then calls a parameterless main when one exists,
// then halts. Type mismatches are reported as TypeErrors and lowered on a
// best-effort basis.
func GenerateIR(prog *ASTNode, tables []SymbolTable) (*IRProgram, []diag.Diagnostic) {
	g := &IRGen{
		tables:  make(map[string]*SymbolTable),
		globals: make(map[string]bool),
		prog:    &IRProgram{},
		diags:   diag.Collector{Stage: "irgen"},
	}
	for i := range tables {
		g.tables[tables[i].Scope] = &tables[i]
	}
	if prog == nil {
		prog = &ASTNode{Kind: KindProgram}
	}
	g.funcs, _ = collectFuncs(prog)

	start := &IRFunc{Name: EntryFunction}
	g.prog.Funcs = append(g.prog.Funcs, start)
	g.collectGlobals(prog)

	g.pushScope("global")
	startUsed := make(map[string]int)
	for _, item := range prog.Children {
		if item.Kind == KindFuncDecl {
			g.genFunc(item)
			continue
		}
		g.cur, g.curSig, g.used = start, nil, startUsed
		g.genStmt(item)
	}
	g.cur = start
	if sig, ok := g.funcs["main"]; ok && len(sig.Params) == 0 {
		g.emit(IRInst{Op: IRCall, Label: "main", N: 0})
	}
	g.emit(IRInst{Op: IRHalt})
	g.popScope()
	return g.prog, g.diags.List
}

// collectGlobals records the names declared at top level, in order.
func (g *IRGen) collectGlobals(prog *ASTNode) {
	seen := make(map[string]bool)
	for _, item := range prog.Children {
		switch item.Kind {
		case KindVarDecl:
		case KindAssign:
			if _, isFunc := g.funcs[item.Value]; isFunc {
				continue
			}
		default:
			continue
		}
		if !seen[item.Value] {
			seen[item.Value] = true
			g.globals[item.Value] = true
			g.prog.Globals = append(g.prog.Globals, item.Value)
		}
	}
}

func (g *IRGen) errorf(at *ASTNode, format string, args ...any) {
	g.diags.Add(diag.TypeError, at.Line, at.Column, format, args...)
}

func (g *IRGen) emit(in IRInst) {
	g.cur.Body = append(g.cur.Body, in)
}

func (g *IRGen) newTemp() string {
	g.nextTemp++
	return fmt.Sprintf("%%t%d", g.nextTemp)
}

func (g *IRGen) newLabel() string {
	g.nextLabel++
	return fmt.Sprintf("L%d", g.nextLabel)
}

func (g *IRGen) pushScope(name string) {
	t := g.tables[name]
	if t == nil {
		t = &SymbolTable{Scope: name, Symbols: map[string]string{}}
	}
	g.scopes = append(g.scopes, &irScope{table: t, names: make(map[string]binding)})
}

func (g *IRGen) pushBlock() {
	g.blocks++
	g.pushScope(fmt.Sprintf("block:%d", g.blocks))
}

func (g *IRGen) popScope() {
	g.scopes = g.scopes[:len(g.scopes)-1]
}

func (g *IRGen) lookup(name string) (binding, bool) {
	for i := len(g.scopes) - 1; i >= 0; i-- {
		if b, ok := g.scopes[i].names[name]; ok {
			return b, true
		}
	}
	return binding{}, false
}

func (g *IRGen) lookupType(name string) (string, bool) {
	b, ok := g.lookup(name)
	return b.typ, ok
}

// declare binds name in the innermost scope. A second declaration in the
// same scope reuses the first binding, mirroring the symbol tables.
func (g *IRGen) declare(name, declared string) binding {
	s := g.scopes[len(g.scopes)-1]
	if b, ok := s.names[name]; ok {
		return b
	}
	typ := declared
	if t, ok := s.table.Symbols[name]; ok && isValueType(t) {
		typ = t
	}
	b := binding{ir: name, typ: typ}
	if len(g.scopes) > 1 {
		b.ir = g.localName(name)
	}
	s.names[name] = b
	return b
}

func isValueType(t string) bool {
	return t == TypeInt || t == TypeBool
}

// localName renames a local that would collide with a global or an earlier
// local of the same function.
func (g *IRGen) localName(name string) string {
	n, seen := g.used[name]
	if !seen && !g.globals[name] {
		g.used[name] = 0
		return name
	}
	n++
	g.used[name] = n
	return fmt.Sprintf("%s.%d", name, n)
}

func (g *IRGen) genFunc(fn *ASTNode) {
	sig, ok := g.funcs[fn.Value]
	if !ok || sig.Node != fn {
		// redeclared function: reported by the symbol builder. Its blocks
		// still count so scope numbering stays aligned with the tables.
		for _, s := range fn.Child(2).Children {
			g.blocks += countBlocks(s)
		}
		return
	}
	f := &IRFunc{Name: fn.Value}
	g.prog.Funcs = append(g.prog.Funcs, f)
	g.cur, g.curSig = f, &sig
	g.used = make(map[string]int)
	g.pushScope("function:" + fn.Value)
	for i, name := range sig.Names {
		s := g.scopes[len(g.scopes)-1]
		if _, dup := s.names[name]; dup {
			continue
		}
		if sig.Params[i] == TypeVoid {
			g.errorf(fn.Child(1).Child(i), "parameter '%s' declared void", name)
		}
		g.used[name] = 0
		s.names[name] = binding{ir: name, typ: sig.Params[i]}
		f.Params = append(f.Params, name)
	}
	for _, s := range fn.Child(2).Children {
		g.genStmt(s)
	}
	if sig.Return == TypeVoid {
		g.emit(IRInst{Op: IRReturn})
	} else {
		g.emit(IRInst{Op: IRReturn, A: "0"})
	}
	g.popScope()
	g.used = nil
}

func (g *IRGen) genStmt(n *ASTNode) {
	switch n.Kind {
	case KindVarDecl:
		declared := n.Child(0).Value
		if declared == TypeVoid {
			g.errorf(n, "variable '%s' declared void", n.Value)
			declared = TypeInt
		}
		e := n.Child(1)
		if e == nil {
			bnd := g.declare(n.Value, declared)
			g.emit(IRInst{Op: IRCopy, Dst: bnd.ir, A: "0"})
			return
		}
		// the initializer is evaluated before the name comes into scope
		if d, ok := g.direct(e); ok {
			bnd := g.declare(n.Value, declared)
			g.checkAssignable(n, bnd.typ, d.typ, n.Value)
			d.in.Dst = bnd.ir
			g.emit(d.in)
			return
		}
		v, typ := g.value(e)
		bnd := g.declare(n.Value, declared)
		g.checkAssignable(n, bnd.typ, typ, n.Value)
		g.emit(IRInst{Op: IRCopy, Dst: bnd.ir, A: v})
	case KindAssign:
		e := n.Child(0)
		target, known := g.lookup(n.Value)
		if _, isFunc := g.funcs[n.Value]; isFunc && !known {
			g.errorf(n, "cannot assign to function '%s'", n.Value)
			return
		}
		d, isDirect := g.direct(e)
		var v, typ string
		if isDirect {
			typ = d.typ
		} else {
			v, typ = g.value(e)
		}
		if !known {
			declared := typ
			if !isValueType(declared) {
				declared = TypeInt
			}
			target = g.declare(n.Value, declared)
		}
		g.checkAssignable(n, target.typ, typ, n.Value)
		if isDirect {
			d.in.Dst = target.ir
			g.emit(d.in)
			return
		}
		g.emit(IRInst{Op: IRCopy, Dst: target.ir, A: v})
	case KindIf:
		cond := g.condition(n.Child(0))
		elseLabel := g.newLabel()
		g.emit(IRInst{Op: IRIfFalse, A: cond, Label: elseLabel})
		g.genStmt(n.Child(1))
		if els := n.Child(2); els != nil {
			end := g.newLabel()
			g.emit(IRInst{Op: IRGoto, Label: end})
			g.emit(IRInst{Op: IRLabel, Label: elseLabel})
			g.genStmt(els)
			g.emit(IRInst{Op: IRLabel, Label: end})
		} else {
			g.emit(IRInst{Op: IRLabel, Label: elseLabel})
		}
	case KindWhile:
		top, end := g.newLabel(), g.newLabel()
		g.emit(IRInst{Op: IRLabel, Label: top})
		cond := g.condition(n.Child(0))
		g.emit(IRInst{Op: IRIfFalse, A: cond, Label: end})
		g.loops = append(g.loops, loopLabels{brk: end, cont: top})
		g.genStmt(n.Child(1))
		g.loops = g.loops[:len(g.loops)-1]
		g.emit(IRInst{Op: IRGoto, Label: top})
		g.emit(IRInst{Op: IRLabel, Label: end})
	case KindFor:
		g.pushBlock()
		g.genStmt(n.Child(0))
		top, cont, end := g.newLabel(), g.newLabel(), g.newLabel()
		g.emit(IRInst{Op: IRLabel, Label: top})
		if c := n.Child(1); c.Kind != KindEmpty {
			cond := g.condition(c)
			g.emit(IRInst{Op: IRIfFalse, A: cond, Label: end})
		}
		g.loops = append(g.loops, loopLabels{brk: end, cont: cont})
		g.genStmt(n.Child(3))
		g.loops = g.loops[:len(g.loops)-1]
		g.emit(IRInst{Op: IRLabel, Label: cont})
		g.genStmt(n.Child(2))
		g.emit(IRInst{Op: IRGoto, Label: top})
		g.emit(IRInst{Op: IRLabel, Label: end})
		g.popScope()
	case KindReturn:
		g.genReturn(n)
	case KindBreak, KindContinue:
		if len(g.loops) == 0 {
			g.errorf(n, "%s outside a loop", strings.ToLower(n.Kind))
			return
		}
		l := g.loops[len(g.loops)-1]
		target := l.brk
		if n.Kind == KindContinue {
			target = l.cont
		}
		g.emit(IRInst{Op: IRGoto, Label: target})
	case KindPrint:
		e := n.Child(0)
		if e.Kind == KindString {
			g.emit(IRInst{Op: IRPrintS, Text: e.Value})
			return
		}
		v, _ := g.value(e)
		g.emit(IRInst{Op: IRPrint, A: v})
	case KindExprStmt:
		e := n.Child(0)
		if e.Kind == KindCall {
			g.genCall(e, false)
			return
		}
		g.expr(e)
	case KindBlock:
		g.pushBlock()
		for _, s := range n.Children {
			g.genStmt(s)
		}
		g.popScope()
	case KindEmpty, KindError:
	}
}

func (g *IRGen) genReturn(n *ASTNode) {
	if g.curSig == nil {
		g.errorf(n, "return outside a function")
		return
	}
	e := n.Child(0)
	switch {
	case e == nil && g.curSig.Return != TypeVoid:
		g.errorf(n, "missing return value in function '%s' returning %s", g.curSig.Name, g.curSig.Return)
		g.emit(IRInst{Op: IRReturn, A: "0"})
	case e == nil:
		g.emit(IRInst{Op: IRReturn})
	case g.curSig.Return == TypeVoid:
		g.errorf(n, "void function '%s' returns a value", g.curSig.Name)
		g.expr(e)
		g.emit(IRInst{Op: IRReturn})
	default:
		v, typ := g.value(e)
		if typ != "" && typ != g.curSig.Return {
			g.errorf(n, "function '%s' returns %s, not %s", g.curSig.Name, g.curSig.Return, typ)
		}
		g.emit(IRInst{Op: IRReturn, A: v})
	}
}

func (g *IRGen) checkAssignable(at *ASTNode, want, got, name string) {
	if got == "" || want == "" || got == want {
		return
	}
	g.errorf(at, "cannot assign %s to %s variable '%s'", got, want, name)
}

// condition evaluates a branch condition, which must be a bool.
func (g *IRGen) condition(e *ASTNode) string {
	v, typ := g.value(e)
	if typ != "" && typ != TypeBool {
		g.errorf(e, "condition must be bool, not %s", typ)
	}
	return v
}

// value evaluates e where a value is required.
func (g *IRGen) value(e *ASTNode) (string, string) {
	v, typ := g.expr(e)
	switch typ {
	case TypeVoid:
		g.errorf(e, "void value used as an operand")
		return "0", ""
	case TypeString:
		g.errorf(e, "string literal outside print")
		return "0", ""
	}
	return v, typ
}

type directInst struct {
	in  IRInst
	typ string
}

// direct lowers an arithmetic, unary or call expression to a single
// statement whose destination the caller fills in.
func (g *IRGen) direct(e *ASTNode) (directInst, bool) {
	switch e.Kind {
	case KindBinary:
		a, b, typ := g.binaryOperands(e)
		return directInst{in: IRInst{Op: IRBinary, A: a, Operator: e.Value, B: b}, typ: typ}, true
	case KindUnary:
		a, typ := g.unaryOperand(e)
		return directInst{in: IRInst{Op: IRUnary, A: a, Operator: e.Value}, typ: typ}, true
	case KindCall:
		sig, ok := g.funcs[e.Value]
		if !ok || sig.Return == TypeVoid {
			return directInst{}, false
		}
		n := g.pushArgs(e, sig)
		return directInst{in: IRInst{Op: IRCall, Label: e.Value, N: n}, typ: sig.Return}, true
	}
	return directInst{}, false
}

// expr evaluates e into an operand and returns it with its type.
func (g *IRGen) expr(e *ASTNode) (string, string) {
	switch e.Kind {
	case KindInt:
		return e.Value, TypeInt
	case KindBool:
		if e.Value == "true" {
			return "1", TypeBool
		}
		return "0", TypeBool
	case KindString:
		return "0", TypeString
	case KindIdent:
		b, ok := g.lookup(e.Value)
		if !ok {
			if _, isFunc := g.funcs[e.Value]; isFunc {
				g.errorf(e, "function '%s' used as a value", e.Value)
			}
			// undeclared: reported by the symbol builder
			return "0", ""
		}
		return b.ir, b.typ
	case KindBinary, KindUnary:
		d, _ := g.direct(e)
		d.in.Dst = g.newTemp()
		g.emit(d.in)
		return d.in.Dst, d.typ
	case KindLogical:
		return g.logical(e)
	case KindCall:
		return g.genCall(e, true)
	}
	return "0", ""
}

func (g *IRGen) binaryOperands(e *ASTNode) (string, string, string) {
	a, ta := g.value(e.Child(0))
	b, tb := g.value(e.Child(1))
	switch e.Value {
	case "==", "!=":
		if ta != "" && tb != "" && ta != tb {
			g.errorf(e, "mismatched operands %s %s %s", ta, e.Value, tb)
		}
		return a, b, TypeBool
	case "<", ">", "<=", ">=":
		g.expectType(e, TypeInt, ta, tb)
		return a, b, TypeBool
	}
	g.expectType(e, TypeInt, ta, tb)
	return a, b, TypeInt
}

func (g *IRGen) expectType(e *ASTNode, want string, got ...string) {
	for _, t := range got {
		if t != "" && t != want {
			g.errorf(e, "operator %s expects %s operands, not %s", e.Value, want, t)
			return
		}
	}
}

func (g *IRGen) unaryOperand(e *ASTNode) (string, string) {
	a, ta := g.value(e.Child(0))
	if e.Value == "!" {
		g.expectType(e, TypeBool, ta)
		return a, TypeBool
	}
	g.expectType(e, TypeInt, ta)
	return a, TypeInt
}

// logical lowers && and || with short-circuit evaluation into one temporary.
func (g *IRGen) logical(e *ASTNode) (string, string) {
	a, ta := g.value(e.Child(0))
	g.expectType(e, TypeBool, ta)
	result := g.newTemp()
	end := g.newLabel()
	g.emit(IRInst{Op: IRCopy, Dst: result, A: a})
	if e.Value == "&&" {
		g.emit(IRInst{Op: IRIfFalse, A: result, Label: end})
	} else {
		g.emit(IRInst{Op: IRIf, A: result, Label: end})
	}
	b, tb := g.value(e.Child(1))
	g.expectType(e, TypeBool, tb)
	g.emit(IRInst{Op: IRCopy, Dst: result, A: b})
	g.emit(IRInst{Op: IRLabel, Label: end})
	return result, TypeBool
}

// pushArgs evaluates the arguments left to right, checks them against sig
// and emits one arg statement per argument.
func (g *IRGen) pushArgs(e *ASTNode, sig FuncSig) int {
	if len(e.Children) != len(sig.Params) {
		g.errorf(e, "function '%s' takes %d arguments, got %d", sig.Name, len(sig.Params), len(e.Children))
	}
	vals := make([]string, len(e.Children))
	for i, a := range e.Children {
		v, typ := g.value(a)
		if i < len(sig.Params) && typ != "" && typ != sig.Params[i] {
			g.errorf(a, "argument %d of '%s' must be %s, not %s", i+1, sig.Name, sig.Params[i], typ)
		}
		vals[i] = v
	}
	for _, v := range vals {
		g.emit(IRInst{Op: IRArg, A: v})
	}
	return len(vals)
}

func (g *IRGen) genCall(e *ASTNode, wantValue bool) (string, string) {
	sig, ok := g.funcs[e.Value]
	if !ok {
		for _, a := range e.Children {
			g.value(a)
		}
		return "0", ""
	}
	n := g.pushArgs(e, sig)
	if sig.Return == TypeVoid || !wantValue {
		g.emit(IRInst{Op: IRCall, Label: e.Value, N: n})
		return "0", sig.Return
	}
	dst := g.newTemp()
	g.emit(IRInst{Op: IRCall, Dst: dst, Label: e.Value, N: n})
	return dst, sig.Return
}

func countBlocks(n *ASTNode) int {
	if n == nil {
		return 0
	}
	c := 0
	if n.Kind == KindBlock || n.Kind == KindFor {
		c = 1
	}
	for _, ch := range n.Children {
		c += countBlocks(ch)
	}
	return c
}

// formatLiteral renders v as an IR operand.
func formatLiteral(v int64) string {
	return strconv.FormatInt(v, 10)
}
