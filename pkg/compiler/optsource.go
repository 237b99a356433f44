package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"gocompile/pkg/asm"
)

// OptimizeSource folds constant sub-expressions of prog and prints the
// result as source text. prog is not modified.
func OptimizeSource(prog *ASTNode) string {
	return FormatSource(FoldAST(prog.Clone()))
}

func constValue(n *ASTNode) (int64, bool) {
	switch n.Kind {
	case KindInt:
		v, err := strconv.ParseInt(n.Value, 10, 64)
		return v, err == nil
	case KindBool:
		if n.Value == "true" {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func boolNode(at *ASTNode, v bool) *ASTNode {
	return &ASTNode{Kind: KindBool, Value: strconv.FormatBool(v), Line: at.Line, Column: at.Column}
}

// FoldAST replaces operators whose operands are all literals with their
// value, bottom up. Division by zero is left alone.
func FoldAST(n *ASTNode) *ASTNode {
	if n == nil {
		return nil
	}
	for i, c := range n.Children {
		n.Children[i] = FoldAST(c)
	}
	switch n.Kind {
	case KindBinary:
		a, okA := constValue(n.Child(0))
		b, okB := constValue(n.Child(1))
		if !okA || !okB || n.Child(0).Kind != n.Child(1).Kind {
			return n
		}
		v, ok := evalBinary(n.Value, a, b)
		if !ok {
			return n
		}
		if comparisonOps[n.Value] {
			return boolNode(n, v != 0)
		}
		return &ASTNode{Kind: KindInt, Value: strconv.FormatInt(v, 10), Line: n.Line, Column: n.Column}
	case KindLogical:
		l, r := n.Child(0), n.Child(1)
		if l.Kind != KindBool || r.Kind != KindBool {
			return n
		}
		if n.Value == "&&" {
			return boolNode(n, l.Value == "true" && r.Value == "true")
		}
		return boolNode(n, l.Value == "true" || r.Value == "true")
	case KindUnary:
		c := n.Child(0)
		switch {
		case n.Value == "-" && c.Kind == KindInt:
			v, _ := constValue(c)
			v, _ = asm.Eval("NEG", v, 0)
			return &ASTNode{Kind: KindInt, Value: strconv.FormatInt(v, 10), Line: n.Line, Column: n.Column}
		case n.Value == "!" && c.Kind == KindBool:
			return boolNode(n, c.Value != "true")
		}
	}
	return n
}

var precedence = map[string]int{
	"||": 1, "&&": 2,
	"==": 3, "!=": 3,
	"<": 4, ">": 4, "<=": 4, ">=": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6, "%": 6,
}

const unaryPrecedence = 7

// FormatSource prints an AST as source text, one statement per line with
// four-space indentation.
func FormatSource(prog *ASTNode) string {
	p := &sourcePrinter{}
	if prog != nil {
		for _, item := range prog.Children {
			p.stmt(item)
		}
	}
	return p.sb.String()
}

type sourcePrinter struct {
	sb    strings.Builder
	depth int
}

func (p *sourcePrinter) line(format string, args ...any) {
	p.sb.WriteString(strings.Repeat("    ", p.depth))
	fmt.Fprintf(&p.sb, format, args...)
	p.sb.WriteByte('\n')
}

func (p *sourcePrinter) stmt(n *ASTNode) {
	switch n.Kind {
	case KindFuncDecl:
		var params []string
		for _, param := range n.Child(1).Children {
			params = append(params, param.Child(0).Value+" "+param.Value)
		}
		p.line("%s %s(%s) {", n.Child(0).Value, n.Value, strings.Join(params, ", "))
		p.body(n.Child(2))
		p.line("}")
	case KindBlock:
		p.line("{")
		p.body(n)
		p.line("}")
	case KindIf:
		p.line("if (%s) {", expr(n.Child(0)))
		p.body(n.Child(1))
		if e := n.Child(2); e != nil {
			p.line("} else {")
			p.body(e)
		}
		p.line("}")
	case KindWhile:
		p.line("while (%s) {", expr(n.Child(0)))
		p.body(n.Child(1))
		p.line("}")
	case KindFor:
		cond := ""
		if n.Child(1).Kind != KindEmpty {
			cond = expr(n.Child(1))
		}
		p.line("for (%s; %s; %s) {", simple(n.Child(0)), cond, simple(n.Child(2)))
		p.body(n.Child(3))
		p.line("}")
	case KindEmpty:
		p.line(";")
	default:
		p.line("%s;", simple(n))
	}
}

// body prints the statements of a block, or a single statement, one level
// deeper.
func (p *sourcePrinter) body(n *ASTNode) {
	p.depth++
	if n != nil {
		if n.Kind == KindBlock {
			for _, s := range n.Children {
				p.stmt(s)
			}
		} else {
			p.stmt(n)
		}
	}
	p.depth--
}

// simple prints a statement that fits on one line, without its semicolon.
func simple(n *ASTNode) string {
	switch n.Kind {
	case KindVarDecl:
		if init := n.Child(1); init != nil {
			return fmt.Sprintf("%s %s = %s", n.Child(0).Value, n.Value, expr(init))
		}
		return n.Child(0).Value + " " + n.Value
	case KindAssign:
		return n.Value + " = " + expr(n.Child(0))
	case KindReturn:
		if len(n.Children) > 0 {
			return "return " + expr(n.Child(0))
		}
		return "return"
	case KindBreak:
		return "break"
	case KindContinue:
		return "continue"
	case KindPrint:
		return "print(" + expr(n.Child(0)) + ")"
	case KindExprStmt:
		return expr(n.Child(0))
	case KindEmpty:
		return ""
	case KindError:
		return "/* " + n.Value + " */"
	}
	return expr(n)
}

func expr(n *ASTNode) string {
	switch n.Kind {
	case KindBinary, KindLogical:
		prec := precedence[n.Value]
		return operand(n.Child(0), prec, false) + " " + n.Value + " " + operand(n.Child(1), prec, true)
	case KindUnary:
		return n.Value + operand(n.Child(0), unaryPrecedence, false)
	case KindCall:
		var args []string
		for _, a := range n.Children {
			args = append(args, expr(a))
		}
		return n.Value + "(" + strings.Join(args, ", ") + ")"
	case KindString:
		return quoteSource(n.Value)
	case KindError:
		return "/* " + n.Value + " */"
	}
	return n.Value
}

// operand parenthesizes n when it binds looser than its parent, or as
// tightly on the right of a left-associative operator.
func operand(n *ASTNode, parent int, right bool) string {
	s := expr(n)
	prec := unaryPrecedence + 1
	switch n.Kind {
	case KindBinary, KindLogical:
		prec = precedence[n.Value]
	case KindUnary:
		prec = unaryPrecedence
	}
	if prec < parent || (right && prec == parent) {
		return "(" + s + ")"
	}
	return s
}

func quoteSource(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`)
	return `"` + r.Replace(s) + `"`
}
