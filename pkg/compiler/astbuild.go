package compiler

import (
	"strconv"
	"strings"
)

// BuildAST reduces a parse tree to an AST: punctuation is dropped, wrapper
// productions with a single child collapse, operator chains fold left, and
// compound assignments are desugared. Parse error nodes survive as Error
// nodes so gaps stay visible.
func BuildAST(root *ParseNode) *ASTNode {
	if root == nil {
		return &ASTNode{Kind: KindProgram}
	}
	return buildNode(root)
}

func at(n *ParseNode, kind string, value string) *ASTNode {
	return &ASTNode{Kind: kind, Value: value, Line: n.Line, Column: n.Column}
}

// interior returns the non-leaf children of n.
func interior(n *ParseNode) []*ParseNode {
	var out []*ParseNode
	for _, c := range n.Children {
		if !c.IsLeaf() {
			out = append(out, c)
		}
	}
	return out
}

// firstLeaf returns the first direct leaf child of n with the given type.
func firstLeaf(n *ParseNode, tt TokenType) *ParseNode {
	for _, c := range n.Children {
		if c.IsLeaf() && c.Type == tt.String() {
			return c
		}
	}
	return nil
}

func buildNode(n *ParseNode) *ASTNode {
	switch n.Type {
	case "program":
		prog := at(n, KindProgram, "")
		for _, c := range interior(n) {
			prog.Children = append(prog.Children, buildNode(c))
		}
		return prog
	case "funcDecl":
		return buildFuncDecl(n)
	case "type":
		return at(n, KindType, n.Children[0].Value)
	case "varDecl":
		kids := interior(n)
		decl := at(n, KindVarDecl, firstLeaf(n, IDENTIFIER).Value)
		decl.Children = append(decl.Children, buildNode(kids[0]))
		if len(kids) > 1 {
			decl.Children = append(decl.Children, buildNode(kids[1]))
		}
		return decl
	case "assignStmt":
		return buildAssign(n)
	case "ifStmt":
		node := at(n, KindIf, "")
		for _, c := range interior(n) {
			node.Children = append(node.Children, buildNode(c))
		}
		return node
	case "whileStmt":
		node := at(n, KindWhile, "")
		for _, c := range interior(n) {
			node.Children = append(node.Children, buildNode(c))
		}
		return node
	case "forStmt":
		return buildFor(n)
	case "returnStmt":
		node := at(n, KindReturn, "")
		for _, c := range interior(n) {
			node.Children = append(node.Children, buildNode(c))
		}
		return node
	case "breakStmt":
		return at(n, KindBreak, "")
	case "continueStmt":
		return at(n, KindContinue, "")
	case "printStmt":
		node := at(n, KindPrint, "")
		node.Children = []*ASTNode{buildNode(interior(n)[0])}
		return node
	case "block":
		node := at(n, KindBlock, "")
		for _, c := range interior(n) {
			node.Children = append(node.Children, buildNode(c))
		}
		return node
	case "exprStmt":
		node := at(n, KindExprStmt, "")
		node.Children = []*ASTNode{buildNode(interior(n)[0])}
		return node
	case "emptyStmt":
		return at(n, KindEmpty, "")
	case "error":
		var parts []string
		for _, c := range n.Children {
			parts = append(parts, c.Value)
		}
		return at(n, KindError, strings.Join(parts, " "))
	case "expression", "parenExpr":
		return buildNode(interior(n)[0])
	case "logicalOr", "logicalAnd":
		return foldChain(n, KindLogical)
	case "equality", "relational", "additive", "multiplicative":
		return foldChain(n, KindBinary)
	case "unary":
		if len(n.Children) == 2 {
			u := at(n, KindUnary, n.Children[0].Value)
			u.Children = []*ASTNode{buildNode(n.Children[1])}
			return u
		}
		return buildNode(n.Children[0])
	case "primary":
		return buildPrimary(n.Children[0])
	case "call":
		call := at(n, KindCall, n.Children[0].Value)
		for _, c := range interior(n) {
			for _, arg := range interior(c) {
				call.Children = append(call.Children, buildNode(arg))
			}
		}
		return call
	}
	if n.IsLeaf() {
		return buildPrimary(n)
	}
	return at(n, KindError, n.Type)
}

func buildFuncDecl(n *ParseNode) *ASTNode {
	fn := at(n, KindFuncDecl, firstLeaf(n, IDENTIFIER).Value)
	params := at(n, KindParams, "")
	var typ, body *ASTNode
	for _, c := range interior(n) {
		switch c.Type {
		case "type":
			typ = buildNode(c)
		case "paramList":
			for _, p := range interior(c) {
				param := at(p, KindParam, firstLeaf(p, IDENTIFIER).Value)
				param.Children = []*ASTNode{buildNode(interior(p)[0])}
				params.Children = append(params.Children, param)
			}
		case "block":
			body = buildNode(c)
		}
	}
	fn.Children = []*ASTNode{typ, params, body}
	return fn
}

var compoundOps = map[string]string{"+=": "+", "-=": "-", "*=": "*", "/=": "/"}

func buildAssign(n *ParseNode) *ASTNode {
	name := n.Children[0]
	op := n.Children[1].Value
	value := buildNode(n.Children[2])
	as := at(n, KindAssign, name.Value)
	if bin, ok := compoundOps[op]; ok {
		b := &ASTNode{Kind: KindBinary, Value: bin, Line: n.Children[1].Line, Column: n.Children[1].Column}
		b.Children = []*ASTNode{at(name, KindIdent, name.Value), value}
		value = b
	}
	as.Children = []*ASTNode{value}
	return as
}

// buildFor splits the header at its two semicolons so missing clauses
// become Empty placeholders.
func buildFor(n *ParseNode) *ASTNode {
	parts := make([]*ASTNode, 3)
	slot := 0
	var body *ASTNode
	for _, c := range n.Children {
		switch {
		case c.IsLeaf() && c.Type == SEMICOLON.String():
			slot++
		case c.IsLeaf() && c.Type == RPAREN.String():
			slot = 3
		case !c.IsLeaf() && slot < 3:
			parts[slot] = buildNode(c)
		case !c.IsLeaf():
			body = buildNode(c)
		}
	}
	node := at(n, KindFor, "")
	for _, p := range parts {
		if p == nil {
			p = at(n, KindEmpty, "")
		}
		node.Children = append(node.Children, p)
	}
	node.Children = append(node.Children, body)
	return node
}

// foldChain turns "a op b op c" into ((a op b) op c).
func foldChain(n *ParseNode, kind string) *ASTNode {
	acc := buildNode(n.Children[0])
	for i := 1; i+1 < len(n.Children); i += 2 {
		op := n.Children[i]
		b := &ASTNode{Kind: kind, Value: op.Value, Line: op.Line, Column: op.Column}
		b.Children = []*ASTNode{acc, buildNode(n.Children[i+1])}
		acc = b
	}
	return acc
}

func buildPrimary(n *ParseNode) *ASTNode {
	if !n.IsLeaf() {
		return buildNode(n)
	}
	switch n.Type {
	case INTEGER.String():
		v, err := parseIntLiteral(n.Value)
		if err != nil {
			return at(n, KindError, n.Value)
		}
		return at(n, KindInt, strconv.FormatInt(v, 10))
	case STRING.String():
		return at(n, KindString, unquote(n.Value))
	case TRUE.String():
		return at(n, KindBool, "true")
	case FALSE.String():
		return at(n, KindBool, "false")
	case IDENTIFIER.String():
		return at(n, KindIdent, n.Value)
	}
	return at(n, KindError, n.Value)
}
