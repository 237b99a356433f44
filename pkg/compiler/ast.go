package compiler

import "strings"

// AST node kinds.
const (
	KindProgram  = "Program"
	KindFuncDecl = "FuncDecl" // Value: name; Children: Type, Params, Block
	KindParams   = "Params"
	KindParam    = "Param" // Value: name; Children: Type
	KindType     = "Type"  // Value: int | bool | void
	KindVarDecl  = "VarDecl"
	KindAssign   = "Assign" // Value: target name; Children: value
	KindIf       = "If"     // cond, then, else?
	KindWhile    = "While"
	KindFor      = "For" // init, cond, post, body; absent parts are Empty
	KindReturn   = "Return"
	KindBreak    = "Break"
	KindContinue = "Continue"
	KindPrint    = "Print"
	KindExprStmt = "ExprStmt"
	KindBlock    = "Block"
	KindEmpty    = "Empty"
	KindBinary   = "Binary"  // Value: operator
	KindLogical  = "Logical" // Value: && or ||
	KindUnary    = "Unary"
	KindCall     = "Call" // Value: callee; Children: arguments
	KindInt      = "Int"  // Value: canonical decimal text
	KindBool     = "Bool"
	KindString   = "String" // Value: decoded text
	KindIdent    = "Ident"
	KindError    = "Error" // a span the parser could not make sense of
)

// ASTNode is a node of the abstract syntax tree. It shares the shape of
// ParseNode but is a separate type so each stage's output stays independent.
type ASTNode struct {
	Kind     string     `json:"type"`
	Value    string     `json:"value,omitempty"`
	Line     int        `json:"line,omitempty"`
	Column   int        `json:"column,omitempty"`
	Children []*ASTNode `json:"children,omitempty"`
}

func (n *ASTNode) Child(i int) *ASTNode {
	if n == nil || i < 0 || i >= len(n.Children) {
		return nil
	}
	return n.Children[i]
}

// Clone returns a deep copy of n.
func (n *ASTNode) Clone() *ASTNode {
	if n == nil {
		return nil
	}
	c := *n
	c.Children = make([]*ASTNode, len(n.Children))
	for i, ch := range n.Children {
		c.Children[i] = ch.Clone()
	}
	if len(n.Children) == 0 {
		c.Children = nil
	}
	return &c
}

func (n *ASTNode) String() string {
	var sb strings.Builder
	var walk func(c *ASTNode, depth int)
	walk = func(c *ASTNode, depth int) {
		writeTree(&sb, c.Kind, c.Value, depth)
		for _, ch := range c.Children {
			walk(ch, depth+1)
		}
	}
	if n != nil {
		walk(n, 0)
	}
	return sb.String()
}
