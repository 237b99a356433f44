package compiler

import (
	"fmt"
	"strings"
)

// ParseNode is a node of the concrete parse tree. Interior nodes are named
// after the grammar production that built them ("varDecl", "additive", ...);
// leaves carry a token category as Type and the lexeme as Value.
type ParseNode struct {
	Type     string       `json:"type"`
	Value    string       `json:"value,omitempty"`
	Line     int          `json:"line,omitempty"`
	Column   int          `json:"column,omitempty"`
	Children []*ParseNode `json:"children,omitempty"`
}

func leaf(tok Token) *ParseNode {
	return &ParseNode{Type: tok.Type.String(), Value: tok.Lexeme, Line: tok.Line, Column: tok.Column}
}

// IsLeaf reports whether n stands for a single token.
func (n *ParseNode) IsLeaf() bool {
	_, ok := tokenTypeByName[n.Type]
	return ok && len(n.Children) == 0
}

func (n *ParseNode) add(children ...*ParseNode) {
	for _, c := range children {
		if c == nil {
			continue
		}
		if n.Line == 0 {
			n.Line, n.Column = c.Line, c.Column
		}
		n.Children = append(n.Children, c)
	}
}

func (n *ParseNode) String() string {
	var sb strings.Builder
	writeTree(&sb, n.Type, n.Value, 0)
	var walk func(c *ParseNode, depth int)
	walk = func(c *ParseNode, depth int) {
		for _, ch := range c.Children {
			writeTree(&sb, ch.Type, ch.Value, depth)
			walk(ch, depth+1)
		}
	}
	walk(n, 1)
	return sb.String()
}

func writeTree(sb *strings.Builder, typ, value string, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(typ)
	if value != "" {
		fmt.Fprintf(sb, " %q", value)
	}
	sb.WriteByte('\n')
}
