package compiler

import (
	"fmt"

	"gocompile/pkg/diag"
)

// Parser consumes the token slice produced by the Lexer and builds a concrete
// parse tree. Every production below becomes a node of the same name.
//
// Grammar:
//
//	program        = (funcDecl | statement)* EOF
//	funcDecl       = type IDENTIFIER "(" paramList? ")" block
//	paramList      = param ("," param)*
//	param          = type IDENTIFIER
//	type           = "int" | "bool" | "void"
//	statement      = varDecl | assignStmt | ifStmt | whileStmt | forStmt | returnStmt
//	               | breakStmt | continueStmt | printStmt | block | exprStmt | emptyStmt
//	varDecl        = type IDENTIFIER ("=" expression)? ";"
//	assignStmt     = IDENTIFIER ("=" | "+=" | "-=" | "*=" | "/=") expression ";"
//	ifStmt         = "if" "(" expression ")" statement ("else" statement)?
//	whileStmt      = "while" "(" expression ")" statement
//	forStmt        = "for" "(" simple? ";" expression? ";" simple? ")" statement
//	returnStmt     = "return" expression? ";"
//	printStmt      = "print" "(" expression ")" ";"
//	block          = "{" statement* "}"
//	expression     = logicalOr
//	logicalOr      = logicalAnd ("||" logicalAnd)*
//	logicalAnd     = equality ("&&" equality)*
//	equality       = relational (("==" | "!=") relational)*
//	relational     = additive (("<" | ">" | "<=" | ">=") additive)*
//	additive       = multiplicative (("+" | "-") multiplicative)*
//	multiplicative = unary (("*" | "/" | "%") unary)*
//	unary          = ("-" | "!") unary | primary
//	primary        = INTEGER | STRING | "true" | "false" | call | IDENTIFIER | parenExpr
//	call           = IDENTIFIER "(" argList? ")"
//	argList        = expression ("," expression)*
//	parenExpr      = "(" expression ")"
//
// simple is a varDecl or assignStmt without its trailing ";".
type Parser struct {
	tokens      []Token
	pos         int
	diags       diag.Collector
	eofReported bool
}

// syntaxError is the panic-mode signal that unwinds to the nearest
// statement list.
type syntaxError struct {
	tok Token
	msg string
}

func (e *syntaxError) Error() string {
	return fmt.Sprintf("line %d:%d: %s", e.tok.Line, e.tok.Column, e.msg)
}

func NewParser(tokens []Token) *Parser {
	p := &Parser{diags: diag.Collector{Stage: "parser"}}
	for _, t := range tokens {
		// error tokens were already reported by the lexer
		if t.Type != ERROR {
			p.tokens = append(p.tokens, t)
		}
	}
	if len(p.tokens) == 0 || p.tokens[len(p.tokens)-1].Type != EOF {
		eof := Token{Type: EOF, Line: 1, Column: 1}
		if n := len(tokens); n > 0 {
			eof.Line, eof.Column = tokens[n-1].Line, tokens[n-1].Column+len([]rune(tokens[n-1].Lexeme))
		}
		p.tokens = append(p.tokens, eof)
	}
	return p
}

// Parse builds the parse tree for tokens. Syntax errors are reported and
// recovered from at the next statement boundary, so one call can surface
// several of them.
func Parse(tokens []Token) (*ParseNode, []diag.Diagnostic) {
	p := NewParser(tokens)
	root := p.parseProgram()
	return root, p.diags.List
}

func (p *Parser) errorf(tok Token, format string, args ...any) error {
	return &syntaxError{tok: tok, msg: fmt.Sprintf(format, args...)}
}

func (p *Parser) report(err error) {
	se, ok := err.(*syntaxError)
	if !ok {
		p.diags.Add(diag.SyntaxError, 0, 0, "%v", err)
		return
	}
	if se.tok.Type == EOF {
		if p.eofReported {
			return
		}
		p.eofReported = true
	}
	p.diags.Add(diag.SyntaxError, se.tok.Line, se.tok.Column, "%s", se.msg)
}

func describe(tok Token) string {
	if tok.Type == EOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", tok.Lexeme)
}

// peek returns the current token without consuming it.
func (p *Parser) peek() Token {
	return p.peekAt(0)
}

// peekAt returns the token at the given offset from the current position.
func (p *Parser) peekAt(offset int) Token {
	if p.pos+offset >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+offset]
}

// advance consumes and returns the current token.
func (p *Parser) advance() Token {
	tok := p.peek()
	if p.pos < len(p.tokens)-1 {
		p.pos++
	} else if tok.Type == EOF {
		p.pos = len(p.tokens)
	}
	return tok
}

func (p *Parser) check(tt TokenType) bool {
	return p.peek().Type == tt
}

// expect consumes the current token if it matches tt, otherwise returns an error.
func (p *Parser) expect(tt TokenType) (*ParseNode, error) {
	tok := p.peek()
	if tok.Type != tt {
		return nil, p.errorf(tok, "expected %s, found %s", tt.Describe(), describe(tok))
	}
	p.advance()
	return leaf(tok), nil
}

func isStatementKeyword(tt TokenType) bool {
	switch tt {
	case INT, BOOL, VOID, IF, WHILE, FOR, RETURN, BREAK, CONTINUE, PRINT:
		return true
	}
	return false
}

// synchronize skips to the next statement boundary: past a ';', or up to a
// '}' or a statement keyword. The skipped tokens, together with what the
// failed statement had already consumed, are returned as an error node.
func (p *Parser) synchronize(start int) *ParseNode {
	for !p.check(EOF) {
		tt := p.peek().Type
		if tt == SEMICOLON {
			p.advance()
			break
		}
		if tt == RBRACE || (isStatementKeyword(tt) && p.pos > start) {
			break
		}
		p.advance()
	}
	if p.pos == start && !p.check(EOF) {
		// always make progress
		p.advance()
	}
	node := &ParseNode{Type: "error"}
	end := p.pos
	if end > len(p.tokens) {
		end = len(p.tokens)
	}
	for _, t := range p.tokens[start:end] {
		if t.Type != EOF {
			node.add(leaf(t))
		}
	}
	if len(node.Children) == 0 {
		node.Line, node.Column = p.peek().Line, p.peek().Column
	}
	return node
}

// recoverStatement parses one statement with panic-mode recovery.
func (p *Parser) recoverStatement(parse func() (*ParseNode, error)) *ParseNode {
	start := p.pos
	n, err := parse()
	if err == nil {
		return n
	}
	p.report(err)
	return p.synchronize(start)
}

func (p *Parser) parseProgram() *ParseNode {
	root := &ParseNode{Type: "program", Line: 1, Column: 1}
	for !p.check(EOF) {
		root.Children = append(root.Children, p.recoverStatement(p.parseItem))
	}
	eof := p.advance()
	root.Children = append(root.Children, leaf(eof))
	return root
}

func (p *Parser) parseItem() (*ParseNode, error) {
	if isTypeKeyword(p.peek().Type) && p.peekAt(1).Type == IDENTIFIER && p.peekAt(2).Type == LPAREN {
		return p.parseFuncDecl()
	}
	return p.parseStatement()
}

func (p *Parser) parseFuncDecl() (*ParseNode, error) {
	n := &ParseNode{Type: "funcDecl"}
	typ, err := p.parseType()
	if err != nil {
		return nil, err
	}
	n.add(typ)
	name, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, err
	}
	n.add(name)
	lp, err := p.expect(LPAREN)
	if err != nil {
		return nil, err
	}
	n.add(lp)
	if !p.check(RPAREN) {
		params, err := p.parseParamList()
		if err != nil {
			return nil, err
		}
		n.add(params)
	}
	rp, err := p.expect(RPAREN)
	if err != nil {
		return nil, err
	}
	n.add(rp)
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	n.add(body)
	return n, nil
}

func (p *Parser) parseParamList() (*ParseNode, error) {
	n := &ParseNode{Type: "paramList"}
	for {
		param := &ParseNode{Type: "param"}
		typ, err := p.parseType()
		if err != nil {
			return nil, err
		}
		name, err := p.expect(IDENTIFIER)
		if err != nil {
			return nil, err
		}
		param.add(typ, name)
		n.add(param)
		if !p.check(COMMA) {
			return n, nil
		}
		n.add(leaf(p.advance()))
	}
}

func (p *Parser) parseType() (*ParseNode, error) {
	tok := p.peek()
	if !isTypeKeyword(tok.Type) {
		return nil, p.errorf(tok, "expected type name, found %s", describe(tok))
	}
	n := &ParseNode{Type: "type"}
	n.add(leaf(p.advance()))
	return n, nil
}

func (p *Parser) parseStatement() (*ParseNode, error) {
	tok := p.peek()
	switch tok.Type {
	case INT, BOOL, VOID:
		return p.parseVarDecl(true)
	case IDENTIFIER:
		if isAssignOp(p.peekAt(1).Type) {
			return p.parseAssign(true)
		}
		return p.parseExprStmt()
	case IF:
		return p.parseIf()
	case WHILE:
		return p.parseWhile()
	case FOR:
		return p.parseFor()
	case RETURN:
		return p.parseReturn()
	case BREAK:
		return p.parseJump("breakStmt")
	case CONTINUE:
		return p.parseJump("continueStmt")
	case PRINT:
		return p.parsePrint()
	case LBRACE:
		return p.parseBlock()
	case SEMICOLON:
		n := &ParseNode{Type: "emptyStmt"}
		n.add(leaf(p.advance()))
		return n, nil
	case EOF:
		return nil, p.errorf(tok, "unexpected end of input")
	}
	return p.parseExprStmt()
}

func isAssignOp(tt TokenType) bool {
	switch tt {
	case ASSIGN, PLUS_ASSIGN, MINUS_ASSIGN, STAR_ASSIGN, SLASH_ASSIGN:
		return true
	}
	return false
}

func (p *Parser) parseVarDecl(terminated bool) (*ParseNode, error) {
	n := &ParseNode{Type: "varDecl"}
	typ, err := p.parseType()
	if err != nil {
		return nil, err
	}
	name, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, err
	}
	n.add(typ, name)
	if p.check(ASSIGN) {
		n.add(leaf(p.advance()))
		init, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		n.add(init)
	}
	if terminated {
		semi, err := p.expect(SEMICOLON)
		if err != nil {
			return nil, err
		}
		n.add(semi)
	}
	return n, nil
}

func (p *Parser) parseAssign(terminated bool) (*ParseNode, error) {
	n := &ParseNode{Type: "assignStmt"}
	name, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, err
	}
	op := p.peek()
	if !isAssignOp(op.Type) {
		return nil, p.errorf(op, "expected assignment operator, found %s", describe(op))
	}
	n.add(name, leaf(p.advance()))
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	n.add(value)
	if terminated {
		semi, err := p.expect(SEMICOLON)
		if err != nil {
			return nil, err
		}
		n.add(semi)
	}
	return n, nil
}

// parseCondition parses "(" expression ")" into n.
func (p *Parser) parseCondition(n *ParseNode) error {
	lp, err := p.expect(LPAREN)
	if err != nil {
		return err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return err
	}
	rp, err := p.expect(RPAREN)
	if err != nil {
		return err
	}
	n.add(lp, cond, rp)
	return nil
}

func (p *Parser) parseIf() (*ParseNode, error) {
	n := &ParseNode{Type: "ifStmt"}
	n.add(leaf(p.advance()))
	if err := p.parseCondition(n); err != nil {
		return nil, err
	}
	then, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	n.add(then)
	if p.check(ELSE) {
		n.add(leaf(p.advance()))
		els, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		n.add(els)
	}
	return n, nil
}

func (p *Parser) parseWhile() (*ParseNode, error) {
	n := &ParseNode{Type: "whileStmt"}
	n.add(leaf(p.advance()))
	if err := p.parseCondition(n); err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	n.add(body)
	return n, nil
}

// parseSimple parses the optional init/post clause of a for header.
func (p *Parser) parseSimple() (*ParseNode, error) {
	switch tok := p.peek(); {
	case isTypeKeyword(tok.Type):
		return p.parseVarDecl(false)
	case tok.Type == IDENTIFIER && isAssignOp(p.peekAt(1).Type):
		return p.parseAssign(false)
	default:
		return nil, p.errorf(tok, "expected declaration or assignment, found %s", describe(tok))
	}
}

func (p *Parser) parseFor() (*ParseNode, error) {
	n := &ParseNode{Type: "forStmt"}
	n.add(leaf(p.advance()))
	lp, err := p.expect(LPAREN)
	if err != nil {
		return nil, err
	}
	n.add(lp)
	if !p.check(SEMICOLON) {
		init, err := p.parseSimple()
		if err != nil {
			return nil, err
		}
		n.add(init)
	}
	semi, err := p.expect(SEMICOLON)
	if err != nil {
		return nil, err
	}
	n.add(semi)
	if !p.check(SEMICOLON) {
		cond, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		n.add(cond)
	}
	semi, err = p.expect(SEMICOLON)
	if err != nil {
		return nil, err
	}
	n.add(semi)
	if !p.check(RPAREN) {
		post, err := p.parseSimple()
		if err != nil {
			return nil, err
		}
		n.add(post)
	}
	rp, err := p.expect(RPAREN)
	if err != nil {
		return nil, err
	}
	n.add(rp)
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	n.add(body)
	return n, nil
}

func (p *Parser) parseReturn() (*ParseNode, error) {
	n := &ParseNode{Type: "returnStmt"}
	n.add(leaf(p.advance()))
	if !p.check(SEMICOLON) {
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		n.add(value)
	}
	semi, err := p.expect(SEMICOLON)
	if err != nil {
		return nil, err
	}
	n.add(semi)
	return n, nil
}

func (p *Parser) parseJump(kind string) (*ParseNode, error) {
	n := &ParseNode{Type: kind}
	n.add(leaf(p.advance()))
	semi, err := p.expect(SEMICOLON)
	if err != nil {
		return nil, err
	}
	n.add(semi)
	return n, nil
}

func (p *Parser) parsePrint() (*ParseNode, error) {
	n := &ParseNode{Type: "printStmt"}
	n.add(leaf(p.advance()))
	if err := p.parseCondition(n); err != nil {
		return nil, err
	}
	semi, err := p.expect(SEMICOLON)
	if err != nil {
		return nil, err
	}
	n.add(semi)
	return n, nil
}

// parseBlock recovers from errors inside its own statements, so only a
// missing '{' escapes it. Running into end of input reports the missing
// '}' once and keeps the statements parsed so far.
func (p *Parser) parseBlock() (*ParseNode, error) {
	n := &ParseNode{Type: "block"}
	lb, err := p.expect(LBRACE)
	if err != nil {
		return nil, err
	}
	n.add(lb)
	for !p.check(RBRACE) {
		if p.check(EOF) {
			p.report(p.errorf(p.peek(), "expected '}' to close block opened at line %d", lb.Line))
			return n, nil
		}
		n.add(p.recoverStatement(p.parseStatement))
	}
	n.add(leaf(p.advance()))
	return n, nil
}

func (p *Parser) parseExprStmt() (*ParseNode, error) {
	n := &ParseNode{Type: "exprStmt"}
	e, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	semi, err := p.expect(SEMICOLON)
	if err != nil {
		return nil, err
	}
	n.add(e, semi)
	return n, nil
}

// parseExpression is the entry point for expression parsing.
func (p *Parser) parseExpression() (*ParseNode, error) {
	n := &ParseNode{Type: "expression"}
	e, err := p.parseLogicalOr()
	if err != nil {
		return nil, err
	}
	n.add(e)
	return n, nil
}

// parseBinaryLevel parses one left-associative precedence level.
func (p *Parser) parseBinaryLevel(kind string, next func() (*ParseNode, error), ops ...TokenType) (*ParseNode, error) {
	n := &ParseNode{Type: kind}
	first, err := next()
	if err != nil {
		return nil, err
	}
	n.add(first)
	for p.matchesAny(ops) {
		op := leaf(p.advance())
		right, err := next()
		if err != nil {
			return nil, err
		}
		n.add(op, right)
	}
	return n, nil
}

func (p *Parser) matchesAny(ops []TokenType) bool {
	tt := p.peek().Type
	for _, op := range ops {
		if tt == op {
			return true
		}
	}
	return false
}

// parseLogicalOr handles ||
func (p *Parser) parseLogicalOr() (*ParseNode, error) {
	return p.parseBinaryLevel("logicalOr", p.parseLogicalAnd, OR_LOGICAL)
}

// parseLogicalAnd handles &&
func (p *Parser) parseLogicalAnd() (*ParseNode, error) {
	return p.parseBinaryLevel("logicalAnd", p.parseEquality, AND_LOGICAL)
}

func (p *Parser) parseEquality() (*ParseNode, error) {
	return p.parseBinaryLevel("equality", p.parseRelational, EQUALS, NOT_EQ)
}

func (p *Parser) parseRelational() (*ParseNode, error) {
	return p.parseBinaryLevel("relational", p.parseAdditive, LESS, GREATER, LESS_EQ, GREATER_EQ)
}

func (p *Parser) parseAdditive() (*ParseNode, error) {
	return p.parseBinaryLevel("additive", p.parseMultiplicative, PLUS, MINUS)
}

func (p *Parser) parseMultiplicative() (*ParseNode, error) {
	return p.parseBinaryLevel("multiplicative", p.parseUnary, STAR, SLASH, PERCENT)
}

func (p *Parser) parseUnary() (*ParseNode, error) {
	n := &ParseNode{Type: "unary"}
	if p.check(MINUS) || p.check(NOT) {
		n.add(leaf(p.advance()))
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		n.add(operand)
		return n, nil
	}
	prim, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	n.add(prim)
	return n, nil
}

func (p *Parser) parsePrimary() (*ParseNode, error) {
	n := &ParseNode{Type: "primary"}
	tok := p.peek()
	switch tok.Type {
	case INTEGER, STRING, TRUE, FALSE:
		n.add(leaf(p.advance()))
	case IDENTIFIER:
		if p.peekAt(1).Type == LPAREN {
			call, err := p.parseCall()
			if err != nil {
				return nil, err
			}
			n.add(call)
		} else {
			n.add(leaf(p.advance()))
		}
	case LPAREN:
		paren := &ParseNode{Type: "parenExpr"}
		paren.add(leaf(p.advance()))
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		rp, err := p.expect(RPAREN)
		if err != nil {
			return nil, err
		}
		paren.add(inner, rp)
		n.add(paren)
	default:
		return nil, p.errorf(tok, "expected expression, found %s", describe(tok))
	}
	return n, nil
}

func (p *Parser) parseCall() (*ParseNode, error) {
	n := &ParseNode{Type: "call"}
	n.add(leaf(p.advance()), leaf(p.advance()))
	if !p.check(RPAREN) {
		args := &ParseNode{Type: "argList"}
		for {
			arg, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			args.add(arg)
			if !p.check(COMMA) {
				break
			}
			args.add(leaf(p.advance()))
		}
		n.add(args)
	}
	rp, err := p.expect(RPAREN)
	if err != nil {
		return nil, err
	}
	n.add(rp)
	return n, nil
}
