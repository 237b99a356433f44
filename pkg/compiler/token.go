package compiler

import "fmt"

// TokenType identifies the category of a lexed token.
type TokenType int

const (
	EOF   TokenType = iota // sentinel: end of input
	ERROR                  // unrecognized or malformed source span

	// Literals
	IDENTIFIER // variable / function name
	INTEGER    // decimal or hex integer literal
	STRING     // string literal "..."

	// Keywords
	INT      // "int"
	BOOL     // "bool"
	VOID     // "void"
	IF       // "if"
	ELSE     // "else"
	WHILE    // "while"
	FOR      // "for"
	RETURN   // "return"
	BREAK    // "break"
	CONTINUE // "continue"
	PRINT    // "print"
	TRUE     // "true"
	FALSE    // "false"

	// Paired delimiters
	LBRACE // {
	RBRACE // }
	LPAREN // (
	RPAREN // )

	// Punctuation
	SEMICOLON // ;
	COMMA     // ,

	// Arithmetic operators
	PLUS    // +
	MINUS   // -
	STAR    // *
	SLASH   // /
	PERCENT // %

	AND_LOGICAL // &&
	OR_LOGICAL  // ||
	NOT         // !

	// Assignment / comparison  (order matters: ASSIGN before EQUALS)
	ASSIGN       // =
	PLUS_ASSIGN  // +=
	MINUS_ASSIGN // -=
	STAR_ASSIGN  // *=
	SLASH_ASSIGN // /=

	EQUALS     // ==
	NOT_EQ     // !=
	LESS       // <
	GREATER    // >
	LESS_EQ    // <=
	GREATER_EQ // >=
)

// tokenNames is indexed by TokenType. The names are the serialized token
// categories, so they must stay stable.
var tokenNames = [...]string{
	EOF:          "EOF",
	ERROR:        "ERROR",
	IDENTIFIER:   "IDENTIFIER",
	INTEGER:      "INTEGER",
	STRING:       "STRING",
	INT:          "INT",
	BOOL:         "BOOL",
	VOID:         "VOID",
	IF:           "IF",
	ELSE:         "ELSE",
	WHILE:        "WHILE",
	FOR:          "FOR",
	RETURN:       "RETURN",
	BREAK:        "BREAK",
	CONTINUE:     "CONTINUE",
	PRINT:        "PRINT",
	TRUE:         "TRUE",
	FALSE:        "FALSE",
	LBRACE:       "LBRACE",
	RBRACE:       "RBRACE",
	LPAREN:       "LPAREN",
	RPAREN:       "RPAREN",
	SEMICOLON:    "SEMICOLON",
	COMMA:        "COMMA",
	PLUS:         "PLUS",
	MINUS:        "MINUS",
	STAR:         "STAR",
	SLASH:        "SLASH",
	PERCENT:      "PERCENT",
	AND_LOGICAL:  "AND_LOGICAL",
	OR_LOGICAL:   "OR_LOGICAL",
	NOT:          "NOT",
	ASSIGN:       "ASSIGN",
	PLUS_ASSIGN:  "PLUS_ASSIGN",
	MINUS_ASSIGN: "MINUS_ASSIGN",
	STAR_ASSIGN:  "STAR_ASSIGN",
	SLASH_ASSIGN: "SLASH_ASSIGN",
	EQUALS:       "EQUALS",
	NOT_EQ:       "NOT_EQ",
	LESS:         "LESS",
	GREATER:      "GREATER",
	LESS_EQ:      "LESS_EQ",
	GREATER_EQ:   "GREATER_EQ",
}

// fixedText is the source spelling of every token type that has exactly one.
var fixedText = map[TokenType]string{
	INT: "int", BOOL: "bool", VOID: "void", IF: "if", ELSE: "else",
	WHILE: "while", FOR: "for", RETURN: "return", BREAK: "break",
	CONTINUE: "continue", PRINT: "print", TRUE: "true", FALSE: "false",
	LBRACE: "{", RBRACE: "}", LPAREN: "(", RPAREN: ")", SEMICOLON: ";", COMMA: ",",
	PLUS: "+", MINUS: "-", STAR: "*", SLASH: "/", PERCENT: "%",
	AND_LOGICAL: "&&", OR_LOGICAL: "||", NOT: "!",
	ASSIGN: "=", PLUS_ASSIGN: "+=", MINUS_ASSIGN: "-=", STAR_ASSIGN: "*=", SLASH_ASSIGN: "/=",
	EQUALS: "==", NOT_EQ: "!=", LESS: "<", GREATER: ">", LESS_EQ: "<=", GREATER_EQ: ">=",
}

var tokenTypeByName = func() map[string]TokenType {
	m := make(map[string]TokenType, len(tokenNames))
	for i, n := range tokenNames {
		m[n] = TokenType(i)
	}
	return m
}()

func (tt TokenType) String() string {
	if int(tt) >= 0 && int(tt) < len(tokenNames) {
		return tokenNames[tt]
	}
	return fmt.Sprintf("TokenType(%d)", int(tt))
}

// Describe renders tt for error messages: the quoted spelling for fixed
// tokens, a category name otherwise.
func (tt TokenType) Describe() string {
	if s, ok := fixedText[tt]; ok {
		return fmt.Sprintf("'%s'", s)
	}
	switch tt {
	case IDENTIFIER:
		return "identifier"
	case INTEGER:
		return "integer literal"
	case STRING:
		return "string literal"
	case EOF:
		return "end of input"
	}
	return tt.String()
}

func (tt TokenType) MarshalText() ([]byte, error) {
	return []byte(tt.String()), nil
}

func (tt *TokenType) UnmarshalText(b []byte) error {
	v, ok := tokenTypeByName[string(b)]
	if !ok {
		return fmt.Errorf("unknown token type %q", b)
	}
	*tt = v
	return nil
}

// isTypeKeyword reports whether tt starts a type name.
func isTypeKeyword(tt TokenType) bool {
	return tt == INT || tt == BOOL || tt == VOID
}

// Token is a single lexical unit produced by the Lexer.
type Token struct {
	Type   TokenType `json:"type"`
	Lexeme string    `json:"lexeme"` // the exact source text that was matched
	Line   int       `json:"line"`   // 1-based source line
	Column int       `json:"column"` // 1-based column, counted in runes
}

func (t Token) String() string {
	return fmt.Sprintf("%-12s %-14q  %d:%d", t.Type, t.Lexeme, t.Line, t.Column)
}
