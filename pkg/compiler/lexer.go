package compiler

import (
	"strconv"
	"strings"
	"unicode"

	"gocompile/pkg/diag"
)

// keywords maps source text to its keyword TokenType.
var keywords = map[string]TokenType{
	"int":      INT,
	"bool":     BOOL,
	"void":     VOID,
	"if":       IF,
	"else":     ELSE,
	"while":    WHILE,
	"for":      FOR,
	"return":   RETURN,
	"break":    BREAK,
	"continue": CONTINUE,
	"print":    PRINT,
	"true":     TRUE,
	"false":    FALSE,
}

// twoCharOps must be tried before singleCharOps.
var twoCharOps = map[string]TokenType{
	"==": EQUALS,
	"!=": NOT_EQ,
	"<=": LESS_EQ,
	">=": GREATER_EQ,
	"&&": AND_LOGICAL,
	"||": OR_LOGICAL,
	"+=": PLUS_ASSIGN,
	"-=": MINUS_ASSIGN,
	"*=": STAR_ASSIGN,
	"/=": SLASH_ASSIGN,
}

var singleCharOps = map[rune]TokenType{
	'+': PLUS,
	'-': MINUS,
	'*': STAR,
	'/': SLASH,
	'%': PERCENT,
	'=': ASSIGN,
	'<': LESS,
	'>': GREATER,
	'!': NOT,
	'(': LPAREN,
	')': RPAREN,
	'{': LBRACE,
	'}': RBRACE,
	',': COMMA,
	';': SEMICOLON,
}

// Lexer holds all mutable state for a single scanning pass over src.
type Lexer struct {
	src    []rune
	pos    int // index of the next rune to consume
	line   int // current 1-based source line
	col    int // current 1-based column
	tokens []Token
	diags  diag.Collector
}

func newLexer(src string) *Lexer {
	return &Lexer{src: []rune(src), line: 1, col: 1, diags: diag.Collector{Stage: "lexer"}}
}

// Lex tokenizes src. It never fails: malformed spans become ERROR tokens,
// each reported once as a LexError. The last token is always EOF.
func Lex(src string) ([]Token, []diag.Diagnostic) {
	l := newLexer(src)
	l.run()
	return l.tokens, l.diags.List
}

// peek returns the rune at the current position without advancing.
func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

// peek2 returns the rune one position ahead of the current position.
func (l *Lexer) peek2() rune {
	if l.pos+1 >= len(l.src) {
		return 0
	}
	return l.src[l.pos+1]
}

// advance consumes one rune and returns it.
func (l *Lexer) advance() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *Lexer) atEnd() bool {
	return l.pos >= len(l.src)
}

func (l *Lexer) emit(tt TokenType, lexeme string, line, col int) {
	l.tokens = append(l.tokens, Token{Type: tt, Lexeme: lexeme, Line: line, Column: col})
}

func (l *Lexer) fail(lexeme string, line, col int, format string, args ...any) {
	l.emit(ERROR, lexeme, line, col)
	l.diags.Add(diag.LexError, line, col, format, args...)
}

func (l *Lexer) run() {
	for {
		for !l.atEnd() && unicode.IsSpace(l.peek()) {
			l.advance()
		}
		if l.atEnd() {
			l.emit(EOF, "", l.line, l.col)
			return
		}

		line, col, start := l.line, l.col, l.pos
		r := l.peek()

		switch {
		case r == '/' && l.peek2() == '/':
			for !l.atEnd() && l.peek() != '\n' {
				l.advance()
			}
		case r == '/' && l.peek2() == '*':
			l.skipBlockComment(line, col, start)
		case unicode.IsLetter(r) || r == '_':
			l.scanIdent(line, col)
		case unicode.IsDigit(r):
			l.scanInt(line, col)
		case r == '"':
			l.scanString(line, col)
		default:
			if tt, ok := twoCharOps[string([]rune{r, l.peek2()})]; ok {
				l.advance()
				l.advance()
				l.emit(tt, string(l.src[start:l.pos]), line, col)
				continue
			}
			if tt, ok := singleCharOps[r]; ok {
				l.advance()
				l.emit(tt, string(r), line, col)
				continue
			}
			l.scanUnknown(line, col)
		}
	}
}

// skipBlockComment discards everything up to and including the closing "*/".
// An unterminated comment becomes a single ERROR token at its opening.
func (l *Lexer) skipBlockComment(line, col, start int) {
	l.advance() // /
	l.advance() // *
	for !l.atEnd() {
		if l.peek() == '*' && l.peek2() == '/' {
			l.advance()
			l.advance()
			return
		}
		l.advance()
	}
	l.fail(string(l.src[start:l.pos]), line, col, "unterminated block comment")
}

// scanIdent collects a full identifier or keyword token.
func (l *Lexer) scanIdent(line, col int) {
	start := l.pos
	for !l.atEnd() {
		r := l.peek()
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			break
		}
		l.advance()
	}
	lexeme := string(l.src[start:l.pos])
	tt := IDENTIFIER
	if kw, ok := keywords[lexeme]; ok {
		tt = kw
	}
	l.emit(tt, lexeme, line, col)
}

func isHexDigit(r rune) bool {
	return unicode.IsDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// scanInt collects a decimal or 0x-prefixed hex literal. Trailing letters or
// digits glued to the literal make the whole span malformed.
func (l *Lexer) scanInt(line, col int) {
	start := l.pos
	hex := false
	if l.peek() == '0' && (l.peek2() == 'x' || l.peek2() == 'X') {
		hex = true
		l.advance()
		l.advance()
		for !l.atEnd() && isHexDigit(l.peek()) {
			l.advance()
		}
	} else {
		for !l.atEnd() && unicode.IsDigit(l.peek()) {
			l.advance()
		}
	}
	digitsEnd := l.pos
	for !l.atEnd() && (unicode.IsLetter(l.peek()) || unicode.IsDigit(l.peek()) || l.peek() == '_') {
		l.advance()
	}
	lexeme := string(l.src[start:l.pos])
	if l.pos != digitsEnd {
		l.fail(lexeme, line, col, "malformed integer literal %q", lexeme)
		return
	}
	if _, err := parseIntLiteral(lexeme); err != nil {
		if hex && len(lexeme) == 2 {
			l.fail(lexeme, line, col, "hex literal %q has no digits", lexeme)
			return
		}
		l.fail(lexeme, line, col, "integer literal %s out of range", lexeme)
		return
	}
	l.emit(INTEGER, lexeme, line, col)
}

// parseIntLiteral converts decimal or 0x hex text. A leading zero does not
// mean octal.
func parseIntLiteral(s string) (int64, error) {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return strconv.ParseInt(s[2:], 16, 64)
	}
	return strconv.ParseInt(s, 10, 64)
}

// scanString collects a double-quoted literal. The lexeme keeps the quotes
// and escapes exactly as written. An unterminated literal consumes the rest
// of the line and is anchored at its opening quote.
func (l *Lexer) scanString(line, col int) {
	start := l.pos
	l.advance() // opening quote
	badEscape := ""
	for !l.atEnd() && l.peek() != '\n' {
		r := l.advance()
		if r == '"' {
			lexeme := string(l.src[start:l.pos])
			if badEscape != "" {
				l.fail(lexeme, line, col, "unknown escape sequence %s", badEscape)
				return
			}
			l.emit(STRING, lexeme, line, col)
			return
		}
		if r == '\\' {
			if l.atEnd() || l.peek() == '\n' {
				break
			}
			e := l.advance()
			if !strings.ContainsRune(`nt"\`, e) && badEscape == "" {
				badEscape = `\` + string(e)
			}
		}
	}
	l.fail(string(l.src[start:l.pos]), line, col, "unterminated string literal")
}

// startsToken reports whether a valid token (or comment) begins at pos.
func (l *Lexer) startsToken() bool {
	r, next := l.peek(), l.peek2()
	if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '"' {
		return true
	}
	if _, ok := singleCharOps[r]; ok {
		return true
	}
	_, ok := twoCharOps[string([]rune{r, next})]
	return ok
}

// scanUnknown groups a run of unrecognized characters into one ERROR token.
func (l *Lexer) scanUnknown(line, col int) {
	start := l.pos
	l.advance()
	for !l.atEnd() && !unicode.IsSpace(l.peek()) && !l.startsToken() {
		l.advance()
	}
	lexeme := string(l.src[start:l.pos])
	l.fail(lexeme, line, col, "unrecognized input %q", lexeme)
}

// unquote decodes the escapes of a STRING lexeme (quotes included).
func unquote(lexeme string) string {
	body := strings.TrimSuffix(strings.TrimPrefix(lexeme, `"`), `"`)
	var sb strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 >= len(body) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		default:
			sb.WriteByte(body[i])
		}
	}
	return sb.String()
}
