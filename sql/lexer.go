package sql

import "strings"

type Token struct {
	Type   TokenType
	Value  string
	Line   int
	Column int
}

type TokenType int

const (
	Identifier TokenType = iota
	QuotedIdentifier
	String
	Int
	Float
	Operator
	Wildcard
	Comma
	Dot
	ParenOpen
	ParenClose
	Semicolon
	Select
	From
	Where
	Group
	Having
	Order
	By
	Limit
	Offset
	All
	Distinct
	Union
	Intersect
	Except
	WithKeyword
	Recursive
	As
	On
	Using
	JoinKeyword
	Inner
	Left
	Right
	Full
	Outer
	Natural
	Qualify
	Fetch
	Cross
	EOF
	Unknown
)

var tokenNames = map[TokenType]string{
	Identifier:       "Identifier",
	QuotedIdentifier: "QuotedIdentifier",
	String:           "String",
	Int:              "Int",
	Float:            "Float",
	Operator:         "Operator",
	Wildcard:         "Wildcard",
	Comma:            "Comma",
	Dot:              "Dot",
	ParenOpen:        "ParenOpen",
	ParenClose:       "ParenClose",
	Semicolon:        "Semicolon",
	EOF:              "EOF",
}

var keywords = map[string]TokenType{
	"SELECT":    Select,
	"FROM":      From,
	"WHERE":     Where,
	"GROUP":     Group,
	"HAVING":    Having,
	"ORDER":     Order,
	"BY":        By,
	"LIMIT":     Limit,
	"OFFSET":    Offset,
	"ALL":       All,
	"DISTINCT":  Distinct,
	"UNION":     Union,
	"INTERSECT": Intersect,
	"EXCEPT":    Except,
	"WITH":      WithKeyword,
	"RECURSIVE": Recursive,
	"AS":        As,
	"ON":        On,
	"USING":     Using,
	"JOIN":      JoinKeyword,
	"INNER":     Inner,
	"LEFT":      Left,
	"RIGHT":     Right,
	"FULL":      Full,
	"OUTER":     Outer,
	"NATURAL":   Natural,
	"QUALIFY":   Qualify,
	"FETCH":     Fetch,
	"CROSS":     Cross,
}

func (token Token) String() string {
	if name, ok := tokenNames[token.Type]; ok {
		switch token.Type {
		case Identifier, QuotedIdentifier, String, Int, Float, Operator:
			return name + "(" + token.Value + ")"
		}
		return name
	}
	if token.IsKeyword() {
		return "Keyword(" + toUpper(token.Value) + ")"
	}
	return "Unknown(" + token.Value + ")"
}

// IsKeyword reports whether the token is a reserved word of the query grammar.
func (token Token) IsKeyword() bool {
	return token.Type >= Select && token.Type <= Cross
}

// Text renders the token the way it appears in SQL, re-quoting literals.
func (token Token) Text() string {
	switch token.Type {
	case String:
		return "'" + strings.ReplaceAll(token.Value, "'", "''") + "'"
	case QuotedIdentifier:
		return QuoteIdentifier(token.Value)
	case EOF:
		return ""
	default:
		return token.Value
	}
}

type Lexer struct {
	sql          string
	position     int
	readPosition int
	ch           byte
	line         int
	column       int
}

func NewLexer(sql string) *Lexer {
	lexer := &Lexer{sql: sql, line: 1}
	lexer.readChar()
	return lexer
}

func (lexer *Lexer) readChar() {
	if lexer.ch == '\n' {
		lexer.line++
		lexer.column = 0
	}
	if lexer.readPosition >= len(lexer.sql) {
		lexer.ch = 0
	} else {
		lexer.ch = lexer.sql[lexer.readPosition]
	}
	lexer.position = lexer.readPosition
	lexer.readPosition++
	lexer.column++
}

func (lexer *Lexer) peekChar() byte {
	if lexer.readPosition >= len(lexer.sql) {
		return 0
	}
	return lexer.sql[lexer.readPosition]
}

func (lexer *Lexer) NextToken() Token {
	lexer.skipWhitespaceAndComments()

	line, column := lexer.line, lexer.column
	token := lexer.readToken()
	token.Line = line
	token.Column = column
	return token
}

func (lexer *Lexer) readToken() Token {
	switch lexer.ch {
	case 0:
		return Token{Type: EOF}
	case ',':
		lexer.readChar()
		return Token{Type: Comma, Value: ","}
	case '.':
		if isDigit(lexer.peekChar()) {
			return lexer.readNumber()
		}
		lexer.readChar()
		return Token{Type: Dot, Value: "."}
	case '(':
		lexer.readChar()
		return Token{Type: ParenOpen, Value: "("}
	case ')':
		lexer.readChar()
		return Token{Type: ParenClose, Value: ")"}
	case ';':
		lexer.readChar()
		return Token{Type: Semicolon, Value: ";"}
	case '*':
		lexer.readChar()
		return Token{Type: Wildcard, Value: "*"}
	case '\'':
		value, ok := lexer.readQuoted('\'')
		if !ok {
			return Token{Type: Unknown, Value: "unterminated string literal"}
		}
		return Token{Type: String, Value: value}
	case '"':
		value, ok := lexer.readQuoted('"')
		if !ok {
			return Token{Type: Unknown, Value: "unterminated quoted identifier"}
		}
		return Token{Type: QuotedIdentifier, Value: value}
	}

	switch {
	case isDigit(lexer.ch):
		return lexer.readNumber()
	case isIdentifierStart(lexer.ch):
		literal := lexer.readIdentifier()
		if tokenType, ok := keywords[toUpper(literal)]; ok {
			return Token{Type: tokenType, Value: literal}
		}
		return Token{Type: Identifier, Value: literal}
	case isOperator(lexer.ch):
		return Token{Type: Operator, Value: lexer.readOperator()}
	default:
		ch := lexer.ch
		lexer.readChar()
		return Token{Type: Unknown, Value: string(ch)}
	}
}

func (lexer *Lexer) skipWhitespaceAndComments() {
	for {
		switch {
		case lexer.ch == ' ' || lexer.ch == '\t' || lexer.ch == '\n' || lexer.ch == '\r':
			lexer.readChar()
		case lexer.ch == '-' && lexer.peekChar() == '-':
			for lexer.ch != '\n' && lexer.ch != 0 {
				lexer.readChar()
			}
		case lexer.ch == '/' && lexer.peekChar() == '*':
			lexer.readChar()
			lexer.readChar()
			for lexer.ch != 0 && !(lexer.ch == '*' && lexer.peekChar() == '/') {
				lexer.readChar()
			}
			if lexer.ch != 0 {
				lexer.readChar()
				lexer.readChar()
			}
		default:
			return
		}
	}
}

func (lexer *Lexer) readIdentifier() string {
	position := lexer.position
	for isIdentifierPart(lexer.ch) {
		lexer.readChar()
	}
	return lexer.sql[position:lexer.position]
}

// readQuoted reads a literal delimited by quote, where a doubled quote escapes itself.
func (lexer *Lexer) readQuoted(quote byte) (string, bool) {
	var builder strings.Builder
	lexer.readChar() // skip opening quote
	for {
		switch {
		case lexer.ch == 0:
			return builder.String(), false
		case lexer.ch == quote && lexer.peekChar() == quote:
			builder.WriteByte(quote)
			lexer.readChar()
			lexer.readChar()
		case lexer.ch == quote:
			lexer.readChar()
			return builder.String(), true
		default:
			builder.WriteByte(lexer.ch)
			lexer.readChar()
		}
	}
}

func (lexer *Lexer) readNumber() Token {
	position := lexer.position
	tokenType := Int
	for isDigit(lexer.ch) {
		lexer.readChar()
	}
	if lexer.ch == '.' && isDigit(lexer.peekChar()) || lexer.ch == '.' && position == lexer.position {
		tokenType = Float
		lexer.readChar()
		for isDigit(lexer.ch) {
			lexer.readChar()
		}
	}
	if lexer.ch == 'e' || lexer.ch == 'E' {
		next := lexer.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			tokenType = Float
			lexer.readChar()
			if lexer.ch == '+' || lexer.ch == '-' {
				lexer.readChar()
			}
			for isDigit(lexer.ch) {
				lexer.readChar()
			}
		}
	}
	return Token{Type: tokenType, Value: lexer.sql[position:lexer.position]}
}

func (lexer *Lexer) readOperator() string {
	position := lexer.position
	for isOperator(lexer.ch) {
		// a comment start ends the operator run
		if (lexer.ch == '-' && lexer.peekChar() == '-') || (lexer.ch == '/' && lexer.peekChar() == '*') {
			if position != lexer.position {
				break
			}
		}
		lexer.readChar()
	}
	return lexer.sql[position:lexer.position]
}

func isIdentifierStart(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch == '_' || ch >= 0x80
}

func isIdentifierPart(ch byte) bool {
	return isIdentifierStart(ch) || isDigit(ch) || ch == '$'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func isOperator(ch byte) bool {
	switch ch {
	case '=', '!', '<', '>', '+', '-', '/', '%', '|', ':', '^', '&', '~', '?', '[', ']', '{', '}', '@', '#':
		return true
	}
	return false
}

// toUpper converts a string to uppercase without allocating for ASCII strings
func toUpper(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= 'a' && s[i] <= 'z' {
			b := make([]byte, len(s))
			for j := 0; j < len(s); j++ {
				if s[j] >= 'a' && s[j] <= 'z' {
					b[j] = s[j] - 32
				} else {
					b[j] = s[j]
				}
			}
			return string(b)
		}
	}
	return s
}

func tokenize(sql string) []Token {
	lexer := NewLexer(sql)

	var tokens []Token

	for {
		token := lexer.NextToken()
		if token.Type == EOF {
			return append(tokens, token)
		}
		tokens = append(tokens, token)
	}
}
