package sql

import (
	"fmt"
	"strings"
)

// ParseError is a syntax error with the 1-based position of the offending token.
type ParseError struct {
	Message string
	Line    int
	Column  int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d:%d: %s", e.Line, e.Column, e.Message)
}

type Parser struct {
	tokens   []Token
	position int
}

func NewParser(sql string) *Parser {
	return &Parser{tokens: tokenize(sql)}
}

// Parse parses a single query. Only SELECT, WITH and parenthesized queries are
// accepted; a trailing semicolon is allowed.
func Parse(sql string) (*Query, error) {
	return NewParser(sql).Parse()
}

func (parser *Parser) Parse() (*Query, error) {
	token := parser.peek()
	if token.Type != Select && token.Type != WithKeyword && token.Type != ParenOpen && !parser.startsValues(0) {
		return nil, parser.unexpected(token, "SELECT or WITH")
	}

	query, err := ParseQuery(parser)
	if err != nil {
		return nil, err
	}

	if parser.peek().Type == Semicolon {
		parser.next()
	}
	if token := parser.peek(); token.Type != EOF {
		return nil, parser.unexpected(token, "end of query")
	}
	return query, nil
}

func (parser *Parser) peek() Token {
	return parser.peekAt(0)
}

func (parser *Parser) peekAt(offset int) Token {
	i := parser.position + offset
	if i >= len(parser.tokens) {
		return parser.tokens[len(parser.tokens)-1]
	}
	return parser.tokens[i]
}

func (parser *Parser) next() Token {
	token := parser.peek()
	if parser.position < len(parser.tokens)-1 {
		parser.position++
	}
	return token
}

func (parser *Parser) accept(tokenType TokenType) bool {
	if parser.peek().Type == tokenType {
		parser.next()
		return true
	}
	return false
}

// acceptWord consumes an identifier spelled word. Words such as FIRST or ROWS
// only have a meaning in one clause and stay usable as column names.
func (parser *Parser) acceptWord(word string) bool {
	token := parser.peek()
	if token.Type == Identifier && toUpper(token.Value) == word {
		parser.next()
		return true
	}
	return false
}

func (parser *Parser) expect(tokenType TokenType, what string) (Token, error) {
	token := parser.next()
	if token.Type != tokenType {
		return token, parser.unexpected(token, what)
	}
	return token, nil
}

func (parser *Parser) errorAt(token Token, message string) *ParseError {
	return &ParseError{Message: message, Line: token.Line, Column: token.Column}
}

func (parser *Parser) unexpected(token Token, expected string) *ParseError {
	switch token.Type {
	case EOF:
		return parser.errorAt(token, fmt.Sprintf("expected %s but reached end of input", expected))
	case Unknown:
		return parser.errorAt(token, fmt.Sprintf("expected %s but found %s", expected, token.Value))
	default:
		return parser.errorAt(token, fmt.Sprintf("expected %s but found %q", expected, token.Text()))
	}
}

// startsQuery reports whether the tokens at offset begin a query, looking
// through any number of opening parentheses.
func (parser *Parser) startsQuery(offset int) bool {
	for {
		switch parser.peekAt(offset).Type {
		case Select, WithKeyword:
			return true
		case ParenOpen:
			offset++
		default:
			return parser.startsValues(offset)
		}
	}
}

func (parser *Parser) startsValues(offset int) bool {
	token := parser.peekAt(offset)
	return token.Type == Identifier && toUpper(token.Value) == "VALUES" &&
		parser.peekAt(offset+1).Type == ParenOpen
}

func ParseQuery(parser *Parser) (*Query, error) {
	query := &Query{}

	if parser.peek().Type == WithKeyword {
		with, err := ParseWith(parser)
		if err != nil {
			return nil, err
		}
		query.With = with
	}

	body, err := ParseQueryBody(parser)
	if err != nil {
		return nil, err
	}
	query.Body = body

	orderBy, limit, offset, err := parseQueryTail(parser)
	if err != nil {
		return nil, err
	}

	if spec, ok := body.(*QuerySpecification); ok {
		spec.OrderBy, spec.Limit, spec.Offset = orderBy, limit, offset
	} else {
		query.OrderBy, query.Limit, query.Offset = orderBy, limit, offset
	}
	return query, nil
}

func ParseWith(parser *Parser) (*With, error) {
	parser.next() // consume WITH
	with := &With{Recursive: parser.accept(Recursive)}

	for {
		name, err := parseIdentifier(parser, "common table expression name")
		if err != nil {
			return nil, err
		}
		withQuery := WithQuery{Name: name}

		if parser.peek().Type == ParenOpen {
			columns, err := parseIdentifierList(parser)
			if err != nil {
				return nil, err
			}
			withQuery.Columns = columns
		}

		if _, err := parser.expect(As, "AS"); err != nil {
			return nil, err
		}
		if _, err := parser.expect(ParenOpen, "'('"); err != nil {
			return nil, err
		}
		subquery, err := ParseQuery(parser)
		if err != nil {
			return nil, err
		}
		if _, err := parser.expect(ParenClose, "')'"); err != nil {
			return nil, err
		}
		withQuery.Query = subquery
		with.Queries = append(with.Queries, withQuery)

		if !parser.accept(Comma) {
			return with, nil
		}
	}
}

// ParseQueryBody parses a chain of query terms joined by set operators.
func ParseQueryBody(parser *Parser) (QueryBody, error) {
	left, err := parseQueryPrimary(parser)
	if err != nil {
		return nil, err
	}

	for {
		token := parser.peek()
		if token.Type != Union && token.Type != Intersect && token.Type != Except {
			return left, nil
		}
		parser.next()

		operation := &SetOperation{Operator: toUpper(token.Value), Left: left}
		switch parser.peek().Type {
		case All:
			operation.Quantity = "ALL"
			parser.next()
		case Distinct:
			operation.Quantity = "DISTINCT"
			parser.next()
		}

		right, err := parseQueryPrimary(parser)
		if err != nil {
			return nil, err
		}
		operation.Right = right
		left = operation
	}
}

func parseQueryPrimary(parser *Parser) (QueryBody, error) {
	if parser.startsValues(0) {
		parser.next()
		rows, err := parseExpressionList(parser)
		if err != nil {
			return nil, err
		}
		return &Values{Rows: rows}, nil
	}

	token := parser.peek()
	switch token.Type {
	case Select:
		return ParseQuerySpecification(parser)
	case ParenOpen:
		parser.next()
		query, err := ParseQuery(parser)
		if err != nil {
			return nil, err
		}
		if _, err := parser.expect(ParenClose, "')'"); err != nil {
			return nil, err
		}
		return &TableSubquery{Query: query}, nil
	default:
		return nil, parser.unexpected(token, "SELECT")
	}
}

func ParseQuerySpecification(parser *Parser) (*QuerySpecification, error) {
	if _, err := parser.expect(Select, "SELECT"); err != nil {
		return nil, err
	}

	spec := &QuerySpecification{}
	switch parser.peek().Type {
	case Distinct:
		spec.Distinct = true
		parser.next()
		if parser.accept(On) {
			if _, err := parser.expect(ParenOpen, "'(' after DISTINCT ON"); err != nil {
				return nil, err
			}
			distinctOn, err := parseExpressionList(parser)
			if err != nil {
				return nil, err
			}
			if _, err := parser.expect(ParenClose, "')'"); err != nil {
				return nil, err
			}
			spec.DistinctOn = distinctOn
		}
	case All:
		parser.next()
	}

	selectItems, err := parseExpressionList(parser)
	if err != nil {
		return nil, err
	}
	spec.Select = selectItems

	if parser.accept(From) {
		relations, err := ParseRelations(parser)
		if err != nil {
			return nil, err
		}
		spec.From = relations
	}

	if parser.accept(Where) {
		where, err := ParseExpression(parser)
		if err != nil {
			return nil, err
		}
		spec.Where = where
	}

	if parser.peek().Type == Group {
		parser.next()
		if _, err := parser.expect(By, "BY after GROUP"); err != nil {
			return nil, err
		}
		groupBy, err := parseExpressionList(parser)
		if err != nil {
			return nil, err
		}
		spec.GroupBy = groupBy
	}

	if parser.accept(Having) {
		having, err := ParseExpression(parser)
		if err != nil {
			return nil, err
		}
		spec.Having = having
	}

	if parser.accept(Qualify) {
		qualify, err := ParseExpression(parser)
		if err != nil {
			return nil, err
		}
		spec.Qualify = qualify
	}

	return spec, nil
}

func parseQueryTail(parser *Parser) (orderBy []Expression, limit, offset string, err error) {
	if parser.peek().Type == Order {
		parser.next()
		if _, err = parser.expect(By, "BY after ORDER"); err != nil {
			return
		}
		if orderBy, err = parseExpressionList(parser); err != nil {
			return
		}
	}

	// LIMIT (or FETCH) and OFFSET are accepted in either order
	for {
		switch parser.peek().Type {
		case Limit:
			if limit != "" {
				err = parser.errorAt(parser.peek(), "duplicate LIMIT clause")
				return
			}
			parser.next()
			token := parser.next()
			if token.Type != Int && token.Type != All {
				err = parser.unexpected(token, "row count after LIMIT")
				return
			}
			limit = toUpper(token.Value)
		case Offset:
			if offset != "" {
				err = parser.errorAt(parser.peek(), "duplicate OFFSET clause")
				return
			}
			parser.next()
			token := parser.next()
			if token.Type != Int {
				err = parser.unexpected(token, "row count after OFFSET")
				return
			}
			offset = token.Value
			if !parser.acceptWord("ROWS") {
				parser.acceptWord("ROW")
			}
		case Fetch:
			if limit != "" {
				err = parser.errorAt(parser.peek(), "duplicate LIMIT clause")
				return
			}
			parser.next()
			if limit, err = parseFetch(parser); err != nil {
				return
			}
		default:
			return
		}
	}
}

// parseFetch reads FIRST|NEXT [count] ROW|ROWS ONLY after FETCH and returns
// the row count, which is 1 when omitted.
func parseFetch(parser *Parser) (string, error) {
	if !parser.acceptWord("FIRST") && !parser.acceptWord("NEXT") {
		return "", parser.unexpected(parser.peek(), "FIRST or NEXT after FETCH")
	}
	count := "1"
	if parser.peek().Type == Int {
		count = parser.next().Value
	}
	if !parser.acceptWord("ROWS") && !parser.acceptWord("ROW") {
		return "", parser.unexpected(parser.peek(), "ROWS")
	}
	if !parser.acceptWord("ONLY") {
		return "", parser.unexpected(parser.peek(), "ONLY")
	}
	return count, nil
}

// ParseRelations parses the comma separated FROM list.
func ParseRelations(parser *Parser) ([]Relation, error) {
	var relations []Relation
	for {
		relation, err := parseJoinedRelation(parser)
		if err != nil {
			return nil, err
		}
		relations = append(relations, relation)

		if !parser.accept(Comma) {
			return relations, nil
		}
	}
}

func parseJoinedRelation(parser *Parser) (Relation, error) {
	left, err := parseAliasedRelation(parser)
	if err != nil {
		return nil, err
	}

	for {
		joinType, ok, err := parseJoinType(parser)
		if err != nil {
			return nil, err
		}
		if !ok {
			return left, nil
		}

		right, err := parseAliasedRelation(parser)
		if err != nil {
			return nil, err
		}
		join := &Join{Type: joinType, Left: left, Right: right}

		if joinType != "CROSS JOIN" && !strings.HasPrefix(joinType, "NATURAL ") {
			switch parser.peek().Type {
			case On:
				parser.next()
				criteria, err := ParseExpression(parser)
				if err != nil {
					return nil, err
				}
				join.On = criteria
			case Using:
				parser.next()
				columns, err := parseIdentifierList(parser)
				if err != nil {
					return nil, err
				}
				join.Using = columns
			default:
				return nil, parser.unexpected(parser.peek(), "ON or USING after "+joinType)
			}
		}
		left = join
	}
}

func parseJoinType(parser *Parser) (string, bool, error) {
	token := parser.peek()
	switch token.Type {
	case JoinKeyword:
		parser.next()
		return "JOIN", true, nil
	case Cross:
		parser.next()
		if _, err := parser.expect(JoinKeyword, "JOIN after CROSS"); err != nil {
			return "", false, err
		}
		return "CROSS JOIN", true, nil
	case Inner:
		parser.next()
		if _, err := parser.expect(JoinKeyword, "JOIN after INNER"); err != nil {
			return "", false, err
		}
		return "INNER JOIN", true, nil
	case Natural:
		parser.next()
		joinType := "NATURAL JOIN"
		switch side := parser.peek(); side.Type {
		case Inner:
			parser.next()
		case Left, Right, Full:
			parser.next()
			joinType = "NATURAL " + toUpper(side.Value) + " JOIN"
			if parser.accept(Outer) {
				joinType = "NATURAL " + toUpper(side.Value) + " OUTER JOIN"
			}
		}
		if _, err := parser.expect(JoinKeyword, "JOIN after NATURAL"); err != nil {
			return "", false, err
		}
		return joinType, true, nil
	case Left, Right, Full:
		// LEFT(...) is a function call, not a join
		if parser.peekAt(1).Type == ParenOpen {
			return "", false, nil
		}
		parser.next()
		joinType := toUpper(token.Value) + " JOIN"
		if parser.accept(Outer) {
			joinType = toUpper(token.Value) + " OUTER JOIN"
		}
		if _, err := parser.expect(JoinKeyword, "JOIN after "+toUpper(token.Value)); err != nil {
			return "", false, err
		}
		return joinType, true, nil
	}
	return "", false, nil
}

func parseAliasedRelation(parser *Parser) (Relation, error) {
	relation, err := parseRelationPrimary(parser)
	if err != nil {
		return nil, err
	}

	var alias string
	switch parser.peek().Type {
	case As:
		parser.next()
		if alias, err = parseIdentifier(parser, "alias after AS"); err != nil {
			return nil, err
		}
	case Identifier, QuotedIdentifier:
		alias = parser.next().Value
	default:
		return relation, nil
	}

	aliased := &AliasedRelation{Relation: relation, Alias: alias}
	if parser.peek().Type == ParenOpen {
		if aliased.Columns, err = parseIdentifierList(parser); err != nil {
			return nil, err
		}
	}
	return aliased, nil
}

func parseRelationPrimary(parser *Parser) (Relation, error) {
	token := parser.peek()
	switch token.Type {
	case ParenOpen:
		if parser.startsQuery(1) {
			parser.next()
			query, err := ParseQuery(parser)
			if err != nil {
				return nil, err
			}
			if _, err := parser.expect(ParenClose, "')'"); err != nil {
				return nil, err
			}
			return &SubqueryRelation{Query: query}, nil
		}

		parser.next()
		relation, err := parseJoinedRelation(parser)
		if err != nil {
			return nil, err
		}
		if _, err := parser.expect(ParenClose, "')'"); err != nil {
			return nil, err
		}
		return &ParenthesizedRelation{Relation: relation}, nil

	case Identifier, QuotedIdentifier:
		name, err := parseQualifiedName(parser)
		if err != nil {
			return nil, err
		}
		if parser.peek().Type != ParenOpen {
			return &Table{Name: name}, nil
		}

		parser.next()
		function := &TableFunction{Name: name}
		if parser.peek().Type != ParenClose {
			if function.Arguments, err = parseExpression(parser, true); err != nil {
				return nil, err
			}
		}
		if _, err := parser.expect(ParenClose, "')'"); err != nil {
			return nil, err
		}
		return function, nil

	default:
		return nil, parser.unexpected(token, "table name or subquery")
	}
}

func parseQualifiedName(parser *Parser) (QualifiedName, error) {
	var name QualifiedName
	for {
		part, err := parseIdentifier(parser, "identifier")
		if err != nil {
			return nil, err
		}
		name = append(name, part)

		if !parser.accept(Dot) {
			return name, nil
		}
	}
}

func parseIdentifier(parser *Parser, what string) (string, error) {
	token := parser.next()
	if token.Type != Identifier && token.Type != QuotedIdentifier {
		return "", parser.unexpected(token, what)
	}
	return token.Value, nil
}

func parseIdentifierList(parser *Parser) ([]string, error) {
	if _, err := parser.expect(ParenOpen, "'('"); err != nil {
		return nil, err
	}
	var names []string
	for {
		name, err := parseIdentifier(parser, "column name")
		if err != nil {
			return nil, err
		}
		names = append(names, name)

		if !parser.accept(Comma) {
			break
		}
	}
	if _, err := parser.expect(ParenClose, "')'"); err != nil {
		return nil, err
	}
	return names, nil
}

func parseExpressionList(parser *Parser) ([]Expression, error) {
	var expressions []Expression
	for {
		expression, err := ParseExpression(parser)
		if err != nil {
			return nil, err
		}
		expressions = append(expressions, expression)

		if !parser.accept(Comma) {
			return expressions, nil
		}
	}
}

// ParseExpression reads one expression up to the next clause boundary.
func ParseExpression(parser *Parser) (Expression, error) {
	return parseExpression(parser, false)
}

// parseExpression collects tokens until a clause keyword, a comma (unless
// commas are allowed) or an unbalanced ')' at nesting depth zero.
func parseExpression(parser *Parser, allowCommas bool) (Expression, error) {
	var expression Expression
	depth := 0
	start := parser.peek()

	for {
		token := parser.peek()

		if depth == 0 && endsExpression(parser, token, allowCommas, expression) {
			break
		}

		switch token.Type {
		case EOF, Semicolon:
			return nil, parser.unexpected(token, "')'")
		case Unknown:
			if len(token.Value) > 1 {
				return nil, parser.errorAt(token, token.Value)
			}
		case ParenOpen:
			if parser.startsQuery(1) {
				parser.next()
				subquery, err := ParseQuery(parser)
				if err != nil {
					return nil, err
				}
				if _, err := parser.expect(ParenClose, "')'"); err != nil {
					return nil, err
				}
				expression = append(expression, ExpressionPart{Subquery: subquery})
				continue
			}
			depth++
		case ParenClose:
			depth--
		}

		expression = append(expression, ExpressionPart{Token: parser.next()})
	}

	if len(expression) == 0 {
		return nil, parser.unexpected(start, "expression")
	}
	return expression, nil
}

func endsExpression(parser *Parser, token Token, allowCommas bool, expression Expression) bool {
	switch token.Type {
	case EOF, Semicolon, ParenClose:
		return true
	case Comma:
		return !allowCommas
	case From:
		// IS [NOT] DISTINCT FROM is a comparison
		if n := len(expression); n > 0 && expression[n-1].Token.Type == Distinct {
			return false
		}
		return true
	case Where, Group, Having, Qualify, Order, Limit, Offset, Fetch, Union, Intersect, Except,
		On, Using, JoinKeyword, Inner, Cross, Natural, Select, WithKeyword:
		return true
	case Left, Right, Full:
		return parser.peekAt(1).Type != ParenOpen
	}
	return false
}
