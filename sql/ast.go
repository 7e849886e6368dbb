package sql

import (
	"regexp"
	"strings"
)

// QualifiedName is a dotted table reference such as materialized.sales.
type QualifiedName []string

func (name QualifiedName) String() string {
	return strings.Join(name, ".")
}

// Prefix returns every part but the last one.
func (name QualifiedName) Prefix() (QualifiedName, bool) {
	if len(name) < 2 {
		return nil, false
	}
	return name[:len(name)-1], true
}

// Suffix returns the last part of the name.
func (name QualifiedName) Suffix() string {
	if len(name) == 0 {
		return ""
	}
	return name[len(name)-1]
}

// Query is a complete query: optional WITH clause, a body and the trailing
// ORDER BY / LIMIT / OFFSET that apply to a set operation.
type Query struct {
	With    *With
	Body    QueryBody
	OrderBy []Expression
	Limit   string
	Offset  string
}

type With struct {
	Recursive bool
	Queries   []WithQuery
}

type WithQuery struct {
	Name    string
	Columns []string
	Query   *Query
}

type QueryBody interface {
	queryBody()
}

// QuerySpecification is a single SELECT block. For a query without set
// operations the trailing ORDER BY / LIMIT / OFFSET attach here.
type QuerySpecification struct {
	Distinct   bool
	DistinctOn []Expression
	Select     []Expression
	From       []Relation
	Where      Expression
	GroupBy    []Expression
	Having     Expression
	Qualify    Expression
	OrderBy    []Expression
	Limit      string
	Offset     string
}

type SetOperation struct {
	Operator string // UNION, INTERSECT, EXCEPT
	Quantity string // ALL, DISTINCT or empty
	Left     QueryBody
	Right    QueryBody
}

// TableSubquery is a parenthesized query used as a query body.
type TableSubquery struct {
	Query *Query
}

// Values is an inline table such as VALUES (1, 'a'), (2, 'b'). Each row is
// kept as its parenthesized expression.
type Values struct {
	Rows []Expression
}

func (*QuerySpecification) queryBody() {}
func (*SetOperation) queryBody()       {}
func (*TableSubquery) queryBody()      {}
func (*Values) queryBody()             {}

type Relation interface {
	relation()
}

type Table struct {
	Name QualifiedName
}

type AliasedRelation struct {
	Relation Relation
	Alias    string
	Columns  []string
}

type SubqueryRelation struct {
	Query *Query
}

type ParenthesizedRelation struct {
	Relation Relation
}

type Join struct {
	Type  string // INNER JOIN, LEFT JOIN, CROSS JOIN, NATURAL JOIN, ...
	Left  Relation
	Right Relation
	On    Expression
	Using []string
}

// TableFunction is a function call in FROM position such as read_parquet('...').
type TableFunction struct {
	Name      QualifiedName
	Arguments Expression
}

func (*Table) relation()                 {}
func (*AliasedRelation) relation()       {}
func (*SubqueryRelation) relation()      {}
func (*ParenthesizedRelation) relation() {}
func (*Join) relation()                  {}
func (*TableFunction) relation()         {}

// Expression is kept as the token run it was written as. Parenthesized
// subqueries are parsed into nested queries so their table references can be
// rewritten as well.
type Expression []ExpressionPart

// ExpressionPart holds either a token or a subquery.
type ExpressionPart struct {
	Token    Token
	Subquery *Query
}

// ExplicitLimit returns the LIMIT written in the query. The top-level limit
// takes precedence over the one of the primary query specification.
func (query *Query) ExplicitLimit() (string, bool) {
	if query.Limit != "" {
		return query.Limit, true
	}
	if spec, ok := query.Body.(*QuerySpecification); ok && spec.Limit != "" {
		return spec.Limit, true
	}
	return "", false
}

var bareIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QuoteIdentifier quotes name with double quotes, doubling embedded quotes.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// formatIdentifier leaves plain identifiers bare and quotes everything else.
func formatIdentifier(name string) string {
	if bareIdentifier.MatchString(name) {
		if _, reserved := keywords[toUpper(name)]; !reserved {
			return name
		}
	}
	return QuoteIdentifier(name)
}
