package sql

import (
	"strings"
)

// TableResolver returns the SQL text that replaces a table reference. The
// text is either a relation name or a query; queries are parenthesized.
type TableResolver func(name QualifiedName) (string, error)

type formatter struct {
	builder  strings.Builder
	resolver TableResolver
	// names of the common table expressions in scope
	ctes []map[string]bool
}

// Format renders query back to SQL, replacing every table reference with the
// text returned by resolver. Table references inside subqueries, common table
// expressions and set operations are resolved as well; references to a common
// table expression in scope are left alone.
func Format(query *Query, resolver TableResolver) (string, error) {
	f := &formatter{resolver: resolver}
	if err := f.query(query); err != nil {
		return "", err
	}
	return f.builder.String(), nil
}

func (f *formatter) write(parts ...string) {
	for _, part := range parts {
		f.builder.WriteString(part)
	}
}

func (f *formatter) isCommonTable(name QualifiedName) bool {
	if len(name) != 1 {
		return false
	}
	for _, scope := range f.ctes {
		if scope[strings.ToLower(name[0])] {
			return true
		}
	}
	return false
}

func (f *formatter) query(query *Query) error {
	if query.With != nil {
		scope := make(map[string]bool, len(query.With.Queries))
		for _, withQuery := range query.With.Queries {
			scope[strings.ToLower(withQuery.Name)] = true
		}
		f.ctes = append(f.ctes, scope)
		defer func() { f.ctes = f.ctes[:len(f.ctes)-1] }()

		f.write("WITH ")
		if query.With.Recursive {
			f.write("RECURSIVE ")
		}
		for i, withQuery := range query.With.Queries {
			if i > 0 {
				f.write(", ")
			}
			f.write(formatIdentifier(withQuery.Name))
			if len(withQuery.Columns) > 0 {
				f.identifierList(withQuery.Columns)
			}
			f.write(" AS (")
			if err := f.query(withQuery.Query); err != nil {
				return err
			}
			f.write(")")
		}
		f.write(" ")
	}

	if err := f.queryBody(query.Body); err != nil {
		return err
	}
	return f.tail(query.OrderBy, query.Limit, query.Offset)
}

func (f *formatter) queryBody(body QueryBody) error {
	switch body := body.(type) {
	case *QuerySpecification:
		return f.querySpecification(body)
	case *SetOperation:
		if err := f.queryBody(body.Left); err != nil {
			return err
		}
		f.write(" ", body.Operator, " ")
		if body.Quantity != "" {
			f.write(body.Quantity, " ")
		}
		return f.queryBody(body.Right)
	case *Values:
		f.write("VALUES ")
		return f.expressionList(body.Rows)
	case *TableSubquery:
		f.write("(")
		if err := f.query(body.Query); err != nil {
			return err
		}
		f.write(")")
	}
	return nil
}

func (f *formatter) querySpecification(spec *QuerySpecification) error {
	f.write("SELECT ")
	if spec.Distinct {
		f.write("DISTINCT ")
		if len(spec.DistinctOn) > 0 {
			f.write("ON (")
			if err := f.expressionList(spec.DistinctOn); err != nil {
				return err
			}
			f.write(") ")
		}
	}
	if err := f.expressionList(spec.Select); err != nil {
		return err
	}

	if len(spec.From) > 0 {
		f.write(" FROM ")
		for i, relation := range spec.From {
			if i > 0 {
				f.write(", ")
			}
			if err := f.relation(relation, false); err != nil {
				return err
			}
		}
	}

	if spec.Where != nil {
		f.write(" WHERE ")
		if err := f.expression(spec.Where); err != nil {
			return err
		}
	}

	if len(spec.GroupBy) > 0 {
		f.write(" GROUP BY ")
		if err := f.expressionList(spec.GroupBy); err != nil {
			return err
		}
	}

	if spec.Having != nil {
		f.write(" HAVING ")
		if err := f.expression(spec.Having); err != nil {
			return err
		}
	}

	if spec.Qualify != nil {
		f.write(" QUALIFY ")
		if err := f.expression(spec.Qualify); err != nil {
			return err
		}
	}

	return f.tail(spec.OrderBy, spec.Limit, spec.Offset)
}

func (f *formatter) tail(orderBy []Expression, limit, offset string) error {
	if len(orderBy) > 0 {
		f.write(" ORDER BY ")
		if err := f.expressionList(orderBy); err != nil {
			return err
		}
	}
	if limit != "" {
		f.write(" LIMIT ", limit)
	}
	if offset != "" {
		f.write(" OFFSET ", offset)
	}
	return nil
}

// relation writes a FROM item. aliased is set when the caller writes an
// alias right after it.
func (f *formatter) relation(relation Relation, aliased bool) error {
	switch relation := relation.(type) {
	case *Table:
		if f.isCommonTable(relation.Name) {
			f.write(formatIdentifier(relation.Name[0]))
			return nil
		}
		text, err := f.resolver(relation.Name)
		if err != nil {
			return err
		}
		if !isQueryText(text) {
			f.write(text)
			return nil
		}
		f.write("(", text, ")")
		if !aliased {
			f.write(" AS ", formatIdentifier(relation.Name.Suffix()))
		}

	case *AliasedRelation:
		if err := f.relation(relation.Relation, true); err != nil {
			return err
		}
		f.write(" AS ", formatIdentifier(relation.Alias))
		if len(relation.Columns) > 0 {
			f.identifierList(relation.Columns)
		}

	case *SubqueryRelation:
		f.write("(")
		if err := f.query(relation.Query); err != nil {
			return err
		}
		f.write(")")

	case *ParenthesizedRelation:
		f.write("(")
		if err := f.relation(relation.Relation, false); err != nil {
			return err
		}
		f.write(")")

	case *Join:
		if err := f.relation(relation.Left, false); err != nil {
			return err
		}
		f.write(" ", relation.Type, " ")
		if err := f.relation(relation.Right, false); err != nil {
			return err
		}
		if relation.On != nil {
			f.write(" ON ")
			if err := f.expression(relation.On); err != nil {
				return err
			}
		}
		if len(relation.Using) > 0 {
			f.write(" USING ")
			f.identifierList(relation.Using)
		}

	case *TableFunction:
		for i, part := range relation.Name {
			if i > 0 {
				f.write(".")
			}
			f.write(formatIdentifier(part))
		}
		f.write("(")
		if err := f.expression(relation.Arguments); err != nil {
			return err
		}
		f.write(")")
	}
	return nil
}

func (f *formatter) identifierList(names []string) {
	f.write("(")
	for i, name := range names {
		if i > 0 {
			f.write(", ")
		}
		f.write(formatIdentifier(name))
	}
	f.write(")")
}

func (f *formatter) expressionList(expressions []Expression) error {
	for i, expression := range expressions {
		if i > 0 {
			f.write(", ")
		}
		if err := f.expression(expression); err != nil {
			return err
		}
	}
	return nil
}

func (f *formatter) expression(expression Expression) error {
	var previous *Token
	for i := range expression {
		part := expression[i]
		if part.Subquery != nil {
			if previous != nil && !noSpaceAfter(*previous) {
				f.write(" ")
			}
			f.write("(")
			if err := f.query(part.Subquery); err != nil {
				return err
			}
			f.write(")")
			previous = &Token{Type: ParenClose, Value: ")"}
			continue
		}

		if previous != nil && !noSpaceAfter(*previous) && !noSpaceBefore(part.Token, *previous) {
			f.write(" ")
		}
		f.write(part.Token.Text())
		previous = &expression[i].Token
	}
	return nil
}

func noSpaceAfter(token Token) bool {
	return token.Type == ParenOpen || token.Type == Dot
}

func noSpaceBefore(token, previous Token) bool {
	switch token.Type {
	case Comma, ParenClose, Dot:
		return true
	case ParenOpen:
		// function call
		return previous.Type == Identifier || previous.Type == QuotedIdentifier ||
			previous.Type == Left || previous.Type == Right
	}
	return false
}

func isQueryText(text string) bool {
	text = strings.TrimLeft(text, " \t\r\n(")
	for _, keyword := range []string{"SELECT", "WITH"} {
		if len(text) < len(keyword) || toUpper(text[:len(keyword)]) != keyword {
			continue
		}
		if len(text) == len(keyword) || !isIdentifierPart(text[len(keyword)]) {
			return true
		}
	}
	return false
}
