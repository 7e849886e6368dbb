// Package sql provides lexing, parsing and formatting of analytic queries.
//
// The parser understands the query shapes the executor needs to rewrite:
// SELECT blocks, WITH clauses, set operations, joins, subqueries and table
// functions. Expressions are kept as token runs, except for parenthesized
// subqueries which are parsed so their table references can be rewritten.
//
// # Parser Usage
//
//	query, err := sql.Parse("SELECT * FROM materialized.daily_sales LIMIT 10")
//	if err != nil {
//	    var parseErr *sql.ParseError
//	    errors.As(err, &parseErr) // parseErr.Line, parseErr.Column
//	}
//
// # Formatter Usage
//
// Format writes a query back to SQL, asking a TableResolver for the text of
// every table reference:
//
//	text, err := sql.Format(query, func(name sql.QualifiedName) (string, error) {
//	    return `"analytics"."` + name.Suffix() + `"`, nil
//	})
package sql
