package sql

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identity(name QualifiedName) (string, error) {
	return name.String(), nil
}

func TestFormatRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected string
	}{
		{
			"select with where and limit",
			"select a, b from events where x = 1 limit 10",
			"SELECT a, b FROM events WHERE x = 1 LIMIT 10",
		},
		{
			"function call",
			"SELECT count(*) FROM t",
			"SELECT count(*) FROM t",
		},
		{
			"qualified columns in join",
			"SELECT * FROM a JOIN b ON a.id = b.id",
			"SELECT * FROM a JOIN b ON a.id = b.id",
		},
		{
			"left outer join using",
			"SELECT * FROM a LEFT OUTER JOIN b USING (id)",
			"SELECT * FROM a LEFT OUTER JOIN b USING (id)",
		},
		{
			"left function is not a join",
			"SELECT left(name, 2) FROM t",
			"SELECT left(name, 2) FROM t",
		},
		{
			"group by having order by",
			"SELECT k, sum(v) FROM t GROUP BY k HAVING sum(v) > 2 ORDER BY k DESC",
			"SELECT k, sum(v) FROM t GROUP BY k HAVING sum(v) > 2 ORDER BY k DESC",
		},
		{
			"set operation with tail",
			"SELECT a FROM t1 UNION ALL SELECT a FROM t2 ORDER BY a LIMIT 3",
			"SELECT a FROM t1 UNION ALL SELECT a FROM t2 ORDER BY a LIMIT 3",
		},
		{
			"is distinct from",
			"SELECT * FROM t WHERE a IS DISTINCT FROM b",
			"SELECT * FROM t WHERE a IS DISTINCT FROM b",
		},
		{
			"string literal with quote",
			"SELECT 'it''s' FROM t",
			"SELECT 'it''s' FROM t",
		},
		{
			"aliased subquery",
			"SELECT s.x FROM (SELECT 1 AS x) s",
			"SELECT s.x FROM (SELECT 1 AS x) AS s",
		},
		{
			"offset before limit",
			"SELECT a FROM t OFFSET 5 LIMIT 2",
			"SELECT a FROM t LIMIT 2 OFFSET 5",
		},
		{
			"natural join",
			"SELECT * FROM a NATURAL JOIN b",
			"SELECT * FROM a NATURAL JOIN b",
		},
		{
			"natural left outer join",
			"SELECT * FROM a natural left outer join b WHERE a.x = 1",
			"SELECT * FROM a NATURAL LEFT OUTER JOIN b WHERE a.x = 1",
		},
		{
			"distinct on",
			"SELECT DISTINCT ON (a) a, b FROM t ORDER BY a, b",
			"SELECT DISTINCT ON (a) a, b FROM t ORDER BY a, b",
		},
		{
			"qualify",
			"SELECT a FROM t QUALIFY row_number() OVER (PARTITION BY a ORDER BY b) = 1",
			"SELECT a FROM t QUALIFY row_number() OVER(PARTITION BY a ORDER BY b) = 1",
		},
		{
			"values relation",
			"SELECT * FROM (VALUES (1, 'x'), (2, 'y')) v(a, b)",
			"SELECT * FROM (VALUES (1, 'x'), (2, 'y')) AS v(a, b)",
		},
		{
			"fetch first becomes limit",
			"SELECT a FROM t ORDER BY a FETCH FIRST 5 ROWS ONLY",
			"SELECT a FROM t ORDER BY a LIMIT 5",
		},
		{
			"fetch next row",
			"SELECT a FROM t OFFSET 2 ROWS FETCH NEXT ROW ONLY",
			"SELECT a FROM t LIMIT 1 OFFSET 2",
		},
		{
			"first as a column name",
			"SELECT first, rows FROM t",
			"SELECT first, rows FROM t",
		},
		{
			"trailing semicolon and comments",
			"SELECT a -- first column\nFROM t /* table */;",
			"SELECT a FROM t",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			query, err := Parse(test.sql)
			require.NoError(t, err)

			formatted, err := Format(query, identity)
			require.NoError(t, err)
			assert.Equal(t, test.expected, formatted)
		})
	}
}

func TestFormatResolvesNestedTables(t *testing.T) {
	query, err := Parse("SELECT * FROM a WHERE id IN (SELECT id FROM b) AND EXISTS (SELECT 1 FROM c)")
	require.NoError(t, err)

	var seen []string
	formatted, err := Format(query, func(name QualifiedName) (string, error) {
		seen = append(seen, name.String())
		return `"p"."` + name.Suffix() + `"`, nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, seen)
	assert.Equal(t, `SELECT * FROM "p"."a" WHERE id IN (SELECT id FROM "p"."b") AND EXISTS (SELECT 1 FROM "p"."c")`, formatted)
}

func TestFormatLeavesCommonTablesAlone(t *testing.T) {
	query, err := Parse("WITH recent AS (SELECT * FROM events) SELECT count(*) FROM recent")
	require.NoError(t, err)

	var seen []string
	formatted, err := Format(query, func(name QualifiedName) (string, error) {
		seen = append(seen, name.String())
		return name.String(), nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"events"}, seen)
	assert.Equal(t, "WITH recent AS (SELECT * FROM events) SELECT count(*) FROM recent", formatted)
}

func TestFormatWrapsQuerySubstitutions(t *testing.T) {
	resolver := func(name QualifiedName) (string, error) {
		if prefix, ok := name.Prefix(); ok && prefix.String() == "materialized" {
			return "SELECT 1 AS x", nil
		}
		return name.String(), nil
	}

	tests := []struct {
		name     string
		sql      string
		expected string
	}{
		{
			"unaliased reference uses the view name",
			"SELECT * FROM materialized.sales",
			"SELECT * FROM (SELECT 1 AS x) AS sales",
		},
		{
			"aliased reference keeps the alias",
			"SELECT s.x FROM materialized.sales s",
			"SELECT s.x FROM (SELECT 1 AS x) AS s",
		},
		{
			"relation text is not wrapped",
			"SELECT * FROM events",
			"SELECT * FROM events",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			query, err := Parse(test.sql)
			require.NoError(t, err)

			formatted, err := Format(query, resolver)
			require.NoError(t, err)
			assert.Equal(t, test.expected, formatted)
		})
	}
}

func TestFormatPropagatesResolverError(t *testing.T) {
	query, err := Parse("SELECT * FROM a JOIN materialized.missing m ON a.id = m.id")
	require.NoError(t, err)

	errMissing := errors.New("missing")
	_, err = Format(query, func(name QualifiedName) (string, error) {
		if name.Suffix() == "missing" {
			return "", errMissing
		}
		return name.String(), nil
	})
	assert.ErrorIs(t, err, errMissing)
}

func TestExplicitLimit(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		limit    string
		hasLimit bool
	}{
		{"no limit", "SELECT * FROM t", "", false},
		{"specification limit", "SELECT * FROM t LIMIT 5", "5", true},
		{"limit all", "SELECT * FROM t LIMIT ALL", "ALL", true},
		{"set operation limit", "SELECT a FROM t1 UNION SELECT a FROM t2 LIMIT 4", "4", true},
		{"top-level limit wins", "(SELECT a FROM t LIMIT 50) UNION ALL (SELECT a FROM u) LIMIT 3", "3", true},
		{"parenthesized primary without top-level limit", "(SELECT a FROM t LIMIT 50)", "", false},
		{"fetch first", "SELECT * FROM t FETCH FIRST 20 ROWS ONLY", "20", true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			query, err := Parse(test.sql)
			require.NoError(t, err)

			limit, ok := query.ExplicitLimit()
			assert.Equal(t, test.hasLimit, ok)
			assert.Equal(t, test.limit, limit)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		line   int
		column int
	}{
		{"not a query", "DELETE FROM t", 1, 1},
		{"missing relation", "SELECT *\nFROM", 2, 5},
		{"empty where", "SELECT a FROM t WHERE", 1, 22},
		{"unbalanced parenthesis", "SELECT count(a FROM t", 1, 22},
		{"join without criteria", "SELECT * FROM a JOIN b", 1, 23},
		{"bad limit", "SELECT * FROM t LIMIT x", 1, 23},
		{"trailing garbage", "SELECT 1; SELECT 2", 1, 11},
		{"fetch without only", "SELECT * FROM t FETCH FIRST 5 ROWS", 1, 35},
		{"limit and fetch", "SELECT * FROM t LIMIT 5 FETCH FIRST 5 ROWS ONLY", 1, 25},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse(test.sql)
			require.Error(t, err)

			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, test.line, parseErr.Line)
			assert.Equal(t, test.column, parseErr.Column)
		})
	}
}

func TestParseUnterminatedString(t *testing.T) {
	_, err := Parse("SELECT 'abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated string literal")
}

func TestLexerPositions(t *testing.T) {
	tokens := tokenize("SELECT a,\n  \"b c\" FROM t")

	require.Len(t, tokens, 7)
	assert.Equal(t, Token{Type: Select, Value: "SELECT", Line: 1, Column: 1}, tokens[0])
	assert.Equal(t, Token{Type: Comma, Value: ",", Line: 1, Column: 9}, tokens[2])
	assert.Equal(t, Token{Type: QuotedIdentifier, Value: "b c", Line: 2, Column: 3}, tokens[3])
	assert.Equal(t, Token{Type: From, Value: "FROM", Line: 2, Column: 9}, tokens[4])
	assert.Equal(t, EOF, tokens[6].Type)
}
