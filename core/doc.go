// Package core provides core types used throughout CommitQuery.
//
// The package defines the fundamental types shared by the SQL front end,
// the query engine, the metadata store and the executor: Identity, Project,
// MaterializedView, Column, QueryStats and QueryError.
//
// # Identity
//
// Identity identifies the author of metadata changes (Git commit author):
//
//	identity := core.Identity{
//	    Name:  "John Doe",
//	    Email: "john@example.com",
//	}
//
// # Materialized Views
//
// A materialized view is a named, precomputed query result scoped to a
// project. Its identity is the (project, name) pair:
//
//	view := core.MaterializedView{
//	    Project:        "acme",
//	    Name:           "daily_sales",
//	    Query:          "SELECT day, sum(amount) FROM sales GROUP BY day",
//	    UpdateInterval: time.Hour,
//	}
//
// # Query Stats
//
// QueryStats is a point-in-time progress snapshot of a running query.
// Snapshots from several executions fold together with Merge.
package core
