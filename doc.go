// Package CommitQuery runs analytic SQL for many projects over DuckDB, with
// materialized views that are refreshed on demand.
//
// Project and view definitions live in a Git repository, so every change is a
// commit and nodes sharing a remote see each other's projects.
//
// # Quick Start
//
//	persistence, _ := ps.NewMemoryPersistence()
//	engine, _ := db.NewEngine("")
//	instance := CommitQuery.Open(persistence, engine)
//
//	instance.CreateProject(ctx, "shop")
//	engine.Exec(ctx, `CREATE TABLE "shop"."orders" AS SELECT * FROM 'orders.csv'`)
//	instance.CreateMaterializedView(ctx, core.MaterializedView{
//		Project:        "shop",
//		Name:           "daily",
//		Query:          "SELECT day, sum(total) AS total FROM orders GROUP BY day",
//		UpdateInterval: time.Hour,
//	})
//
//	execution, _ := instance.Executor.ExecuteQueryDefault(ctx, "shop", "SELECT * FROM materialized.daily")
//	result, _ := execution.Result().Get(ctx)
//	result.Display()
//
// # Queries
//
// Queries are SELECT statements, optionally with WITH clauses and set
// operations. Tables are named <table> or <project>.<table>; a view is read
// with materialized.<view>. A query without LIMIT gets the row ceiling
// appended and a LIMIT above the ceiling is rejected.
package CommitQuery
