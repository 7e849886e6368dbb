// Package db runs queries on DuckDB and defines the execution handles the
// executor composes.
//
// # Engine Usage
//
//	engine, err := db.NewEngine("") // in-memory
//	if err != nil {
//	    log.Fatal(err)
//	}
//	execution := engine.ExecuteRawQuery(ctx, `SELECT * FROM "analytics"."events"`)
//	result, err := execution.Result().Get(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result.Display()
//
// # Executions
//
// Every QueryExecution resolves a ResultFuture exactly once:
//   - SimpleExecution: a query running on DuckDB
//   - CompletedExecution: a result known up front, such as a rejection
//   - DelegateExecution: another execution with its result transformed
//
// A QueryResult carries either rows with column metadata and properties, or a
// core.QueryError.
package db
