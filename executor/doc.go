// Package executor runs user queries on behalf of a project.
//
// A query goes through these steps:
//
//  1. The project is checked against a cached set of known projects.
//  2. The query is parsed and its LIMIT is checked against the row ceiling.
//  3. Every materialized.<name> reference asks the view service to bring the
//     view up to date. This is the first formatting pass and its output is
//     thrown away.
//  4. A second formatting pass replaces each reference with the relation
//     holding the view's data. Other tables are resolved by the engine.
//  5. If any refresh is still running, a CompositeExecution waits for all of
//     them and only then submits the rewritten query.
//
// Rejections found while rewriting (syntax errors, unknown views, a LIMIT
// above the ceiling) are returned as executions that have already failed, so
// callers always have to inspect the result.
package executor
