package db

import (
	"context"
	dbsql "database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/duckdb/duckdb-go/v2"
	"go.uber.org/zap"

	"github.com/nickyhof/CommitQuery/core"
	"github.com/nickyhof/CommitQuery/logger"
	"github.com/nickyhof/CommitQuery/sql"
)

var (
	ErrTableOutsideProject = errors.New("table is outside of the project")
	ErrInvalidTableName    = errors.New("invalid table name")
)

// materializedTablePrefix names the physical tables backing materialized views.
const materializedTablePrefix = "_materialized_"

// Engine runs SQL on DuckDB. Every project is a DuckDB schema; tables can also
// live in a remote TableStore, in which case they are read from parquet files.
type Engine struct {
	db     *dbsql.DB
	tables TableStore
	logger logger.Logger
}

type EngineOption func(*Engine)

func WithLogger(logger logger.Logger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// NewEngine opens the DuckDB database at path; an empty path is an in-memory
// database.
func NewEngine(path string, options ...EngineOption) (*Engine, error) {
	db, err := dbsql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	engine := &Engine{db: db, logger: logger.NewNoopLogger()}
	for _, option := range options {
		option(engine)
	}
	return engine, nil
}

func (engine *Engine) Close() error {
	return engine.db.Close()
}

// AttachTableStore makes tables of store visible to queries and hands its
// credentials to DuckDB.
func (engine *Engine) AttachTableStore(ctx context.Context, store TableStore) error {
	statement, err := store.SecretStatement(ctx)
	if err != nil {
		return err
	}
	if statement != "" {
		if err := engine.Exec(ctx, statement); err != nil {
			return fmt.Errorf("failed to register table store credentials: %w", err)
		}
	}
	engine.tables = store
	return nil
}

// Exec runs statements that return no rows, such as DDL or data loading.
func (engine *Engine) Exec(ctx context.Context, statement string) error {
	_, err := engine.db.ExecContext(ctx, statement)
	return err
}

func (engine *Engine) CreateSchema(ctx context.Context, project string) error {
	return engine.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+sql.QuoteIdentifier(project))
}

func (engine *Engine) DropSchema(ctx context.Context, project string) error {
	return engine.Exec(ctx, "DROP SCHEMA IF EXISTS "+sql.QuoteIdentifier(project)+" CASCADE")
}

// FormatTableReference returns the relation a project table reference reads
// from. Names are either <table> or <project>.<table>.
func (engine *Engine) FormatTableReference(ctx context.Context, project string, name sql.QualifiedName) (string, error) {
	var table string
	switch len(name) {
	case 1:
		table = name[0]
	case 2:
		if !strings.EqualFold(name[0], project) {
			return "", fmt.Errorf("%w: %s", ErrTableOutsideProject, name)
		}
		table = name[1]
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
	}

	if engine.tables != nil {
		files, err := engine.tables.Files(ctx, project, table)
		if err != nil {
			return "", err
		}
		if len(files) > 0 {
			quoted := make([]string, len(files))
			for i, file := range files {
				quoted[i] = quoteLiteral(file)
			}
			return "SELECT * FROM read_parquet([" + strings.Join(quoted, ", ") + "])", nil
		}
	}

	return sql.QuoteIdentifier(project) + "." + sql.QuoteIdentifier(table), nil
}

// MaterializedTableReference names the table holding the data of a view.
func (engine *Engine) MaterializedTableReference(project, view string) string {
	return sql.QuoteIdentifier(project) + "." + sql.QuoteIdentifier(materializedTablePrefix+view)
}

// ExecuteRawQuery starts query in the background. The query runs until it
// completes, ctx ends or the execution is killed.
func (engine *Engine) ExecuteRawQuery(ctx context.Context, query string) QueryExecution {
	ctx, cancel := context.WithCancel(ctx)
	execution := &SimpleExecution{
		query:   query,
		cancel:  cancel,
		result:  NewResultFuture(),
		started: time.Now(),
		stats:   core.QueryStats{State: core.QueuedState, Nodes: 1},
	}

	engine.logger.DebugWithContext(ctx, "executing query", zap.String("query", query))
	go execution.run(ctx, engine)
	return execution
}

// SimpleExecution is a single query running on DuckDB.
type SimpleExecution struct {
	query   string
	cancel  context.CancelFunc
	result  *ResultFuture
	started time.Time

	mu    sync.Mutex
	stats core.QueryStats
}

func (execution *SimpleExecution) run(ctx context.Context, engine *Engine) {
	defer execution.cancel()

	execution.mu.Lock()
	execution.stats.State = core.RunningState
	execution.mu.Unlock()

	result, err := execution.fetch(ctx, engine.db)
	if err != nil {
		queryErr := toQueryError(ctx, err)
		engine.logger.DebugWithContext(ctx, "query failed", zap.String("query", execution.query), zap.Error(queryErr))
		execution.finish(ErrorResult(queryErr))
		return
	}
	execution.finish(result)
}

func (execution *SimpleExecution) fetch(ctx context.Context, db *dbsql.DB) (*QueryResult, error) {
	rows, err := db.QueryContext(ctx, execution.query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	columns := make([]core.Column, len(columnTypes))
	for i, columnType := range columnTypes {
		nullable, ok := columnType.Nullable()
		columns[i] = core.Column{
			Name:       columnType.Name(),
			Type:       core.ParseColumnType(columnType.DatabaseTypeName()),
			EngineType: columnType.DatabaseTypeName(),
			Nullable:   nullable || !ok,
		}
	}

	data := [][]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		data = append(data, values)

		execution.mu.Lock()
		execution.stats.ProcessedRows++
		execution.mu.Unlock()
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return SuccessResult(columns, data), nil
}

func (execution *SimpleExecution) finish(result *QueryResult) {
	execution.mu.Lock()
	execution.stats.WallTime = time.Since(execution.started)
	execution.stats.Percentage = 100
	if result.IsFailed() {
		execution.stats.State = core.FailedState
	} else {
		execution.stats.State = core.FinishedState
	}
	execution.mu.Unlock()

	execution.result.Complete(result)
}

func (execution *SimpleExecution) CurrentStats() *core.QueryStats {
	execution.mu.Lock()
	defer execution.mu.Unlock()

	stats := execution.stats
	if stats.State == core.QueuedState || stats.State == core.RunningState {
		stats.WallTime = time.Since(execution.started)
	}
	return &stats
}

func (execution *SimpleExecution) IsFinished() bool {
	_, done := execution.result.Poll()
	return done
}

func (execution *SimpleExecution) Result() *ResultFuture {
	return execution.result
}

func (execution *SimpleExecution) Query() string {
	return execution.query
}

func (execution *SimpleExecution) Kill() {
	execution.cancel()
}

// SQLSTATE codes attached to engine failures.
const (
	SQLStateSyntaxError    = "42000"
	SQLStateUndefinedTable = "42P01"
	SQLStateInvalidLimit   = "22023"
	SQLStateQueryCanceled  = "57014"
	SQLStateInternalError  = "XX000"
)

// KilledError is the failure of a query cancelled with Kill.
func KilledError() *core.QueryError {
	return &core.QueryError{Message: "Query was killed", SQLState: SQLStateQueryCanceled}
}

func toQueryError(ctx context.Context, err error) *core.QueryError {
	if errors.Is(ctx.Err(), context.Canceled) {
		return KilledError()
	}

	var duckErr *duckdb.Error
	if errors.As(err, &duckErr) {
		queryErr := &core.QueryError{Message: duckErr.Msg, SQLState: SQLStateInternalError}
		switch duckErr.Type {
		case duckdb.ErrorTypeParser:
			queryErr.SQLState = SQLStateSyntaxError
		case duckdb.ErrorTypeCatalog:
			queryErr.SQLState = SQLStateUndefinedTable
		case duckdb.ErrorTypeInterrupt:
			queryErr.SQLState = SQLStateQueryCanceled
		}
		return queryErr
	}

	return &core.QueryError{Message: err.Error(), SQLState: SQLStateInternalError}
}
