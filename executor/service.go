package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nickyhof/CommitQuery/core"
	"github.com/nickyhof/CommitQuery/db"
	"github.com/nickyhof/CommitQuery/logger"
	"github.com/nickyhof/CommitQuery/sql"
)

// DefaultLimit is the row ceiling used when the caller does not pass one.
const DefaultLimit int64 = 10000

var (
	ErrInvalidProject = errors.New("project is not valid")
	ErrMetadataProbe  = errors.New("unable to execute query")
)

// QueryEngine runs rewritten queries.
type QueryEngine interface {
	ExecuteRawQuery(ctx context.Context, query string) db.QueryExecution
	FormatTableReference(ctx context.Context, project string, name sql.QualifiedName) (string, error)
}

// QueryExecutorService validates, rewrites and runs queries for projects.
type QueryExecutorService struct {
	engine       QueryEngine
	views        ViewService
	projects     *ProjectCache
	logger       logger.Logger
	now          func() time.Time
	defaultLimit int64
}

type Option func(*QueryExecutorService)

func WithLogger(logger logger.Logger) Option {
	return func(service *QueryExecutorService) {
		service.logger = logger
	}
}

// WithDefaultLimit sets the ceiling used by ExecuteQueryDefault.
func WithDefaultLimit(limit int64) Option {
	return func(service *QueryExecutorService) {
		service.defaultLimit = limit
	}
}

func WithClock(now func() time.Time) Option {
	return func(service *QueryExecutorService) {
		service.now = now
	}
}

func NewQueryExecutorService(engine QueryEngine, views ViewService, registry ProjectRegistry, options ...Option) *QueryExecutorService {
	service := &QueryExecutorService{
		engine:       engine,
		views:        views,
		logger:       logger.NewNoopLogger(),
		now:          time.Now,
		defaultLimit: DefaultLimit,
	}
	for _, option := range options {
		option(service)
	}
	service.projects = NewProjectCache(registry, service.logger)
	return service
}

func (service *QueryExecutorService) checkProject(ctx context.Context, project string) error {
	exists, err := service.projects.Exists(ctx, project)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrInvalidProject, project)
	}
	return nil
}

// ExecuteQuery runs text in project, returning at most ceiling rows. An
// error is returned only when the project is unknown or a collaborator
// failed; anything wrong with the query itself shows up in the result of the
// returned execution.
func (service *QueryExecutorService) ExecuteQuery(ctx context.Context, project, text string, ceiling int64) (db.QueryExecution, error) {
	if err := service.checkProject(ctx, project); err != nil {
		return nil, err
	}

	built, err := service.BuildQuery(ctx, project, text, ceiling)
	if err != nil {
		var queryErr *core.QueryError
		if !errors.As(err, &queryErr) {
			return nil, err
		}
		queriesCounter.WithLabelValues(outcomeRejected).Inc()
		service.logger.DebugWithContext(ctx, "query rejected",
			zap.String("project", project), zap.String("error", queryErr.Error()))
		return db.NewFailedExecution(text, queryErr), nil
	}

	if len(built.Pending()) > 0 {
		service.logger.DebugWithContext(ctx, "query waits for materialized views",
			zap.String("project", project), zap.Int("refreshes", len(built.Pending())))
		return newCompositeExecution(built.Query, built.Refreshes, func() db.QueryExecution {
			return service.engine.ExecuteRawQuery(ctx, built.Query)
		}, service.now), nil
	}

	start := service.now()
	execution := service.engine.ExecuteRawQuery(ctx, built.Query)
	return db.NewDelegateExecution(execution, func(result *db.QueryResult) *db.QueryResult {
		if len(built.Refreshes) > 0 && !result.IsFailed() {
			result = result.WithProperties(map[string]any{
				db.MaterializedViewsProperty: viewsProperty(built.Refreshes),
			})
		}
		observeQuery(result, service.now().Sub(start))
		return result
	}), nil
}

// ExecuteQueryDefault runs text with the default row ceiling.
func (service *QueryExecutorService) ExecuteQueryDefault(ctx context.Context, project, text string) (db.QueryExecution, error) {
	return service.ExecuteQuery(ctx, project, text, service.defaultLimit)
}

// ExecuteStatement is ExecuteQueryDefault.
func (service *QueryExecutorService) ExecuteStatement(ctx context.Context, project, text string) (db.QueryExecution, error) {
	return service.ExecuteQueryDefault(ctx, project, text)
}

// Metadata returns the columns text would produce without reading any rows.
// Materialized views are not supported.
func (service *QueryExecutorService) Metadata(ctx context.Context, project, text string) ([]core.Column, error) {
	if err := service.checkProject(ctx, project); err != nil {
		return nil, err
	}

	query, err := sql.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadataProbe, err)
	}
	formatted, err := sql.Format(query, func(name sql.QualifiedName) (string, error) {
		return service.engine.FormatTableReference(ctx, project, name)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadataProbe, err)
	}

	// a second LIMIT would not parse
	if _, limited := query.ExplicitLimit(); limited {
		formatted = "SELECT * FROM (" + formatted + ") AS probe"
	}

	execution := service.engine.ExecuteRawQuery(ctx, formatted+" LIMIT 0")
	result, err := execution.Result().Get(ctx)
	if err != nil {
		execution.Kill()
		return nil, err
	}
	if result.IsFailed() {
		return nil, fmt.Errorf("%w: %s", ErrMetadataProbe, result.Error.Message)
	}
	return result.Columns, nil
}
