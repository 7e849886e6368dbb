package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/nickyhof/CommitQuery/core"
	"github.com/nickyhof/CommitQuery/db"
	"github.com/nickyhof/CommitQuery/mv"
	"github.com/nickyhof/CommitQuery/sql"
)

// BuiltQuery is a query ready to run.
type BuiltQuery struct {
	// Query is the rewritten text handed to the engine.
	Query string
	// Refreshes holds one entry per referenced view, by ascending view name.
	Refreshes []*mv.Refresh
}

// Pending returns the refreshes that still have work running.
func (built *BuiltQuery) Pending() []*mv.Refresh {
	var pending []*mv.Refresh
	for _, refresh := range built.Refreshes {
		if refresh.Execution != nil {
			pending = append(pending, refresh)
		}
	}
	return pending
}

// viewsProperty maps each referenced view to its last refresh in epoch millis.
func viewsProperty(refreshes []*mv.Refresh) map[string]int64 {
	views := make(map[string]int64, len(refreshes))
	for _, refresh := range refreshes {
		views[refresh.View.Name] = refresh.View.LastUpdateMillis()
	}
	return views
}

// BuildQuery rewrites text for execution in project. Rejections are returned
// as *core.QueryError; any other error comes from a collaborator.
//
// Views referenced by the query are refreshed as a side effect, so a query
// rejected for an unknown view may still have started refreshes of the views
// named before it.
func (service *QueryExecutorService) BuildQuery(ctx context.Context, project, text string, ceiling int64) (*BuiltQuery, error) {
	query, err := sql.Parse(text)
	if err != nil {
		return nil, syntaxError(err)
	}

	limited, err := checkLimit(query, ceiling)
	if err != nil {
		return nil, err
	}

	coordinator := newCoordinator(service.views)
	tables := make(map[string]string)

	resolveTable := func(name sql.QualifiedName) (string, error) {
		if resolved, ok := tables[name.String()]; ok {
			return resolved, nil
		}
		resolved, err := service.engine.FormatTableReference(ctx, project, name)
		if err != nil {
			if errors.Is(err, db.ErrTableOutsideProject) || errors.Is(err, db.ErrInvalidTableName) {
				return "", &core.QueryError{Message: err.Error(), SQLState: db.SQLStateUndefinedTable}
			}
			return "", err
		}
		tables[name.String()] = resolved
		return resolved, nil
	}

	// the first pass only triggers refreshes
	_, err = sql.Format(query, func(name sql.QualifiedName) (string, error) {
		viewName, ok := mv.ViewReference(name)
		if !ok {
			return resolveTable(name)
		}
		if _, seen := coordinator.lookup(core.ViewKey{Project: project, Name: viewName}); seen {
			return "", nil
		}

		view, err := service.views.GetMaterializedView(ctx, project, viewName)
		if errors.Is(err, mv.ErrViewNotFound) {
			return "", &core.QueryError{
				Message:  fmt.Sprintf("Referenced materialized table %s does not exist", viewName),
				SQLState: db.SQLStateUndefinedTable,
			}
		}
		if err != nil {
			return "", err
		}
		coordinator.ensureFresh(ctx, view)
		return "", nil
	})
	if err != nil {
		return nil, err
	}

	rewritten, err := sql.Format(query, func(name sql.QualifiedName) (string, error) {
		viewName, ok := mv.ViewReference(name)
		if !ok {
			return resolveTable(name)
		}
		refresh, ok := coordinator.lookup(core.ViewKey{Project: project, Name: viewName})
		if !ok {
			return "", fmt.Errorf("materialized table %s was not prepared", viewName)
		}
		return refresh.ComputeQuery, nil
	})
	if err != nil {
		return nil, err
	}

	if !limited {
		rewritten += " LIMIT " + strconv.FormatInt(ceiling, 10)
	}

	service.logger.DebugWithContext(ctx, "query rewritten",
		zap.String("project", project), zap.String("query", rewritten))
	return &BuiltQuery{Query: rewritten, Refreshes: coordinator.sorted()}, nil
}

// checkLimit reports whether the query has its own LIMIT and rejects one
// larger than ceiling. LIMIT ALL is never within the ceiling.
func checkLimit(query *sql.Query, ceiling int64) (bool, error) {
	limit, ok := query.ExplicitLimit()
	if !ok {
		return false, nil
	}

	value, err := strconv.ParseInt(limit, 10, 64)
	if err != nil || value > ceiling {
		return true, &core.QueryError{
			Message:  fmt.Sprintf("The maximum value of LIMIT statement is %d", ceiling),
			SQLState: db.SQLStateInvalidLimit,
		}
	}
	return true, nil
}

func syntaxError(err error) error {
	var parseErr *sql.ParseError
	if !errors.As(err, &parseErr) {
		return &core.QueryError{Message: err.Error(), SQLState: db.SQLStateSyntaxError}
	}
	line, column := parseErr.Line, parseErr.Column
	return &core.QueryError{
		Message:  parseErr.Message,
		SQLState: db.SQLStateSyntaxError,
		Line:     &line,
		Column:   &column,
	}
}
