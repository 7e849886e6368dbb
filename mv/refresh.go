package mv

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/nickyhof/CommitQuery/core"
	"github.com/nickyhof/CommitQuery/db"
	"github.com/nickyhof/CommitQuery/sql"
)

// Schema is the reserved prefix of materialized view references.
const Schema = "materialized"

// ViewReference returns the view name of a materialized.<name> reference.
func ViewReference(name sql.QualifiedName) (string, bool) {
	prefix, ok := name.Prefix()
	if !ok || len(prefix) != 1 || !strings.EqualFold(prefix[0], Schema) {
		return "", false
	}
	return name.Suffix(), true
}

// Refresh is the outcome of asking for a view to be up to date. Execution is
// nil when the view was already fresh. ComputeQuery is the relation that reads
// the view's data.
type Refresh struct {
	View         *core.MaterializedView
	Execution    db.QueryExecution
	ComputeQuery string
}

type inflightRefresh struct {
	// closed once execution is set
	ready     chan struct{}
	execution db.QueryExecution
	// views waiting on the execution; all are stamped when it succeeds
	views []*core.MaterializedView
}

// LockAndUpdateView makes sure view is fresh. A stale view is recomputed with
// CREATE OR REPLACE TABLE; concurrent callers for the same view share the one
// execution in flight. On success the view's LastUpdate is set and persisted
// before the execution's result resolves.
func (service *Service) LockAndUpdateView(ctx context.Context, view *core.MaterializedView) *Refresh {
	key := view.Key()
	refresh := &Refresh{
		View:         view,
		ComputeQuery: service.engine.MaterializedTableReference(view.Project, view.Name),
	}

	service.mu.Lock()
	if inflight, ok := service.inflight[key]; ok {
		inflight.views = append(inflight.views, view)
		service.mu.Unlock()
		<-inflight.ready
		refresh.Execution = inflight.execution
		return refresh
	}

	if service.built[key] && view.IsFresh(service.now()) {
		service.mu.Unlock()
		return refresh
	}

	inflight := &inflightRefresh{ready: make(chan struct{}), views: []*core.MaterializedView{view}}
	service.inflight[key] = inflight
	service.mu.Unlock()

	// the refresh outlives the query that triggered it
	execution := service.startRefresh(context.WithoutCancel(ctx), view, refresh.ComputeQuery)
	delegate := db.NewDelegateExecution(execution, func(result *db.QueryResult) *db.QueryResult {
		return service.completeRefresh(ctx, key, *view, result)
	})
	inflight.execution = delegate
	close(inflight.ready)
	refresh.Execution = delegate

	// start waiting right away so the view is released even if nobody reads
	// the result; this may complete synchronously
	delegate.Result()

	service.logger.DebugWithContext(ctx, "refreshing materialized view",
		zap.String("project", view.Project), zap.String("view", view.Name))
	return refresh
}

func (service *Service) startRefresh(ctx context.Context, view *core.MaterializedView, table string) db.QueryExecution {
	query, err := sql.Parse(view.Query)
	if err != nil {
		return db.NewFailedExecution(view.Query, &core.QueryError{Message: err.Error(), SQLState: db.SQLStateSyntaxError})
	}

	text, err := sql.Format(query, func(name sql.QualifiedName) (string, error) {
		if referenced, ok := ViewReference(name); ok {
			return service.engine.MaterializedTableReference(view.Project, referenced), nil
		}
		return service.engine.FormatTableReference(ctx, view.Project, name)
	})
	if err != nil {
		return db.NewFailedExecution(view.Query, &core.QueryError{Message: err.Error(), SQLState: db.SQLStateUndefinedTable})
	}

	return service.engine.ExecuteRawQuery(ctx, "CREATE OR REPLACE TABLE "+table+" AS "+text)
}

func (service *Service) completeRefresh(ctx context.Context, key core.ViewKey, view core.MaterializedView, result *db.QueryResult) *db.QueryResult {
	if !result.IsFailed() {
		now := service.now()
		view.LastUpdate = &now
		if _, err := service.store.UpdateView(view, service.identity); err != nil {
			service.logger.ErrorWithContext(ctx, "failed to record materialized view refresh",
				zap.String("project", key.Project), zap.String("view", key.Name), zap.Error(err))
			result = db.ErrorResult(&core.QueryError{Message: err.Error()})
		}
	}

	service.mu.Lock()
	inflight := service.inflight[key]
	delete(service.inflight, key)
	if !result.IsFailed() {
		service.built[key] = true
		for _, waiting := range inflight.views {
			lastUpdate := *view.LastUpdate
			waiting.LastUpdate = &lastUpdate
		}
	}
	service.mu.Unlock()

	if result.IsFailed() {
		service.logger.WarnWithContext(ctx, "materialized view refresh failed",
			zap.String("project", key.Project), zap.String("view", key.Name), zap.String("error", result.Error.Message))
	}
	return result
}
