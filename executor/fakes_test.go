package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nickyhof/CommitQuery/core"
	"github.com/nickyhof/CommitQuery/db"
	"github.com/nickyhof/CommitQuery/mv"
	"github.com/nickyhof/CommitQuery/sql"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeExecution struct {
	query  string
	result *db.ResultFuture

	mu     sync.Mutex
	stats  *core.QueryStats
	killed bool
}

func newFakeExecution(query string) *fakeExecution {
	return &fakeExecution{query: query, result: db.NewResultFuture()}
}

func (execution *fakeExecution) CurrentStats() *core.QueryStats {
	execution.mu.Lock()
	defer execution.mu.Unlock()
	return execution.stats
}

func (execution *fakeExecution) setStats(stats core.QueryStats) {
	execution.mu.Lock()
	defer execution.mu.Unlock()
	execution.stats = &stats
}

func (execution *fakeExecution) IsFinished() bool {
	_, ok := execution.result.Poll()
	return ok
}

func (execution *fakeExecution) Result() *db.ResultFuture { return execution.result }
func (execution *fakeExecution) Query() string            { return execution.query }

func (execution *fakeExecution) Kill() {
	execution.mu.Lock()
	execution.killed = true
	execution.mu.Unlock()
	execution.result.Complete(db.ErrorResult(db.KilledError()))
}

func (execution *fakeExecution) wasKilled() bool {
	execution.mu.Lock()
	defer execution.mu.Unlock()
	return execution.killed
}

func (execution *fakeExecution) succeed() {
	execution.result.Complete(db.SuccessResult([]core.Column{{Name: "n", Type: core.IntType}}, [][]any{{int64(1)}}))
}

func (execution *fakeExecution) fail(message string) {
	execution.result.Complete(db.ErrorResult(&core.QueryError{Message: message, SQLState: db.SQLStateInternalError}))
}

// fakeEngine leaves table names as written. Executions complete right away,
// failing with failure when it is set, unless hold is set.
type fakeEngine struct {
	hold    bool
	failure string

	mu         sync.Mutex
	executions []*fakeExecution
}

func (engine *fakeEngine) ExecuteRawQuery(_ context.Context, query string) db.QueryExecution {
	execution := newFakeExecution(query)
	engine.mu.Lock()
	engine.executions = append(engine.executions, execution)
	hold, failure := engine.hold, engine.failure
	engine.mu.Unlock()

	switch {
	case hold:
	case failure != "":
		execution.fail(failure)
	default:
		execution.succeed()
	}
	return execution
}

func (engine *fakeEngine) FormatTableReference(_ context.Context, project string, name sql.QualifiedName) (string, error) {
	if prefix, ok := name.Prefix(); ok && prefix.String() != project {
		return "", db.ErrTableOutsideProject
	}
	return name.Suffix(), nil
}

func (engine *fakeEngine) queries() []string {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	queries := make([]string, 0, len(engine.executions))
	for _, execution := range engine.executions {
		queries = append(queries, execution.query)
	}
	return queries
}

func (engine *fakeEngine) execution(t *testing.T, index int) *fakeExecution {
	t.Helper()
	require.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return len(engine.executions) > index
	}, 5*time.Second, time.Millisecond)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.executions[index]
}

type fakeView struct {
	view         core.MaterializedView
	computeQuery string
	fresh        bool
}

// fakeViews hands out one held execution per stale view and stamps the view
// when the test completes it successfully.
type fakeViews struct {
	now time.Time

	mu         sync.Mutex
	views      map[string]*fakeView
	lockCalls  map[string]int
	executions map[string]*fakeExecution
}

func newFakeViews(now time.Time) *fakeViews {
	return &fakeViews{
		now:        now,
		views:      make(map[string]*fakeView),
		lockCalls:  make(map[string]int),
		executions: make(map[string]*fakeExecution),
	}
}

func (views *fakeViews) add(project, name, computeQuery string, fresh bool) {
	view := core.MaterializedView{Project: project, Name: name, Query: computeQuery, UpdateInterval: time.Hour}
	if fresh {
		lastUpdate := views.now.Add(-time.Minute)
		view.LastUpdate = &lastUpdate
	}
	views.views[name] = &fakeView{view: view, computeQuery: computeQuery, fresh: fresh}
}

func (views *fakeViews) GetMaterializedView(_ context.Context, project, name string) (*core.MaterializedView, error) {
	views.mu.Lock()
	defer views.mu.Unlock()
	fake, ok := views.views[name]
	if !ok || fake.view.Project != project {
		return nil, mv.ErrViewNotFound
	}
	view := fake.view
	return &view, nil
}

func (views *fakeViews) LockAndUpdateView(_ context.Context, view *core.MaterializedView) *mv.Refresh {
	views.mu.Lock()
	defer views.mu.Unlock()

	views.lockCalls[view.Name]++
	fake := views.views[view.Name]
	refresh := &mv.Refresh{View: view, ComputeQuery: fake.computeQuery}
	if fake.fresh {
		return refresh
	}

	execution := newFakeExecution("CREATE OR REPLACE TABLE " + view.Name)
	views.executions[view.Name] = execution
	refresh.Execution = db.NewDelegateExecution(execution, func(result *db.QueryResult) *db.QueryResult {
		if !result.IsFailed() {
			lastUpdate := views.now
			view.LastUpdate = &lastUpdate
		}
		return result
	})
	refresh.Execution.Result()
	return refresh
}

func (views *fakeViews) calls(name string) int {
	views.mu.Lock()
	defer views.mu.Unlock()
	return views.lockCalls[name]
}

func (views *fakeViews) execution(name string) *fakeExecution {
	views.mu.Lock()
	defer views.mu.Unlock()
	return views.executions[name]
}

type fakeRegistry struct {
	mu       sync.Mutex
	projects []string
	err      error
	calls    int
	release  chan struct{}
}

func (registry *fakeRegistry) GetProjects(ctx context.Context) ([]string, error) {
	registry.mu.Lock()
	registry.calls++
	release := registry.release
	registry.mu.Unlock()

	if release != nil {
		<-release
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()
	return append([]string(nil), registry.projects...), registry.err
}

func (registry *fakeRegistry) callCount() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return registry.calls
}

func waitResult(t *testing.T, execution db.QueryExecution) *db.QueryResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := execution.Result().Get(ctx)
	require.NoError(t, err)
	return result
}
