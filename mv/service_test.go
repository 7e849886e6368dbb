package mv

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickyhof/CommitQuery/core"
	"github.com/nickyhof/CommitQuery/db"
	"github.com/nickyhof/CommitQuery/ps"
	"github.com/nickyhof/CommitQuery/sql"
)

var testIdentity = core.Identity{Name: "test", Email: "test@test.com"}

type fakeExecution struct {
	query  string
	result *db.ResultFuture
}

func (execution *fakeExecution) CurrentStats() *core.QueryStats { return nil }
func (execution *fakeExecution) IsFinished() bool {
	_, ok := execution.result.Poll()
	return ok
}
func (execution *fakeExecution) Result() *db.ResultFuture { return execution.result }
func (execution *fakeExecution) Query() string            { return execution.query }
func (execution *fakeExecution) Kill()                    {}

type fakeEngine struct {
	mu         sync.Mutex
	executions []*fakeExecution

	// FormatTableReference waits on release for the table named slowTable
	slowTable string
	entered   chan struct{}
	release   chan struct{}
}

func (engine *fakeEngine) ExecuteRawQuery(_ context.Context, query string) db.QueryExecution {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	execution := &fakeExecution{query: query, result: db.NewResultFuture()}
	engine.executions = append(engine.executions, execution)
	return execution
}

func (engine *fakeEngine) FormatTableReference(_ context.Context, project string, name sql.QualifiedName) (string, error) {
	if engine.slowTable != "" && name.Suffix() == engine.slowTable {
		engine.entered <- struct{}{}
		<-engine.release
	}
	return sql.QuoteIdentifier(project) + "." + sql.QuoteIdentifier(name.Suffix()), nil
}

func (engine *fakeEngine) MaterializedTableReference(project, view string) string {
	return sql.QuoteIdentifier(project) + "." + sql.QuoteIdentifier("_materialized_"+view)
}

func (engine *fakeEngine) Exec(context.Context, string) error { return nil }

func (engine *fakeEngine) started() []*fakeExecution {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return append([]*fakeExecution(nil), engine.executions...)
}

func setupStore(t *testing.T) *ps.Persistence {
	persistence, err := ps.NewMemoryPersistence()
	require.NoError(t, err)
	_, err = persistence.CreateProject(core.Project{Name: "web"}, testIdentity)
	require.NoError(t, err)
	return persistence
}

func waitResult(t *testing.T, execution db.QueryExecution) *db.QueryResult {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result, err := execution.Result().Get(ctx)
	require.NoError(t, err)
	return result
}

func TestCreateMaterializedViewValidatesQuery(t *testing.T) {
	service := NewService(setupStore(t), &fakeEngine{}, testIdentity)
	ctx := context.Background()

	err := service.CreateMaterializedView(ctx, core.MaterializedView{Project: "web", Name: "bad", Query: "SELEC 1"})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	err = service.CreateMaterializedView(ctx, core.MaterializedView{Project: "web", Name: "good", Query: "SELECT 1"})
	require.NoError(t, err)

	view, err := service.GetMaterializedView(ctx, "web", "good")
	require.NoError(t, err)
	assert.False(t, view.CreatedAt.IsZero())
	assert.Nil(t, view.LastUpdate)

	_, err = service.GetMaterializedView(ctx, "web", "missing")
	assert.ErrorIs(t, err, ErrViewNotFound)
}

func TestConcurrentCallersShareRefresh(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := &fakeEngine{}
	store := setupStore(t)
	service := NewService(store, engine, testIdentity, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, service.CreateMaterializedView(ctx, core.MaterializedView{
		Project: "web", Name: "daily", Query: "SELECT day, count(*) FROM pageviews GROUP BY day", UpdateInterval: time.Hour,
	}))

	first, err := service.GetMaterializedView(ctx, "web", "daily")
	require.NoError(t, err)
	second, err := service.GetMaterializedView(ctx, "web", "daily")
	require.NoError(t, err)

	firstRefresh := service.LockAndUpdateView(ctx, first)
	secondRefresh := service.LockAndUpdateView(ctx, second)

	require.NotNil(t, firstRefresh.Execution)
	assert.Same(t, firstRefresh.Execution, secondRefresh.Execution)
	assert.Equal(t, `"web"."_materialized_daily"`, firstRefresh.ComputeQuery)

	started := engine.started()
	require.Len(t, started, 1)
	assert.Equal(t, `CREATE OR REPLACE TABLE "web"."_materialized_daily" AS SELECT day, count(*) FROM "web"."pageviews" GROUP BY day`, started[0].query)

	started[0].result.Complete(db.SuccessResult(nil, nil))
	result := waitResult(t, firstRefresh.Execution)
	require.False(t, result.IsFailed())

	require.NotNil(t, first.LastUpdate)
	require.NotNil(t, second.LastUpdate)
	assert.Equal(t, now.UnixMilli(), first.LastUpdateMillis())
	assert.Equal(t, now.UnixMilli(), second.LastUpdateMillis())

	stored, err := store.GetView("web", "daily")
	require.NoError(t, err)
	assert.Equal(t, now.UnixMilli(), stored.LastUpdateMillis())

	// fresh now: no new execution
	third := service.LockAndUpdateView(ctx, stored)
	assert.Nil(t, third.Execution)
	assert.Len(t, engine.started(), 1)
}

func TestStaleViewIsRecomputed(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := &fakeEngine{}
	service := NewService(setupStore(t), engine, testIdentity, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, service.CreateMaterializedView(ctx, core.MaterializedView{
		Project: "web", Name: "daily", Query: "SELECT 1", UpdateInterval: time.Minute,
	}))

	view, err := service.GetMaterializedView(ctx, "web", "daily")
	require.NoError(t, err)
	refresh := service.LockAndUpdateView(ctx, view)
	engine.started()[0].result.Complete(db.SuccessResult(nil, nil))
	waitResult(t, refresh.Execution)

	now = now.Add(2 * time.Minute)
	view, err = service.GetMaterializedView(ctx, "web", "daily")
	require.NoError(t, err)
	refresh = service.LockAndUpdateView(ctx, view)
	require.NotNil(t, refresh.Execution)
	assert.Len(t, engine.started(), 2)

	engine.started()[1].result.Complete(db.SuccessResult(nil, nil))
	waitResult(t, refresh.Execution)
	assert.Equal(t, now.UnixMilli(), view.LastUpdateMillis())
}

func TestFailedRefreshReleasesView(t *testing.T) {
	engine := &fakeEngine{}
	store := setupStore(t)
	service := NewService(store, engine, testIdentity)
	ctx := context.Background()

	require.NoError(t, service.CreateMaterializedView(ctx, core.MaterializedView{
		Project: "web", Name: "daily", Query: "SELECT 1", UpdateInterval: time.Hour,
	}))

	view, err := service.GetMaterializedView(ctx, "web", "daily")
	require.NoError(t, err)
	refresh := service.LockAndUpdateView(ctx, view)
	engine.started()[0].result.Complete(db.ErrorResult(&core.QueryError{Message: "out of memory"}))

	result := waitResult(t, refresh.Execution)
	require.True(t, result.IsFailed())
	assert.Equal(t, "out of memory", result.Error.Message)
	assert.Nil(t, view.LastUpdate)

	stored, err := store.GetView("web", "daily")
	require.NoError(t, err)
	assert.Nil(t, stored.LastUpdate)

	// the next caller starts over
	retry := service.LockAndUpdateView(ctx, stored)
	require.NotNil(t, retry.Execution)
	assert.NotSame(t, refresh.Execution, retry.Execution)
	engine.started()[1].result.Complete(db.SuccessResult(nil, nil))
	waitResult(t, retry.Execution)
}

func TestRefreshOnDuckDB(t *testing.T) {
	ctx := context.Background()
	engine, err := db.NewEngine("")
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	require.NoError(t, engine.CreateSchema(ctx, "web"))
	require.NoError(t, engine.Exec(ctx, `CREATE TABLE "web"."pageviews" (day DATE, url VARCHAR)`))
	require.NoError(t, engine.Exec(ctx, `INSERT INTO "web"."pageviews" VALUES ('2024-03-01', '/'), ('2024-03-01', '/a'), ('2024-03-02', '/')`))

	service := NewService(setupStore(t), engine, testIdentity)
	require.NoError(t, service.CreateMaterializedView(ctx, core.MaterializedView{
		Project: "web", Name: "daily", Query: "SELECT day, count(*) AS views FROM pageviews GROUP BY day", UpdateInterval: time.Hour,
	}))
	require.NoError(t, service.CreateMaterializedView(ctx, core.MaterializedView{
		Project: "web", Name: "broken", Query: "SELECT * FROM missing_table", UpdateInterval: time.Hour,
	}))

	view, err := service.GetMaterializedView(ctx, "web", "daily")
	require.NoError(t, err)
	refresh := service.LockAndUpdateView(ctx, view)
	require.NotNil(t, refresh.Execution)
	result := waitResult(t, refresh.Execution)
	require.False(t, result.IsFailed(), "refresh failed: %v", result.Error)
	assert.NotNil(t, view.LastUpdate)

	rows := waitResult(t, engine.ExecuteRawQuery(ctx, "SELECT views FROM "+refresh.ComputeQuery+" ORDER BY day"))
	require.False(t, rows.IsFailed())
	require.Len(t, rows.Rows, 2)
	assert.EqualValues(t, 2, rows.Rows[0][0])

	broken, err := service.GetMaterializedView(ctx, "web", "broken")
	require.NoError(t, err)
	result = waitResult(t, service.LockAndUpdateView(ctx, broken).Execution)
	require.True(t, result.IsFailed())
	assert.True(t, strings.Contains(strings.ToLower(result.Error.Message), "missing_table"))

	require.NoError(t, service.DropMaterializedView(ctx, "web", "daily"))
	dropped := waitResult(t, engine.ExecuteRawQuery(ctx, "SELECT * FROM "+refresh.ComputeQuery))
	assert.True(t, dropped.IsFailed())
	_, err = service.GetMaterializedView(ctx, "web", "daily")
	assert.ErrorIs(t, err, ErrViewNotFound)
}

func TestRefreshStartDoesNotBlockOtherViews(t *testing.T) {
	engine := &fakeEngine{slowTable: "archive", entered: make(chan struct{}, 1), release: make(chan struct{})}
	service := NewService(setupStore(t), engine, testIdentity)
	ctx := context.Background()

	require.NoError(t, service.CreateMaterializedView(ctx, core.MaterializedView{
		Project: "web", Name: "history", Query: "SELECT * FROM archive", UpdateInterval: time.Hour,
	}))
	require.NoError(t, service.CreateMaterializedView(ctx, core.MaterializedView{
		Project: "web", Name: "daily", Query: "SELECT * FROM pageviews", UpdateInterval: time.Hour,
	}))

	slow := make(chan *Refresh, 2)
	for range 2 {
		view, err := service.GetMaterializedView(ctx, "web", "history")
		require.NoError(t, err)
		go func() { slow <- service.LockAndUpdateView(ctx, view) }()
	}
	<-engine.entered

	daily, err := service.GetMaterializedView(ctx, "web", "daily")
	require.NoError(t, err)
	fast := make(chan *Refresh, 1)
	go func() { fast <- service.LockAndUpdateView(ctx, daily) }()

	select {
	case refresh := <-fast:
		require.NotNil(t, refresh.Execution)
	case <-time.After(5 * time.Second):
		t.Fatal("refresh of daily waited on the refresh of history")
	}

	close(engine.release)
	first, second := <-slow, <-slow
	require.NotNil(t, first.Execution)
	assert.Same(t, first.Execution, second.Execution)

	started := engine.started()
	require.Len(t, started, 2)
	for _, execution := range started {
		execution.result.Complete(db.SuccessResult(nil, nil))
	}
	assert.False(t, waitResult(t, first.Execution).IsFailed())
}
