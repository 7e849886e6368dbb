package ps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickyhof/CommitQuery/core"
)

var testIdentity = core.Identity{Name: "test", Email: "test@test.com"}

func setupPersistence(t *testing.T) *Persistence {
	persistence, err := NewMemoryPersistence()
	require.NoError(t, err)
	require.True(t, persistence.IsInitialized())
	return persistence
}

func TestPersistenceNotInitialized(t *testing.T) {
	var persistence Persistence

	assert.False(t, persistence.IsInitialized())
	assert.ErrorIs(t, persistence.ensureInitialized(), ErrNotInitialized)
	assert.Equal(t, Transaction{}, persistence.LatestTransaction())

	_, err := persistence.ListProjects()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestProjects(t *testing.T) {
	persistence := setupPersistence(t)

	projects, err := persistence.ListProjects()
	require.NoError(t, err)
	assert.Empty(t, projects)

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	txn, err := persistence.CreateProject(core.Project{Name: "web", CreatedAt: created}, testIdentity)
	require.NoError(t, err)
	assert.NotEmpty(t, txn.Id)
	assert.Equal(t, "test <test@test.com>", txn.Author)

	_, err = persistence.CreateProject(core.Project{Name: "analytics"}, testIdentity)
	require.NoError(t, err)

	_, err = persistence.CreateProject(core.Project{Name: "web"}, testIdentity)
	assert.ErrorIs(t, err, ErrProjectExists)

	project, err := persistence.GetProject("web")
	require.NoError(t, err)
	assert.Equal(t, "web", project.Name)
	assert.True(t, created.Equal(project.CreatedAt))

	projects, err = persistence.ListProjects()
	require.NoError(t, err)
	assert.Equal(t, []string{"analytics", "web"}, projects)

	_, err = persistence.GetProject("missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestProjectNameValidation(t *testing.T) {
	persistence := setupPersistence(t)

	for _, name := range []string{"", "a/b", "../etc", "1abc", "with space"} {
		_, err := persistence.CreateProject(core.Project{Name: name}, testIdentity)
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

func TestViews(t *testing.T) {
	persistence := setupPersistence(t)
	_, err := persistence.CreateProject(core.Project{Name: "web"}, testIdentity)
	require.NoError(t, err)

	view := core.MaterializedView{
		Project:        "web",
		Name:           "daily",
		Query:          "SELECT day, count(*) FROM pageviews GROUP BY day",
		UpdateInterval: time.Hour,
	}
	_, err = persistence.CreateView(view, testIdentity)
	require.NoError(t, err)

	_, err = persistence.CreateView(view, testIdentity)
	assert.ErrorIs(t, err, ErrViewExists)

	_, err = persistence.CreateView(core.MaterializedView{Project: "missing", Name: "v"}, testIdentity)
	assert.ErrorIs(t, err, ErrProjectNotFound)

	got, err := persistence.GetView("web", "daily")
	require.NoError(t, err)
	assert.Equal(t, view.Query, got.Query)
	assert.Equal(t, time.Hour, got.UpdateInterval)
	assert.Nil(t, got.LastUpdate)

	refreshed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	got.LastUpdate = &refreshed
	_, err = persistence.UpdateView(*got, testIdentity)
	require.NoError(t, err)

	got, err = persistence.GetView("web", "daily")
	require.NoError(t, err)
	require.NotNil(t, got.LastUpdate)
	assert.Equal(t, refreshed.UnixMilli(), got.LastUpdateMillis())

	_, err = persistence.CreateView(core.MaterializedView{Project: "web", Name: "active_users", Query: "SELECT 1"}, testIdentity)
	require.NoError(t, err)

	views, err := persistence.ListViews("web")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "active_users", views[0].Name)
	assert.Equal(t, "daily", views[1].Name)

	_, err = persistence.DropView("web", "daily", testIdentity)
	require.NoError(t, err)
	_, err = persistence.GetView("web", "daily")
	assert.ErrorIs(t, err, ErrViewNotFound)

	_, err = persistence.UpdateView(view, testIdentity)
	assert.ErrorIs(t, err, ErrViewNotFound)
}

func TestDropProjectRemovesViews(t *testing.T) {
	persistence := setupPersistence(t)
	_, err := persistence.CreateProject(core.Project{Name: "web"}, testIdentity)
	require.NoError(t, err)
	_, err = persistence.CreateView(core.MaterializedView{Project: "web", Name: "daily", Query: "SELECT 1"}, testIdentity)
	require.NoError(t, err)

	_, err = persistence.DropProject("web", testIdentity)
	require.NoError(t, err)

	_, err = persistence.GetProject("web")
	assert.ErrorIs(t, err, ErrProjectNotFound)
	views, err := persistence.ListViews("web")
	require.NoError(t, err)
	assert.Empty(t, views)

	_, err = persistence.DropProject("web", testIdentity)
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestHistory(t *testing.T) {
	persistence := setupPersistence(t)

	history, err := persistence.History(10)
	require.NoError(t, err)
	assert.Empty(t, history)

	for _, name := range []string{"a", "b", "c"} {
		_, err := persistence.CreateProject(core.Project{Name: name}, testIdentity)
		require.NoError(t, err)
	}

	history, err = persistence.History(2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, persistence.LatestTransaction().Id, history[0].Id)
	assert.Equal(t, "Creating project c", history[0].Message)
}

func TestFilePersistenceReopen(t *testing.T) {
	dir := t.TempDir()

	persistence, err := NewFilePersistence(dir, nil)
	require.NoError(t, err)
	_, err = persistence.CreateProject(core.Project{Name: "web"}, testIdentity)
	require.NoError(t, err)
	_, err = persistence.CreateView(core.MaterializedView{Project: "web", Name: "daily", Query: "SELECT 1"}, testIdentity)
	require.NoError(t, err)

	assert.FileExists(t, dir+"/web.project")
	assert.FileExists(t, dir+"/.commitquery/views/web/daily.json")

	reopened, err := NewFilePersistence(dir, nil)
	require.NoError(t, err)
	projects, err := reopened.ListProjects()
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, projects)

	// without an upstream pull and push do nothing
	assert.False(t, reopened.IsRemote())
	assert.NoError(t, reopened.Pull(context.Background()))
	assert.NoError(t, reopened.Push(context.Background()))
}
