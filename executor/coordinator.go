package executor

import (
	"context"
	"slices"
	"strings"

	"github.com/nickyhof/CommitQuery/core"
	"github.com/nickyhof/CommitQuery/mv"
)

// ViewService brings materialized views up to date.
type ViewService interface {
	GetMaterializedView(ctx context.Context, project, name string) (*core.MaterializedView, error)
	LockAndUpdateView(ctx context.Context, view *core.MaterializedView) *mv.Refresh
}

// coordinator asks for each referenced view to be refreshed exactly once per
// query, however often the query mentions it. It is used by one goroutine.
type coordinator struct {
	views     ViewService
	refreshes map[core.ViewKey]*mv.Refresh
}

func newCoordinator(views ViewService) *coordinator {
	return &coordinator{
		views:     views,
		refreshes: make(map[core.ViewKey]*mv.Refresh),
	}
}

func (c *coordinator) ensureFresh(ctx context.Context, view *core.MaterializedView) *mv.Refresh {
	if refresh, ok := c.refreshes[view.Key()]; ok {
		return refresh
	}

	refresh := c.views.LockAndUpdateView(ctx, view)
	c.refreshes[view.Key()] = refresh
	if refresh.Execution != nil {
		viewRefreshCounter.Inc()
	}
	return refresh
}

func (c *coordinator) lookup(key core.ViewKey) (*mv.Refresh, bool) {
	refresh, ok := c.refreshes[key]
	return refresh, ok
}

// sorted returns the refreshes by ascending view name.
func (c *coordinator) sorted() []*mv.Refresh {
	refreshes := make([]*mv.Refresh, 0, len(c.refreshes))
	for _, refresh := range c.refreshes {
		refreshes = append(refreshes, refresh)
	}
	slices.SortFunc(refreshes, func(a, b *mv.Refresh) int {
		return strings.Compare(a.View.Name, b.View.Name)
	})
	return refreshes
}
