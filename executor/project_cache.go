package executor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nickyhof/CommitQuery/logger"
)

// ProjectRegistry lists the projects that may run queries.
type ProjectRegistry interface {
	GetProjects(ctx context.Context) ([]string, error)
}

// ProjectCache remembers the known projects. It is filled on first use and
// reloaded whenever a project is not found; concurrent reloads are collapsed
// into one registry call.
type ProjectCache struct {
	registry ProjectRegistry
	logger   logger.Logger
	group    singleflight.Group

	mu       sync.RWMutex
	projects map[string]struct{}
}

func NewProjectCache(registry ProjectRegistry, logger logger.Logger) *ProjectCache {
	return &ProjectCache{
		registry: registry,
		logger:   logger,
		projects: make(map[string]struct{}),
	}
}

// Exists reports whether project is known. A miss reloads the cache once and
// checks again; a second miss is final.
func (cache *ProjectCache) Exists(ctx context.Context, project string) (bool, error) {
	if cache.contains(project) {
		return true, nil
	}
	if err := cache.reload(ctx); err != nil {
		return false, err
	}
	return cache.contains(project), nil
}

func (cache *ProjectCache) contains(project string) bool {
	cache.mu.RLock()
	defer cache.mu.RUnlock()
	_, ok := cache.projects[project]
	return ok
}

// reload shares one registry call between concurrent callers. The shared call
// does not inherit a caller's cancellation; each caller stops waiting when its
// own context is done.
func (cache *ProjectCache) reload(ctx context.Context) error {
	loadCtx := context.WithoutCancel(ctx)
	results := cache.group.DoChan("projects", func() (any, error) {
		projects, err := cache.registry.GetProjects(loadCtx)
		if err != nil {
			return nil, err
		}

		loaded := make(map[string]struct{}, len(projects))
		for _, project := range projects {
			loaded[project] = struct{}{}
		}

		cache.mu.Lock()
		cache.projects = loaded
		cache.mu.Unlock()

		projectCacheReloadCounter.Inc()
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to load projects: %w", ctx.Err())
	case result := <-results:
		if result.Err != nil {
			return fmt.Errorf("failed to load projects: %w", result.Err)
		}
		cache.logger.DebugWithContext(ctx, "project cache reloaded", zap.Bool("shared", result.Shared))
		return nil
	}
}
