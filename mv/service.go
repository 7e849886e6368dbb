package mv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nickyhof/CommitQuery/core"
	"github.com/nickyhof/CommitQuery/db"
	"github.com/nickyhof/CommitQuery/logger"
	"github.com/nickyhof/CommitQuery/ps"
	"github.com/nickyhof/CommitQuery/sql"
)

var (
	ErrViewNotFound = ps.ErrViewNotFound
	ErrInvalidQuery = errors.New("invalid materialized view query")
)

// Store persists view definitions.
type Store interface {
	GetView(project, name string) (*core.MaterializedView, error)
	ListViews(project string) ([]core.MaterializedView, error)
	CreateView(view core.MaterializedView, identity core.Identity) (ps.Transaction, error)
	UpdateView(view core.MaterializedView, identity core.Identity) (ps.Transaction, error)
	DropView(project, name string, identity core.Identity) (ps.Transaction, error)
}

// Engine computes view contents.
type Engine interface {
	ExecuteRawQuery(ctx context.Context, query string) db.QueryExecution
	FormatTableReference(ctx context.Context, project string, name sql.QualifiedName) (string, error)
	MaterializedTableReference(project, view string) string
	Exec(ctx context.Context, statement string) error
}

// Service manages materialized views and keeps their tables up to date.
type Service struct {
	store    Store
	engine   Engine
	identity core.Identity
	logger   logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	inflight map[core.ViewKey]*inflightRefresh
	// built records the views whose table was computed by this process; a
	// table is rebuilt once after a restart even if the definition says it is
	// fresh.
	built map[core.ViewKey]bool
}

type ServiceOption func(*Service)

func WithLogger(logger logger.Logger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithClock overrides the time source used for freshness checks.
func WithClock(now func() time.Time) ServiceOption {
	return func(service *Service) {
		service.now = now
	}
}

func NewService(store Store, engine Engine, identity core.Identity, options ...ServiceOption) *Service {
	service := &Service{
		store:    store,
		engine:   engine,
		identity: identity,
		logger:   logger.NewNoopLogger(),
		now:      time.Now,
		inflight: make(map[core.ViewKey]*inflightRefresh),
		built:    make(map[core.ViewKey]bool),
	}
	for _, option := range options {
		option(service)
	}
	return service
}

// GetMaterializedView loads a view definition. Every call returns a new copy.
func (service *Service) GetMaterializedView(ctx context.Context, project, name string) (*core.MaterializedView, error) {
	return service.store.GetView(project, name)
}

func (service *Service) ListMaterializedViews(ctx context.Context, project string) ([]core.MaterializedView, error) {
	return service.store.ListViews(project)
}

// CreateMaterializedView stores a new view after checking its query parses.
// The view is computed on first use.
func (service *Service) CreateMaterializedView(ctx context.Context, view core.MaterializedView) error {
	if _, err := sql.Parse(view.Query); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if view.CreatedAt.IsZero() {
		view.CreatedAt = service.now()
	}
	view.LastUpdate = nil

	if _, err := service.store.CreateView(view, service.identity); err != nil {
		return err
	}
	service.logger.InfoWithContext(ctx, "materialized view created",
		zap.String("project", view.Project), zap.String("view", view.Name))
	return nil
}

// DropMaterializedView removes the definition and the table holding its data.
func (service *Service) DropMaterializedView(ctx context.Context, project, name string) error {
	if _, err := service.store.DropView(project, name, service.identity); err != nil {
		return err
	}

	service.mu.Lock()
	delete(service.built, core.ViewKey{Project: project, Name: name})
	service.mu.Unlock()

	return service.engine.Exec(ctx, "DROP TABLE IF EXISTS "+service.engine.MaterializedTableReference(project, name))
}
