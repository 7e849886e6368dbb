package CommitQuery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nickyhof/CommitQuery/core"
	"github.com/nickyhof/CommitQuery/db"
	"github.com/nickyhof/CommitQuery/executor"
	"github.com/nickyhof/CommitQuery/logger"
	"github.com/nickyhof/CommitQuery/mv"
	"github.com/nickyhof/CommitQuery/ps"
)

var DefaultIdentity = core.Identity{Name: "CommitQuery", Email: "commitquery@localhost"}

// Instance ties the metadata store, the query engine, the materialized view
// service and the query executor together.
type Instance struct {
	Persistence *ps.Persistence
	Engine      *db.Engine
	Views       *mv.Service
	Executor    *executor.QueryExecutorService

	identity core.Identity
	logger   logger.Logger
}

type config struct {
	identity     core.Identity
	logger       logger.Logger
	defaultLimit int64
}

type Option func(*config)

// WithIdentity sets the author of metadata commits.
func WithIdentity(identity core.Identity) Option {
	return func(c *config) {
		c.identity = identity
	}
}

func WithLogger(logger logger.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func WithDefaultLimit(limit int64) Option {
	return func(c *config) {
		c.defaultLimit = limit
	}
}

func Open(persistence *ps.Persistence, engine *db.Engine, options ...Option) *Instance {
	c := config{
		identity:     DefaultIdentity,
		logger:       logger.NewNoopLogger(),
		defaultLimit: executor.DefaultLimit,
	}
	for _, option := range options {
		option(&c)
	}

	views := mv.NewService(persistence, engine, c.identity, mv.WithLogger(c.logger))
	return &Instance{
		Persistence: persistence,
		Engine:      engine,
		Views:       views,
		Executor: executor.NewQueryExecutorService(engine, views, registry{persistence},
			executor.WithLogger(c.logger), executor.WithDefaultLimit(c.defaultLimit)),
		identity: c.identity,
		logger:   c.logger,
	}
}

// registry lists projects from the metadata store, pulling first so projects
// created by other nodes are seen.
type registry struct {
	persistence *ps.Persistence
}

func (r registry) GetProjects(ctx context.Context) ([]string, error) {
	if err := r.persistence.Pull(ctx); err != nil {
		return nil, err
	}
	return r.persistence.ListProjects()
}

// Provision creates the engine schema of every stored project. Run it after
// opening an engine that does not keep its data.
func (instance *Instance) Provision(ctx context.Context) error {
	projects, err := instance.Persistence.ListProjects()
	if err != nil {
		return err
	}
	for _, project := range projects {
		if err := instance.Engine.CreateSchema(ctx, project); err != nil {
			return err
		}
	}
	return nil
}

// CreateProject records a project and creates its schema.
func (instance *Instance) CreateProject(ctx context.Context, name string) error {
	if _, err := instance.Persistence.CreateProject(core.Project{Name: name, CreatedAt: time.Now()}, instance.identity); err != nil {
		return err
	}
	if err := instance.Engine.CreateSchema(ctx, name); err != nil {
		return err
	}
	instance.logger.InfoWithContext(ctx, "project created", zap.String("project", name))
	return instance.Persistence.Push(ctx)
}

// DropProject removes a project, its views and all of its tables.
func (instance *Instance) DropProject(ctx context.Context, name string) error {
	if _, err := instance.Persistence.DropProject(name, instance.identity); err != nil {
		return err
	}
	if err := instance.Engine.DropSchema(ctx, name); err != nil {
		return err
	}
	instance.logger.InfoWithContext(ctx, "project dropped", zap.String("project", name))
	return instance.Persistence.Push(ctx)
}

func (instance *Instance) CreateMaterializedView(ctx context.Context, view core.MaterializedView) error {
	if err := instance.Views.CreateMaterializedView(ctx, view); err != nil {
		return err
	}
	return instance.Persistence.Push(ctx)
}

func (instance *Instance) DropMaterializedView(ctx context.Context, project, name string) error {
	if err := instance.Views.DropMaterializedView(ctx, project, name); err != nil {
		return err
	}
	return instance.Persistence.Push(ctx)
}

// Close closes the engine.
func (instance *Instance) Close() error {
	return instance.Engine.Close()
}
