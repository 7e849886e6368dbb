package ps

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/nickyhof/CommitQuery/core"
)

const viewRoot = ".commitquery/views"

func viewDir(project string) string {
	return path.Join(viewRoot, project)
}

func viewPath(project, name string) string {
	return path.Join(viewRoot, project, name+".json")
}

// CreateView stores a view definition. The project must exist.
func (p *Persistence) CreateView(view core.MaterializedView, identity core.Identity) (Transaction, error) {
	if err := validateName("materialized view", view.Name); err != nil {
		return Transaction{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists, err := p.readFile(projectPath(view.Project)); err != nil {
		return Transaction{}, err
	} else if !exists {
		return Transaction{}, fmt.Errorf("%w: %s", ErrProjectNotFound, view.Project)
	}
	if _, exists, err := p.readFile(viewPath(view.Project, view.Name)); err != nil {
		return Transaction{}, err
	} else if exists {
		return Transaction{}, fmt.Errorf("%w: %s.%s", ErrViewExists, view.Project, view.Name)
	}

	return p.writeView(view, identity, fmt.Sprintf("Creating materialized view %s.%s", view.Project, view.Name))
}

func (p *Persistence) GetView(project, name string) (*core.MaterializedView, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.getView(project, name)
}

func (p *Persistence) getView(project, name string) (*core.MaterializedView, error) {
	data, exists, err := p.readFile(viewPath(project, name))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s.%s", ErrViewNotFound, project, name)
	}

	var view core.MaterializedView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("failed to unmarshal view: %w", err)
	}
	return &view, nil
}

// ListViews returns all views of a project ordered by name.
func (p *Persistence) ListViews(project string) ([]core.MaterializedView, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	files, err := p.listFiles(viewDir(project), ".json")
	if err != nil {
		return nil, err
	}

	views := make([]core.MaterializedView, 0, len(files))
	for _, file := range files {
		view, err := p.getView(project, strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

// UpdateView overwrites an existing view definition, typically to record a
// refresh timestamp.
func (p *Persistence) UpdateView(view core.MaterializedView, identity core.Identity) (Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists, err := p.readFile(viewPath(view.Project, view.Name)); err != nil {
		return Transaction{}, err
	} else if !exists {
		return Transaction{}, fmt.Errorf("%w: %s.%s", ErrViewNotFound, view.Project, view.Name)
	}

	return p.writeView(view, identity, fmt.Sprintf("Updating materialized view %s.%s", view.Project, view.Name))
}

func (p *Persistence) DropView(project, name string, identity core.Identity) (Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists, err := p.readFile(viewPath(project, name)); err != nil {
		return Transaction{}, err
	} else if !exists {
		return Transaction{}, fmt.Errorf("%w: %s.%s", ErrViewNotFound, project, name)
	}

	return p.commit([]treeChange{deleteChange(viewPath(project, name))},
		identity, fmt.Sprintf("Dropping materialized view %s.%s", project, name))
}

func (p *Persistence) writeView(view core.MaterializedView, identity core.Identity, message string) (Transaction, error) {
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to marshal view: %w", err)
	}
	return p.commit([]treeChange{writeChange(viewPath(view.Project, view.Name), data)}, identity, message)
}
