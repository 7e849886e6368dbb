package ps

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nickyhof/CommitQuery/core"
)

const projectSuffix = ".project"

func projectPath(name string) string {
	return name + projectSuffix
}

func (p *Persistence) CreateProject(project core.Project, identity core.Identity) (Transaction, error) {
	if err := validateName("project", project.Name); err != nil {
		return Transaction{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists, err := p.readFile(projectPath(project.Name)); err != nil {
		return Transaction{}, err
	} else if exists {
		return Transaction{}, fmt.Errorf("%w: %s", ErrProjectExists, project.Name)
	}

	data, err := json.Marshal(project)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to marshal project: %w", err)
	}

	return p.commit([]treeChange{writeChange(projectPath(project.Name), data)},
		identity, "Creating project "+project.Name)
}

func (p *Persistence) GetProject(name string) (*core.Project, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, exists, err := p.readFile(projectPath(name))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}

	var project core.Project
	if err := json.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project %s: %w", name, err)
	}
	return &project, nil
}

// ListProjects returns the names of all projects, sorted.
func (p *Persistence) ListProjects() ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	files, err := p.listFiles("", projectSuffix)
	if err != nil {
		return nil, err
	}

	projects := make([]string, len(files))
	for i, file := range files {
		projects[i] = strings.TrimSuffix(file, projectSuffix)
	}
	return projects, nil
}

// DropProject removes the project together with its view definitions.
func (p *Persistence) DropProject(name string, identity core.Identity) (Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists, err := p.readFile(projectPath(name)); err != nil {
		return Transaction{}, err
	} else if !exists {
		return Transaction{}, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}

	return p.commit([]treeChange{
		deleteChange(projectPath(name)),
		deleteChange(viewDir(name)),
	}, identity, "Dropping project "+name)
}
