package ps

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/go-git/go-billy/v6/memfs"
	"github.com/go-git/go-billy/v6/osfs"
	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/cache"
	"github.com/go-git/go-git/v6/storage/filesystem"
	"github.com/go-git/go-git/v6/storage/memory"
)

var (
	ErrNotInitialized  = errors.New("persistence layer not initialized")
	ErrInvalidName     = errors.New("invalid name")
	ErrProjectExists   = errors.New("project already exists")
	ErrProjectNotFound = errors.New("project does not exist")
	ErrViewExists      = errors.New("materialized view already exists")
	ErrViewNotFound    = errors.New("materialized view does not exist")
)

// Persistence stores project and materialized view metadata in a Git
// repository. Every write is a commit.
type Persistence struct {
	repo   *git.Repository
	mu     sync.RWMutex
	memory bool
	remote *RemoteConfig
}

// IsInitialized returns true if the persistence layer has a valid repository
func (p *Persistence) IsInitialized() bool {
	return p != nil && p.repo != nil
}

func (p *Persistence) ensureInitialized() error {
	if !p.IsInitialized() {
		return ErrNotInitialized
	}
	return nil
}

func NewMemoryPersistence() (*Persistence, error) {
	repo, err := git.Init(memory.NewStorage(), git.WithWorkTree(memfs.New()))
	if err != nil {
		return nil, err
	}
	return &Persistence{repo: repo, memory: true}, nil
}

// NewFilePersistence opens the repository in baseDir, creating it when it does
// not exist. With a remote the repository is cloned from it on first use.
func NewFilePersistence(baseDir string, remote *RemoteConfig) (*Persistence, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}

	wt := osfs.New(baseDir)
	fs, err := wt.Chroot(".git")
	if err != nil {
		return nil, err
	}

	storer := filesystem.NewStorageWithOptions(
		fs,
		cache.NewObjectLRUDefault(),
		filesystem.Options{ExclusiveAccess: true})

	var repo *git.Repository
	if _, statErr := os.Stat(fs.Root()); statErr == nil {
		repo, err = git.Open(storer, wt)
	} else if remote != nil {
		authMethod, authErr := remote.Auth.getAuthMethod()
		if authErr != nil {
			return nil, fmt.Errorf("failed to configure auth: %w", authErr)
		}
		repo, err = git.Clone(storer, wt, &git.CloneOptions{
			URL:  remote.URL,
			Auth: authMethod,
		})
	} else {
		repo, err = git.Init(storer, git.WithWorkTree(wt))
	}
	if err != nil {
		return nil, err
	}

	return &Persistence{repo: repo, remote: remote}, nil
}

var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateName(kind, name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %s %q", ErrInvalidName, kind, name)
	}
	return nil
}
