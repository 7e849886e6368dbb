package ps

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
	"github.com/go-git/go-git/v6/plumbing/transport/ssh"
)

// AuthType defines the type of authentication
type AuthType string

const (
	AuthTypeNone  AuthType = "none"
	AuthTypeToken AuthType = "token"
	AuthTypeSSH   AuthType = "ssh"
	AuthTypeBasic AuthType = "basic"
)

// RemoteAuth holds authentication configuration for remote operations
type RemoteAuth struct {
	Type       AuthType
	Token      string // For token auth
	KeyPath    string // For SSH key auth
	Passphrase string // For SSH key with passphrase
	Username   string // For basic auth
	Password   string // For basic auth
}

// RemoteConfig is the upstream repository metadata is cloned from and
// synchronized with. Several nodes sharing one upstream see each other's
// projects after a Pull.
type RemoteConfig struct {
	URL  string
	Auth *RemoteAuth
}

const remoteName = "origin"

func (auth *RemoteAuth) getAuthMethod() (transport.AuthMethod, error) {
	if auth == nil {
		return nil, nil
	}

	switch auth.Type {
	case AuthTypeNone, "":
		return nil, nil
	case AuthTypeToken:
		return &http.BasicAuth{Username: "git", Password: auth.Token}, nil
	case AuthTypeSSH:
		keyPath := auth.KeyPath
		if keyPath == "" {
			home, _ := os.UserHomeDir()
			keyPath = home + "/.ssh/id_rsa"
		}
		return ssh.NewPublicKeysFromFile("git", keyPath, auth.Passphrase)
	case AuthTypeBasic:
		return &http.BasicAuth{Username: auth.Username, Password: auth.Password}, nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", auth.Type)
	}
}

// IsRemote reports whether the store was cloned from an upstream repository.
func (p *Persistence) IsRemote() bool {
	return p.remote != nil
}

// Pull fast-forwards to the upstream HEAD. It is a no-op without a remote.
func (p *Persistence) Pull(ctx context.Context) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}
	if p.remote == nil {
		return nil
	}

	authMethod, err := p.remote.Auth.getAuthMethod()
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	wt, err := p.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	err = wt.PullContext(ctx, &git.PullOptions{RemoteName: remoteName, Auth: authMethod})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to pull from '%s': %w", p.remote.URL, err)
	}
	return nil
}

// Push publishes local commits upstream. It is a no-op without a remote.
func (p *Persistence) Push(ctx context.Context) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}
	if p.remote == nil {
		return nil
	}

	authMethod, err := p.remote.Auth.getAuthMethod()
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	err = p.repo.PushContext(ctx, &git.PushOptions{RemoteName: remoteName, Auth: authMethod})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to push to '%s': %w", p.remote.URL, err)
	}
	return nil
}
