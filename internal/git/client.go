// Package git fetches service documents from Git repositories.
// Repositories are cloned into memory; nothing is written to disk.
package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

// Client defines the interface for Git operations
type Client interface {
	// Clone clones a repository with the given configuration
	Clone(ctx context.Context, config *CloneConfig) (*RepositoryInfo, error)

	// GetFileContent retrieves the content of a file at the checked out commit
	GetFileContent(repoInfo *RepositoryInfo, path string) ([]byte, error)
}

// AuthConfig holds HTTP basic credentials
type AuthConfig struct {
	Username string
	Password string
}

// CloneConfig contains configuration for cloning a repository
type CloneConfig struct {
	// URL is the repository URL to clone
	URL string

	// Branch, Tag and Commit are mutually exclusive; none clones the default branch
	Branch string
	Tag    string
	Commit string

	Auth *AuthConfig
}

// Validate checks the clone configuration
func (c *CloneConfig) Validate() error {
	if c.URL == "" {
		return errors.New("git repository URL cannot be empty")
	}

	specified := 0
	for _, ref := range []string{c.Branch, c.Tag, c.Commit} {
		if ref != "" {
			specified++
		}
	}
	if specified > 1 {
		return errors.New("only one of branch, tag, or commit may be specified")
	}
	return nil
}

// RepositoryInfo contains information about a cloned repository
type RepositoryInfo struct {
	// Repository is the go-git repository instance
	Repository *git.Repository

	// Branch is the checked out branch name, empty for a detached HEAD
	Branch string

	// RemoteURL is the remote repository URL
	RemoteURL string

	// Commit is the hash of the checked out commit
	Commit string
}

// defaultGitClient implements Client using go-git
type defaultGitClient struct{}

// NewDefaultGitClient creates a new defaultGitClient
func NewDefaultGitClient() Client {
	return &defaultGitClient{}
}

// Clone clones a repository with the given configuration
func (c *defaultGitClient) Clone(ctx context.Context, config *CloneConfig) (*RepositoryInfo, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	cloneOptions := &git.CloneOptions{
		URL: config.URL,
	}

	if config.Auth != nil && config.Auth.Username != "" {
		cloneOptions.Auth = &githttp.BasicAuth{
			Username: config.Auth.Username,
			Password: config.Auth.Password,
		}
		slog.Debug("Using Git HTTP Basic authentication", "username", config.Auth.Username)
	}

	// A commit checkout needs the full history
	if config.Commit == "" {
		if !isLocal(config.URL) {
			cloneOptions.Depth = 1
		}
		if config.Branch != "" {
			cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(config.Branch)
			cloneOptions.SingleBranch = true
		} else if config.Tag != "" {
			cloneOptions.ReferenceName = plumbing.NewTagReferenceName(config.Tag)
			cloneOptions.SingleBranch = true
		}
	}

	repo, err := git.CloneContext(ctx, memory.NewStorage(), memfs.New(), cloneOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to clone repository: %w", err)
	}

	if config.Commit != "" {
		workTree, err := repo.Worktree()
		if err != nil {
			return nil, fmt.Errorf("failed to get worktree: %w", err)
		}
		if err := workTree.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(config.Commit)}); err != nil {
			return nil, fmt.Errorf("failed to checkout commit %s: %w", config.Commit, err)
		}
	}

	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD reference: %w", err)
	}

	info := &RepositoryInfo{
		Repository: repo,
		RemoteURL:  config.URL,
		Commit:     ref.Hash().String(),
	}
	if ref.Name().IsBranch() {
		info.Branch = ref.Name().Short()
	}
	return info, nil
}

// GetFileContent retrieves the content of a file from the repository
func (*defaultGitClient) GetFileContent(repoInfo *RepositoryInfo, path string) ([]byte, error) {
	if repoInfo == nil || repoInfo.Repository == nil {
		return nil, errors.New("repository is nil")
	}

	ref, err := repoInfo.Repository.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD reference: %w", err)
	}

	commit, err := repoInfo.Repository.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get commit object: %w", err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}

	file, err := tree.File(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", path, err)
	}

	content, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("failed to read file contents: %w", err)
	}

	return []byte(content), nil
}

// isLocal reports whether url uses the file transport, which cannot serve shallow clones
func isLocal(url string) bool {
	ep, err := transport.NewEndpoint(url)
	return err == nil && ep.Protocol == "file"
}
