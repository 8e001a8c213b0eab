package sources

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stacklok/toolhive-service-tracker/internal/git"
)

// DefaultGitServicesPath is the document read when no path is configured
const DefaultGitServicesPath = "services.yaml"

// GitSource registers the services listed in a file of a Git repository,
// re-cloning the repository every poll interval.
type GitSource struct {
	*poller
	config git.CloneConfig
	path   string
	client git.Client
}

// NewGitSource creates a source reading path from the repository described by config
func NewGitSource(config git.CloneConfig, path string, reg Registrar, opts ...PollOption) (*GitSource, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if path == "" {
		path = DefaultGitServicesPath
	}

	o, err := newPollOptions(opts)
	if err != nil {
		return nil, err
	}
	if o.gitClient == nil {
		o.gitClient = git.NewDefaultGitClient()
	}

	s := &GitSource{
		config: config,
		path:   path,
		client: o.gitClient,
	}
	s.poller = newPoller(NewMirror("git:"+config.URL, reg), s.fetch, o)
	return s, nil
}

func (s *GitSource) fetch(ctx context.Context) ([]byte, string, error) {
	start := time.Now()
	info, err := s.client.Clone(ctx, &s.config)
	if err != nil {
		return nil, "", err
	}
	slog.Debug("Git clone completed",
		"repository", s.config.URL,
		"branch", info.Branch,
		"commit", info.Commit,
		"duration", time.Since(start).String())

	data, err := s.client.GetFileContent(info, s.path)
	if err != nil {
		return nil, "", fmt.Errorf("commit %s: %w", info.Commit, err)
	}
	return data, info.Commit, nil
}
