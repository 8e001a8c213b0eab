package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestRepo initializes a repository holding files in one commit and
// returns its path and the commit hash.
func createTestRepo(t *testing.T, files map[string]string) (string, string) {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	workTree, err := repo.Worktree()
	require.NoError(t, err)

	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		_, err := workTree.Add(name)
		require.NoError(t, err)
	}

	hash, err := workTree.Commit("add services", &git.CommitOptions{
		Author: &object.Signature{Name: "Test Author", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir, hash.String()
}

// requireGit skips tests cloning over the file transport, which runs git-upload-pack
func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func TestCloneConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  CloneConfig
		wantErr string
	}{
		{name: "url only", config: CloneConfig{URL: "https://example.com/repo.git"}},
		{name: "branch", config: CloneConfig{URL: "https://example.com/repo.git", Branch: "main"}},
		{name: "commit", config: CloneConfig{URL: "https://example.com/repo.git", Commit: "abc123"}},
		{name: "missing url", config: CloneConfig{}, wantErr: "URL cannot be empty"},
		{
			name:    "branch and tag",
			config:  CloneConfig{URL: "https://example.com/repo.git", Branch: "main", Tag: "v1"},
			wantErr: "only one of branch, tag, or commit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.config.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultGitClient_Clone_Errors(t *testing.T) {
	t.Parallel()

	client := NewDefaultGitClient()

	info, err := client.Clone(context.Background(), &CloneConfig{})
	require.Error(t, err)
	assert.Nil(t, info)

	info, err = client.Clone(context.Background(), &CloneConfig{URL: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
	assert.Nil(t, info)
}

func TestDefaultGitClient_GetFileContent_NoRepo(t *testing.T) {
	t.Parallel()

	client := NewDefaultGitClient()

	content, err := client.GetFileContent(nil, "services.yaml")
	require.Error(t, err)
	assert.Nil(t, content)

	content, err = client.GetFileContent(&RepositoryInfo{}, "services.yaml")
	require.Error(t, err)
	assert.Nil(t, content)
}

func TestDefaultGitClient_CloneLocal(t *testing.T) {
	t.Parallel()
	requireGit(t)

	dir, commit := createTestRepo(t, map[string]string{
		"services.yaml":        "services: []\n",
		"nested/services.yaml": "services:\n  - key: a\n    capabilities: [X]\n",
	})

	client := NewDefaultGitClient()
	info, err := client.Clone(context.Background(), &CloneConfig{URL: dir})
	require.NoError(t, err)
	assert.Equal(t, commit, info.Commit)
	assert.Equal(t, dir, info.RemoteURL)
	assert.NotEmpty(t, info.Branch)

	content, err := client.GetFileContent(info, "nested/services.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(content), "key: a")

	_, err = client.GetFileContent(info, "missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")
}

func TestDefaultGitClient_CloneCommit(t *testing.T) {
	t.Parallel()
	requireGit(t)

	dir, commit := createTestRepo(t, map[string]string{"services.yaml": "services: []\n"})

	info, err := NewDefaultGitClient().Clone(context.Background(), &CloneConfig{URL: dir, Commit: commit})
	require.NoError(t, err)
	assert.Equal(t, commit, info.Commit)
	assert.Empty(t, info.Branch)
}

func TestIsLocal(t *testing.T) {
	t.Parallel()

	assert.True(t, isLocal("/tmp/repo"))
	assert.True(t, isLocal("file:///tmp/repo"))
	assert.False(t, isLocal("https://github.com/example/repo.git"))
	assert.False(t, isLocal("git@github.com:example/repo.git"))
}
