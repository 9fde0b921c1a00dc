// Package source keeps the collaborator service checkout in sync with its git remote.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// ErrDirtyWorktree is returned when tracked files in the checkout have local modifications
var ErrDirtyWorktree = errors.New("working tree has local modifications")

// Syncer brings a local checkout up to date
type Syncer interface {
	Sync(ctx context.Context, config *SyncConfig) (*SyncResult, error)
}

// SyncConfig describes the checkout and the remote branch to follow
type SyncConfig struct {
	Path   string
	Remote string
	Branch string
	Auth   *AuthConfig
}

// AuthConfig contains HTTP basic authentication for the remote
type AuthConfig struct {
	Username string
	Password string
}

// SyncResult describes the checkout before and after a sync
type SyncResult struct {
	// Previous is the HEAD commit before the pull
	Previous string
	// Current is the HEAD commit after the pull
	Current string
	Updated bool
}

// GitSyncer implements Syncer with go-git
type GitSyncer struct{}

// NewGitSyncer creates a GitSyncer
func NewGitSyncer() *GitSyncer {
	return &GitSyncer{}
}

// Sync fast-forwards the checkout at config.Path to <remote>/<branch>.
// An up-to-date checkout is not an error. Untracked files do not make the
// tree dirty, so the virtual environment may live inside the checkout.
func (*GitSyncer) Sync(ctx context.Context, config *SyncConfig) (*SyncResult, error) {
	repo, err := git.PlainOpen(config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", config.Path, err)
	}

	previous, err := headHash(repo)
	if err != nil {
		return nil, err
	}

	workTree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	status, err := workTree.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree status: %w", err)
	}
	if modified := modifiedFiles(status); len(modified) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrDirtyWorktree, modified)
	}

	pullOptions := &git.PullOptions{
		RemoteName:    config.Remote,
		ReferenceName: plumbing.NewBranchReferenceName(config.Branch),
		SingleBranch:  true,
	}
	if config.Auth != nil && config.Auth.Username != "" {
		pullOptions.Auth = &githttp.BasicAuth{
			Username: config.Auth.Username,
			Password: config.Auth.Password,
		}
		slog.DebugContext(ctx, "Using Git HTTP Basic authentication", "username", config.Auth.Username)
	}

	err = workTree.PullContext(ctx, pullOptions)
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, fmt.Errorf("failed to pull %s/%s: %w", config.Remote, config.Branch, err)
	}

	current, err := headHash(repo)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{
		Previous: previous,
		Current:  current,
		Updated:  previous != current,
	}
	slog.InfoContext(ctx, "Source synced",
		"path", config.Path,
		"branch", config.Branch,
		"previous", shortHash(previous),
		"current", shortHash(current),
		"updated", result.Updated,
	)
	return result, nil
}

func headHash(repo *git.Repository) (string, error) {
	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD reference: %w", err)
	}
	return ref.Hash().String(), nil
}

// modifiedFiles lists tracked files with staged or unstaged changes
func modifiedFiles(status git.Status) []string {
	var files []string
	for path, fs := range status {
		if fs.Staging == git.Untracked && fs.Worktree == git.Untracked {
			continue
		}
		if fs.Staging != git.Unmodified || fs.Worktree != git.Unmodified {
			files = append(files, path)
		}
	}
	slices.Sort(files)
	return files
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
