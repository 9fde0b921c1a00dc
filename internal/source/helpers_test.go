package source

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

var testAuthor = &object.Signature{
	Name:  "Test Author",
	Email: "test@example.com",
	When:  time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC),
}

// createUpstream creates a repository on branch main with the given files committed
func createUpstream(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	require.NoError(t, err)

	commitFiles(t, repo, dir, files, "Initial commit")
	return dir
}

// commitFiles writes files into the repository at dir and commits them
func commitFiles(t *testing.T, repo *git.Repository, dir string, files map[string]string, message string) plumbing.Hash {
	t.Helper()

	workTree, err := repo.Worktree()
	require.NoError(t, err)

	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		_, err := workTree.Add(name)
		require.NoError(t, err)
	}

	hash, err := workTree.Commit(message, &git.CommitOptions{Author: testAuthor})
	require.NoError(t, err)
	return hash
}

// cloneUpstream clones upstream into a fresh directory, the way the service is installed
func cloneUpstream(t *testing.T, upstream string) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "mcp-server")
	_, err := git.PlainClone(dir, false, &git.CloneOptions{
		URL:           upstream,
		ReferenceName: plumbing.NewBranchReferenceName("main"),
	})
	require.NoError(t, err)
	return dir
}
