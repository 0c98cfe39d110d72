package gitx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type repoOp struct {
	commitMsg string
	files     map[string]string
}

// makeRepo creates a temporary Git repository for testing
func makeRepo(t *testing.T, cases ...repoOp) (string, *git.Repository, map[string]plumbing.Hash) {
	t.Helper()

	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	commits := make(map[string]plumbing.Hash)

	for _, op := range cases {
		for name, content := range op.files {
			path := filepath.Join(dir, name)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			_, err = wt.Add(name)
			require.NoError(t, err)
		}

		hash, err := wt.Commit(op.commitMsg, &git.CommitOptions{
			Author: &object.Signature{
				Name:  "Test",
				Email: "test@example.com",
			},
		})
		require.NoError(t, err)
		commits[op.commitMsg] = hash
	}

	return dir, repo, commits
}

func TestDescribe(t *testing.T) {
	dir, repo, commits := makeRepo(t,
		repoOp{commitMsg: "initial", files: map[string]string{"a.txt": "a"}},
		repoOp{commitMsg: "second", files: map[string]string{"src/b.txt": "b"}},
	)
	head, err := repo.Head()
	require.NoError(t, err)
	branch := head.Name().Short()

	tests := []struct {
		name string
		path string
	}{
		{name: "Root", path: dir},
		{name: "Subdirectory", path: filepath.Join(dir, "src")},
		{name: "File", path: filepath.Join(dir, "src", "b.txt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Describe(tt.path)
			require.NoError(t, err)

			assert.Equal(t, commits["second"].String(), got.Commit)
			assert.Equal(t, branch, got.Branch)
			assert.Equal(t, branch+"@"+commits["second"].String()[:7], got.String())

			wantRoot, err := filepath.EvalSymlinks(dir)
			require.NoError(t, err)
			gotRoot, err := filepath.EvalSymlinks(got.Root)
			require.NoError(t, err)
			assert.Equal(t, wantRoot, gotRoot)
		})
	}
}

func TestDescribe_Detached(t *testing.T) {
	dir, repo, commits := makeRepo(t,
		repoOp{commitMsg: "initial", files: map[string]string{"a.txt": "a"}},
		repoOp{commitMsg: "second", files: map[string]string{"b.txt": "b"}},
	)

	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Hash: commits["initial"]}))

	got, err := Describe(dir)
	require.NoError(t, err)
	assert.Empty(t, got.Branch)
	assert.Equal(t, commits["initial"].String(), got.Commit)
	assert.Contains(t, got.String(), "detached")
}

func TestDescribe_EmptyRepo(t *testing.T) {
	dir, _, _ := makeRepo(t)

	got, err := Describe(dir)
	require.NoError(t, err)
	assert.Empty(t, got.Commit)
	assert.Contains(t, got.String(), "no commits")
}

func TestDescribe_NotRepository(t *testing.T) {
	_, err := Describe(t.TempDir())
	assert.ErrorIs(t, err, ErrNotRepository)
}

func TestDescribe_NonExistentPath(t *testing.T) {
	_, err := Describe("/nonexistent/repo")
	assert.Error(t, err)
}
