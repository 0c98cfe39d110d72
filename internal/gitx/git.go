package gitx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNotRepository is returned when a path is not inside a Git worktree
var ErrNotRepository = errors.New("not inside a git repository")

// RepoInfo describes the worktree a scan target lives in
type RepoInfo struct {
	Root   string `json:"root"`
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
}

// ShortCommit returns the abbreviated commit hash
func (r RepoInfo) ShortCommit() string {
	if len(r.Commit) > 7 {
		return r.Commit[:7]
	}
	return r.Commit
}

func (r RepoInfo) String() string {
	switch {
	case r.Commit == "":
		return fmt.Sprintf("%s (no commits)", r.Root)
	case r.Branch == "":
		return fmt.Sprintf("%s (detached)", r.ShortCommit())
	default:
		return fmt.Sprintf("%s@%s", r.Branch, r.ShortCommit())
	}
}

// Describe finds the worktree containing path and reports its HEAD. Parent
// directories are searched for the .git directory. A repository without
// commits yields a RepoInfo with only Root set.
func Describe(path string) (*RepoInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		abs = filepath.Dir(abs)
	}

	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotRepository
		}
		return nil, err
	}

	wt, err := repo.Worktree()
	if err != nil {
		// Bare repositories have no worktree to scan.
		return nil, ErrNotRepository
	}
	desc := &RepoInfo{Root: wt.Filesystem.Root()}

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return desc, nil
		}
		return nil, err
	}

	desc.Commit = head.Hash().String()
	if head.Name().IsBranch() {
		desc.Branch = head.Name().Short()
	}
	return desc, nil
}
