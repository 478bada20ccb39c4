// Package vcs detects the git branch a hook event belongs to.
package vcs

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNotRepository indicates the directory is not inside a git repository.
var ErrNotRepository = errors.New("not a git repository")

// CurrentBranch returns the branch checked out in the repository containing
// dir, searching parent directories for .git. An unborn branch (no commits
// yet) is still reported by name. A detached HEAD yields "" and no error.
func CurrentBranch(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", fmt.Errorf("%w: %s", ErrNotRepository, dir)
		}
		return "", fmt.Errorf("opening repository at %s: %w", dir, err)
	}

	// Read HEAD without resolving it so a branch with no commits still has
	// a name.
	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	if head.Type() == plumbing.SymbolicReference && head.Target().IsBranch() {
		return head.Target().Short(), nil
	}
	return "", nil
}

// Detect is CurrentBranch with a fallback for directories that are not
// repositories or have a detached HEAD.
func Detect(dir, fallback string) string {
	branch, err := CurrentBranch(dir)
	if err != nil || branch == "" {
		return fallback
	}
	return branch
}
