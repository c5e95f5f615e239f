package vcs

import (
	"fmt"
	"os/exec"
	"strings"
)

// Git shells out to the git binary against a single main repo path,
// the way the teacher's internal/git.Git does, generalized with
// worktree-aware operations for the WorktreeManager.
type Git struct {
	repoPath string
}

// New creates a Git instance rooted at repoPath.
func New(repoPath string) *Git {
	return &Git{repoPath: repoPath}
}

func (g *Git) run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir == "" {
		dir = g.repoPath
	}
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, output)
	}
	return strings.TrimSpace(string(output)), nil
}

// IsRepo reports whether repoPath is inside a git working tree.
func (g *Git) IsRepo() bool {
	_, err := g.run(g.repoPath, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch() (string, error) {
	return g.run(g.repoPath, "rev-parse", "--abbrev-ref", "HEAD")
}

// WorktreeAddNewBranch creates dir as a new worktree on a fresh branch
// rooted at baseBranch.
func (g *Git) WorktreeAddNewBranch(branchName, dir, baseBranch string) error {
	_, err := g.run(g.repoPath, "worktree", "add", "-b", branchName, dir, baseBranch)
	return err
}

// WorktreeRemoveForce removes a worktree directory, discarding any
// uncommitted state in it.
func (g *Git) WorktreeRemoveForce(dir string) error {
	_, err := g.run(g.repoPath, "worktree", "remove", "--force", dir)
	return err
}

// BranchDeleteForce deletes branch even if not fully merged.
func (g *Git) BranchDeleteForce(branch string) error {
	_, err := g.run(g.repoPath, "branch", "-D", branch)
	return err
}

// StatusPorcelain returns `git status --porcelain` output for dir.
func (g *Git) StatusPorcelain(dir string) (string, error) {
	return g.run(dir, "status", "--porcelain")
}

// AddAll stages every change in dir.
func (g *Git) AddAll(dir string) error {
	_, err := g.run(dir, "add", "-A")
	return err
}

// Commit commits staged changes in dir.
func (g *Git) Commit(dir, message string) error {
	_, err := g.run(dir, "commit", "-m", message)
	return err
}

// DiffNameOnly lists files that differ between refs a and b.
func (g *Git) DiffNameOnly(dir, a, b string) ([]string, error) {
	out, err := g.run(dir, "diff", "--name-only", a+".."+b)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// DiffUnmerged lists paths with unresolved merge conflicts.
func (g *Git) DiffUnmerged(dir string) ([]string, error) {
	out, err := g.run(dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Checkout switches the main repo to branch.
func (g *Git) Checkout(branch string) error {
	_, err := g.run(g.repoPath, "checkout", branch)
	return err
}

// MergeNoFF merges branch into the current branch with a merge commit.
func (g *Git) MergeNoFF(branch, message string) error {
	_, err := g.run(g.repoPath, "merge", "--no-ff", "-m", message, branch)
	return err
}

// MergeAbort aborts an in-progress conflicted merge.
func (g *Git) MergeAbort() error {
	_, err := g.run(g.repoPath, "merge", "--abort")
	return err
}

// WorktreePrune removes stale worktree administrative files.
func (g *Git) WorktreePrune() error {
	_, err := g.run(g.repoPath, "worktree", "prune")
	return err
}
