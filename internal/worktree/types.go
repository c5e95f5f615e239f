// Package worktree manages per-agent VCS worktrees: creation, commit,
// merge with conflict detection, and age-based cleanup (spec §4.10).
package worktree

import "time"

// Status is a worktree's lifecycle position.
type Status string

const (
	StatusActive    Status = "active"
	StatusMerged    Status = "merged"
	StatusAbandoned Status = "abandoned"
	StatusDeleted   Status = "deleted"
)

// Worktree is an on-disk VCS checkout of a session/agent-private
// branch (spec §3 Worktree).
type Worktree struct {
	ID          string
	SessionID   string
	AgentID     string
	Branch      string
	Path        string
	BaseBranch  string
	Status      Status
	CommitCount int
	CreatedAt   time.Time
}

// MergeResult is the outcome of Merge.
type MergeResult struct {
	Success      bool
	MergedFiles  []string
	Conflicts    []string
}

func (w *Worktree) clone() *Worktree {
	cp := *w
	return &cp
}
