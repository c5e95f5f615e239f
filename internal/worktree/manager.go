package worktree

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/swarmcore/swarm/internal/clock"
	"github.com/swarmcore/swarm/internal/swarmerr"
	"github.com/swarmcore/swarm/internal/vcs"
)

const worktreeBaseDir = ".swarm-worktrees"

// Manager creates, merges, and reaps agent-private worktrees rooted at
// a single VCS repo (spec §4.10). Operations that touch the on-disk
// repo are serialised by mu, per the concurrency model in spec §5.
type Manager struct {
	mu sync.Mutex

	vcs               vcs.VCS
	workspace         string
	autoCommitOnMerge bool

	worktrees map[string]*Worktree
	order     []string

	clk clock.Clock
	ids clock.IDGen
}

// New creates a Manager over repo, rooted at workspace for on-disk
// worktree directories.
func New(repo vcs.VCS, workspace string, autoCommitOnMerge bool, clk clock.Clock, ids clock.IDGen) *Manager {
	return &Manager{
		vcs:               repo,
		workspace:         workspace,
		autoCommitOnMerge: autoCommitOnMerge,
		worktrees:         make(map[string]*Worktree),
		clk:               clk,
		ids:               ids,
	}
}

// IsRepo reports whether the configured workspace is a VCS repo.
func (m *Manager) IsRepo() bool {
	return m.vcs.IsRepo()
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// Create opens a new worktree for agentID within sessionID, branched
// from the repo's current branch (spec §4.10 Create protocol).
func (m *Manager) Create(sessionID, agentID, branchPrefix string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.vcs.IsRepo() {
		return nil, fmt.Errorf("worktree: %w", swarmerr.ErrWorktreeCreateFailed)
	}
	if branchPrefix == "" {
		branchPrefix = "swarm"
	}
	baseBranch, err := m.vcs.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("worktree: read base branch: %w: %w", err, swarmerr.ErrWorktreeCreateFailed)
	}

	ts := m.clk.Now().UnixMilli()
	suffix := fmt.Sprintf("%s-%d", shortID(agentID), ts)
	branch := fmt.Sprintf("%s/%s/%s", branchPrefix, shortID(sessionID), suffix)
	dir := filepath.Join(m.workspace, worktreeBaseDir, suffix)

	if err := m.vcs.WorktreeAddNewBranch(branch, dir, baseBranch); err != nil {
		return nil, fmt.Errorf("worktree: create: %w: %w", err, swarmerr.ErrWorktreeCreateFailed)
	}

	w := &Worktree{
		ID:         m.ids.NewID(),
		SessionID:  sessionID,
		AgentID:    agentID,
		Branch:     branch,
		Path:       dir,
		BaseBranch: baseBranch,
		Status:     StatusActive,
		CreatedAt:  m.clk.Now(),
	}
	m.worktrees[w.ID] = w
	m.order = append(m.order, w.ID)
	return w.clone(), nil
}

// Get returns a worktree by id.
func (m *Manager) Get(id string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.worktrees[id]
	if !ok {
		return nil, fmt.Errorf("worktree: %s: %w", id, swarmerr.ErrValidationError)
	}
	return w.clone(), nil
}

// ForSession returns every worktree belonging to sessionID.
func (m *Manager) ForSession(sessionID string) []*Worktree {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Worktree
	for _, id := range m.order {
		w := m.worktrees[id]
		if w.SessionID == sessionID {
			out = append(out, w.clone())
		}
	}
	return out
}

// ForAgent returns the worktree currently bound to agentID, if any (a
// Worktree is referenced by at most one active agent).
func (m *Manager) ForAgent(agentID string) (*Worktree, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		w := m.worktrees[id]
		if w.AgentID == agentID && w.Status == StatusActive {
			return w.clone(), true
		}
	}
	return nil, false
}

// Merge folds a worktree's branch back into baseBranch (spec §4.10
// Merge protocol). On conflict, the merge is aborted and the worktree
// is left Active.
func (m *Manager) Merge(id, message string) (*MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.worktrees[id]
	if !ok {
		return nil, fmt.Errorf("worktree: %s: %w", id, swarmerr.ErrValidationError)
	}
	if w.Status != StatusActive {
		return nil, fmt.Errorf("worktree: %s not active: %w", id, swarmerr.ErrValidationError)
	}

	dirty, err := m.vcs.StatusPorcelain(w.Path)
	if err != nil {
		return nil, fmt.Errorf("worktree: status: %w", err)
	}
	if dirty != "" && m.autoCommitOnMerge {
		if err := m.vcs.AddAll(w.Path); err != nil {
			return nil, fmt.Errorf("worktree: add-all: %w", err)
		}
		commitMsg := message
		if commitMsg == "" {
			commitMsg = fmt.Sprintf("[swarm] Auto-commit from agent %s", shortID(w.AgentID))
		}
		if err := m.vcs.Commit(w.Path, commitMsg); err != nil {
			return nil, fmt.Errorf("worktree: commit: %w", err)
		}
	}

	changed, err := m.vcs.DiffNameOnly(w.Path, w.BaseBranch, w.Branch)
	if err != nil {
		return nil, fmt.Errorf("worktree: diff: %w", err)
	}

	if err := m.vcs.Checkout(w.BaseBranch); err != nil {
		return nil, fmt.Errorf("worktree: checkout %s: %w", w.BaseBranch, err)
	}

	mergeMsg := message
	if mergeMsg == "" {
		mergeMsg = fmt.Sprintf("[swarm] Merge %s", w.Branch)
	}
	mergeErr := m.vcs.MergeNoFF(w.Branch, mergeMsg)
	if mergeErr != nil {
		conflicts, diffErr := m.vcs.DiffUnmerged("")
		if diffErr == nil && len(conflicts) > 0 {
			m.vcs.MergeAbort()
			return &MergeResult{Success: false, Conflicts: conflicts}, nil
		}
		return nil, fmt.Errorf("worktree: merge: %w: %w", mergeErr, swarmerr.ErrMergeConflict)
	}

	w.Status = StatusMerged
	w.CommitCount++
	return &MergeResult{Success: true, MergedFiles: changed}, nil
}

// Abandon marks an Active worktree Abandoned without merging.
func (m *Manager) Abandon(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.worktrees[id]
	if !ok {
		return fmt.Errorf("worktree: %s: %w", id, swarmerr.ErrValidationError)
	}
	w.Status = StatusAbandoned
	return nil
}

// Delete removes a non-Active worktree's directory, and its branch
// unless the worktree was Merged.
// Deleting an Active worktree is forbidden; callers must Abandon first.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.worktrees[id]
	if !ok {
		return fmt.Errorf("worktree: %s: %w", id, swarmerr.ErrValidationError)
	}
	if w.Status == StatusActive {
		return fmt.Errorf("worktree: %s is active, abandon first: %w", id, swarmerr.ErrValidationError)
	}
	if err := m.vcs.WorktreeRemoveForce(w.Path); err != nil {
		return fmt.Errorf("worktree: remove: %w", err)
	}
	if w.Status != StatusMerged {
		m.vcs.BranchDeleteForce(w.Branch)
	}
	w.Status = StatusDeleted
	return nil
}

// ChangedFiles returns the files that differ between a worktree's
// branch and its base branch.
func (m *Manager) ChangedFiles(id string) ([]string, error) {
	m.mu.Lock()
	w, ok := m.worktrees[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("worktree: %s: %w", id, swarmerr.ErrValidationError)
	}
	return m.vcs.DiffNameOnly(w.Path, w.BaseBranch, w.Branch)
}

// Diff returns the unresolved-merge-conflict paths, if any, for a
// worktree currently mid-merge.
func (m *Manager) Diff(id string) ([]string, error) {
	m.mu.Lock()
	w, ok := m.worktrees[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("worktree: %s: %w", id, swarmerr.ErrValidationError)
	}
	return m.vcs.DiffUnmerged(w.Path)
}

// Cleanup deletes every Abandoned/Merged worktree older than
// maxWorktreeAge and prunes the VCS's orphan records.
func (m *Manager) Cleanup(maxWorktreeAgeSeconds int64) []string {
	m.mu.Lock()
	now := m.clk.Now()
	var stale []string
	for _, id := range m.order {
		w := m.worktrees[id]
		if w.Status != StatusAbandoned && w.Status != StatusMerged {
			continue
		}
		if now.Sub(w.CreatedAt).Seconds() >= float64(maxWorktreeAgeSeconds) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	var cleaned []string
	for _, id := range stale {
		if err := m.Delete(id); err == nil {
			cleaned = append(cleaned, id)
		}
	}
	m.vcs.WorktreePrune()
	return cleaned
}
