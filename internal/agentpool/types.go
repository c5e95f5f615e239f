// Package agentpool spawns, tracks, and tears down role-specialized
// agent instances within a session (spec §3, §4.3).
package agentpool

import (
	"time"

	"github.com/swarmcore/swarm/internal/roles"
)

// Status is an agent's position in its lifecycle state machine.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusIdle          Status = "idle"
	StatusWorking       Status = "working"
	StatusWaiting       Status = "waiting"
	StatusBlocked       Status = "blocked"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusTerminated    Status = "terminated"
)

// AgentInstance is a single spawned worker (spec §3).
//
// Invariants: I9 at most one CurrentTaskID; I10 Status == Working iff
// CurrentTaskID != "". I11 an agent counts toward maxConcurrentAgents
// until Terminated.
type AgentInstance struct {
	ID            string
	SessionID     string
	Role          roles.Role
	Model         string
	SystemPrompt  string
	Status        Status
	CurrentTaskID string

	CompletedTasks []string
	FailedTasks    []string

	PromptTokens     int64
	CompletionTokens int64
	ToolCalls        int64

	ConsecutiveFailures int
	WorktreeID          string

	CreatedAt    time.Time
	UpdatedAt    time.Time
	TerminatedAt *time.Time
}

func (a *AgentInstance) clone() *AgentInstance {
	cp := *a
	cp.CompletedTasks = append([]string(nil), a.CompletedTasks...)
	cp.FailedTasks = append([]string(nil), a.FailedTasks...)
	return &cp
}
