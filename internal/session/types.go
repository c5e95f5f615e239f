// Package session implements the session lifecycle state machine
// (spec §4.1): creation, legal transitions, and aggregate metrics.
package session

import "time"

// Status is a session's position in its lifecycle.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusPlanning      Status = "planning"
	StatusDelegating    Status = "delegating"
	StatusExecuting     Status = "executing"
	StatusReviewing     Status = "reviewing"
	StatusSynthesizing  Status = "synthesizing"
	StatusPaused        Status = "paused"
	StatusComplete      Status = "complete"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
)

// IsTerminal reports whether status is one of the absorbing states (I2).
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// validTransitions encodes the directed graph in spec §4.1.
var validTransitions = map[Status][]Status{
	StatusInitializing: {StatusPlanning, StatusCancelled, StatusFailed},
	StatusPlanning:     {StatusDelegating, StatusPaused, StatusCancelled, StatusFailed},
	StatusDelegating:   {StatusExecuting, StatusPaused, StatusCancelled, StatusFailed},
	StatusExecuting:    {StatusReviewing, StatusSynthesizing, StatusPaused, StatusCancelled, StatusFailed},
	StatusReviewing:    {StatusExecuting, StatusSynthesizing, StatusPaused, StatusCancelled, StatusFailed},
	StatusSynthesizing: {StatusComplete, StatusPaused, StatusCancelled, StatusFailed},
	StatusPaused:       {StatusPlanning, StatusDelegating, StatusExecuting, StatusReviewing, StatusSynthesizing, StatusCancelled},
}

// CanTransition reports whether (from, to) appears in the transition graph.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Metrics tracks session-wide counters and timing (spec §3 Session).
type Metrics struct {
	StartTime       *time.Time    `json:"start_time,omitempty"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	Duration        time.Duration `json:"duration,omitempty"`
	TasksTotal      int           `json:"tasks_total"`
	TasksCompleted  int           `json:"tasks_completed"`
	TasksFailed     int           `json:"tasks_failed"`
	AgentsSpawned   int           `json:"agents_spawned"`
	TokensUsed      int64         `json:"tokens_used"`
	TotalCostUSD    float64       `json:"total_cost_usd"`
}

// LeadAgentConfig configures the lead/planning agent for a session.
type LeadAgentConfig struct {
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
}

// Session is a single user-submitted work item and all derived state
// (spec §3 Session). TaskBoard/AgentPool/Mailbox are referenced by id;
// the owning composition root keeps the concrete stores.
type Session struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	OriginalTask string          `json:"original_task"`
	Status       Status          `json:"status"`
	LeadAgent    LeadAgentConfig `json:"lead_agent"`
	ArtifactIDs  []string        `json:"artifact_ids"`
	Metrics      Metrics         `json:"metrics"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Patch describes a partial update to a Session's mutable fields.
type Patch struct {
	Name        *string
	ArtifactIDs []string
}
