package events

import (
	"time"

	"github.com/swarmcore/swarm/internal/clock"
)

// EventType is the type of a published event, per spec §6.
type EventType string

const (
	SessionUpdated     EventType = "session_updated"
	TaskCreated        EventType = "task_created"
	TaskUpdated        EventType = "task_updated"
	TaskDeleted        EventType = "task_deleted"
	AgentSpawned       EventType = "agent_spawned"
	AgentUpdated       EventType = "agent_updated"
	AgentTerminated    EventType = "agent_terminated"
	MessageSent        EventType = "message_sent"
	BroadcastSent      EventType = "broadcast_sent"
	ArtifactCreated    EventType = "artifact_created"
	ToolCall           EventType = "tool_call"
	CostUpdate         EventType = "cost_update"
	KeyUsage           EventType = "key_usage"
	QuotaExceeded      EventType = "quota_exceeded"
	RateLimitHit       EventType = "rate_limit_hit"
	OrchestrationStep  EventType = "orchestration_step"
	OrchestrationError EventType = "orchestration_error"
)

// AllEventTypes returns every defined event type.
func AllEventTypes() []EventType {
	return []EventType{
		SessionUpdated, TaskCreated, TaskUpdated, TaskDeleted,
		AgentSpawned, AgentUpdated, AgentTerminated,
		MessageSent, BroadcastSent, ArtifactCreated, ToolCall,
		CostUpdate, KeyUsage, QuotaExceeded, RateLimitHit,
		OrchestrationStep, OrchestrationError,
	}
}

// Priority mirrors the priority levels used across mailbox messages.
const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityNormal   = 3
	PriorityLow      = 4
)

// Event is a single published occurrence, scoped to a session ("target").
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Target    string                 `json:"target"` // session id, or "all"
	Priority  int                    `json:"priority"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewEvent builds an Event, stamping id and timestamp from the given sources.
func NewEvent(ids clock.IDGen, clk clock.Clock, eventType EventType, source, target string, priority int, payload map[string]interface{}) *Event {
	return &Event{
		ID:        ids.NewID(),
		Type:      eventType,
		Source:    source,
		Target:    target,
		Priority:  priority,
		Payload:   payload,
		CreatedAt: clk.Now(),
	}
}
