package agentpool

import (
	"fmt"
	"sync"

	"github.com/swarmcore/swarm/internal/clock"
	"github.com/swarmcore/swarm/internal/events"
	"github.com/swarmcore/swarm/internal/roles"
	"github.com/swarmcore/swarm/internal/swarmerr"
)

// Pool is the roster of agents spawned for one session (spec §4.3).
type Pool struct {
	mu        sync.Mutex
	sessionID string
	agents    map[string]*AgentInstance
	order     []string
	breakers  map[string]*circuitBreaker

	maxConcurrentAgents int
	catalog              *roles.Catalog

	clk clock.Clock
	ids clock.IDGen
	bus *events.Bus
}

// NewPool creates an empty pool. maxConcurrentAgents <= 0 means unlimited.
func NewPool(sessionID string, catalog *roles.Catalog, clk clock.Clock, ids clock.IDGen, bus *events.Bus, maxConcurrentAgents int) *Pool {
	if catalog == nil {
		catalog = &roles.Catalog{}
	}
	return &Pool{
		sessionID:            sessionID,
		agents:               make(map[string]*AgentInstance),
		breakers:             make(map[string]*circuitBreaker),
		maxConcurrentAgents:  maxConcurrentAgents,
		catalog:              catalog,
		clk:                  clk,
		ids:                  ids,
		bus:                  bus,
	}
}

func (p *Pool) activeCountLocked() int {
	n := 0
	for _, a := range p.agents {
		if a.Status != StatusTerminated {
			n++
		}
	}
	return n
}

func (p *Pool) byRoleActiveCountLocked(role roles.Role) int {
	n := 0
	for _, a := range p.agents {
		if a.Role == role && a.Status != StatusTerminated {
			n++
		}
	}
	return n
}

// Spawn creates a new Idle agent for role, rejecting when the session
// or role-specific concurrency cap is already at capacity.
func (p *Pool) Spawn(role roles.Role) (*AgentInstance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.maxConcurrentAgents > 0 && p.activeCountLocked() >= p.maxConcurrentAgents {
		return nil, fmt.Errorf("agentpool: session %s: %w", p.sessionID, swarmerr.ErrAgentLimitExceeded)
	}
	tmpl := p.catalog.Get(role)
	if tmpl.MaxConcurrentTasks > 0 && p.byRoleActiveCountLocked(role) >= tmpl.MaxConcurrentTasks {
		return nil, fmt.Errorf("agentpool: role %s: %w", role, swarmerr.ErrAgentLimitExceeded)
	}

	now := p.clk.Now()
	a := &AgentInstance{
		ID:             p.ids.NewID(),
		SessionID:      p.sessionID,
		Role:           role,
		Model:          tmpl.Model,
		SystemPrompt:   tmpl.SystemPrompt,
		Status:         StatusIdle,
		CompletedTasks: []string{},
		FailedTasks:    []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	p.agents[a.ID] = a
	p.order = append(p.order, a.ID)
	p.breakers[a.ID] = newCircuitBreaker(a.ID, p.clk)

	p.publishLocked(events.AgentSpawned, a)
	return a.clone(), nil
}

// Get returns a clone of the agent with id.
func (p *Pool) Get(id string) (*AgentInstance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[id]
	if !ok {
		return nil, fmt.Errorf("agentpool: %s: %w", id, swarmerr.ErrAgentNotFound)
	}
	return a.clone(), nil
}

// List returns every agent in spawn order.
func (p *Pool) List() []*AgentInstance {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*AgentInstance, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.agents[id].clone())
	}
	return out
}

// ByRole returns every non-terminated agent of role, in spawn order.
func (p *Pool) ByRole(role roles.Role) []*AgentInstance {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*AgentInstance
	for _, id := range p.order {
		a := p.agents[id]
		if a.Role == role && a.Status != StatusTerminated {
			out = append(out, a.clone())
		}
	}
	return out
}

// Idle returns agents ready to accept work: Status Idle and circuit
// breaker allowing work. An agent whose breaker tripped is Blocked and
// is not listed, even after the breaker's cooldown has passed.
func (p *Pool) Idle() []*AgentInstance {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*AgentInstance
	for _, id := range p.order {
		a := p.agents[id]
		if a.Status != StatusIdle {
			continue
		}
		if cb := p.breakers[id]; cb != nil && !cb.isAllowed() {
			continue
		}
		out = append(out, a.clone())
	}
	return out
}

// SetStatus forces an agent's status, used for Waiting/Blocked
// transitions the AgentRunner drives directly.
func (p *Pool) SetStatus(id string, status Status) (*AgentInstance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[id]
	if !ok {
		return nil, fmt.Errorf("agentpool: %s: %w", id, swarmerr.ErrAgentNotFound)
	}
	a.Status = status
	a.UpdatedAt = p.clk.Now()
	p.publishLocked(events.AgentUpdated, a)
	return a.clone(), nil
}

// Assign flips an Idle agent to Working against taskID (I9, I10).
func (p *Pool) Assign(id, taskID string) (*AgentInstance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[id]
	if !ok {
		return nil, fmt.Errorf("agentpool: %s: %w", id, swarmerr.ErrAgentNotFound)
	}
	a.Status = StatusWorking
	a.CurrentTaskID = taskID
	a.UpdatedAt = p.clk.Now()
	p.publishLocked(events.AgentUpdated, a)
	return a.clone(), nil
}

// CompleteAssignment returns a Working agent to Idle and records the
// task id under CompletedTasks.
func (p *Pool) CompleteAssignment(id string) (*AgentInstance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[id]
	if !ok {
		return nil, fmt.Errorf("agentpool: %s: %w", id, swarmerr.ErrAgentNotFound)
	}
	if a.CurrentTaskID != "" {
		a.CompletedTasks = append(a.CompletedTasks, a.CurrentTaskID)
	}
	a.CurrentTaskID = ""
	a.Status = StatusIdle
	a.ConsecutiveFailures = 0
	a.UpdatedAt = p.clk.Now()
	if cb := p.breakers[id]; cb != nil {
		cb.recordSuccess()
	}
	p.publishLocked(events.AgentUpdated, a)
	return a.clone(), nil
}

// FailAssignment returns a Working agent to Idle (or Blocked if its
// circuit breaker trips) and records the task id under FailedTasks.
func (p *Pool) FailAssignment(id string) (*AgentInstance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[id]
	if !ok {
		return nil, fmt.Errorf("agentpool: %s: %w", id, swarmerr.ErrAgentNotFound)
	}
	if a.CurrentTaskID != "" {
		a.FailedTasks = append(a.FailedTasks, a.CurrentTaskID)
	}
	a.CurrentTaskID = ""
	a.ConsecutiveFailures++
	a.UpdatedAt = p.clk.Now()

	tripped := false
	if cb := p.breakers[id]; cb != nil {
		tripped = cb.recordFailure()
	}
	if tripped {
		a.Status = StatusBlocked
	} else {
		a.Status = StatusIdle
	}
	p.publishLocked(events.AgentUpdated, a)
	return a.clone(), nil
}

// RecordUsage accumulates token/tool-call counters onto an agent,
// used by the AgentRunner after every model request and tool dispatch.
func (p *Pool) RecordUsage(id string, promptTokens, completionTokens, toolCalls int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[id]
	if !ok {
		return fmt.Errorf("agentpool: %s: %w", id, swarmerr.ErrAgentNotFound)
	}
	a.PromptTokens += promptTokens
	a.CompletionTokens += completionTokens
	a.ToolCalls += toolCalls
	a.UpdatedAt = p.clk.Now()
	return nil
}

// Terminate is admissible from any state; the agent stops counting
// toward maxConcurrentAgents (I11) but remains visible to List/Get.
func (p *Pool) Terminate(id string) (*AgentInstance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[id]
	if !ok {
		return nil, fmt.Errorf("agentpool: %s: %w", id, swarmerr.ErrAgentNotFound)
	}
	now := p.clk.Now()
	a.Status = StatusTerminated
	a.CurrentTaskID = ""
	a.UpdatedAt = now
	a.TerminatedAt = &now
	p.publishLocked(events.AgentTerminated, a)
	return a.clone(), nil
}

// TerminateAll terminates every non-terminated agent.
func (p *Pool) TerminateAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.order))
	for _, id := range p.order {
		if p.agents[id].Status != StatusTerminated {
			ids = append(ids, id)
		}
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Terminate(id)
	}
}

func (p *Pool) publishLocked(eventType events.EventType, a *AgentInstance) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.NewEvent(p.ids, p.clk, eventType, "agentpool.Pool", p.sessionID, events.PriorityNormal, map[string]interface{}{
		"agent_id": a.ID,
		"role":     string(a.Role),
		"status":   string(a.Status),
	}))
}
