package tasks

import (
	"fmt"
	"sort"
	"sync"

	"github.com/swarmcore/swarm/internal/clock"
	"github.com/swarmcore/swarm/internal/events"
	"github.com/swarmcore/swarm/internal/swarmerr"
)

// Board is a session's DAG of subtasks: thread-safe, cycle-free, and
// readiness-consistent at every observable state (spec §4.2, P1-P4).
type Board struct {
	mu            sync.Mutex
	sessionID     string
	tasks         map[string]*Task
	order         []string // insertion order, for deterministic ExecutionOrder
	maxTasks      int

	clk clock.Clock
	ids clock.IDGen
	bus *events.Bus

	tasksCompleted *int
	tasksFailed    *int
}

// NewBoard creates an empty board for sessionID. tasksCompleted and
// tasksFailed are owned by the caller (typically the Session's
// Metrics) and incremented in place so the board stays the single
// writer of session task counters without needing a back-reference.
func NewBoard(sessionID string, clk clock.Clock, ids clock.IDGen, bus *events.Bus, maxTasks int, tasksCompleted, tasksFailed *int) *Board {
	return &Board{
		sessionID:      sessionID,
		tasks:          make(map[string]*Task),
		maxTasks:       maxTasks,
		clk:            clk,
		ids:            ids,
		bus:            bus,
		tasksCompleted: tasksCompleted,
		tasksFailed:    tasksFailed,
	}
}

// CreateTask inserts a new task. blockedBy ids must already exist on
// the board; the inverse Blocks relation is updated atomically (I4).
func (b *Board) CreateTask(spec Spec) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxTasks > 0 && len(b.tasks) >= b.maxTasks {
		return nil, fmt.Errorf("board: %w", swarmerr.ErrTaskLimitExceeded)
	}
	for _, dep := range spec.BlockedBy {
		if _, ok := b.tasks[dep]; !ok {
			return nil, fmt.Errorf("board: dependency %s: %w", dep, swarmerr.ErrTaskNotFound)
		}
	}

	maxAttempts := spec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	estimatedTokens := spec.EstimatedTokens
	if estimatedTokens <= 0 {
		estimatedTokens = DefaultEstimatedTokens
	}

	now := b.clk.Now()
	t := &Task{
		ID:                 b.ids.NewID(),
		Title:              spec.Title,
		Description:        spec.Description,
		AcceptanceCriteria: spec.AcceptanceCriteria,
		Type:               spec.Type,
		Priority:           spec.Priority,
		Complexity:         spec.Complexity,
		BlockedBy:          map[string]bool{},
		Blocks:             map[string]bool{},
		AssignedRole:       spec.AssignedRole,
		MaxAttempts:        maxAttempts,
		ContextFiles:       spec.ContextFiles,
		RequiredTools:      spec.RequiredTools,
		Tags:               spec.Tags,
		EstimatedTokens:    estimatedTokens,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for _, dep := range spec.BlockedBy {
		t.BlockedBy[dep] = true
		b.tasks[dep].Blocks[t.ID] = true
	}

	b.recomputeReadinessLocked(t)
	b.tasks[t.ID] = t
	b.order = append(b.order, t.ID)

	b.publishLocked(events.TaskCreated, t)
	return cloneTask(t), nil
}

// recomputeReadinessLocked sets t.Status/Column per I6: Ready iff every
// blocker is Complete. Only touches Pending/Ready/Blocked tasks — it
// must not clobber Assigned/InProgress/etc state.
func (b *Board) recomputeReadinessLocked(t *Task) {
	if t.Status != "" && t.Status != StatusPending && t.Status != StatusReady && t.Status != StatusBlocked {
		return
	}
	if b.allBlockersCompleteLocked(t) {
		t.Status = StatusReady
	} else {
		t.Status = StatusPending
	}
	t.Column = ColumnFor(t.Status)
}

func (b *Board) allBlockersCompleteLocked(t *Task) bool {
	for dep := range t.BlockedBy {
		dt, ok := b.tasks[dep]
		if !ok || dt.Status != StatusComplete {
			return false
		}
	}
	return true
}

// GetTask returns a task by id.
func (b *Board) GetTask(id string) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[id]
	if !ok {
		return nil, fmt.Errorf("board: task %s: %w", id, swarmerr.ErrTaskNotFound)
	}
	return cloneTask(t), nil
}

// UpdateTask applies a mutator to task id and republishes TaskUpdated.
// The mutator must not change Status directly — use the dedicated
// Assign/Complete/Fail operations for status-affecting changes.
func (b *Board) UpdateTask(id string, mutate func(*Task)) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[id]
	if !ok {
		return nil, fmt.Errorf("board: task %s: %w", id, swarmerr.ErrTaskNotFound)
	}
	mutate(t)
	t.UpdatedAt = b.clk.Now()
	b.publishLocked(events.TaskUpdated, t)
	return cloneTask(t), nil
}

// DeleteTask removes a task and clears it from dependents' BlockedBy.
func (b *Board) DeleteTask(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[id]
	if !ok {
		return fmt.Errorf("board: task %s: %w", id, swarmerr.ErrTaskNotFound)
	}
	for dep := range t.Blocks {
		if dt, ok := b.tasks[dep]; ok {
			delete(dt.BlockedBy, id)
			b.recomputeReadinessLocked(dt)
		}
	}
	for dep := range t.BlockedBy {
		if dt, ok := b.tasks[dep]; ok {
			delete(dt.Blocks, id)
		}
	}
	delete(b.tasks, id)
	for i, oid := range b.order {
		if oid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.publishDeletedLocked(id)
	return nil
}

// AssignTask assigns task id to agentID (spec §4.2, I7).
func (b *Board) AssignTask(id, agentID string) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[id]
	if !ok {
		return nil, fmt.Errorf("board: task %s: %w", id, swarmerr.ErrTaskNotFound)
	}
	if t.AssignedAgentID != "" {
		return nil, fmt.Errorf("board: task %s: %w", id, swarmerr.ErrTaskAlreadyAssigned)
	}
	t.AssignedAgentID = agentID
	t.Status = StatusAssigned
	t.Column = ColumnFor(t.Status)
	t.UpdatedAt = b.clk.Now()
	b.publishLocked(events.TaskUpdated, t)
	return cloneTask(t), nil
}

// UnassignTask clears a task's agent assignment and returns it to Ready.
func (b *Board) UnassignTask(id string) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[id]
	if !ok {
		return nil, fmt.Errorf("board: task %s: %w", id, swarmerr.ErrTaskNotFound)
	}
	t.AssignedAgentID = ""
	t.Status = StatusReady
	t.Column = ColumnFor(t.Status)
	t.UpdatedAt = b.clk.Now()
	b.publishLocked(events.TaskUpdated, t)
	return cloneTask(t), nil
}

// CompleteTask records result, marks t Complete, and unblocks dependents
// that now satisfy I6 (spec §4.2 Complete policy, O2 ordering).
func (b *Board) CompleteTask(id string, result Result) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[id]
	if !ok {
		return nil, fmt.Errorf("board: task %s: %w", id, swarmerr.ErrTaskNotFound)
	}

	now := b.clk.Now()
	t.Status = StatusComplete
	t.Column = ColumnFor(t.Status)
	t.Result = &result
	t.CompletedAt = &now
	t.UpdatedAt = now
	if b.tasksCompleted != nil {
		*b.tasksCompleted++
	}
	b.publishLocked(events.TaskUpdated, t)

	for depID := range t.Blocks {
		dep, ok := b.tasks[depID]
		if !ok {
			continue
		}
		prev := dep.Status
		b.recomputeReadinessLocked(dep)
		if dep.Status != prev {
			dep.UpdatedAt = now
			b.publishLocked(events.TaskUpdated, dep)
		}
	}

	return cloneTask(t), nil
}

// FailTask applies the retry policy (spec §4.2 Retry policy).
func (b *Board) FailTask(id, reason string) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[id]
	if !ok {
		return nil, fmt.Errorf("board: task %s: %w", id, swarmerr.ErrTaskNotFound)
	}

	t.Attempts++
	now := b.clk.Now()
	if t.Attempts < t.MaxAttempts {
		t.Status = StatusReady
		t.AssignedAgentID = ""
	} else {
		t.Status = StatusFailed
		t.Result = &Result{Success: false, Summary: reason, Artifacts: []string{}}
		if b.tasksFailed != nil {
			*b.tasksFailed++
		}
	}
	t.Column = ColumnFor(t.Status)
	t.UpdatedAt = now
	b.publishLocked(events.TaskUpdated, t)
	return cloneTask(t), nil
}

// AddDependency adds an edge task -> dependsOn (task is blocked by
// dependsOn), refusing cycles (spec §4.2 Dependency operations, P2).
func (b *Board) AddDependency(taskID, dependsOn string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[taskID]
	if !ok {
		return fmt.Errorf("board: task %s: %w", taskID, swarmerr.ErrTaskNotFound)
	}
	dep, ok := b.tasks[dependsOn]
	if !ok {
		return fmt.Errorf("board: task %s: %w", dependsOn, swarmerr.ErrTaskNotFound)
	}
	if b.reachesLocked(dependsOn, taskID) {
		return fmt.Errorf("board: %s -> %s: %w", taskID, dependsOn, swarmerr.ErrTaskDependencyCycle)
	}

	t.BlockedBy[dependsOn] = true
	dep.Blocks[taskID] = true
	b.recomputeReadinessLocked(t)
	t.UpdatedAt = b.clk.Now()
	b.publishLocked(events.TaskUpdated, t)
	return nil
}

// reachesLocked runs a BFS over BlockedBy starting at from, returning
// true if target is reachable (i.e. adding from->target would cycle).
func (b *Board) reachesLocked(from, target string) bool {
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target {
			return true
		}
		t, ok := b.tasks[cur]
		if !ok {
			continue
		}
		for dep := range t.BlockedBy {
			if !visited[dep] {
				visited[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return false
}

// RemoveDependency removes the edge task -> dependsOn and recomputes
// readiness.
func (b *Board) RemoveDependency(taskID, dependsOn string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[taskID]
	if !ok {
		return fmt.Errorf("board: task %s: %w", taskID, swarmerr.ErrTaskNotFound)
	}
	if dep, ok := b.tasks[dependsOn]; ok {
		delete(dep.Blocks, taskID)
	}
	delete(t.BlockedBy, dependsOn)
	b.recomputeReadinessLocked(t)
	t.UpdatedAt = b.clk.Now()
	b.publishLocked(events.TaskUpdated, t)
	return nil
}

// GetReady returns all Ready tasks, highest priority first.
func (b *Board) GetReady() []*Task {
	return b.GetByStatus(StatusReady)
}

// GetByStatus returns a snapshot of tasks in the given status.
func (b *Board) GetByStatus(status Status) []*Task {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*Task
	for _, id := range b.order {
		t := b.tasks[id]
		if t.Status == status {
			out = append(out, cloneTask(t))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return priorityRank(out[i].Priority) < priorityRank(out[j].Priority)
	})
	return out
}

func priorityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// All returns a snapshot of every task on the board, insertion order.
func (b *Board) All() []*Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Task, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, cloneTask(b.tasks[id]))
	}
	return out
}

// Len reports how many tasks are on the board.
func (b *Board) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}

// ExecutionOrder returns a deterministic topological sort of every
// task (Kahn's algorithm, stable under insertion order), failing with
// TaskDependencyCycle if one somehow survived AddDependency's check
// (defence-in-depth per spec §4.2).
func (b *Board) ExecutionOrder() ([]*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inDegree := make(map[string]int, len(b.tasks))
	for id, t := range b.tasks {
		inDegree[id] = len(t.BlockedBy)
	}

	var queue []string
	for _, id := range b.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	var result []*Task
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		t := b.tasks[id]
		result = append(result, cloneTask(t))

		// visit dependents in deterministic insertion order
		for _, depID := range b.order {
			dep, ok := b.tasks[depID]
			if !ok || !dep.BlockedBy[id] {
				continue
			}
			inDegree[depID]--
			if inDegree[depID] == 0 {
				queue = append(queue, depID)
			}
		}
	}

	if len(result) != len(b.tasks) {
		return nil, fmt.Errorf("board: %w", swarmerr.ErrTaskDependencyCycle)
	}
	return result, nil
}

func (b *Board) publishLocked(eventType events.EventType, t *Task) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(events.NewEvent(b.ids, b.clk, eventType, "tasks.Board", b.sessionID, events.PriorityNormal, map[string]interface{}{
		"task_id": t.ID,
		"status":  string(t.Status),
	}))
}

func (b *Board) publishDeletedLocked(id string) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(events.NewEvent(b.ids, b.clk, events.TaskDeleted, "tasks.Board", b.sessionID, events.PriorityNormal, map[string]interface{}{
		"task_id": id,
	}))
}

func cloneTask(t *Task) *Task {
	cp := *t
	cp.BlockedBy = cloneSet(t.BlockedBy)
	cp.Blocks = cloneSet(t.Blocks)
	if t.Result != nil {
		r := *t.Result
		cp.Result = &r
	}
	return &cp
}

func cloneSet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
