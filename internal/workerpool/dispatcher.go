// Package workerpool bridges the Orchestrator's task assignments to
// actual execution: it watches a session's TaskBoard for newly
// Assigned tasks, runs each one through an AgentRunner in its own
// goroutine, and reports the outcome back onto the Board and Pool.
// Grounded in the teacher's internal/supervisor.Dispatcher, narrowed
// from process-spawning to in-process AgentRunner invocations.
package workerpool

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/swarmcore/swarm/internal/agentpool"
	"github.com/swarmcore/swarm/internal/agentrunner"
	"github.com/swarmcore/swarm/internal/mailbox"
	"github.com/swarmcore/swarm/internal/roles"
	"github.com/swarmcore/swarm/internal/tasks"
)

// pollInterval bounds how stale a Dispatcher's view of newly Assigned
// tasks can be; the ticker is the only trigger for a poll.
const pollInterval = 200 * time.Millisecond

// Status summarizes one in-flight task execution, mirroring the
// teacher's SpawnedAgent/DispatchStatus shape narrowed to a single
// task per dispatch.
type Status struct {
	TaskID   string
	AgentID  string
	Progress int
	Started  time.Time
}

// Dispatcher drives task execution for exactly one session: every
// Assigned task on the board is picked up, run to completion via an
// AgentRunner, and its Result recorded back onto the board.
type Dispatcher struct {
	sessionID string
	board     *tasks.Board
	pool      *agentpool.Pool
	mbox      *mailbox.Mailbox
	catalog   *roles.Catalog
	runner    *agentrunner.Runner

	mu      sync.Mutex
	running map[string]*Status // taskID -> status

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Dispatcher for one session's board/pool/mailbox,
// executing tasks against runner.
func New(sessionID string, board *tasks.Board, pool *agentpool.Pool, mbox *mailbox.Mailbox, catalog *roles.Catalog, runner *agentrunner.Runner) *Dispatcher {
	if catalog == nil {
		catalog = &roles.Catalog{}
	}
	return &Dispatcher{
		sessionID: sessionID,
		board:     board,
		pool:      pool,
		mbox:      mbox,
		catalog:   catalog,
		runner:    runner,
		running:   make(map[string]*Status),
		stopCh:    make(chan struct{}),
	}
}

// Run polls for Assigned tasks until ctx is cancelled or Stop is
// called, dispatching each one to a worker goroutine exactly once.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return
		case <-d.stopCh:
			d.wg.Wait()
			return
		case <-ticker.C:
			d.dispatchAssigned(ctx)
		}
	}
}

// Stop ends Run's polling loop after in-flight tasks finish.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
}

func (d *Dispatcher) dispatchAssigned(ctx context.Context) {
	for _, t := range d.board.GetByStatus(tasks.StatusAssigned) {
		if d.alreadyRunning(t.ID) {
			continue
		}
		d.startLocked(ctx, t)
	}
}

func (d *Dispatcher) alreadyRunning(taskID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.running[taskID]
	return ok
}

func (d *Dispatcher) startLocked(ctx context.Context, t *tasks.Task) {
	agent, err := d.pool.Get(t.AssignedAgentID)
	if err != nil {
		log.Printf("[WORKERPOOL] session %s: task %s: agent %s: %v", d.sessionID, t.ID, t.AssignedAgentID, err)
		return
	}

	role := d.catalog.Get(agent.Role)

	d.mu.Lock()
	d.running[t.ID] = &Status{TaskID: t.ID, AgentID: agent.ID, Started: time.Now()}
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.execute(ctx, t, agent, role)
	}()
}

func (d *Dispatcher) execute(ctx context.Context, t *tasks.Task, agent *agentpool.AgentInstance, role roles.Template) {
	in := agentrunner.Input{
		SessionID: d.sessionID,
		Task:      t,
		Agent:     agent,
		Role:      role,
	}

	result := d.runner.Run(ctx, in, func(progress int) {
		d.mu.Lock()
		if st, ok := d.running[t.ID]; ok {
			st.Progress = progress
		}
		d.mu.Unlock()
	})

	d.record(t, agent, result)

	d.mu.Lock()
	delete(d.running, t.ID)
	d.mu.Unlock()
}

func (d *Dispatcher) record(t *tasks.Task, agent *agentpool.AgentInstance, result tasks.Result) {
	if result.Success {
		if _, err := d.board.CompleteTask(t.ID, result); err != nil {
			log.Printf("[WORKERPOOL] session %s: complete task %s: %v", d.sessionID, t.ID, err)
		}
		if _, err := d.pool.CompleteAssignment(agent.ID); err != nil {
			log.Printf("[WORKERPOOL] session %s: complete assignment %s: %v", d.sessionID, agent.ID, err)
		}
		return
	}

	if _, err := d.board.FailTask(t.ID, result.Summary); err != nil {
		log.Printf("[WORKERPOOL] session %s: fail task %s: %v", d.sessionID, t.ID, err)
	}
	if _, err := d.pool.FailAssignment(agent.ID); err != nil {
		log.Printf("[WORKERPOOL] session %s: fail assignment %s: %v", d.sessionID, agent.ID, err)
	}
	if d.mbox != nil {
		if _, err := d.mbox.Send(mailbox.SendInput{
			From:     agent.ID,
			To:       "orchestrator",
			Type:     mailbox.TypeEscalation,
			Subject:  "task failed: " + t.Title,
			Content:  result.Summary,
			Priority: mailbox.PriorityHigh,
		}); err != nil {
			log.Printf("[WORKERPOOL] session %s: post failure notice: %v", d.sessionID, err)
		}
	}
}

// Statuses returns a snapshot of every task currently in flight.
func (d *Dispatcher) Statuses() []Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Status, 0, len(d.running))
	for _, st := range d.running {
		out = append(out, *st)
	}
	return out
}
