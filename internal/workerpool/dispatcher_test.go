package workerpool

import (
	"context"
	"testing"
	"time"

	"github.com/swarmcore/swarm/internal/agentpool"
	"github.com/swarmcore/swarm/internal/agentrunner"
	"github.com/swarmcore/swarm/internal/clock"
	"github.com/swarmcore/swarm/internal/fileaccess"
	"github.com/swarmcore/swarm/internal/mailbox"
	"github.com/swarmcore/swarm/internal/modelprovider"
	"github.com/swarmcore/swarm/internal/roles"
	"github.com/swarmcore/swarm/internal/tasks"
	"github.com/swarmcore/swarm/internal/toolhost"
)

func newFixture(t *testing.T) (*tasks.Board, *agentpool.Pool, *mailbox.Mailbox) {
	t.Helper()
	fc := clock.NewFake(time.Unix(0, 0))
	ids := clock.NewSeqIDGen("t")
	board := tasks.NewBoard("sess-1", fc, ids, nil, 0, nil, nil)
	pool := agentpool.NewPool("sess-1", &roles.Catalog{}, fc, ids, nil, 0)
	mbox := mailbox.New("sess-1", fc, ids, nil)
	return board, pool, mbox
}

func waitUntilAssignedGone(t *testing.T, board *tasks.Board, taskID string) *tasks.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := board.GetTask(taskID)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if task.Status != tasks.StatusAssigned {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for dispatcher to pick up assigned task")
	return nil
}

func TestDispatcherCompletesSuccessfulTask(t *testing.T) {
	board, pool, mbox := newFixture(t)

	task, err := board.CreateTask(tasks.Spec{Title: "build widget", Description: "build it"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	agent, err := pool.Spawn(roles.Developer)
	if err != nil {
		t.Fatalf("spawn agent: %v", err)
	}
	if _, err := board.AssignTask(task.ID, agent.ID); err != nil {
		t.Fatalf("assign task: %v", err)
	}
	if _, err := pool.Assign(agent.ID, task.ID); err != nil {
		t.Fatalf("assign agent: %v", err)
	}

	provider := &modelprovider.Fake{Responses: []modelprovider.Part{{Text: "done, nothing to change"}}}
	host := toolhost.New(fileaccess.NewFake())
	runner := agentrunner.New(provider, host, pool, nil, nil)

	d := New("sess-1", board, pool, mbox, &roles.Catalog{}, runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	defer d.Stop()

	final := waitUntilAssignedGone(t, board, task.ID)
	if final.Status != tasks.StatusComplete {
		t.Fatalf("expected task complete, got %s", final.Status)
	}

	updatedAgent, err := pool.Get(agent.ID)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if updatedAgent.Status != agentpool.StatusIdle {
		t.Fatalf("expected agent idle after completion, got %s", updatedAgent.Status)
	}
}

func TestDispatcherFailsTaskOnModelError(t *testing.T) {
	board, pool, mbox := newFixture(t)

	task, err := board.CreateTask(tasks.Spec{Title: "build widget", Description: "build it", MaxAttempts: 1})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	agent, err := pool.Spawn(roles.Developer)
	if err != nil {
		t.Fatalf("spawn agent: %v", err)
	}
	if _, err := board.AssignTask(task.ID, agent.ID); err != nil {
		t.Fatalf("assign task: %v", err)
	}
	if _, err := pool.Assign(agent.ID, task.ID); err != nil {
		t.Fatalf("assign agent: %v", err)
	}

	provider := &modelprovider.Fake{Err: context.DeadlineExceeded}
	host := toolhost.New(fileaccess.NewFake())
	runner := agentrunner.New(provider, host, pool, nil, nil)

	d := New("sess-1", board, pool, mbox, &roles.Catalog{}, runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	defer d.Stop()

	final := waitUntilAssignedGone(t, board, task.ID)
	if final.Status != tasks.StatusFailed {
		t.Fatalf("expected task failed, got %s", final.Status)
	}
}
