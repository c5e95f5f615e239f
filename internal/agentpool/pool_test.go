package agentpool

import (
	"errors"
	"testing"
	"time"

	"github.com/swarmcore/swarm/internal/clock"
	"github.com/swarmcore/swarm/internal/events"
	"github.com/swarmcore/swarm/internal/roles"
	"github.com/swarmcore/swarm/internal/swarmerr"
)

func newTestPool(maxAgents int) (*Pool, *clock.Fake) {
	fc := clock.NewFake(time.Unix(0, 0))
	bus := events.NewBus(nil)
	cat := &roles.Catalog{Roles: []roles.Template{
		{Role: roles.Developer, Model: "m", MaxConcurrentTasks: 1},
	}}
	return NewPool("sess-1", cat, fc, clock.NewSeqIDGen("agent"), bus, maxAgents), fc
}

func TestSpawnIdleImmediately(t *testing.T) {
	p, _ := newTestPool(0)
	a, err := p.Spawn(roles.Architect)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if a.Status != StatusIdle {
		t.Fatalf("expected Idle after spawn, got %s", a.Status)
	}
}

func TestSpawnSessionLimitExceeded(t *testing.T) {
	p, _ := newTestPool(1)
	if _, err := p.Spawn(roles.Architect); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	_, err := p.Spawn(roles.Reviewer)
	if !errors.Is(err, swarmerr.ErrAgentLimitExceeded) {
		t.Fatalf("expected ErrAgentLimitExceeded, got %v", err)
	}
}

func TestSpawnRoleLimitExceeded(t *testing.T) {
	p, _ := newTestPool(0)
	if _, err := p.Spawn(roles.Developer); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	_, err := p.Spawn(roles.Developer)
	if !errors.Is(err, swarmerr.ErrAgentLimitExceeded) {
		t.Fatalf("expected role ErrAgentLimitExceeded, got %v", err)
	}
}

func TestAssignCompleteCycle(t *testing.T) {
	p, _ := newTestPool(0)
	a, _ := p.Spawn(roles.Architect)

	working, err := p.Assign(a.ID, "task-1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if working.Status != StatusWorking || working.CurrentTaskID != "task-1" {
		t.Fatalf("expected Working/task-1, got %s/%s", working.Status, working.CurrentTaskID)
	}

	done, err := p.CompleteAssignment(a.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusIdle || done.CurrentTaskID != "" {
		t.Fatalf("expected Idle/no task after completion, got %s/%q", done.Status, done.CurrentTaskID)
	}
	if len(done.CompletedTasks) != 1 || done.CompletedTasks[0] != "task-1" {
		t.Fatalf("expected completed tasks to record task-1, got %v", done.CompletedTasks)
	}
}

func TestFailAssignmentTripsCircuitBreaker(t *testing.T) {
	p, _ := newTestPool(0)
	a, _ := p.Spawn(roles.Architect)

	for i := 0; i < defaultFailureThreshold-1; i++ {
		p.Assign(a.ID, "task-x")
		got, err := p.FailAssignment(a.ID)
		if err != nil {
			t.Fatalf("fail assignment: %v", err)
		}
		if got.Status != StatusIdle {
			t.Fatalf("expected Idle before threshold, got %s", got.Status)
		}
	}

	p.Assign(a.ID, "task-x")
	tripped, err := p.FailAssignment(a.ID)
	if err != nil {
		t.Fatalf("final fail assignment: %v", err)
	}
	if tripped.Status != StatusBlocked {
		t.Fatalf("expected Blocked once breaker trips, got %s", tripped.Status)
	}

	idle := p.Idle()
	for _, ag := range idle {
		if ag.ID == a.ID {
			t.Fatal("blocked agent should not appear in Idle()")
		}
	}
}

func TestTerminateRemovesFromActiveCount(t *testing.T) {
	p, _ := newTestPool(1)
	a, _ := p.Spawn(roles.Architect)
	if _, err := p.Terminate(a.ID); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	// Session was at its cap of 1; terminating should free a slot.
	if _, err := p.Spawn(roles.Reviewer); err != nil {
		t.Fatalf("spawn after terminate should succeed, got: %v", err)
	}
}

func TestTerminateAll(t *testing.T) {
	p, _ := newTestPool(0)
	a1, _ := p.Spawn(roles.Architect)
	a2, _ := p.Spawn(roles.Reviewer)
	p.TerminateAll()

	for _, id := range []string{a1.ID, a2.ID} {
		got, err := p.Get(id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got.Status != StatusTerminated {
			t.Fatalf("expected %s terminated, got %s", id, got.Status)
		}
	}
}
