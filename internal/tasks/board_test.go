package tasks

import (
	"errors"
	"testing"
	"time"

	"github.com/swarmcore/swarm/internal/clock"
	"github.com/swarmcore/swarm/internal/events"
	"github.com/swarmcore/swarm/internal/swarmerr"
)

func newTestBoard(maxTasks int) *Board {
	fc := clock.NewFake(time.Unix(0, 0))
	bus := events.NewBus(nil)
	completed, failed := 0, 0
	return NewBoard("sess-1", fc, clock.NewSeqIDGen("task"), bus, maxTasks, &completed, &failed)
}

// S1: Dependency unblock.
func TestDependencyUnblock(t *testing.T) {
	b := newTestBoard(0)
	t1, _ := b.CreateTask(Spec{Title: "T1", Priority: PriorityMedium})
	t2, _ := b.CreateTask(Spec{Title: "T2", Priority: PriorityMedium, BlockedBy: []string{t1.ID}})

	if t1.Status != StatusReady {
		t.Fatalf("T1 should be Ready, got %s", t1.Status)
	}
	if t2.Status != StatusPending {
		t.Fatalf("T2 should be Pending, got %s", t2.Status)
	}

	if _, err := b.CompleteTask(t1.ID, Result{Success: true, Summary: "ok", Artifacts: []string{}}); err != nil {
		t.Fatalf("complete t1: %v", err)
	}

	got, _ := b.GetTask(t2.ID)
	if got.Status != StatusReady {
		t.Fatalf("T2 should become Ready after T1 completes, got %s", got.Status)
	}
}

// S2: Cycle refusal.
func TestCycleRefusal(t *testing.T) {
	b := newTestBoard(0)
	t1, _ := b.CreateTask(Spec{Title: "T1"})
	t2, _ := b.CreateTask(Spec{Title: "T2", BlockedBy: []string{t1.ID}})

	err := b.AddDependency(t1.ID, t2.ID)
	if !errors.Is(err, swarmerr.ErrTaskDependencyCycle) {
		t.Fatalf("expected ErrTaskDependencyCycle, got %v", err)
	}

	got1, _ := b.GetTask(t1.ID)
	if got1.BlockedBy[t2.ID] {
		t.Fatal("board should be unchanged after cycle refusal")
	}
}

// S3: Retry exhaustion.
func TestRetryExhaustion(t *testing.T) {
	b := newTestBoard(0)
	task, _ := b.CreateTask(Spec{Title: "T", MaxAttempts: 2})

	got, err := b.FailTask(task.ID, "boom")
	if err != nil {
		t.Fatalf("fail 1: %v", err)
	}
	if got.Status != StatusReady || got.Attempts != 1 {
		t.Fatalf("after first failure expected Ready/attempts=1, got %s/%d", got.Status, got.Attempts)
	}

	got, err = b.FailTask(task.ID, "boom again")
	if err != nil {
		t.Fatalf("fail 2: %v", err)
	}
	if got.Status != StatusFailed || got.Attempts != 2 {
		t.Fatalf("after second failure expected Failed/attempts=2, got %s/%d", got.Status, got.Attempts)
	}
}

func TestTaskLimitExceeded(t *testing.T) {
	b := newTestBoard(1)
	if _, err := b.CreateTask(Spec{Title: "T1"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := b.CreateTask(Spec{Title: "T2"})
	if !errors.Is(err, swarmerr.ErrTaskLimitExceeded) {
		t.Fatalf("expected ErrTaskLimitExceeded, got %v", err)
	}
}

// P4: blockedBy / blocks inverse relation.
func TestInverseRelationMaintained(t *testing.T) {
	b := newTestBoard(0)
	t1, _ := b.CreateTask(Spec{Title: "T1"})
	t2, _ := b.CreateTask(Spec{Title: "T2", BlockedBy: []string{t1.ID}})

	got1, _ := b.GetTask(t1.ID)
	got2, _ := b.GetTask(t2.ID)
	if !got1.Blocks[t2.ID] {
		t.Fatal("t1.Blocks should contain t2")
	}
	if !got2.BlockedBy[t1.ID] {
		t.Fatal("t2.BlockedBy should contain t1")
	}
}

// P1: column mirrors status at every observable state.
func TestColumnMirrorsStatus(t *testing.T) {
	for status, want := range map[Status]Column{
		StatusPending:    ColumnBacklog,
		StatusBlocked:    ColumnBacklog,
		StatusReady:      ColumnReady,
		StatusAssigned:   ColumnInProgress,
		StatusInProgress: ColumnInProgress,
		StatusRevision:   ColumnInProgress,
		StatusReview:     ColumnReview,
		StatusComplete:   ColumnDone,
		StatusFailed:     ColumnFailed,
		StatusCancelled:  ColumnFailed,
	} {
		if got := ColumnFor(status); got != want {
			t.Errorf("ColumnFor(%s) = %s, want %s", status, got, want)
		}
	}
}

func TestExecutionOrderTopologicallyValid(t *testing.T) {
	b := newTestBoard(0)
	t1, _ := b.CreateTask(Spec{Title: "T1"})
	t2, _ := b.CreateTask(Spec{Title: "T2", BlockedBy: []string{t1.ID}})
	t3, _ := b.CreateTask(Spec{Title: "T3", BlockedBy: []string{t2.ID}})

	order, err := b.ExecutionOrder()
	if err != nil {
		t.Fatalf("execution order: %v", err)
	}
	pos := map[string]int{}
	for i, t := range order {
		pos[t.ID] = i
	}
	if pos[t1.ID] >= pos[t2.ID] || pos[t2.ID] >= pos[t3.ID] {
		t.Fatalf("execution order violates dependency ordering: %v", pos)
	}
}

func TestAssignTaskAlreadyAssigned(t *testing.T) {
	b := newTestBoard(0)
	task, _ := b.CreateTask(Spec{Title: "T"})
	if _, err := b.AssignTask(task.ID, "agent-1"); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	_, err := b.AssignTask(task.ID, "agent-2")
	if !errors.Is(err, swarmerr.ErrTaskAlreadyAssigned) {
		t.Fatalf("expected ErrTaskAlreadyAssigned, got %v", err)
	}
}

func TestDeleteTaskClearsDependents(t *testing.T) {
	b := newTestBoard(0)
	t1, _ := b.CreateTask(Spec{Title: "T1"})
	t2, _ := b.CreateTask(Spec{Title: "T2", BlockedBy: []string{t1.ID}})

	if err := b.DeleteTask(t1.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := b.GetTask(t2.ID)
	if len(got.BlockedBy) != 0 {
		t.Fatalf("expected t2.BlockedBy to be empty after t1 deleted, got %v", got.BlockedBy)
	}
	if got.Status != StatusReady {
		t.Fatalf("t2 should become Ready once its only blocker is gone, got %s", got.Status)
	}
}
