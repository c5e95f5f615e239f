package session

import (
	"errors"
	"testing"
	"time"

	"github.com/swarmcore/swarm/internal/clock"
	"github.com/swarmcore/swarm/internal/events"
	"github.com/swarmcore/swarm/internal/swarmerr"
)

func newTestStore(max int) (*Store, *clock.Fake) {
	fc := clock.NewFake(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	bus := events.NewBus(nil)
	return NewStore(fc, clock.NewSeqIDGen("sess"), bus, max), fc
}

func TestTransitionTable(t *testing.T) {
	store, _ := newTestStore(0)
	sess, err := store.Create("build a widget", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := store.Transition(sess.ID, StatusPlanning); err != nil {
		t.Fatalf("Initializing->Planning should succeed: %v", err)
	}
	if _, err := store.Transition(sess.ID, StatusDelegating); err != nil {
		t.Fatalf("Planning->Delegating should succeed: %v", err)
	}
}

// S4: illegal transition from a terminal state leaves the session unchanged.
func TestIllegalTransitionFromComplete(t *testing.T) {
	store, _ := newTestStore(0)
	sess, _ := store.Create("task", "")
	store.Transition(sess.ID, StatusPlanning)
	store.Transition(sess.ID, StatusDelegating)
	store.Transition(sess.ID, StatusExecuting)
	store.Transition(sess.ID, StatusSynthesizing)
	if _, err := store.Transition(sess.ID, StatusComplete); err != nil {
		t.Fatalf("reaching Complete should succeed: %v", err)
	}

	_, err := store.Transition(sess.ID, StatusExecuting)
	if !errors.Is(err, swarmerr.ErrSessionInvalidState) {
		t.Fatalf("expected ErrSessionInvalidState, got %v", err)
	}

	got, _ := store.Get(sess.ID)
	if got.Status != StatusComplete {
		t.Fatalf("session should remain Complete, got %s", got.Status)
	}
}

func TestTerminalSetsEndTimeAndDuration(t *testing.T) {
	store, fc := newTestStore(0)
	sess, _ := store.Create("task", "")
	store.Transition(sess.ID, StatusPlanning)
	fc.Advance(5 * time.Minute)
	store.Transition(sess.ID, StatusCancelled)

	got, _ := store.Get(sess.ID)
	if got.Metrics.EndTime == nil {
		t.Fatal("expected EndTime to be set on terminal transition")
	}
	if got.Metrics.Duration != 5*time.Minute {
		t.Fatalf("expected duration 5m, got %v", got.Metrics.Duration)
	}
}

func TestSessionLimitExceeded(t *testing.T) {
	store, _ := newTestStore(1)
	if _, err := store.Create("a", ""); err != nil {
		t.Fatalf("first create should succeed: %v", err)
	}
	_, err := store.Create("b", "")
	if !errors.Is(err, swarmerr.ErrSessionLimitExceeded) {
		t.Fatalf("expected ErrSessionLimitExceeded, got %v", err)
	}
}

func TestDeleteOnlyFromInitializingOrTerminal(t *testing.T) {
	store, _ := newTestStore(0)
	sess, _ := store.Create("task", "")
	store.Transition(sess.ID, StatusPlanning)

	if _, err := store.Delete(sess.ID); !errors.Is(err, swarmerr.ErrSessionInvalidState) {
		t.Fatalf("expected delete to be refused mid-lifecycle, got %v", err)
	}

	store.Transition(sess.ID, StatusDelegating)
	store.Transition(sess.ID, StatusExecuting)
	store.Transition(sess.ID, StatusSynthesizing)
	store.Transition(sess.ID, StatusFailed)

	ok, err := store.Delete(sess.ID)
	if err != nil || !ok {
		t.Fatalf("expected delete to succeed from terminal state: ok=%v err=%v", ok, err)
	}
}
