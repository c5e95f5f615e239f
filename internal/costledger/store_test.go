package costledger

import (
	"database/sql"
	"testing"
	"time"

	"github.com/swarmcore/swarm/internal/clock"
	"github.com/swarmcore/swarm/internal/events"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAppendAndLoadSession(t *testing.T) {
	db := openTestDB(t)
	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	rec := UsageRecord{
		ID:          "rec-1",
		SessionID:   "sess-1",
		AgentID:     "agent-1",
		Role:        "developer",
		TaskID:      "task-1",
		RequestType: "execution",
		Usage:       Usage{Model: "claude-opus", InputTokens: 100, OutputTokens: 50},
		Cost:        1.5,
		Timestamp:   time.Unix(0, 0).UTC(),
	}
	if err := store.Append(rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	loaded, err := store.LoadSession("sess-1")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "rec-1" || loaded[0].Cost != 1.5 {
		t.Fatalf("unexpected loaded records: %+v", loaded)
	}
}

func TestReplayRebuildsLedgerAggregates(t *testing.T) {
	db := openTestDB(t)
	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	store.Append(UsageRecord{ID: "r1", SessionID: "sess-1", AgentID: "a1", RequestType: "planning",
		Usage: Usage{Model: "claude-opus", InputTokens: 1_000_000}, Cost: 15.0, Timestamp: time.Unix(0, 0)})
	store.Append(UsageRecord{ID: "r2", SessionID: "sess-1", AgentID: "a2", RequestType: "execution",
		Usage: Usage{Model: "claude-opus", InputTokens: 2_000_000}, Cost: 30.0, Timestamp: time.Unix(1, 0)})

	fc := clock.NewFake(time.Unix(0, 0))
	l := New(nil, fc, clock.NewSeqIDGen("rec"), events.NewBus(nil))
	if err := l.Replay(store, "sess-1"); err != nil {
		t.Fatalf("replay: %v", err)
	}

	sum := l.Summary("sess-1")
	if sum.TotalCost != 45.0 {
		t.Fatalf("expected replayed total 45.0, got %v", sum.TotalCost)
	}
	if len(l.Records("sess-1")) != 2 {
		t.Fatalf("expected 2 replayed records, got %d", len(l.Records("sess-1")))
	}
}
