package mailbox

import (
	"testing"
	"time"

	"github.com/swarmcore/swarm/internal/clock"
	"github.com/swarmcore/swarm/internal/events"
)

func newTestMailbox() (*Mailbox, *clock.Fake) {
	fc := clock.NewFake(time.Unix(0, 0))
	bus := events.NewBus(nil)
	return New("sess-1", fc, clock.NewSeqIDGen("msg"), bus), fc
}

func TestSendToConcreteRecipientUpdatesInboxAndUnread(t *testing.T) {
	mb, _ := newTestMailbox()
	msg, err := mb.Send(SendInput{From: "lead", To: "agent-1", Type: TypeTaskAssignment, Content: "go"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if mb.UnreadCount("agent-1") != 1 {
		t.Fatalf("expected unread count 1, got %d", mb.UnreadCount("agent-1"))
	}
	inbox := mb.Inbox("agent-1")
	if len(inbox) != 1 || inbox[0].ID != msg.ID {
		t.Fatalf("expected inbox to contain sent message, got %v", inbox)
	}
}

func TestSendToReservedRecipientSkipsInbox(t *testing.T) {
	mb, _ := newTestMailbox()
	if _, err := mb.Send(SendInput{From: "agent-1", To: ReservedAll, Type: TypeGeneral, Content: "hi everyone"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if mb.UnreadCount(ReservedAll) != 0 {
		t.Fatalf("reserved recipient should not accumulate unread count, got %d", mb.UnreadCount(ReservedAll))
	}
	if len(mb.Inbox(ReservedAll)) != 0 {
		t.Fatal("reserved recipient should not get an inbox entry")
	}
}

func TestSendDefaultsThreadID(t *testing.T) {
	mb, _ := newTestMailbox()
	msg, err := mb.Send(SendInput{From: "a", To: "b", Type: TypeGeneral, Content: "x"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ThreadID == "" {
		t.Fatal("expected a default thread id to be assigned")
	}
}

func TestSendPreservesExplicitThreadID(t *testing.T) {
	mb, _ := newTestMailbox()
	msg, err := mb.Send(SendInput{From: "a", To: "b", Type: TypeGeneral, Content: "x", ThreadID: "thread-99"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ThreadID != "thread-99" {
		t.Fatalf("expected explicit thread id preserved, got %s", msg.ThreadID)
	}
}

func TestMarkAsReadDecrementsUnread(t *testing.T) {
	mb, _ := newTestMailbox()
	msg, _ := mb.Send(SendInput{From: "a", To: "agent-1", Type: TypeGeneral, Content: "x"})
	if err := mb.MarkAsRead(msg.ID); err != nil {
		t.Fatalf("mark as read: %v", err)
	}
	if mb.UnreadCount("agent-1") != 0 {
		t.Fatalf("expected unread count 0 after read, got %d", mb.UnreadCount("agent-1"))
	}
	// Re-marking an already-read message must not double-decrement.
	if err := mb.MarkAsRead(msg.ID); err != nil {
		t.Fatalf("re-mark as read: %v", err)
	}
	if mb.UnreadCount("agent-1") != 0 {
		t.Fatalf("expected unread count to stay 0, got %d", mb.UnreadCount("agent-1"))
	}
}

func TestMarkAllAsRead(t *testing.T) {
	mb, _ := newTestMailbox()
	mb.Send(SendInput{From: "a", To: "agent-1", Type: TypeGeneral, Content: "1"})
	mb.Send(SendInput{From: "a", To: "agent-1", Type: TypeGeneral, Content: "2"})
	if mb.UnreadCount("agent-1") != 2 {
		t.Fatalf("expected unread count 2, got %d", mb.UnreadCount("agent-1"))
	}
	mb.MarkAllAsRead("agent-1")
	if mb.UnreadCount("agent-1") != 0 {
		t.Fatalf("expected unread count 0 after mark all, got %d", mb.UnreadCount("agent-1"))
	}
}

func TestGetConjunctiveFilters(t *testing.T) {
	mb, fc := newTestMailbox()
	mb.Send(SendInput{From: "a", To: "b", Type: TypeQuestion, Content: "q1"})
	fc.Advance(time.Minute)
	since := fc.Now()
	fc.Advance(time.Minute)
	mb.Send(SendInput{From: "a", To: "c", Type: TypeQuestion, Content: "q2"})
	mb.Send(SendInput{From: "x", To: "b", Type: TypeAnswer, Content: "a1"})

	got := mb.Get(Filters{From: "a", Type: TypeQuestion})
	if len(got) != 2 {
		t.Fatalf("expected 2 messages matching from=a,type=question, got %d", len(got))
	}

	gotSince := mb.Get(Filters{From: "a", Since: &since})
	if len(gotSince) != 1 || gotSince[0].Content != "q2" {
		t.Fatalf("expected only q2 after since filter, got %v", gotSince)
	}
}

func TestGetLimitReturnsMostRecentK(t *testing.T) {
	mb, _ := newTestMailbox()
	for i := 0; i < 5; i++ {
		mb.Send(SendInput{From: "a", To: "b", Type: TypeGeneral, Content: "msg"})
	}
	got := mb.Get(Filters{Limit: 2})
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
}

func TestBroadcastAcknowledge(t *testing.T) {
	mb, _ := newTestMailbox()
	b := mb.Broadcast("lead", "stand down", ImportanceCritical)
	if err := mb.Acknowledge(b.ID, "agent-1"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if err := mb.Acknowledge(b.ID, "agent-1"); err != nil {
		t.Fatalf("duplicate acknowledge should be a no-op, got: %v", err)
	}
}

func TestThreadGroupsByThreadID(t *testing.T) {
	mb, _ := newTestMailbox()
	m1, _ := mb.Send(SendInput{From: "a", To: "b", Type: TypeQuestion, Content: "q"})
	mb.Send(SendInput{From: "b", To: "a", Type: TypeAnswer, Content: "a", ThreadID: m1.ThreadID, ReplyTo: m1.ID})
	mb.Send(SendInput{From: "a", To: "c", Type: TypeGeneral, Content: "unrelated"})

	thread := mb.Thread(m1.ThreadID)
	if len(thread) != 2 {
		t.Fatalf("expected 2 messages in thread, got %d", len(thread))
	}
}
