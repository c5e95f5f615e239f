package mailbox

import (
	"fmt"
	"sync"

	"github.com/swarmcore/swarm/internal/clock"
	"github.com/swarmcore/swarm/internal/events"
	"github.com/swarmcore/swarm/internal/swarmerr"
)

// Mailbox carries point-to-point and broadcast messages for one
// session: a session-wide log plus a per-agent inbox (spec §4.4).
type Mailbox struct {
	mu         sync.Mutex
	sessionID  string
	log        []*Message
	inboxes    map[string][]*Message // concrete agent id -> its inbox
	unread     map[string]int
	broadcasts map[string]*Broadcast

	clk clock.Clock
	ids clock.IDGen
	bus *events.Bus
}

// New creates an empty mailbox for sessionID.
func New(sessionID string, clk clock.Clock, ids clock.IDGen, bus *events.Bus) *Mailbox {
	return &Mailbox{
		sessionID:  sessionID,
		inboxes:    make(map[string][]*Message),
		unread:     make(map[string]int),
		broadcasts: make(map[string]*Broadcast),
		clk:        clk,
		ids:        ids,
		bus:        bus,
	}
}

// isConcreteRecipient reports whether to names an actual agent rather
// than the reserved "all"/"lead" targets.
func isConcreteRecipient(to string) bool {
	return to != ReservedAll && to != ReservedLead
}

// Send appends msg to the session log, and — per the delivery contract —
// to the recipient's inbox (incrementing unread) only when To is a
// concrete agent id.
func (m *Mailbox) Send(in SendInput) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	threadID := in.ThreadID
	if threadID == "" {
		threadID = m.ids.NewID()
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	msg := &Message{
		ID:               m.ids.NewID(),
		Timestamp:        m.clk.Now(),
		From:             in.From,
		To:               in.To,
		Type:             in.Type,
		Subject:          in.Subject,
		Content:          in.Content,
		Priority:         priority,
		RequiresResponse: in.RequiresResponse,
		ResponseDeadline: in.ResponseDeadline,
		ThreadID:         threadID,
		ReplyTo:          in.ReplyTo,
		Attachments:      in.Attachments,
	}

	m.log = append(m.log, msg)
	if isConcreteRecipient(msg.To) {
		m.inboxes[msg.To] = append(m.inboxes[msg.To], msg)
		m.unread[msg.To]++
	}

	m.publishLocked(msg)
	return cloneMessage(msg), nil
}

// Get returns messages from the session log matching filters, most
// recent last unless Limit truncates to the most recent k.
func (m *Mailbox) Get(f Filters) []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*Message
	for _, msg := range m.log {
		if f.From != "" && msg.From != f.From {
			continue
		}
		if f.To != "" && msg.To != f.To {
			continue
		}
		if f.Type != "" && msg.Type != f.Type {
			continue
		}
		if f.UnreadOnly && msg.Read {
			continue
		}
		if f.Since != nil && msg.Timestamp.Before(*f.Since) {
			continue
		}
		matched = append(matched, cloneMessage(msg))
	}

	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[len(matched)-f.Limit:]
	}
	return matched
}

// MarkAsRead marks msgID read and decrements the recipient's unread count.
func (m *Mailbox) MarkAsRead(msgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.log {
		if msg.ID == msgID {
			if !msg.Read {
				msg.Read = true
				now := m.clk.Now()
				msg.ReadAt = &now
				if isConcreteRecipient(msg.To) && m.unread[msg.To] > 0 {
					m.unread[msg.To]--
				}
			}
			return nil
		}
	}
	return fmt.Errorf("mailbox: message %s: %w", msgID, swarmerr.ErrMessageNotFound)
}

// MarkAllAsRead marks every message in agentID's inbox read.
func (m *Mailbox) MarkAllAsRead(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	for _, msg := range m.inboxes[agentID] {
		if !msg.Read {
			msg.Read = true
			msg.ReadAt = &now
		}
	}
	m.unread[agentID] = 0
}

// Broadcast announces content to every agent in the session.
func (m *Mailbox) Broadcast(from, content string, importance Importance) *Broadcast {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := &Broadcast{
		ID:         m.ids.NewID(),
		Timestamp:  m.clk.Now(),
		From:       from,
		Content:    content,
		Importance: importance,
	}
	m.broadcasts[b.ID] = b

	if m.bus != nil {
		m.bus.Publish(events.NewEvent(m.ids, m.clk, events.BroadcastSent, "mailbox.Mailbox", m.sessionID, priorityForImportance(importance), map[string]interface{}{
			"broadcast_id": b.ID,
			"importance":   string(importance),
		}))
	}

	cp := *b
	return &cp
}

// Acknowledge records that agentID has seen broadcastID.
func (m *Mailbox) Acknowledge(broadcastID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.broadcasts[broadcastID]
	if !ok {
		return fmt.Errorf("mailbox: broadcast %s: %w", broadcastID, swarmerr.ErrMessageNotFound)
	}
	for _, id := range b.AcknowledgedBy {
		if id == agentID {
			return nil
		}
	}
	b.AcknowledgedBy = append(b.AcknowledgedBy, agentID)
	return nil
}

// UnreadCount returns agentID's unread message count.
func (m *Mailbox) UnreadCount(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread[agentID]
}

// Inbox returns a snapshot of agentID's inbox, oldest first.
func (m *Mailbox) Inbox(agentID string) []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Message, 0, len(m.inboxes[agentID]))
	for _, msg := range m.inboxes[agentID] {
		out = append(out, cloneMessage(msg))
	}
	return out
}

// Thread returns every message sharing threadID, in log order.
func (m *Mailbox) Thread(threadID string) []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Message
	for _, msg := range m.log {
		if msg.ThreadID == threadID {
			out = append(out, cloneMessage(msg))
		}
	}
	return out
}

func (m *Mailbox) publishLocked(msg *Message) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.NewEvent(m.ids, m.clk, events.MessageSent, "mailbox.Mailbox", m.sessionID, priorityRank(msg.Priority), map[string]interface{}{
		"message_id": msg.ID,
		"to":         msg.To,
		"type":       string(msg.Type),
	}))
}

func priorityRank(p Priority) int {
	switch p {
	case PriorityUrgent:
		return events.PriorityCritical
	case PriorityHigh:
		return events.PriorityHigh
	default:
		return events.PriorityNormal
	}
}

func priorityForImportance(i Importance) int {
	switch i {
	case ImportanceCritical:
		return events.PriorityCritical
	case ImportanceWarning:
		return events.PriorityHigh
	default:
		return events.PriorityNormal
	}
}

func cloneMessage(m *Message) *Message {
	cp := *m
	if m.Attachments != nil {
		cp.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	return &cp
}
