// Package events implements the session event bus (spec §5): every
// mutation to a session's tasks, agents, mailbox, cost ledger, and
// quota vault is published here as a typed Event, fanned out to
// whatever is watching that session (a CLI, a dashboard, the NATS
// mirror in internal/natsbridge) and optionally persisted so a
// reconnecting watcher can replay what it missed.
//
// Grounded in the teacher's own internal/events/bus.go: same
// subscription-map-plus-store shape, reworked so the default
// delivery mode is genuine back-pressure rather than retry-then-drop.
// Per spec §5, dropping an event is something only a subscriber can
// opt into, by calling SubscribeBounded instead of Subscribe.
package events

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// broadcastTarget is the reserved target that receives every event
// regardless of session, and the target a session-scoped event also
// reaches subscribers of.
const broadcastTarget = "all"

// watch is one live subscription: a channel, the event types it
// cares about (empty means all), and whether the bus is allowed to
// drop events bound for it.
type watch struct {
	ch      chan Event
	types   []EventType
	target  string
	bounded bool
}

// EventStore persists events so a subscriber that was offline, or
// that opted into SubscribeBounded and had deliveries dropped, can
// recover them later via GetPendingEvents/MarkDelivered.
type EventStore interface {
	Save(event *Event) error
	GetPending(target string, types []EventType) ([]*Event, error)
	MarkDelivered(eventID string) error
}

// defaultChannelSize is the buffer given to a Subscribe channel. It
// only smooths short bursts: once full, Publish blocks rather than
// dropping, so sizing it generously buys nothing but memory.
const defaultChannelSize = 8

// Tuning for the opt-in bounded mode: how hard to retry a full
// channel before counting the event as dropped.
const (
	BoundedRetries    = 3
	BoundedRetryDelay = 10 * time.Millisecond
)

// Bus is the process-wide fan-out point for one swarmd deployment's
// session events. A single Bus instance is shared by every running
// session; subscriptions are scoped by target (a session ID, or
// "all").
type Bus struct {
	mu      sync.RWMutex
	byTarget map[string][]*watch
	store   EventStore

	dropped uint64
}

// NewBus creates a bus, optionally backed by store for at-rest
// persistence of events subscribers have not yet acknowledged.
func NewBus(store EventStore) *Bus {
	return &Bus{
		byTarget: make(map[string][]*watch),
		store:    store,
	}
}

// Subscribe opens a back-pressured subscription to target's events
// (or every session's, for target "all"). If types is empty every
// event type is delivered. Publish blocks rather than drops when
// this subscriber falls behind: per spec §5 this is the default, so
// a slow consumer slows its producers down instead of silently
// missing events.
func (b *Bus) Subscribe(target string, types []EventType) <-chan Event {
	return b.subscribe(target, types, false, defaultChannelSize)
}

// SubscribeBounded opts into a fixed-size buffer of capacity slots
// for target's events. Once that buffer is full, Publish retries
// briefly and then drops the event for this subscriber only,
// recording it in DroppedEventCount — the bounded-buffer exception
// spec §5 carves out of the default back-pressure policy. Use this
// for fire-and-forget watchers (a dashboard tail, a NATS mirror) that
// should never stall a session's own task/agent/mailbox plumbing.
func (b *Bus) SubscribeBounded(target string, types []EventType, capacity int) <-chan Event {
	if capacity <= 0 {
		capacity = defaultChannelSize
	}
	return b.subscribe(target, types, true, capacity)
}

func (b *Bus) subscribe(target string, types []EventType, bounded bool, capacity int) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	w := &watch{
		ch:      make(chan Event, capacity),
		types:   types,
		target:  target,
		bounded: bounded,
	}
	b.byTarget[target] = append(b.byTarget[target], w)
	return w.ch
}

// Unsubscribe removes a subscription and closes its channel. ch must
// be the value returned by Subscribe or SubscribeBounded.
func (b *Bus) Unsubscribe(target string, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	watches, ok := b.byTarget[target]
	if !ok {
		return
	}
	for i, w := range watches {
		if w.ch == ch {
			close(w.ch)
			b.byTarget[target] = append(watches[:i], watches[i+1:]...)
			if len(b.byTarget[target]) == 0 {
				delete(b.byTarget, target)
			}
			return
		}
	}
}

// Publish persists event (if a store is configured) and delivers it
// to every matching subscriber of event.Target plus every "all"
// subscriber. Delivery to a back-pressured (default) subscriber
// blocks until it is consumed; delivery to a bounded subscriber
// retries briefly and then drops, per the modes chosen at Subscribe
// time.
func (b *Bus) Publish(event *Event) {
	if b.store != nil {
		if err := b.store.Save(event); err != nil {
			log.Printf("[EVENTS] ERROR: persist event type=%s target=%s id=%s: %v",
				event.Type, event.Target, event.ID, err)
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, w := range b.recipients(event.Target) {
		if !matchesTypes(event.Type, w.types) {
			continue
		}
		if w.bounded {
			b.deliverBounded(w, event)
		} else {
			w.ch <- *event
		}
	}
}

// recipients lists the subscriptions an event bound for target must
// reach: target's own subscribers, "all" subscribers, and — when
// target itself is "all" — everyone. Caller must hold b.mu.
func (b *Bus) recipients(target string) []*watch {
	if target == broadcastTarget {
		var all []*watch
		for _, ws := range b.byTarget {
			all = append(all, ws...)
		}
		return all
	}
	recipients := append([]*watch{}, b.byTarget[target]...)
	recipients = append(recipients, b.byTarget[broadcastTarget]...)
	return recipients
}

// deliverBounded is the opt-in drop path: a short non-blocking
// attempt, a few retries to ride out a momentary stall, and then a
// counted drop. The event stays recoverable via GetPendingEvents if
// a store is configured.
func (b *Bus) deliverBounded(w *watch, event *Event) {
	select {
	case w.ch <- *event:
		return
	default:
	}

	for retry := 1; retry <= BoundedRetries; retry++ {
		time.Sleep(BoundedRetryDelay)
		select {
		case w.ch <- *event:
			return
		default:
		}
	}

	dropped := atomic.AddUint64(&b.dropped, 1)
	log.Printf("[EVENTS] WARNING: dropped event for bounded subscriber after %d retries: type=%s target=%s id=%s (total dropped: %d)",
		BoundedRetries, event.Type, event.Target, event.ID, dropped)
}

// GetPendingEvents replays undelivered events for target from the
// store, for a subscriber that was offline or opted into
// SubscribeBounded and missed a delivery.
func (b *Bus) GetPendingEvents(target string, types []EventType) ([]*Event, error) {
	if b.store == nil {
		return nil, nil
	}
	return b.store.GetPending(target, types)
}

// MarkDelivered acknowledges an event so it is not replayed again by
// GetPendingEvents.
func (b *Bus) MarkDelivered(eventID string) error {
	if b.store == nil {
		return nil
	}
	return b.store.MarkDelivered(eventID)
}

// DroppedEventCount reports how many events were dropped for bounded
// subscribers whose buffer stayed full past the retry window. Always
// zero unless at least one subscriber opted in via SubscribeBounded.
func (b *Bus) DroppedEventCount() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

// matchesTypes reports whether eventType passes a subscription's type
// filter; an empty filter accepts everything.
func matchesTypes(eventType EventType, types []EventType) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == eventType {
			return true
		}
	}
	return false
}
