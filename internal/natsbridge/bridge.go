// Package natsbridge optionally mirrors a session's event bus onto a
// NATS subject, so an external dashboard or CLI can observe a running
// session without sharing process memory. Grounded in the teacher's
// internal/nats/client.go connection/publish wrapper, adapted from a
// general-purpose request/reply client into a one-directional event
// mirror.
package natsbridge

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	nc "github.com/nats-io/nats.go"
	"github.com/swarmcore/swarm/internal/events"
)

// SubjectPrefix namespaces every subject this bridge publishes to.
const SubjectPrefix = "swarm.events"

// mirrorBufferCapacity bounds how far this bridge may lag the bus
// before the bus starts dropping its events rather than stalling the
// session that produced them. A NATS mirror is an optional watcher,
// not a participant in a session's own task/agent/mailbox plumbing,
// so it opts into events.SubscribeBounded instead of the default
// back-pressured Subscribe.
const mirrorBufferCapacity = 256

// Bridge subscribes to an events.Bus and republishes every event it
// sees onto subject "swarm.events.{target}".
type Bridge struct {
	conn   *nc.Conn
	bus    *events.Bus
	target string
	stopCh chan struct{}
	ch     <-chan events.Event
}

// Connect dials url with the same reconnect posture as the teacher's
// nats.Client: unbounded reconnection, logged connection-state changes.
func Connect(url string) (*nc.Conn, error) {
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(c *nc.Conn, err error) {
			if err != nil {
				log.Printf("[NATSBRIDGE] disconnected: %v", err)
			}
		}),
		nc.ReconnectHandler(func(c *nc.Conn) {
			log.Printf("[NATSBRIDGE] reconnected to %s", c.ConnectedUrl())
		}),
		nc.ClosedHandler(func(c *nc.Conn) {
			log.Printf("[NATSBRIDGE] connection closed")
		}),
	}
	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsbridge: connect to %s: %w", url, err)
	}
	return conn, nil
}

// New creates a Bridge that will mirror events for target (a session
// id, or "all") once Start is called.
func New(conn *nc.Conn, bus *events.Bus, target string) *Bridge {
	return &Bridge{conn: conn, bus: bus, target: target, stopCh: make(chan struct{})}
}

// Start subscribes to the bus and republishes every event it receives
// until Stop is called. Runs in the calling goroutine; callers
// typically invoke it via `go bridge.Start()`.
func (br *Bridge) Start() {
	br.ch = br.bus.SubscribeBounded(br.target, nil, mirrorBufferCapacity)
	subject := fmt.Sprintf("%s.%s", SubjectPrefix, br.target)
	for {
		select {
		case ev, ok := <-br.ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("[NATSBRIDGE] marshal event %s: %v", ev.ID, err)
				continue
			}
			if err := br.conn.Publish(subject, data); err != nil {
				log.Printf("[NATSBRIDGE] publish event %s to %s: %v", ev.ID, subject, err)
			}
		case <-br.stopCh:
			return
		}
	}
}

// Stop unsubscribes from the bus and ends Start's loop.
func (br *Bridge) Stop() {
	if br.ch != nil {
		br.bus.Unsubscribe(br.target, br.ch)
	}
	close(br.stopCh)
}
