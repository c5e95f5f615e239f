package natsbridge

import (
	"encoding/json"
	"testing"
	"time"

	nc "github.com/nats-io/nats.go"
	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/swarmcore/swarm/internal/events"
)

func startTestServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // random free port
		NoLog:  true,
		NoSigs: true,
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("new embedded nats server: %v", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded nats server never became ready")
	}
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	return srv
}

func TestBridgeMirrorsBusEventsOntoSubject(t *testing.T) {
	srv := startTestServer(t)
	url := srv.ClientURL()

	conn, err := Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	bus := events.NewBus(nil)
	br := New(conn, bus, "sess-1")
	go br.Start()
	defer br.Stop()

	sub, err := conn.SubscribeSync("swarm.events.sess-1")
	if err != nil {
		t.Fatalf("subscribe sync: %v", err)
	}
	defer sub.Unsubscribe()

	// Give the bridge goroutine time to subscribe to the bus before we publish.
	time.Sleep(50 * time.Millisecond)

	ev := &events.Event{ID: "ev-1", Type: events.TaskUpdated, Target: "sess-1"}
	bus.Publish(ev)

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("expected mirrored event on subject, got error: %v", err)
	}

	var got events.Event
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("unmarshal mirrored event: %v", err)
	}
	if got.ID != ev.ID || got.Type != ev.Type || got.Target != ev.Target {
		t.Fatalf("mirrored event mismatch: got %+v, want %+v", got, ev)
	}
}

func TestBridgeStopEndsLoop(t *testing.T) {
	srv := startTestServer(t)
	conn, err := Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	bus := events.NewBus(nil)
	br := New(conn, bus, "sess-2")

	done := make(chan struct{})
	go func() {
		br.Start()
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	br.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestConnectRejectsBadURL(t *testing.T) {
	if _, err := Connect("nats://127.0.0.1:1"); err == nil {
		t.Fatal("expected error connecting to unreachable address")
	}
}
