package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
)

// startTestServer starts an in-process COMMS server for testing.
func startTestServer(t *testing.T) (*comms.Conn, func()) {
	t.Helper()

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - failed to create server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("events:comms_publisher_integration_test - server failed to start")
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("events:comms_publisher_integration_test - failed to connect: %v", err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}

	return nc, cleanup
}

func subscribeEvents(t *testing.T, nc *comms.Conn, subject string) chan *CallCompletedEvent {
	t.Helper()
	received := make(chan *CallCompletedEvent, 4)
	_, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		var event CallCompletedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			t.Errorf("events:comms_publisher_integration_test - failed to unmarshal: %v", err)
			return
		}
		received <- &event
	})
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - failed to subscribe: %v", err)
	}
	nc.Flush()
	return received
}

func TestCommsPublisher_GranularAndGlobalSubjects(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	granular := subscribeEvents(t, nc, "rpc.calls.inventory.addItem")
	global := subscribeEvents(t, nc, "rpc.calls")

	publisher := NewCommsPublisher(nc, nil)
	event := &CallCompletedEvent{
		ID:        "c-1",
		Service:   "inventory",
		Method:    "addItem",
		Mode:      "update",
		Caller:    "2vxsx-fae",
		Outcome:   OutcomeIndeterminate,
		Code:      "TIMEOUT",
		Attempts:  1,
		Timestamp: "2025-01-01T00:00:00Z",
	}
	if err := publisher.PublishCallCompleted(context.Background(), event); err != nil {
		t.Fatalf("events:comms_publisher_integration_test - PublishCallCompleted failed: %v", err)
	}
	nc.Flush()

	for name, ch := range map[string]chan *CallCompletedEvent{"granular": granular, "global": global} {
		select {
		case got := <-ch:
			if got.ID != "c-1" || got.Outcome != OutcomeIndeterminate || got.Method != "addItem" {
				t.Errorf("events:comms_publisher_integration_test - %s event = %+v", name, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("events:comms_publisher_integration_test - timeout waiting for %s event", name)
		}
	}
}

func TestCommsPublisher_CustomGlobalSubject(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	custom := subscribeEvents(t, nc, "audit.rpc")
	publisher := NewCommsPublisher(nc, &CommsPublisherOpts{GlobalSubject: "audit.rpc"})

	if err := publisher.PublishCallCompleted(context.Background(), &CallCompletedEvent{ID: "c-2", Service: "access", Method: "subscribeUser", Outcome: OutcomeSucceeded}); err != nil {
		t.Fatalf("events:comms_publisher_integration_test - PublishCallCompleted failed: %v", err)
	}
	nc.Flush()

	select {
	case got := <-custom:
		if got.ID != "c-2" {
			t.Errorf("events:comms_publisher_integration_test - ID = %q", got.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events:comms_publisher_integration_test - timeout waiting for custom subject event")
	}
}

func TestCommsPublisher_ClosedConnection(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()
	nc.Close()

	publisher := NewCommsPublisher(nc, nil)
	if err := publisher.PublishCallCompleted(context.Background(), &CallCompletedEvent{Service: "access", Method: "subscribeUser"}); err == nil {
		t.Error("events:comms_publisher_integration_test - expected error on closed connection")
	}
}
