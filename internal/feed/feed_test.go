package feed

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sortinel/sortinel/internal/events"
)

func TestFeedDeliversBusEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	srv, err := New("127.0.0.1:0", bus, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Run(ctx)
	}()

	url := "ws://" + srv.Addr() + "/feed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	defer conn.Close()

	// Wait for registration before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for srv.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	bus.Publish(events.TopicSession, events.KindSessionStarted,
		map[string]string{"group_name": "Tech News"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Topic != events.TopicSession {
		t.Errorf("topic = %q, want session", msg.Topic)
	}
	if msg.Kind != events.KindSessionStarted {
		t.Errorf("kind = %q, want session_started", msg.Kind)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop on cancel")
	}
}

func TestFeedDropsClosedClients(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	srv, err := New("127.0.0.1:0", bus, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/feed", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for srv.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("closed client never dropped")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
