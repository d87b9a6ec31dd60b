package events

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func startHub(t *testing.T, buffer int) *Hub {
	t.Helper()
	hub := NewHub(&Config{Addr: "127.0.0.1:0", Buffer: buffer})
	if err := hub.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { hub.Stop() })
	return hub
}

func dial(t *testing.T, ctx context.Context, hub *Hub) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+hub.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) Event {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	return e
}

func TestHub_BroadcastsToClients(t *testing.T) {
	hub := startHub(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dial(t, ctx, hub)
	b := dial(t, ctx, hub)
	for _, conn := range []*websocket.Conn{a, b} {
		if e := readEvent(t, ctx, conn); e.Kind != KindHello {
			t.Fatalf("first event = %s, want hello", e.Kind)
		}
	}
	if n := hub.ClientCount(); n != 2 {
		t.Errorf("ClientCount() = %d, want 2", n)
	}

	hub.Publish(Event{Kind: KindFetched, Deployment: 3, Entity: "posts", Source: SourceNetwork, Count: 7})

	for _, conn := range []*websocket.Conn{a, b} {
		e := readEvent(t, ctx, conn)
		if e.Kind != KindFetched || e.Deployment != 3 || e.Count != 7 || e.Source != SourceNetwork {
			t.Errorf("event = %+v", e)
		}
		if e.Timestamp.IsZero() {
			t.Error("event not timestamped")
		}
	}
}

func TestHub_Health(t *testing.T) {
	hub := startHub(t, 0)

	resp, err := http.Get("http://" + hub.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health["status"] != "ok" || health["clients"] != float64(0) {
		t.Errorf("health = %v", health)
	}
}

func TestHub_DropsWhenQueueFull(t *testing.T) {
	// Not started: nothing drains the queue.
	hub := NewHub(&Config{Buffer: 2})

	for i := 0; i < 5; i++ {
		hub.Publish(Event{Kind: KindPushed, ID: int64(i)})
	}
	if got := hub.published.Load(); got != 2 {
		t.Errorf("published = %d, want 2", got)
	}
	if got := hub.dropped.Load(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
}

func TestHub_PublishAfterStopIsIgnored(t *testing.T) {
	hub := NewHub(&Config{Addr: "127.0.0.1:0"})
	if err := hub.Start(); err != nil {
		t.Fatal(err)
	}
	if err := hub.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	hub.Publish(Event{Kind: KindPushed})
	if got := hub.published.Load(); got != 0 {
		t.Errorf("published after stop = %d", got)
	}
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	Fanout{Discard, LogPublisher{Logger: logger}}.Publish(Event{Kind: KindFetched, Entity: "posts"})
	if buf.Len() != 0 {
		t.Errorf("debug event logged at warn level: %s", buf.String())
	}

	LogPublisher{Logger: logger}.Publish(Event{Kind: KindFailed, Entity: "posts", Error: "boom"})
	if out := buf.String(); !strings.Contains(out, "kind=failed") || !strings.Contains(out, "error=boom") {
		t.Errorf("log output = %q", out)
	}
}
