// Package events streams sync activity to UI collaborators.
//
// The orchestrator and the daemon publish an Event for every operation they
// complete or fail. A Hub fans the events out to WebSocket clients connected
// to /ws; events are dropped rather than queued when nobody keeps up.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// Kind classifies an event.
type Kind string

const (
	// KindHello is sent to a client right after it connects.
	KindHello Kind = "hello"

	// KindFetched reports a collection read from the cache or the network.
	KindFetched Kind = "fetched"

	// KindPostSaved reports a post stored locally as pending.
	KindPostSaved Kind = "post_saved"

	// KindPushed reports a pending post submitted to its deployment.
	KindPushed Kind = "pushed"

	// KindDraftImported reports a draft file taken from the outbox.
	KindDraftImported Kind = "draft_imported"

	// KindDeploymentRemoved reports a deployment and its cache removed.
	KindDeploymentRemoved Kind = "deployment_removed"

	// KindFailed reports an operation that returned an error.
	KindFailed Kind = "failed"
)

// Source values of a KindFetched event.
const (
	SourceCache   = "cache"
	SourceNetwork = "network"
)

// Event is one broadcast message.
type Event struct {
	Kind       Kind      `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
	Deployment int64     `json:"deployment_id,omitempty"`
	Entity     string    `json:"entity,omitempty"`
	Source     string    `json:"source,omitempty"`
	ID         int64     `json:"id,omitempty"`
	Count      int       `json:"count,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Publisher receives events. Publish must not block.
type Publisher interface {
	Publish(e Event)
}

type discard struct{}

func (discard) Publish(Event) {}

// Discard drops every event.
var Discard Publisher = discard{}

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(e Event) {
	level := slog.LevelDebug
	if e.Kind == KindFailed {
		level = slog.LevelWarn
	}
	p.Logger.Log(context.Background(), level, "event",
		"kind", e.Kind, "deployment", e.Deployment, "entity", e.Entity,
		"source", e.Source, "id", e.ID, "count", e.Count, "error", e.Error)
}

// Fanout publishes to several publishers in order.
type Fanout []Publisher

func (f Fanout) Publish(e Event) {
	for _, p := range f {
		p.Publish(e)
	}
}

// Config holds hub configuration.
type Config struct {
	// Addr to listen on (default: 127.0.0.1:8787)
	Addr string

	// Buffer is the broadcast queue length (default: 100)
	Buffer int

	// Logger for hub activity (default: discard)
	Logger *slog.Logger
}

// DefaultConfig returns the defaults used by the daemon.
func DefaultConfig() *Config {
	return &Config{Addr: "127.0.0.1:8787", Buffer: 100}
}

// Hub manages WebSocket clients and broadcasts events to them.
type Hub struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Event
	published atomic.Int64
	dropped   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
	now    func() time.Time
}

// NewHub creates a hub. Nothing listens until Start.
func NewHub(config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	addr := config.Addr
	if addr == "" {
		addr = DefaultConfig().Addr
	}
	buffer := config.Buffer
	if buffer <= 0 {
		buffer = DefaultConfig().Buffer
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		addr:      addr,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Event, buffer),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		now:       time.Now,
	}
}

// Handler returns the hub's routes: /ws and /health.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)
	mux.HandleFunc("/health", h.handleHealth)
	return mux
}

// Start listens on the configured address and begins broadcasting.
func (h *Hub) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.listener = ln
	h.server = &http.Server{
		Handler:     h.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	h.wg.Add(2)
	go h.broadcastLoop()
	go func() {
		defer h.wg.Done()
		h.logger.Info("event hub listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("event hub stopped serving", "error", err)
		}
	}()
	return nil
}

// Stop closes every client and shuts the server down.
func (h *Hub) Stop() error {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "hub shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	var err error
	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := h.server.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("failed to shut down event hub: %w", serr)
		}
	}
	h.wg.Wait()
	h.logger.Info("event hub stopped", "published", h.published.Load(), "dropped", h.dropped.Load())
	return err
}

// Publish queues e for broadcast, dropping it when the queue is full.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = h.now().UTC()
	}
	select {
	case <-h.ctx.Done():
		return
	default:
	}
	select {
	case h.broadcast <- e:
		h.published.Add(1)
	default:
		h.dropped.Add(1)
		h.logger.Warn("event queue full, dropping event", "kind", e.Kind)
	}
}

// Addr returns the listening address, or the configured one before Start.
func (h *Hub) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case e := <-h.broadcast:
			data, err := json.Marshal(e)
			if err != nil {
				h.logger.Error("failed to marshal event", "kind", e.Kind, "error", err)
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.logger.Debug("failed to send event", "error", err)
					h.removeClient(conn)
				}
			}
		}
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Debug("client connected", "clients", count)

	// A client that has read the hello is registered for broadcasts.
	hello, _ := json.Marshal(Event{Kind: KindHello, Timestamp: h.now().UTC()})
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	err = conn.Write(ctx, websocket.MessageText, hello)
	cancel()
	if err != nil {
		h.removeClient(conn)
		return
	}

	go h.readLoop(conn)
}

// readLoop notices disconnects. Client messages are ignored.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)
	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if !h.clients[conn] {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, conn)
	count := len(h.clients)
	h.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Debug("client disconnected", "clients", count)
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"clients":   h.ClientCount(),
		"published": h.published.Load(),
		"dropped":   h.dropped.Load(),
	})
}
