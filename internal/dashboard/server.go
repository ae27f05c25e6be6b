// Package dashboard provides a real-time WebSocket feed of sync activity.
//
// The dashboard broadcasts aggregate status transitions, conflict-set
// changes, per-round error batches and last-sync-time updates to connected
// clients, so a UI can mirror the sync state without polling.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/prefsync/prefsync/internal/userdata"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeStatus indicates the aggregate sync status changed
	MessageTypeStatus MessageType = "status"

	// MessageTypeConflicts indicates the conflict set changed
	MessageTypeConflicts MessageType = "conflicts"

	// MessageTypeSyncErrors carries a round's error batch
	MessageTypeSyncErrors MessageType = "sync_errors"

	// MessageTypeLastSync indicates the last-sync timestamp was refreshed
	MessageTypeLastSync MessageType = "last_sync"

	// MessageTypeLocalChange indicates a synced file changed locally
	MessageTypeLocalChange MessageType = "local_change"

	// MessageTypeSnapshot is the full state sent to a newly connected client
	MessageTypeSnapshot MessageType = "snapshot"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatusData carries an aggregate status transition
type StatusData struct {
	Status string `json:"status"`
}

// ConflictsData carries the current conflict sources
type ConflictsData struct {
	Sources []string `json:"sources"`
}

// SyncErrorsData carries one round's error batch
type SyncErrorsData struct {
	Errors []SyncErrorData `json:"errors"`
}

// SyncErrorData describes one per-resource failure
type SyncErrorData struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// LastSyncData carries a last-sync-time refresh
type LastSyncData struct {
	LastSyncTime time.Time `json:"last_sync_time"`
}

// LocalChangeData identifies the source whose local file changed
type LocalChangeData struct {
	Source string `json:"source"`
}

// SnapshotData is the full state for newly connected clients
type SnapshotData struct {
	Status       string     `json:"status"`
	Conflicts    []string   `json:"conflicts"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
}

// Server manages WebSocket connections and broadcasts sync events
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	svc *userdata.Service

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast chan Message

	// Observer unsubscribe hooks, released on Stop
	removers []func()

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8090)
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:   8090,
		Logger: log.Default(),
	}
}

// NewServer creates a dashboard server over the given sync service
func NewServer(svc *userdata.Service, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		svc:       svc,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start subscribes to the sync service and begins serving
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.subscribe()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	for _, remove := range s.removers {
		remove()
	}
	s.removers = nil

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop handles message broadcasting to all clients
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Send outside the read lock to avoid blocking broadcasts
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// Send the current state so the client doesn't have to wait for the
	// next transition.
	if data, err := json.Marshal(s.snapshot()); err == nil {
		msg := Message{Type: MessageTypeSnapshot, Timestamp: time.Now(), Data: data}
		if raw, err := json.Marshal(msg); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = conn.Write(ctx, websocket.MessageText, raw)
			cancel()
		}
	}

	go s.readLoop(conn)
}

// handleStatus serves the current state as JSON for non-WebSocket clients
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		s.logger.Printf("Failed to write status: %v", err)
	}
}

// handleHealth is a liveness probe
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// snapshot captures the sync service's current state
func (s *Server) snapshot() SnapshotData {
	snap := SnapshotData{
		Status:    s.svc.Status().String(),
		Conflicts: sourceStrings(s.svc.Conflicts()),
	}
	if at, ok := s.svc.LastSyncTime(); ok {
		snap.LastSyncTime = &at
	}
	return snap
}

// readLoop keeps the WebSocket connection alive and handles disconnects
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	s.clientsMu.Unlock()
}

// Addr returns the listener address, useful when Port was 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func sourceStrings(sources []userdata.SyncSource) []string {
	out := make([]string, len(sources))
	for i, src := range sources {
		out[i] = string(src)
	}
	return out
}
