// Package feed exposes the event bus to UI clients over a local websocket.
// Every burst, session, window, and detection event is pushed to all
// connected clients as JSON.
package feed

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sortinel/sortinel/internal/events"
)

// Message is one event on the wire, an envelope annotated with its topic.
type Message struct {
	Topic string `json:"topic"`
	events.Envelope
}

// Server broadcasts bus events to websocket clients.
type Server struct {
	bus      *events.Bus
	logger   *zap.Logger
	listener net.Listener
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	// writeMu serializes broadcasts; gorilla connections allow only one
	// concurrent writer.
	writeMu sync.Mutex
}

// New binds the feed listener on addr. Pass port 0 to pick a free port.
func New(addr string, bus *events.Bus, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		bus:      bus,
		logger:   logger,
		listener: listener,
		upgrader: websocket.Upgrader{
			// Local-only feed; the listener address is the access control.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	topics := []string{
		events.TopicBurst,
		events.TopicSession,
		events.TopicWindow,
		events.TopicDetection,
	}
	for _, topic := range topics {
		envelopes, err := s.bus.Subscribe(ctx, topic)
		if err != nil {
			return err
		}
		go s.fanOut(ctx, topic, envelopes)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", s.handleFeed)
	server := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		s.closeAll()
	}()

	s.logger.Info("event feed listening", zap.String("addr", s.Addr()))
	err := server.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()
	s.logger.Debug("feed client connected", zap.String("remote", conn.RemoteAddr().String()))

	// Read pump: discard inbound frames, drop the client on close.
	go func() {
		defer s.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// fanOut pushes every envelope from one topic to all clients.
func (s *Server) fanOut(ctx context.Context, topic string, envelopes <-chan events.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-envelopes:
			if !ok {
				return
			}
			s.broadcast(Message{Topic: topic, Envelope: env})
		}
	}
}

func (s *Server) broadcast(msg Message) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("feed write failed, dropping client", zap.Error(err))
			s.drop(conn)
		}
	}
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	_, present := s.clients[conn]
	delete(s.clients, conn)
	s.mu.Unlock()
	if present {
		conn.Close()
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.clients = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
