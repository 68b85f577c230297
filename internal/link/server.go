// Package link carries messages between the agent and its peers over
// websocket. Outbound traffic passes the send filter, inbound traffic the
// receive filter; rejected messages are dropped and only counted.
package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"QuadExplore/internal/filter"
	"QuadExplore/internal/metrics"
	"QuadExplore/internal/model"
)

// Path is the websocket endpoint.
const Path = "/link"

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// ErrNoHandler is returned by Deliver for an admitted kind nobody handles.
var ErrNoHandler = errors.New("no handler for message kind")

// Handler consumes an admitted inbound message.
type Handler func(m model.Message)

// Server is the agent's end of the link.
type Server struct {
	addr    string
	agent   lorawan.EUI64
	session uuid.UUID
	domain  string
	send    *filter.Aggregate
	recv    *filter.Aggregate
	sendBW  *filter.Meter
	recvBW  *filter.Meter
	log     *slog.Logger
	now     func() time.Time
	seq     atomic.Uint64

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	closed  bool

	hmu      sync.RWMutex
	handlers map[string]Handler

	server *http.Server
}

// NewServer builds a link server for the configured agent and domain.
func NewServer(cfg model.LinkConfig, fc model.FiltersConfig, reg *metrics.Registry, logger *slog.Logger) (*Server, error) {
	agent, err := model.ParseAgentID(cfg.AgentID)
	if err != nil {
		return nil, fmt.Errorf("%w: link.agent_id: %v", model.ErrInvalidConfig, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     cfg.Addr,
		agent:    agent,
		session:  uuid.New(),
		domain:   cfg.Domain,
		send:     filter.NewSendFilter(fc.Send, reg),
		recv:     filter.NewReceiveFilter(cfg.Domain, fc.Receive, reg),
		sendBW:   filter.NewMeter(time.Second),
		recvBW:   filter.NewMeter(time.Second),
		log:      logger.With("component", "link"),
		now:      time.Now,
		clients:  map[*websocket.Conn]bool{},
		handlers: map[string]Handler{},
	}, nil
}

// Agent returns the agent's link identity.
func (s *Server) Agent() lorawan.EUI64 { return s.agent }

// Handle registers h for inbound messages of kind.
func (s *Server) Handle(kind string, h Handler) {
	s.hmu.Lock()
	s.handlers[kind] = h
	s.hmu.Unlock()
}

// Handler returns the HTTP handler serving the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handleWS)
	return mux
}

// ListenAndServe blocks until Shutdown. After Shutdown it returns nil
// without listening.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.server = &http.Server{Addr: s.addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	srv := s.server
	s.mu.Unlock()
	s.log.Info("link listening", "addr", s.addr, "agent", s.agent.String(), "domain", s.domain)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("link server: %w", err)
	}
	return nil
}

// Shutdown disconnects every peer and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for c := range s.clients {
		_ = c.Close()
		delete(s.clients, c)
	}
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Clients returns the number of connected peers.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Publish wraps payload in a message from this agent and sends it.
func (s *Server) Publish(kind string, prio model.Priority, binary bool, payload []byte) error {
	m := model.NewMessage(s.agent, s.seq.Add(1), kind, prio, payload)
	m.Domain = s.domain
	m.Session = s.session
	m.Binary = binary
	m.Created = s.now()
	return s.Send(m)
}

// Send runs the send filter and broadcasts admitted messages. A rejection
// is not an error.
func (s *Server) Send(m model.Message) error {
	now := s.now()
	lc := filter.LinkContext{
		Domain:           s.domain,
		SendBandwidth:    s.sendBW.Rate(now),
		ReceiveBandwidth: s.recvBW.Rate(now),
		Now:              now,
	}
	if ok, by := s.send.Admit(&m, lc); !ok {
		s.log.Debug("message dropped", "direction", "send", "kind", m.Kind, "rule", by)
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", m.Kind, err)
	}
	s.sendBW.Add(now, m.Size())
	s.broadcast(b)
	return nil
}

// Deliver runs one inbound frame through the receive filter and dispatches
// it. A filtered frame yields an error wrapping model.ErrLinkRejection.
func (s *Server) Deliver(frame []byte) error {
	now := s.now()
	s.recvBW.Add(now, len(frame))
	var m model.Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return fmt.Errorf("decode link frame: %w", err)
	}
	lc := filter.LinkContext{
		Domain:           s.domain,
		SendBandwidth:    s.sendBW.Rate(now),
		ReceiveBandwidth: s.recvBW.Rate(now),
		Now:              now,
	}
	if ok, by := s.recv.Admit(&m, lc); !ok {
		return fmt.Errorf("%w: %s %s from %s", model.ErrLinkRejection, m.Kind, by, m.Source)
	}
	s.hmu.RLock()
	h := s.handlers[m.Kind]
	s.hmu.RUnlock()
	if h == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, m.Kind)
	}
	h(m)
	return nil
}

// FilterStats exposes per-rule counters of both directions.
func (s *Server) FilterStats() map[string]map[string]filter.Counts {
	return map[string]map[string]filter.Counts{
		s.send.Name(): s.send.Stats(),
		s.recv.Name(): s.recv.Stats(),
	}
}

// handleWS upgrades HTTP to websocket and registers the peer for broadcasts.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()
	s.log.Info("peer connected", "remote", r.RemoteAddr)

	go func() {
		defer s.drop(conn)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := s.Deliver(data); err != nil {
				s.log.Debug("inbound frame dropped", "error", err)
			}
		}
	}()
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	_, ok := s.clients[conn]
	delete(s.clients, conn)
	s.mu.Unlock()
	if ok {
		if err := conn.Close(); err != nil {
			s.log.Warn("failed to close websocket", "error", err)
		}
	}
}

// broadcast sends a frame to all connected peers, dropping dead ones.
func (s *Server) broadcast(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		_ = c.SetWriteDeadline(time.Now().Add(time.Second))
		if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
			_ = c.Close()
			delete(s.clients, c)
		}
	}
}
