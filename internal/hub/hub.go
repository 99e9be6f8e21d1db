// Package hub manages the WebSocket sessions that carry timer commands in
// and snapshots out. Each connected display or controller device is one
// session with its own send buffer and read/write pumps. The hub knows
// nothing about timers: inbound frames and disconnects are handed to a
// Receiver, and the engine addresses outbound frames by session identity.
package hub

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Receiver consumes inbound frames and disconnect notifications. Both are
// delivered from the session's read pump goroutine.
type Receiver interface {
	Submit(sessionID string, frame []byte)
	Disconnected(sessionID string)
}

// Config holds WebSocket connection settings.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns the default WebSocket settings.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Cross-origin policy is enforced by the outer CORS layer.
			return true
		},
	}
}

// Hub tracks every connected session by identity.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	upgrader websocket.Upgrader
	config   Config
	receiver Receiver
}

// Session is one connected viewing display or controlling device. The send
// channel is never closed; done marks the session dead so a fan-out racing
// a disconnect can never panic on a closed channel.
type Session struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	hub  *Hub

	connectedAt time.Time
}

// New creates a hub that hands inbound traffic to the given receiver.
func New(config Config, receiver Receiver) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:   config,
		receiver: receiver,
	}
}

// SetReceiver wires the inbound consumer. Must be called before the hub
// accepts its first connection.
func (h *Hub) SetReceiver(r Receiver) {
	h.receiver = r
}

// HandleWS upgrades an HTTP request into a tracked session and starts its
// pumps.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	session := &Session{
		ID:          uuid.New().String(),
		conn:        conn,
		send:        make(chan []byte, 256),
		done:        make(chan struct{}),
		hub:         h,
		connectedAt: time.Now(),
	}

	h.mu.Lock()
	h.sessions[session.ID] = session
	total := len(h.sessions)
	h.mu.Unlock()

	go session.writePump()
	go session.readPump()

	log.Info().
		Str("session_id", session.ID).
		Int("total_sessions", total).
		Msg("session connected")
}

// Send delivers a frame to a session. It returns false when the session no
// longer resolves or its send buffer is full, in which case the session is
// evicted; the caller treats that as a stale channel and self-heals.
func (h *Hub) Send(sessionID string, frame []byte) bool {
	h.mu.RLock()
	session, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case <-session.done:
		return false
	case session.send <- frame:
		return true
	default:
		log.Warn().
			Str("session_id", sessionID).
			Msg("session send buffer full, closing connection")
		h.drop(session)
		session.conn.Close()
		return false
	}
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// drop removes a session from the map and marks it dead exactly once. The
// send channel is left open: frames landing in the abandoned buffer are
// simply never written, and the engine evicts the session on the next
// fan-out.
func (h *Hub) drop(session *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[session.ID]; ok {
		delete(h.sessions, session.ID)
		close(session.done)
		log.Info().
			Str("session_id", session.ID).
			Dur("connected_for", time.Since(session.connectedAt)).
			Msg("session disconnected")
	}
}

// writePump drains the send buffer onto the wire and keeps the connection
// alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(s.hub.config.WriteTimeout))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.hub.config.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("session_id", s.ID).Msg("write failed")
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.hub.config.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump forwards inbound frames to the receiver until the connection
// drops, then reports the disconnect.
func (s *Session) readPump() {
	defer func() {
		s.hub.drop(s)
		s.conn.Close()
		s.hub.receiver.Disconnected(s.ID)
	}()

	s.conn.SetReadLimit(s.hub.config.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.hub.config.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.hub.config.ReadTimeout))
		return nil
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("session_id", s.ID).Msg("unexpected WebSocket close")
			}
			return
		}
		s.hub.receiver.Submit(s.ID, frame)
		s.conn.SetReadDeadline(time.Now().Add(s.hub.config.ReadTimeout))
	}
}
