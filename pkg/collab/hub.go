package collab

import (
	"sync"
	"time"

	"github.com/neofi/chronicle/pkg/observability"
)

// Conn is the transport a session writes to. *websocket.Conn satisfies it.
type Conn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session is one participant on an event channel
type Session struct {
	EventID string
	UserID  string
	conn    Conn

	mu sync.Mutex
}

func (s *Session) write(messageType int, data []byte) error {
	// gorilla/websocket allows at most one concurrent writer
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(messageType, data)
}

// Hub tracks the sessions on each event channel and relays messages
// between them.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Session]struct{}
	metrics  *observability.Metrics
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(metrics *observability.Metrics) *Hub {
	return &Hub{
		channels: make(map[string]map[*Session]struct{}),
		metrics:  metrics,
	}
}

// Join registers a connection on an event channel
func (h *Hub) Join(eventID, userID string, conn Conn) *Session {
	session := &Session{EventID: eventID, UserID: userID, conn: conn}

	h.mu.Lock()
	channel, ok := h.channels[eventID]
	if !ok {
		channel = make(map[*Session]struct{})
		h.channels[eventID] = channel
	}
	channel[session] = struct{}{}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.CollabSessionsActive.Inc()
	}
	return session
}

// Leave removes a session from its channel, releasing the channel when it
// empties. Safe to call more than once.
func (h *Hub) Leave(session *Session) {
	h.mu.Lock()
	channel, ok := h.channels[session.EventID]
	removed := false
	if ok {
		if _, member := channel[session]; member {
			delete(channel, session)
			removed = true
		}
		if len(channel) == 0 {
			delete(h.channels, session.EventID)
		}
	}
	h.mu.Unlock()

	if removed && h.metrics != nil {
		h.metrics.CollabSessionsActive.Dec()
	}
}

// Broadcast relays a message from the sender to every other session on
// the same channel. Write failures are ignored; the failing peer's own
// read loop will tear it down.
func (h *Hub) Broadcast(sender *Session, messageType int, data []byte) {
	h.mu.RLock()
	peers := make([]*Session, 0, len(h.channels[sender.EventID]))
	for session := range h.channels[sender.EventID] {
		if session != sender {
			peers = append(peers, session)
		}
	}
	h.mu.RUnlock()

	for _, peer := range peers {
		_ = peer.write(messageType, data)
	}

	if h.metrics != nil {
		h.metrics.CollabMessagesTotal.Inc()
	}
}

// Participants returns how many sessions are on an event channel
func (h *Hub) Participants(eventID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[eventID])
}
