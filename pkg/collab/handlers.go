package collab

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/neofi/chronicle/pkg/auth"
	"github.com/neofi/chronicle/pkg/events"
	"github.com/neofi/chronicle/pkg/httputil"
	"github.com/neofi/chronicle/pkg/observability"
)

const (
	writeTimeout = 10 * time.Second
	// maxMessageSize bounds a single relayed payload
	maxMessageSize = 64 * 1024
)

// EventAccess loads the event a participant wants to join
type EventAccess interface {
	Get(ctx context.Context, id string) (*events.Event, error)
}

// Handler upgrades collaboration requests and bridges them onto the hub
type Handler struct {
	hub      *Hub
	auth     *auth.Service
	eventsDB EventAccess
	logger   *observability.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the collaboration endpoint handler
func NewHandler(hub *Hub, authService *auth.Service, eventsDB EventAccess, logger *observability.Logger, allowedOrigins []string) *Handler {
	return &Handler{
		hub:      hub,
		auth:     authService,
		eventsDB: eventsDB,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowedOrigins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		return false
	}
}

// RegisterRoutes registers the collaboration WebSocket endpoint
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws/collaborate/{eventId}", h.Collaborate).Methods(http.MethodGet)
}

// Collaborate handles GET /ws/collaborate/{eventId}?token=...
//
// Browsers cannot set headers on WebSocket requests, so the access token
// travels as a query parameter. The join gate is event-level membership:
// the owner and every collaborator may join regardless of what their role
// grid allows over HTTP.
func (h *Handler) Collaborate(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["eventId"]

	token := r.URL.Query().Get("token")
	if token == "" {
		httputil.WriteUnauthorized(w, "token query parameter is required")
		return
	}
	user, err := h.auth.ResolveAccessToken(r.Context(), token)
	if err != nil {
		httputil.WriteUnauthorized(w, "invalid token")
		return
	}

	event, err := h.eventsDB.Get(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, events.ErrNotFound) {
			httputil.WriteNotFound(w, "event not found")
			return
		}
		httputil.WriteServiceUnavailable(w, "storage unavailable")
		return
	}

	if !mayJoin(event, user.Email) {
		httputil.WriteForbidden(w, "not a participant on this event")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	session := h.hub.Join(eventID, user.Email, conn)
	h.logger.WithFields(map[string]interface{}{
		"event": eventID,
		"user":  user.Email,
	}).Info("collaboration session joined")

	go h.readLoop(session, conn)
}

func mayJoin(event *events.Event, email string) bool {
	if event.Owner == email {
		return true
	}
	_, ok := event.CollaboratorEntry(email)
	return ok
}

// readLoop pumps inbound messages into the hub until the peer goes away
func (h *Handler) readLoop(session *Session, conn *websocket.Conn) {
	defer func() {
		h.hub.Leave(session)
		conn.Close()
		h.logger.WithFields(map[string]interface{}{
			"event": session.EventID,
			"user":  session.UserID,
		}).Info("collaboration session left")
	}()

	conn.SetReadLimit(maxMessageSize)
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			h.hub.Broadcast(session, messageType, message)
		}
	}
}
