package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pesio-ai/be-doc-approvals/internal/service"
	"github.com/pesio-ai/be-doc-approvals/pkg/auth"
	"github.com/pesio-ai/be-doc-approvals/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxReadSize    = 512
	clientBuffer   = 64
	broadcastQueue = 256
)

// EventHub streams assignment events to websocket clients. Clients may narrow
// the stream with document_type and document_id query parameters, or with
// mine=true to only receive events of assignments they approve.
type EventHub struct {
	clients    map[*wsClient]bool
	broadcast  chan service.Event
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	mutex      sync.Mutex
	upgrader   websocket.Upgrader
	log        *logger.Logger
}

type wsClient struct {
	userID       string
	documentType string
	documentID   string
	onlyMine     bool
	conn         *websocket.Conn
	send         chan []byte
}

// NewEventHub creates a hub. An empty origins list, or "*", accepts any
// origin.
func NewEventHub(log *logger.Logger, origins []string) *EventHub {
	allowAll := len(origins) == 0
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return &EventHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan service.Event, broadcastQueue),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if allowAll || origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
		log: log.WithComponent("event_hub"),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *EventHub) Run(ctx context.Context) {
	h.log.Info().Msg("WebSocket hub started")
	defer func() {
		h.mutex.Lock()
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
		h.mutex.Unlock()
		close(h.done)
		h.log.Info().Msg("WebSocket hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = true
			h.mutex.Unlock()

		case c := <-h.unregister:
			h.mutex.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.mutex.Unlock()

		case e := <-h.broadcast:
			data, err := json.Marshal(map[string]interface{}{"type": "event", "event": e})
			if err != nil {
				h.log.Error().Err(err).Str("event", string(e.Kind)).Msg("Failed to marshal event for websocket")
				continue
			}
			h.mutex.Lock()
			for c := range h.clients {
				if !c.wants(e) {
					continue
				}
				select {
				case c.send <- data:
				default:
					// slow consumer
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// HandleEvent queues e for broadcast. It never blocks the caller; when the
// queue is full the event is dropped.
func (h *EventHub) HandleEvent(e service.Event) {
	select {
	case h.broadcast <- e:
	default:
		h.log.Warn().
			Str("event", string(e.Kind)).
			Str("assignment_id", e.AssignmentID).
			Msg("WebSocket broadcast queue full, dropping event")
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// ServeWS upgrades an authenticated request to a websocket event stream.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	q := r.URL.Query()
	c := &wsClient{
		userID:       uc.UserID,
		documentType: q.Get("document_type"),
		documentID:   q.Get("document_id"),
		onlyMine:     q.Get("mine") == "true",
		conn:         conn,
		send:         make(chan []byte, clientBuffer),
	}

	welcome, _ := json.Marshal(map[string]interface{}{
		"type":      "welcome",
		"message":   "Connected to approval event stream",
		"user_id":   uc.UserID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	c.send <- welcome

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go h.readPump(c)
}

func (c *wsClient) wants(e service.Event) bool {
	if c.documentType != "" && c.documentType != e.DocumentType {
		return false
	}
	if c.documentID != "" && c.documentID != e.DocumentID {
		return false
	}
	if c.onlyMine {
		for _, id := range e.ApproverIDs {
			if id == c.userID {
				return true
			}
		}
		return false
	}
	return true
}

// readPump drains control frames and detects disconnects. It is the only
// goroutine that unregisters the client.
func (h *EventHub) readPump(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxReadSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the connection's only writer.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
