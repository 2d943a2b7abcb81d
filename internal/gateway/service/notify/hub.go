// Package notify pushes orchestration events to connected browser clients.
//
// Delivery is best-effort and fire-and-forget: a disconnected client just
// misses the event. Correctness lives in the orchestration layer, not in
// the push path; a lost notification only leaves the UI stale.
package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event names are the contract with the UI; it keys behavior off them.
const (
	EventConnection = "connection"
	EventComplete   = "onComplete"
	EventPicture    = "onPicture"
	EventComponents = "onComponents"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type envelope struct {
	Event   string `json:"event"`
	Payload string `json:"payload"`
}

type client struct {
	id      string
	conn    *websocket.Conn
	writeCh chan envelope
}

// Hub owns the connected clients, keyed by the opaque connection id the
// remote callbacks carry back.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// HandleWS upgrades the request, assigns a connection id and announces it
// to the client as the first event. The connection stays registered until
// the read loop observes a close.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		writeCh: make(chan envelope, 32),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	log.Info().Str("client_id", c.id).Msg("client connected")

	done := make(chan struct{})
	go c.writeLoop(done)

	c.enqueue(envelope{Event: EventConnection, Payload: c.id})

	c.readLoop()

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	close(done)

	log.Info().Str("client_id", c.id).Msg("client disconnected")
}

// Send pushes one event to the client, if it is still connected. Unknown
// ids and full write buffers are logged drops.
func (h *Hub) Send(clientID, event, payload string) {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		log.Debug().Str("client_id", clientID).Str("event", event).Msg("push dropped, client not connected")
		return
	}
	c.enqueue(envelope{Event: event, Payload: payload})
}

// SendJSON marshals the payload before pushing it.
func (h *Hub) SendJSON(clientID, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("client_id", clientID).Str("event", event).Msg("push payload not serializable")
		return
	}
	h.Send(clientID, event, string(raw))
}

func (c *client) enqueue(out envelope) {
	select {
	case c.writeCh <- out:
	default:
		log.Warn().Str("client_id", c.id).Str("event", out.Event).Msg("push dropped, write buffer full")
	}
}

func (c *client) writeLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case out := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(out); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readLoop() {
	defer c.conn.Close()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
