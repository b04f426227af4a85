package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jetsoncontrols/ha-nax/internal/state"
)

// Event stream message types.
const (
	WSTypeEvent = "event"
	WSTypeError = "error"

	// EventState carries one AttributeValue.
	EventState = "state"

	wsMaxMessageSize = 4 << 10
)

// WSMessage is one frame on the event stream.
type WSMessage struct {
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origins are checked by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub tracks open event streams so shutdown can close them.
type Hub struct {
	log     *zap.Logger
	mu      sync.Mutex
	clients map[*eventClient]struct{}
}

func newHub(log *zap.Logger) *Hub {
	return &Hub{log: log, clients: make(map[*eventClient]struct{})}
}

func (h *Hub) register(c *eventClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("event stream opened", zap.Int("clients", n))
}

func (h *Hub) unregister(c *eventClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("event stream closed", zap.Int("clients", n))
}

// ClientCount returns the number of open streams.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*eventClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.cancel()
	}
}

// eventClient is one event stream. The subscription belongs to it and
// is closed when the stream ends.
type eventClient struct {
	hub    *Hub
	conn   *websocket.Conn
	sub    *state.Subscription
	ctx    context.Context
	cancel context.CancelFunc
}

// handleEvents streams state changes as JSON messages. Query parameters:
// prefix (a device path or shorthand) narrows the stream; replay=true
// first sends the current value of every matching attribute.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	dev := deviceFrom(r)
	var opts []state.SubscribeOption
	if replay, _ := strconv.ParseBool(r.URL.Query().Get("replay")); replay {
		opts = append(opts, state.WithReplay())
	}
	sub, err := dev.OnChange(r.URL.Query().Get("prefix"), opts...)
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &eventClient{hub: s.hub, conn: conn, sub: sub, ctx: ctx, cancel: cancel}
	s.hub.register(c)

	go c.readPump(s.cfg.PingInterval)
	go c.writePump(s.cfg.PingInterval)
}

// readPump only watches for the peer going away; inbound messages are
// ignored.
func (c *eventClient) readPump(ping time.Duration) {
	defer c.cancel()
	pongWait := ping * 2

	c.conn.SetReadLimit(wsMaxMessageSize)
	//nolint:errcheck // best-effort deadline
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("event stream read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump is the connection's only writer.
func (c *eventClient) writePump(ping time.Duration) {
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.sub.Close()
		c.conn.Close()
		c.hub.unregister(c)
	}()

	changes := make(chan state.AttributeValue)
	go func() {
		defer close(changes)
		for av := range c.sub.All(c.ctx) {
			select {
			case changes <- av:
			case <-c.ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case av, ok := <-changes:
			if !ok {
				//nolint:errcheck // best-effort close frame
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
					time.Now().Add(time.Second))
				return
			}
			data, err := json.Marshal(WSMessage{
				Type:      WSTypeEvent,
				EventType: EventState,
				Timestamp: av.UpdatedAt.UTC().Format(time.RFC3339Nano),
				Payload:   av,
			})
			if err != nil {
				continue
			}
			//nolint:errcheck // write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(ping))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(ping))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
