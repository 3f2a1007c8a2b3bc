// Package netstream is the network consumer transport: a WebSocket hub that
// broadcasts msgpack-encoded frames and notifications to connected clients.
//
// Slow clients lose messages instead of stalling the sender.
package netstream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/tcam-core/modules/framesource"
	"github.com/e7canasta/tcam-core/modules/notifybus"
)

const (
	sendBuffer   = 8
	writeTimeout = 5 * time.Second
	pongTimeout  = 60 * time.Second
	pingPeriod   = 30 * time.Second
)

// ErrClosed is returned when upgrading on a closed hub.
var ErrClosed = errors.New("hub closed")

// Message types carried in Envelope.Type.
const (
	TypeFrame  = "frame"
	TypeNotice = "notice"
)

// Envelope is one message sent to a client.
type Envelope struct {
	Type string `msgpack:"type"`

	// Frame fields
	Seq       uint64   `msgpack:"seq,omitempty"`
	TsMs      int64    `msgpack:"ts_ms,omitempty"`
	Width     int      `msgpack:"width,omitempty"`
	Height    int      `msgpack:"height,omitempty"`
	Min       uint16   `msgpack:"min,omitempty"`
	Max       uint16   `msgpack:"max,omitempty"`
	Pixels    []uint16 `msgpack:"pixels,omitempty"`
	Telemetry []uint16 `msgpack:"telemetry,omitempty"`
	Playback  bool     `msgpack:"playback,omitempty"`

	// Notice fields
	Kind    string   `msgpack:"kind,omitempty"`
	Session string   `msgpack:"session,omitempty"`
	Dir     string   `msgpack:"dir,omitempty"`
	File    string   `msgpack:"file,omitempty"`
	Names   []string `msgpack:"names,omitempty"`
	Millis  int64    `msgpack:"millis,omitempty"`
	Reason  string   `msgpack:"reason,omitempty"`
}

// Stats contains hub statistics
type Stats struct {
	Clients  int    `json:"clients"`
	Sent     uint64 `json:"sent"`
	Dropped  uint64 `json:"dropped"`
	Frames   uint64 `json:"frames"`
	Notices  uint64 `json:"notices"`
	Rejected uint64 `json:"rejected"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// Hub fans messages out to WebSocket clients.
type Hub struct {
	upgrader websocket.Upgrader
	onChange func(clients int)

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool

	sent     atomic.Uint64
	dropped  atomic.Uint64
	frames   atomic.Uint64
	notices  atomic.Uint64
	rejected atomic.Uint64
}

// NewHub returns a Hub. onChange, if set, is called with the client count
// after every connect and disconnect.
func NewHub(onChange func(clients int)) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		onChange: onChange,
		clients:  make(map[string]*client),
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		h.rejected.Add(1)
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.rejected.Add(1)
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	n, err := h.register(c)
	if err != nil {
		// Close ran while the upgrade was in flight
		h.rejected.Add(1)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()),
			time.Now().Add(writeTimeout))
		conn.Close()
		return
	}
	slog.Info("network client connected", "client", c.id, "remote", r.RemoteAddr, "clients", n)

	go h.writePump(c)
	go h.readPump(c)
}

// register adds c unless the hub has closed.
func (h *Hub) register(c *client) (int, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0, ErrClosed
	}
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	if h.onChange != nil {
		h.onChange(n)
	}
	return n, nil
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()

	c.once.Do(func() { close(c.send) })
	if ok {
		slog.Info("network client disconnected", "client", c.id, "clients", n)
		if h.onChange != nil {
			h.onChange(n)
		}
	}
}

// readPump discards client input and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("network client read error", "client", c.id, "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				slog.Debug("network client write failed", "client", c.id, "error", err)
				return
			}
			h.sent.Add(1)
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcast queues msg on every client without blocking.
func (h *Hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DeliverFrame encodes f and broadcasts it. Frames from playback carry the
// consumer name of the player; live frames use an empty consumer.
func (h *Hub) DeliverFrame(consumer string, f *framesource.Frame) {
	if h.Clients() == 0 {
		return
	}
	msg, err := msgpack.Marshal(FrameEnvelope(f, consumer != ""))
	if err != nil {
		slog.Error("encode frame envelope", "error", err)
		return
	}
	h.frames.Add(1)
	h.broadcast(msg)
}

// Notify encodes n and broadcasts it.
func (h *Hub) Notify(n notifybus.Notification) {
	if h.Clients() == 0 {
		return
	}
	msg, err := msgpack.Marshal(NoticeEnvelope(n))
	if err != nil {
		slog.Error("encode notice envelope", "error", err)
		return
	}
	h.notices.Add(1)
	h.broadcast(msg)
}

// Run forwards notifications addressed to the network consumer until ctx is
// cancelled or notes is closed.
func (h *Hub) Run(ctx context.Context, notes <-chan notifybus.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notes:
			if !ok {
				return
			}
			if n.For(notifybus.ConsumerNetwork) {
				h.Notify(n)
			}
		}
	}
}

// Close disconnects every client and rejects new ones. Idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
	slog.Info("network hub closed", "clients_dropped", len(clients))
}

// Stats returns hub statistics.
func (h *Hub) Stats() Stats {
	return Stats{
		Clients:  h.Clients(),
		Sent:     h.sent.Load(),
		Dropped:  h.dropped.Load(),
		Frames:   h.frames.Load(),
		Notices:  h.notices.Load(),
		Rejected: h.rejected.Load(),
	}
}

// FrameEnvelope builds the envelope for a frame.
func FrameEnvelope(f *framesource.Frame, playback bool) Envelope {
	return Envelope{
		Type:      TypeFrame,
		Seq:       f.Seq,
		TsMs:      f.Timestamp.UnixMilli(),
		Width:     f.Width,
		Height:    f.Height,
		Min:       f.Min,
		Max:       f.Max,
		Pixels:    f.Pixels,
		Telemetry: f.Telemetry,
		Playback:  playback,
	}
}

// NoticeEnvelope builds the envelope for a notification.
func NoticeEnvelope(n notifybus.Notification) Envelope {
	return Envelope{
		Type:    TypeNotice,
		Seq:     n.Seq,
		TsMs:    n.Timestamp.UnixMilli(),
		Kind:    string(n.Kind),
		Session: n.Session,
		Dir:     n.Dir,
		File:    n.File,
		Names:   n.Names,
		Millis:  n.Millis,
		Reason:  n.Reason,
	}
}
