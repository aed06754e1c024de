// Package scene is the rendering collaborator of the reconciler: it keeps the
// scene graph of aircraft nodes and streams every change to browser and
// terminal clients over WebSocket.
//
// A client receives the static layers and a snapshot of all nodes on connect,
// then incremental create/position/orientation/label/destroy messages.
package scene

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/unklstewy/flightglobe/internal/reconcile"
	"github.com/unklstewy/flightglobe/pkg/geodesy"
)

const (
	// DefaultSendQueue is the number of frames buffered per client
	DefaultSendQueue = 256

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Observer receives client count changes for instrumentation.
type Observer interface {
	ClientsChanged(n int)
	ClientDropped()
}

// Hub implements reconcile.Renderer and reconcile.Labeler by mutating an
// in-memory scene graph and broadcasting each mutation.
type Hub struct {
	mu      sync.RWMutex
	nodes   map[reconcile.Handle]*Node
	layers  Layers
	clients map[*client]struct{}

	queueSize int
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	observer  Observer
}

// NewHub creates an empty scene. queueSize <= 0 selects DefaultSendQueue.
func NewHub(queueSize int, logger *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultSendQueue
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		nodes:     make(map[reconcile.Handle]*Node),
		clients:   make(map[*client]struct{}),
		queueSize: queueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The globe front-end may be served from another origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// SetObserver attaches an instrumentation observer.
func (h *Hub) SetObserver(o Observer) {
	h.observer = o
}

// CreateHandle implements reconcile.Renderer.
func (h *Hub) CreateHandle(templateID string) (reconcile.Handle, error) {
	handle := reconcile.Handle(uuid.NewString())

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes[handle] = &Node{Handle: handle, Template: templateID}
	h.broadcastLocked(Message{Op: OpCreate, Handle: handle, Template: templateID})
	return handle, nil
}

// SetPosition implements reconcile.Renderer.
func (h *Hub) SetPosition(handle reconcile.Handle, position geodesy.Vec3) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.nodes[handle]
	if !ok {
		return fmt.Errorf("set position: unknown handle %s", handle)
	}
	n.Position = position
	h.broadcastLocked(Message{Op: OpPosition, Handle: handle, Position: &position})
	return nil
}

// SetOrientation implements reconcile.Renderer.
func (h *Hub) SetOrientation(handle reconcile.Handle, up, lookTarget geodesy.Vec3) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.nodes[handle]
	if !ok {
		return fmt.Errorf("set orientation: unknown handle %s", handle)
	}
	n.Up = up
	n.Target = lookTarget
	n.Oriented = true
	h.broadcastLocked(Message{Op: OpOrientation, Handle: handle, Up: &up, Target: &lookTarget})
	return nil
}

// SetLabel implements reconcile.Labeler.
func (h *Hub) SetLabel(handle reconcile.Handle, label string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.nodes[handle]
	if !ok {
		return fmt.Errorf("set label: unknown handle %s", handle)
	}
	n.Label = label
	h.broadcastLocked(Message{Op: OpLabel, Handle: handle, Label: label})
	return nil
}

// DestroyHandle implements reconcile.Renderer.
func (h *Hub) DestroyHandle(handle reconcile.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.nodes[handle]; !ok {
		return fmt.Errorf("destroy: unknown handle %s", handle)
	}
	delete(h.nodes, handle)
	h.broadcastLocked(Message{Op: OpDestroy, Handle: handle})
	return nil
}

// SetLayers replaces the static layers and pushes them to every client.
func (h *Hub) SetLayers(layers Layers) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.layers = layers
	h.broadcastLocked(Message{Op: OpLayers, Layers: &layers})
}

// Nodes returns a copy of the scene graph sorted by handle.
func (h *Hub) Nodes() []Node {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.nodesLocked()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a WebSocket scene stream.
// The enc query parameter selects "json" (default) or "msgpack" frames.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	enc, err := ParseEncoding(r.URL.Query().Get("enc"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		enc:    enc,
		remote: r.RemoteAddr,
		send:   make(chan []byte, h.queueSize),
	}
	if err := h.register(c); err != nil {
		h.logger.Warn("scene client setup failed", "remote", r.RemoteAddr, "error", err)
		conn.Close()
		return
	}
	h.logger.Info("scene client connected", "remote", r.RemoteAddr, "encoding", enc)

	go c.writePump()
	go c.readPump()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// register queues the layers and a snapshot for c and starts broadcasting to
// it. Holding the lock keeps the snapshot ordered before later updates.
func (h *Hub) register(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	layers := h.layers
	for _, m := range []Message{
		{Op: OpLayers, Layers: &layers},
		{Op: OpSnapshot, Nodes: h.nodesLocked()},
	} {
		frame, err := Encode(m, c.enc)
		if err != nil {
			return fmt.Errorf("encode %s: %w", m.Op, err)
		}
		select {
		case c.send <- frame:
		default:
			return fmt.Errorf("send queue too small for initial state")
		}
	}

	h.clients[c] = struct{}{}
	if h.observer != nil {
		h.observer.ClientsChanged(len(h.clients))
	}
	return nil
}

// unregister removes c if it is still connected.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.removeLocked(c)
	}
}

func (h *Hub) removeLocked(c *client) {
	delete(h.clients, c)
	close(c.send)
	if h.observer != nil {
		h.observer.ClientsChanged(len(h.clients))
	}
}

// broadcastLocked queues m for every client. A client whose queue is full is
// disconnected rather than allowed to stall the reconciler.
func (h *Hub) broadcastLocked(m Message) {
	if len(h.clients) == 0 {
		return
	}
	frames := &frameSet{msg: m}
	for c := range h.clients {
		frame, err := frames.get(c.enc)
		if err != nil {
			h.logger.Error("encode scene message", "op", m.Op, "encoding", c.enc, "error", err)
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("scene client too slow, disconnecting", "remote", c.remote)
			h.removeLocked(c)
			if h.observer != nil {
				h.observer.ClientDropped()
			}
		}
	}
}

func (h *Hub) nodesLocked() []Node {
	out := make([]Node, 0, len(h.nodes))
	for _, n := range h.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// client is one WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	enc    Encoding
	remote string

	// send is closed by the hub when the client is removed
	send chan []byte
}

func (c *client) messageType() int {
	if c.enc == EncodingMsgpack {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(c.messageType(), frame); err != nil {
				c.hub.unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				return
			}
		}
	}
}

// readPump discards client input and detects disconnects.
func (c *client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
