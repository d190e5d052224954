// Package bus is the real-time broadcast channel: a websocket hub that
// fans events out to every connected client and dispatches client events to
// registered handlers, replying to those that ask for an acknowledgement.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loykin/gamectl/internal/metrics"
	"github.com/oklog/ulid/v2"
	"vawter.tech/stopper"
)

const (
	// AckEvent is the event name of acknowledgement replies.
	AckEvent = "ack"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// ErrUnknownEvent is acked back when no handler is registered for an event.
var ErrUnknownEvent = errors.New("unknown event")

// Message is the envelope exchanged in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   *int64          `json:"ack,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	Ack   *int64 `json:"ack,omitempty"`
}

// HandlerFunc handles one client event. The returned value is sent back as
// the acknowledgement payload when the client requested one.
type HandlerFunc func(ctx context.Context, c *Conn, data json.RawMessage) (any, error)

// Options configures a Hub.
type Options struct {
	// AllowedOrigins lists accepted Origin headers; "*" or empty accepts any.
	AllowedOrigins []string
	// QueueSize bounds each client's pending outbound messages.
	QueueSize int
	Logger    *slog.Logger
}

// Hub tracks connections and routes events.
type Hub struct {
	sctx     *stopper.Context
	log      *slog.Logger
	upgrader websocket.Upgrader
	queue    int

	mu       sync.RWMutex
	conns    map[*Conn]struct{}
	handlers map[string]HandlerFunc
}

// NewHub creates a hub whose connection goroutines live under sctx.
func NewHub(sctx *stopper.Context, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	h := &Hub{
		sctx:     sctx,
		log:      opts.Logger.With("component", "bus"),
		queue:    opts.QueueSize,
		conns:    make(map[*Conn]struct{}),
		handlers: make(map[string]HandlerFunc),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	all := len(allowed) == 0
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			all = true
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		if all {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// On registers fn for event, replacing any earlier handler.
func (h *Hub) On(event string, fn HandlerFunc) {
	h.mu.Lock()
	h.handlers[event] = fn
	h.mu.Unlock()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Publish sends event to every connected client. Clients whose queue is
// full are disconnected rather than allowed to stall the others.
func (h *Hub) Publish(event string, data any) {
	b, err := json.Marshal(outbound{Event: event, Data: data})
	if err != nil {
		h.log.Error("encode broadcast", "event", event, "error", err)
		return
	}
	var slow []*Conn
	h.mu.RLock()
	for c := range h.conns {
		if !c.enqueue(b) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.log.Warn("dropping slow client", "conn", c.ID)
		metrics.IncBusDropped()
		c.Close()
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.sctx.IsStopping() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &Conn{
		ID:   ulid.Make().String(),
		hub:  h,
		ws:   ws,
		send: make(chan []byte, h.queue),
		done: make(chan struct{}),
	}
	h.register(c)
	defer h.unregister(c)

	h.sctx.Go(c.writePump)
	c.readPump(r.Context())
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	metrics.SetBusClients(n)
	h.log.Info("client connected", "conn", c.ID, "remote", c.ws.RemoteAddr().String())
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	n := len(h.conns)
	h.mu.Unlock()
	c.Close()
	metrics.SetBusClients(n)
	h.log.Info("client disconnected", "conn", c.ID)
}

func (h *Hub) dispatch(ctx context.Context, c *Conn, m Message) {
	h.mu.RLock()
	fn, ok := h.handlers[m.Event]
	h.mu.RUnlock()

	var (
		res any
		err error
	)
	if ok {
		res, err = fn(ctx, c, m.Data)
	} else {
		err = ErrUnknownEvent
		h.log.Debug("no handler for event", "conn", c.ID, "event", m.Event)
	}
	if err != nil && ok {
		h.log.Warn("event handler failed", "conn", c.ID, "event", m.Event, "error", err)
	}
	if m.Ack == nil {
		return
	}
	if err != nil {
		res = ErrorReply(err)
	}
	c.Reply(*m.Ack, res)
}

// ErrorReply is the acknowledgement payload for a failed event.
func ErrorReply(err error) map[string]any {
	return map[string]any{"success": false, "status_code": http.StatusBadRequest, "error": err.Error()}
}

// Conn is one websocket client.
type Conn struct {
	ID string

	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// Reply acknowledges the client request numbered id.
func (c *Conn) Reply(id int64, data any) {
	c.write(outbound{Event: AckEvent, Data: data, Ack: &id})
}

func (c *Conn) write(o outbound) {
	b, err := json.Marshal(o)
	if err != nil {
		c.hub.log.Error("encode message", "conn", c.ID, "event", o.Event, "error", err)
		return
	}
	if !c.enqueue(b) {
		c.Close()
	}
}

func (c *Conn) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Close terminates the connection; the pumps exit on their own.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) readPump(ctx context.Context) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var m Message
		if err := c.ws.ReadJSON(&m); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.hub.log.Debug("discarding malformed message", "conn", c.ID, "error", err)
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("read error", "conn", c.ID, "error", err)
			}
			return
		}
		if m.Event == "" {
			continue
		}
		c.hub.dispatch(ctx, c, m)
	}
}

func (c *Conn) writePump(sctx *stopper.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return nil
		case <-sctx.Stopping():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			c.Close()
			return nil
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.Close()
				return nil
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return nil
			}
		}
	}
}
