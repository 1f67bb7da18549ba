/*
Package chat contains the core logic for handling real-time chat rooms, user connections, and message broadcasting.

This file defines Conn, one live WebSocket session. It owns the bounded outbound
queue and the read/write pumps, and records the identity and room memberships
the rest of the engine attaches to it.
*/
package chat

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomchat/internal/app/user"
	"roomchat/internal/pkg/logx"
	"roomchat/internal/pkg/metrics"
	"roomchat/internal/pkg/randx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a message sent by the client.
	maxMessageSize = 16384

	// DefaultQueueSize is the outbound queue capacity of a connection.
	DefaultQueueSize = 256

	// WsCloseCodeSlowConsumer is sent when a connection is evicted because its queue overflowed.
	WsCloseCodeSlowConsumer = 4008
)

// Conn is one live WebSocket session. It is anonymous until it authenticates
// and may be a member of any number of rooms.
type Conn struct {
	// ID identifies the session in logs.
	ID string

	// underlying WebSocket connection object; nil for connections driven in-process.
	ws *websocket.Conn

	// a buffered channel used to queue messages waiting to be sent to the client.
	send chan []byte

	// closed once the connection is shutting down for any reason.
	done      chan struct{}
	closeOnce sync.Once
	evicted   bool

	// mu protects identity and rooms.
	mu       sync.Mutex
	identity *user.Identity
	rooms    map[string]struct{}

	// structured logger with connection context.
	logger zerolog.Logger
}

// NewConn wraps ws with an outbound queue of queueSize events.
func NewConn(ws *websocket.Conn, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	id := randx.ConnectionID()

	return &Conn{
		ID:     id,
		ws:     ws,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
		logger: logx.Logger().With().Str("conn_id", id).Logger(),
	}
}

// Identity returns the authenticated identity, if any.
func (c *Conn) Identity() (user.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.identity == nil {
		return user.Identity{}, false
	}
	return *c.identity, true
}

func (c *Conn) setIdentity(id *user.Identity) {
	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()
}

// Rooms returns a snapshot of the rooms the connection is a member of.
func (c *Conn) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	return out
}

func (c *Conn) addRoom(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) removeRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

// Done is closed when the connection starts shutting down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the socket and unblocks the read pump.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Send marshals ev and queues it. It reports false when the event could not be queued.
func (c *Conn) Send(ev Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error().Err(err).Str("event", string(ev.Type)).Msg("Error marshaling event for client")
		return false
	}

	if !c.enqueue(data) {
		return false
	}

	metrics.Deliveries.WithLabelValues(string(ev.Type)).Inc()
	return true
}

// enqueue never blocks. A full queue means the client cannot keep up; the
// connection is closed rather than letting it hold back its rooms.
func (c *Conn) enqueue(data []byte) bool {
	if c.Closed() {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
	}

	c.closeOnce.Do(func() {
		c.evicted = true
		close(c.done)

		metrics.SlowConsumerEvictions.Inc()
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send queue full, evicting slow consumer.")
	})
	return false
}

// ReadPump reads frames until the socket fails or the connection is closed,
// passing every text frame to dispatch in arrival order.
func (c *Conn) ReadPump(dispatch func(raw []byte)) {
	c.ws.SetReadLimit(maxMessageSize)

	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			return
		}

		if c.Closed() {
			return
		}

		dispatch(raw)
	}
}

// WritePump writes queued events and heartbeats until the connection is closed
// or a write fails. It owns closing the socket.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Close()

		// ensure the connection is closed on exit
		if err := c.ws.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message := <-c.send:
			if !c.write(websocket.TextMessage, message) {
				return
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}

		case <-c.done:
			code, reason := websocket.CloseNormalClosure, ""
			if c.evicted {
				code, reason = WsCloseCodeSlowConsumer, "outbound queue overflow"
			}
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
			return
		}
	}
}

// write sends one frame. Returns false if the WritePump loop should terminate.
func (c *Conn) write(messageType int, data []byte) bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.ws.WriteMessage(messageType, data); err != nil {
		c.logger.Debug().Err(err).Int("frame_type", messageType).Msg("Error writing frame")
		return false
	}

	return true
}
