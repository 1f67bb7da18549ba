/*
Package chat contains the core logic for handling real-time chat rooms, user connections, and message broadcasting.

This file defines the Broadcaster, which tracks live room membership, fans room
events out to member connections and reaps rooms that stay empty.
*/
package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomchat/internal/pkg/logx"
	"roomchat/internal/pkg/metrics"
)

// RoomInactivityTimeout is the default duration after which an empty room is reaped.
const RoomInactivityTimeout = 5 * time.Minute

// HistorySource supplies the timeline replayed to a joining connection.
type HistorySource interface {
	History(ctx context.Context, room string, limit int) ([]Message, error)
}

// Broadcaster coordinates live room membership and per-room fan-out.
type Broadcaster struct {
	// rooms stores the live Room state keyed by name.
	rooms map[string]*Room

	// mu protects the rooms map and closed.
	mu     sync.RWMutex
	closed bool

	history      HistorySource
	historyLimit int
	idleTimeout  time.Duration

	// onReap is called after a room has been removed for inactivity.
	onReap func(room string)

	// structured logger with Broadcaster context.
	logger zerolog.Logger
}

// Room is the live state of one named room.
type Room struct {
	// Name is the opaque room identifier.
	Name string

	// seq orders mutations and their fan-out within the room.
	seq sync.Mutex

	// mu protects members, idleTimer and reaped.
	mu        sync.RWMutex
	members   map[*Conn]struct{}
	idleTimer *time.Timer
	reaped    bool
}

// NewBroadcaster creates a broadcaster replaying up to historyLimit messages
// from history on join and reaping rooms idle for idleTimeout.
func NewBroadcaster(history HistorySource, historyLimit int, idleTimeout time.Duration) *Broadcaster {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if idleTimeout <= 0 {
		idleTimeout = RoomInactivityTimeout
	}

	return &Broadcaster{
		rooms:        make(map[string]*Room),
		history:      history,
		historyLimit: historyLimit,
		idleTimeout:  idleTimeout,
		logger:       logx.Component("Broadcaster"),
	}
}

// OnReap registers fn to run after an idle room is removed. Must be called before use.
func (b *Broadcaster) OnReap(fn func(room string)) {
	b.onReap = fn
}

// acquire returns the live room named name, creating it if needed, with its
// sequence lock held. The caller must unlock r.seq.
func (b *Broadcaster) acquire(name string) (*Room, bool) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, false
		}

		r, ok := b.rooms[name]
		if !ok {
			r = &Room{
				Name:    name,
				members: make(map[*Conn]struct{}),
			}
			b.rooms[name] = r
			b.armIdleTimer(r)

			metrics.ActiveRooms.Set(float64(len(b.rooms)))
			b.logger.Debug().Str("room", name).Msg("Room created.")
		}
		b.mu.Unlock()

		r.seq.Lock()

		r.mu.RLock()
		reaped := r.reaped
		r.mu.RUnlock()

		if !reaped {
			return r, true
		}
		r.seq.Unlock()
	}
}

// armIdleTimer starts the inactivity countdown of an empty room.
func (b *Broadcaster) armIdleTimer(r *Room) {
	if r.idleTimer != nil {
		r.idleTimer.Stop()
	}
	r.idleTimer = time.AfterFunc(b.idleTimeout, func() { b.reap(r) })
}

// reap removes r if it is still empty. Lock order is seq, then b.mu, then r.mu.
func (b *Broadcaster) reap(r *Room) {
	r.seq.Lock()
	defer r.seq.Unlock()

	b.mu.Lock()
	r.mu.Lock()

	if r.reaped || len(r.members) > 0 || b.rooms[r.Name] != r {
		r.mu.Unlock()
		b.mu.Unlock()
		return
	}

	r.reaped = true
	delete(b.rooms, r.Name)
	remaining := len(b.rooms)

	r.mu.Unlock()
	b.mu.Unlock()

	metrics.ActiveRooms.Set(float64(remaining))
	b.logger.Info().Str("room", r.Name).Dur("idle_timeout", b.idleTimeout).Msg("Room inactivity timeout reached. Room reaped.")

	if b.onReap != nil {
		b.onReap(r.Name)
	}
}

// Sequence runs fn holding the ordering lock of room. Every mutation of the
// room timeline and its broadcast run inside Sequence so all members observe
// them in processing order.
func (b *Broadcaster) Sequence(room string, fn func()) {
	r, ok := b.acquire(room)
	if !ok {
		return
	}
	defer r.seq.Unlock()

	fn()
}

// Join adds c to room (idempotent) and queues the room history to c before any
// later room event. It returns the replayed history.
func (b *Broadcaster) Join(ctx context.Context, c *Conn, room string) ([]Message, error) {
	r, ok := b.acquire(room)
	if !ok {
		return nil, ErrValidation
	}
	defer r.seq.Unlock()

	history, err := b.history.History(ctx, room, b.historyLimit)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	_, already := r.members[c]
	r.members[c] = struct{}{}
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
	total := len(r.members)
	r.mu.Unlock()

	c.addRoom(room)

	if !already {
		c.logger.Info().Str("room", room).Int("total_members", total).Msg("Client joined room.")
	}

	c.Send(Event{Type: EventHistory, Payload: history})

	return history, nil
}

// Leave removes c from room. An emptied room starts its inactivity countdown.
func (b *Broadcaster) Leave(c *Conn, room string) {
	c.removeRoom(room)

	b.mu.RLock()
	r, ok := b.rooms[room]
	b.mu.RUnlock()

	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, member := r.members[c]; !member {
		return
	}
	delete(r.members, c)

	c.logger.Info().Str("room", room).Int("total_members", len(r.members)).Msg("Client left room.")

	if len(r.members) == 0 && !r.reaped {
		b.armIdleTimer(r)
	}
}

// LeaveAll removes c from every room it joined.
func (b *Broadcaster) LeaveAll(c *Conn) {
	for _, room := range c.Rooms() {
		b.Leave(c, room)
	}
}

// Broadcast queues ev to every member of room except exclude. It never blocks:
// members whose queue is full are evicted.
func (b *Broadcaster) Broadcast(room string, ev Event, exclude *Conn) {
	b.mu.RLock()
	r, ok := b.rooms[room]
	b.mu.RUnlock()

	if !ok {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error().Err(err).Str("room", room).Str("event", string(ev.Type)).Msg("Error marshaling event for broadcast.")
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for member := range r.members {
		if member == exclude {
			continue
		}
		if member.enqueue(data) {
			delivered++
		}
	}

	metrics.Deliveries.WithLabelValues(string(ev.Type)).Add(float64(delivered))
}

// Members returns the number of live members of room.
func (b *Broadcaster) Members(room string) int {
	b.mu.RLock()
	r, ok := b.rooms[room]
	b.mu.RUnlock()

	if !ok {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.members)
}

// Shutdown stops every idle timer and closes all member connections.
func (b *Broadcaster) Shutdown() {
	b.logger.Info().Msg("Shutting down Broadcaster...")

	b.mu.Lock()
	rooms := b.rooms
	b.rooms = make(map[string]*Room)
	b.closed = true
	b.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		if r.idleTimer != nil {
			r.idleTimer.Stop()
		}
		r.reaped = true
		for member := range r.members {
			member.Close()
		}
		r.mu.Unlock()
	}

	metrics.ActiveRooms.Set(0)
	b.logger.Info().Int("rooms", len(rooms)).Msg("Broadcaster shutdown complete.")
}
