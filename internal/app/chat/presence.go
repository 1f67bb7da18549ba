/*
Package chat contains the core logic for handling real-time chat rooms, user connections, and message broadcasting.

This file defines the Presence registry: which users are online through which
connections, and the process-wide presence notifications derived from it.
*/
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"roomchat/internal/app/user"
	"roomchat/internal/pkg/logx"
	"roomchat/internal/pkg/metrics"
)

// TokenResolver maps a bearer token to the identity of a live device session.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (user.Identity, error)
}

// Presence tracks every live connection and the authenticated ones per user.
// Mutations and the notifications they cause happen under one lock, so every
// connection observes online_update snapshots in mutation order.
type Presence struct {
	resolver TokenResolver

	mu sync.Mutex
	// conns holds every attached connection, anonymous or not; presence events go to all of them.
	conns map[*Conn]struct{}
	// sessions maps a username to its authenticated connections.
	sessions map[string]map[*Conn]struct{}

	logger zerolog.Logger
}

// NewPresence creates an empty registry resolving tokens through resolver.
func NewPresence(resolver TokenResolver) *Presence {
	return &Presence{
		resolver: resolver,
		conns:    make(map[*Conn]struct{}),
		sessions: make(map[string]map[*Conn]struct{}),
		logger:   logx.Component("Presence"),
	}
}

// Attach starts delivering process-wide presence events to c.
func (p *Presence) Attach(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.conns[c] = struct{}{}
	metrics.Connections.Set(float64(len(p.conns)))
}

// Authenticate binds c to the identity behind token. The first connection of a
// user announces presence{online:true}; every success is followed by a fresh
// online_update. Unknown tokens produce no event.
func (p *Presence) Authenticate(ctx context.Context, c *Conn, token string) (user.Identity, error) {
	if token == "" {
		return user.Identity{}, fmt.Errorf("%w: empty token", ErrAuthFailure)
	}

	identity, err := p.resolver.Resolve(ctx, token)
	if err != nil {
		return user.Identity{}, fmt.Errorf("%w: %w", ErrAuthFailure, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, attached := p.conns[c]; !attached || c.Closed() {
		return user.Identity{}, fmt.Errorf("%w: connection already closed", ErrAuthFailure)
	}

	if previous, ok := c.Identity(); ok && previous.Username != identity.Username {
		p.detachLocked(c, previous.Username)
	}
	c.setIdentity(&identity)

	set, ok := p.sessions[identity.Username]
	if !ok {
		set = make(map[*Conn]struct{})
		p.sessions[identity.Username] = set
	}

	_, known := set[c]
	set[c] = struct{}{}

	if len(set) == 1 && !known {
		p.notifyLocked(Event{Type: EventPresence, Payload: PresenceNotice{User: identity.Username, Online: true}})
		p.logger.Info().Str("user", identity.Username).Str("device", identity.Device).Msg("User came online.")
	}
	p.notifyLocked(Event{Type: EventOnlineUpdate, Payload: p.onlineLocked()})

	metrics.OnlineUsers.Set(float64(len(p.sessions)))
	return identity, nil
}

// Drop forgets c. For an authenticated connection it announces
// presence{online:false} when c was the user's last one and then a fresh online_update.
func (p *Presence) Drop(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.conns, c)
	metrics.Connections.Set(float64(len(p.conns)))

	identity, ok := c.Identity()
	if !ok {
		return
	}

	p.detachLocked(c, identity.Username)
	p.notifyLocked(Event{Type: EventOnlineUpdate, Payload: p.onlineLocked()})

	metrics.OnlineUsers.Set(float64(len(p.sessions)))
}

// detachLocked removes c from username's sessions, announcing the offline transition.
func (p *Presence) detachLocked(c *Conn, username string) {
	set, ok := p.sessions[username]
	if !ok {
		return
	}
	if _, member := set[c]; !member {
		return
	}

	delete(set, c)
	if len(set) > 0 {
		return
	}

	delete(p.sessions, username)
	p.notifyLocked(Event{Type: EventPresence, Payload: PresenceNotice{User: username, Online: false}})
	p.logger.Info().Str("user", username).Msg("User went offline.")
}

// notifyLocked queues ev to every attached connection.
func (p *Presence) notifyLocked(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error().Err(err).Str("event", string(ev.Type)).Msg("Error marshaling presence event.")
		return
	}

	delivered := 0
	for c := range p.conns {
		if c.enqueue(data) {
			delivered++
		}
	}
	metrics.Deliveries.WithLabelValues(string(ev.Type)).Add(float64(delivered))
}

func (p *Presence) onlineLocked() []string {
	out := make([]string, 0, len(p.sessions))
	for username := range p.sessions {
		out = append(out, username)
	}
	slices.Sort(out)
	return out
}

// Online returns the sorted usernames with at least one authenticated connection.
func (p *Presence) Online() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.onlineLocked()
}

// IsOnline reports whether username has an authenticated connection.
func (p *Presence) IsOnline(username string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.sessions[username]
	return ok
}

// CloseAll closes every attached connection.
func (p *Presence) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for c := range p.conns {
		c.Close()
	}
}
