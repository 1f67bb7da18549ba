package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MaxSearchResults caps the number of messages a search returns.
const MaxSearchResults = 200

// Archive is the durable, append-only home of every message. The Store keeps a
// bounded live window per room in front of it and writes through on every mutation.
type Archive interface {
	// SaveMessage inserts m or replaces the stored record with the same id.
	SaveMessage(ctx context.Context, m Message) error

	// GetMessage returns ErrNotFound when id is unknown.
	GetMessage(ctx context.Context, id string) (Message, error)

	// RecentMessages returns up to limit of the newest messages of room in creation order.
	RecentMessages(ctx context.Context, room string, limit int) ([]Message, error)

	// SearchMessages returns up to limit non-deleted messages of room whose body
	// contains query, case-insensitively, in creation order.
	SearchMessages(ctx context.Context, room, query string, limit int) ([]Message, error)

	// MarkRoomRead adds username to the read set of every stored message of room.
	MarkRoomRead(ctx context.Context, room, username string) error
}

// MemoryArchive is an Archive held in process memory. History is lost on restart.
type MemoryArchive struct {
	mu       sync.RWMutex
	messages map[string]Message
	// rooms holds message ids per room ordered by CreatedAt.
	rooms map[string][]string
}

// NewMemoryArchive returns an empty in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		messages: make(map[string]Message),
		rooms:    make(map[string][]string),
	}
}

func (a *MemoryArchive) SaveMessage(_ context.Context, m Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, exists := a.messages[m.ID]
	a.messages[m.ID] = m.Clone()

	if exists {
		return nil
	}

	ids := a.rooms[m.Room]
	i := sort.Search(len(ids), func(i int) bool {
		return a.messages[ids[i]].CreatedAt > m.CreatedAt
	})
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = m.ID
	a.rooms[m.Room] = ids

	return nil
}

func (a *MemoryArchive) GetMessage(_ context.Context, id string) (Message, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	m, ok := a.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return m.Clone(), nil
}

func (a *MemoryArchive) RecentMessages(_ context.Context, room string, limit int) ([]Message, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := a.rooms[room]
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}

	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		m := a.messages[id]
		out = append(out, m.Clone())
	}
	return out, nil
}

func (a *MemoryArchive) SearchMessages(_ context.Context, room, query string, limit int) ([]Message, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	lowerQuery := strings.ToLower(query)

	out := make([]Message, 0)
	for _, id := range a.rooms[room] {
		m := a.messages[id]
		if !m.matches(lowerQuery) {
			continue
		}
		out = append(out, m.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (a *MemoryArchive) MarkRoomRead(_ context.Context, room, username string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, id := range a.rooms[room] {
		m := a.messages[id]
		if m.markRead(username) {
			a.messages[id] = m
		}
	}
	return nil
}
