package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomchat/internal/pkg/logx"
	"roomchat/internal/pkg/metrics"
	"roomchat/internal/pkg/randx"
)

// DefaultHistoryLimit is the live window size and the history length sent on join.
const DefaultHistoryLimit = 500

// Guard inspects the current state of a message before a mutation is applied.
// A non-nil error aborts the mutation.
type Guard func(m *Message) error

// Store serves room timelines from a bounded live window per room and writes
// every mutation through to the archive before it becomes visible.
type Store struct {
	archive Archive
	limit   int

	// mu protects logs, index and lastCreated. It may be taken while a room log
	// is held, never the other way round.
	mu          sync.Mutex
	logs        map[string]*roomLog
	index       map[string]string
	lastCreated int64

	logger zerolog.Logger
}

// roomLog is the live window of one room. Every read-modify-write of a message
// belonging to the room, windowed or not, happens under mu.
type roomLog struct {
	mu       sync.Mutex
	loaded   bool
	detached bool
	msgs     []*Message
}

// NewStore creates a store over archive keeping at most limit messages per room in memory.
func NewStore(archive Archive, limit int) *Store {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	return &Store{
		archive: archive,
		limit:   limit,
		logs:    make(map[string]*roomLog),
		index:   make(map[string]string),
		logger:  logx.Component("Store"),
	}
}

// withRoom runs fn holding the log lock of room, with the window loaded.
func (s *Store) withRoom(ctx context.Context, room string, fn func(l *roomLog) error) error {
	for {
		s.mu.Lock()
		l, ok := s.logs[room]
		if !ok {
			l = &roomLog{}
			s.logs[room] = l
		}
		s.mu.Unlock()

		l.mu.Lock()
		if l.detached {
			l.mu.Unlock()
			continue
		}

		if !l.loaded {
			recent, err := s.archive.RecentMessages(ctx, room, s.limit)
			if err != nil {
				l.mu.Unlock()
				return fmt.Errorf("failed to load room %q from archive: %w", room, err)
			}

			l.msgs = make([]*Message, 0, len(recent))
			s.mu.Lock()
			for i := range recent {
				l.msgs = append(l.msgs, &recent[i])
				s.index[recent[i].ID] = room
			}
			s.mu.Unlock()
			l.loaded = true
		}

		err := fn(l)
		l.mu.Unlock()
		return err
	}
}

func (l *roomLog) find(id string) *Message {
	for i := len(l.msgs) - 1; i >= 0; i-- {
		if l.msgs[i].ID == id {
			return l.msgs[i]
		}
	}
	return nil
}

// save writes m to the archive and records the latency.
func (s *Store) save(ctx context.Context, m Message) error {
	start := time.Now()
	err := s.archive.SaveMessage(ctx, m)
	metrics.ObserveArchiveWrite(start, err)

	if err != nil {
		return fmt.Errorf("failed to archive message %s: %w", m.ID, err)
	}
	return nil
}

// roomOf resolves the room of a message, consulting the archive for messages
// outside every live window.
func (s *Store) roomOf(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	room, ok := s.index[id]
	s.mu.Unlock()

	if ok {
		return room, nil
	}

	m, err := s.archive.GetMessage(ctx, id)
	if err != nil {
		return "", err
	}
	return m.Room, nil
}

// nextCreated returns a strictly increasing creation stamp.
func (s *Store) nextCreated(now time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := now.UnixNano()
	if created <= s.lastCreated {
		created = s.lastCreated + 1
	}
	s.lastCreated = created
	return created
}

// Create appends a new message to room.
func (s *Store) Create(ctx context.Context, room, author, body string, contentType ContentType, attachment string) (Message, error) {
	var created Message

	err := s.withRoom(ctx, room, func(l *roomLog) error {
		now := time.Now()

		m := &Message{
			ID:        randx.MessageID(),
			Room:      room,
			Name:      author,
			Body:      body,
			Type:      contentType,
			File:      attachment,
			Timestamp: now.UnixMilli(),
			Reactions: map[string][]string{},
			ReadBy:    []string{},
			CreatedAt: s.nextCreated(now),
		}

		if err := s.save(ctx, *m); err != nil {
			return err
		}

		l.msgs = append(l.msgs, m)

		s.mu.Lock()
		s.index[m.ID] = room
		if over := len(l.msgs) - s.limit; over > 0 {
			for _, evicted := range l.msgs[:over] {
				delete(s.index, evicted.ID)
			}
			l.msgs = append(l.msgs[:0:0], l.msgs[over:]...)
		}
		s.mu.Unlock()

		created = m.Clone()
		return nil
	})

	return created, err
}

// Get returns the current state of a message.
func (s *Store) Get(ctx context.Context, id string) (Message, error) {
	room, err := s.roomOf(ctx, id)
	if err != nil {
		return Message{}, err
	}

	var out Message
	err = s.withRoom(ctx, room, func(l *roomLog) error {
		if m := l.find(id); m != nil {
			out = m.Clone()
			return nil
		}

		m, err := s.archive.GetMessage(ctx, id)
		if err != nil {
			return err
		}
		out = m
		return nil
	})

	return out, err
}

// update applies mutate to message id under its room lock. mutate reports
// whether it changed anything; unchanged messages are not rewritten.
func (s *Store) update(ctx context.Context, id string, guards []Guard, mutate func(m *Message) bool) (Message, bool, error) {
	room, err := s.roomOf(ctx, id)
	if err != nil {
		return Message{}, false, err
	}

	var (
		out     Message
		changed bool
	)

	err = s.withRoom(ctx, room, func(l *roomLog) error {
		live := l.find(id)

		var next Message
		if live != nil {
			next = live.Clone()
		} else {
			archived, err := s.archive.GetMessage(ctx, id)
			if err != nil {
				return err
			}
			next = archived
		}

		for _, guard := range guards {
			if err := guard(&next); err != nil {
				return err
			}
		}

		if changed = mutate(&next); changed {
			if err := s.save(ctx, next); err != nil {
				return err
			}
			if live != nil {
				*live = next.Clone()
			}
		}

		out = next
		return nil
	})

	return out, changed, err
}

// Edit replaces the body, marks the message edited and refreshes its timestamp.
func (s *Store) Edit(ctx context.Context, id, body string, guards ...Guard) (Message, error) {
	m, _, err := s.update(ctx, id, guards, func(m *Message) bool {
		m.Body = body
		m.Edited = true
		m.Timestamp = time.Now().UnixMilli()
		return true
	})
	return m, err
}

// SoftDelete tombstones the body. Reactions and read receipts are kept.
func (s *Store) SoftDelete(ctx context.Context, id string, guards ...Guard) (Message, error) {
	m, _, err := s.update(ctx, id, guards, func(m *Message) bool {
		if m.Deleted && m.Body == Tombstone {
			return false
		}
		m.Deleted = true
		m.Body = Tombstone
		return true
	})
	return m, err
}

// ToggleReaction adds username to the emoji set or removes it if present.
func (s *Store) ToggleReaction(ctx context.Context, id, emoji, username string, guards ...Guard) (Message, error) {
	m, _, err := s.update(ctx, id, guards, func(m *Message) bool {
		m.toggleReaction(emoji, username)
		return true
	})
	return m, err
}

// MarkRead adds username to the read set and reports whether it was new.
func (s *Store) MarkRead(ctx context.Context, id, username string) (Message, bool, error) {
	return s.update(ctx, id, nil, func(m *Message) bool {
		return m.markRead(username)
	})
}

// SetPinned sets the pinned flag to pinned.
func (s *Store) SetPinned(ctx context.Context, id string, pinned bool, guards ...Guard) (Message, error) {
	m, _, err := s.update(ctx, id, guards, func(m *Message) bool {
		if m.Pinned == pinned {
			return false
		}
		m.Pinned = pinned
		return true
	})
	return m, err
}

// MarkAllRead marks every message of room as read by username and returns the
// live window messages that changed. Older messages are updated in the archive
// only; no client holds them from history.
func (s *Store) MarkAllRead(ctx context.Context, room, username string) ([]Message, error) {
	var changed []Message

	err := s.withRoom(ctx, room, func(l *roomLog) error {
		for _, live := range l.msgs {
			next := live.Clone()
			if !next.markRead(username) {
				continue
			}
			if err := s.save(ctx, next); err != nil {
				return err
			}
			*live = next.Clone()
			changed = append(changed, next)
		}

		if err := s.archive.MarkRoomRead(ctx, room, username); err != nil {
			return fmt.Errorf("failed to mark archived messages of %q read: %w", room, err)
		}
		return nil
	})

	return changed, err
}

// History returns up to limit of the newest messages of room in creation order.
func (s *Store) History(ctx context.Context, room string, limit int) ([]Message, error) {
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}

	var out []Message
	err := s.withRoom(ctx, room, func(l *roomLog) error {
		window := l.msgs
		if len(window) > limit {
			window = window[len(window)-limit:]
		}

		out = make([]Message, 0, len(window))
		for _, m := range window {
			out = append(out, m.Clone())
		}
		return nil
	})

	return out, err
}

// Search returns up to MaxSearchResults messages of room whose body contains
// query, ignoring case. An empty query matches nothing.
func (s *Store) Search(ctx context.Context, room, query string) ([]Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Message{}, nil
	}

	results, err := s.archive.SearchMessages(ctx, room, query, MaxSearchResults)
	if err != nil {
		return nil, fmt.Errorf("failed to search room %q: %w", room, err)
	}
	return results, nil
}

// Unload drops the live window of room. The next access reloads it from the archive.
func (s *Store) Unload(room string) {
	s.mu.Lock()
	l, ok := s.logs[room]
	s.mu.Unlock()

	if !ok {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s.mu.Lock()
	if s.logs[room] == l {
		delete(s.logs, room)
	}
	for _, m := range l.msgs {
		delete(s.index, m.ID)
	}
	s.mu.Unlock()

	s.logger.Debug().Str("room", room).Int("messages", len(l.msgs)).Msg("Room window unloaded.")

	l.detached = true
	l.msgs = nil
}
