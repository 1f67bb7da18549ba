/*
Package chat contains the core logic for handling real-time chat rooms, user connections, and message broadcasting.

This file defines Message, the unit of a room timeline, together with the in-place
mutations the store applies to it.
*/
package chat

import (
	"slices"
	"strings"
)

// ContentType tags what a message carries.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentAudio ContentType = "audio"
	ContentVideo ContentType = "video"
	ContentFile  ContentType = "file"
)

// Tombstone replaces the body of a soft-deleted message.
const Tombstone = "(message deleted)"

// Message is one entry of a room timeline as stored and as sent to clients.
type Message struct {
	ID   string      `json:"id"`
	Room string      `json:"room"`
	Name string      `json:"name"`
	Body string      `json:"msg"`
	Type ContentType `json:"type"`
	File string      `json:"file,omitempty"`

	// Timestamp is unix milliseconds; set on creation and refreshed on edit.
	Timestamp int64 `json:"ts"`

	Edited  bool `json:"edited"`
	Deleted bool `json:"deleted"`
	Pinned  bool `json:"pinned"`

	// Reactions maps an emoji to the usernames that applied it, in application order.
	Reactions map[string][]string `json:"reactions"`

	// ReadBy lists the usernames that have seen the message. It only grows.
	ReadBy []string `json:"read_by"`

	// CreatedAt orders a room timeline (unix nanoseconds, unique per store).
	CreatedAt int64 `json:"-"`
}

// Clone returns a deep copy so callers can hand the message to other goroutines.
func (m *Message) Clone() Message {
	out := *m

	out.Reactions = make(map[string][]string, len(m.Reactions))
	for emoji, users := range m.Reactions {
		out.Reactions[emoji] = slices.Clone(users)
	}

	out.ReadBy = slices.Clone(m.ReadBy)
	if out.ReadBy == nil {
		out.ReadBy = []string{}
	}

	return out
}

// toggleReaction adds username to the emoji set, or removes it if already present.
// An emoji whose set becomes empty is removed from the map.
func (m *Message) toggleReaction(emoji, username string) {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}

	users := m.Reactions[emoji]
	if i := slices.Index(users, username); i >= 0 {
		users = slices.Delete(users, i, i+1)
		if len(users) == 0 {
			delete(m.Reactions, emoji)
			return
		}
		m.Reactions[emoji] = users
		return
	}

	m.Reactions[emoji] = append(users, username)
}

// markRead records username in the read set and reports whether it was new.
func (m *Message) markRead(username string) bool {
	if slices.Contains(m.ReadBy, username) {
		return false
	}
	m.ReadBy = append(m.ReadBy, username)
	return true
}

// matches reports whether the live body contains lowerQuery; tombstones never match.
func (m *Message) matches(lowerQuery string) bool {
	return !m.Deleted && strings.Contains(strings.ToLower(m.Body), lowerQuery)
}
