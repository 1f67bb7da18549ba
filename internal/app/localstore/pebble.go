/*
Package localstore is the embedded backend: the message archive and the device
session store kept in a single Pebble database on local disk.

Key layout:

	msg:<id>                              JSON message record
	room:<room>\x00<created, 20 digits>:<id>  empty value, orders a room timeline
	device:<token id>                     JSON device record
*/
package localstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cockroachdb/pebble"

	"roomchat/internal/app/chat"
	"roomchat/internal/app/user"
	"roomchat/internal/pkg/logx"
)

const (
	messagePrefix = "msg:"
	roomPrefix    = "room:"
	devicePrefix  = "device:"
)

// Store implements chat.Archive and user.DeviceStore on Pebble.
type Store struct {
	db *pebble.DB
}

// record is the stored form of a message; it keeps the ordering stamp the wire form hides.
type record struct {
	chat.Message
	CreatedAt int64 `json:"created_at"`
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create pebble directory: %w", err)
	}

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}

	logx.Info("Pebble store opened.", "path", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func messageKey(id string) []byte {
	return []byte(messagePrefix + id)
}

func roomBounds(room string) (lower, upper []byte) {
	return []byte(roomPrefix + room + "\x00"), []byte(roomPrefix + room + "\x01")
}

func timelineKey(m chat.Message) []byte {
	return fmt.Appendf(nil, "%s%s\x00%020d:%s", roomPrefix, m.Room, m.CreatedAt, m.ID)
}

// idFromTimelineKey returns the message id at the end of a timeline key.
func idFromTimelineKey(key []byte) string {
	i := bytes.LastIndexByte(key, ':')
	return string(key[i+1:])
}

func (s *Store) SaveMessage(_ context.Context, m chat.Message) error {
	data, err := json.Marshal(record{Message: m, CreatedAt: m.CreatedAt})
	if err != nil {
		return fmt.Errorf("encode message %s: %w", m.ID, err)
	}

	b := s.db.NewBatch()
	defer b.Close()

	if err := b.Set(messageKey(m.ID), data, nil); err != nil {
		return err
	}
	if err := b.Set(timelineKey(m), nil, nil); err != nil {
		return err
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("save message %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (chat.Message, error) {
	v, closer, err := s.db.Get(messageKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return chat.Message{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Message{}, fmt.Errorf("get message %s: %w", id, err)
	}
	defer closer.Close()

	var rec record
	if err := json.Unmarshal(v, &rec); err != nil {
		return chat.Message{}, fmt.Errorf("decode message %s: %w", id, err)
	}

	m := rec.Message
	m.CreatedAt = rec.CreatedAt
	return m, nil
}

func (s *Store) RecentMessages(ctx context.Context, room string, limit int) ([]chat.Message, error) {
	lower, upper := roomBounds(room)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var ids []string
	for ok := it.Last(); ok && len(ids) < limit; ok = it.Prev() {
		ids = append(ids, idFromTimelineKey(it.Key()))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("scan room %s: %w", room, err)
	}
	slices.Reverse(ids)

	out := make([]chat.Message, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) SearchMessages(ctx context.Context, room, query string, limit int) ([]chat.Message, error) {
	lower, upper := roomBounds(room)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	needle := strings.ToLower(query)
	out := []chat.Message{}
	for ok := it.First(); ok && len(out) < limit; ok = it.Next() {
		m, err := s.GetMessage(ctx, idFromTimelineKey(it.Key()))
		if err != nil {
			return nil, err
		}
		if !m.Deleted && strings.Contains(strings.ToLower(m.Body), needle) {
			out = append(out, m)
		}
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("search room %s: %w", room, err)
	}
	return out, nil
}

func (s *Store) MarkRoomRead(ctx context.Context, room, username string) error {
	lower, upper := roomBounds(room)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer it.Close()

	b := s.db.NewBatch()
	defer b.Close()

	for ok := it.First(); ok; ok = it.Next() {
		m, err := s.GetMessage(ctx, idFromTimelineKey(it.Key()))
		if err != nil {
			return err
		}
		if slices.Contains(m.ReadBy, username) {
			continue
		}
		m.ReadBy = append(m.ReadBy, username)

		data, err := json.Marshal(record{Message: m, CreatedAt: m.CreatedAt})
		if err != nil {
			return fmt.Errorf("encode message %s: %w", m.ID, err)
		}
		if err := b.Set(messageKey(m.ID), data, nil); err != nil {
			return err
		}
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("scan room %s: %w", room, err)
	}

	if b.Empty() {
		return nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("mark room %s read: %w", room, err)
	}
	return nil
}

func (s *Store) SaveDevice(_ context.Context, d user.Device) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(devicePrefix+d.TokenID), data, pebble.Sync)
}

func (s *Store) GetDevice(_ context.Context, tokenID string) (user.Device, error) {
	v, closer, err := s.db.Get([]byte(devicePrefix + tokenID))
	if errors.Is(err, pebble.ErrNotFound) {
		return user.Device{}, user.ErrDeviceNotFound
	}
	if err != nil {
		return user.Device{}, fmt.Errorf("get device %s: %w", tokenID, err)
	}
	defer closer.Close()

	var d user.Device
	if err := json.Unmarshal(v, &d); err != nil {
		return user.Device{}, fmt.Errorf("decode device %s: %w", tokenID, err)
	}
	return d, nil
}

func (s *Store) DeleteDevice(_ context.Context, tokenID string) error {
	return s.db.Delete([]byte(devicePrefix+tokenID), pebble.Sync)
}
