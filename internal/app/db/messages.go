package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roomchat/internal/app/chat"
)

const messageColumns = `id, room, author, body, content_type, file_url, ts, edited, deleted, pinned, reactions, read_by, created_at`

// MessageArchive is a chat.Archive stored in the messages table.
type MessageArchive struct {
	pool *pgxpool.Pool
}

// NewMessageArchive wraps an open, migrated pool.
func NewMessageArchive(pool *pgxpool.Pool) *MessageArchive {
	return &MessageArchive{pool: pool}
}

func (a *MessageArchive) SaveMessage(ctx context.Context, m chat.Message) error {
	reactions := m.Reactions
	if reactions == nil {
		reactions = map[string][]string{}
	}
	readBy := m.ReadBy
	if readBy == nil {
		readBy = []string{}
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			body = EXCLUDED.body,
			file_url = EXCLUDED.file_url,
			ts = EXCLUDED.ts,
			edited = EXCLUDED.edited,
			deleted = EXCLUDED.deleted,
			pinned = EXCLUDED.pinned,
			reactions = EXCLUDED.reactions,
			read_by = EXCLUDED.read_by`,
		m.ID, m.Room, m.Name, m.Body, string(m.Type), m.File, m.Timestamp,
		m.Edited, m.Deleted, m.Pinned, reactions, readBy, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save message %s: %w", m.ID, err)
	}
	return nil
}

func (a *MessageArchive) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	row := a.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)

	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Message{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Message{}, fmt.Errorf("get message %s: %w", id, err)
	}
	return m, nil
}

func (a *MessageArchive) RecentMessages(ctx context.Context, room string, limit int) ([]chat.Message, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE room = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`,
		room, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent messages of %s: %w", room, err)
	}
	return collectMessages(rows)
}

func (a *MessageArchive) SearchMessages(ctx context.Context, room, query string, limit int) ([]chat.Message, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE room = $1 AND NOT deleted AND body ILIKE $2 ESCAPE '\'
		ORDER BY created_at ASC
		LIMIT $3`,
		room, "%"+escapeLike(query)+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search messages of %s: %w", room, err)
	}
	return collectMessages(rows)
}

func (a *MessageArchive) MarkRoomRead(ctx context.Context, room, username string) error {
	_, err := a.pool.Exec(ctx, `
		UPDATE messages SET read_by = array_append(read_by, $2)
		WHERE room = $1 AND NOT ($2 = ANY(read_by))`,
		room, username,
	)
	if err != nil {
		return fmt.Errorf("mark room %s read: %w", room, err)
	}
	return nil
}

func collectMessages(rows pgx.Rows) ([]chat.Message, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Message, error) {
		return scanMessage(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}
	if out == nil {
		out = []chat.Message{}
	}
	return out, nil
}

func scanMessage(row pgx.Row) (chat.Message, error) {
	var (
		m           chat.Message
		contentType string
	)
	err := row.Scan(
		&m.ID, &m.Room, &m.Name, &m.Body, &contentType, &m.File, &m.Timestamp,
		&m.Edited, &m.Deleted, &m.Pinned, &m.Reactions, &m.ReadBy, &m.CreatedAt,
	)
	if err != nil {
		return chat.Message{}, err
	}
	m.Type = chat.ContentType(contentType)
	return m, nil
}
