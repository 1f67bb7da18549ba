/*
Package chat contains the core logic for handling real-time chat rooms, user connections, and message broadcasting.

This file defines the Service, which dispatches inbound events from the closed
catalogue in events.go. Each event performs at most one store or presence
mutation followed by at most one fan-out.
*/
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomchat/internal/pkg/errs"
	"roomchat/internal/pkg/logx"
	"roomchat/internal/pkg/metrics"
	"roomchat/internal/pkg/randx"
)

const (
	// MaxContentBytes is the maximum allowed size (in bytes) for text message content.
	MaxContentBytes = 5000

	// MaxEmojiBytes bounds a reaction key.
	MaxEmojiBytes = 32

	// eventTimeout bounds the archive work of a single inbound event.
	eventTimeout = 10 * time.Second
)

// Options tunes a Service.
type Options struct {
	HistoryLimit    int
	RoomIdleTimeout time.Duration
	QueueSize       int

	// StrictAuthorship limits edit and delete to the authenticated author.
	StrictAuthorship bool
}

type handlerFunc func(ctx context.Context, c *Conn, in Inbound) error

// Service is the protocol-facing orchestrator of the chat engine.
type Service struct {
	store    *Store
	presence *Presence
	rooms    *Broadcaster

	strictAuthorship bool
	queueSize        int

	handlers map[EventType]handlerFunc

	logger zerolog.Logger
}

// NewService wires a store over archive, a presence registry over resolver and a broadcaster.
func NewService(archive Archive, resolver TokenResolver, opts Options) *Service {
	store := NewStore(archive, opts.HistoryLimit)
	rooms := NewBroadcaster(store, opts.HistoryLimit, opts.RoomIdleTimeout)
	rooms.OnReap(store.Unload)

	s := &Service{
		store:            store,
		presence:         NewPresence(resolver),
		rooms:            rooms,
		strictAuthorship: opts.StrictAuthorship,
		queueSize:        opts.QueueSize,
		logger:           logx.Component("ChatService"),
	}

	s.handlers = map[EventType]handlerFunc{
		EventAuth:       s.handleAuth,
		EventJoin:       s.handleJoin,
		EventLeave:      s.handleLeave,
		EventMsg:        s.handleMsg,
		EventAttachment: s.handleAttachment,
		EventTyping:     s.handleTyping,
		EventDelivered:  s.handleDelivered,
		EventRead:       s.handleRead,
		EventReadAll:    s.handleReadAll,
		EventDelete:     s.handleDelete,
		EventEdit:       s.handleEdit,
		EventReact:      s.handleReact,
		EventPin:        s.handlePin,
	}

	return s
}

// Serve drives ws until it closes: it attaches the connection, runs its pumps
// and unwinds presence and memberships on exit. A non-empty token authenticates
// the connection before the first frame is read, as an auth event would.
func (s *Service) Serve(ctx context.Context, ws *websocket.Conn, token string) {
	c := NewConn(ws, s.queueSize)

	s.Connect(c)
	defer s.Disconnect(c)

	if token != "" {
		if _, err := s.presence.Authenticate(ctx, c, token); err != nil {
			c.logger.Warn().Err(err).Msg("Connection token rejected; continuing anonymously.")
		}
	}

	go c.WritePump()

	c.ReadPump(func(raw []byte) {
		s.Handle(ctx, c, raw)
	})
}

// Connect attaches c for process-wide presence events.
func (s *Service) Connect(c *Conn) {
	s.presence.Attach(c)
	c.logger.Debug().Msg("Client connected.")
}

// Disconnect removes c from presence and from every room, then closes it.
func (s *Service) Disconnect(c *Conn) {
	s.presence.Drop(c)
	s.rooms.LeaveAll(c)
	c.Close()

	c.logger.Debug().Msg("Client connection cleanup finished.")
}

// Handle decodes and applies one inbound frame. A failed event never ends the session.
func (s *Service) Handle(ctx context.Context, c *Conn, raw []byte) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		c.logger.Warn().Err(err).Int("bytes", len(raw)).Msg("Client sent invalid JSON")
		metrics.Events.WithLabelValues("invalid_json", "invalid").Inc()
		return
	}

	handler, ok := s.handlers[in.Type]
	if !ok {
		c.logger.Warn().Str("event", string(in.Type)).Msg("Client sent unknown event type")
		metrics.Events.WithLabelValues("unknown", "unknown").Inc()
		s.sendError(c, errs.NewError(errs.ErrUnknownEvent, string(in.Type)))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	err := handler(ctx, c, in)
	s.report(c, in.Type, err)
}

// report logs the outcome of an event and, for rejected input that carries a
// client error, tells the sender.
func (s *Service) report(c *Conn, event EventType, err error) {
	outcome := "ok"
	logEvent := c.logger.Debug()

	switch {
	case err == nil:
	case errors.Is(err, ErrValidation):
		outcome = "invalid"
		logEvent = c.logger.Warn()
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrForbidden):
		outcome = "forbidden"
		logEvent = c.logger.Info()
	case errors.Is(err, ErrAuthFailure):
		outcome = "auth_failed"
		logEvent = c.logger.Info()
	default:
		outcome = "error"
		logEvent = c.logger.Error()
	}

	metrics.Events.WithLabelValues(string(event), outcome).Inc()

	if err == nil {
		return
	}

	logEvent.Err(err).Str("event", string(event)).Str("outcome", outcome).Msg("Event dropped")

	var customErr *errs.CustomError
	if errors.Is(err, ErrValidation) && errors.As(err, &customErr) {
		s.sendError(c, customErr)
	}
}

func (s *Service) sendError(c *Conn, customErr *errs.CustomError) {
	c.Send(Event{Type: EventError, Payload: ErrorPayload{Code: customErr.Code, Message: customErr.Message}})
}

// invalid reports a missing or malformed field. The sender gets no error event.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// rejected reports input the sender is told about through an error event.
func rejected(code int, details ...any) error {
	return fmt.Errorf("%w: %w", ErrValidation, errs.NewError(code, details...))
}

func requireRoom(room string) error {
	if room == "" {
		return invalid("missing room")
	}
	if !randx.IsValidRoomName(room) {
		return rejected(errs.ErrRoomNameInvalid)
	}
	return nil
}

// actor returns the username acting on behalf of c: the authenticated identity
// when there is one, otherwise the self-declared name.
func actor(c *Conn, declared string) (string, error) {
	if identity, ok := c.Identity(); ok {
		return identity.Username, nil
	}

	name := strings.TrimSpace(declared)
	if name == "" {
		return "", invalid("missing name")
	}
	if len(name) > 64 {
		return "", rejected(errs.ErrInvalidUsername)
	}
	return name, nil
}

func notDeleted(m *Message) error {
	if m.Deleted {
		return fmt.Errorf("%w: message %s is deleted", ErrForbidden, m.ID)
	}
	return nil
}

// authorOnly restricts a mutation to the authenticated author when strict authorship is on.
func (s *Service) authorOnly(c *Conn) Guard {
	return func(m *Message) error {
		if !s.strictAuthorship {
			return nil
		}
		identity, ok := c.Identity()
		if !ok || identity.Username != m.Name {
			return fmt.Errorf("%w: only the author may change message %s", ErrForbidden, m.ID)
		}
		return nil
	}
}

// updateMessage resolves the room of id and runs apply under the room order,
// broadcasting the result as message_update.
func (s *Service) updateMessage(ctx context.Context, id string, apply func() (Message, error)) error {
	if id == "" {
		return invalid("missing id")
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	s.rooms.Sequence(current.Room, func() {
		var updated Message
		if updated, err = apply(); err != nil {
			return
		}
		s.rooms.Broadcast(current.Room, Event{Type: EventMessageUpdate, Payload: updated}, nil)
	})

	return err
}

func (s *Service) handleAuth(ctx context.Context, c *Conn, in Inbound) error {
	p, err := decodePayload[AuthPayload](in.Payload)
	if err != nil {
		return err
	}
	if p.Token == "" {
		return invalid("missing token")
	}

	_, err = s.presence.Authenticate(ctx, c, p.Token)
	return err
}

func (s *Service) handleJoin(ctx context.Context, c *Conn, in Inbound) error {
	p, err := decodePayload[RoomPayload](in.Payload)
	if err != nil {
		return err
	}
	if err := requireRoom(p.Room); err != nil {
		return err
	}

	_, err = s.rooms.Join(ctx, c, p.Room)
	return err
}

func (s *Service) handleLeave(_ context.Context, c *Conn, in Inbound) error {
	p, err := decodePayload[RoomPayload](in.Payload)
	if err != nil {
		return err
	}
	if p.Room == "" {
		return invalid("missing room")
	}

	s.rooms.Leave(c, p.Room)
	return nil
}

// publish stores a new message and broadcasts it to the room.
func (s *Service) publish(ctx context.Context, room, author, body string, contentType ContentType, file string) (Message, error) {
	var (
		created Message
		err     error
	)

	s.rooms.Sequence(room, func() {
		if created, err = s.store.Create(ctx, room, author, body, contentType, file); err != nil {
			return
		}
		s.rooms.Broadcast(room, Event{Type: EventMessage, Payload: created}, nil)
	})

	return created, err
}

// create publishes a message and acknowledges it to the sending connection.
func (s *Service) create(ctx context.Context, c *Conn, tempID, room, author, body string, contentType ContentType, file string) error {
	created, err := s.publish(ctx, room, author, body, contentType, file)
	if err != nil {
		return err
	}

	c.Send(Event{Type: EventSent, Payload: SentPayload{ID: created.ID, TempID: tempID}})
	return nil
}

func (s *Service) handleMsg(ctx context.Context, c *Conn, in Inbound) error {
	p, err := decodePayload[MsgPayload](in.Payload)
	if err != nil {
		return err
	}
	if err := requireRoom(p.Room); err != nil {
		return err
	}

	author, err := actor(c, p.Name)
	if err != nil {
		return err
	}

	if strings.TrimSpace(p.Msg) == "" {
		return invalid("missing text")
	}
	if len(p.Msg) > MaxContentBytes {
		return rejected(errs.ErrMessageContentTooLong)
	}

	return s.create(ctx, c, in.TempID, p.Room, author, p.Msg, ContentText, "")
}

func (s *Service) handleAttachment(ctx context.Context, c *Conn, in Inbound) error {
	p, err := decodePayload[AttachmentPayload](in.Payload)
	if err != nil {
		return err
	}
	if err := requireRoom(p.Room); err != nil {
		return err
	}

	author, err := actor(c, p.Name)
	if err != nil {
		return err
	}

	if p.FileKey == "" {
		return invalid("missing fileKey")
	}
	if customErr := ValidateAttachmentKey(p.Room, p.FileKey); customErr != nil {
		return fmt.Errorf("%w: %w", ErrValidation, customErr)
	}

	fileName := p.FileName
	if fileName == "" {
		fileName = p.FileKey
	}
	if customErr := ValidateFileType(fileName, p.MimeType); customErr != nil {
		return fmt.Errorf("%w: %w", ErrValidation, customErr)
	}

	return s.create(ctx, c, in.TempID, p.Room, author, "", ContentTypeFor(p.MimeType), AttachmentURL(p.FileKey))
}

func (s *Service) handleTyping(_ context.Context, c *Conn, in Inbound) error {
	p, err := decodePayload[TypingPayload](in.Payload)
	if err != nil {
		return err
	}
	if err := requireRoom(p.Room); err != nil {
		return err
	}

	name, err := actor(c, p.Name)
	if err != nil {
		return err
	}

	s.rooms.Sequence(p.Room, func() {
		s.rooms.Broadcast(p.Room, Event{Type: EventTyping, Payload: TypingNotice{Room: p.Room, Name: name}}, c)
	})
	return nil
}

func (s *Service) handleDelivered(_ context.Context, _ *Conn, in Inbound) error {
	p, err := decodePayload[DeliveredPayload](in.Payload)
	if err != nil {
		return err
	}
	if p.ID == "" {
		return invalid("missing id")
	}
	if err := requireRoom(p.Room); err != nil {
		return err
	}

	s.rooms.Sequence(p.Room, func() {
		s.rooms.Broadcast(p.Room, Event{Type: EventDelivered, Payload: DeliveredNotice{ID: p.ID}}, nil)
	})
	return nil
}

func (s *Service) handleRead(ctx context.Context, c *Conn, in Inbound) error {
	p, err := decodePayload[ReadPayload](in.Payload)
	if err != nil {
		return err
	}
	if p.ID == "" {
		return invalid("missing id")
	}
	if err := requireRoom(p.Room); err != nil {
		return err
	}

	reader, err := actor(c, p.Name)
	if err != nil {
		return err
	}

	current, err := s.store.Get(ctx, p.ID)
	if err != nil {
		return err
	}
	if current.Room != p.Room {
		return fmt.Errorf("%w: message %s is not in room %q", ErrNotFound, p.ID, p.Room)
	}

	s.rooms.Sequence(p.Room, func() {
		if _, _, err = s.store.MarkRead(ctx, p.ID, reader); err != nil {
			return
		}
		s.rooms.Broadcast(p.Room, Event{Type: EventRead, Payload: ReadNotice{ID: p.ID, Name: reader}}, nil)
	})
	return err
}

func (s *Service) handleReadAll(ctx context.Context, c *Conn, in Inbound) error {
	p, err := decodePayload[ReadAllPayload](in.Payload)
	if err != nil {
		return err
	}
	if err := requireRoom(p.Room); err != nil {
		return err
	}

	reader, err := actor(c, p.Name)
	if err != nil {
		return err
	}

	s.rooms.Sequence(p.Room, func() {
		var changed []Message
		if changed, err = s.store.MarkAllRead(ctx, p.Room, reader); err != nil || len(changed) == 0 {
			return
		}
		s.rooms.Broadcast(p.Room, Event{Type: EventReadUpdate, Payload: changed}, nil)
	})
	return err
}

func (s *Service) handleDelete(ctx context.Context, c *Conn, in Inbound) error {
	p, err := decodePayload[DeletePayload](in.Payload)
	if err != nil {
		return err
	}

	return s.updateMessage(ctx, p.ID, func() (Message, error) {
		return s.store.SoftDelete(ctx, p.ID, s.authorOnly(c))
	})
}

func (s *Service) handleEdit(ctx context.Context, c *Conn, in Inbound) error {
	p, err := decodePayload[EditPayload](in.Payload)
	if err != nil {
		return err
	}
	if p.Msg == nil || strings.TrimSpace(*p.Msg) == "" {
		return invalid("missing msg")
	}
	if len(*p.Msg) > MaxContentBytes {
		return rejected(errs.ErrMessageContentTooLong)
	}

	return s.updateMessage(ctx, p.ID, func() (Message, error) {
		return s.store.Edit(ctx, p.ID, *p.Msg, notDeleted, s.authorOnly(c))
	})
}

func (s *Service) handleReact(ctx context.Context, c *Conn, in Inbound) error {
	p, err := decodePayload[ReactPayload](in.Payload)
	if err != nil {
		return err
	}

	emoji := strings.TrimSpace(p.Emoji)
	if emoji == "" {
		return invalid("missing emoji")
	}
	if len(emoji) > MaxEmojiBytes {
		return invalid("emoji too long")
	}

	reactor, err := actor(c, p.Name)
	if err != nil {
		return err
	}

	return s.updateMessage(ctx, p.ID, func() (Message, error) {
		return s.store.ToggleReaction(ctx, p.ID, emoji, reactor, notDeleted)
	})
}

func (s *Service) handlePin(ctx context.Context, _ *Conn, in Inbound) error {
	p, err := decodePayload[PinPayload](in.Payload)
	if err != nil {
		return err
	}
	if p.Pin == nil {
		return invalid("missing pin")
	}

	return s.updateMessage(ctx, p.ID, func() (Message, error) {
		return s.store.SetPinned(ctx, p.ID, *p.Pin)
	})
}

// PostAttachment publishes an attachment that was uploaded through the server
// rather than announced by a connected client.
func (s *Service) PostAttachment(ctx context.Context, room, author, key, mimeType string) (Message, error) {
	if !randx.IsValidRoomName(room) {
		return Message{}, errs.NewError(errs.ErrRoomNameInvalid)
	}
	if customErr := ValidateAttachmentKey(room, key); customErr != nil {
		return Message{}, customErr
	}
	if customErr := ValidateFileType(key, mimeType); customErr != nil {
		return Message{}, customErr
	}

	return s.publish(ctx, room, author, "", ContentTypeFor(mimeType), AttachmentURL(key))
}

// Search runs a read-only substring search over the archive of room.
func (s *Service) Search(ctx context.Context, room, query string) ([]Message, error) {
	if !randx.IsValidRoomName(room) {
		return nil, errs.NewError(errs.ErrRoomNameInvalid)
	}
	return s.store.Search(ctx, room, query)
}

// Online returns the sorted usernames currently online.
func (s *Service) Online() []string {
	return s.presence.Online()
}

// IsOnline reports whether username has at least one authenticated connection.
func (s *Service) IsOnline(username string) bool {
	return s.presence.IsOnline(username)
}

// Shutdown closes every connection and stops room reaping.
func (s *Service) Shutdown() {
	s.logger.Info().Msg("Shutting down chat service...")

	s.presence.CloseAll()
	s.rooms.Shutdown()

	s.logger.Info().Msg("Chat service shutdown complete.")
}
