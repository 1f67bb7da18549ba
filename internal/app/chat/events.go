/*
Package chat contains the core logic for handling real-time chat rooms, user connections, and message broadcasting.

This file defines the closed catalogue of WebSocket events: the tags a client may
send, the tags the server emits and the payload carried by each.
*/
package chat

import (
	"encoding/json"
	"fmt"
)

// EventType is the tag of a WebSocket event.
type EventType string

// Client to server.
const (
	EventAuth       EventType = "auth"
	EventJoin       EventType = "join"
	EventLeave      EventType = "leave"
	EventMsg        EventType = "msg"
	EventAttachment EventType = "attachment"
	EventTyping     EventType = "typing"
	EventDelivered  EventType = "delivered"
	EventRead       EventType = "read"
	EventReadAll    EventType = "read_all"
	EventDelete     EventType = "delete"
	EventEdit       EventType = "edit"
	EventReact      EventType = "react"
	EventPin        EventType = "pin"
)

// Server to client. typing, delivered and read are relayed under their inbound tag.
const (
	EventHistory       EventType = "history"
	EventMessage       EventType = "message"
	EventMessageUpdate EventType = "message_update"
	EventReadUpdate    EventType = "read_update"
	EventSent          EventType = "sent"
	EventPresence      EventType = "presence"
	EventOnlineUpdate  EventType = "online_update"
	EventError         EventType = "error"
)

// Inbound is the envelope of every client event.
type Inbound struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TempID  string          `json:"tempId,omitempty"`
}

// Event is the envelope of every server event.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// --- inbound payloads ---

type AuthPayload struct {
	Token string `json:"token"`
}

// RoomPayload is carried by join and leave.
type RoomPayload struct {
	Room string `json:"room"`
}

type MsgPayload struct {
	Room string `json:"room"`
	Name string `json:"name,omitempty"`
	Msg  string `json:"msg"`
}

type AttachmentPayload struct {
	Room     string `json:"room"`
	Name     string `json:"name,omitempty"`
	FileKey  string `json:"fileKey"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
}

type TypingPayload struct {
	Room string `json:"room"`
	Name string `json:"name,omitempty"`
}

type DeliveredPayload struct {
	ID   string `json:"id"`
	Room string `json:"room"`
}

type ReadPayload struct {
	ID   string `json:"id"`
	Room string `json:"room"`
	Name string `json:"name,omitempty"`
}

type ReadAllPayload struct {
	Room string `json:"room"`
	Name string `json:"name,omitempty"`
}

type DeletePayload struct {
	ID string `json:"id"`
}

type EditPayload struct {
	ID  string  `json:"id"`
	Msg *string `json:"msg"`
}

type ReactPayload struct {
	ID    string `json:"id"`
	Emoji string `json:"emoji"`
	Name  string `json:"name,omitempty"`
}

type PinPayload struct {
	ID  string `json:"id"`
	Pin *bool  `json:"pin"`
}

// --- outbound payloads ---

// SentPayload acknowledges a created message to its sender.
type SentPayload struct {
	ID     string `json:"id"`
	TempID string `json:"tempId,omitempty"`
}

type TypingNotice struct {
	Room string `json:"room"`
	Name string `json:"name"`
}

type DeliveredNotice struct {
	ID string `json:"id"`
}

type ReadNotice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PresenceNotice struct {
	User   string `json:"user"`
	Online bool   `json:"online"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// decodePayload unmarshals raw into a fresh T, mapping failures to ErrValidation.
func decodePayload[T any](raw json.RawMessage) (T, error) {
	var payload T
	if len(raw) == 0 {
		return payload, fmt.Errorf("%w: missing payload", ErrValidation)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return payload, nil
}
