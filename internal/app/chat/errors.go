package chat

import "errors"

var (
	// ErrNotFound is returned for unknown message ids. Event handlers treat it as a no-op.
	ErrNotFound = errors.New("message not found")

	// ErrValidation marks an inbound event with a missing or malformed field.
	ErrValidation = errors.New("invalid event")

	// ErrAuthFailure is returned when a token does not resolve to a live device session.
	ErrAuthFailure = errors.New("authentication failed")

	// ErrForbidden is returned when the connection may not mutate the target message.
	ErrForbidden = errors.New("operation not permitted")

	// ErrUnknownEvent is returned for event tags outside the catalogue.
	ErrUnknownEvent = errors.New("unknown event type")
)
