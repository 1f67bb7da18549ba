/*
Package errs provides custom error types and application-level error code constants.

These error codes identify request, room, session and system failures both inside
the server and in the payloads sent back to HTTP and WebSocket clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007

	// ErrUnknownEvent indicates that a WebSocket client sent an event tag the server does not know.
	ErrUnknownEvent = 1101
)

// 2xxx: Room and Content Business Logic Errors
const (
	// ErrRoomNameInvalid indicates that the room name is empty or too long.
	ErrRoomNameInvalid = 2101

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrFileSizeTooLarge indicates that an attachment exceeds the permitted size.
	ErrFileSizeTooLarge = 2202

	// ErrFileTypeNotAllowed indicates that an attachment MIME type or extension is not accepted.
	ErrFileTypeNotAllowed = 2203

	// ErrAttachmentKeyInvalid indicates that an attachment key does not belong to the target room.
	ErrAttachmentKeyInvalid = 2204
)

// 3xxx: User, Session, and Security Errors
const (
	// ErrInvalidUsername indicates that the login username is empty or malformed.
	ErrInvalidUsername = 3001

	// ErrInvalidDevice indicates that the device label is malformed.
	ErrInvalidDevice = 3002

	// ErrUnauthorized indicates that the bearer token is missing, unknown or revoked.
	ErrUnauthorized = 3003
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrFileStorageFailed indicates that the object storage backend rejected an operation.
	ErrFileStorageFailed = 5001

	// ErrFileStorageDisabled indicates that no object storage is configured on this server.
	ErrFileStorageDisabled = 5002
)
