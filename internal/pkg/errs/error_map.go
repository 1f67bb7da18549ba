package errs

import "net/http"

// errorMap holds the CustomError template for every application error code.
var errorMap = map[int]CustomError{
	// 1xxx
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},
	ErrUnknownEvent:         {Code: ErrUnknownEvent, Message: "Unknown event type: %s."},

	// 2xxx
	ErrRoomNameInvalid:       {Code: ErrRoomNameInvalid, Message: "Invalid room name.", Status: http.StatusBadRequest},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long."},
	ErrFileSizeTooLarge:      {Code: ErrFileSizeTooLarge, Message: "File is too large (max %d MB).", Status: http.StatusBadRequest},
	ErrFileTypeNotAllowed:    {Code: ErrFileTypeNotAllowed, Message: "This file type is not allowed.", Status: http.StatusBadRequest},
	ErrAttachmentKeyInvalid:  {Code: ErrAttachmentKeyInvalid, Message: "Invalid attachment.", Status: http.StatusBadRequest},

	// 3xxx
	ErrInvalidUsername: {Code: ErrInvalidUsername, Message: "Invalid username.", Status: http.StatusBadRequest},
	ErrInvalidDevice:   {Code: ErrInvalidDevice, Message: "Invalid device label.", Status: http.StatusBadRequest},
	ErrUnauthorized:    {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},

	// 5xxx
	ErrUnknown:             {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrFileStorageFailed:   {Code: ErrFileStorageFailed, Message: "File storage failed. Please try again.", Status: http.StatusBadGateway},
	ErrFileStorageDisabled: {Code: ErrFileStorageDisabled, Message: "File sharing is not enabled on this server.", Status: http.StatusNotImplemented},
}
