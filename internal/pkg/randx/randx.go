/*
Package randx generates identifiers and validates the user-supplied names
that become part of keys: room names, usernames and device labels.
*/
package randx

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// MaxRoomNameLength bounds room names in bytes.
	MaxRoomNameLength = 64

	// MaxDeviceLength bounds device labels in bytes.
	MaxDeviceLength = 64
)

var (
	usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)
	deviceRegex   = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)
)

// MessageID generates a UUID v4 string used as a message identifier.
func MessageID() string {
	return uuid.New().String()
}

// ConnectionID generates an identifier for one live WebSocket session.
func ConnectionID() string {
	return uuid.New().String()
}

// TokenID generates a random 24-byte hex identifier for a device session.
func TokenID() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes for token id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// FileKey builds an object key scoped to a room: "<room>/<uuid><ext>".
func FileKey(room, ext string) string {
	return fmt.Sprintf("%s/%s%s", room, uuid.New().String(), strings.ToLower(ext))
}

// IsValidRoomName reports whether name can be used as a room: non-empty,
// valid UTF-8, no slash (keys are prefixed by room) and no control characters.
func IsValidRoomName(name string) bool {
	if name == "" || len(name) > MaxRoomNameLength || !utf8.ValidString(name) {
		return false
	}

	for _, r := range name {
		if r == '/' || r < 0x20 || r == 0x7f {
			return false
		}
	}

	return strings.TrimSpace(name) == name
}

// IsValidUsername reports whether name is an acceptable login username.
func IsValidUsername(name string) bool {
	return usernameRegex.MatchString(name)
}

// IsValidDevice reports whether label is an acceptable device label.
func IsValidDevice(label string) bool {
	return deviceRegex.MatchString(label)
}
