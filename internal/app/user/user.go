/*
Package user contains core data structures and logic related to user identity and device sessions.

A device session is a signed token bound to one username and one device label.
It stays valid while its record exists in the DeviceStore; logout deletes the record.
*/
package user

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidUsername is returned when a login username is empty or malformed.
	ErrInvalidUsername = errors.New("invalid username")

	// ErrInvalidDevice is returned when a device label is malformed.
	ErrInvalidDevice = errors.New("invalid device label")

	// ErrUnknownSession is returned for tokens that are forged, expired or revoked.
	ErrUnknownSession = errors.New("unknown or revoked session")

	// ErrDeviceNotFound is returned by a DeviceStore for unknown token ids.
	ErrDeviceNotFound = errors.New("device session not found")
)

// DefaultDevice is the device label used when the client does not send one.
const DefaultDevice = "web"

// Identity is who an authenticated connection acts as.
type Identity struct {
	// Username is the stable, primary identity.
	Username string `json:"username"`

	// Device is the label of the session the identity was resolved from.
	Device string `json:"device"`
}

// Device is the stored record of one device session.
type Device struct {
	// TokenID is the id claim of the session token and the record key.
	TokenID string `json:"tokenId"`

	Username  string    `json:"username"`
	Device    string    `json:"device"`
	CreatedAt time.Time `json:"createdAt"`
}

// DeviceStore persists device session records.
type DeviceStore interface {
	SaveDevice(ctx context.Context, d Device) error

	// GetDevice returns ErrDeviceNotFound for unknown token ids.
	GetDevice(ctx context.Context, tokenID string) (Device, error)

	// DeleteDevice is a no-op for unknown token ids.
	DeleteDevice(ctx context.Context, tokenID string) error
}
