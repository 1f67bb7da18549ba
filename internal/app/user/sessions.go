package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"roomchat/internal/pkg/auth/jwt"
	"roomchat/internal/pkg/logx"
	"roomchat/internal/pkg/randx"
)

// Sessions issues, resolves and revokes device session tokens.
type Sessions struct {
	store  DeviceStore
	secret string

	// ttl bounds token lifetime; zero issues tokens that live until revoked.
	ttl time.Duration
}

// NewSessions creates a session manager signing tokens with secret.
func NewSessions(store DeviceStore, secret string, ttl time.Duration) *Sessions {
	return &Sessions{store: store, secret: secret, ttl: ttl}
}

// Issue creates a device session for username on device and returns its token.
func (s *Sessions) Issue(ctx context.Context, username, device string) (string, Identity, error) {
	username = strings.TrimSpace(username)
	if !randx.IsValidUsername(username) {
		return "", Identity{}, ErrInvalidUsername
	}

	device = strings.TrimSpace(device)
	if device == "" {
		device = DefaultDevice
	}
	if !randx.IsValidDevice(device) {
		return "", Identity{}, ErrInvalidDevice
	}

	tokenID, err := randx.TokenID()
	if err != nil {
		return "", Identity{}, err
	}

	record := Device{
		TokenID:   tokenID,
		Username:  username,
		Device:    device,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.SaveDevice(ctx, record); err != nil {
		return "", Identity{}, fmt.Errorf("failed to save device session: %w", err)
	}

	payload := &jwt.Payload{Username: username, Device: device}
	payload.Id = tokenID

	token, err := jwt.GenerateToken(payload, s.secret, s.ttl)
	if err != nil {
		return "", Identity{}, fmt.Errorf("failed to sign session token: %w", err)
	}

	logx.Info("Device session issued", "user", username, "device", device)

	return token, Identity{Username: username, Device: device}, nil
}

// Resolve returns the identity behind token if its session is still live.
func (s *Sessions) Resolve(ctx context.Context, token string) (Identity, error) {
	claims, err := jwt.ParseToken(token, s.secret)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnknownSession, err)
	}

	record, err := s.store.GetDevice(ctx, claims.Id)
	if errors.Is(err, ErrDeviceNotFound) {
		return Identity{}, ErrUnknownSession
	}
	if err != nil {
		return Identity{}, fmt.Errorf("failed to load device session: %w", err)
	}

	if record.Username != claims.Username {
		return Identity{}, ErrUnknownSession
	}

	return Identity{Username: record.Username, Device: record.Device}, nil
}

// Revoke deletes the session behind token. Expired tokens can still be revoked;
// tokens with a bad signature are rejected.
func (s *Sessions) Revoke(ctx context.Context, token string) error {
	claims, err := jwt.ParseSignedToken(token, s.secret)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnknownSession, err)
	}

	if err := s.store.DeleteDevice(ctx, claims.Id); err != nil {
		return fmt.Errorf("failed to delete device session: %w", err)
	}

	logx.Info("Device session revoked", "user", claims.Username, "device", claims.Device)
	return nil
}
