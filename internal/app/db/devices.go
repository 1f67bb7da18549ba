package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roomchat/internal/app/user"
)

// ErrDuplicateDevice is returned when a token id is saved twice.
var ErrDuplicateDevice = errors.New("device session already exists")

// DeviceStore is a user.DeviceStore stored in the devices table.
type DeviceStore struct {
	pool *pgxpool.Pool
}

func NewDeviceStore(pool *pgxpool.Pool) *DeviceStore {
	return &DeviceStore{pool: pool}
}

func (s *DeviceStore) SaveDevice(ctx context.Context, d user.Device) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO devices (token_id, username, device, created_at) VALUES ($1, $2, $3, $4)`,
		d.TokenID, d.Username, d.Device, d.CreatedAt,
	)
	if IsUniqueViolation(err) {
		return ErrDuplicateDevice
	}
	if err != nil {
		return fmt.Errorf("save device %s: %w", d.TokenID, err)
	}
	return nil
}

func (s *DeviceStore) GetDevice(ctx context.Context, tokenID string) (user.Device, error) {
	var d user.Device
	err := s.pool.QueryRow(ctx,
		`SELECT token_id, username, device, created_at FROM devices WHERE token_id = $1`,
		tokenID,
	).Scan(&d.TokenID, &d.Username, &d.Device, &d.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return user.Device{}, user.ErrDeviceNotFound
	}
	if err != nil {
		return user.Device{}, fmt.Errorf("get device %s: %w", tokenID, err)
	}
	return d, nil
}

func (s *DeviceStore) DeleteDevice(ctx context.Context, tokenID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM devices WHERE token_id = $1`, tokenID); err != nil {
		return fmt.Errorf("delete device %s: %w", tokenID, err)
	}
	return nil
}
