package user

import (
	"context"
	"sync"
)

// MemoryDevices is a DeviceStore held in process memory.
type MemoryDevices struct {
	mu      sync.RWMutex
	devices map[string]Device
}

// NewMemoryDevices returns an empty in-memory device store.
func NewMemoryDevices() *MemoryDevices {
	return &MemoryDevices{devices: make(map[string]Device)}
}

func (m *MemoryDevices) SaveDevice(_ context.Context, d Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.devices[d.TokenID] = d
	return nil
}

func (m *MemoryDevices) GetDevice(_ context.Context, tokenID string) (Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[tokenID]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	return d, nil
}

func (m *MemoryDevices) DeleteDevice(_ context.Context, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.devices, tokenID)
	return nil
}
