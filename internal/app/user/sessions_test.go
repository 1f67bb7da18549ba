package user

import (
	"context"
	"errors"
	"testing"
)

func TestIssueAndResolve(t *testing.T) {
	ctx := context.Background()
	s := NewSessions(NewMemoryDevices(), "secret", 0)

	token, id, err := s.Issue(ctx, "alice", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if id.Username != "alice" || id.Device != DefaultDevice {
		t.Fatalf("unexpected identity %+v", id)
	}

	got, err := s.Resolve(ctx, token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != id {
		t.Fatalf("Resolve = %+v, want %+v", got, id)
	}
}

func TestMultipleDevicesAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := NewSessions(NewMemoryDevices(), "secret", 0)

	web, _, _ := s.Issue(ctx, "alice", "web")
	phone, _, _ := s.Issue(ctx, "alice", "phone")

	if err := s.Revoke(ctx, web); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, err := s.Resolve(ctx, web); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("revoked token resolved, err = %v", err)
	}

	id, err := s.Resolve(ctx, phone)
	if err != nil || id.Device != "phone" {
		t.Fatalf("second device should stay valid, got %+v %v", id, err)
	}
}

func TestIssueRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := NewSessions(NewMemoryDevices(), "secret", 0)

	tests := []struct {
		name     string
		username string
		device   string
		want     error
	}{
		{"empty username", "  ", "web", ErrInvalidUsername},
		{"space in username", "al ice", "web", ErrInvalidUsername},
		{"bad device", "alice", "my phone!", ErrInvalidDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := s.Issue(ctx, tt.username, tt.device); !errors.Is(err, tt.want) {
				t.Fatalf("Issue(%q, %q) err = %v, want %v", tt.username, tt.device, err, tt.want)
			}
		})
	}
}

func TestResolveRejectsForeignToken(t *testing.T) {
	ctx := context.Background()
	issuer := NewSessions(NewMemoryDevices(), "one", 0)
	other := NewSessions(NewMemoryDevices(), "two", 0)

	token, _, _ := issuer.Issue(ctx, "alice", "web")

	if _, err := other.Resolve(ctx, token); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
	if _, err := issuer.Resolve(ctx, "garbage"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession for garbage, got %v", err)
	}
}
