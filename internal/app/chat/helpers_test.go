package chat

import (
	"context"
	"encoding/json"
	"testing"

	"roomchat/internal/app/user"
)

type fakeResolver map[string]user.Identity

func (f fakeResolver) Resolve(_ context.Context, token string) (user.Identity, error) {
	id, ok := f[token]
	if !ok {
		return user.Identity{}, user.ErrUnknownSession
	}
	return id, nil
}

type received struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// drain returns every event queued to c so far.
func drain(t *testing.T, c *Conn) []received {
	t.Helper()

	var out []received
	for {
		select {
		case data := <-c.send:
			var ev received
			if err := json.Unmarshal(data, &ev); err != nil {
				t.Fatalf("queued invalid JSON: %v", err)
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ofType(events []received, typ EventType) []received {
	var out []received
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func decodeAs[T any](t *testing.T, ev received) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(ev.Payload, &v); err != nil {
		t.Fatalf("decode %s payload: %v", ev.Type, err)
	}
	return v
}

// only asserts exactly one event of typ was queued and decodes it.
func only[T any](t *testing.T, events []received, typ EventType) T {
	t.Helper()

	matching := ofType(events, typ)
	if len(matching) != 1 {
		t.Fatalf("got %d %q events, want 1 (all: %v)", len(matching), typ, types(events))
	}
	return decodeAs[T](t, matching[0])
}

func types(events []received) []EventType {
	out := make([]EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}
