package chat

import (
	"context"
	"testing"
	"time"
)

func TestJoinReplaysHistoryInOrder(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryArchive(), 10)
	b := NewBroadcaster(store, 2, time.Minute)
	t.Cleanup(b.Shutdown)

	store.Create(ctx, "main", "alice", "one", ContentText, "")
	store.Create(ctx, "main", "alice", "two", ContentText, "")
	store.Create(ctx, "main", "alice", "three", ContentText, "")

	c := NewConn(nil, 8)
	history, err := b.Join(ctx, c, "main")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	if len(history) != 2 || history[0].Body != "two" || history[1].Body != "three" {
		t.Fatalf("history = %+v", history)
	}

	replayed := only[[]Message](t, drain(t, c), EventHistory)
	if len(replayed) != 2 || replayed[1].Body != "three" {
		t.Fatalf("queued history = %+v", replayed)
	}

	b.Join(ctx, c, "main")
	if n := b.Members("main"); n != 1 {
		t.Fatalf("Members = %d after repeated join, want 1", n)
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	ctx := context.Background()
	b := NewBroadcaster(NewStore(NewMemoryArchive(), 10), 10, time.Minute)
	t.Cleanup(b.Shutdown)

	sender := NewConn(nil, 8)
	peer := NewConn(nil, 8)
	outsider := NewConn(nil, 8)
	b.Join(ctx, sender, "main")
	b.Join(ctx, peer, "main")
	b.Join(ctx, outsider, "other")
	drain(t, sender)
	drain(t, peer)
	drain(t, outsider)

	b.Broadcast("main", Event{Type: EventTyping, Payload: TypingNotice{Room: "main", Name: "alice"}}, sender)

	if events := drain(t, sender); len(events) != 0 {
		t.Fatalf("sender received %v", types(events))
	}
	only[TypingNotice](t, drain(t, peer), EventTyping)
	if events := drain(t, outsider); len(events) != 0 {
		t.Fatalf("member of another room received %v", types(events))
	}
}

func TestSlowConsumerIsEvicted(t *testing.T) {
	ctx := context.Background()
	b := NewBroadcaster(NewStore(NewMemoryArchive(), 10), 10, time.Minute)
	t.Cleanup(b.Shutdown)

	slow := NewConn(nil, 1)
	fast := NewConn(nil, 16)
	b.Join(ctx, slow, "main") // the history event fills the slow queue
	b.Join(ctx, fast, "main")

	for i := 0; i < 3; i++ {
		b.Broadcast("main", Event{Type: EventDelivered, Payload: DeliveredNotice{ID: "x"}}, nil)
	}

	if !slow.Closed() {
		t.Fatal("slow consumer should have been closed")
	}
	if got := len(ofType(drain(t, fast), EventDelivered)); got != 3 {
		t.Fatalf("fast member received %d events, want 3", got)
	}
}

func TestLeaveAllAndIdleReap(t *testing.T) {
	ctx := context.Background()
	b := NewBroadcaster(NewStore(NewMemoryArchive(), 10), 10, 20*time.Millisecond)
	t.Cleanup(b.Shutdown)

	reaped := make(chan string, 4)
	b.OnReap(func(room string) { reaped <- room })

	c := NewConn(nil, 8)
	b.Join(ctx, c, "a")
	b.Join(ctx, c, "b")

	b.LeaveAll(c)
	if len(c.Rooms()) != 0 || b.Members("a") != 0 || b.Members("b") != 0 {
		t.Fatal("LeaveAll left memberships behind")
	}

	got := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case room := <-reaped:
			got[room] = true
		case <-timeout:
			t.Fatalf("rooms reaped = %v, want a and b", got)
		}
	}
}

func TestJoinCancelsReap(t *testing.T) {
	ctx := context.Background()
	b := NewBroadcaster(NewStore(NewMemoryArchive(), 10), 10, 30*time.Millisecond)
	t.Cleanup(b.Shutdown)

	reaped := make(chan string, 1)
	b.OnReap(func(room string) { reaped <- room })

	c := NewConn(nil, 8)
	b.Join(ctx, c, "main")

	select {
	case room := <-reaped:
		t.Fatalf("occupied room %q was reaped", room)
	case <-time.After(100 * time.Millisecond):
	}

	if b.Members("main") != 1 {
		t.Fatal("member lost")
	}
}
