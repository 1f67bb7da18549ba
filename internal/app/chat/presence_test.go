package chat

import (
	"context"
	"errors"
	"slices"
	"testing"

	"roomchat/internal/app/user"
)

func newTestPresence() *Presence {
	return NewPresence(fakeResolver{
		"t-alice-web":   {Username: "alice", Device: "web"},
		"t-alice-phone": {Username: "alice", Device: "phone"},
		"t-bob":         {Username: "bob", Device: "web"},
	})
}

func TestPresenceTwoConnections(t *testing.T) {
	ctx := context.Background()
	p := newTestPresence()

	observer := NewConn(nil, 64)
	web := NewConn(nil, 64)
	phone := NewConn(nil, 64)
	for _, c := range []*Conn{observer, web, phone} {
		p.Attach(c)
	}

	if _, err := p.Authenticate(ctx, web, "t-alice-web"); err != nil {
		t.Fatalf("Authenticate web: %v", err)
	}
	events := drain(t, observer)
	if got := only[PresenceNotice](t, events, EventPresence); got != (PresenceNotice{User: "alice", Online: true}) {
		t.Fatalf("presence = %+v", got)
	}

	p.Authenticate(ctx, phone, "t-alice-phone")
	events = drain(t, observer)
	if n := len(ofType(events, EventPresence)); n != 0 {
		t.Fatalf("second device emitted %d presence events", n)
	}
	if got := only[[]string](t, events, EventOnlineUpdate); !slices.Equal(got, []string{"alice"}) {
		t.Fatalf("online_update = %v", got)
	}

	p.Drop(web)
	events = drain(t, observer)
	if n := len(ofType(events, EventPresence)); n != 0 {
		t.Fatal("dropping one of two connections emitted an offline transition")
	}
	only[[]string](t, events, EventOnlineUpdate)
	if !p.IsOnline("alice") {
		t.Fatal("alice should still be online")
	}

	p.Drop(phone)
	events = drain(t, observer)
	if got := only[PresenceNotice](t, events, EventPresence); got.Online {
		t.Fatalf("expected offline transition, got %+v", got)
	}
	if got := only[[]string](t, events, EventOnlineUpdate); len(got) != 0 {
		t.Fatalf("online_update = %v, want empty", got)
	}
}

func TestPresenceUnknownTokenIsSilent(t *testing.T) {
	p := newTestPresence()
	c := NewConn(nil, 8)
	p.Attach(c)

	_, err := p.Authenticate(context.Background(), c, "forged")
	if !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("err = %v, want ErrAuthFailure", err)
	}
	if events := drain(t, c); len(events) != 0 {
		t.Fatalf("unknown token produced events: %v", types(events))
	}
	if _, ok := c.Identity(); ok {
		t.Fatal("connection should stay anonymous")
	}
}

func TestPresenceDropAnonymousIsNoop(t *testing.T) {
	p := newTestPresence()
	observer := NewConn(nil, 8)
	anon := NewConn(nil, 8)
	p.Attach(observer)
	p.Attach(anon)

	p.Drop(anon)

	if events := drain(t, observer); len(events) != 0 {
		t.Fatalf("dropping an anonymous connection emitted %v", types(events))
	}
}

func TestPresenceReauthenticateAsOtherUser(t *testing.T) {
	ctx := context.Background()
	p := newTestPresence()
	c := NewConn(nil, 64)
	p.Attach(c)

	p.Authenticate(ctx, c, "t-alice-web")
	drain(t, c)

	identity, err := p.Authenticate(ctx, c, "t-bob")
	if err != nil || identity != (user.Identity{Username: "bob", Device: "web"}) {
		t.Fatalf("Authenticate = %+v, %v", identity, err)
	}

	if p.IsOnline("alice") {
		t.Fatal("alice should have gone offline")
	}
	if got := p.Online(); !slices.Equal(got, []string{"bob"}) {
		t.Fatalf("Online = %v", got)
	}

	notices := ofType(drain(t, c), EventPresence)
	if len(notices) != 2 {
		t.Fatalf("got %d presence events, want offline alice + online bob", len(notices))
	}
}
