package chat

import (
	"context"
	"sync"
	"testing"

	"peerchat/store"
)

// eventSink collects dispatched events under a lock so tests can poll it.
type eventSink struct {
	mu     sync.Mutex
	events []store.RowEvent
}

func (s *eventSink) add(ev store.RowEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *eventSink) snapshot() []store.RowEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.RowEvent, len(s.events))
	copy(out, s.events)
	return out
}

func TestBusDispatchesByOp(t *testing.T) {
	st := newChatStore(t)
	mustUser(t, st, "me", "Me")
	mustUser(t, st, "peer", "Peer")

	bus := NewBus(st.Feed(), testLogger())
	var inserts, updates eventSink
	sub, err := bus.Subscribe(ConversationScope{Me: "me", Peer: "peer"}, inserts.add, updates.add)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	mustMessage(t, st, store.MessageRow{ID: "m1", SenderID: "peer", ReceiverID: "me", Content: "hi"})
	waitFor(t, func() bool { return inserts.len() == 1 }, "insert dispatch")

	if _, err := st.MarkConversationSeen(context.Background(), "me", "peer", 0); err != nil {
		t.Fatalf("MarkConversationSeen failed: %v", err)
	}
	waitFor(t, func() bool { return updates.len() == 1 }, "update dispatch")

	if got := inserts.snapshot()[0]; got.Message == nil || got.Message.ID != "m1" {
		t.Fatalf("unexpected insert event: %+v", got)
	}
	if got := updates.snapshot()[0]; got.Message == nil || !got.Message.Seen {
		t.Fatalf("unexpected update event: %+v", got)
	}
}

func TestBusDiscardsOutOfScopeEvents(t *testing.T) {
	st := newChatStore(t)
	mustUser(t, st, "me", "Me")
	mustUser(t, st, "peer", "Peer")
	mustUser(t, st, "other", "Other")

	bus := NewBus(st.Feed(), testLogger())
	var matched eventSink
	sub, err := bus.Subscribe(ConversationScope{Me: "me", Peer: "peer"}, matched.add, matched.add)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	// The conversation scope is table-wide on the feed side; events for
	// other pairs arrive and must be dropped by client-side re-validation.
	mustMessage(t, st, store.MessageRow{ID: "noise1", SenderID: "other", ReceiverID: "me", Content: "x"})
	mustMessage(t, st, store.MessageRow{ID: "noise2", SenderID: "me", ReceiverID: "other", Content: "y"})
	mustMessage(t, st, store.MessageRow{ID: "hit", SenderID: "me", ReceiverID: "peer", Content: "z"})

	waitFor(t, func() bool { return matched.len() == 1 }, "in-scope dispatch")
	if got := matched.snapshot()[0]; got.Message.ID != "hit" {
		t.Fatalf("expected only %q, got %+v", "hit", got)
	}
}

func TestProfileScopeFiltersServerSide(t *testing.T) {
	st := newChatStore(t)
	mustUser(t, st, "peer", "Peer")
	mustUser(t, st, "other", "Other")

	bus := NewBus(st.Feed(), testLogger())
	var updates eventSink
	sub, err := bus.Subscribe(ProfileScope{UserID: "peer"}, updates.add, updates.add)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if err := st.SetPresence(context.Background(), "other", true, 100); err != nil {
		t.Fatalf("SetPresence failed: %v", err)
	}
	if err := st.SetPresence(context.Background(), "peer", true, 200); err != nil {
		t.Fatalf("SetPresence failed: %v", err)
	}

	waitFor(t, func() bool { return updates.len() == 1 }, "profile dispatch")
	if got := updates.snapshot()[0]; got.User == nil || got.User.ID != "peer" {
		t.Fatalf("unexpected profile event: %+v", got)
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	st := newChatStore(t)

	bus := NewBus(st.Feed(), testLogger())
	sub, err := bus.Subscribe(InboxScope{Me: "me"}, nil, nil)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	sub.Close()
	sub.Close()
}

func TestBusRejectsUnsubscribableScope(t *testing.T) {
	st := newChatStore(t)
	bus := NewBus(st.Feed(), testLogger())

	if _, err := bus.Subscribe(badScope{}, nil, nil); err == nil {
		t.Fatalf("expected subscribe error for invalid scope")
	}
}

type badScope struct{}

func (badScope) Table() store.Table { return store.Table("bogus") }

func (badScope) Filter() (string, string) { return "", "" }

func (badScope) Matches(store.RowEvent) bool { return true }
