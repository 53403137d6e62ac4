package store

import (
	"context"
	"testing"
)

func TestFeedFiltersBySingleColumn(t *testing.T) {
	store := newTestStore(t)
	mustUpsertUser(t, store, "me", "Me")
	mustUpsertUser(t, store, "bob", "Bob")
	mustUpsertUser(t, store, "carol", "Carol")

	inbox, err := store.Feed().Subscribe(TableMessages, "receiver_id", "me")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer inbox.Close()

	mustInsertMessage(t, store, MessageRow{ID: "in", SenderID: "bob", ReceiverID: "me", Content: "hi"})
	mustInsertMessage(t, store, MessageRow{ID: "out", SenderID: "me", ReceiverID: "bob", Content: "hey"})
	mustInsertMessage(t, store, MessageRow{ID: "other", SenderID: "bob", ReceiverID: "carol", Content: "yo"})
	mustInsertMessage(t, store, MessageRow{ID: "in2", SenderID: "carol", ReceiverID: "me", Content: "sup"})

	first := <-inbox.Events()
	if first.Message == nil || first.Message.ID != "in" {
		t.Fatalf("expected event for %q, got %+v", "in", first)
	}
	second := <-inbox.Events()
	if second.Message == nil || second.Message.ID != "in2" {
		t.Fatalf("expected event for %q, got %+v", "in2", second)
	}
	select {
	case ev := <-inbox.Events():
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestFeedUnfilteredSeesWholeTable(t *testing.T) {
	store := newTestStore(t)
	mustUpsertUser(t, store, "a", "A")
	mustUpsertUser(t, store, "b", "B")

	all, err := store.Feed().Subscribe(TableMessages, "", "")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer all.Close()

	mustInsertMessage(t, store, MessageRow{SenderID: "a", ReceiverID: "b", Content: "1"})
	mustInsertMessage(t, store, MessageRow{SenderID: "b", ReceiverID: "a", Content: "2"})

	for i := 0; i < 2; i++ {
		ev := <-all.Events()
		if ev.Op != OpInsert || ev.Table != TableMessages {
			t.Fatalf("unexpected event: %+v", ev)
		}
	}

	// User writes never land on a messages stream.
	if err := store.SetPresence(context.Background(), "a", true, 0); err != nil {
		t.Fatalf("SetPresence failed: %v", err)
	}
	select {
	case ev := <-all.Events():
		t.Fatalf("users event leaked onto messages stream: %+v", ev)
	default:
	}
}

func TestFeedRejectsUnknownFilter(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Feed().Subscribe(Table("peers"), "", ""); err == nil {
		t.Fatalf("expected error for unknown table")
	}
	if _, err := store.Feed().Subscribe(TableMessages, "content", "x"); err == nil {
		t.Fatalf("expected error for unfilterable column")
	}
	if _, err := store.Feed().Subscribe(TableUsers, "username", "x"); err == nil {
		t.Fatalf("expected error for unfilterable column")
	}
}

func TestFeedCloseIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	stream, err := store.Feed().Subscribe(TableMessages, "", "")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	stream.Close()
	stream.Close()

	if _, ok := <-stream.Events(); ok {
		t.Fatalf("expected closed events channel")
	}
}

func TestMarkSeenEmitsOneUpdatePerRow(t *testing.T) {
	store := newTestStore(t)
	mustUpsertUser(t, store, "me", "Me")
	mustUpsertUser(t, store, "peer", "Peer")

	base := nowUnixMilli()
	mustInsertMessage(t, store, MessageRow{ID: "u1", SenderID: "peer", ReceiverID: "me", Content: "a", CreatedAt: base})
	mustInsertMessage(t, store, MessageRow{ID: "u2", SenderID: "peer", ReceiverID: "me", Content: "b", CreatedAt: base + 1})

	stream, err := store.Feed().Subscribe(TableMessages, "receiver_id", "me")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer stream.Close()

	updated, err := store.MarkConversationSeen(context.Background(), "me", "peer", base+10)
	if err != nil {
		t.Fatalf("MarkConversationSeen failed: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 updates, got %d", updated)
	}

	got := make(map[string]bool)
	for i := 0; i < 2; i++ {
		ev := <-stream.Events()
		if ev.Op != OpUpdate || ev.Message == nil {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if !ev.Message.Seen || ev.Message.SeenAt == nil || *ev.Message.SeenAt != base+10 {
			t.Fatalf("expected seen row in event, got %+v", ev.Message)
		}
		got[ev.Message.ID] = true
	}
	if !got["u1"] || !got["u2"] {
		t.Fatalf("expected update events for u1 and u2, got %v", got)
	}
}
