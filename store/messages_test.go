package store

import (
	"context"
	"errors"
	"testing"
)

func TestInsertMessageRejectsEmptyContent(t *testing.T) {
	store := newTestStore(t)
	mustUpsertUser(t, store, "alice", "Alice")
	mustUpsertUser(t, store, "bob", "Bob")

	err := store.InsertMessage(context.Background(), &MessageRow{
		SenderID:   "alice",
		ReceiverID: "bob",
	})
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}

	conversation, err := store.QueryConversation(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("QueryConversation failed: %v", err)
	}
	if len(conversation) != 0 {
		t.Fatalf("expected no rows after rejected insert, got %d", len(conversation))
	}
}

func TestInsertMessageAllowsAttachmentOnly(t *testing.T) {
	store := newTestStore(t)
	mustUpsertUser(t, store, "alice", "Alice")
	mustUpsertUser(t, store, "bob", "Bob")

	url := "http://blobs/message-image/photo.png"
	msg := MessageRow{SenderID: "alice", ReceiverID: "bob", FileURL: &url}
	if err := store.InsertMessage(context.Background(), &msg); err != nil {
		t.Fatalf("attachment-only insert failed: %v", err)
	}
	if msg.ID == "" || msg.CreatedAt == 0 {
		t.Fatalf("expected assigned id and created_at, got %+v", msg)
	}
}

func TestQueryConversationOrderAndPresenceJoin(t *testing.T) {
	store := newTestStore(t)
	mustUpsertUser(t, store, "me", "Me")
	mustUpsertUser(t, store, "peer", "Peer")
	mustUpsertUser(t, store, "other", "Other")

	base := nowUnixMilli()
	mustInsertMessage(t, store, MessageRow{ID: "m2", SenderID: "me", ReceiverID: "peer", Content: "second", CreatedAt: base + 10})
	mustInsertMessage(t, store, MessageRow{ID: "m1", SenderID: "peer", ReceiverID: "me", Content: "first", CreatedAt: base})
	mustInsertMessage(t, store, MessageRow{ID: "m3", SenderID: "peer", ReceiverID: "me", Content: "third", CreatedAt: base + 20})
	// A message outside the pair must not leak into the conversation.
	mustInsertMessage(t, store, MessageRow{ID: "mx", SenderID: "other", ReceiverID: "me", Content: "noise", CreatedAt: base + 5})

	if err := store.SetPresence(context.Background(), "peer", true, base); err != nil {
		t.Fatalf("SetPresence failed: %v", err)
	}

	conversation, err := store.QueryConversation(context.Background(), "me", "peer")
	if err != nil {
		t.Fatalf("QueryConversation failed: %v", err)
	}
	if len(conversation) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(conversation))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if conversation[i].ID != want {
			t.Fatalf("row %d: expected %q, got %q", i, want, conversation[i].ID)
		}
	}

	// m2 is addressed to peer, who is online at fetch time; m1 and m3 are
	// addressed to me, who is offline in the users table.
	for _, row := range conversation {
		wantOnline := row.ReceiverID == "peer"
		if row.ReceiverOnline != wantOnline {
			t.Fatalf("row %q: expected receiver_online=%v, got %v", row.ID, wantOnline, row.ReceiverOnline)
		}
	}
}

func TestMarkConversationSeenIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	mustUpsertUser(t, store, "me", "Me")
	mustUpsertUser(t, store, "peer", "Peer")

	base := nowUnixMilli()
	mustInsertMessage(t, store, MessageRow{ID: "u1", SenderID: "peer", ReceiverID: "me", Content: "a", CreatedAt: base})
	mustInsertMessage(t, store, MessageRow{ID: "u2", SenderID: "peer", ReceiverID: "me", Content: "b", CreatedAt: base + 1})
	// My own outgoing message must stay untouched.
	mustInsertMessage(t, store, MessageRow{ID: "o1", SenderID: "me", ReceiverID: "peer", Content: "c", CreatedAt: base + 2})

	at := base + 100
	updated, err := store.MarkConversationSeen(context.Background(), "me", "peer", at)
	if err != nil {
		t.Fatalf("MarkConversationSeen failed: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 updated rows, got %d", updated)
	}

	again, err := store.MarkConversationSeen(context.Background(), "me", "peer", at+1)
	if err != nil {
		t.Fatalf("second MarkConversationSeen failed: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected second run to touch nothing, got %d", again)
	}

	seen, err := store.GetMessageByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetMessageByID failed: %v", err)
	}
	if !seen.Seen || seen.SeenAt == nil || *seen.SeenAt != at {
		t.Fatalf("expected u1 seen at %d, got %+v", at, seen)
	}

	outgoing, err := store.GetMessageByID(context.Background(), "o1")
	if err != nil {
		t.Fatalf("GetMessageByID failed: %v", err)
	}
	if outgoing.Seen {
		t.Fatalf("outgoing message must not be marked seen")
	}
}

func TestUnseenCountsGroupsBySender(t *testing.T) {
	store := newTestStore(t)
	mustUpsertUser(t, store, "me", "Me")
	mustUpsertUser(t, store, "bob", "Bob")
	mustUpsertUser(t, store, "carol", "Carol")

	base := nowUnixMilli()
	mustInsertMessage(t, store, MessageRow{SenderID: "bob", ReceiverID: "me", Content: "1", CreatedAt: base})
	mustInsertMessage(t, store, MessageRow{SenderID: "bob", ReceiverID: "me", Content: "2", CreatedAt: base + 1})
	mustInsertMessage(t, store, MessageRow{SenderID: "carol", ReceiverID: "me", Content: "3", CreatedAt: base + 2})
	// Seen rows and rows addressed elsewhere do not count.
	seenAt := base + 3
	mustInsertMessage(t, store, MessageRow{SenderID: "bob", ReceiverID: "me", Content: "4", CreatedAt: base + 3, Seen: true, SeenAt: &seenAt})
	mustInsertMessage(t, store, MessageRow{SenderID: "me", ReceiverID: "bob", Content: "5", CreatedAt: base + 4})

	counts, err := store.UnseenCounts(context.Background(), "me")
	if err != nil {
		t.Fatalf("UnseenCounts failed: %v", err)
	}
	if len(counts) != 2 || counts["bob"] != 2 || counts["carol"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
