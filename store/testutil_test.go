package store

import (
	"context"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustUpsertUser(t *testing.T, store *Store, id, username string) {
	t.Helper()

	if err := store.UpsertUser(context.Background(), UserRow{ID: id, Username: username}); err != nil {
		t.Fatalf("upsert user %q: %v", id, err)
	}
}

func mustInsertMessage(t *testing.T, store *Store, msg MessageRow) MessageRow {
	t.Helper()

	if err := store.InsertMessage(context.Background(), &msg); err != nil {
		t.Fatalf("insert message from %q to %q: %v", msg.SenderID, msg.ReceiverID, err)
	}
	return msg
}
