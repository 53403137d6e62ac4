package chat

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"peerchat/store"
)

func newChatStore(t *testing.T) *store.Store {
	t.Helper()
	st, _, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return st
}

func mustUser(t *testing.T, st *store.Store, id, username string) {
	t.Helper()
	if err := st.UpsertUser(context.Background(), store.UserRow{ID: id, Username: username}); err != nil {
		t.Fatalf("UpsertUser %q failed: %v", id, err)
	}
}

func mustMessage(t *testing.T, st *store.Store, msg store.MessageRow) store.MessageRow {
	t.Helper()
	if err := st.InsertMessage(context.Background(), &msg); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	return msg
}

// waitFor polls until cond holds or the deadline passes. Feed dispatch is
// asynchronous, so assertions on subscription side effects go through here.
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
