package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"peerchat/store"
)

// UnseenCounter maintains the per-peer unseen badge counts for one user.
// Counts are rebuilt wholesale on every trigger rather than incremented,
// trading redundant queries for immunity to drift under concurrent
// updates.
type UnseenCounter struct {
	store *store.Store
	me    string
	log   zerolog.Logger

	mu     sync.Mutex
	counts map[string]int
}

// NewUnseenCounter creates a counter for the given local user.
func NewUnseenCounter(st *store.Store, me string, log zerolog.Logger) *UnseenCounter {
	return &UnseenCounter{store: st, me: me, log: log, counts: make(map[string]int)}
}

// Recompute replaces the counts from a fresh store query and returns the
// new mapping. On error the previous counts are kept.
func (u *UnseenCounter) Recompute(ctx context.Context) (map[string]int, error) {
	counts, err := u.store.UnseenCounts(ctx, u.me)
	if err != nil {
		return nil, fmt.Errorf("recompute unseen counts: %w", err)
	}

	u.mu.Lock()
	u.counts = counts
	u.mu.Unlock()
	return u.Counts(), nil
}

// Counts returns a snapshot of the current per-peer counts.
func (u *UnseenCounter) Counts() map[string]int {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make(map[string]int, len(u.counts))
	for peer, n := range u.counts {
		out[peer] = n
	}
	return out
}

// Count returns the badge count for one peer.
func (u *UnseenCounter) Count(peer string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[peer]
}

// Watch subscribes the counter to the inbox scope so any insert or update
// on messages addressed to the local user triggers a recompute. The caller
// owns the returned handle.
func (u *UnseenCounter) Watch(bus *Bus) (*Subscription, error) {
	refresh := func(store.RowEvent) {
		if _, err := u.Recompute(context.Background()); err != nil {
			u.log.Warn().Err(err).Msg("unseen recompute failed, keeping previous counts")
		}
	}
	return bus.Subscribe(InboxScope{Me: u.me}, refresh, refresh)
}
