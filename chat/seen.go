package chat

import (
	"context"

	"github.com/rs/zerolog"

	"peerchat/store"
)

// SeenReconciler marks a peer's messages to the local user as seen when a
// conversation becomes the active one. The write propagates back through
// the change feed to the sender's view.
type SeenReconciler struct {
	store *store.Store
	log   zerolog.Logger
}

// NewSeenReconciler creates a reconciler over the given store.
func NewSeenReconciler(st *store.Store, log zerolog.Logger) *SeenReconciler {
	return &SeenReconciler{store: st, log: log}
}

// MarkSeen flips every unseen message from peer to me. It never blocks
// message display and is idempotent; a failure is logged and the messages
// simply stay unseen until the next trigger.
func (r *SeenReconciler) MarkSeen(ctx context.Context, me, peer string) {
	updated, err := r.store.MarkConversationSeen(ctx, me, peer, 0)
	if err != nil {
		r.log.Warn().Err(err).Str("me", me).Str("peer", peer).
			Msg("mark-seen failed, will retry on next trigger")
		return
	}
	if updated > 0 {
		r.log.Debug().Int64("updated", updated).Str("peer", peer).Msg("marked conversation seen")
	}
}
