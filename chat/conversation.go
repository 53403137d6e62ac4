package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"peerchat/store"
)

// Conversation is the in-memory message cache for one open peer
// conversation. It is seeded by one bulk fetch and kept current by feed
// events; merges are idempotent under duplicate and out-of-order delivery.
type Conversation struct {
	store *store.Store
	me    string
	peer  string
	log   zerolog.Logger

	mu   sync.Mutex
	msgs []store.ConversationRow
}

// NewConversation creates an empty cache for the (me, peer) pair.
func NewConversation(st *store.Store, me, peer string, log zerolog.Logger) *Conversation {
	return &Conversation{store: st, me: me, peer: peer, log: log}
}

// Load replaces the cache with a full fetch of the conversation, each row
// annotated with the receiver's presence at fetch time. A fetch error is
// fatal to this load but leaves any previously loaded cache intact.
func (c *Conversation) Load(ctx context.Context) error {
	rows, err := c.store.QueryConversation(ctx, c.me, c.peer)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	c.mu.Lock()
	c.msgs = rows
	c.mu.Unlock()
	return nil
}

// ApplyInsert merges one inserted message into the cache. Messages outside
// the pair and duplicate ids are no-ops. The receiver_online annotation is
// decided here, at dispatch time: a message addressed to the local viewer
// is seen by definition; one addressed to the peer takes a live presence
// lookup so the sender knows whether the other end can currently see it.
func (c *Conversation) ApplyInsert(ctx context.Context, msg store.MessageRow) {
	if !c.pairMatches(msg) {
		return
	}

	online := true
	if msg.ReceiverID != c.me {
		online = false
		user, err := c.store.GetUser(ctx, msg.ReceiverID)
		switch {
		case err == nil:
			online = user.IsOnline
		case errors.Is(err, store.ErrNotFound):
			// Unknown receiver reads as offline.
		default:
			c.log.Warn().Err(err).Str("receiver", msg.ReceiverID).
				Msg("presence lookup failed, assuming offline")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexLocked(msg.ID) >= 0 {
		return
	}

	row := store.ConversationRow{MessageRow: msg, ReceiverOnline: online}
	at := sort.Search(len(c.msgs), func(i int) bool {
		if c.msgs[i].CreatedAt != row.CreatedAt {
			return c.msgs[i].CreatedAt > row.CreatedAt
		}
		return c.msgs[i].ID > row.ID
	})
	c.msgs = append(c.msgs, store.ConversationRow{})
	copy(c.msgs[at+1:], c.msgs[at:])
	c.msgs[at] = row
}

// ApplyUpdate patches the mutable fields (seen, seen_at) of a cached
// message in place, preserving its position. Updates for ids not in the
// cache are benign no-ops.
func (c *Conversation) ApplyUpdate(msg store.MessageRow) {
	if !c.pairMatches(msg) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexLocked(msg.ID)
	if idx < 0 {
		return
	}
	c.msgs[idx].Seen = msg.Seen
	c.msgs[idx].SeenAt = msg.SeenAt
}

// Messages returns an ordered snapshot of the cached conversation.
func (c *Conversation) Messages() []store.ConversationRow {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]store.ConversationRow, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Len returns the number of cached messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *Conversation) pairMatches(msg store.MessageRow) bool {
	return (msg.SenderID == c.me && msg.ReceiverID == c.peer) ||
		(msg.SenderID == c.peer && msg.ReceiverID == c.me)
}

func (c *Conversation) indexLocked(id string) int {
	for i := range c.msgs {
		if c.msgs[i].ID == id {
			return i
		}
	}
	return -1
}
