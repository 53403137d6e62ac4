package chat

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"peerchat/store"
)

// Session owns everything scoped to one open conversation view: the
// message cache, the conversation and peer-profile subscriptions, the
// initial mark-seen, and the unseen refresh. Every handle it opens is
// released on Close, on every exit path.
type Session struct {
	me   string
	peer string
	log  zerolog.Logger

	conv   *Conversation
	seen   *SeenReconciler
	unseen *UnseenCounter

	convSub    *Subscription
	profileSub *Subscription

	mu          sync.Mutex
	peerProfile *store.UserRow

	closeOnce sync.Once
}

// OpenSession seeds the conversation cache, opens the conversation and
// peer-profile subscriptions, fires the seen reconciler once for the open
// transition, and refreshes unseen counts. A failed bulk fetch aborts the
// open with no subscriptions leaked.
func OpenSession(ctx context.Context, st *store.Store, bus *Bus, unseen *UnseenCounter, me, peer string, log zerolog.Logger) (*Session, error) {
	s := &Session{
		me:     me,
		peer:   peer,
		log:    log,
		conv:   NewConversation(st, me, peer, log),
		seen:   NewSeenReconciler(st, log),
		unseen: unseen,
	}

	if err := s.conv.Load(ctx); err != nil {
		return nil, err
	}

	var err error
	s.convSub, err = bus.Subscribe(ConversationScope{Me: me, Peer: peer}, s.onInsert, s.onUpdate)
	if err != nil {
		return nil, err
	}
	s.profileSub, err = bus.Subscribe(ProfileScope{UserID: peer}, s.onProfile, s.onProfile)
	if err != nil {
		s.convSub.Close()
		return nil, err
	}

	// Opening the conversation is the seen transition.
	s.seen.MarkSeen(ctx, me, peer)
	s.refreshUnseen(ctx)

	return s, nil
}

// Messages returns an ordered snapshot of the open conversation.
func (s *Session) Messages() []store.ConversationRow {
	return s.conv.Messages()
}

// PeerProfile returns the latest pushed peer row, if any has arrived since
// the session opened.
func (s *Session) PeerProfile() *store.UserRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peerProfile == nil {
		return nil
	}
	profile := *s.peerProfile
	return &profile
}

// Close tears the session down, releasing both subscriptions. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.convSub.Close()
		s.profileSub.Close()
	})
}

func (s *Session) onInsert(ev store.RowEvent) {
	msg := ev.Message
	if msg == nil {
		return
	}
	ctx := context.Background()
	s.conv.ApplyInsert(ctx, *msg)

	// An incoming message echoed while the conversation is open is seen
	// immediately, and the badge for this peer goes back to zero.
	if msg.ReceiverID == s.me {
		s.seen.MarkSeen(ctx, s.me, s.peer)
		s.refreshUnseen(ctx)
	}
}

func (s *Session) onUpdate(ev store.RowEvent) {
	if ev.Message == nil {
		return
	}
	s.conv.ApplyUpdate(*ev.Message)
}

func (s *Session) onProfile(ev store.RowEvent) {
	if ev.User == nil {
		return
	}
	s.mu.Lock()
	profile := *ev.User
	s.peerProfile = &profile
	s.mu.Unlock()
}

func (s *Session) refreshUnseen(ctx context.Context) {
	if s.unseen == nil {
		return
	}
	if _, err := s.unseen.Recompute(ctx); err != nil {
		s.log.Warn().Err(err).Msg("unseen recompute failed, keeping previous counts")
	}
}
