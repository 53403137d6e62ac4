// Package chat is the realtime conversation synchronization core: it keeps
// a client's view of a one-to-one conversation (messages, seen state, peer
// presence, unseen counts) consistent with the shared store's change feed.
package chat

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"peerchat/store"
)

// Scope is the predicate defining which change events a subscription
// receives. Server-side filtering narrows delivery where the feed's
// single-column filter can express the scope; Matches re-validates every
// delivered event client-side regardless.
type Scope interface {
	// Table names the relation the scope watches.
	Table() store.Table
	// Filter returns the feed-side equality filter, or "" for none.
	Filter() (col, val string)
	// Matches reports whether a delivered event belongs to the scope.
	Matches(ev store.RowEvent) bool
}

// ConversationScope watches all messages between one unordered pair. The
// feed cannot express a two-endpoint predicate with one equality filter, so
// the subscription is table-wide and relies entirely on Matches.
type ConversationScope struct {
	Me   string
	Peer string
}

func (s ConversationScope) Table() store.Table { return store.TableMessages }

func (s ConversationScope) Filter() (string, string) { return "", "" }

func (s ConversationScope) Matches(ev store.RowEvent) bool {
	msg := ev.Message
	if msg == nil {
		return false
	}
	return (msg.SenderID == s.Me && msg.ReceiverID == s.Peer) ||
		(msg.SenderID == s.Peer && msg.ReceiverID == s.Me)
}

// ProfileScope watches a single user's row, typically the open
// conversation's peer, for presence and profile refreshes.
type ProfileScope struct {
	UserID string
}

func (s ProfileScope) Table() store.Table { return store.TableUsers }

func (s ProfileScope) Filter() (string, string) { return "id", s.UserID }

func (s ProfileScope) Matches(ev store.RowEvent) bool {
	return ev.User != nil && ev.User.ID == s.UserID
}

// InboxScope watches every message addressed to one user, across all
// conversations. It drives unseen-count refreshes.
type InboxScope struct {
	Me string
}

func (s InboxScope) Table() store.Table { return store.TableMessages }

func (s InboxScope) Filter() (string, string) { return "receiver_id", s.Me }

func (s InboxScope) Matches(ev store.RowEvent) bool {
	return ev.Message != nil && ev.Message.ReceiverID == s.Me
}

// Bus turns the store's change feed into scoped, typed local event
// deliveries. Multiple independent subscriptions can be open concurrently.
type Bus struct {
	source store.Source
	log    zerolog.Logger
}

// NewBus wraps a feed source. The source may be the store's in-process feed
// or a remote feed client.
func NewBus(source store.Source, log zerolog.Logger) *Bus {
	return &Bus{source: source, log: log}
}

// Subscribe opens one scoped stream and dispatches its events, in delivery
// order, to the insert and update callbacks. Events that fail the scope's
// client-side re-validation are silently discarded. The returned handle
// must be closed when the owning view goes away.
func (b *Bus) Subscribe(scope Scope, onInsert, onUpdate func(store.RowEvent)) (*Subscription, error) {
	col, val := scope.Filter()
	stream, err := b.source.Subscribe(scope.Table(), col, val)
	if err != nil {
		return nil, fmt.Errorf("subscribe scope %T: %w", scope, err)
	}

	sub := &Subscription{stream: stream, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for ev := range stream.Events() {
			if !scope.Matches(ev) {
				continue
			}
			switch ev.Op {
			case store.OpInsert:
				if onInsert != nil {
					onInsert(ev)
				}
			case store.OpUpdate:
				if onUpdate != nil {
					onUpdate(ev)
				}
			default:
				b.log.Debug().Str("op", string(ev.Op)).Msg("dropping event with unknown op")
			}
		}
	}()

	return sub, nil
}

// Subscription is one open change-bus stream. It is Active until Close,
// after which no further callbacks run.
type Subscription struct {
	stream    store.EventStream
	done      chan struct{}
	closeOnce sync.Once
}

// Close detaches the subscription and waits for its dispatch loop to
// drain. Closing an already-closed handle is a no-op, never an error.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.stream.Close()
		<-s.done
	})
}
