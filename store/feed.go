package store

import (
	"fmt"
	"sync"
)

// Op tags the kind of row change carried by a RowEvent.
type Op string

const (
	// OpInsert marks a newly committed row.
	OpInsert Op = "insert"
	// OpUpdate marks a partial update to an existing row.
	OpUpdate Op = "update"
)

// Table names a relation the feed can be scoped to.
type Table string

const (
	// TableMessages scopes a subscription to the messages relation.
	TableMessages Table = "messages"
	// TableUsers scopes a subscription to the users relation.
	TableUsers Table = "users"
)

// RowEvent is one change notification: a tagged variant carrying exactly one
// typed row value matching its Table.
type RowEvent struct {
	Op      Op          `json:"op"`
	Table   Table       `json:"table"`
	Message *MessageRow `json:"message,omitempty"`
	User    *UserRow    `json:"user,omitempty"`
}

// EventStream is one open subscription on a change feed. The channel closes
// when the stream is closed or the feed shuts down.
type EventStream interface {
	Events() <-chan RowEvent
	Close()
}

// Source hands out scoped event streams. Both the in-process Feed and the
// WebSocket feed client satisfy it.
type Source interface {
	Subscribe(table Table, filterCol, filterVal string) (EventStream, error)
}

const subscriptionBuffer = 64

// Feed fans committed row changes out to scoped subscribers. Emission order
// is commit order. A subscriber that falls behind its buffer loses events
// rather than blocking commits.
type Feed struct {
	mu     sync.Mutex
	nextID int64
	subs   map[int64]*feedSub
	closed bool
}

type feedSub struct {
	feed      *Feed
	id        int64
	table     Table
	filterCol string
	filterVal string
	events    chan RowEvent
	closeOnce sync.Once
}

func newFeed() *Feed {
	return &Feed{subs: make(map[int64]*feedSub)}
}

// Subscribe opens a stream over one table, optionally narrowed by an
// equality filter on a single column. Empty filterCol means no filter.
func (f *Feed) Subscribe(table Table, filterCol, filterVal string) (EventStream, error) {
	switch table {
	case TableMessages, TableUsers:
	default:
		return nil, fmt.Errorf("subscribe: unknown table %q", table)
	}
	if filterCol != "" {
		if _, ok := eventColumn(RowEvent{Table: table, Message: &MessageRow{}, User: &UserRow{}}, filterCol); !ok {
			return nil, fmt.Errorf("subscribe: table %q has no filterable column %q", table, filterCol)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	sub := &feedSub{
		feed:      f,
		id:        f.nextID,
		table:     table,
		filterCol: filterCol,
		filterVal: filterVal,
		events:    make(chan RowEvent, subscriptionBuffer),
	}
	if f.closed {
		sub.closeOnce.Do(func() { close(sub.events) })
		return sub, nil
	}
	f.subs[sub.id] = sub
	return sub, nil
}

// Events returns the stream's delivery channel.
func (s *feedSub) Events() <-chan RowEvent {
	return s.events
}

// Close detaches the stream. Closing an already-closed stream is a no-op.
func (s *feedSub) Close() {
	s.closeOnce.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s.id)
		s.feed.mu.Unlock()
		close(s.events)
	})
}

// publish delivers one committed change to every matching subscriber.
func (f *Feed) publish(ev RowEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		if sub.table != ev.Table {
			continue
		}
		if sub.filterCol != "" {
			val, ok := eventColumn(ev, sub.filterCol)
			if !ok || val != sub.filterVal {
				continue
			}
		}
		select {
		case sub.events <- ev:
		default:
			// Subscriber buffer full; the commit must not block.
		}
	}
}

func (f *Feed) closeAll() {
	f.mu.Lock()
	subs := make([]*feedSub, 0, len(f.subs))
	for _, sub := range f.subs {
		subs = append(subs, sub)
	}
	f.closed = true
	f.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// eventColumn resolves a filterable column value from an event's row.
func eventColumn(ev RowEvent, col string) (string, bool) {
	switch ev.Table {
	case TableMessages:
		if ev.Message == nil {
			return "", false
		}
		switch col {
		case "id":
			return ev.Message.ID, true
		case "sender_id":
			return ev.Message.SenderID, true
		case "receiver_id":
			return ev.Message.ReceiverID, true
		}
	case TableUsers:
		if ev.User == nil {
			return "", false
		}
		if col == "id" {
			return ev.User.ID, true
		}
	}
	return "", false
}
