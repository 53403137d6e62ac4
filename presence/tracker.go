// Package presence maintains the local user's online/offline flag in the
// shared store via heartbeats and visibility transitions.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultHeartbeatInterval guards against server-side presence expiry.
const DefaultHeartbeatInterval = 60 * time.Second

// teardownTimeout bounds the best-effort offline write on Stop.
const teardownTimeout = 2 * time.Second

// Writer is the slice of the store the tracker needs: one presence row
// write for the local user.
type Writer interface {
	SetPresence(ctx context.Context, id string, online bool, at int64) error
}

// State is the tracker's current side of the online/offline machine.
type State string

const (
	// StateOnline means heartbeats are running.
	StateOnline State = "online"
	// StateOffline means the last write marked the user offline.
	StateOffline State = "offline"
)

// Tracker drives the local user's presence row. Writes are best-effort:
// a failed write is logged and abandoned, never retried, and the next
// heartbeat or transition writes again. An offline transition drains any
// in-flight heartbeat first, so the offline write is always the last one
// to land.
type Tracker struct {
	writer   Writer
	userID   string
	interval time.Duration
	log      zerolog.Logger
	now      func() int64

	mu      sync.Mutex
	state   State
	stopped bool
	beats   *heartbeat
}

// heartbeat is one running heartbeat goroutine: stop signals it, done
// closes once it has exited and none of its writes can still be in flight.
type heartbeat struct {
	stop chan struct{}
	done chan struct{}
}

// NewTracker creates a tracker for one user. A non-positive interval uses
// the 60-second default.
func NewTracker(w Writer, userID string, interval time.Duration, log zerolog.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Tracker{
		writer:   w,
		userID:   userID,
		interval: interval,
		log:      log,
		now:      func() int64 { return time.Now().UnixMilli() },
		state:    StateOffline,
	}
}

// State returns the tracker's current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start marks the user online and begins heartbeats. Entering the view is
// an Online transition; starting an already-online tracker is a no-op.
func (t *Tracker) Start(ctx context.Context) {
	t.goOnline(ctx)
}

// Show transitions back to Online when the view becomes visible again:
// exactly one online write, heartbeats resumed.
func (t *Tracker) Show(ctx context.Context) {
	t.goOnline(ctx)
}

// Hide transitions to Offline when the view is hidden: exactly one offline
// write, heartbeats stopped.
func (t *Tracker) Hide(ctx context.Context) {
	t.mu.Lock()
	if t.stopped || t.state != StateOnline {
		t.mu.Unlock()
		return
	}
	t.state = StateOffline
	done := t.stopBeatsLocked()
	t.mu.Unlock()

	if done != nil {
		<-done
	}
	t.write(ctx, false)
}

// Stop tears the tracker down with a best-effort offline write. The write
// is attempted with a bounded timeout; its failure never blocks teardown.
// Idempotent.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	wasOnline := t.state == StateOnline
	t.state = StateOffline
	done := t.stopBeatsLocked()
	t.mu.Unlock()

	if done != nil {
		<-done
	}
	if wasOnline {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		t.write(ctx, false)
	}
}

func (t *Tracker) goOnline(ctx context.Context) {
	t.mu.Lock()
	if t.stopped || t.state == StateOnline {
		t.mu.Unlock()
		return
	}
	t.state = StateOnline
	hb := &heartbeat{stop: make(chan struct{}), done: make(chan struct{})}
	t.beats = hb
	t.mu.Unlock()

	t.write(ctx, true)

	go func() {
		defer close(hb.done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				select {
				case <-hb.stop:
					return
				default:
				}
				t.write(context.Background(), true)
			case <-hb.stop:
				return
			}
		}
	}()
}

// stopBeatsLocked signals the heartbeat goroutine and returns its done
// channel for the caller to drain; the caller holds t.mu.
func (t *Tracker) stopBeatsLocked() <-chan struct{} {
	if t.beats == nil {
		return nil
	}
	close(t.beats.stop)
	done := t.beats.done
	t.beats = nil
	return done
}

func (t *Tracker) write(ctx context.Context, online bool) {
	if err := t.writer.SetPresence(ctx, t.userID, online, t.now()); err != nil {
		t.log.Warn().Err(err).Bool("online", online).Msg("presence write failed")
	}
}
