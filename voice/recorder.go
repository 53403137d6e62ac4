// Package voice records audio attachments: a two-state session over an
// exclusive input device, finalizing accumulated chunks into one upload
// payload.
package voice

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"peerchat/blob"
)

var (
	// ErrBusy means the input device already has an active session.
	ErrBusy = errors.New("voice: input device already in use")
	// ErrNotRecording means Stop was called with no active session.
	ErrNotRecording = errors.New("voice: no active recording")
)

// Input is an exclusive audio capture device. Acquire fails while another
// session holds the device; Release must always return it.
type Input interface {
	Acquire() error
	Release()
}

// NewDevice wraps open/close callbacks in the at-most-one-session guard,
// so any capture backend can be injected.
func NewDevice(open func() error, close func()) Input {
	return &device{open: open, close: close}
}

type device struct {
	open  func() error
	close func()

	mu   sync.Mutex
	busy bool
}

func (d *device) Acquire() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy {
		return ErrBusy
	}
	if d.open != nil {
		if err := d.open(); err != nil {
			return fmt.Errorf("open audio input: %w", err)
		}
	}
	d.busy = true
	return nil
}

func (d *device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.busy {
		return
	}
	d.busy = false
	if d.close != nil {
		d.close()
	}
}

// Recorder is the Idle/Recording state machine. Start acquires the input;
// Stop finalizes the chunks into one attachment and releases the input
// unconditionally, even if the caller then abandons the attachment.
type Recorder struct {
	input Input
	now   func() time.Time

	mu        sync.Mutex
	recording bool
	chunks    [][]byte
}

// NewRecorder creates an idle recorder over the given input device.
func NewRecorder(input Input) *Recorder {
	return &Recorder{input: input, now: time.Now}
}

// Recording reports whether a session is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Start acquires the input and begins a session. A second Start while
// recording, or while another session holds the device, fails.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return ErrBusy
	}
	if err := r.input.Acquire(); err != nil {
		return err
	}
	r.chunks = nil
	r.recording = true
	return nil
}

// Push appends one captured chunk. Empty chunks and chunks outside an
// active session are dropped.
func (r *Recorder) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	r.chunks = append(r.chunks, chunk)
}

// Stop finalizes the session into one audio attachment named
// voice-<unix-ms>.webm and releases the input device.
func (r *Recorder) Stop() (*blob.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return nil, ErrNotRecording
	}
	defer r.input.Release()

	r.recording = false
	var data []byte
	for _, chunk := range r.chunks {
		data = append(data, chunk...)
	}
	r.chunks = nil

	return &blob.Attachment{
		Name: fmt.Sprintf("voice-%d.webm", r.now().UnixMilli()),
		Kind: blob.KindAudio,
		Data: bytes.NewReader(data),
	}, nil
}
