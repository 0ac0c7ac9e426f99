// Package transporttest provides an in-memory transport.Sender for tests.
package transporttest

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/a-essam23/go-chat/pkg/transport"
)

// Frame is a decoded outbound envelope.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Recorder captures every frame sent to it.
type Recorder struct {
	id uuid.UUID

	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	closeErr error
	done     chan struct{}
}

var _ transport.Sender = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{id: uuid.New(), done: make(chan struct{})}
}

func (r *Recorder) ID() uuid.UUID { return r.id }

func (r *Recorder) Send(message []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.frames = append(r.frames, message)
	return true
}

func (r *Recorder) Close(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.closeErr = err
	close(r.done)
}

// Done is closed by the first Close.
func (r *Recorder) Done() <-chan struct{} { return r.done }

// Closed reports whether Close was called and with which error.
func (r *Recorder) Closed() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed, r.closeErr
}

// Frames decodes every captured frame. Undecodable frames are returned with an empty event.
func (r *Recorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Frame, 0, len(r.frames))
	for _, raw := range r.frames {
		var f Frame
		_ = json.Unmarshal(raw, &f)
		out = append(out, f)
	}
	return out
}

// Events returns the frames whose event is name.
func (r *Recorder) Events(name string) []Frame {
	var out []Frame
	for _, f := range r.Frames() {
		if f.Event == name {
			out = append(out, f)
		}
	}
	return out
}

// Last returns the most recent frame named name.
func (r *Recorder) Last(name string) (Frame, bool) {
	events := r.Events(name)
	if len(events) == 0 {
		return Frame{}, false
	}
	return events[len(events)-1], true
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}
