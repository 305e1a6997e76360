package stream

import "sync"

// Buffer absorbs bursts from concurrent cell settlements; a slow
// consumer backpressures the scheduler rather than dropping events.
const defaultBuffer = 256

// Stream is the ordered event pipe for one run. The scheduler is the
// only publisher and must call Close exactly once after the terminal
// event; consumers range over Events until the channel closes.
type Stream struct {
	events    chan Event
	closeOnce sync.Once
}

func New() *Stream {
	return &Stream{events: make(chan Event, defaultBuffer)}
}

// Publish appends an event, blocking when the buffer is full.
func (s *Stream) Publish(event Event) {
	s.events <- event
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Close signals stream end. Idempotent.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}
