package download

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/junyaninflection/AudioStreaming/internal/transport"
)

// Stream states
const (
	streamPending int32 = iota // created, binding scheduled but not run
	streamActive               // bound to a transport task
	streamRemoved              // finished, canceled, or dropped before binding
)

// EventKind identifies the payload of a stream event
type EventKind int

const (
	// EventResponse carries the response metadata, delivered once before any data
	EventResponse EventKind = iota
	// EventData carries one chunk of body bytes
	EventData
	// EventComplete is the terminal event; Err is nil on normal completion
	EventComplete
)

// Event is one delivery on a stream's event channel
type Event struct {
	Kind     EventKind
	Response *transport.Response
	Data     []byte
	Err      error
}

// Stream is the caller-facing handle for one streaming download. Two streams
// are the same stream iff their IDs are equal. The event channel is never
// closed; consumers stop at EventComplete or on Done.
type Stream struct {
	id        uuid.UUID
	req       *http.Request
	createdAt time.Time

	events chan Event
	done   chan struct{} // closed after err is recorded
	quit   chan struct{} // closed on removal, gates late deliveries

	state atomic.Int32
	task  atomic.Pointer[transport.Task]

	bytesReceived atomic.Int64

	finishOnce sync.Once
	err        error
}

func newStream(req *http.Request, eventBuffer int) *Stream {
	return &Stream{
		id:        uuid.New(),
		req:       req,
		createdAt: time.Now(),
		events:    make(chan Event, eventBuffer),
		done:      make(chan struct{}),
		quit:      make(chan struct{}),
	}
}

// ID returns the process-unique stream identifier
func (s *Stream) ID() uuid.UUID {
	return s.id
}

// URL returns the request URL for logging and introspection
func (s *Stream) URL() string {
	if s.req == nil || s.req.URL == nil {
		return ""
	}
	return s.req.URL.String()
}

// CreatedAt returns the stream creation time
func (s *Stream) CreatedAt() time.Time {
	return s.createdAt
}

// Events returns the channel carrying response, data, and completion events
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Done is closed once the stream has finished for any reason
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error, nil while the stream is still running and
// nil after a normal completion
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// BytesReceived returns the number of body bytes delivered so far
func (s *Stream) BytesReceived() int64 {
	return s.bytesReceived.Load()
}

// State returns a human-readable stream state
func (s *Stream) State() string {
	switch s.state.Load() {
	case streamPending:
		return "pending"
	case streamActive:
		return "active"
	case streamRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Cancel stops the download. A stream canceled before its binding step runs
// finishes immediately without ever creating a transport task; an active
// stream has its task canceled and finishes once the transport reports
// completion. Cancel is idempotent.
func (s *Stream) Cancel() {
	for {
		switch s.state.Load() {
		case streamPending:
			if s.state.CompareAndSwap(streamPending, streamRemoved) {
				close(s.quit)
				s.finish(ErrStreamCanceled)
				return
			}
		case streamActive:
			if t := s.task.Load(); t != nil {
				t.Cancel()
			}
			return
		default:
			return
		}
	}
}

// materialize creates the transport task for this stream's request
func (s *Stream) materialize(session *transport.Session) (*transport.Task, error) {
	return session.DataTask(s.req)
}

// setTask records the bound transport task
func (s *Stream) setTask(t *transport.Task) {
	s.task.Store(t)
}

// Task returns the bound transport task, nil before binding completes
func (s *Stream) Task() *transport.Task {
	return s.task.Load()
}

// isPending reports whether the binding step has not run yet
func (s *Stream) isPending() bool {
	return s.state.Load() == streamPending
}

// markActive moves the stream from pending to active. It fails when the
// stream was canceled or removed first.
func (s *Stream) markActive() bool {
	return s.state.CompareAndSwap(streamPending, streamActive)
}

// markRemoved forces the stream into the removed state from anywhere.
// Returns true on the first transition only. Removed is terminal, so at most
// one caller ever wins the swap and closes quit.
func (s *Stream) markRemoved() bool {
	for {
		current := s.state.Load()
		if current == streamRemoved {
			return false
		}
		if s.state.CompareAndSwap(current, streamRemoved) {
			close(s.quit)
			return true
		}
	}
}

// deliverResponse forwards response metadata to the consumer. Late
// deliveries after removal are dropped.
func (s *Stream) deliverResponse(resp *transport.Response) {
	select {
	case s.events <- Event{Kind: EventResponse, Response: resp}:
	case <-s.quit:
	}
}

// deliverData forwards one chunk of body bytes to the consumer, blocking for
// backpressure while the stream is live and dropping once it is removed.
// Returns the total byte count after this chunk.
func (s *Stream) deliverData(data []byte) int64 {
	total := s.bytesReceived.Add(int64(len(data)))
	select {
	case s.events <- Event{Kind: EventData, Data: data}:
	case <-s.quit:
	}
	return total
}

// finish records the terminal error, emits the completion event, and closes
// Done. Only the first call has any effect.
func (s *Stream) finish(err error) {
	s.finishOnce.Do(func() {
		s.markRemoved()
		s.err = err

		// Best effort: Done below is the reliable completion signal when
		// the consumer stopped draining events.
		select {
		case s.events <- Event{Kind: EventComplete, Err: err}:
		default:
		}

		close(s.done)
	})
}
