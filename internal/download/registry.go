package download

import (
	"github.com/google/uuid"

	"github.com/junyaninflection/AudioStreaming/internal/transport"
)

// taskBindings is the bidirectional mapping between streams and their
// transport tasks. Both directions resolve in O(1). It is not internally
// synchronized: every call must hold the Coordinator's lock.
type taskBindings struct {
	byStream map[uuid.UUID]*transport.Task
	byTask   map[uint64]*Stream
}

func newTaskBindings() *taskBindings {
	return &taskBindings{
		byStream: make(map[uuid.UUID]*transport.Task),
		byTask:   make(map[uint64]*Stream),
	}
}

// set binds a stream to a task, last write wins. Stale entries on either
// side are dropped so the mapping stays bijective for any call sequence.
func (b *taskBindings) set(s *Stream, t *transport.Task) {
	if old, ok := b.byStream[s.id]; ok {
		delete(b.byTask, old.ID())
	}
	if prev, ok := b.byTask[t.ID()]; ok {
		delete(b.byStream, prev.id)
	}

	b.byStream[s.id] = t
	b.byTask[t.ID()] = s
}

// taskFor returns the task bound to the stream
func (b *taskBindings) taskFor(s *Stream) (*transport.Task, bool) {
	t, ok := b.byStream[s.id]
	return t, ok
}

// streamFor returns the stream bound to the task
func (b *taskBindings) streamFor(t *transport.Task) (*Stream, bool) {
	s, ok := b.byTask[t.ID()]
	return s, ok
}

// remove drops the stream's binding in both directions. Removing an unbound
// stream is a no-op.
func (b *taskBindings) remove(s *Stream) {
	t, ok := b.byStream[s.id]
	if !ok {
		return
	}

	delete(b.byStream, s.id)
	delete(b.byTask, t.ID())
}

// size returns the number of bindings
func (b *taskBindings) size() int {
	return len(b.byStream)
}
