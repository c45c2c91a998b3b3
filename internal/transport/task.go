package transport

import (
	"context"
	"net/http"
	"sync/atomic"
)

// Task states
const (
	taskCreated int32 = iota
	taskRunning
	taskDone
	taskCanceled
)

// Task is one asynchronous fetch owned by a Session. It is created suspended
// by Session.DataTask and performs no I/O until Resume.
type Task struct {
	id      uint64
	req     *http.Request
	ctx     context.Context
	cancel  context.CancelFunc
	session *Session

	state         atomic.Int32
	bytesReceived atomic.Int64
}

// ID returns the session-unique task identifier
func (t *Task) ID() uint64 {
	return t.id
}

// URL returns the request URL for logging and introspection
func (t *Task) URL() string {
	if t.req == nil || t.req.URL == nil {
		return ""
	}
	return t.req.URL.String()
}

// Resume starts the fetch. Calling Resume more than once, or after Cancel,
// has no effect.
func (t *Task) Resume() {
	if !t.state.CompareAndSwap(taskCreated, taskRunning) {
		return
	}
	t.session.startTask(t)
}

// Cancel stops the task. It is idempotent and safe to call from any
// goroutine. A task canceled before Resume produces no events at all.
func (t *Task) Cancel() {
	for {
		current := t.state.Load()
		if current == taskDone || current == taskCanceled {
			t.cancel()
			return
		}
		if t.state.CompareAndSwap(current, taskCanceled) {
			if current == taskCreated {
				// Never resumed, so no fetch goroutine will clean up
				// the session's bookkeeping entry.
				t.session.dropTask(t)
			}
			t.cancel()
			return
		}
	}
}

// BytesReceived returns the number of body bytes read so far
func (t *Task) BytesReceived() int64 {
	return t.bytesReceived.Load()
}

// State returns a human-readable task state
func (t *Task) State() string {
	switch t.state.Load() {
	case taskCreated:
		return "created"
	case taskRunning:
		return "running"
	case taskDone:
		return "done"
	case taskCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// finish marks a running task as done. A canceled task keeps its state.
func (t *Task) finish() {
	t.state.CompareAndSwap(taskRunning, taskDone)
}
