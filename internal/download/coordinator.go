package download

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/junyaninflection/AudioStreaming/internal/config"
	"github.com/junyaninflection/AudioStreaming/internal/metrics"
	"github.com/junyaninflection/AudioStreaming/internal/transport"
)

// ErrClientClosed is the terminal error of streams requested after Close
var ErrClientClosed = errors.New("download: coordinator closed")

// ErrStreamCanceled is the terminal error of streams canceled before
// completing
var ErrStreamCanceled = errors.New("download: stream canceled")

// Coordinator owns the set of live streams and the bidirectional binding
// between each stream and its transport task. Every mutation of that state
// runs on a single coordination goroutine, one job at a time, in submission
// order; an RWMutex additionally guards the maps so the reverse lookup used
// by transport callbacks never observes a torn state.
type Coordinator struct {
	session *transport.Session
	logger  *slog.Logger
	metrics *metrics.Metrics
	config  *config.DownloadsConfig

	jobs     chan func()
	quit     chan struct{}
	loopDone chan struct{}

	mu         sync.RWMutex
	bindings   *taskBindings
	active     map[uuid.UUID]*Stream
	generation uint64
	closed     bool

	// Statistics
	streamsStarted  uint64
	streamsFinished uint64
	streamsCanceled uint64
	streamsFailed   uint64
	bindAborts      uint64
	lookupMisses    uint64
}

// CoordinatorStats represents coordinator statistics for monitoring
type CoordinatorStats struct {
	ActiveStreams   int                    `json:"active_streams"`
	StreamsStarted  uint64                 `json:"streams_started"`
	StreamsFinished uint64                 `json:"streams_finished"`
	StreamsCanceled uint64                 `json:"streams_canceled"`
	StreamsFailed   uint64                 `json:"streams_failed"`
	BindAborts      uint64                 `json:"bind_aborts"`
	LookupMisses    uint64                 `json:"lookup_misses"`
	QueueDepth      int                    `json:"queue_depth"`
	QueueCapacity   int                    `json:"queue_capacity"`
	Session         transport.SessionStats `json:"session"`
}

// NewCoordinator creates a coordinator with its own transport session and
// starts the coordination goroutine
func NewCoordinator(cfg *config.DownloadsConfig, transportCfg *config.TransportConfig, logger *slog.Logger, m *metrics.Metrics) *Coordinator {
	c := &Coordinator{
		logger:   logger,
		metrics:  m,
		config:   cfg,
		jobs:     make(chan func(), cfg.QueueSize),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		bindings: newTaskBindings(),
		active:   make(map[uuid.UUID]*Stream),
	}

	delegate := &sessionDelegate{
		coordinator: c,
		logger:      logger.With(slog.String("component", "delegate")),
		metrics:     m,
	}
	c.session = transport.NewSession(transportCfg, delegate, logger.With(slog.String("component", "transport")))

	go c.run()

	return c
}

// Stream creates a handle for the request and schedules its binding step on
// the coordination queue. The handle is returned immediately; the transport
// task does not exist until the scheduled step runs. Failures surface
// through the handle's completion event, never synchronously.
func (c *Coordinator) Stream(req *http.Request) *Stream {
	handle := newStream(req, c.config.EventBuffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		handle.finish(ErrClientClosed)
		return handle
	}
	generation := c.generation
	c.streamsStarted++
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordStreamStarted()
	}

	c.logger.Debug("Stream requested",
		slog.String("stream_id", handle.id.String()),
		slog.String("url", handle.URL()),
	)

	c.enqueue(func() { c.bind(handle, generation) })

	return handle
}

// CancelAll cancels every active stream. The active set and the registry are
// cleared synchronously, so once this returns no task that existed before
// the call resolves to a stream anymore and no in-flight binding step can
// land. The cancel signals themselves propagate asynchronously on the
// coordination queue.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	snapshot := make([]*Stream, 0, len(c.active))
	for _, handle := range c.active {
		snapshot = append(snapshot, handle)
	}
	c.active = make(map[uuid.UUID]*Stream)
	c.bindings = newTaskBindings()
	c.generation++
	c.mu.Unlock()

	c.logger.Info("Canceling all streams", slog.Int("count", len(snapshot)))

	if c.metrics != nil {
		c.metrics.SetActiveStreams(0)
	}

	if len(snapshot) == 0 {
		return
	}

	c.enqueue(func() {
		for _, handle := range snapshot {
			c.cancelStream(handle)
		}
	})
}

// Remove drops the stream from the active set and its registry binding in
// both directions. Removing an absent stream is a no-op.
func (c *Coordinator) Remove(handle *Stream) {
	if handle == nil {
		return
	}

	c.enqueue(func() {
		c.mu.Lock()
		c.removeLocked(handle)
		activeCount := len(c.active)
		c.mu.Unlock()

		if c.metrics != nil {
			c.metrics.SetActiveStreams(activeCount)
		}
	})
}

// StreamForTask resolves which stream a transport task belongs to. It is
// safe to call from any goroutine. A miss means the task is unknown, already
// removed, or superseded by CancelAll; the callback it came from must be
// dropped.
func (c *Coordinator) StreamForTask(task *transport.Task) (*Stream, bool) {
	if task == nil {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	handle, ok := c.bindings.streamFor(task)
	return handle, ok
}

// Lookup returns the active stream with the given identifier
func (c *Coordinator) Lookup(id uuid.UUID) (*Stream, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	handle, ok := c.active[id]
	return handle, ok
}

// Streams returns a snapshot of all active streams (for monitoring)
func (c *Coordinator) Streams() []*Stream {
	c.mu.RLock()
	defer c.mu.RUnlock()

	streams := make([]*Stream, 0, len(c.active))
	for _, handle := range c.active {
		streams = append(streams, handle)
	}

	return streams
}

// Count returns the number of currently active streams
func (c *Coordinator) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.active)
}

// GetStats returns current coordinator statistics
func (c *Coordinator) GetStats() CoordinatorStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CoordinatorStats{
		ActiveStreams:   len(c.active),
		StreamsStarted:  c.streamsStarted,
		StreamsFinished: c.streamsFinished,
		StreamsCanceled: c.streamsCanceled,
		StreamsFailed:   c.streamsFailed,
		BindAborts:      c.bindAborts,
		LookupMisses:    c.lookupMisses,
		QueueDepth:      len(c.jobs),
		QueueCapacity:   cap(c.jobs),
		Session:         c.session.GetStats(),
	}
}

// Close tears the coordinator down: every active stream is canceled, the
// transport session is invalidated so no callback can reach the registry
// afterwards, and the coordination goroutine is stopped. Streams requested
// after Close finish immediately with ErrClientClosed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	snapshot := make([]*Stream, 0, len(c.active))
	for _, handle := range c.active {
		snapshot = append(snapshot, handle)
	}
	c.active = make(map[uuid.UUID]*Stream)
	c.bindings = newTaskBindings()
	c.generation++
	c.mu.Unlock()

	c.logger.Info("Stopping coordinator...", slog.Int("active_streams", len(snapshot)))

	for _, handle := range snapshot {
		if task := handle.Task(); task != nil {
			task.Cancel()
		}
		handle.finish(ErrClientClosed)
	}

	// The coordination loop keeps draining jobs until the session has gone
	// quiet, so delegate completions scheduled during teardown cannot block
	// the delivery goroutine.
	c.session.InvalidateAndCancel()

	close(c.quit)
	<-c.loopDone

	if c.metrics != nil {
		c.metrics.SetActiveStreams(0)
	}

	c.mu.RLock()
	started := c.streamsStarted
	finished := c.streamsFinished
	canceled := c.streamsCanceled
	failed := c.streamsFailed
	c.mu.RUnlock()

	c.logger.Info("Coordinator stopped",
		slog.Uint64("streams_started", started),
		slog.Uint64("streams_finished", finished),
		slog.Uint64("streams_canceled", canceled),
		slog.Uint64("streams_failed", failed),
	)
}

// run is the coordination loop: one job at a time, in submission order
func (c *Coordinator) run() {
	defer close(c.loopDone)

	for {
		select {
		case job := <-c.jobs:
			job()
		case <-c.quit:
			// Jobs already queued still run, so a cancel sweep submitted
			// right before teardown cannot leave streams unfinished.
			for {
				select {
				case job := <-c.jobs:
					job()
				default:
					return
				}
			}
		}
	}
}

// enqueue submits a job to the coordination queue. Jobs submitted after
// teardown are dropped; everything they would do is a no-op by then.
func (c *Coordinator) enqueue(job func()) {
	select {
	case c.jobs <- job:
	case <-c.quit:
	}
}

// bind is the scheduled binding step of Stream. It re-checks the generation
// captured at request time under the write lock before creating the
// transport task: a CancelAll or Close in between makes the step stale, in
// which case no task is created and the handle finishes canceled.
func (c *Coordinator) bind(handle *Stream, generation uint64) {
	c.mu.Lock()

	if c.closed || generation != c.generation || !handle.isPending() {
		c.bindAborts++
		c.mu.Unlock()
		c.abortBind(handle)
		return
	}

	task, err := handle.materialize(c.session)
	if err != nil {
		c.streamsFailed++
		c.mu.Unlock()

		c.logger.Error("Failed to materialize transport task",
			slog.String("stream_id", handle.id.String()),
			slog.String("url", handle.URL()),
			slog.String("error", err.Error()),
		)
		if c.metrics != nil {
			c.metrics.RecordStreamFailed(time.Since(handle.createdAt).Seconds())
		}
		handle.finish(fmt.Errorf("materialize transport task: %w", err))
		return
	}

	handle.setTask(task)
	if !handle.markActive() {
		// Canceled between scheduling and binding. The task was never
		// resumed, so killing it here leaves no trace.
		c.bindAborts++
		c.mu.Unlock()
		task.Cancel()
		c.abortBind(handle)
		return
	}

	c.active[handle.id] = handle
	c.bindings.set(handle, task)
	activeCount := len(c.active)
	c.mu.Unlock()

	task.Resume()

	if c.metrics != nil {
		c.metrics.SetActiveStreams(activeCount)
	}

	c.logger.Debug("Stream bound",
		slog.String("stream_id", handle.id.String()),
		slog.Uint64("task_id", task.ID()),
		slog.String("url", handle.URL()),
	)
}

// abortBind finishes a handle whose binding step was abandoned
func (c *Coordinator) abortBind(handle *Stream) {
	if c.metrics != nil {
		c.metrics.RecordBindAbort()
	}

	c.logger.Debug("Binding step abandoned",
		slog.String("stream_id", handle.id.String()),
	)

	handle.finish(ErrStreamCanceled)
}

// cancelStream cancels one previously active stream as part of CancelAll
func (c *Coordinator) cancelStream(handle *Stream) {
	if task := handle.Task(); task != nil {
		task.Cancel()
	}
	handle.finish(ErrStreamCanceled)

	c.mu.Lock()
	c.streamsCanceled++
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordStreamCanceled(time.Since(handle.createdAt).Seconds())
	}

	c.logger.Debug("Stream canceled",
		slog.String("stream_id", handle.id.String()),
		slog.Int64("bytes_received", handle.BytesReceived()),
	)
}

// removeLocked drops the handle from the active set and the registry. The
// caller holds the write lock. Safe to call any number of times.
func (c *Coordinator) removeLocked(handle *Stream) {
	if current, ok := c.active[handle.id]; ok && current == handle {
		delete(c.active, handle.id)
	}
	c.bindings.remove(handle)
	handle.markRemoved()
}
