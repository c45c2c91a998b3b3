package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/junyaninflection/AudioStreaming/internal/config"
)

// ErrSessionInvalidated is returned by DataTask after InvalidateAndCancel
var ErrSessionInvalidated = errors.New("transport: session invalidated")

// ErrNilRequest is returned by DataTask when no request is given
var ErrNilRequest = errors.New("transport: nil request")

// SessionDelegate receives task callbacks. All methods are invoked from a
// single delivery goroutine, one event at a time, in the order the transport
// produced them.
type SessionDelegate interface {
	OnResponse(task *Task, response *Response)
	OnData(task *Task, data []byte)
	OnComplete(task *Task, err error)
}

// Response carries the response metadata delivered before any body data
type Response struct {
	StatusCode    int
	Status        string
	Header        http.Header
	ContentLength int64
}

// Session owns the HTTP client, the outstanding tasks, and the delivery
// goroutine that serializes delegate callbacks. Response caching is not
// performed and compression is disabled so body bytes arrive exactly as the
// origin sent them. The client carries no overall timeout because stream
// bodies are unbounded; only dial, TLS, and response-header timeouts apply.
type Session struct {
	config     *config.TransportConfig
	delegate   SessionDelegate
	logger     *slog.Logger
	httpClient *http.Client
	limiter    *rate.Limiter // nil when no bandwidth cap is configured

	ctx    context.Context
	cancel context.CancelFunc

	events       chan taskEvent
	taskWg       sync.WaitGroup
	deliveryDone chan struct{}

	mu          sync.RWMutex
	tasks       map[uint64]*Task
	nextTaskID  uint64
	invalidated bool

	// Statistics
	tasksCreated   uint64
	tasksCompleted uint64
	tasksCanceled  uint64
	tasksFailed    uint64
	bytesDelivered uint64
}

type eventKind int

const (
	eventResponse eventKind = iota
	eventData
	eventComplete
)

// taskEvent is one unit of work for the delivery goroutine
type taskEvent struct {
	task     *Task
	kind     eventKind
	response *Response
	data     []byte
	err      error
}

// SessionStats represents transport session statistics
type SessionStats struct {
	TasksCreated   uint64 `json:"tasks_created"`
	TasksCompleted uint64 `json:"tasks_completed"`
	TasksCanceled  uint64 `json:"tasks_canceled"`
	TasksFailed    uint64 `json:"tasks_failed"`
	BytesDelivered uint64 `json:"bytes_delivered"`
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	Invalidated    bool   `json:"invalidated"`
}

// NewSession creates a transport session and starts its delivery goroutine
func NewSession(cfg *config.TransportConfig, delegate SessionDelegate, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	httpTransport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.GetConnectTimeout(),
		}).DialContext,
		TLSHandshakeTimeout:   cfg.GetTLSHandshakeTimeout(),
		ResponseHeaderTimeout: cfg.GetResponseHeaderTimeout(),
		IdleConnTimeout:       cfg.GetIdleConnTimeout(),
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		DisableCompression:    true,
	}

	var limiter *rate.Limiter
	if cfg.BandwidthLimitKBps > 0 {
		bytesPerSec := cfg.BandwidthLimitKBps * 1024
		burst := bytesPerSec
		if burst < cfg.ReadBufferSize {
			burst = cfg.ReadBufferSize
		}
		limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
	}

	s := &Session{
		config:       cfg,
		delegate:     delegate,
		logger:       logger,
		httpClient:   &http.Client{Transport: httpTransport},
		limiter:      limiter,
		ctx:          ctx,
		cancel:       cancel,
		events:       make(chan taskEvent, cfg.EventQueueSize),
		deliveryDone: make(chan struct{}),
		tasks:        make(map[uint64]*Task),
	}

	go s.deliveryLoop()

	return s
}

// DataTask creates a task for the request without performing any network I/O.
// The task does nothing until Resume is called.
func (s *Session) DataTask(req *http.Request) (*Task, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.invalidated {
		return nil, ErrSessionInvalidated
	}

	s.nextTaskID++
	taskCtx, taskCancel := context.WithCancel(s.ctx)

	task := &Task{
		id:      s.nextTaskID,
		req:     req.WithContext(taskCtx),
		ctx:     taskCtx,
		cancel:  taskCancel,
		session: s,
	}

	s.tasks[task.id] = task
	s.tasksCreated++

	return task, nil
}

// InvalidateAndCancel cancels every outstanding task and stops the delivery
// goroutine. No delegate callback is delivered after this call returns. The
// session cannot be used afterwards.
func (s *Session) InvalidateAndCancel() {
	s.mu.Lock()
	if s.invalidated {
		s.mu.Unlock()
		return
	}
	s.invalidated = true
	s.mu.Unlock()

	s.logger.Info("Invalidating transport session")

	// Cancel every task context, wait for the producers to drain, then let
	// the delivery loop run out.
	s.cancel()
	s.taskWg.Wait()
	close(s.events)
	<-s.deliveryDone

	s.mu.Lock()
	s.tasks = make(map[uint64]*Task)
	tasksCreated := s.tasksCreated
	tasksCompleted := s.tasksCompleted
	tasksCanceled := s.tasksCanceled
	bytesDelivered := s.bytesDelivered
	s.mu.Unlock()

	s.httpClient.CloseIdleConnections()

	s.logger.Info("Transport session invalidated",
		slog.Uint64("tasks_created", tasksCreated),
		slog.Uint64("tasks_completed", tasksCompleted),
		slog.Uint64("tasks_canceled", tasksCanceled),
		slog.Uint64("bytes_delivered", bytesDelivered),
	)
}

// GetStats returns current session statistics
func (s *Session) GetStats() SessionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionStats{
		TasksCreated:   s.tasksCreated,
		TasksCompleted: s.tasksCompleted,
		TasksCanceled:  s.tasksCanceled,
		TasksFailed:    s.tasksFailed,
		BytesDelivered: s.bytesDelivered,
		QueueDepth:     len(s.events),
		QueueCapacity:  cap(s.events),
		Invalidated:    s.invalidated,
	}
}

// startTask is called by Task.Resume to launch the fetch goroutine
func (s *Session) startTask(t *Task) {
	s.taskWg.Add(1)
	go s.runTask(t)
}

// dropTask removes a task that was canceled before Resume
func (s *Session) dropTask(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.id]; ok {
		delete(s.tasks, t.id)
		s.tasksCanceled++
	}
}

// runTask performs the fetch and emits events for the delivery loop
func (s *Session) runTask(t *Task) {
	defer s.taskWg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.tasks, t.id)
		s.mu.Unlock()
	}()

	s.logger.Debug("Task started",
		slog.Uint64("task_id", t.id),
		slog.String("url", t.URL()),
	)

	resp, err := s.httpClient.Do(t.req)
	if err != nil {
		t.finish()
		doErr := normalizeError(err, t.ctx)
		s.recordTaskEnd(t, doErr)
		s.emit(taskEvent{task: t, kind: eventComplete, err: doErr})
		return
	}
	defer resp.Body.Close()

	s.emit(taskEvent{task: t, kind: eventResponse, response: &Response{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Header:        resp.Header.Clone(),
		ContentLength: resp.ContentLength,
	}})

	buffer := make([]byte, s.config.ReadBufferSize)

	var readErr error
	for {
		n, err := resp.Body.Read(buffer)
		if n > 0 {
			if s.limiter != nil {
				if werr := s.limiter.WaitN(t.ctx, n); werr != nil {
					readErr = werr
					break
				}
			}

			// The read buffer is reused, so each chunk gets its own copy
			chunk := make([]byte, n)
			copy(chunk, buffer[:n])

			t.bytesReceived.Add(int64(n))
			s.mu.Lock()
			s.bytesDelivered += uint64(n)
			s.mu.Unlock()

			s.emit(taskEvent{task: t, kind: eventData, data: chunk})
		}
		if err != nil {
			if err != io.EOF {
				readErr = err
			}
			break
		}
	}

	t.finish()
	finalErr := normalizeError(readErr, t.ctx)
	s.recordTaskEnd(t, finalErr)
	s.emit(taskEvent{task: t, kind: eventComplete, err: finalErr})

	s.logger.Debug("Task finished",
		slog.Uint64("task_id", t.id),
		slog.Int64("bytes_received", t.BytesReceived()),
		slog.String("state", t.State()),
	)
}

// emit queues an event for delivery, blocking when the queue is full so
// stream bytes are never dropped. Events are abandoned once the session
// shuts down.
func (s *Session) emit(ev taskEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// deliveryLoop invokes the delegate serially for every queued event
func (s *Session) deliveryLoop() {
	defer close(s.deliveryDone)

	for ev := range s.events {
		// During teardown the remaining events are drained without
		// reaching the delegate.
		if s.ctx.Err() != nil {
			continue
		}

		switch ev.kind {
		case eventResponse:
			s.delegate.OnResponse(ev.task, ev.response)
		case eventData:
			s.delegate.OnData(ev.task, ev.data)
		case eventComplete:
			s.delegate.OnComplete(ev.task, ev.err)
		}
	}
}

// recordTaskEnd updates completion statistics for a finished task
func (s *Session) recordTaskEnd(t *Task, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case err == nil:
		s.tasksCompleted++
	case errors.Is(err, context.Canceled):
		s.tasksCanceled++
	default:
		s.tasksFailed++
	}
}

// normalizeError reports plain context.Canceled for canceled tasks so callers
// can branch on it without unwrapping transport-specific error chains
func normalizeError(err error, ctx context.Context) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
