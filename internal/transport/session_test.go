package transport

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/junyaninflection/AudioStreaming/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testTransportConfig() *config.TransportConfig {
	return &config.TransportConfig{
		ConnectTimeout:        5,
		TLSHandshakeTimeout:   5,
		ResponseHeaderTimeout: 5,
		IdleConnTimeout:       5,
		MaxIdleConns:          4,
		MaxIdleConnsPerHost:   4,
		ReadBufferSize:        1024,
		EventQueueSize:        64,
		UserAgent:             "transport-test",
	}
}

// payloadPattern builds a deterministic body so ordered delivery can be
// verified by byte equality
func payloadPattern(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 251)
	}
	return out
}

func mustRequest(t *testing.T, url string) *http.Request {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	return req
}

// newStreamingServer streams small chunks until the client goes away
func newStreamingServer(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		for {
			if _, err := w.Write(make([]byte, 512)); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

// collectDelegate records callbacks and verifies they never overlap
type collectDelegate struct {
	mu          sync.Mutex
	responses   []*Response
	data        []byte
	chunks      int
	completions []error

	entered  atomic.Int32
	overlaps atomic.Int32

	complete chan error
}

func newCollectDelegate() *collectDelegate {
	return &collectDelegate{complete: make(chan error, 16)}
}

func (d *collectDelegate) enter() {
	if !d.entered.CompareAndSwap(0, 1) {
		d.overlaps.Add(1)
	}
}

func (d *collectDelegate) leave() {
	d.entered.Store(0)
}

func (d *collectDelegate) OnResponse(task *Task, response *Response) {
	d.enter()
	defer d.leave()

	d.mu.Lock()
	d.responses = append(d.responses, response)
	d.mu.Unlock()
}

func (d *collectDelegate) OnData(task *Task, data []byte) {
	d.enter()
	defer d.leave()

	d.mu.Lock()
	d.data = append(d.data, data...)
	d.chunks++
	d.mu.Unlock()
}

func (d *collectDelegate) OnComplete(task *Task, err error) {
	d.enter()
	defer d.leave()

	d.mu.Lock()
	d.completions = append(d.completions, err)
	d.mu.Unlock()

	d.complete <- err
}

func (d *collectDelegate) received() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]byte, len(d.data))
	copy(out, d.data)
	return out
}

func (d *collectDelegate) callbackCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.responses) + d.chunks + len(d.completions)
}

func (d *collectDelegate) firstResponse() *Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.responses) == 0 {
		return nil
	}
	return d.responses[0]
}

func waitComplete(t *testing.T, d *collectDelegate) error {
	t.Helper()

	select {
	case err := <-d.complete:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for completion")
		return nil
	}
}

func TestDataTaskValidation(t *testing.T) {
	delegate := newCollectDelegate()
	session := NewSession(testTransportConfig(), delegate, testLogger())

	if _, err := session.DataTask(nil); !errors.Is(err, ErrNilRequest) {
		t.Errorf("Expected ErrNilRequest, got %v", err)
	}

	session.InvalidateAndCancel()

	if _, err := session.DataTask(mustRequest(t, "http://127.0.0.1:0/stream")); !errors.Is(err, ErrSessionInvalidated) {
		t.Errorf("Expected ErrSessionInvalidated, got %v", err)
	}
}

func TestTaskDeliversBodyInOrder(t *testing.T) {
	payload := payloadPattern(256 * 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	t.Cleanup(server.Close)

	delegate := newCollectDelegate()
	session := NewSession(testTransportConfig(), delegate, testLogger())
	defer session.InvalidateAndCancel()

	task, err := session.DataTask(mustRequest(t, server.URL))
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	if task.State() != "created" {
		t.Errorf("Expected state 'created', got '%s'", task.State())
	}
	if task.URL() != server.URL {
		t.Errorf("Expected URL '%s', got '%s'", server.URL, task.URL())
	}

	// No I/O happens until Resume
	time.Sleep(50 * time.Millisecond)
	if count := delegate.callbackCount(); count != 0 {
		t.Errorf("Expected no callbacks before Resume, got %d", count)
	}

	task.Resume()
	task.Resume() // second Resume has no effect

	if err := waitComplete(t, delegate); err != nil {
		t.Fatalf("Expected normal completion, got %v", err)
	}

	response := delegate.firstResponse()
	if response == nil {
		t.Fatal("Expected a response callback before any data")
	}
	if response.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", response.StatusCode)
	}

	if got := delegate.received(); !bytes.Equal(got, payload) {
		t.Errorf("Expected %d payload bytes delivered in order, got %d", len(payload), len(got))
	}

	if task.State() != "done" {
		t.Errorf("Expected state 'done', got '%s'", task.State())
	}
	if task.BytesReceived() != int64(len(payload)) {
		t.Errorf("Expected %d bytes received, got %d", len(payload), task.BytesReceived())
	}

	if overlaps := delegate.overlaps.Load(); overlaps != 0 {
		t.Errorf("Expected serial delegate callbacks, got %d overlapping calls", overlaps)
	}

	stats := session.GetStats()
	if stats.TasksCreated != 1 {
		t.Errorf("Expected 1 task created, got %d", stats.TasksCreated)
	}
	if stats.TasksCompleted != 1 {
		t.Errorf("Expected 1 task completed, got %d", stats.TasksCompleted)
	}
	if stats.BytesDelivered != uint64(len(payload)) {
		t.Errorf("Expected %d bytes delivered, got %d", len(payload), stats.BytesDelivered)
	}
}

func TestTaskCancelMidStream(t *testing.T) {
	server := newStreamingServer(t)

	delegate := newCollectDelegate()
	session := NewSession(testTransportConfig(), delegate, testLogger())
	defer session.InvalidateAndCancel()

	task, err := session.DataTask(mustRequest(t, server.URL))
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	task.Resume()

	// Wait for body bytes before canceling
	deadline := time.Now().Add(2 * time.Second)
	for task.BytesReceived() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if task.BytesReceived() == 0 {
		t.Fatal("Expected body bytes before cancel")
	}

	task.Cancel()
	task.Cancel() // idempotent

	if err := waitComplete(t, delegate); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	if task.State() != "canceled" {
		t.Errorf("Expected state 'canceled', got '%s'", task.State())
	}

	stats := session.GetStats()
	if stats.TasksCanceled != 1 {
		t.Errorf("Expected 1 task canceled, got %d", stats.TasksCanceled)
	}
}

func TestTaskCancelBeforeResume(t *testing.T) {
	delegate := newCollectDelegate()
	session := NewSession(testTransportConfig(), delegate, testLogger())
	defer session.InvalidateAndCancel()

	task, err := session.DataTask(mustRequest(t, "http://127.0.0.1:0/stream"))
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	task.Cancel()
	task.Resume() // no effect after Cancel

	time.Sleep(50 * time.Millisecond)

	if count := delegate.callbackCount(); count != 0 {
		t.Errorf("Expected no callbacks for a task canceled before Resume, got %d", count)
	}

	if task.State() != "canceled" {
		t.Errorf("Expected state 'canceled', got '%s'", task.State())
	}

	stats := session.GetStats()
	if stats.TasksCanceled != 1 {
		t.Errorf("Expected 1 task canceled, got %d", stats.TasksCanceled)
	}
	if stats.TasksCompleted != 0 {
		t.Errorf("Expected 0 tasks completed, got %d", stats.TasksCompleted)
	}
}

func TestInvalidateAndCancelStopsDelivery(t *testing.T) {
	server := newStreamingServer(t)

	delegate := newCollectDelegate()
	session := NewSession(testTransportConfig(), delegate, testLogger())

	tasks := make([]*Task, 0, 3)
	for i := 0; i < 3; i++ {
		task, err := session.DataTask(mustRequest(t, server.URL))
		if err != nil {
			t.Fatalf("Failed to create task %d: %v", i, err)
		}
		task.Resume()
		tasks = append(tasks, task)
	}

	// Wait until every task is receiving data
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		receiving := 0
		for _, task := range tasks {
			if task.BytesReceived() > 0 {
				receiving++
			}
		}
		if receiving == len(tasks) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	session.InvalidateAndCancel()

	// No delegate callback is delivered after the call returned
	count := delegate.callbackCount()
	time.Sleep(100 * time.Millisecond)
	if after := delegate.callbackCount(); after != count {
		t.Errorf("Expected no callbacks after InvalidateAndCancel, got %d more", after-count)
	}

	if !session.GetStats().Invalidated {
		t.Error("Expected session to report invalidated")
	}

	session.InvalidateAndCancel() // idempotent
}

func TestBandwidthLimitPacesDelivery(t *testing.T) {
	payload := payloadPattern(192 * 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	t.Cleanup(server.Close)

	cfg := testTransportConfig()
	cfg.BandwidthLimitKBps = 128 // 128 KiB/s with a 128 KiB burst

	delegate := newCollectDelegate()
	session := NewSession(cfg, delegate, testLogger())
	defer session.InvalidateAndCancel()

	task, err := session.DataTask(mustRequest(t, server.URL))
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	start := time.Now()
	task.Resume()

	if err := waitComplete(t, delegate); err != nil {
		t.Fatalf("Expected normal completion, got %v", err)
	}
	elapsed := time.Since(start)

	// The burst covers the first 128 KiB, the remaining 64 KiB take
	// about half a second at the configured rate
	if elapsed < 300*time.Millisecond {
		t.Errorf("Expected paced delivery, finished in %v", elapsed)
	}

	if got := delegate.received(); !bytes.Equal(got, payload) {
		t.Errorf("Expected %d payload bytes, got %d", len(payload), len(got))
	}
}
