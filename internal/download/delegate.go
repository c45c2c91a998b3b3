package download

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/junyaninflection/AudioStreaming/internal/metrics"
	"github.com/junyaninflection/AudioStreaming/internal/transport"
)

// sessionDelegate receives raw transport callbacks and dispatches them to
// the owning stream resolved through the coordinator's reverse lookup. It
// holds the coordinator only to query it; a miss means the stream is gone
// and the callback is dropped.
type sessionDelegate struct {
	coordinator *Coordinator
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

func (d *sessionDelegate) OnResponse(task *transport.Task, response *transport.Response) {
	handle, ok := d.coordinator.StreamForTask(task)
	if !ok {
		d.drop(task, "response")
		return
	}

	d.logger.Debug("Response received",
		slog.String("stream_id", handle.id.String()),
		slog.Int("status_code", response.StatusCode),
		slog.Int64("content_length", response.ContentLength),
	)

	handle.deliverResponse(response)
}

func (d *sessionDelegate) OnData(task *transport.Task, data []byte) {
	handle, ok := d.coordinator.StreamForTask(task)
	if !ok {
		d.drop(task, "data")
		return
	}

	total := handle.deliverData(data)

	if d.metrics != nil {
		d.metrics.RecordBytesReceived(len(data))
		if total == int64(len(data)) {
			d.metrics.RecordFirstByte(time.Since(handle.createdAt).Seconds())
		}
	}
}

func (d *sessionDelegate) OnComplete(task *transport.Task, err error) {
	handle, ok := d.coordinator.StreamForTask(task)
	if !ok {
		d.drop(task, "complete")
		return
	}

	handle.finish(err)

	duration := time.Since(handle.createdAt)
	d.recordCompletion(err, duration)

	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Warn("Stream finished with error",
			slog.String("stream_id", handle.id.String()),
			slog.String("url", handle.URL()),
			slog.Int64("bytes_received", handle.BytesReceived()),
			slog.String("error", err.Error()),
		)
	} else {
		d.logger.Info("Stream finished",
			slog.String("stream_id", handle.id.String()),
			slog.String("url", handle.URL()),
			slog.Int64("bytes_received", handle.BytesReceived()),
			slog.Duration("duration", duration),
			slog.Bool("canceled", err != nil),
		)
	}

	d.coordinator.Remove(handle)
}

// drop discards a callback whose task no longer resolves to a stream
func (d *sessionDelegate) drop(task *transport.Task, kind string) {
	d.coordinator.mu.Lock()
	d.coordinator.lookupMisses++
	d.coordinator.mu.Unlock()

	if d.metrics != nil {
		d.metrics.RecordLookupMiss()
	}

	d.logger.Debug("Dropping callback for unknown task",
		slog.Uint64("task_id", task.ID()),
		slog.String("kind", kind),
	)
}

// recordCompletion classifies the terminal state for coordinator statistics
func (d *sessionDelegate) recordCompletion(err error, duration time.Duration) {
	d.coordinator.mu.Lock()
	switch {
	case err == nil:
		d.coordinator.streamsFinished++
	case errors.Is(err, context.Canceled), errors.Is(err, ErrStreamCanceled):
		d.coordinator.streamsCanceled++
	default:
		d.coordinator.streamsFailed++
	}
	d.coordinator.mu.Unlock()

	if d.metrics == nil {
		return
	}

	switch {
	case err == nil:
		d.metrics.RecordStreamFinished(duration.Seconds())
	case errors.Is(err, context.Canceled), errors.Is(err, ErrStreamCanceled):
		d.metrics.RecordStreamCanceled(duration.Seconds())
	default:
		d.metrics.RecordStreamFailed(duration.Seconds())
	}
}
