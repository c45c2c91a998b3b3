package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/junyaninflection/AudioStreaming/internal/audio"
	"github.com/junyaninflection/AudioStreaming/internal/config"
	"github.com/junyaninflection/AudioStreaming/internal/download"
	"github.com/junyaninflection/AudioStreaming/internal/icy"
	"github.com/junyaninflection/AudioStreaming/internal/metrics"
	"github.com/junyaninflection/AudioStreaming/internal/transport"
)

// ErrTooManyStreams reports that the concurrent download limit is reached
var ErrTooManyStreams = errors.New("fetch: concurrent stream limit reached")

// progressLogInterval is the byte distance between progress log lines.
const progressLogInterval = 1 << 20

// Downloader drives progressive downloads end to end: it builds stream
// requests, consumes each handle's event stream, separates interleaved
// metadata, detects the audio format, fills the prebuffer, and
// optionally records per-track segment files.
type Downloader struct {
	coordinator *download.Coordinator
	config      *config.DownloadsConfig
	transport   *config.TransportConfig
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job
	wg   sync.WaitGroup

	// Statistics
	downloadsStarted  uint64
	downloadsFinished uint64
	downloadsCanceled uint64
	downloadsFailed   uint64
	titlesSeen        uint64
}

// Job tracks one progressive download from request to completion.
type Job struct {
	handle    *download.Stream
	buffer    *audio.Buffer
	startedAt time.Time
	done      chan struct{}

	// Consume-goroutine state
	splitter *icy.Splitter
	probe    []byte
	decided  bool
	ready    bool
	failure  error
	logMark  int64

	mu         sync.RWMutex
	format     audio.Format
	station    icy.Station
	lastTitle  string
	titleCount uint64
	segmenter  *audio.Segmenter
	err        error
}

// JobStats represents one download's progress for monitoring
type JobStats struct {
	StreamID      string                `json:"stream_id"`
	URL           string                `json:"url"`
	State         string                `json:"state"`
	Format        string                `json:"format"`
	Station       icy.Station           `json:"station"`
	CurrentTitle  string                `json:"current_title,omitempty"`
	TitlesSeen    uint64                `json:"titles_seen"`
	BytesReceived int64                 `json:"bytes_received"`
	StartedAt     time.Time             `json:"started_at"`
	Buffer        audio.BufferStats     `json:"buffer"`
	Segments      *audio.SegmenterStats `json:"segments,omitempty"`
}

// DownloaderStats represents downloader statistics
type DownloaderStats struct {
	ActiveDownloads   int    `json:"active_downloads"`
	DownloadsStarted  uint64 `json:"downloads_started"`
	DownloadsFinished uint64 `json:"downloads_finished"`
	DownloadsCanceled uint64 `json:"downloads_canceled"`
	DownloadsFailed   uint64 `json:"downloads_failed"`
	TitlesSeen        uint64 `json:"titles_seen"`
}

// NewDownloader creates a downloader on top of an existing coordinator.
func NewDownloader(coordinator *download.Coordinator, cfg *config.DownloadsConfig, transportCfg *config.TransportConfig, logger *slog.Logger, m *metrics.Metrics) *Downloader {
	return &Downloader{
		coordinator: coordinator,
		config:      cfg,
		transport:   transportCfg,
		logger:      logger,
		metrics:     m,
		jobs:        make(map[uuid.UUID]*Job),
	}
}

// Start begins a progressive download of the given URL. The returned
// job is already being consumed; wait on Done for completion.
func (d *Downloader) Start(rawURL string) (*Job, error) {
	req, err := d.buildRequest(rawURL)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if len(d.jobs) >= d.config.MaxConcurrentStreams {
		count := len(d.jobs)
		d.mu.Unlock()
		return nil, fmt.Errorf("%w (%d active)", ErrTooManyStreams, count)
	}
	d.downloadsStarted++
	d.mu.Unlock()

	handle := d.coordinator.Stream(req)

	job := &Job{
		handle:    handle,
		buffer:    audio.NewBuffer(d.config.PrebufferBytes),
		format:    audio.FormatUnknown,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	d.mu.Lock()
	d.jobs[handle.ID()] = job
	d.mu.Unlock()

	d.logger.Info("Download started",
		slog.String("stream_id", handle.ID().String()),
		slog.String("url", handle.URL()),
	)

	d.wg.Add(1)
	go d.consume(job)

	return job, nil
}

// Stop cancels the download with the given stream identifier. The job
// finishes asynchronously; false means no such download is active.
func (d *Downloader) Stop(id uuid.UUID) bool {
	d.mu.RLock()
	job, ok := d.jobs[id]
	d.mu.RUnlock()

	if !ok {
		return false
	}

	job.handle.Cancel()
	return true
}

// Close cancels every active download and waits for their consume
// loops to finish.
func (d *Downloader) Close() {
	d.mu.RLock()
	jobs := make([]*Job, 0, len(d.jobs))
	for _, job := range d.jobs {
		jobs = append(jobs, job)
	}
	d.mu.RUnlock()

	d.logger.Info("Stopping downloader...", slog.Int("active_downloads", len(jobs)))

	for _, job := range jobs {
		job.handle.Cancel()
	}
	d.wg.Wait()

	d.mu.RLock()
	started := d.downloadsStarted
	finished := d.downloadsFinished
	canceled := d.downloadsCanceled
	failed := d.downloadsFailed
	d.mu.RUnlock()

	d.logger.Info("Downloader stopped",
		slog.Uint64("downloads_started", started),
		slog.Uint64("downloads_finished", finished),
		slog.Uint64("downloads_canceled", canceled),
		slog.Uint64("downloads_failed", failed),
	)
}

// Snapshot returns the progress of one active download.
func (d *Downloader) Snapshot(id uuid.UUID) (JobStats, bool) {
	d.mu.RLock()
	job, ok := d.jobs[id]
	d.mu.RUnlock()

	if !ok {
		return JobStats{}, false
	}
	return job.snapshot(), true
}

// Snapshots returns the progress of every active download.
func (d *Downloader) Snapshots() []JobStats {
	d.mu.RLock()
	jobs := make([]*Job, 0, len(d.jobs))
	for _, job := range d.jobs {
		jobs = append(jobs, job)
	}
	d.mu.RUnlock()

	stats := make([]JobStats, 0, len(jobs))
	for _, job := range jobs {
		stats = append(stats, job.snapshot())
	}
	return stats
}

// GetStats returns current downloader statistics
func (d *Downloader) GetStats() DownloaderStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return DownloaderStats{
		ActiveDownloads:   len(d.jobs),
		DownloadsStarted:  d.downloadsStarted,
		DownloadsFinished: d.downloadsFinished,
		DownloadsCanceled: d.downloadsCanceled,
		DownloadsFailed:   d.downloadsFailed,
		TitlesSeen:        d.titlesSeen,
	}
}

// buildRequest assembles the stream request with the configured user
// agent and the metadata opt-in header.
func (d *Downloader) buildRequest(rawURL string) (*http.Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid stream URL %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q (must be http or https)", u.Scheme)
	}

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if d.transport.UserAgent != "" {
		req.Header.Set("User-Agent", d.transport.UserAgent)
	}
	if d.config.ICYMetadata {
		icy.RequestMetadata(req)
	}

	return req, nil
}

// consume is the per-download event loop.
func (d *Downloader) consume(job *Job) {
	defer d.wg.Done()
	defer close(job.done)

	for {
		select {
		case event := <-job.handle.Events():
			if d.handleEvent(job, event) {
				return
			}
		case <-job.handle.Done():
			// The handle finished; drain events buffered before the
			// completion, then wrap up.
			for {
				select {
				case event := <-job.handle.Events():
					if d.handleEvent(job, event) {
						return
					}
				default:
					d.finish(job, job.handle.Err())
					return
				}
			}
		}
	}
}

// handleEvent dispatches one stream event. It returns true once the
// terminal event has been processed.
func (d *Downloader) handleEvent(job *Job, event download.Event) bool {
	switch event.Kind {
	case download.EventResponse:
		d.handleResponse(job, event.Response)
	case download.EventData:
		d.handleData(job, event.Data)
	case download.EventComplete:
		d.finish(job, event.Err)
		return true
	}
	return false
}

// handleResponse inspects status and headers once the server answered.
func (d *Downloader) handleResponse(job *Job, resp *transport.Response) {
	if resp == nil {
		return
	}

	if resp.StatusCode >= 400 {
		job.failure = fmt.Errorf("server rejected stream: %s", resp.Status)
		d.logger.Warn("Stream request rejected",
			slog.String("stream_id", job.handle.ID().String()),
			slog.String("status", resp.Status),
		)
		job.handle.Cancel()
		return
	}

	station := icy.ParseStation(resp.Header)
	job.setStation(station)

	metaint, err := icy.Metaint(resp.Header)
	if err != nil {
		d.logger.Warn("Ignoring malformed metadata interval",
			slog.String("stream_id", job.handle.ID().String()),
			slog.String("error", err.Error()),
		)
	} else if metaint > 0 {
		splitter, serr := icy.NewSplitter(metaint)
		if serr != nil {
			d.logger.Warn("Failed to create metadata splitter",
				slog.String("stream_id", job.handle.ID().String()),
				slog.String("error", serr.Error()),
			)
		} else {
			job.splitter = splitter
		}
	}

	d.logger.Info("Stream connected",
		slog.String("stream_id", job.handle.ID().String()),
		slog.String("status", resp.Status),
		slog.String("station", station.Name),
		slog.Int("bitrate_kbps", station.Bitrate),
		slog.Int("metaint", metaint),
		slog.Int64("content_length", resp.ContentLength),
	)
}

// handleData routes one chunk of body bytes through the pipeline.
func (d *Downloader) handleData(job *Job, data []byte) {
	audioBytes := data
	if job.splitter != nil {
		var blocks []string
		audioBytes, blocks = job.splitter.Split(data)
		for _, block := range blocks {
			if title, ok := icy.ParseTitle(block); ok {
				d.onTitle(job, title)
			}
		}
	}

	if len(audioBytes) == 0 {
		return
	}

	job.buffer.Append(audioBytes)

	if !job.decided {
		d.sniffFormat(job, audioBytes)
	}

	if !job.ready && job.buffer.IsReady() {
		job.ready = true
		d.logger.Info("Prebuffer complete",
			slog.String("stream_id", job.handle.ID().String()),
			slog.Int64("bytes", job.buffer.Total()),
			slog.Duration("elapsed", time.Since(job.startedAt)),
		)
	}

	// Hold bytes back until the format is known and the prebuffer is
	// full, like a player waiting to start.
	if job.decided && job.ready {
		d.drain(job)
	}

	if total := job.handle.BytesReceived(); total-job.logMark >= progressLogInterval {
		job.logMark = total
		d.logger.Debug("Download progress",
			slog.String("stream_id", job.handle.ID().String()),
			slog.Int64("bytes_received", total),
			slog.Int("buffered", job.buffer.Len()),
		)
	}
}

// sniffFormat accumulates leading bytes until the format is decided.
func (d *Downloader) sniffFormat(job *Job, audioBytes []byte) {
	job.probe = append(job.probe, audioBytes...)

	format := audio.DetectFormat(job.probe)
	if format == audio.FormatUnknown && len(job.probe) < audio.ProbeSize {
		return
	}

	d.decideFormat(job, format)
}

// decideFormat fixes the stream format and opens the recording if one
// is configured.
func (d *Downloader) decideFormat(job *Job, format audio.Format) {
	job.decided = true
	job.setFormat(format)

	d.logger.Info("Stream format detected",
		slog.String("stream_id", job.handle.ID().String()),
		slog.String("format", string(format)),
	)

	if format == audio.FormatWAV {
		if info, err := audio.ProbeWAV(job.probe); err == nil {
			d.logger.Info("WAV layout",
				slog.String("stream_id", job.handle.ID().String()),
				slog.Uint64("sample_rate", uint64(info.SampleRate)),
				slog.Int("channels", int(info.Channels)),
				slog.Int("bits_per_sample", int(info.BitsPerSample)),
			)
		}
	}

	job.probe = nil
	d.openRecording(job)
}

// openRecording creates the segmenter once the format is known, so the
// segment files carry the right extension.
func (d *Downloader) openRecording(job *Job) {
	if !d.config.SegmentTracks || d.config.OutputDir == "" {
		return
	}

	dir := filepath.Join(d.config.OutputDir, job.dirName())
	segmenter, err := audio.NewSegmenter(audio.SegmenterConfig{
		Dir:             dir,
		Format:          job.Format(),
		MinSegmentBytes: int64(d.config.MinSegmentBytes),
	})
	if err != nil {
		d.logger.Error("Failed to open recording",
			slog.String("stream_id", job.handle.ID().String()),
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		return
	}

	// A title that arrived before the first audio bytes names the
	// first segment.
	if title := job.CurrentTitle(); title != "" {
		if _, err := segmenter.OnTitle(title); err != nil {
			d.logger.Error("Failed to seed segment title",
				slog.String("stream_id", job.handle.ID().String()),
				slog.String("error", err.Error()),
			)
		}
	}

	job.setSegmenter(segmenter)

	d.logger.Info("Recording to disk",
		slog.String("stream_id", job.handle.ID().String()),
		slog.String("dir", dir),
	)
}

// onTitle reacts to a track title change from the metadata layer.
func (d *Downloader) onTitle(job *Job, title string) {
	if title == job.CurrentTitle() {
		return
	}

	previous := job.setTitle(title)

	d.mu.Lock()
	d.titlesSeen++
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.RecordTitleSeen()
	}

	d.logger.Info("Track change",
		slog.String("stream_id", job.handle.ID().String()),
		slog.String("title", title),
		slog.String("previous", previous),
	)

	segmenter := job.Segmenter()
	if segmenter == nil {
		return
	}

	// Flush pending audio into the closing segment first so the split
	// lands at the title boundary.
	if job.decided && job.ready {
		d.drain(job)
	}

	previousBytes := segmenter.GetStats().CurrentBytes
	rotated, err := segmenter.OnTitle(title)
	if err != nil {
		d.logger.Error("Failed to rotate segment",
			slog.String("stream_id", job.handle.ID().String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if rotated {
		if d.metrics != nil {
			d.metrics.RecordSegmentWritten(previousBytes)
		}
		d.logger.Debug("Segment rotated",
			slog.String("stream_id", job.handle.ID().String()),
			slog.Int64("segment_bytes", previousBytes),
		)
	}
}

// drain moves buffered audio into the recording. Without a recording
// the consumed bytes are dropped, standing in for playback.
func (d *Downloader) drain(job *Job) {
	data := job.buffer.Consume(0)
	if len(data) == 0 {
		return
	}

	segmenter := job.Segmenter()
	if segmenter == nil {
		return
	}

	if _, err := segmenter.Write(data); err != nil {
		d.logger.Error("Failed to write segment data",
			slog.String("stream_id", job.handle.ID().String()),
			slog.String("error", err.Error()),
		)
	}
}

// finish wraps a download up after its terminal event.
func (d *Downloader) finish(job *Job, err error) {
	// Streams shorter than the probe window decide their format here.
	if !job.decided && job.buffer.Total() > 0 {
		d.decideFormat(job, audio.DetectFormat(job.probe))
	}
	d.drain(job)

	if job.failure != nil {
		err = job.failure
	}
	job.setErr(err)

	var segments uint64
	if segmenter := job.Segmenter(); segmenter != nil {
		stats := segmenter.GetStats()
		segments = stats.SegmentsCreated
		if stats.CurrentBytes > 0 && d.metrics != nil {
			d.metrics.RecordSegmentWritten(stats.CurrentBytes)
		}
		if cerr := segmenter.Close(); cerr != nil {
			d.logger.Error("Failed to close recording",
				slog.String("stream_id", job.handle.ID().String()),
				slog.String("error", cerr.Error()),
			)
		}
	}

	canceled := errors.Is(err, download.ErrStreamCanceled) ||
		errors.Is(err, download.ErrClientClosed) ||
		errors.Is(err, context.Canceled)

	d.mu.Lock()
	delete(d.jobs, job.handle.ID())
	switch {
	case err == nil:
		d.downloadsFinished++
	case canceled:
		d.downloadsCanceled++
	default:
		d.downloadsFailed++
	}
	d.mu.Unlock()

	attrs := []any{
		slog.String("stream_id", job.handle.ID().String()),
		slog.String("url", job.handle.URL()),
		slog.Int64("bytes_received", job.handle.BytesReceived()),
		slog.Duration("duration", time.Since(job.startedAt)),
		slog.Uint64("titles_seen", job.TitleCount()),
		slog.Uint64("segments", segments),
	}

	switch {
	case err == nil:
		d.logger.Info("Download finished", attrs...)
	case canceled:
		d.logger.Info("Download canceled", attrs...)
	default:
		d.logger.Warn("Download failed", append(attrs, slog.String("error", err.Error()))...)
	}
}

// ID returns the stream identifier of this download.
func (j *Job) ID() uuid.UUID {
	return j.handle.ID()
}

// Done is closed once the download has fully wrapped up, including the
// recording teardown.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Err returns the terminal error, nil while running and nil after a
// normal completion.
func (j *Job) Err() error {
	select {
	case <-j.done:
	default:
		return nil
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// Format returns the detected stream format.
func (j *Job) Format() audio.Format {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.format
}

// Station returns the station metadata parsed from the response headers.
func (j *Job) Station() icy.Station {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.station
}

// CurrentTitle returns the most recent track title.
func (j *Job) CurrentTitle() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastTitle
}

// TitleCount returns the number of title changes seen.
func (j *Job) TitleCount() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.titleCount
}

// Segmenter returns the recording segmenter, nil when not recording.
func (j *Job) Segmenter() *audio.Segmenter {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.segmenter
}

func (j *Job) setStation(station icy.Station) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.station = station
}

func (j *Job) setFormat(format audio.Format) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.format = format
}

func (j *Job) setSegmenter(segmenter *audio.Segmenter) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.segmenter = segmenter
}

func (j *Job) setErr(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.err = err
}

// setTitle records the new title and returns the previous one.
func (j *Job) setTitle(title string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	previous := j.lastTitle
	j.lastTitle = title
	j.titleCount++
	return previous
}

// dirName builds the per-stream recording directory name from the host
// and the short stream identifier.
func (j *Job) dirName() string {
	host := "stream"
	if u, err := url.Parse(j.handle.URL()); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	return fmt.Sprintf("%s-%s", host, j.handle.ID().String()[:8])
}

// snapshot captures the download's progress for monitoring.
func (j *Job) snapshot() JobStats {
	j.mu.RLock()
	defer j.mu.RUnlock()

	stats := JobStats{
		StreamID:      j.handle.ID().String(),
		URL:           j.handle.URL(),
		State:         j.handle.State(),
		Format:        string(j.format),
		Station:       j.station,
		CurrentTitle:  j.lastTitle,
		TitlesSeen:    j.titleCount,
		BytesReceived: j.handle.BytesReceived(),
		StartedAt:     j.startedAt,
		Buffer:        j.buffer.GetStats(),
	}

	if j.segmenter != nil {
		s := j.segmenter.GetStats()
		stats.Segments = &s
	}

	return stats
}
