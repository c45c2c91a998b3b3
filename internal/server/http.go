package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/junyaninflection/AudioStreaming/internal/config"
	"github.com/junyaninflection/AudioStreaming/internal/download"
	"github.com/junyaninflection/AudioStreaming/internal/fetch"
	"github.com/junyaninflection/AudioStreaming/internal/metrics"
)

// HTTPServer provides HTTP API endpoints for monitoring and control
type HTTPServer struct {
	server      *http.Server
	logger      *slog.Logger
	config      *config.Config
	coordinator *download.Coordinator
	downloader  *fetch.Downloader
	metrics     *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.MonitoringConfig, logger *slog.Logger,
	appConfig *config.Config, coordinator *download.Coordinator, downloader *fetch.Downloader, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:      logger,
		config:      appConfig,
		coordinator: coordinator,
		downloader:  downloader,
		metrics:     m,
		startTime:   time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Download management endpoints
	mux.HandleFunc("/streams", h.withMetrics("/streams", h.handleStreams))
	mux.HandleFunc("/streams/", h.withMetrics("/streams/{id}", h.handleStreamDetail))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		// Record metrics
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	coordStats := h.coordinator.GetStats()
	downloadStats := h.downloader.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "audio-stream-fetcher",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"transport": map[string]interface{}{
				"status":          "running",
				"tasks_created":   coordStats.Session.TasksCreated,
				"tasks_completed": coordStats.Session.TasksCompleted,
				"bytes_delivered": coordStats.Session.BytesDelivered,
				"queue_depth":     coordStats.Session.QueueDepth,
			},
			"coordinator": map[string]interface{}{
				"status":         "running",
				"active_streams": coordStats.ActiveStreams,
			},
			"downloader": map[string]interface{}{
				"status":           "running",
				"active_downloads": downloadStats.ActiveDownloads,
				"titles_seen":      downloadStats.TitlesSeen,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleStreams implements the /streams endpoint: GET lists active
// downloads, POST starts one, DELETE cancels all of them.
func (h *HTTPServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listStreams(w, r)
	case http.MethodPost:
		h.startStream(w, r)
	case http.MethodDelete:
		h.cancelAllStreams(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// listStreams returns progress snapshots of all active downloads
func (h *HTTPServer) listStreams(w http.ResponseWriter, _ *http.Request) {
	snapshots := h.downloader.Snapshots()

	response := map[string]interface{}{
		"total_streams": len(snapshots),
		"timestamp":     time.Now().UTC(),
		"streams":       snapshots,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// startStream starts a new download from a JSON request body
func (h *HTTPServer) startStream(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if body.URL == "" {
		http.Error(w, "URL required", http.StatusBadRequest)
		return
	}

	job, err := h.downloader.Start(body.URL)
	if err != nil {
		if errors.Is(err, fetch.ErrTooManyStreams) {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	snapshot, _ := h.downloader.Snapshot(job.ID())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(snapshot)
}

// cancelAllStreams cancels every active download
func (h *HTTPServer) cancelAllStreams(w http.ResponseWriter, _ *http.Request) {
	count := h.coordinator.Count()
	h.coordinator.CancelAll()

	response := map[string]interface{}{
		"canceled":  count,
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(response)
}

// handleStreamDetail implements the /streams/{stream_id} endpoint: GET
// returns one download's progress, DELETE cancels it.
func (h *HTTPServer) handleStreamDetail(w http.ResponseWriter, r *http.Request) {
	// Extract stream ID from URL path
	streamIDStr := r.URL.Path[len("/streams/"):]
	if streamIDStr == "" {
		http.Error(w, "Stream ID required", http.StatusBadRequest)
		return
	}

	streamID, err := uuid.Parse(streamIDStr)
	if err != nil {
		http.Error(w, "Invalid stream ID", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		snapshot, exists := h.downloader.Snapshot(streamID)
		if !exists {
			http.Error(w, "Stream not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snapshot)

	case http.MethodDelete:
		if !h.downloader.Stop(streamID) {
			http.Error(w, "Stream not found", http.StatusNotFound)
			return
		}

		response := map[string]interface{}{
			"stream_id": streamID.String(),
			"status":    "canceling",
			"timestamp": time.Now().UTC(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(response)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	configView := map[string]interface{}{
		"transport": map[string]interface{}{
			"connect_timeout":         h.config.Transport.ConnectTimeout,
			"tls_handshake_timeout":   h.config.Transport.TLSHandshakeTimeout,
			"response_header_timeout": h.config.Transport.ResponseHeaderTimeout,
			"idle_conn_timeout":       h.config.Transport.IdleConnTimeout,
			"read_buffer_size":        h.config.Transport.ReadBufferSize,
			"event_queue_size":        h.config.Transport.EventQueueSize,
			"bandwidth_limit_kbps":    h.config.Transport.BandwidthLimitKBps,
			"user_agent":              h.config.Transport.UserAgent,
		},
		"downloads": map[string]interface{}{
			"max_concurrent_streams": h.config.Downloads.MaxConcurrentStreams,
			"queue_size":             h.config.Downloads.QueueSize,
			"event_buffer":           h.config.Downloads.EventBuffer,
			"prebuffer_bytes":        h.config.Downloads.PrebufferBytes,
			"icy_metadata":           h.config.Downloads.ICYMetadata,
			"output_dir":             h.config.Downloads.OutputDir,
			"segment_tracks":         h.config.Downloads.SegmentTracks,
			"min_segment_bytes":      h.config.Downloads.MinSegmentBytes,
		},
		"monitoring": map[string]interface{}{
			"port":    h.config.Monitoring.Port,
			"address": h.config.Monitoring.Address,
			"enabled": h.config.Monitoring.Enabled,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(configView)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	coordStats := h.coordinator.GetStats()
	downloadStats := h.downloader.GetStats()
	uptime := time.Since(h.startTime)

	// Refresh the delivery queue gauge on scrape
	h.metrics.SetEventQueueDepth(coordStats.Session.QueueDepth)

	stats := map[string]interface{}{
		"uptime":      uptime.String(),
		"timestamp":   time.Now().UTC(),
		"coordinator": coordStats,
		"downloader":  downloadStats,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Audio Stream Fetcher",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                       "API documentation",
			"GET /health":                 "Service health check",
			"GET /streams":                "List all active downloads",
			"POST /streams":               "Start a download, body {\"url\": \"...\"}",
			"DELETE /streams":             "Cancel all active downloads",
			"GET /streams/{stream_id}":    "Get detailed download progress",
			"DELETE /streams/{stream_id}": "Cancel one download",
			"GET /config":                 "Get client configuration",
			"GET /stats":                  "Get client statistics",
			"GET /metrics":                "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
