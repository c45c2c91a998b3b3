package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/junyaninflection/AudioStreaming/internal/config"
	"github.com/junyaninflection/AudioStreaming/internal/download"
	"github.com/junyaninflection/AudioStreaming/internal/fetch"
	"github.com/junyaninflection/AudioStreaming/internal/metrics"
	"github.com/junyaninflection/AudioStreaming/internal/server"
)

const (
	defaultConfigPath = "config.yaml"
	serviceName       = "audio-stream-fetcher"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	streamURLs := flag.String("url", "", "Comma-separated stream URLs to download")
	outputDir := flag.String("output", "", "Record downloads into this directory (overrides config)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", serviceName, serviceVersion)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// An output directory on the command line turns recording on
	if *outputDir != "" {
		cfg.Downloads.OutputDir = *outputDir
		cfg.Downloads.SegmentTracks = true
	}

	urls := splitURLs(*streamURLs)
	if len(urls) == 0 && !cfg.Monitoring.Enabled {
		fmt.Fprintln(os.Stderr, "No stream URLs given and the monitoring API is disabled, nothing to do")
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary
	logger.Info("Configuration loaded",
		slog.Int("max_concurrent_streams", cfg.Downloads.MaxConcurrentStreams),
		slog.Int("prebuffer_bytes", cfg.Downloads.PrebufferBytes),
		slog.Bool("icy_metadata", cfg.Downloads.ICYMetadata),
		slog.Bool("segment_tracks", cfg.Downloads.SegmentTracks),
		slog.String("output_dir", cfg.Downloads.OutputDir),
		slog.Int("bandwidth_limit_kbps", cfg.Transport.BandwidthLimitKBps),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize the stream coordinator with its own transport session
	coordinator := download.NewCoordinator(&cfg.Downloads, &cfg.Transport, logger, appMetrics)
	logger.Info("Stream coordinator initialized",
		slog.Int("queue_size", cfg.Downloads.QueueSize),
		slog.Int("event_buffer", cfg.Downloads.EventBuffer),
	)

	// Initialize the downloader on top of the coordinator
	downloader := fetch.NewDownloader(coordinator, &cfg.Downloads, &cfg.Transport, logger, appMetrics)
	logger.Info("Downloader initialized")

	// Initialize and start HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.Monitoring.Enabled {
		httpServer = server.NewHTTPServer(cfg.Monitoring, logger, cfg, coordinator, downloader, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Start downloads given on the command line and collect their results
	var group errgroup.Group
	started := 0
	for _, rawURL := range urls {
		job, err := downloader.Start(rawURL)
		if err != nil {
			logger.Error("Failed to start download",
				slog.String("url", rawURL),
				slog.String("error", err.Error()),
			)
			continue
		}
		started++
		group.Go(func() error {
			<-job.Done()
			return job.Err()
		})
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Without the monitoring API the process exits when the last
	// command line download finishes
	doneChan := make(chan error, 1)
	if !cfg.Monitoring.Enabled {
		go func() { doneChan <- group.Wait() }()
	}

	logger.Info("Service started successfully, waiting for signals...",
		slog.Int("downloads_started", started),
		slog.Bool("monitoring_enabled", cfg.Monitoring.Enabled),
	)

	// Wait for shutdown signal or download completion
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-doneChan:
		if err != nil {
			logger.Warn("Downloads finished with error", slog.String("error", err.Error()))
		} else {
			logger.Info("All downloads finished")
		}
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop the downloader (cancel active downloads and wait for their
	// consume loops), then the coordinator and its transport session
	downloader.Close()
	coordinator.Close()

	// Get final statistics
	stats := coordinator.GetStats()
	logger.Info("Final session statistics",
		slog.Uint64("streams_started", stats.StreamsStarted),
		slog.Uint64("streams_finished", stats.StreamsFinished),
		slog.Uint64("streams_canceled", stats.StreamsCanceled),
		slog.Uint64("streams_failed", stats.StreamsFailed),
		slog.Uint64("bytes_delivered", stats.Session.BytesDelivered),
	)

	logger.Info("Service stopped")
}

// splitURLs splits the comma-separated -url flag value
func splitURLs(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	urls := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			urls = append(urls, part)
		}
	}
	return urls
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output io.Writer
	switch {
	case cfg.IsFileOutput():
		// File path with size-based rotation
		output = &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	case cfg.Output == "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
