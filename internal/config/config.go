package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration
type Config struct {
	Transport  TransportConfig  `yaml:"transport"`
	Downloads  DownloadsConfig  `yaml:"downloads"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// TransportConfig contains HTTP transport tuning parameters
type TransportConfig struct {
	ConnectTimeout        int    `yaml:"connect_timeout"`         // seconds
	TLSHandshakeTimeout   int    `yaml:"tls_handshake_timeout"`   // seconds
	ResponseHeaderTimeout int    `yaml:"response_header_timeout"` // seconds
	IdleConnTimeout       int    `yaml:"idle_conn_timeout"`       // seconds
	MaxIdleConns          int    `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost   int    `yaml:"max_idle_conns_per_host"`
	ReadBufferSize        int    `yaml:"read_buffer_size"`     // bytes per body read
	EventQueueSize        int    `yaml:"event_queue_size"`     // delivery channel capacity
	BandwidthLimitKBps    int    `yaml:"bandwidth_limit_kbps"` // 0 disables the cap
	UserAgent             string `yaml:"user_agent"`
}

// DownloadsConfig contains stream lifecycle and recording parameters
type DownloadsConfig struct {
	MaxConcurrentStreams int    `yaml:"max_concurrent_streams"`
	QueueSize            int    `yaml:"queue_size"`      // coordination queue capacity
	EventBuffer          int    `yaml:"event_buffer"`    // per-stream event channel capacity
	PrebufferBytes       int    `yaml:"prebuffer_bytes"` // bytes buffered before playback readiness
	ICYMetadata          bool   `yaml:"icy_metadata"`
	OutputDir            string `yaml:"output_dir"`
	SegmentTracks        bool   `yaml:"segment_tracks"` // split recordings on title change
	MinSegmentBytes      int    `yaml:"min_segment_bytes"`
}

// MonitoringConfig contains HTTP monitoring server configuration
type MonitoringConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb"` // rotation settings, used for file output
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	if err := c.Downloads.Validate(); err != nil {
		return fmt.Errorf("downloads config: %w", err)
	}

	if err := c.Monitoring.Validate(); err != nil {
		return fmt.Errorf("monitoring config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates transport configuration
func (t *TransportConfig) Validate() error {
	if t.ConnectTimeout < 1 {
		return fmt.Errorf("connect_timeout must be at least 1 second, got %d", t.ConnectTimeout)
	}

	if t.TLSHandshakeTimeout < 1 {
		return fmt.Errorf("tls_handshake_timeout must be at least 1 second, got %d", t.TLSHandshakeTimeout)
	}

	if t.ResponseHeaderTimeout < 1 {
		return fmt.Errorf("response_header_timeout must be at least 1 second, got %d", t.ResponseHeaderTimeout)
	}

	if t.IdleConnTimeout < 1 {
		return fmt.Errorf("idle_conn_timeout must be at least 1 second, got %d", t.IdleConnTimeout)
	}

	if t.MaxIdleConns < 1 {
		return fmt.Errorf("max_idle_conns must be at least 1, got %d", t.MaxIdleConns)
	}

	if t.MaxIdleConnsPerHost < 1 {
		return fmt.Errorf("max_idle_conns_per_host must be at least 1, got %d", t.MaxIdleConnsPerHost)
	}

	if t.ReadBufferSize < 1024 {
		return fmt.Errorf("read_buffer_size must be at least 1024 bytes, got %d", t.ReadBufferSize)
	}

	if t.EventQueueSize < 1 {
		return fmt.Errorf("event_queue_size must be at least 1, got %d", t.EventQueueSize)
	}

	if t.BandwidthLimitKBps < 0 {
		return fmt.Errorf("bandwidth_limit_kbps cannot be negative, got %d", t.BandwidthLimitKBps)
	}

	return nil
}

// Validate validates downloads configuration
func (d *DownloadsConfig) Validate() error {
	if d.MaxConcurrentStreams < 1 {
		return fmt.Errorf("max_concurrent_streams must be at least 1, got %d", d.MaxConcurrentStreams)
	}

	if d.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", d.QueueSize)
	}

	if d.EventBuffer < 1 {
		return fmt.Errorf("event_buffer must be at least 1, got %d", d.EventBuffer)
	}

	if d.PrebufferBytes < 0 {
		return fmt.Errorf("prebuffer_bytes cannot be negative, got %d", d.PrebufferBytes)
	}

	if d.MinSegmentBytes < 0 {
		return fmt.Errorf("min_segment_bytes cannot be negative, got %d", d.MinSegmentBytes)
	}

	if d.SegmentTracks && d.OutputDir == "" {
		return fmt.Errorf("output_dir cannot be empty when segment_tracks is enabled")
	}

	return nil
}

// Validate validates monitoring configuration
func (m *MonitoringConfig) Validate() error {
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("monitoring port must be between 1 and 65535, got %d", m.Port)
		}

		if m.Address == "" {
			return fmt.Errorf("monitoring address cannot be empty when monitoring is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	if l.MaxSizeMB < 0 {
		return fmt.Errorf("max_size_mb cannot be negative, got %d", l.MaxSizeMB)
	}

	if l.MaxBackups < 0 {
		return fmt.Errorf("max_backups cannot be negative, got %d", l.MaxBackups)
	}

	if l.MaxAgeDays < 0 {
		return fmt.Errorf("max_age_days cannot be negative, got %d", l.MaxAgeDays)
	}

	return nil
}

// IsFileOutput reports whether log output goes to a rotated file rather
// than stdout or stderr
func (l *LoggingConfig) IsFileOutput() bool {
	return l.Output != "" && l.Output != "stdout" && l.Output != "stderr"
}

// GetConnectTimeout returns the dial timeout as a time.Duration
func (t *TransportConfig) GetConnectTimeout() time.Duration {
	return time.Duration(t.ConnectTimeout) * time.Second
}

// GetTLSHandshakeTimeout returns the TLS handshake timeout as a time.Duration
func (t *TransportConfig) GetTLSHandshakeTimeout() time.Duration {
	return time.Duration(t.TLSHandshakeTimeout) * time.Second
}

// GetResponseHeaderTimeout returns the response header timeout as a time.Duration
func (t *TransportConfig) GetResponseHeaderTimeout() time.Duration {
	return time.Duration(t.ResponseHeaderTimeout) * time.Second
}

// GetIdleConnTimeout returns the idle connection timeout as a time.Duration
func (t *TransportConfig) GetIdleConnTimeout() time.Duration {
	return time.Duration(t.IdleConnTimeout) * time.Second
}
