package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validTestConfig() Config {
	return Config{
		Transport: TransportConfig{
			ConnectTimeout:        10,
			TLSHandshakeTimeout:   10,
			ResponseHeaderTimeout: 15,
			IdleConnTimeout:       90,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			ReadBufferSize:        32768,
			EventQueueSize:        1024,
			BandwidthLimitKBps:    0,
			UserAgent:             "AudioStreaming/1.0",
		},
		Downloads: DownloadsConfig{
			MaxConcurrentStreams: 16,
			QueueSize:            256,
			EventBuffer:          64,
			PrebufferBytes:       65536,
			ICYMetadata:          true,
			OutputDir:            "./recordings",
			SegmentTracks:        false,
			MinSegmentBytes:      131072,
		},
		Monitoring: MonitoringConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name: "zero connect timeout",
			mutate: func(c *Config) {
				c.Transport.ConnectTimeout = 0
			},
			expectError: true,
			errorMsg:    "connect_timeout must be at least 1 second",
		},
		{
			name: "read buffer too small",
			mutate: func(c *Config) {
				c.Transport.ReadBufferSize = 512
			},
			expectError: true,
			errorMsg:    "read_buffer_size must be at least 1024 bytes",
		},
		{
			name: "negative bandwidth cap",
			mutate: func(c *Config) {
				c.Transport.BandwidthLimitKBps = -1
			},
			expectError: true,
			errorMsg:    "bandwidth_limit_kbps cannot be negative",
		},
		{
			name: "zero concurrent streams",
			mutate: func(c *Config) {
				c.Downloads.MaxConcurrentStreams = 0
			},
			expectError: true,
			errorMsg:    "max_concurrent_streams must be at least 1",
		},
		{
			name: "segmenting without output dir",
			mutate: func(c *Config) {
				c.Downloads.SegmentTracks = true
				c.Downloads.OutputDir = ""
			},
			expectError: true,
			errorMsg:    "output_dir cannot be empty",
		},
		{
			name: "monitoring port out of range",
			mutate: func(c *Config) {
				c.Monitoring.Port = 70000
			},
			expectError: true,
			errorMsg:    "monitoring port must be between 1 and 65535",
		},
		{
			name: "monitoring disabled skips port check",
			mutate: func(c *Config) {
				c.Monitoring.Enabled = false
				c.Monitoring.Port = 0
				c.Monitoring.Address = ""
			},
			expectError: false,
		},
		{
			name: "invalid log level",
			mutate: func(c *Config) {
				c.Logging.Level = "trace"
			},
			expectError: true,
			errorMsg:    "level must be one of [debug, info, warn, error]",
		},
		{
			name: "invalid log format",
			mutate: func(c *Config) {
				c.Logging.Format = "xml"
			},
			expectError: true,
			errorMsg:    "format must be 'json' or 'text'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validTestConfig()
			tt.mutate(&config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
transport:
  connect_timeout: 10
  tls_handshake_timeout: 10
  response_header_timeout: 15
  idle_conn_timeout: 90
  max_idle_conns: 100
  max_idle_conns_per_host: 10
  read_buffer_size: 32768
  event_queue_size: 1024
  bandwidth_limit_kbps: 0
  user_agent: "AudioStreaming/1.0"
downloads:
  max_concurrent_streams: 16
  queue_size: 256
  event_buffer: 64
  prebuffer_bytes: 65536
  icy_metadata: true
  output_dir: "./recordings"
  segment_tracks: false
  min_segment_bytes: 131072
monitoring:
  enabled: true
  port: 8080
  address: "0.0.0.0"
logging:
  level: "info"
  format: "json"
  output: "stdout"
  max_size_mb: 100
  max_backups: 3
  max_age_days: 7
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
transport:
  connect_timeout: 10
  read_buffer_size: not_a_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing required fields",
			configYAML: `
transport:
  connect_timeout: 10
`,
			expectError: true,
			errorMsg:    "tls_handshake_timeout must be at least 1 second",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			err := os.WriteFile(configPath, []byte(tt.configYAML), 0644)
			if err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if config == nil {
					t.Errorf("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Errorf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	transport := TransportConfig{
		ConnectTimeout:        10,
		TLSHandshakeTimeout:   5,
		ResponseHeaderTimeout: 15,
		IdleConnTimeout:       90,
	}

	if transport.GetConnectTimeout() != 10*time.Second {
		t.Errorf("Expected 10 seconds, got %v", transport.GetConnectTimeout())
	}

	if transport.GetTLSHandshakeTimeout() != 5*time.Second {
		t.Errorf("Expected 5 seconds, got %v", transport.GetTLSHandshakeTimeout())
	}

	if transport.GetResponseHeaderTimeout() != 15*time.Second {
		t.Errorf("Expected 15 seconds, got %v", transport.GetResponseHeaderTimeout())
	}

	if transport.GetIdleConnTimeout() != 90*time.Second {
		t.Errorf("Expected 90 seconds, got %v", transport.GetIdleConnTimeout())
	}
}

func TestIsFileOutput(t *testing.T) {
	tests := []struct {
		output string
		want   bool
	}{
		{"stdout", false},
		{"stderr", false},
		{"", false},
		{"/var/log/fetcher.log", true},
		{"fetcher.log", true},
	}

	for _, tt := range tests {
		l := LoggingConfig{Output: tt.output}
		if got := l.IsFileOutput(); got != tt.want {
			t.Errorf("IsFileOutput(%q) = %v, want %v", tt.output, got, tt.want)
		}
	}
}
