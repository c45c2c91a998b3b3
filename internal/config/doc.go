// Package config provides configuration loading and validation for the streaming
// download client. It handles YAML-based configuration with struct validation
// covering transport tuning, download lifecycle, monitoring, and logging.
package config
