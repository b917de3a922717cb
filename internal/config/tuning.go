// Package config loads optional JSON tuning files for the vislam daemon.
// Fields omitted from the file retain their defaults, so partial configs are
// safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig represents optional pipeline tuning parameters. Pointer fields
// distinguish "not set" from zero values.
type TuningConfig struct {
	// Frame queue depth before drop-oldest kicks in.
	QueueDepth *int `json:"queue_depth,omitempty"`
	// JoinTimeout bounds the worker join at Stop, duration string like "5s".
	JoinTimeout *string `json:"join_timeout,omitempty"`
	// StatsLogInterval enables periodic stats logging, duration string like "10s".
	StatsLogInterval *string `json:"stats_log_interval,omitempty"`
	// ImuBaudRate overrides the serial IMU baud rate.
	ImuBaudRate *int `json:"imu_baud_rate,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must have
// a .json extension and stay under the max file size.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// JoinTimeoutDuration parses the join timeout, returning fallback when unset
// or invalid.
func (c *TuningConfig) JoinTimeoutDuration(fallback time.Duration) time.Duration {
	return c.duration(c.JoinTimeout, fallback)
}

// StatsLogIntervalDuration parses the stats log interval, returning fallback
// when unset or invalid.
func (c *TuningConfig) StatsLogIntervalDuration(fallback time.Duration) time.Duration {
	return c.duration(c.StatsLogInterval, fallback)
}

func (c *TuningConfig) duration(s *string, fallback time.Duration) time.Duration {
	if s == nil {
		return fallback
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return fallback
	}
	return d
}
