// Package config loads the service configuration file. Fields omitted from
// the JSON retain their defaults via the Get* accessors, so partial configs
// are safe and the same JSON shape can be echoed back by the API.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CameraConfig describes one camera stream to monitor.
type CameraConfig struct {
	Name string `json:"name"`
	// URI is a capture URI: an RTSP/HTTP/MJPEG URL, or a bare device index
	// for USB cameras.
	URI string `json:"uri"`
	// Type is one of "usb", "rtsp", "http", "mjpeg".
	Type string `json:"type"`
}

// Config is the root service configuration.
type Config struct {
	// Detection tuning
	FallDurationSeconds *int     `json:"fall_duration_seconds,omitempty"`
	MatchIoUThreshold   *float64 `json:"match_iou_threshold,omitempty"`
	GroundAspectRatio   *float64 `json:"ground_aspect_ratio,omitempty"`
	FallDetection       *bool    `json:"fall_detection,omitempty"`

	// Service
	Listen      *string `json:"listen,omitempty"`
	DBPath      *string `json:"db_path,omitempty"`
	DetectorURL *string `json:"detector_url,omitempty"`

	// Notification delivery
	NotifyMaxRetries *int    `json:"notify_max_retries,omitempty"`
	NotifyRetryDelay *string `json:"notify_retry_delay,omitempty"` // duration string like "5s"

	Cameras []CameraConfig `json:"cameras,omitempty"`
}

// Load reads a Config from a JSON file. The path must have a .json extension
// and the file must be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if c.FallDurationSeconds != nil && *c.FallDurationSeconds < 1 {
		return fmt.Errorf("fall_duration_seconds must be >= 1, got %d", *c.FallDurationSeconds)
	}
	if c.MatchIoUThreshold != nil {
		if *c.MatchIoUThreshold <= 0 || *c.MatchIoUThreshold >= 1 {
			return fmt.Errorf("match_iou_threshold must be in (0, 1), got %f", *c.MatchIoUThreshold)
		}
	}
	if c.GroundAspectRatio != nil && *c.GroundAspectRatio <= 0 {
		return fmt.Errorf("ground_aspect_ratio must be positive, got %f", *c.GroundAspectRatio)
	}
	if c.NotifyRetryDelay != nil && *c.NotifyRetryDelay != "" {
		if _, err := time.ParseDuration(*c.NotifyRetryDelay); err != nil {
			return fmt.Errorf("invalid notify_retry_delay '%s': %w", *c.NotifyRetryDelay, err)
		}
	}
	for i, cam := range c.Cameras {
		if cam.URI == "" {
			return fmt.Errorf("camera %d: uri is required", i)
		}
		switch cam.Type {
		case "", "usb", "rtsp", "http", "mjpeg":
		default:
			return fmt.Errorf("camera %d: unknown type %q", i, cam.Type)
		}
	}
	return nil
}

// GetFallDuration returns the fall alert threshold as a duration.
func (c *Config) GetFallDuration() time.Duration {
	if c.FallDurationSeconds == nil {
		return 10 * time.Second // default
	}
	return time.Duration(*c.FallDurationSeconds) * time.Second
}

// GetMatchIoUThreshold returns the tracker match threshold or the default.
func (c *Config) GetMatchIoUThreshold() float64 {
	if c.MatchIoUThreshold == nil {
		return 0.3 // default
	}
	return *c.MatchIoUThreshold
}

// GetGroundAspectRatio returns the ground-posture ratio or the default.
func (c *Config) GetGroundAspectRatio() float64 {
	if c.GroundAspectRatio == nil {
		return 1.5 // default
	}
	return *c.GroundAspectRatio
}

// GetFallDetection reports whether fall analysis starts enabled.
func (c *Config) GetFallDetection() bool {
	if c.FallDetection == nil {
		return true // default: on
	}
	return *c.FallDetection
}

// GetListen returns the API listen address or the default.
func (c *Config) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8080"
	}
	return *c.Listen
}

// GetDBPath returns the SQLite database path or the default.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "carewatch.db"
	}
	return *c.DBPath
}

// GetDetectorURL returns the inference service endpoint or the default.
func (c *Config) GetDetectorURL() string {
	if c.DetectorURL == nil || *c.DetectorURL == "" {
		return "http://127.0.0.1:9001/detect"
	}
	return *c.DetectorURL
}

// GetNotifyMaxRetries returns the delivery retry budget or the default.
func (c *Config) GetNotifyMaxRetries() int {
	if c.NotifyMaxRetries == nil {
		return 3
	}
	return *c.NotifyMaxRetries
}

// GetNotifyRetryDelay returns the delay between delivery retries.
func (c *Config) GetNotifyRetryDelay() time.Duration {
	if c.NotifyRetryDelay == nil || *c.NotifyRetryDelay == "" {
		return 5 * time.Second // default
	}
	d, err := time.ParseDuration(*c.NotifyRetryDelay)
	if err != nil {
		return 5 * time.Second // default on parse error
	}
	return d
}
