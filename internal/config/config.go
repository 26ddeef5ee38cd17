package config

import (
	"log/slog"
	"strings"
	"time"
)

// Config is the root configuration for a taprace server.
type Config struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Server      ServerConfig      `yaml:"server"`
	Rooms       RoomsConfig       `yaml:"rooms"`
	Connections ConnectionsConfig `yaml:"connections"`
	Broker      BrokerConfig      `yaml:"broker"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// InstanceConfig identifies this server.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the HTTP listener and destination layout.
type ServerConfig struct {
	ListenAddr        string        `yaml:"listen_addr"`
	ConnectPath       string        `yaml:"connect_path"`    // WebSocket endpoint
	AllowedOrigins    []string      `yaml:"allowed_origins"` // "*" allows any origin
	AppPrefix         string        `yaml:"app_prefix"`
	TopicPrefix       string        `yaml:"topic_prefix"`
	QueuePrefix       string        `yaml:"queue_prefix"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// RoomsConfig holds Room Store and request limits.
type RoomsConfig struct {
	Capacity      int `yaml:"capacity"`
	TargetPresses int `yaml:"target_presses"`
	MaxPressBatch int `yaml:"max_press_batch"`
	MaxNameLength int `yaml:"max_name_length"`
}

// ConnectionsConfig holds per-connection settings.
type ConnectionsConfig struct {
	SendBuffer       int           `yaml:"send_buffer"`
	MaxPendingFrames int           `yaml:"max_pending_frames"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongTimeout      time.Duration `yaml:"pong_timeout"`
	MaxMessageBytes  int64         `yaml:"max_message_bytes"`
}

// BrokerConfig holds worker pool settings.
type BrokerConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// IsEnabled reports whether metrics are served. Unset means enabled.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// SlogLevel maps the configured level onto slog.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// AllowsAnyOrigin reports whether the origin allow-list is a wildcard.
func (s ServerConfig) AllowsAnyOrigin() bool {
	for _, o := range s.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}
