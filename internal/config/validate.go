package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Server.validate(); err != nil {
		return err
	}

	if c.Rooms.Capacity < 1 {
		return errors.New("rooms.capacity must be >= 1")
	}
	if c.Rooms.TargetPresses < 1 {
		return errors.New("rooms.target_presses must be >= 1")
	}
	if c.Rooms.MaxPressBatch < 1 {
		return errors.New("rooms.max_press_batch must be >= 1")
	}
	if c.Rooms.MaxNameLength < 1 {
		return errors.New("rooms.max_name_length must be >= 1")
	}

	if c.Connections.SendBuffer < 1 {
		return errors.New("connections.send_buffer must be >= 1")
	}
	if c.Connections.MaxPendingFrames < c.Connections.SendBuffer {
		return fmt.Errorf("connections.max_pending_frames (%d) cannot be below send_buffer (%d)",
			c.Connections.MaxPendingFrames, c.Connections.SendBuffer)
	}
	if c.Connections.WriteTimeout <= 0 {
		return errors.New("connections.write_timeout must be > 0")
	}
	if c.Connections.PingInterval <= 0 {
		return errors.New("connections.ping_interval must be > 0")
	}
	if c.Connections.PongTimeout <= c.Connections.PingInterval {
		return fmt.Errorf("connections.pong_timeout (%s) must exceed ping_interval (%s)",
			c.Connections.PongTimeout, c.Connections.PingInterval)
	}
	if c.Connections.MaxMessageBytes < 256 {
		return errors.New("connections.max_message_bytes must be >= 256")
	}

	if c.Broker.Workers < 1 {
		return errors.New("broker.workers must be >= 1")
	}
	if c.Broker.QueueSize < 1 {
		return errors.New("broker.queue_size must be >= 1")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	return nil
}

func (s *ServerConfig) validate() error {
	if s.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	if len(s.AllowedOrigins) == 0 {
		return errors.New("server.allowed_origins must not be empty")
	}

	paths := []struct {
		name  string
		value string
	}{
		{"connect_path", s.ConnectPath},
		{"app_prefix", s.AppPrefix},
		{"topic_prefix", s.TopicPrefix},
		{"queue_prefix", s.QueuePrefix},
	}
	for _, p := range paths {
		if !strings.HasPrefix(p.value, "/") {
			return fmt.Errorf("server.%s must start with /, got %q", p.name, p.value)
		}
	}

	if s.AppPrefix == s.TopicPrefix || s.AppPrefix == s.QueuePrefix || s.TopicPrefix == s.QueuePrefix {
		return errors.New("server.app_prefix, topic_prefix and queue_prefix must differ")
	}

	if s.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be > 0")
	}
	return nil
}
