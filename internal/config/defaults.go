package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID        = "taprace"
	DefaultListenAddr        = ":8080"
	DefaultConnectPath       = "/ws"
	DefaultAllowedOrigin     = "http://localhost:3000"
	DefaultAppPrefix         = "/app"
	DefaultTopicPrefix       = "/topic"
	DefaultQueuePrefix       = "/queue"
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultRoomCapacity      = 8
	DefaultTargetPresses     = 100
	DefaultMaxPressBatch     = 20
	DefaultMaxNameLength     = 32
	DefaultSendBuffer        = 64
	DefaultMaxPendingFrames  = 1024
	DefaultWriteTimeout      = 5 * time.Second
	DefaultPingInterval      = 25 * time.Second
	DefaultPongTimeout       = 60 * time.Second
	DefaultMaxMessageBytes   = 64 * 1024
	DefaultBrokerWorkers     = 8
	DefaultBrokerQueueSize   = 1024
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultMetricsPath       = "/metrics"
)

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.Instance.ID = DefaultInstanceID
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.ConnectPath == "" {
		c.Server.ConnectPath = DefaultConnectPath
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{DefaultAllowedOrigin}
	}
	if c.Server.AppPrefix == "" {
		c.Server.AppPrefix = DefaultAppPrefix
	}
	if c.Server.TopicPrefix == "" {
		c.Server.TopicPrefix = DefaultTopicPrefix
	}
	if c.Server.QueuePrefix == "" {
		c.Server.QueuePrefix = DefaultQueuePrefix
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Rooms defaults
	if c.Rooms.Capacity == 0 {
		c.Rooms.Capacity = DefaultRoomCapacity
	}
	if c.Rooms.TargetPresses == 0 {
		c.Rooms.TargetPresses = DefaultTargetPresses
	}
	if c.Rooms.MaxPressBatch == 0 {
		c.Rooms.MaxPressBatch = DefaultMaxPressBatch
	}
	if c.Rooms.MaxNameLength == 0 {
		c.Rooms.MaxNameLength = DefaultMaxNameLength
	}

	// Connections defaults
	if c.Connections.SendBuffer == 0 {
		c.Connections.SendBuffer = DefaultSendBuffer
	}
	if c.Connections.MaxPendingFrames == 0 {
		c.Connections.MaxPendingFrames = DefaultMaxPendingFrames
	}
	if c.Connections.WriteTimeout == 0 {
		c.Connections.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connections.PingInterval == 0 {
		c.Connections.PingInterval = DefaultPingInterval
	}
	if c.Connections.PongTimeout == 0 {
		c.Connections.PongTimeout = DefaultPongTimeout
	}
	if c.Connections.MaxMessageBytes == 0 {
		c.Connections.MaxMessageBytes = DefaultMaxMessageBytes
	}

	// Broker defaults
	if c.Broker.Workers == 0 {
		c.Broker.Workers = DefaultBrokerWorkers
	}
	if c.Broker.QueueSize == 0 {
		c.Broker.QueueSize = DefaultBrokerQueueSize
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
