package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/taprace/internal/broker"
	"github.com/rickgao/taprace/internal/config"
	"github.com/rickgao/taprace/internal/connection"
	"github.com/rickgao/taprace/internal/metrics"
	"github.com/rickgao/taprace/internal/room"
	"github.com/rickgao/taprace/internal/transport"
	"github.com/rickgao/taprace/internal/version"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (defaults apply when empty)")
	listen := pflag.String("listen", "", "override server.listen_addr")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := run(*configPath, *listen); err != nil {
		slog.Error("taprace exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath, listen string) error {
	if err := config.LoadEnv(".env"); err != nil {
		return err
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadAndValidate(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if listen != "" {
		cfg.Server.ListenAddr = listen
	}

	// Set up structured logging
	logger := newLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting taprace",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"config", configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		connObserver   connection.Observer
		brokerObserver broker.Observer
		serverOpts     = []transport.Option{transport.WithLogger(logger)}
		m              *metrics.Metrics
	)
	if cfg.Metrics.IsEnabled() {
		m = metrics.New()
		connObserver, brokerObserver = m, m
		serverOpts = append(serverOpts, transport.WithMetrics(cfg.Metrics.Path, m.Handler()))
	}

	store := room.NewStore(roomConfig(cfg), logger)
	registry := connection.NewRegistry(registryConfig(cfg), logger, connObserver)
	b := broker.New(brokerConfig(cfg), store, registry, brokerObserver, logger)

	if m != nil {
		m.WatchRooms(func() (int, int) {
			stats := store.Stats()
			return stats.Rooms, stats.Players
		})
	}

	// Workers run until Stop so queued leaves still publish during shutdown.
	if err := b.Start(context.Background()); err != nil {
		return fmt.Errorf("start broker: %w", err)
	}

	srv := transport.New(transportConfig(cfg), store, registry, b, serverOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})

	logger.Info("taprace running",
		"listen_addr", cfg.Server.ListenAddr,
		"connect_path", cfg.Server.ConnectPath,
		"metrics", cfg.Metrics.IsEnabled(),
	)

	runErr := g.Wait()
	if runErr == nil {
		logger.Info("received shutdown signal")
	}

	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := b.Stop(shutdownCtx); err != nil {
		logger.Error("broker stop failed", "error", err)
	}
	if err := srv.Wait(shutdownCtx); err != nil {
		logger.Warn("sessions did not close in time", "error", err)
	}

	stats := b.Stats()
	logger.Info("taprace stopped",
		"requests", stats.Requests,
		"failures", stats.Failures,
	)
	return runErr
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func roomConfig(cfg *config.Config) room.Config {
	return room.Config{
		Capacity:      cfg.Rooms.Capacity,
		TargetPresses: cfg.Rooms.TargetPresses,
	}
}

func registryConfig(cfg *config.Config) connection.RegistryConfig {
	return connection.RegistryConfig{
		SendBuffer:       cfg.Connections.SendBuffer,
		MaxPendingFrames: cfg.Connections.MaxPendingFrames,
	}
}

func brokerConfig(cfg *config.Config) broker.Config {
	return broker.Config{
		Workers:   cfg.Broker.Workers,
		QueueSize: cfg.Broker.QueueSize,
		Destinations: broker.Destinations{
			AppPrefix:   cfg.Server.AppPrefix,
			TopicPrefix: cfg.Server.TopicPrefix,
			QueuePrefix: cfg.Server.QueuePrefix,
		},
		Limits: broker.Limits{
			MaxNameLength: cfg.Rooms.MaxNameLength,
			MaxPressBatch: cfg.Rooms.MaxPressBatch,
		},
	}
}

func transportConfig(cfg *config.Config) transport.Config {
	session := connection.DefaultSessionConfig()
	session.WriteTimeout = cfg.Connections.WriteTimeout
	session.PingInterval = cfg.Connections.PingInterval
	session.PongTimeout = cfg.Connections.PongTimeout
	session.MaxMessageBytes = cfg.Connections.MaxMessageBytes
	session.Server = version.Server()

	return transport.Config{
		ListenAddr:        cfg.Server.ListenAddr,
		ConnectPath:       cfg.Server.ConnectPath,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Session:           session,
	}
}
