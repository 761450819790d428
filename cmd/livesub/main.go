// livesub keeps GraphQL subscriptions open over one WebSocket connection and
// logs, archives or relays every frame it receives.
// Usage: go run ./cmd/livesub --config configs/livesub.yaml
//
// Send SIGUSR1 to pause reconnection (host hidden) and SIGUSR2 to resume.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/livesub/internal/archive"
	"github.com/rickgao/livesub/internal/auth"
	"github.com/rickgao/livesub/internal/config"
	"github.com/rickgao/livesub/internal/connection"
	"github.com/rickgao/livesub/internal/protocol"
	"github.com/rickgao/livesub/internal/registry"
	"github.com/rickgao/livesub/internal/relay"
	"github.com/rickgao/livesub/internal/version"
	"github.com/rickgao/livesub/internal/watch"
)

const (
	statsInterval   = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	opts, err := config.ParseOptions(os.Args[1:])
	if err != nil {
		if config.IsHelp(err) {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if opts.Version {
		fmt.Println(version.String())
		return
	}

	// Set up structured logging
	logger := newLogger(os.Stdout, opts.Debug, opts.JSON)
	slog.SetDefault(logger)

	logger.Info("starting livesub",
		"version", version.Version,
		"commit", version.Commit,
		"config", opts.ConfigPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(opts.ConfigPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"server_url", cfg.Server.URL,
		"subscriptions", len(cfg.Subscriptions),
		"archive", cfg.Archive.Enabled,
		"relay", cfg.Relay.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("livesub failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// run wires the components together and blocks until ctx is done.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tokens, err := tokenProvider(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	mgrCfg, err := managerConfig(cfg.Connection)
	if err != nil {
		return err
	}

	dial := connection.GorillaDialer(clientConfig(cfg.Connection), logger.With("component", "client"))
	mgr := connection.NewManager(mgrCfg, dial, logger.With("component", "connection"))

	// Optional sinks
	out := &sink{ctx: ctx, logger: logger.With("component", "sink")}

	if cfg.Archive.Enabled {
		pool, err := archive.Connect(ctx, cfg.Archive.Database)
		if err != nil {
			return fmt.Errorf("connect archive database: %w", err)
		}
		defer pool.Close()

		if err := archive.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		writer := archive.NewWriter(archive.DefaultWriterConfig(), pool, logger.With("component", "archive"))
		if err := writer.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := writer.Stop(stopCtx); err != nil {
				logger.Warn("final archive flush failed", "error", err)
			}
		}()
		out.archive = writer
	}

	if cfg.Relay.Enabled {
		client, err := relay.NewClient(ctx, cfg.Relay.Addr, cfg.Relay.Password, cfg.Relay.DB)
		if err != nil {
			return err
		}
		defer closeRedis(client, logger)
		out.relay = relay.New(client, cfg.Relay.ChannelPrefix, logger.With("component", "relay"))
	}

	// Subscriptions are queued until the connection is ready.
	listeners := make(map[string]string, len(cfg.Subscriptions))
	for _, sub := range cfg.Subscriptions {
		listenerID := uuid.NewString()
		init := protocol.Subscribe(protocol.Salted(sub.ID), sub.Query)
		if err := mgr.Subscribe(sub.ID, listenerID, out.handle, &init); err != nil {
			return fmt.Errorf("subscribe %s: %w", sub.ID, err)
		}
		listeners[sub.ID] = listenerID
	}

	if err := mgr.Init(ctx, cfg.Server.URL, auth.Shared(tokens)); err != nil {
		return fmt.Errorf("init connection manager: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if !cfg.Watch.Disabled {
		probe, err := watch.TCPProbe(cfg.Server.URL)
		if err != nil {
			return err
		}
		network := watch.NewNetwork(watch.NetworkConfig{
			Interval: cfg.Watch.ProbeInterval,
			Timeout:  cfg.Watch.ProbeTimeout,
		}, probe, mgr, logger.With("component", "network"))
		g.Go(func() error { return network.Run(gctx) })
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	events := make(chan bool)
	visibility := watch.NewVisibility(mgr, logger.With("component", "visibility"))
	g.Go(func() error { return forwardVisibility(gctx, sigCh, events) })
	g.Go(func() error { return visibility.Run(gctx, events) })

	g.Go(func() error {
		logStats(gctx, mgr, out, logger)
		return nil
	})

	logger.Info("livesub running - press Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		logger.Error("watcher failed", "error", err)
	}

	// Graceful shutdown
	logger.Info("shutting down...")
	for id, listenerID := range listeners {
		if err := mgr.Unsubscribe(id, listenerID); err != nil {
			logger.Debug("unsubscribe failed", "id", id, "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return mgr.Close(shutdownCtx)
}

// newLogger builds the process logger.
func newLogger(w io.Writer, debug, asJSON bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	if asJSON {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// tokenProvider picks the token source configured in a.
func tokenProvider(a config.AuthConfig) (auth.TokenProvider, error) {
	switch {
	case a.Token != "":
		return auth.Static(a.Token), nil
	case a.TokenEnv != "":
		return auth.FromEnv(a.TokenEnv), nil
	case a.KeyID != "" && a.PrivateKeyPath != "":
		creds, err := auth.LoadCredentials(a.KeyID, a.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		creds.Path = a.SignedPath
		return creds.Token, nil
	default:
		return nil, auth.ErrEmptyToken
	}
}

// managerConfig maps the connection section onto the manager config.
func managerConfig(c config.ConnectionConfig) (connection.ManagerConfig, error) {
	policy, err := registry.ParsePolicy(c.CompletePolicy)
	if err != nil {
		return connection.ManagerConfig{}, err
	}
	return connection.ManagerConfig{
		ReconnectDelay:       c.ReconnectDelay,
		ReconnectMaxDelay:    c.ReconnectMaxDelay,
		ExponentialBackoff:   c.ExponentialBackoff,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		ResetAttemptsOnReady: c.ResetAttemptsOnReady,
		PingInterval:         c.PingInterval,
		FailOnMalformedFrame: c.FailOnMalformedFrame,
		CompletePolicy:       policy,
	}, nil
}

func clientConfig(c config.ConnectionConfig) connection.ClientConfig {
	cfg := connection.DefaultClientConfig()
	if c.HandshakeTimeout > 0 {
		cfg.HandshakeTimeout = c.HandshakeTimeout
	}
	if c.WriteTimeout > 0 {
		cfg.WriteTimeout = c.WriteTimeout
	}
	return cfg
}

// forwardVisibility maps SIGUSR1 to hidden and SIGUSR2 to visible.
func forwardVisibility(ctx context.Context, sigCh <-chan os.Signal, events chan<- bool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			var visible bool
			switch sig {
			case syscall.SIGUSR1:
				visible = false
			case syscall.SIGUSR2:
				visible = true
			default:
				continue
			}
			select {
			case events <- visible:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func logStats(ctx context.Context, mgr connection.Manager, out *sink, logger *slog.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := mgr.Stats()
			attrs := []any{
				"state", stats.State,
				"attempts", stats.Attempts,
				"exhausted", stats.Exhausted,
				"queued", stats.Queue.Count,
				"queue_capacity", stats.Queue.Capacity,
				"replayable", stats.Replayable,
				"subscriptions", stats.Subscriptions,
				"frames", out.Frames(),
			}
			if out.archive != nil {
				a := out.archive.Stats()
				attrs = append(attrs, "archived", a.Inserts, "archive_errors", a.Errors)
			}
			logger.Info("stats", attrs...)
		}
	}
}

func closeRedis(client *redis.Client, logger *slog.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn("failed to close redis client", "error", err)
	}
}
