package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"
)

// Errors
var (
	ErrNoHost = errors.New("server url has no host")
)

// OnlineReporter receives reachability updates.
type OnlineReporter interface {
	SetOnline(online bool)
}

// Probe reports whether the server is reachable. A nil error means online.
type Probe func(ctx context.Context) error

// NetworkConfig configures the network watcher.
type NetworkConfig struct {
	Interval time.Duration // Time between probes
	Timeout  time.Duration // Deadline for a single probe
}

// DefaultNetworkConfig returns sensible defaults.
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		Interval: 5 * time.Second,
		Timeout:  3 * time.Second,
	}
}

// TCPProbe returns a Probe that opens and closes a TCP connection to the
// host and port of serverURL. ws and wss default to ports 80 and 443.
func TCPProbe(serverURL string) (Probe, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, ErrNoHost
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "wss", "https":
			port = "443"
		default:
			port = "80"
		}
	}
	addr := net.JoinHostPort(u.Hostname(), port)

	var dialer net.Dialer
	return func(ctx context.Context) error {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}, nil
}

// Network polls a Probe and reports the result on every tick.
type Network struct {
	cfg      NetworkConfig
	probe    Probe
	reporter OnlineReporter
	logger   *slog.Logger

	mu     sync.Mutex
	known  bool
	online bool
}

// NewNetwork creates a network watcher.
func NewNetwork(cfg NetworkConfig, probe Probe, reporter OnlineReporter, logger *slog.Logger) *Network {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultNetworkConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	return &Network{
		cfg:      cfg,
		probe:    probe,
		reporter: reporter,
		logger:   logger,
	}
}

// Run probes immediately and then on every interval until ctx is done.
func (n *Network) Run(ctx context.Context) error {
	n.logger.Info("network watcher started", "interval", n.cfg.Interval)

	ticker := time.NewTicker(n.cfg.Interval)
	defer ticker.Stop()

	n.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("network watcher stopped")
			return nil
		case <-ticker.C:
			n.Check(ctx)
		}
	}
}

// Check runs one probe and reports the result. Reporting happens even when
// nothing changed so the manager retries while online.
func (n *Network) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	err := n.probe(probeCtx)
	cancel()

	if ctx.Err() != nil {
		return n.Online()
	}

	online := err == nil

	n.mu.Lock()
	changed := !n.known || n.online != online
	n.known = true
	n.online = online
	n.mu.Unlock()

	if changed {
		if online {
			n.logger.Info("server reachable")
		} else {
			n.logger.Warn("server unreachable", "error", err)
		}
	}

	n.reporter.SetOnline(online)
	return online
}

// Online returns the last probe result. It is true before the first probe.
func (n *Network) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.known || n.online
}
